package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/internal/trim"
	"github.com/canectors/viewexport/pkg/export"
)

// RowJobAttempts is the attempt limit of row-driven jobs.
const RowJobAttempts = 3

// JobState is a step of the per-job state machine.
type JobState string

const (
	JobPending    JobState = "pending"
	JobAttempting JobState = "attempting"
	JobRetrying   JobState = "retrying"
	JobSucceeded  JobState = "success"
	JobFailed     JobState = "failed"
	JobSkipped    JobState = "skipped"
)

// TrimFunc post-processes a written artifact.
type TrimFunc func(path string, format export.Format) (trim.Result, error)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Retry bounds attempts and the linear backoff base.
	Retry errhandling.RetryConfig
	// Sleep waits between attempts. Nil uses errhandling.ContextSleep.
	Sleep errhandling.Sleeper
	// Trim enables best-effort trimming after a successful write.
	Trim bool
	// TrimFunc replaces trim.File.
	TrimFunc TrimFunc
	// Sink receives per-job messages.
	Sink ProgressSink
	// Log is the run-scoped logger.
	Log *slog.Logger
}

// Executor renders jobs against one reporting session and writes their
// artifacts.
type Executor struct {
	client  reporting.Client
	session *reporting.Session
	opts    ExecutorOptions
}

// NewExecutor returns an executor bound to session.
func NewExecutor(client reporting.Client, session *reporting.Session, opts ExecutorOptions) *Executor {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = errhandling.ContextSleep
	}
	if opts.TrimFunc == nil {
		opts.TrimFunc = trim.File
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Log == nil {
		opts.Log = logger.Logger
	}
	return &Executor{client: client, session: session, opts: opts}
}

// Execute runs job to a terminal result. Permission errors end the job
// after one attempt; any other error is retried up to the attempt limit.
// A cancellation observed before the first attempt or during a wait gives
// a Skipped result. Execute never returns an error: failures are recorded
// in the result.
func (e *Executor) Execute(ctx context.Context, job export.ExportJob) export.ExportResult {
	log := e.opts.Log.With(
		slog.Int("row_index", job.RowIndex),
		slog.String("view", job.View.Name),
	)
	start := time.Now()
	result := export.ExportResult{Job: job}
	log.Debug("job state", slog.String("state", string(JobPending)), slog.String("path", job.Path()))

	if ctx.Err() != nil {
		return e.finish(log, result, JobSkipped, ctx.Err(), start)
	}

	path := job.Path()
	retry := errhandling.NewRetryExecutor(e.opts.Retry, e.opts.Sleep)
	err := retry.ExecuteWithCallback(ctx,
		func(ctx context.Context, attempt int) error {
			log.Debug("job state", slog.String("state", string(JobAttempting)), slog.Int("attempt", attempt))
			return retryable(e.attempt(ctx, job, path))
		},
		func(attempt int, err error, next time.Duration) {
			if err == nil {
				return
			}
			e.opts.Sink.OnLog(fmt.Sprintf("Error exporting '%s' (attempt %d/%d): %v",
				job.View.Name, attempt, e.opts.Retry.MaxAttempts, err))
			if next > 0 {
				log.Warn("export attempt failed; retrying",
					slog.String("state", string(JobRetrying)),
					slog.Int("attempt", attempt),
					slog.Duration("wait", next),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	info := retry.GetRetryInfo()
	result.Attempts = info.TotalAttempts

	switch {
	case err == nil:
		result.ArtifactPath = path
		result = e.finish(log, result, JobSucceeded, nil, start)
		e.opts.Sink.OnLog("Exported: " + job.FileName)
		if e.opts.Trim {
			e.trim(log, path, job.Format)
		}
		return result
	case errhandling.IsCanceled(err) || errors.Is(context.Cause(ctx), ErrCancelled):
		return e.finish(log, result, JobSkipped, err, start)
	default:
		if errhandling.IsPermissionDenied(err) {
			e.opts.Sink.OnLog(fmt.Sprintf("Permission denied for '%s'; not retried", job.View.Name))
		} else {
			e.opts.Sink.OnLog(fmt.Sprintf("Max retries reached for '%s'; skipping this view", job.View.Name))
		}
		return e.finish(log, result, JobFailed, err, start)
	}
}

func (e *Executor) attempt(ctx context.Context, job export.ExportJob, path string) error {
	data, err := e.client.Render(ctx, e.session, job.View, job.Format, job.Parameters)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errhandling.NewServerError(0, "empty render response", nil)
	}
	return writeArtifact(path, data)
}

func (e *Executor) trim(log *slog.Logger, path string, format export.Format) {
	res, err := e.opts.TrimFunc(path, format)
	if err != nil {
		log.Warn("trim failed; artifact kept as exported",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		e.opts.Sink.OnLog("Trim failed for " + filepath.Base(path))
		return
	}
	if res.Trimmed {
		log.Debug("artifact trimmed", slog.String("path", path),
			slog.Float64("height_before", res.Before),
			slog.Float64("height_after", res.After),
		)
		return
	}
	log.Debug("trim skipped", slog.String("path", path), slog.String("reason", res.Reason))
}

func (e *Executor) finish(log *slog.Logger, result export.ExportResult, state JobState, err error, start time.Time) export.ExportResult {
	result.Duration = time.Since(start)
	switch state {
	case JobSucceeded:
		result.Status = export.StatusSuccess
		log.Info("view exported",
			slog.String("path", result.ArtifactPath),
			slog.Int("attempts", result.Attempts),
			slog.Duration("duration", result.Duration),
		)
		return result
	case JobSkipped:
		result.Status = export.StatusSkipped
		log.Info("job skipped after cancellation", slog.Int("attempts", result.Attempts))
	default:
		result.Status = export.StatusFailed
		logger.LogError("view export failed", logger.ErrorContext{
			View:       result.Job.View.Name,
			RowIndex:   result.Job.RowIndex,
			Attempt:    result.Attempts,
			HTTPStatus: errhandling.ClassifyError(err).StatusCode,
			Duration:   result.Duration,
			Err:        err,
			ErrorCode:  string(errhandling.GetErrorCategory(err)),
		})
	}
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}
	return result
}

// retryable marks every failure as transient except permission and
// cancellation errors, which stop the job at once.
func retryable(err error) error {
	if err == nil || errhandling.IsPermissionDenied(err) || errhandling.IsCanceled(err) || errhandling.IsRetryable(err) {
		return err
	}
	classified := *errhandling.ClassifyError(err)
	classified.Retryable = true
	return &classified
}

// writeArtifact writes data next to path and renames it into place, so a
// partial file never carries the final name.
func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("moving artifact into place: %w", err)
	}
	return nil
}
