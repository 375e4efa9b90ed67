// Package runtime runs export batches: it authenticates against the
// reporting service, turns rows (or the workbook's view list) into export
// jobs, executes them one at a time and merges the results.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/merge"
	"github.com/canectors/viewexport/internal/modules/filter"
	"github.com/canectors/viewexport/internal/modules/input"
	"github.com/canectors/viewexport/internal/pathutil"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/pkg/export"
)

// Common errors
var (
	// ErrNilClient is returned when no reporting client is configured.
	ErrNilClient = errors.New("reporting client is nil")
	// ErrNoSource is returned when a row-driven run has no tabular source.
	ErrNoSource = errors.New("row-driven run without a data source")
	// ErrNoViews is returned when every view of the workbook is excluded.
	ErrNoViews = errors.New("workbook has no exportable views")
)

// Progress milestones.
const (
	progressStart      = 0
	progressConnecting = 5
	progressConnected  = 10
	progressFinding    = 12
	progressFound      = 15
	progressViews      = 20
	progressLoading    = 25
	progressLoaded     = 30
	progressFiltered   = 35
	progressRowSpan    = 60
	progressListReady  = 40
	progressListSpan   = 55
	progressMerging    = 95
	progressDone       = 100
)

// Recorder stores the report of a finished run.
type Recorder interface {
	Record(report *export.RunReport) error
}

// SummarySink is implemented by sinks that follow the running job counts.
type SummarySink interface {
	OnSummary(summary export.Summary)
}

// Options holds the collaborators of a Runner.
type Options struct {
	Client reporting.Client
	// Source provides rows in row-driven mode. The runner closes it.
	Source input.Source
	Sink   ProgressSink
	// Sleep replaces the wait between attempts.
	Sleep    errhandling.Sleeper
	TrimFunc TrimFunc
	History  Recorder
	// RunID defaults to a random UUID.
	RunID string
	Now   func() time.Time
}

// Runner executes one export configuration.
type Runner struct {
	cfg  export.Config
	opts Options
}

// NewRunner returns a runner for cfg. The configuration is not modified.
func NewRunner(cfg export.Config, opts Options) *Runner {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Runner{cfg: cfg, opts: opts}
}

// RunID returns the identifier of the run.
func (r *Runner) RunID() string { return r.opts.RunID }

// runContext is the mutable state of one run. Only the worker touches it.
type runContext struct {
	token    *CancelToken
	log      *slog.Logger
	logCtx   logger.RunContext
	report   *export.RunReport
	groups   *merge.Groups
	staging  string
	percent  int
	executor *Executor
}

func (rc *runContext) cancelled(ctx context.Context) bool {
	return rc.token.IsSet() || ctx.Err() != nil
}

// setupError aborts the run before any job starts.
type setupError struct {
	reason string
	err    error
}

func (e *setupError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

func abort(reason string, err error) error {
	return &setupError{reason: reason, err: err}
}

// Run executes the batch on the calling goroutine and returns its report.
// token may be nil. The reporting session is released before Run returns,
// whatever the outcome.
func (r *Runner) Run(ctx context.Context, token *CancelToken) *export.RunReport {
	if token == nil {
		token = NewCancelToken()
	}
	ctx, stop := token.Context(ctx)
	defer stop()

	report := &export.RunReport{
		RunID:      r.opts.RunID,
		ConfigName: r.cfg.Name,
		Mode:       r.cfg.Mode,
		StartedAt:  r.opts.Now(),
	}
	logCtx := logger.RunContext{
		RunID:      r.opts.RunID,
		ConfigName: r.cfg.Name,
		Mode:       string(r.cfg.Mode),
		RowIndex:   -1,
	}
	rc := &runContext{
		token:  token,
		log:    logger.WithRun(logCtx),
		logCtx: logCtx,
		report: report,
		groups: merge.NewGroups(),
	}
	if r.cfg.MergeEnabled() {
		rc.staging = merge.StagingRoot(r.cfg.OutputDir, r.opts.RunID)
	}

	logger.LogRunStart(logCtx)
	r.progress(rc, progressStart)
	r.say("Starting export '%s' (%s, %s)", r.cfg.Name, r.cfg.Mode, r.cfg.Format)

	err := r.execute(ctx, rc)
	r.finalize(ctx, rc, err)

	report.CompletedAt = r.opts.Now()
	logger.LogRunEnd(logCtx, string(report.State),
		report.Summary.Success, report.Summary.Failed, report.Summary.Skipped, report.Duration())
	r.say("%s: %s (%s)", report.State, report.Reason, export.FormatDuration(report.Duration()))
	r.say("Summary - %s", report.Summary)
	r.progress(rc, progressDone)

	if r.opts.History != nil {
		if err := r.opts.History.Record(report); err != nil {
			rc.log.Warn("failed to store run history", slog.String("error", err.Error()))
		}
	}
	return report
}

func (r *Runner) execute(ctx context.Context, rc *runContext) error {
	if r.opts.Client == nil {
		return abort("no reporting client", ErrNilClient)
	}
	if r.opts.Source != nil {
		defer func() {
			if err := r.opts.Source.Close(); err != nil {
				rc.log.Warn("failed to close data source", slog.String("error", err.Error()))
			}
		}()
	}

	r.progress(rc, progressConnecting)
	r.say("Connecting to %s...", r.cfg.Server.URL)
	session, err := r.opts.Client.Authenticate(ctx, reporting.CredentialsFromConfig(r.cfg.Server))
	if err != nil {
		return abort("cannot sign in to the reporting server (check URL, site and token)", err)
	}
	defer func() {
		if err := r.opts.Client.Release(context.WithoutCancel(ctx), session); err != nil {
			rc.log.Warn("sign out failed", slog.String("error", err.Error()))
			return
		}
		rc.log.Debug("signed out")
	}()
	r.progress(rc, progressConnected)
	r.say("Connected")

	r.progress(rc, progressFinding)
	r.say("Finding workbook '%s'...", r.cfg.Workbook)
	workbook, err := r.opts.Client.FindItem(ctx, session, r.cfg.Workbook)
	if err != nil {
		return abort(fmt.Sprintf("workbook %q not found (check the name and site)", r.cfg.Workbook), err)
	}
	r.progress(rc, progressFound)

	views, err := r.opts.Client.ListChildren(ctx, session, workbook)
	if err != nil {
		return abort(fmt.Sprintf("cannot list the views of %q", r.cfg.Workbook), err)
	}
	if len(filter.SurvivingViews(views, filter.NewViewSet(r.cfg.ExcludedViews...))) == 0 {
		return abort(fmt.Sprintf("no view of %q is left to export", r.cfg.Workbook), ErrNoViews)
	}
	r.progress(rc, progressViews)
	r.say("Found %d views", len(views))

	if r.cfg.Mode == export.ModeFixedList {
		rc.executor = r.newExecutor(rc, session, r.fixedListRetry())
		r.runFixedList(ctx, rc, views)
	} else {
		rc.executor = r.newExecutor(rc, session, errhandling.RetryConfig{
			MaxAttempts: RowJobAttempts,
			DelayMs:     r.retryDelay(),
		})
		if err := r.runRows(ctx, rc, views); err != nil {
			return err
		}
	}

	r.mergeGroups(ctx, rc)
	return nil
}

func (r *Runner) newExecutor(rc *runContext, session *reporting.Session, retry errhandling.RetryConfig) *Executor {
	return NewExecutor(r.opts.Client, session, ExecutorOptions{
		Retry:    retry,
		Sleep:    r.opts.Sleep,
		Trim:     r.cfg.Trim,
		TrimFunc: r.opts.TrimFunc,
		Sink:     r.opts.Sink,
		Log:      rc.log,
	})
}

func (r *Runner) retryDelay() int {
	if r.cfg.Retry.DelayMs > 0 {
		return r.cfg.Retry.DelayMs
	}
	return errhandling.DefaultDelayMs
}

func (r *Runner) fixedListRetry() errhandling.RetryConfig {
	attempts := r.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = errhandling.DefaultMaxAttempts
	}
	return errhandling.RetryConfig{MaxAttempts: attempts, DelayMs: r.retryDelay()}
}

func (r *Runner) runRows(ctx context.Context, rc *runContext, views []export.View) error {
	if r.opts.Source == nil {
		return abort("row-driven mode needs a data source", ErrNoSource)
	}

	r.progress(rc, progressLoading)
	r.say("Loading data...")
	stageCtx := rc.logCtx
	stageCtx.Stage = "load"
	logger.LogStageStart(stageCtx)
	start := time.Now()
	ds, err := r.opts.Source.Read(ctx)
	logger.LogStageEnd(stageCtx, datasetLen(ds), time.Since(start), err)
	if err != nil {
		return abort("cannot read the data source", err)
	}
	r.progress(rc, progressLoaded)

	rows := filter.ApplyFilters(ds, r.cfg.Filters)
	r.say("%d of %d rows selected", len(rows), len(ds.Rows))
	r.progress(rc, progressFiltered)

	evaluator := filter.NewEvaluator(r.cfg.Conditions, r.cfg.ExcludedViews)
	for _, p := range evaluator.Problems() {
		rc.log.Warn("condition skipped", slog.String("error", p.Error()))
		r.say("Condition skipped: %v", p)
	}

	organize := r.cfg.OrganizeColumns()
	for i, row := range rows {
		if rc.cancelled(ctx) {
			r.say("Stop requested; %d rows not processed", len(rows)-i)
			break
		}
		r.say("Processing row %d/%d", i+1, len(rows))
		r.processRow(ctx, rc, row, views, evaluator, organize)
		r.progress(rc, progressFiltered+progressRowSpan*(i+1)/len(rows))
	}
	return nil
}

func (r *Runner) processRow(ctx context.Context, rc *runContext, row export.Row, views []export.View, evaluator *filter.Evaluator, organize []string) {
	log := rc.log.With(slog.Int("row_index", row.Index))

	surviving := filter.SurvivingViews(views, evaluator.ExcludedViews(row))
	if len(surviving) == 0 {
		log.Info("every view excluded for row")
		r.record(rc, export.ExportResult{
			Job:    export.ExportJob{RowIndex: row.Index, Format: r.cfg.Format},
			Status: export.StatusSkipped,
			Error:  "all views excluded",
		})
		return
	}

	params := filter.ResolveParameters(&row, r.cfg.Filters, r.cfg.Parameters)
	params = filter.ApplyViewFilter(params, row, r.cfg.ViewFilterField)
	dir, key := pathutil.OutputDir(r.cfg.OutputDir, row, organize)
	log.Debug("row resolved",
		slog.Int("views", len(surviving)),
		slog.String("output_dir", dir),
		slog.Any("parameters", params.Map()),
	)

	for i, view := range surviving {
		if rc.cancelled(ctx) {
			return
		}
		seq := i + 1
		job := export.ExportJob{
			RowIndex:   row.Index,
			View:       view,
			Parameters: params,
			OutputDir:  dir,
			FileName:   pathutil.FileName(&row, view, r.cfg.NamingColumn(), r.cfg.Numbering, seq, r.cfg.Format),
			Format:     r.cfg.Format,
			Sequence:   seq,
			Group:      key,
		}
		r.runJob(ctx, rc, job)
	}
}

func (r *Runner) runFixedList(ctx context.Context, rc *runContext, views []export.View) {
	surviving := filter.SurvivingViews(views, filter.NewViewSet(r.cfg.ExcludedViews...))
	r.progress(rc, progressLoaded)
	r.say("Exporting %d views", len(surviving))

	params := filter.ResolveParameters(nil, nil, r.cfg.Parameters)
	r.progress(rc, progressListReady)

	for i, view := range surviving {
		if rc.cancelled(ctx) {
			r.say("Stop requested; %d views not exported", len(surviving)-i)
			break
		}
		seq := i + 1
		r.runJob(ctx, rc, export.ExportJob{
			RowIndex:   -1,
			View:       view,
			Parameters: params,
			OutputDir:  r.cfg.OutputDir,
			FileName:   pathutil.FileName(nil, view, "", r.cfg.Numbering, seq, r.cfg.Format),
			Format:     r.cfg.Format,
			Sequence:   seq,
		})
		r.progress(rc, progressListReady+progressListSpan*(i+1)/len(surviving))
	}
}

// runJob executes job, staging its artifact when merging is on.
func (r *Runner) runJob(ctx context.Context, rc *runContext, job export.ExportJob) {
	if rc.staging != "" {
		staged := merge.StagedPath(rc.staging, job.RowIndex, job.FileName, job.View.ID)
		job.OutputDir = filepath.Dir(staged)
		job.FileName = filepath.Base(staged)
	}
	res := rc.executor.Execute(ctx, job)
	r.record(rc, res)
	if res.Status == export.StatusSuccess && rc.staging != "" {
		rc.groups.Add(job.Group, res.ArtifactPath)
	}
}

func (r *Runner) record(rc *runContext, res export.ExportResult) {
	rc.report.Results = append(rc.report.Results, res)
	rc.report.Summary.Add(res.Status)
	if s, ok := r.opts.Sink.(SummarySink); ok {
		s.OnSummary(rc.report.Summary)
	}
}

func (r *Runner) mergeGroups(ctx context.Context, rc *runContext) {
	if rc.staging == "" || rc.groups.Len() == 0 {
		return
	}
	if rc.cancelled(ctx) {
		rc.log.Info("merge skipped after cancellation", slog.String("staging_dir", rc.staging))
		r.say("Merge skipped; exported files kept in %s", rc.staging)
		return
	}

	r.progress(rc, progressMerging)
	r.say("Merging %d groups...", rc.groups.Len())
	stageCtx := rc.logCtx
	stageCtx.Stage = "merge"
	logger.LogStageStart(stageCtx)
	start := time.Now()

	outcomes := merge.New(r.cfg.OutputDir, r.cfg.Mode == export.ModeFixedList).Merge(ctx, rc.groups)
	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			r.say("Merge failed for %s: %v", o.Path, o.Err)
			continue
		}
		rc.report.Merged = append(rc.report.Merged, o.Path)
		r.say("Merged %d files into %s", o.Members, o.Path)
	}
	logger.LogStageEnd(stageCtx, len(rc.report.Merged), time.Since(start), nil)

	if failed > 0 || rc.cancelled(ctx) {
		rc.log.Warn("staging directory kept", slog.String("staging_dir", rc.staging), slog.Int("failed_groups", failed))
		return
	}
	if err := merge.RemoveStaging(r.cfg.OutputDir, r.opts.RunID); err != nil {
		rc.log.Warn("failed to remove staging directory", slog.String("error", err.Error()))
	}
}

func (r *Runner) finalize(ctx context.Context, rc *runContext, err error) {
	report := rc.report
	sum := report.Summary
	var setup *setupError
	switch {
	case rc.cancelled(ctx):
		report.State = export.StateCancelled
		report.Reason = fmt.Sprintf("stopped by request after %d jobs", sum.Total())
	case errors.As(err, &setup):
		report.State = export.StateAborted
		report.Reason = setup.Error()
		logger.LogError("export run aborted", logger.ErrorContext{
			RunID:      r.opts.RunID,
			ConfigName: r.cfg.Name,
			RowIndex:   -1,
			ErrorCode:  string(errhandling.GetErrorCategory(err)),
			Err:        err,
		})
	case err != nil:
		report.State = export.StateAborted
		report.Reason = err.Error()
	case sum.Failed > 0:
		report.State = export.StateCompletedWithErrors
		report.Reason = fmt.Sprintf("%d of %d jobs failed", sum.Failed, sum.Total())
	case sum.Total() == 0:
		report.State = export.StateCompleted
		report.Reason = "no rows selected"
	default:
		report.State = export.StateCompleted
		report.Reason = fmt.Sprintf("%d jobs exported", sum.Success)
	}
}

func (r *Runner) progress(rc *runContext, percent int) {
	if percent < rc.percent {
		return
	}
	rc.percent = percent
	r.opts.Sink.OnProgress(percent)
}

func (r *Runner) say(format string, args ...any) {
	r.opts.Sink.OnLog(fmt.Sprintf(format, args...))
}

func datasetLen(ds *export.Dataset) int {
	if ds == nil {
		return 0
	}
	return len(ds.Rows)
}

// Handle follows a run started in the background.
type Handle struct {
	runID  string
	token  *CancelToken
	done   chan struct{}
	report *export.RunReport
}

// Start runs the batch on its own goroutine.
func (r *Runner) Start(ctx context.Context) *Handle {
	h := &Handle{runID: r.opts.RunID, token: NewCancelToken(), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.report = r.Run(ctx, h.token)
	}()
	return h
}

// RunID returns the identifier of the run.
func (h *Handle) RunID() string { return h.runID }

// Cancel asks the run to stop. The job in flight finishes or aborts and no
// further job starts.
func (h *Handle) Cancel() { h.token.Cancel() }

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run has finished and returns its report.
func (h *Handle) Wait() *export.RunReport {
	<-h.done
	return h.report
}

// Report returns the report once the run has finished.
func (h *Handle) Report() (*export.RunReport, bool) {
	select {
	case <-h.done:
		return h.report, true
	default:
		return nil, false
	}
}
