package export

import (
	"fmt"
	"path/filepath"
	"time"
)

// GroupKey is the organize-by hierarchy of a job, outer segment first.
type GroupKey struct {
	Outer string `json:"outer,omitempty"`
	Inner string `json:"inner,omitempty"`
}

// ExportJob is the resolved unit of work for one (row, view) pair.
type ExportJob struct {
	// RowIndex is the dataset index, -1 in fixed-list mode.
	RowIndex   int        `json:"rowIndex"`
	View       View       `json:"view"`
	Parameters Parameters `json:"parameters,omitempty"`
	OutputDir  string     `json:"outputDir"`
	FileName   string     `json:"fileName"`
	Format     Format     `json:"format"`
	// Sequence is the 1-based position of the view within its row.
	Sequence int      `json:"sequence"`
	Group    GroupKey `json:"group"`
}

// Path is the artifact location.
func (j ExportJob) Path() string {
	return filepath.Join(j.OutputDir, j.FileName)
}

// Status is the terminal state of a job.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
	StatusSkipped Status = "Skipped"
)

// ExportResult is the terminal record of one job.
type ExportResult struct {
	Job          ExportJob     `json:"job"`
	Status       Status        `json:"status"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
}

// Summary counts job outcomes.
type Summary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Add counts one result.
func (s *Summary) Add(status Status) {
	switch status {
	case StatusSuccess:
		s.Success++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Total returns the number of counted results.
func (s Summary) Total() int {
	return s.Success + s.Failed + s.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("Success: %d, Failed: %d, Skipped: %d", s.Success, s.Failed, s.Skipped)
}

// FinalState is the outcome of a whole run.
type FinalState string

const (
	StateCompleted           FinalState = "Completed"
	StateCompletedWithErrors FinalState = "CompletedWithErrors"
	StateCancelled           FinalState = "Cancelled"
	StateAborted             FinalState = "Aborted"
)

// RunReport describes a finished run.
type RunReport struct {
	RunID       string         `json:"runId"`
	ConfigName  string         `json:"configName"`
	Mode        Mode           `json:"mode"`
	State       FinalState     `json:"state"`
	Reason      string         `json:"reason"`
	Summary     Summary        `json:"summary"`
	Results     []ExportResult `json:"results,omitempty"`
	Merged      []string       `json:"merged,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// FormatDuration renders d as "M m S s" from one minute on, else seconds with two decimals.
func FormatDuration(d time.Duration) string {
	if d >= time.Minute {
		total := int(d / time.Second)
		return fmt.Sprintf("%d m %d s", total/60, total%60)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
