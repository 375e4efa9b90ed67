package server

import (
	"sort"
	"sync"
	"time"

	"github.com/canectors/viewexport/internal/runtime"
	"github.com/canectors/viewexport/pkg/export"
)

// Status is the externally visible state of an export task.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
	StatusStopped  Status = "STOPPED"
)

// taskSink is the only channel between a worker and status readers: the
// worker writes to it, handlers read from it.
type taskSink struct {
	*runtime.LogBuffer

	mu      sync.RWMutex
	summary export.Summary
	touched bool
}

func newTaskSink() *taskSink {
	return &taskSink{LogBuffer: runtime.NewLogBuffer(runtime.DefaultLogLines)}
}

func (s *taskSink) OnLog(message string) {
	s.mark()
	s.LogBuffer.OnLog(message)
}

func (s *taskSink) OnProgress(percent int) {
	s.mark()
	s.LogBuffer.OnProgress(percent)
}

func (s *taskSink) OnSummary(summary export.Summary) {
	s.mu.Lock()
	s.summary = summary
	s.touched = true
	s.mu.Unlock()
}

func (s *taskSink) mark() {
	s.mu.Lock()
	s.touched = true
	s.mu.Unlock()
}

func (s *taskSink) snapshot() (export.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.touched
}

type task struct {
	id      string
	config  string
	created time.Time
	handle  *runtime.Handle
	sink    *taskSink
}

// TaskStatus is the JSON view of a task.
type TaskStatus struct {
	TaskID     string            `json:"taskId"`
	ConfigName string            `json:"configName"`
	Status     Status            `json:"status"`
	Progress   int               `json:"progress"`
	Log        string            `json:"log"`
	Error      string            `json:"error,omitempty"`
	State      export.FinalState `json:"state,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Summary    export.Summary    `json:"summary"`
	Merged     []string          `json:"merged,omitempty"`
	Duration   string            `json:"duration,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (t *task) status() TaskStatus {
	summary, touched := t.sink.snapshot()
	st := TaskStatus{
		TaskID:     t.id,
		ConfigName: t.config,
		Status:     StatusPending,
		Progress:   t.sink.Progress(),
		Log:        t.sink.Text(),
		Summary:    summary,
		CreatedAt:  t.created,
	}
	if touched {
		st.Status = StatusProgress
	}

	report, done := t.handle.Report()
	if !done {
		return st
	}
	st.State = report.State
	st.Reason = report.Reason
	st.Summary = report.Summary
	st.Merged = report.Merged
	st.Duration = export.FormatDuration(report.Duration())
	switch report.State {
	case export.StateCancelled:
		st.Status = StatusStopped
	case export.StateAborted:
		st.Status = StatusFailure
		st.Error = report.Reason
	default:
		st.Status = StatusSuccess
	}
	return st
}

// taskStore holds every task started since the server came up.
type taskStore struct {
	mu    sync.RWMutex
	tasks map[string]*task
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[string]*task)}
}

func (s *taskStore) add(t *task) {
	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()
}

func (s *taskStore) get(id string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// list returns the tasks, newest first.
func (s *taskStore) list() []*task {
	s.mu.RLock()
	out := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].created.After(out[j].created) })
	return out
}

func (s *taskStore) cancelAll() {
	for _, t := range s.list() {
		t.handle.Cancel()
	}
}
