// Package persistence stores the record of the last run of each export
// configuration, so a later invocation can report what happened.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/pathutil"
	"github.com/canectors/viewexport/pkg/export"
)

// DefaultStatePath is the default directory for run records.
const DefaultStatePath = "./viewexport-data/history"

var (
	// ErrInvalidConfigName is returned when a record has no configuration name.
	ErrInvalidConfigName = errors.New("configuration name is required")

	// ErrNilReport is returned when there is nothing to record.
	ErrNilReport = errors.New("run report is nil")
)

// FailedJob identifies a job that did not export.
type FailedJob struct {
	RowIndex int    `json:"rowIndex"`
	View     string `json:"view"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// RunRecord is the persisted outcome of one run.
type RunRecord struct {
	RunID       string            `json:"runId"`
	ConfigName  string            `json:"configName"`
	Mode        export.Mode       `json:"mode"`
	State       export.FinalState `json:"state"`
	Reason      string            `json:"reason"`
	Summary     export.Summary    `json:"summary"`
	Failed      []FailedJob       `json:"failed,omitempty"`
	Merged      []string          `json:"merged,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	Duration    string            `json:"duration"`
}

// NewRunRecord extracts the persisted fields of a report.
func NewRunRecord(r *export.RunReport) *RunRecord {
	rec := &RunRecord{
		RunID:       r.RunID,
		ConfigName:  r.ConfigName,
		Mode:        r.Mode,
		State:       r.State,
		Reason:      r.Reason,
		Summary:     r.Summary,
		Merged:      r.Merged,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    export.FormatDuration(r.Duration()),
	}
	for _, res := range r.Results {
		if res.Status != export.StatusFailed {
			continue
		}
		rec.Failed = append(rec.Failed, FailedJob{
			RowIndex: res.Job.RowIndex,
			View:     res.Job.View.Name,
			Attempts: res.Attempts,
			Error:    res.Error,
		})
	}
	return rec
}

// HistoryStore keeps one JSON file per configuration name under basePath.
type HistoryStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewHistoryStore creates a store. An empty basePath uses DefaultStatePath.
func NewHistoryStore(basePath string) *HistoryStore {
	if basePath == "" {
		basePath = DefaultStatePath
	}
	return &HistoryStore{basePath: basePath}
}

// filePath maps a configuration name to its record file. The name is
// sanitized so it cannot leave basePath.
func (s *HistoryStore) filePath(configName string) string {
	return filepath.Join(s.basePath, pathutil.SanitizeOr(configName, "unnamed")+".json")
}

// Record stores the report as the last run of its configuration. It
// satisfies the runner's history hook.
func (s *HistoryStore) Record(r *export.RunReport) error {
	if r == nil {
		return ErrNilReport
	}
	return s.Save(NewRunRecord(r))
}

// Save writes rec atomically (temp file + rename), replacing any earlier
// record of the same configuration.
func (s *HistoryStore) Save(rec *RunRecord) error {
	if rec == nil {
		return ErrNilReport
	}
	if rec.ConfigName == "" {
		return ErrInvalidConfigName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0o700); err != nil {
		logger.Warn("failed to create history directory",
			"path", s.basePath,
			"error", err.Error(),
		)
		return fmt.Errorf("creating history directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}

	path := s.filePath(rec.ConfigName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logger.Warn("failed to write temp history file",
			"config_name", rec.ConfigName,
			"path", tmp,
			"error", err.Error(),
		)
		return fmt.Errorf("writing temp history file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		logger.Warn("failed to rename history file",
			"config_name", rec.ConfigName,
			"temp_path", tmp,
			"final_path", path,
			"error", err.Error(),
		)
		return fmt.Errorf("renaming history file: %w", err)
	}

	logger.Debug("run record saved",
		"config_name", rec.ConfigName,
		"run_id", rec.RunID,
		"path", path,
	)
	return nil
}

// Load returns the last record of a configuration, or nil, nil when the
// configuration never ran.
func (s *HistoryStore) Load(configName string) (*RunRecord, error) {
	if configName == "" {
		return nil, ErrInvalidConfigName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.filePath(configName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("no run record found", "config_name", configName, "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warn("failed to unmarshal run record",
			"config_name", configName,
			"path", path,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("unmarshaling run record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record of a configuration. A missing record is not an error.
func (s *HistoryStore) Delete(configName string) error {
	if configName == "" {
		return ErrInvalidConfigName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(configName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting history file: %w", err)
	}
	return nil
}
