package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/canectors/viewexport/pkg/export"
)

func sampleReport(name string) *export.RunReport {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return &export.RunReport{
		RunID:      "run-1",
		ConfigName: name,
		Mode:       export.ModeRowDriven,
		State:      export.StateCompletedWithErrors,
		Reason:     "1 of 3 jobs failed",
		Summary:    export.Summary{Success: 2, Failed: 1},
		Results: []export.ExportResult{
			{Job: export.ExportJob{RowIndex: 0, View: export.View{Name: "Sales"}}, Status: export.StatusSuccess, Attempts: 1},
			{Job: export.ExportJob{RowIndex: 2, View: export.View{Name: "Margin"}}, Status: export.StatusFailed, Attempts: 3, Error: "server error (status 503): busy"},
			{Job: export.ExportJob{RowIndex: 4, View: export.View{Name: "Sales"}}, Status: export.StatusSuccess, Attempts: 2},
		},
		StartedAt:   start,
		CompletedAt: start.Add(75 * time.Second),
	}
}

func TestNewHistoryStore_DefaultPath(t *testing.T) {
	if s := NewHistoryStore(""); s.basePath != DefaultStatePath {
		t.Errorf("basePath = %q, want %q", s.basePath, DefaultStatePath)
	}
}

func TestHistoryStore_RecordAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewHistoryStore(dir)

	if err := store.Record(sampleReport("regional")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "regional.json")); err != nil {
		t.Fatalf("record file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "regional.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	rec, err := store.Load("regional")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.State != export.StateCompletedWithErrors || rec.Summary != (export.Summary{Success: 2, Failed: 1}) {
		t.Errorf("record = %+v", rec)
	}
	if rec.Duration != "1 m 15 s" {
		t.Errorf("Duration = %q", rec.Duration)
	}
	want := FailedJob{RowIndex: 2, View: "Margin", Attempts: 3, Error: "server error (status 503): busy"}
	if len(rec.Failed) != 1 || rec.Failed[0] != want {
		t.Errorf("Failed = %+v, want [%+v]", rec.Failed, want)
	}
}

func TestHistoryStore_LastRunWins(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	first := sampleReport("daily")
	second := sampleReport("daily")
	second.RunID = "run-2"
	second.State = export.StateCompleted

	for _, r := range []*export.RunReport{first, second} {
		if err := store.Record(r); err != nil {
			t.Fatal(err)
		}
	}
	rec, err := store.Load("daily")
	if err != nil || rec.RunID != "run-2" {
		t.Errorf("Load = %+v, %v; want run-2", rec, err)
	}
}

func TestHistoryStore_NeverRan(t *testing.T) {
	rec, err := NewHistoryStore(t.TempDir()).Load("unknown")
	if rec != nil || err != nil {
		t.Errorf("Load = %v, %v; want nil, nil", rec, err)
	}
}

func TestHistoryStore_NameCannotEscape(t *testing.T) {
	dir := t.TempDir()
	store := NewHistoryStore(dir)
	if err := store.Record(sampleReport("../../etc/passwd")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
	if rec, err := store.Load("../../etc/passwd"); err != nil || rec == nil {
		t.Errorf("Load = %v, %v", rec, err)
	}
}

func TestHistoryStore_Errors(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	if err := store.Record(nil); !errors.Is(err, ErrNilReport) {
		t.Errorf("Record(nil) = %v", err)
	}
	if err := store.Record(sampleReport("")); !errors.Is(err, ErrInvalidConfigName) {
		t.Errorf("Record(no name) = %v", err)
	}
	if _, err := store.Load(""); !errors.Is(err, ErrInvalidConfigName) {
		t.Errorf("Load(\"\") = %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHistoryStore(dir).Load("broken"); err == nil {
		t.Error("corrupt record loaded without error")
	}
}

func TestHistoryStore_Delete(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	if err := store.Delete("missing"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
	if err := store.Record(sampleReport("gone")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("gone"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := store.Load("gone"); rec != nil {
		t.Error("record still present after Delete")
	}
}

func TestHistoryStore_ConcurrentRecords(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Record(sampleReport("shared")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if rec, err := store.Load("shared"); err != nil || rec == nil {
		t.Errorf("Load = %v, %v", rec, err)
	}
}
