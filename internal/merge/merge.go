// Package merge combines the PDF artifacts of a run into one file per
// organize-by group.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/pathutil"
	"github.com/canectors/viewexport/pkg/export"
)

// File names of merged outputs.
const (
	StagingDirName  = ".merge_staging"
	mergedSuffix    = "_merged.pdf"
	allViewsMerged  = "all_views_merged.pdf"
	fixedListMerged = "All_Views_Merged.pdf"
)

// Groups collects artifact paths per group key in the order they are added.
// Keys are returned in first-seen order.
type Groups struct {
	order   []export.GroupKey
	members map[export.GroupKey][]string
}

// NewGroups returns an empty collection.
func NewGroups() *Groups {
	return &Groups{members: make(map[export.GroupKey][]string)}
}

// Add appends path to the group of key.
func (g *Groups) Add(key export.GroupKey, path string) {
	if _, ok := g.members[key]; !ok {
		g.order = append(g.order, key)
	}
	g.members[key] = append(g.members[key], path)
}

// Keys returns the group keys in first-seen order.
func (g *Groups) Keys() []export.GroupKey {
	out := make([]export.GroupKey, len(g.order))
	copy(out, g.order)
	return out
}

// Members returns the paths of one group.
func (g *Groups) Members(key export.GroupKey) []string {
	return append([]string(nil), g.members[key]...)
}

// Len returns the number of groups.
func (g *Groups) Len() int { return len(g.order) }

// OutputPath returns where the merged file of key is written. Fixed-list runs
// use a single file at the root of base.
func OutputPath(base string, key export.GroupKey, fixedList bool) string {
	switch {
	case fixedList:
		return filepath.Join(base, fixedListMerged)
	case key.Outer == "":
		return filepath.Join(base, allViewsMerged)
	case key.Inner == "":
		return filepath.Join(base, key.Outer, key.Outer+mergedSuffix)
	default:
		return filepath.Join(base, key.Outer, key.Inner+mergedSuffix)
	}
}

// StagingRoot is the per-run directory artifacts are written to before
// merging.
func StagingRoot(base, runID string) string {
	return filepath.Join(base, StagingDirName, runID)
}

// StagedPath places an artifact of a row under root, suffixing the view id so
// equal names from different views never collide. rowIndex -1 is fixed-list.
func StagedPath(root string, rowIndex int, fileName, viewID string) string {
	dir := "views"
	if rowIndex >= 0 {
		dir = "row_" + strconv.Itoa(rowIndex)
	}
	return filepath.Join(root, dir, pathutil.WithSuffix(fileName, viewID))
}

// Outcome reports the merge of one group.
type Outcome struct {
	Key     export.GroupKey
	Path    string
	Members int
	Pages   int
	Err     error
}

// Merger merges groups with pdfcpu.
type Merger struct {
	base      string
	fixedList bool
}

// New returns a merger writing below base.
func New(base string, fixedList bool) *Merger {
	return &Merger{base: base, fixedList: fixedList}
}

// Merge merges every group in order. Members missing or unreadable at merge
// time are skipped. A group with no pages left produces no file. Members are
// deleted only after their group merged successfully. A failed group is
// reported in its Outcome and does not stop the others.
func (m *Merger) Merge(ctx context.Context, groups *Groups) []Outcome {
	var outcomes []Outcome
	for _, key := range groups.Keys() {
		if ctx.Err() != nil {
			logger.Warn("merge interrupted", slog.Int("groups_left", groups.Len()-len(outcomes)))
			break
		}
		outcome := m.mergeGroup(key, groups.Members(key))
		if outcome.Path != "" || outcome.Err != nil {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

func (m *Merger) mergeGroup(key export.GroupKey, members []string) Outcome {
	out := Outcome{Key: key}

	inputs := make([]string, 0, len(members))
	for _, p := range members {
		pages, err := api.PageCountFile(p)
		if err != nil {
			logger.Warn("skipping merge member",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		if pages == 0 {
			continue
		}
		inputs = append(inputs, p)
		out.Pages += pages
	}
	if len(inputs) == 0 {
		logger.Info("no pages to merge for group",
			slog.String("outer", key.Outer),
			slog.String("inner", key.Inner),
		)
		return out
	}

	target := OutputPath(m.base, key, m.fixedList)
	if err := m.write(inputs, target); err != nil {
		out.Err = err
		logger.Error("merge failed",
			slog.String("path", target),
			slog.String("error", err.Error()),
		)
		return out
	}
	out.Path = target
	out.Members = len(inputs)

	for _, p := range inputs {
		if err := os.Remove(p); err != nil {
			logger.Warn("failed to delete merged member",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
	logger.Info("merged group",
		slog.String("path", target),
		slog.Int("members", out.Members),
		slog.Int("pages", out.Pages),
	)
	return out
}

func (m *Merger) write(inputs []string, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating merge directory: %w", err)
	}
	tmp := target + ".part"
	if err := api.MergeCreateFile(inputs, tmp, false, nil); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("merging %d files: %w", len(inputs), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("moving merged file into place: %w", err)
	}
	return nil
}

// RemoveStaging deletes a run's staging directory and the shared parent when
// it is left empty.
func RemoveStaging(base, runID string) error {
	if err := os.RemoveAll(StagingRoot(base, runID)); err != nil {
		return err
	}
	// fails harmlessly when other runs still stage files
	_ = os.Remove(filepath.Join(base, StagingDirName))
	return nil
}
