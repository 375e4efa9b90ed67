package pathutil

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// OutputDir appends one sanitized segment per organize-by column to base and
// returns the directory with its group key. A column that is absent from the
// row, NA, blank or unusable after sanitizing yields export.NAFolder, so the
// depth only depends on the configuration.
func OutputDir(base string, row export.Row, columns []string) (string, export.GroupKey) {
	parts := []string{base}
	segments := make([]string, 0, 2)
	for _, col := range columns {
		seg := folderSegment(row, col)
		parts = append(parts, seg)
		segments = append(segments, seg)
	}

	var key export.GroupKey
	if len(segments) > 0 {
		key.Outer = segments[0]
	}
	if len(segments) > 1 {
		key.Inner = segments[1]
	}
	return filepath.Join(parts...), key
}

func folderSegment(row export.Row, col string) string {
	v, ok := row.Get(col)
	if !ok {
		logger.Warn("organize-by column not found in row",
			slog.Int("row_index", row.Index),
			slog.String("column", col),
		)
		return export.NAFolder
	}
	if v.NA {
		return export.NAFolder
	}
	return SanitizeOr(v.Text, export.NAFolder)
}

// FileName builds the artifact name for a view. The base name is the row's
// namingColumn cell, or the view name when namingColumn is empty, absent from
// the row or blank in it. numbering prefixes the 1-based sequence as "01_".
// row may be nil in fixed-list mode.
func FileName(row *export.Row, view export.View, namingColumn string, numbering bool, seq int, format export.Format) string {
	base := view.Name
	if namingColumn != "" && row != nil {
		v, ok := row.Get(namingColumn)
		switch {
		case !ok:
			logger.Warn("naming column not found; using view name",
				slog.Int("row_index", row.Index),
				slog.String("column", namingColumn),
			)
		case v.IsBlank():
			logger.Warn("naming column is blank; using view name",
				slog.Int("row_index", row.Index),
				slog.String("column", namingColumn),
			)
		default:
			base = v.Text
		}
	}

	name := SanitizeOr(base, FallbackName(view.ID))
	if numbering {
		name = fmt.Sprintf("%02d_%s", seq, name)
	}
	return name + "." + format.Extension()
}

// WithSuffix inserts "_"+suffix before the extension of name.
func WithSuffix(name, suffix string) string {
	suffix = Sanitize(suffix)
	if suffix == "" {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}
