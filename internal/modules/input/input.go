// Package input provides the tabular data sources rows are read from.
package input

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canectors/viewexport/pkg/export"
)

// Errors returned by sources. Both abort a run before any row is processed.
var (
	// ErrSourceNotFound is returned when the file or database cannot be reached.
	ErrSourceNotFound = errors.New("data source not found")
	// ErrSheetNotFound is returned when the sheet or table does not exist.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrInvalidSource is returned for unusable source settings.
	ErrInvalidSource = errors.New("invalid source configuration")
)

// Source reads a dataset. Columns only reads the header.
type Source interface {
	Columns(ctx context.Context) ([]string, error)
	Read(ctx context.Context) (*export.Dataset, error)
	// Close releases any resources held by the source.
	Close() error
}

// DefaultNAValues are the cell texts read as missing values.
var DefaultNAValues = []string{"", "NA", "N/A", "NaN", "nan", "NULL", "null", "#N/A"}

func naSet(values []string) map[string]struct{} {
	if values == nil {
		values = DefaultNAValues
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// normalizeHeader trims names, names blank columns "Unnamed: i" and
// suffixes duplicates with ".1", ".2".
func normalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, name := range raw {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

// cellValue converts a driver value to a cell. nil is NA.
func cellValue(v interface{}) export.Value {
	switch val := v.(type) {
	case nil:
		return export.NAValue()
	case string:
		return export.TextValue(val)
	case []byte:
		return export.TextValue(string(val))
	case [16]byte:
		return export.TextValue(uuid.UUID(val).String())
	case int64:
		return export.TextValue(strconv.FormatInt(val, 10))
	case int32:
		return export.TextValue(strconv.FormatInt(int64(val), 10))
	case int16:
		return export.TextValue(strconv.FormatInt(int64(val), 10))
	case int:
		return export.TextValue(strconv.Itoa(val))
	case float64:
		return export.TextValue(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		return export.TextValue(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case bool:
		return export.TextValue(strconv.FormatBool(val))
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return export.TextValue(val.Format("2006-01-02"))
		}
		return export.TextValue(val.Format("2006-01-02 15:04:05"))
	case fmt.Stringer:
		return export.TextValue(val.String())
	default:
		return export.TextValue(fmt.Sprint(val))
	}
}
