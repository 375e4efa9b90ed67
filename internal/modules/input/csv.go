package input

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/pathutil"
	"github.com/canectors/viewexport/pkg/export"
)

// CSVSource reads a delimited text file. When Path is a directory the sheet
// name selects "<dir>/<sheet>.csv".
type CSVSource struct {
	path      string
	delimiter rune
	enc       encoding.Encoding
	na        map[string]struct{}
}

// NewCSVSource resolves the file and settings of a CSV source. It does not
// open the file.
func NewCSVSource(cfg export.SourceConfig) (*CSVSource, error) {
	if err := pathutil.ValidateFilePath(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	path, err := resolveSheet(cfg.Path, cfg.Sheet)
	if err != nil {
		return nil, err
	}

	delimiter, err := parseDelimiter(cfg.Delimiter)
	if err != nil {
		return nil, err
	}

	enc := encoding.Encoding(unicode.UTF8)
	if name := strings.TrimSpace(cfg.Encoding); name != "" {
		enc, err = htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidSource, name)
		}
	}

	return &CSVSource{path: path, delimiter: delimiter, enc: enc, na: naSet(cfg.NAValues)}, nil
}

func resolveSheet(path, sheet string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSourceNotFound, path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	if strings.TrimSpace(sheet) == "" {
		return "", fmt.Errorf("%w: %s is a directory and no sheet is set", ErrInvalidSource, path)
	}
	if err := pathutil.ValidateName(sheet); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	candidates := []string{filepath.Join(path, sheet+".csv"), filepath.Join(path, sheet)}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q in %s", ErrSheetNotFound, sheet, path)
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: delimiter must be a single character, got %q", ErrInvalidSource, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("%w: invalid delimiter %q", ErrInvalidSource, s)
	}
	return r, nil
}

// Path returns the resolved file.
func (s *CSVSource) Path() string {
	return s.path
}

func (s *CSVSource) open() (*csv.Reader, io.Closer, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	// a byte order mark overrides the configured encoding
	decoded := transform.NewReader(f, unicode.BOMOverride(s.enc.NewDecoder()))

	r := csv.NewReader(decoded)
	r.Comma = s.delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r, f, nil
}

// Columns reads the header line.
func (s *CSVSource) Columns(_ context.Context) ([]string, error) {
	r, closer, err := s.open()
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s has no header line", ErrInvalidSource, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", s.path, err)
	}
	return normalizeHeader(header), nil
}

// Read loads every row. Short records are padded with NA, extra fields are
// dropped.
func (s *CSVSource) Read(ctx context.Context) (*export.Dataset, error) {
	r, closer, err := s.open()
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s has no header line", ErrInvalidSource, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", s.path, err)
	}
	columns := normalizeHeader(header)

	ds := &export.Dataset{Columns: columns}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", s.path, line, err)
		}
		if isEmptyRecord(record) {
			continue
		}

		values := make([]export.Value, 0, len(columns))
		for i := 0; i < len(record) && i < len(columns); i++ {
			values = append(values, s.cell(record[i]))
		}
		ds.Rows = append(ds.Rows, export.NewRow(len(ds.Rows), columns, values))
	}

	logger.Debug("csv source read",
		"path", s.path,
		"columns", len(columns),
		"rows", len(ds.Rows),
	)
	return ds, nil
}

func (s *CSVSource) cell(raw string) export.Value {
	if _, na := s.na[raw]; na {
		return export.NAValue()
	}
	return export.TextValue(raw)
}

func isEmptyRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Close is a no-op; files are opened per call.
func (s *CSVSource) Close() error { return nil }
