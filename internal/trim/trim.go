// Package trim crops the empty space below the content of exported PDF
// pages and PNG images. Only the bottom edge ever moves.
package trim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canectors/viewexport/pkg/export"
)

// Padding kept below the detected content, in points for PDF and pixels
// for PNG.
const (
	PDFPadding = 20.0
	PNGPadding = 20
	// changes smaller than this are not applied
	tolerance = 0.1
)

// ErrUnsupportedFormat is returned for formats without a trimmer.
var ErrUnsupportedFormat = errors.New("trim: unsupported format")

// Result describes a trim attempt. Trimmed is false when the file was left
// unchanged.
type Result struct {
	Trimmed bool
	// Before and After are the page height in points or the image height in pixels.
	Before float64
	After  float64
	Reason string
}

// File trims the artifact at path according to its format.
func File(path string, format export.Format) (Result, error) {
	switch format {
	case export.FormatPDF:
		return PDF(path)
	case export.FormatImage:
		return PNG(path)
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// replaceFile writes via a temporary file in the same directory and renames
// it over path.
func replaceFile(path string, write func(tmp string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".trim-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()

	if err := write(name); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
