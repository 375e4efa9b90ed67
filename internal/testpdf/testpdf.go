// Package testpdf builds small, valid single-page PDF files for tests.
package testpdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Build returns a one-page 612x792 PDF whose page content stream is content.
// The font /F1 (Helvetica) is available to the stream.
func Build(content string) []byte {
	return build(content, "", [6]float64{})
}

// BuildWithForm is Build with a form XObject /Fm1 holding form, mapped to
// page space by matrix, available to the page content stream.
func BuildWithForm(content, form string, matrix [6]float64) []byte {
	return build(content, form, matrix)
}

func build(content, form string, matrix [6]float64) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"",
		streamObject("", content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	resources := "/Font << /F1 5 0 R >>"
	if form != "" {
		m := fmt.Sprintf("%g %g %g %g %g %g", matrix[0], matrix[1], matrix[2], matrix[3], matrix[4], matrix[5])
		objects = append(objects, streamObject(
			"/Type /XObject /Subtype /Form /BBox [0 0 612 792] /Matrix ["+m+"] /Resources << /Font << /F1 5 0 R >> >> ", form))
		resources += " /XObject << /Fm1 6 0 R >>"
	}
	objects[2] = "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << " + resources + " >> >>"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(offsets))
	for i := 1; i < len(offsets); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return []byte(b.String())
}

func streamObject(dict, content string) string {
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dict, len(content), content)
}

// Write stores Build(content) as name inside dir and returns its path.
func Write(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Build(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
