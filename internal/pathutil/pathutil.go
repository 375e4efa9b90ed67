// Package pathutil derives output directories and artifact names from rows,
// and validates user-supplied file paths.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, null bytes and ".." segments.
// Segments are checked before cleaning so that "sheets/../etc/passwd" is
// rejected even though it cleans to "etc/passwd".
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}
	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// ValidateName rejects names that would escape their parent directory.
func ValidateName(name string) error {
	if err := ValidateFilePath(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name must not contain path separators: %q", name)
	}
	return nil
}

// ResolveUnder joins the relative path p to root and returns the result.
// Absolute paths and paths that would leave root are rejected.
func ResolveUnder(root, p string) (string, error) {
	if err := ValidateFilePath(p); err != nil {
		return "", err
	}
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" || strings.HasPrefix(filepath.ToSlash(p), "/") {
		return "", fmt.Errorf("path must be relative to %s: %q", root, p)
	}
	root = filepath.Clean(root)
	full := filepath.Join(root, filepath.Clean(p))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes %s: %q", root, p)
	}
	return full, nil
}
