package utils

import (
	"os"
	"path/filepath"
	"strings"

	"splitbackup/internal/errors"
	"splitbackup/pkg/models"
)

func ValidatePath(path string) error {
	if path == "" {
		return errors.New("path cannot be empty")
	}

	if _, err := filepath.Abs(path); err != nil {
		return errors.Wrap(err, "invalid path")
	}

	return nil
}

func EnsureDirectoryExists(dirPath string) error {
	if err := ValidatePath(dirPath); err != nil {
		return err
	}

	return os.MkdirAll(dirPath, 0755)
}

// IsWithin reports whether path lies inside (or is) root. Both are made
// absolute and cleaned first.
func IsWithin(root, path string) bool {
	root, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// CheckComponents validates a decoded entry path. A ".." component or an
// absolute path is a PathEscape error; empty or "." components, NUL bytes and
// separators inside a component are CorruptFormat errors.
func CheckComponents(p models.Path) error {
	if len(p) == 0 {
		return errors.Corruptf("resolve path", "", "empty path")
	}
	for i, c := range p {
		switch {
		case c == "..":
			return errors.PathEscape(p.String())
		case c == "" && i == 0:
			return errors.PathEscape(p.String())
		case c == "" || c == ".":
			return errors.Corruptf("resolve path", p.String(), "invalid component %q", c)
		case strings.ContainsRune(c, 0):
			return errors.Corruptf("resolve path", p.String(), "NUL byte in component")
		case strings.ContainsRune(c, filepath.Separator) || strings.Contains(c, "/"):
			return errors.PathEscape(p.String())
		case filepath.VolumeName(c) != "":
			return errors.PathEscape(p.String())
		}
	}
	return nil
}

// LocalPath validates p and converts it to a relative OS path.
func LocalPath(p models.Path) (string, error) {
	if err := CheckComponents(p); err != nil {
		return "", err
	}
	rel := filepath.Join(p...)
	if !filepath.IsLocal(rel) {
		return "", errors.PathEscape(p.String())
	}
	return rel, nil
}
