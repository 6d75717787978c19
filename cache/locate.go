package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindDirectory looks for a directory called name in start and up to depth
// of its parents.
func FindDirectory(start, name string, depth int) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for i := 0; i <= depth; i++ {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no %q directory within %d levels of %s: %w", name, depth, start, os.ErrNotExist)
}
