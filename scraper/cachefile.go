package scraper

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in the destination directory and
// renames it over path, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Path: path, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "write", Err: err}
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
