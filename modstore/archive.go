package modstore

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode"
)

// ListArchive returns the file paths stored in a zip, 7z or rar archive,
// slash-separated, directories excluded.
func ListArchive(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return listZip(path)
	case ".7z":
		return list7z(path)
	case ".rar":
		return listRar(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(path))
	}
}

func listZip(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var files []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, normalizeEntry(f.Name))
	}
	return files, nil
}

func list7z(path string) ([]string, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open 7z: %w", err)
	}
	defer r.Close()

	var files []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, normalizeEntry(f.Name))
	}
	return files, nil
}

func listRar(path string) ([]string, error) {
	r, err := rardecode.OpenReader(path, "")
	if err != nil {
		return nil, fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	var files []string
	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fmt.Errorf("read rar: %w", err)
		}
		if h.IsDir {
			continue
		}
		files = append(files, normalizeEntry(h.Name))
	}
	return files, nil
}

func normalizeEntry(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(strings.TrimSpace(name), "./")
}
