package modstore

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode"
)

// ErrUnsafeEntry is reported for archive entries that would land outside the
// destination directory. Such entries are skipped.
var ErrUnsafeEntry = errors.New("unsafe archive entry")

// ArchiveExtractor unpacks zip, 7z and rar archives with the same readers
// ListArchive uses. Existing files are overwritten, directories and symlinks
// in the archive are not materialized.
type ArchiveExtractor struct{}

func (ArchiveExtractor) Extract(archivePath, destDir string) error {
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip":
		return extractZip(archivePath, destDir)
	case ".7z":
		return extract7z(archivePath, destDir)
	case ".rar":
		return extractRar(archivePath, destDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
	}
}

func extractZip(path, dest string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var errs []error
	for _, f := range r.File {
		if !f.FileInfo().Mode().IsRegular() {
			continue
		}
		err := writeEntry(dest, f.Name, func() (io.ReadCloser, error) { return f.Open() })
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func extract7z(path, dest string) error {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open 7z: %w", err)
	}
	defer r.Close()

	var errs []error
	for _, f := range r.File {
		if !f.FileInfo().Mode().IsRegular() {
			continue
		}
		err := writeEntry(dest, f.Name, func() (io.ReadCloser, error) { return f.Open() })
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func extractRar(path, dest string) error {
	r, err := rardecode.OpenReader(path, "")
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	var errs []error
	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read rar: %w", err))
			break
		}
		if h.IsDir {
			continue
		}
		err = writeEntry(dest, h.Name, func() (io.ReadCloser, error) { return io.NopCloser(r), nil })
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// entryTarget resolves an archive entry name below dest, rejecting absolute
// names and names that climb out with "..".
func entryTarget(dest, name string) (string, error) {
	clean := normalizeEntry(name)
	if clean == "" || strings.HasPrefix(clean, "/") || filepath.VolumeName(clean) != "" || strings.Contains(clean, ":") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(clean))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	return target, nil
}

func writeEntry(dest, name string, open func() (io.ReadCloser, error)) error {
	target, err := entryTarget(dest, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	src, err := open()
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(0644))
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", name, err)
	}
	return out.Close()
}
