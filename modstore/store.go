package modstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hymkor/trash-go"

	"scmap-manager/scraper"
)

var (
	ErrArchiveNotFound    = errors.New("mod archive not found")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrGameFolderUnset    = errors.New("game folder not set")
)

// InstalledExts are the archive extensions listed as installed mods.
var InstalledExts = []string{".zip", ".7z"}

// ModInfo describes an installed mod archive.
type ModInfo struct {
	Name        string `json:"name"`         // archive file name without extension
	DisplayName string `json:"display_name"` // "name" from info.json, defaults to Name
	Description string `json:"description"`
	FileName    string `json:"file_name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	SizeText    string `json:"size_text"`
	Enabled     bool   `json:"enabled"`
	Thumbnail   string `json:"thumbnail"`
}

// DownloadForgetter drops download records when their archive is removed.
type DownloadForgetter interface {
	RemoveByArchive(name string) (int, error)
}

// Extractor unpacks an archive into a directory. ArchiveExtractor is the
// implementation the app and scmapctl use.
type Extractor interface {
	Extract(archivePath, destDir string) error
}

// Options configures a Store.
type Options struct {
	ModsDir     string
	EnabledPath string
	DataPackDir string
	Downloads   DownloadForgetter
	// AddonDir returns the extraction target, or "" when no game folder is set.
	AddonDir  func() string
	Extractor Extractor
	// Remove deletes a file; defaults to moving it to the recycle bin.
	Remove func(path string) error
	Logger *slog.Logger
}

// Store manages the archives under the mods directory and their sidecar data.
type Store struct {
	modsDir     string
	enabledPath string
	dataPackDir string
	downloads   DownloadForgetter
	addonDir    func() string
	extractor   Extractor
	remove      func(path string) error
	logger      *slog.Logger

	mu sync.Mutex
}

func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remove := opts.Remove
	if remove == nil {
		remove = throwToTrash
	}
	addonDir := opts.AddonDir
	if addonDir == nil {
		addonDir = func() string { return "" }
	}
	return &Store{
		modsDir:     opts.ModsDir,
		enabledPath: opts.EnabledPath,
		dataPackDir: opts.DataPackDir,
		downloads:   opts.Downloads,
		addonDir:    addonDir,
		extractor:   opts.Extractor,
		remove:      remove,
		logger:      logger,
	}
}

// throwToTrash moves path to the recycle bin and falls back to removing it.
func throwToTrash(path string) error {
	if err := trash.Throw(path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return fmt.Errorf("trash failed (%v), remove failed: %w", err, rmErr)
		}
	}
	return nil
}

func (s *Store) ModsDir() string {
	return s.modsDir
}

// Init creates the directory layout and an empty enabled list.
func (s *Store) Init() error {
	for _, dir := range []string{s.modsDir, s.dataPackDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &scraper.PersistenceError{Path: dir, Op: "mkdir", Err: err}
		}
	}
	if _, err := os.Stat(s.enabledPath); errors.Is(err, fs.ErrNotExist) {
		return s.saveEnabled([]string{})
	}
	return nil
}

// List returns the installed archives sorted by name.
func (s *Store) List() ([]ModInfo, error) {
	entries, err := os.ReadDir(s.modsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []ModInfo{}, nil
	}
	if err != nil {
		return nil, &scraper.PersistenceError{Path: s.modsDir, Op: "read", Err: err}
	}

	s.mu.Lock()
	enabled := toSet(s.loadEnabled())
	s.mu.Unlock()

	mods := make([]ModInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isInstalledArchive(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable archive", "name", entry.Name(), "error", err)
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		meta := s.readInfo(name)
		mod := ModInfo{
			Name:        name,
			DisplayName: name,
			FileName:    entry.Name(),
			Path:        filepath.Join(s.modsDir, entry.Name()),
			Size:        info.Size(),
			SizeText:    HumanSize(info.Size()),
			Enabled:     enabled[name],
		}
		if alias, _ := meta["name"].(string); alias != "" {
			mod.DisplayName = alias
		}
		mod.Description, _ = meta["description"].(string)
		if thumb := s.thumbnailPath(name); fileExists(thumb) {
			mod.Thumbnail = thumb
		}
		mods = append(mods, mod)
	}
	sort.Slice(mods, func(i, j int) bool {
		return strings.ToLower(mods[i].Name) < strings.ToLower(mods[j].Name)
	})
	return mods, nil
}

// HumanSize formats n bytes with two decimals, e.g. "1.50 MB".
func HumanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

// ArchivePath finds Mods/<name>.zip or Mods/<name>.7z.
func (s *Store) ArchivePath(name string) (string, error) {
	for _, ext := range InstalledExts {
		path := filepath.Join(s.modsDir, name+ext)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
}

// Delete removes every archive of the mod, drops it from the enabled list and
// forgets its download records.
func (s *Store) Delete(name string) error {
	removed := 0
	for _, ext := range InstalledExts {
		path := filepath.Join(s.modsDir, name+ext)
		if !fileExists(path) {
			continue
		}
		if err := s.remove(path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		removed++
		s.logger.Info("mod archive deleted", "path", path)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}

	s.mu.Lock()
	err := s.saveEnabled(without(s.loadEnabled(), name))
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("failed to update enabled list", "name", name, "error", err)
	}

	if s.downloads != nil {
		if _, err := s.downloads.RemoveByArchive(name); err != nil {
			s.logger.Warn("failed to update download cache", "name", name, "error", err)
		}
	}
	return nil
}

// DeleteFile removes an arbitrary archive under the mods directory by file
// name, e.g. the download of a detail view.
func (s *Store) DeleteFile(fileName string) error {
	path := filepath.Join(s.modsDir, filepath.Base(fileName))
	if !fileExists(path) {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, fileName)
	}
	return s.remove(path)
}

// HasFile reports whether Mods/<fileName> exists.
func (s *Store) HasFile(fileName string) bool {
	if fileName == "" {
		return false
	}
	return fileExists(filepath.Join(s.modsDir, filepath.Base(fileName)))
}

// Rename sets the display alias of a mod.
func (s *Store) Rename(name, alias string) error {
	return s.updateInfo(name, map[string]any{"name": alias})
}

func (s *Store) SetDescription(name, description string) error {
	return s.updateInfo(name, map[string]any{"description": description})
}

// WriteInfo merges fields into data-pack/<name>/info.json, keeping other keys.
func (s *Store) WriteInfo(name string, fields map[string]any) error {
	return s.updateInfo(name, fields)
}

func (s *Store) updateInfo(name string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.readInfo(name)
	for k, v := range fields {
		info[k] = v
	}
	data, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		return &scraper.PersistenceError{Path: s.infoPath(name), Op: "encode", Err: err}
	}
	return scraper.WriteFileAtomic(s.infoPath(name), data, 0644)
}

func (s *Store) readInfo(name string) map[string]any {
	info := map[string]any{}
	data, err := os.ReadFile(s.infoPath(name))
	if err != nil {
		return info
	}
	if err := json.Unmarshal(data, &info); err != nil || info == nil {
		s.logger.Warn("ignoring corrupt info.json", "name", name, "error", err)
		return map[string]any{}
	}
	return info
}

func (s *Store) infoPath(name string) string {
	return filepath.Join(s.dataPackDir, name, "info.json")
}

func (s *Store) thumbnailPath(name string) string {
	return filepath.Join(s.dataPackDir, name, "thumbnail.jpg")
}

func isInstalledArchive(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, e := range InstalledExts {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
