package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scmap-manager/scraper"
)

const gameFolderKey = "Game_Folder"

// AddonDirName is the game subdirectory third-party maps are installed into.
const AddonDirName = "svencoop_addon"

// Settings is the user-editable config.json next to the data root. Only
// Game_Folder is interpreted; other keys are kept as they are.
type Settings struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

// OpenSettings reads path, creating it with an empty Game_Folder when absent.
func OpenSettings(path string) (*Settings, error) {
	s := &Settings{path: path, values: map[string]any{gameFolderKey: ""}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, &scraper.PersistenceError{Path: path, Op: "read", Err: err}
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, &scraper.PersistenceError{Path: path, Op: "decode", Err: err}
	}
	if s.values == nil {
		s.values = map[string]any{}
	}
	return s, nil
}

// GameFolder returns the configured game install directory, "" when unset.
func (s *Settings) GameFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, _ := s.values[gameFolderKey].(string)
	return strings.TrimSpace(folder)
}

func (s *Settings) SetGameFolder(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder = strings.TrimSpace(folder)
	if folder != "" {
		folder = filepath.Clean(folder)
	}
	s.values[gameFolderKey] = folder
	return s.save()
}

// AddonDir is <Game_Folder>/svencoop_addon, or "" when no game folder is set.
func (s *Settings) AddonDir() string {
	folder := s.GameFolder()
	if folder == "" {
		return ""
	}
	return filepath.Join(folder, AddonDirName)
}

func (s *Settings) save() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s.values); err != nil {
		return &scraper.PersistenceError{Path: s.path, Op: "encode", Err: err}
	}
	return scraper.WriteFileAtomic(s.path, buf.Bytes(), 0644)
}
