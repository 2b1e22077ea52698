package modstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"scmap-manager/scraper"
)

// Enabled lists the enabled mod names in the order they were enabled.
func (s *Store) Enabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadEnabled()
}

// SetEnabled adds or removes name from Enabled.json. With an Extractor
// configured the addon directory is brought in line: enabling extracts the
// archive, disabling clears the directory and re-extracts the remaining mods.
func (s *Store) SetEnabled(name string, enabled bool) error {
	archive, err := s.ArchivePath(name)
	if enabled && err != nil {
		return err
	}

	s.mu.Lock()
	list := s.loadEnabled()
	if enabled {
		list = with(list, name)
	} else {
		list = without(list, name)
	}
	err = s.saveEnabled(list)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.extractor == nil {
		return nil
	}
	if enabled {
		addon, err := s.requireAddonDir()
		if err != nil {
			return err
		}
		return s.extractor.Extract(archive, addon)
	}
	return s.resyncAddonDir(list)
}

// EnableAll marks every installed mod enabled.
func (s *Store) EnableAll() error {
	mods, err := s.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	list := s.loadEnabled()
	for _, mod := range mods {
		list = with(list, mod.Name)
	}
	err = s.saveEnabled(list)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.extractor == nil {
		return nil
	}
	addon, err := s.requireAddonDir()
	if err != nil {
		return err
	}
	var errs []error
	for _, mod := range mods {
		if err := s.extractor.Extract(mod.Path, addon); err != nil {
			s.logger.Warn("failed to extract mod", "name", mod.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", mod.Name, err))
		}
	}
	return errors.Join(errs...)
}

// DisableAll empties the enabled list.
func (s *Store) DisableAll() error {
	s.mu.Lock()
	err := s.saveEnabled([]string{})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.extractor == nil {
		return nil
	}
	return s.resyncAddonDir(nil)
}

// resyncAddonDir clears the addon directory and extracts enabled again.
func (s *Store) resyncAddonDir(enabled []string) error {
	addon, err := s.requireAddonDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(addon)
	if err != nil {
		return fmt.Errorf("read addon directory: %w", err)
	}
	for _, entry := range entries {
		path := filepath.Join(addon, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to clear addon entry", "path", path, "error", err)
		}
	}

	var errs []error
	for _, name := range enabled {
		archive, err := s.ArchivePath(name)
		if err != nil {
			s.logger.Warn("enabled mod has no archive", "name", name)
			continue
		}
		if err := s.extractor.Extract(archive, addon); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) requireAddonDir() (string, error) {
	addon := s.addonDir()
	if addon == "" {
		return "", ErrGameFolderUnset
	}
	if err := os.MkdirAll(addon, 0755); err != nil {
		return "", fmt.Errorf("create addon directory: %w", err)
	}
	return addon, nil
}

// loadEnabled must be called with mu held. A missing or corrupt file reads as
// an empty list.
func (s *Store) loadEnabled() []string {
	data, err := os.ReadFile(s.enabledPath)
	if err != nil {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("ignoring corrupt enabled list", "path", s.enabledPath, "error", err)
		return []string{}
	}
	return list
}

// saveEnabled must be called with mu held.
func (s *Store) saveEnabled(list []string) error {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return &scraper.PersistenceError{Path: s.enabledPath, Op: "encode", Err: err}
	}
	return scraper.WriteFileAtomic(s.enabledPath, data, 0644)
}

func with(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}

func without(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, n := range list {
		set[n] = true
	}
	return set
}
