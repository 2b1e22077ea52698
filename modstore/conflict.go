package modstore

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type ConflictGroup struct {
	Archives []string `json:"archives"`
	Files    []string `json:"files"`
	Severity string   `json:"severity"` // "critical", "warning", "info"
}

type ConflictResult struct {
	TotalConflicts int             `json:"total_conflicts"`
	ConflictGroups []ConflictGroup `json:"conflict_groups"`
	Unreadable     []string        `json:"unreadable"`
}

// ConflictProgress is reported after each archive is listed.
type ConflictProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Archive string `json:"archive"`
}

// ConflictSeverity ranks a conflicting file path.
func ConflictSeverity(filePath string) string {
	lower := strings.ToLower(strings.ReplaceAll(filePath, "\\", "/"))

	// map files and their configs
	if strings.HasSuffix(lower, ".bsp") {
		return SeverityCritical
	}
	if strings.HasPrefix(lower, "maps/") && (strings.HasSuffix(lower, ".cfg") || strings.HasSuffix(lower, ".res")) {
		return SeverityCritical
	}

	// shared assets
	if strings.HasSuffix(lower, ".wad") || strings.HasSuffix(lower, ".mdl") || strings.HasSuffix(lower, ".spr") {
		return SeverityWarning
	}
	if strings.HasPrefix(lower, "sound/") {
		return SeverityWarning
	}

	return SeverityInfo
}

// conflictKey normalizes an archive entry to the path it lands at in the
// addon directory. Packaging prefixes and readme files are dropped.
func conflictKey(entry string) string {
	lower := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(entry, "\\", "/")))
	for _, prefix := range []string{"svencoop_addon/", "svencoop/"} {
		lower = strings.TrimPrefix(lower, prefix)
	}
	if lower == "" {
		return ""
	}
	base := filepath.Base(lower)
	if !strings.Contains(lower, "/") && (strings.HasPrefix(base, "readme") || strings.HasSuffix(base, ".url")) {
		return ""
	}
	return lower
}

// CheckConflicts lists every installed archive on pool and groups the files
// shipped by more than one archive. progress may be nil.
func (s *Store) CheckConflicts(pool *ants.Pool, progress func(ConflictProgress)) (*ConflictResult, error) {
	mods, err := s.List()
	if err != nil {
		return nil, err
	}
	total := len(mods)
	if total == 0 {
		return &ConflictResult{ConflictGroups: []ConflictGroup{}, Unreadable: []string{}}, nil
	}
	report := func(p ConflictProgress) {
		if progress != nil {
			progress(p)
		}
	}
	report(ConflictProgress{Current: 0, Total: total})

	// file path -> archives
	fileMap := make(map[string][]string)
	var unreadable []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	processed := 0

	scan := func(mod ModInfo) {
		files, err := ListArchive(mod.Path)

		mu.Lock()
		defer mu.Unlock()
		processed++
		report(ConflictProgress{Current: processed, Total: total, Archive: mod.FileName})

		if err != nil {
			s.logger.Warn("failed to list archive", "path", mod.Path, "error", err)
			unreadable = append(unreadable, mod.FileName)
			return
		}
		seen := make(map[string]bool, len(files))
		for _, f := range files {
			key := conflictKey(f)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			fileMap[key] = append(fileMap[key], mod.FileName)
		}
	}

	for _, mod := range mods {
		m := mod
		if pool == nil {
			scan(m)
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			scan(m)
		}); err != nil {
			wg.Done()
			scan(m)
		}
	}
	wg.Wait()

	// archive set -> conflicting files
	// key: "a.zip|b.7z" (sorted)
	conflictMap := make(map[string][]string)
	for f, archives := range fileMap {
		if len(archives) > 1 {
			sort.Strings(archives)
			key := strings.Join(archives, "|")
			conflictMap[key] = append(conflictMap[key], f)
		}
	}

	groups := make([]ConflictGroup, 0, len(conflictMap))
	for key, files := range conflictMap {
		sort.Strings(files)
		severity := SeverityInfo
		for _, f := range files {
			sev := ConflictSeverity(f)
			if sev == SeverityCritical {
				severity = SeverityCritical
				break
			}
			if sev == SeverityWarning {
				severity = SeverityWarning
			}
		}
		groups = append(groups, ConflictGroup{
			Archives: strings.Split(key, "|"),
			Files:    files,
			Severity: severity,
		})
	}

	severityOrder := map[string]int{SeverityCritical: 3, SeverityWarning: 2, SeverityInfo: 1}
	sort.Slice(groups, func(i, j int) bool {
		si, sj := severityOrder[groups[i].Severity], severityOrder[groups[j].Severity]
		if si != sj {
			return si > sj
		}
		if len(groups[i].Files) != len(groups[j].Files) {
			return len(groups[i].Files) > len(groups[j].Files)
		}
		return strings.Join(groups[i].Archives, "|") < strings.Join(groups[j].Archives, "|")
	})

	sort.Strings(unreadable)
	if unreadable == nil {
		unreadable = []string{}
	}
	s.logger.Info("conflict check finished", "archives", total, "groups", len(groups))
	return &ConflictResult{
		TotalConflicts: len(groups),
		ConflictGroups: groups,
		Unreadable:     unreadable,
	}, nil
}

// Contents lists the files of an installed mod archive.
func (s *Store) Contents(name string) ([]string, error) {
	path, err := s.ArchivePath(name)
	if err != nil {
		return nil, err
	}
	files, err := ListArchive(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", filepath.Base(path), err)
	}
	return files, nil
}
