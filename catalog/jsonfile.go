package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"scmap-manager/scraper"
)

// ReadJSON decodes the file at path into v. It reports false with a nil error
// when the file does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &scraper.PersistenceError{Path: path, Op: "read", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, &scraper.PersistenceError{Path: path, Op: "decode", Err: err}
	}
	return true, nil
}

// WriteJSON replaces the file at path with v, pretty-printed with four-space
// indentation. Non-ASCII text is written literally. HTML escaping is turned off
// for plain values only: types with their own MarshalJSON, such as the ordered
// Index, still emit &, < and > as \u0026, \u003c and \u003e. Both forms decode
// to the same strings.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return &scraper.PersistenceError{Path: path, Op: "encode", Err: err}
	}
	return scraper.WriteFileAtomic(path, bytes.TrimRight(buf.Bytes(), "\n"), 0644)
}

// jsonFile is a JSON object file held in memory and rewritten whole on every
// change. Reads of a missing or corrupt file start from an empty object.
type jsonFile[V any] struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	data   map[string]V
}

func newJSONFile[V any](path string, logger *slog.Logger) *jsonFile[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &jsonFile[V]{path: path, logger: logger}
}

// ensureLoaded must be called with mu held.
func (f *jsonFile[V]) ensureLoaded() {
	if f.loaded {
		return
	}
	f.loaded = true
	f.data = make(map[string]V)
	if _, err := ReadJSON(f.path, &f.data); err != nil {
		f.logger.Warn("ignoring unreadable cache file", "path", f.path, "error", err)
		f.data = make(map[string]V)
	}
}

func (f *jsonFile[V]) get(key string) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLoaded()
	v, ok := f.data[key]
	return v, ok
}

// put stores v in memory and persists the whole object. The in-memory value
// is kept even when the write fails.
func (f *jsonFile[V]) put(key string, v V) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLoaded()
	f.data[key] = v
	return WriteJSON(f.path, f.data)
}

// deleteWhere removes every key whose value matches and persists if anything
// changed. It returns the number of removed keys.
func (f *jsonFile[V]) deleteWhere(match func(key string, v V) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLoaded()
	removed := 0
	for k, v := range f.data {
		if match(k, v) {
			delete(f.data, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, WriteJSON(f.path, f.data)
}

func (f *jsonFile[V]) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLoaded()
	out := make([]string, 0, len(f.data))
	for k := range f.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
