package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"scmap-manager/scraper"
)

func TestWriteJSONReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Data", "CDN_Content.json")

	if err := WriteJSON(path, map[string]string{"a": "1"}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSON(path, map[string]string{"a": "2"}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var got map[string]string
	if found, err := ReadJSON(path, &got); !found || err != nil {
		t.Fatalf("read back: found=%v err=%v", found, err)
	}
	if got["a"] != "2" {
		t.Fatalf("expected replaced content, got %v", got)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "Data", ".*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestWriteJSONFailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	if err := WriteJSON(path, map[string]string{"a": "1"}); err != nil {
		t.Fatal(err)
	}

	err := WriteJSON(path, map[string]any{"bad": func() {}})
	var perr *scraper.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "encode" {
		t.Fatalf("expected encode PersistenceError, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n    \"a\": \"1\"\n}" {
		t.Fatalf("old file changed: %q", data)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var v map[string]string
	found, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if found || err != nil {
		t.Fatalf("expected not found without error, got found=%v err=%v", found, err)
	}
}

func TestDetailCacheGetOrCompute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CDN_Content.json")
	cache := NewDetailCache(path, nil)

	calls := 0
	record := scraper.EmptyDetail()
	record.Title = "Map"
	record.Author = "someone"
	record.DownloadURLs = []string{"http://x/map.zip"}
	compute := func() (scraper.DetailRecord, error) {
		calls++
		return record, nil
	}

	first := cache.GetOrCompute("Map", compute)
	second := cache.GetOrCompute("Map", compute)
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
	if !reflect.DeepEqual(first, record) || !reflect.DeepEqual(second, record) {
		t.Fatalf("cached record differs: %+v / %+v", first, second)
	}

	reopened := NewDetailCache(path, nil)
	got, ok := reopened.Get("Map")
	if !ok {
		t.Fatal("record not persisted")
	}
	if !reflect.DeepEqual(got, record) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, record)
	}
}

func TestDetailCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewDetailCache(filepath.Join(t.TempDir(), "CDN_Content.json"), nil)

	calls := 0
	failing := func() (scraper.DetailRecord, error) {
		calls++
		return scraper.EmptyDetail(), errors.New("offline")
	}
	got := cache.GetOrCompute("Map", failing)
	if got.Author != scraper.Unknown {
		t.Fatalf("expected degraded record, got %+v", got)
	}
	cache.GetOrCompute("Map", failing)
	if calls != 2 {
		t.Fatalf("failed scrape should be retried on next view, computed %d times", calls)
	}
	if _, ok := cache.Get("Map"); ok {
		t.Fatal("failed scrape was cached")
	}
}

func TestDetailCacheInvalidate(t *testing.T) {
	cache := NewDetailCache(filepath.Join(t.TempDir(), "CDN_Content.json"), nil)
	cache.GetOrCompute("Map", func() (scraper.DetailRecord, error) { return scraper.EmptyDetail(), nil })
	if err := cache.Invalidate("Map"); err != nil {
		t.Fatal(err)
	}
	if len(cache.Titles()) != 0 {
		t.Fatalf("expected empty cache, got %v", cache.Titles())
	}
}

func TestDetailCacheToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CDN_Content.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	cache := NewDetailCache(path, nil)
	if _, ok := cache.Get("Map"); ok {
		t.Fatal("corrupt cache should read as empty")
	}
}

func TestDownloadCacheRemoval(t *testing.T) {
	cache := NewDownloadCache(filepath.Join(t.TempDir(), "Download_Cache.json"), nil)
	records := map[string]DownloadRecord{
		"http://x/a": {ZipName: "Alpha.zip", Title: "Alpha", URL: "http://cdn/Alpha.zip"},
		"http://x/b": {ZipName: "beta_v2.7z", Title: " Beta ", URL: "http://cdn/beta_v2.7z"},
		"http://x/c": {ZipName: "gamma.zip", Title: "Gamma", URL: "http://cdn/gamma.zip"},
	}
	for key, rec := range records {
		if err := cache.Record(key, rec); err != nil {
			t.Fatal(err)
		}
	}
	if !cache.Has("http://x/a") || cache.Has("http://x/z") {
		t.Fatal("membership mismatch")
	}

	n, err := cache.RemoveByTitle("Beta")
	if err != nil || n != 1 {
		t.Fatalf("RemoveByTitle = %d, %v", n, err)
	}
	n, err = cache.RemoveByArchive("ALPHA")
	if err != nil || n != 1 {
		t.Fatalf("RemoveByArchive = %d, %v", n, err)
	}
	n, err = cache.RemoveByArchive("nothing")
	if err != nil || n != 0 {
		t.Fatalf("RemoveByArchive on unknown = %d, %v", n, err)
	}

	if got := cache.PageURLs(); !reflect.DeepEqual(got, []string{"http://x/c"}) {
		t.Fatalf("remaining records = %v", got)
	}
}
