package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	om "github.com/wk8/go-ordered-map/v2"

	"scmap-manager/scraper"
)

func listingPage(page, total int, titles ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><div id="page-content"><div class="list-pages-box"><p>page %d of %d</p>`, page, total)
	for _, title := range titles {
		slug := strings.ToLower(strings.ReplaceAll(title, " ", "-"))
		fmt.Fprintf(&b, `<div class="list-pages-item">
<div class="lister-item-image"><a href="/%[1]s"><img src="/thumbs/%[1]s.jpg"></a></div>
<div class="lister-item-title"><p><a href="/%[1]s">%[2]s</a></p></div>
<div class="lister-item-tags"><p>tag%[3]d</p></div>
</div>`, slug, title, page)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

type crawlSite struct {
	server      *httptest.Server
	thumbHits   atomic.Int32
	listingHits atomic.Int32

	mu    sync.Mutex
	pages map[string]string
}

func newCrawlSite(t *testing.T, pages map[string]string) *crawlSite {
	t.Helper()
	site := &crawlSite{pages: pages}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/thumbs/") {
			site.thumbHits.Add(1)
			_, _ = w.Write([]byte("jpeg"))
			return
		}
		site.mu.Lock()
		body, ok := site.pages[r.URL.Path]
		site.mu.Unlock()
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		site.listingHits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(site.server.Close)
	return site
}

// setPage changes what the site serves at path.
func (s *crawlSite) setPage(path, body string) {
	s.mu.Lock()
	s.pages[path] = body
	s.mu.Unlock()
}

func newTestBuilder(t *testing.T, baseURL, root string) *Builder {
	t.Helper()
	client := scraper.NewClient(5 * time.Second)
	fetcher := scraper.NewFetcher(client, filepath.Join(root, "html", "page"), nil, nil)
	thumbs := scraper.NewMaterializer(client, filepath.Join(root, "thumbs"), nil, nil)
	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Release)
	return NewBuilder(baseURL, filepath.Join(root, "CDN_List.json"), fetcher, thumbs, pool, nil)
}

func TestBuildSkipsFailedPagesAndLoadsNewestFirst(t *testing.T) {
	site := newCrawlSite(t, map[string]string{
		"/tag:all/p/1": listingPage(1, 3, "Alpha", "Map"),
		// page 2 is missing and answers 500
		"/tag:all/p/3": listingPage(3, 3, "Map", "Omega"),
	})
	root := t.TempDir()
	builder := newTestBuilder(t, site.server.URL, root)

	var reports []ProgressInfo
	builder.OnProgress = func(p ProgressInfo) { reports = append(reports, p) }

	if builder.Exists() {
		t.Fatal("index should not exist before the first build")
	}
	index, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !builder.Exists() {
		t.Fatal("index file not written")
	}

	wantKeys := []string{"Alpha", "Map", "Map_1", "Omega"}
	var keys []string
	for pair := index.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Fatalf("index keys = %v, want %v", keys, wantKeys)
	}
	if len(reports) != 3 || reports[2].Current != 3 || reports[2].Total != 3 {
		t.Fatalf("unexpected progress reports: %+v", reports)
	}

	loaded, err := builder.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := titlesOf(loaded); !reflect.DeepEqual(got, []string{"Omega", "Map_1", "Map", "Alpha"}) {
		t.Fatalf("load order = %v", got)
	}

	mapOne := loaded[1]
	if mapOne.PageURL != site.server.URL+"/map" || mapOne.Tags != "tag3" {
		t.Fatalf("unexpected renamed entry: %+v", mapOne)
	}
	wantThumb := filepath.Join(root, "thumbs", "Map_1_3.jpg")
	if mapOne.ThumbnailPath != wantThumb {
		t.Fatalf("thumbnail path = %q, want %q", mapOne.ThumbnailPath, wantThumb)
	}
	if _, err := os.Stat(wantThumb); err != nil {
		t.Fatalf("thumbnail not materialized: %v", err)
	}
}

func TestBuildFirstPageFailure(t *testing.T) {
	site := newCrawlSite(t, map[string]string{})
	builder := newTestBuilder(t, site.server.URL, t.TempDir())

	_, err := builder.Build(context.Background())
	var fetchErr *scraper.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected a FetchError, got %v", err)
	}
	if builder.Exists() {
		t.Fatal("no index must be written when page 1 fails")
	}
}

func TestRebuildMergesWithoutPruning(t *testing.T) {
	root := t.TempDir()
	indexPath := filepath.Join(root, "CDN_List.json")

	existing := om.New[string, scraper.CatalogEntry]()
	existing.Set("Retired", scraper.CatalogEntry{Title: "Retired", PageURL: "http://old/retired", Tags: "old"})
	existing.Set("Alpha", scraper.CatalogEntry{Title: "Alpha", PageURL: "http://old/alpha", Tags: "stale"})
	if err := WriteJSON(indexPath, existing); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	site := newCrawlSite(t, map[string]string{
		"/tag:all/p/1": listingPage(1, 1, "Alpha", "Beta"),
	})
	builder := newTestBuilder(t, site.server.URL, root)
	if _, err := builder.Build(context.Background()); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	loaded, err := builder.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := titlesOf(loaded); !reflect.DeepEqual(got, []string{"Beta", "Alpha", "Retired"}) {
		t.Fatalf("merged order = %v", got)
	}
	if loaded[1].Tags != "tag1" {
		t.Fatalf("existing entry not refreshed: %+v", loaded[1])
	}
}

func TestBuildReusesCachedPages(t *testing.T) {
	site := newCrawlSite(t, map[string]string{
		"/tag:all/p/1": listingPage(1, 2, "Alpha"),
		"/tag:all/p/2": listingPage(2, 2, "Beta"),
	})
	root := t.TempDir()
	builder := newTestBuilder(t, site.server.URL, root)

	for i := 0; i < 2; i++ {
		if _, err := builder.Build(context.Background()); err != nil {
			t.Fatalf("build %d failed: %v", i, err)
		}
	}
	if got := site.listingHits.Load(); got != 2 {
		t.Fatalf("expected each listing page fetched once, got %d", got)
	}
	if got := site.thumbHits.Load(); got != 2 {
		t.Fatalf("expected each thumbnail fetched once, got %d", got)
	}
}

func TestRefreshRefetchesChangedPages(t *testing.T) {
	site := newCrawlSite(t, map[string]string{
		"/tag:all/p/1": listingPage(1, 1, "Alpha"),
	})
	root := t.TempDir()
	builder := newTestBuilder(t, site.server.URL, root)

	if _, err := builder.Build(context.Background()); err != nil {
		t.Fatalf("initial build failed: %v", err)
	}

	updated := listingPage(1, 1, "Alpha", "NewMap")
	site.setPage("/tag:all/p/1", updated)

	// a plain build still reads the page cache
	index, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("cached build failed: %v", err)
	}
	if _, ok := index.Get("NewMap"); ok {
		t.Fatal("cached build should not have contacted the site")
	}

	index, err = builder.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, ok := index.Get("NewMap"); !ok {
		t.Fatalf("refresh missed the new map, index has %d entries", index.Len())
	}
	if got := site.listingHits.Load(); got != 2 {
		t.Fatalf("listing fetches = %d, want 2", got)
	}

	cached, err := os.ReadFile(filepath.Join(root, "html", "page", scraper.PageCacheKey(1)))
	if err != nil {
		t.Fatalf("read page cache: %v", err)
	}
	if string(cached) != updated {
		t.Fatal("page cache not replaced by the refreshed page")
	}
}

func TestRefreshKeepsCacheWhenSiteFails(t *testing.T) {
	site := newCrawlSite(t, map[string]string{
		"/tag:all/p/1": listingPage(1, 1, "Alpha"),
	})
	root := t.TempDir()
	builder := newTestBuilder(t, site.server.URL, root)
	if _, err := builder.Build(context.Background()); err != nil {
		t.Fatalf("initial build failed: %v", err)
	}

	site.mu.Lock()
	delete(site.pages, "/tag:all/p/1")
	site.mu.Unlock()

	var fetchErr *scraper.FetchError
	if _, err := builder.Refresh(context.Background()); !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "html", "page", scraper.PageCacheKey(1))); err != nil {
		t.Fatalf("page cache lost: %v", err)
	}
	loaded, err := builder.Load()
	if err != nil || len(loaded) != 1 {
		t.Fatalf("index changed after failed refresh: %v, %v", loaded, err)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CDN_List.json")
	entries := []scraper.CatalogEntry{
		{Title: "Dürer's <Keep>", PageURL: "http://x/keep?a=1&b=2", Tags: "ctf & co", ThumbnailPath: ""},
		{Title: "Map_1", PageURL: "http://x/map", Tags: "", ThumbnailPath: "/tmp/Map_1_1.jpg"},
	}
	index := om.New[string, scraper.CatalogEntry]()
	for _, e := range entries {
		index.Set(e.Title, e)
	}
	if err := WriteJSON(path, index); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "Dürer") {
		t.Fatalf("non-ASCII text was escaped: %s", raw)
	}
	// the ordered map marshals its values with json.Marshal, so HTML
	// characters come out escaped regardless of the encoder setting
	if !strings.Contains(string(raw), `a=1\u0026b=2`) {
		t.Fatalf("expected & escaped as \\u0026: %s", raw)
	}
	if !strings.Contains(string(raw), `"Page URL"`) {
		t.Fatalf("unexpected field names: %s", raw)
	}

	builder := NewBuilder("http://x", path, nil, nil, nil, nil)
	loaded, err := builder.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []scraper.CatalogEntry{entries[1], entries[0]}
	if !reflect.DeepEqual(loaded, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, want)
	}
}

func TestLoadMissingIndex(t *testing.T) {
	builder := NewBuilder("http://x", filepath.Join(t.TempDir(), "none.json"), nil, nil, nil, nil)
	if _, err := builder.Load(); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("expected ErrIndexMissing, got %v", err)
	}
}
