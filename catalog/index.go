package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	om "github.com/wk8/go-ordered-map/v2"

	"scmap-manager/scraper"
)

// ErrIndexMissing is returned by Load when no index file has been built yet.
var ErrIndexMissing = errors.New("catalog index not built")

// Index maps title to entry in insertion order.
type Index = om.OrderedMap[string, scraper.CatalogEntry]

// ProgressInfo reports crawl progress per listing page.
type ProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Builder crawls the paginated listing into the on-disk catalog index.
type Builder struct {
	baseURL   string
	indexPath string
	fetcher   *scraper.Fetcher
	thumbs    *scraper.Materializer
	pool      *ants.Pool
	logger    *slog.Logger

	// OnProgress, when set, is called after every listing page.
	OnProgress func(ProgressInfo)
}

// NewBuilder wires a builder. pool may be nil, in which case thumbnails are
// materialized one after another.
func NewBuilder(baseURL, indexPath string, fetcher *scraper.Fetcher, thumbs *scraper.Materializer, pool *ants.Pool, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		indexPath: indexPath,
		fetcher:   fetcher,
		thumbs:    thumbs,
		pool:      pool,
		logger:    logger,
	}
}

// IndexPath is the file the index is persisted to.
func (b *Builder) IndexPath() string {
	return b.indexPath
}

// Exists reports whether an index file is present.
func (b *Builder) Exists() bool {
	info, err := os.Stat(b.indexPath)
	return err == nil && info.Mode().IsRegular()
}

// ListingURL is the address of a listing page.
func (b *Builder) ListingURL(page int) string {
	return b.baseURL + "/tag:all/p/" + strconv.Itoa(page)
}

// Build crawls every listing page and merges the entries into the index file.
// Entries already in the file are updated in place, new titles are appended and
// nothing is pruned. A page that cannot be fetched is skipped; only a failure
// on the first page, which carries the page count, aborts the build. Cached
// listing pages are reused.
//
// When writing the index fails the merged index is still returned, together
// with the *scraper.PersistenceError.
func (b *Builder) Build(ctx context.Context) (*Index, error) {
	return b.build(ctx, b.fetcher.Fetch)
}

// Refresh is Build with every listing page requested again; the page cache
// files are replaced by the fresh responses.
func (b *Builder) Refresh(ctx context.Context) (*Index, error) {
	return b.build(ctx, b.fetcher.Refetch)
}

type fetchFunc func(ctx context.Context, rawURL, cacheKey string) (string, error)

func (b *Builder) build(ctx context.Context, fetch fetchFunc) (*Index, error) {
	first, err := fetch(ctx, b.ListingURL(1), scraper.PageCacheKey(1))
	if err != nil {
		return nil, fmt.Errorf("fetch first listing page: %w", err)
	}
	total := scraper.ParsePageCount(first)
	b.logger.Info("catalog crawl started", "pages", total)

	crawled := om.New[string, scraper.CatalogEntry]()
	titles := scraper.NewTitleSet()

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		markup := first
		if page > 1 {
			markup, err = fetch(ctx, b.ListingURL(page), scraper.PageCacheKey(page))
			if err != nil {
				b.logger.Warn("skipping listing page", "page", page, "error", err)
				b.progress(page, total, "skipped page "+strconv.Itoa(page))
				continue
			}
		}

		items, err := scraper.ParseListing(markup, b.baseURL, page, titles, b.logger)
		if err != nil {
			b.logger.Warn("skipping unparsable listing page", "page", page, "error", err)
			b.progress(page, total, "skipped page "+strconv.Itoa(page))
			continue
		}

		b.materializeThumbnails(ctx, items, page)
		for _, item := range items {
			crawled.Set(item.Entry.Title, item.Entry)
		}
		b.progress(page, total, fmt.Sprintf("page %d of %d: %d maps", page, total, len(items)))
	}

	index, err := b.read()
	if err != nil {
		if !errors.Is(err, ErrIndexMissing) {
			b.logger.Warn("existing index unreadable, starting fresh", "path", b.indexPath, "error", err)
		}
		index = om.New[string, scraper.CatalogEntry]()
	}
	for pair := crawled.Oldest(); pair != nil; pair = pair.Next() {
		index.Set(pair.Key, pair.Value)
	}

	if err := WriteJSON(b.indexPath, index); err != nil {
		b.logger.Error("failed to write catalog index", "path", b.indexPath, "error", err)
		return index, err
	}
	b.logger.Info("catalog crawl finished", "entries", index.Len(), "crawled", crawled.Len())
	return index, nil
}

// materializeThumbnails fills ThumbnailPath for every item, concurrently when a
// pool is configured. It returns once all thumbnails are settled.
func (b *Builder) materializeThumbnails(ctx context.Context, items []scraper.ListingItem, page int) {
	if b.thumbs == nil {
		return
	}
	var wg sync.WaitGroup
	for i := range items {
		item := &items[i]
		if item.ThumbnailURL == "" {
			continue
		}
		task := func() {
			item.Entry.ThumbnailPath = b.thumbs.Materialize(ctx, item.ThumbnailURL, item.Entry.Title, page)
		}
		if b.pool == nil {
			task()
			continue
		}
		wg.Add(1)
		if err := b.pool.Submit(func() {
			defer wg.Done()
			task()
		}); err != nil {
			wg.Done()
			task()
		}
	}
	wg.Wait()
}

func (b *Builder) progress(current, total int, message string) {
	if b.OnProgress != nil {
		b.OnProgress(ProgressInfo{Current: current, Total: total, Message: message})
	}
}

func (b *Builder) read() (*Index, error) {
	index := om.New[string, scraper.CatalogEntry]()
	found, err := ReadJSON(b.indexPath, index)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrIndexMissing
	}
	return index, nil
}

// Load reads the index file and returns its entries newest-first, i.e. in
// reverse insertion order, which is the default display order.
func (b *Builder) Load() ([]scraper.CatalogEntry, error) {
	index, err := b.read()
	if err != nil {
		return nil, err
	}
	return Reversed(index), nil
}

// Reversed lists the entries of index in reverse insertion order.
func Reversed(index *Index) []scraper.CatalogEntry {
	out := make([]scraper.CatalogEntry, 0, index.Len())
	for pair := index.Newest(); pair != nil; pair = pair.Prev() {
		out = append(out, pair.Value)
	}
	return out
}
