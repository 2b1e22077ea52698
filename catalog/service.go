package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"scmap-manager/scraper"
)

// Detailer scrapes a single detail page.
type Detailer interface {
	Scrape(ctx context.Context, pageURL string) (scraper.DetailRecord, error)
}

// Service is the catalog facade used by the desktop app and the CLI. It holds
// the loaded index in memory; callers are expected to run at most one build
// at a time.
type Service struct {
	builder   *Builder
	details   DetailStore
	detailer  Detailer
	downloads *DownloadCache
	pageSize  int
	logger    *slog.Logger

	mu      sync.RWMutex
	entries []scraper.CatalogEntry
}

// ServiceOptions are the collaborators of a Service.
type ServiceOptions struct {
	Builder   *Builder
	Details   DetailStore
	Detailer  Detailer
	Downloads *DownloadCache
	PageSize  int
	Logger    *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		builder:   opts.Builder,
		details:   opts.Details,
		detailer:  opts.Detailer,
		downloads: opts.Downloads,
		pageSize:  pageSize,
		logger:    logger,
	}
}

// PageSize is the number of entries per result page.
func (s *Service) PageSize() int {
	return s.pageSize
}

// BuildOrLoadIndex builds the index when no index file exists yet and then
// loads it. An existing index is never rebuilt here, however stale.
//
// If the crawl succeeds but the index cannot be saved, the crawled entries are
// kept for this session and returned along with the error.
func (s *Service) BuildOrLoadIndex(ctx context.Context) ([]scraper.CatalogEntry, error) {
	if !s.builder.Exists() {
		s.logger.Info("no catalog index, crawling", "path", s.builder.IndexPath())
		return s.crawl(ctx, s.builder.Build)
	}
	return s.reload()
}

// Rebuild requests every listing page again and merges the result into the
// existing index. A save failure is handled as in BuildOrLoadIndex.
func (s *Service) Rebuild(ctx context.Context) ([]scraper.CatalogEntry, error) {
	return s.crawl(ctx, s.builder.Refresh)
}

func (s *Service) crawl(ctx context.Context, build func(context.Context) (*Index, error)) ([]scraper.CatalogEntry, error) {
	index, err := build(ctx)
	if err == nil {
		return s.reload()
	}
	var persistErr *scraper.PersistenceError
	if index == nil || !errors.As(err, &persistErr) {
		return nil, err
	}
	entries := Reversed(index)
	s.logger.Warn("catalog index not saved, using crawled entries for this session",
		"path", s.builder.IndexPath(), "entries", len(entries), "error", err)
	s.setEntries(entries)
	return entries, err
}

func (s *Service) reload() ([]scraper.CatalogEntry, error) {
	entries, err := s.builder.Load()
	if err != nil {
		return nil, err
	}
	s.setEntries(entries)
	s.logger.Info("catalog loaded", "entries", len(entries))
	return entries, nil
}

func (s *Service) setEntries(entries []scraper.CatalogEntry) {
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Entries returns the loaded index in display order.
func (s *Service) Entries() []scraper.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.CatalogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup finds a loaded entry by title.
func (s *Service) Lookup(title string) (scraper.CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Title == title {
			return e, true
		}
	}
	return scraper.CatalogEntry{}, false
}

// GetDetail returns the detail record for title, scraping pageURL only when
// the title has never been scraped successfully before.
func (s *Service) GetDetail(ctx context.Context, title, pageURL string) scraper.DetailRecord {
	record := s.details.GetOrCompute(title, func() (scraper.DetailRecord, error) {
		s.logger.Info("scraping detail page", "title", title, "url", pageURL)
		return s.detailer.Scrape(ctx, pageURL)
	})
	if strings.TrimSpace(record.Title) == "" || record.Title == scraper.Unknown {
		record.Title = title
	}
	return record
}

func (s *Service) Search(query string) []scraper.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Search(query, s.entries)
}

func (s *Service) Page(results []scraper.CatalogEntry, n int) []scraper.CatalogEntry {
	return Paginate(results, n, s.pageSize)
}

func (s *Service) TotalPages(results []scraper.CatalogEntry) int {
	return TotalPages(len(results), s.pageSize)
}

func (s *Service) IsDownloaded(pageURL string) bool {
	return s.downloads.Has(pageURL)
}

func (s *Service) RecordDownload(pageURL string, rec DownloadRecord) error {
	return s.downloads.Record(pageURL, rec)
}

func (s *Service) ForgetDownloadByTitle(title string) (int, error) {
	return s.downloads.RemoveByTitle(title)
}

func (s *Service) ForgetDownloadByArchive(name string) (int, error) {
	return s.downloads.RemoveByArchive(name)
}
