package catalog

import (
	"log/slog"

	"scmap-manager/scraper"
)

// DetailStore caches detail records by title; entries never expire.
type DetailStore interface {
	GetOrCompute(title string, compute func() (scraper.DetailRecord, error)) scraper.DetailRecord
	Invalidate(title string) error
}

// DetailCache persists title -> DetailRecord in a single JSON object file.
type DetailCache struct {
	file   *jsonFile[scraper.DetailRecord]
	logger *slog.Logger
}

var _ DetailStore = (*DetailCache)(nil)

func NewDetailCache(path string, logger *slog.Logger) *DetailCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailCache{file: newJSONFile[scraper.DetailRecord](path, logger), logger: logger}
}

// Get returns the cached record for title, if any.
func (c *DetailCache) Get(title string) (scraper.DetailRecord, bool) {
	return c.file.get(title)
}

// GetOrCompute returns the cached record for title or computes, stores and
// returns it. A compute error is not cached: the degraded record it came with
// is returned for this call only. A failed save is logged and the computed
// record is still returned.
func (c *DetailCache) GetOrCompute(title string, compute func() (scraper.DetailRecord, error)) scraper.DetailRecord {
	if record, ok := c.file.get(title); ok {
		c.logger.Debug("detail cache hit", "title", title)
		return record
	}

	record, err := compute()
	if err != nil {
		c.logger.Warn("detail not cached after failed scrape", "title", title, "error", err)
		return record
	}
	if err := c.file.put(title, record); err != nil {
		c.logger.Warn("failed to persist detail cache", "title", title, "error", err)
	}
	return record
}

// Invalidate drops the cached record for title.
func (c *DetailCache) Invalidate(title string) error {
	_, err := c.file.deleteWhere(func(key string, _ scraper.DetailRecord) bool {
		return key == title
	})
	return err
}

// Titles lists the cached titles in sorted order.
func (c *DetailCache) Titles() []string {
	return c.file.keys()
}
