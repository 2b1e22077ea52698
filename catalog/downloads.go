package catalog

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// DownloadRecord remembers which archive was downloaded for a map page.
type DownloadRecord struct {
	ZipName string `json:"zipName"`
	Title   string `json:"Title"`
	URL     string `json:"URL"`
}

// DownloadCache tracks downloaded archives keyed by the entry's page URL.
type DownloadCache struct {
	file *jsonFile[DownloadRecord]
}

func NewDownloadCache(path string, logger *slog.Logger) *DownloadCache {
	return &DownloadCache{file: newJSONFile[DownloadRecord](path, logger)}
}

func (c *DownloadCache) Has(pageURL string) bool {
	_, ok := c.file.get(pageURL)
	return ok
}

func (c *DownloadCache) Get(pageURL string) (DownloadRecord, bool) {
	return c.file.get(pageURL)
}

// Record stores rec for pageURL, replacing any previous record.
func (c *DownloadCache) Record(pageURL string, rec DownloadRecord) error {
	return c.file.put(pageURL, rec)
}

// RemoveByTitle drops every record whose title matches, ignoring surrounding
// whitespace.
func (c *DownloadCache) RemoveByTitle(title string) (int, error) {
	want := strings.TrimSpace(title)
	return c.file.deleteWhere(func(_ string, rec DownloadRecord) bool {
		return strings.TrimSpace(rec.Title) == want
	})
}

// RemoveByArchive drops every record whose archive name without extension
// equals name, case-insensitively.
func (c *DownloadCache) RemoveByArchive(name string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	return c.file.deleteWhere(func(_ string, rec DownloadRecord) bool {
		stem := strings.TrimSuffix(rec.ZipName, filepath.Ext(rec.ZipName))
		return strings.ToLower(strings.TrimSpace(stem)) == want
	})
}

// PageURLs lists the page URLs with a download record.
func (c *DownloadCache) PageURLs() []string {
	return c.file.keys()
}
