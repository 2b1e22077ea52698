package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scmap-manager/scraper"
)

// DefaultPageSize is the number of results per page.
const DefaultPageSize = 60

// Search filters entries by query. A blank query returns every entry. Otherwise
// the query is lower-cased and split on whitespace, and an entry matches when
// any term is a substring of its lower-cased title or tags. Matches keep their
// original order.
func Search(query string, entries []scraper.CatalogEntry) []scraper.CatalogEntry {
	lower := cases.Lower(language.Und)
	terms := strings.Fields(lower.String(query))
	if len(terms) == 0 {
		out := make([]scraper.CatalogEntry, len(entries))
		copy(out, entries)
		return out
	}

	out := make([]scraper.CatalogEntry, 0)
	for _, entry := range entries {
		title := lower.String(entry.Title)
		tags := lower.String(entry.Tags)
		for _, term := range terms {
			if strings.Contains(title, term) || strings.Contains(tags, term) {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}

// TotalPages is ceil(n / pageSize), never less than 1.
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if n <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

// Paginate returns the 1-based page of results. A page outside the result set
// yields an empty slice.
func Paginate(results []scraper.CatalogEntry, page, pageSize int) []scraper.CatalogEntry {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return []scraper.CatalogEntry{}
	}
	start := (page - 1) * pageSize
	if start >= len(results) {
		return []scraper.CatalogEntry{}
	}
	end := min(start+pageSize, len(results))
	return results[start:end]
}
