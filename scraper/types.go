package scraper

import (
	"encoding/json"
)

// Unknown fills metadata fields missing from the detail table.
const Unknown = "Unknown"

// CatalogEntry is one row of the catalog index.
type CatalogEntry struct {
	Title         string `json:"Title"`
	PageURL       string `json:"Page URL"`
	Tags          string `json:"Tags"`
	ThumbnailPath string `json:"Thumbnail"`
}

// DetailRecord is the parsed content of a map detail page.
type DetailRecord struct {
	Title           string   `json:"Title"`
	Author          string   `json:"Author"`
	OriginalRelease string   `json:"Original Release"`
	PostedDate      string   `json:"Posted Date"`
	ArchiveFilename string   `json:"BSP Filename"`
	DownloadURLs    []string `json:"Download List"`
	Description     string   `json:"Description"`
	ScreenshotURLs  []string `json:"Screenshots"`
	AdditionalInfo  string   `json:"Added Info"`
}

// EmptyDetail returns the record used when a detail page could not be scraped.
func EmptyDetail() DetailRecord {
	return DetailRecord{
		Author:          Unknown,
		OriginalRelease: Unknown,
		PostedDate:      Unknown,
		ArchiveFilename: Unknown,
		DownloadURLs:    []string{},
		ScreenshotURLs:  []string{},
	}
}

// UnmarshalJSON decodes an index row leniently: a missing or non-string field
// becomes the empty string instead of failing the whole index.
func (e *CatalogEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = CatalogEntry{
		Title:         stringField(raw, "Title", ""),
		PageURL:       stringField(raw, "Page URL", ""),
		Tags:          stringField(raw, "Tags", ""),
		ThumbnailPath: stringField(raw, "Thumbnail", ""),
	}
	return nil
}

// UnmarshalJSON decodes a cached detail record. Records written by older
// versions may lack keys entirely (a failed scrape was stored as {}).
func (d *DetailRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = DetailRecord{
		Title:           stringField(raw, "Title", ""),
		Author:          stringField(raw, "Author", Unknown),
		OriginalRelease: stringField(raw, "Original Release", Unknown),
		PostedDate:      stringField(raw, "Posted Date", Unknown),
		ArchiveFilename: stringField(raw, "BSP Filename", Unknown),
		DownloadURLs:    stringsField(raw, "Download List"),
		Description:     stringField(raw, "Description", ""),
		ScreenshotURLs:  stringsField(raw, "Screenshots"),
		AdditionalInfo:  stringField(raw, "Added Info", ""),
	}
	return nil
}

func stringField(raw map[string]json.RawMessage, key, fallback string) string {
	msg, ok := raw[key]
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return fallback
	}
	return s
}

func stringsField(raw map[string]json.RawMessage, key string) []string {
	out := []string{}
	msg, ok := raw[key]
	if !ok {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(msg, &items); err != nil {
		return out
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}
