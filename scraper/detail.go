package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const metaTable = "#page-content div.actualcontent_wrap div.new_leftside table"

var (
	archiveExtPattern = regexp.MustCompile(`(?i)\.(zip|7z|rar)$`)

	detailTitleSelector   = "#toc2 > span"
	authorSelector        = metaTable + " tr:nth-child(1) td:nth-child(2)"
	releaseSelector       = metaTable + " tr:nth-child(2) td:nth-child(1)"
	postedSelector        = metaTable + " tr:nth-child(3) td:nth-child(2)"
	archiveNameSelector   = metaTable + " tr:nth-child(4) td:nth-child(2)"
	downloadBlockSelector = "#page-content div.dl div.collapsible-block-content"
	gallerySelector       = ".gallery-box"
)

// FragmentRule selects the siblings that follow Start up to, not including,
// the first sibling whose tag is one of StopTags and whose id contains StopID.
type FragmentRule struct {
	Start    string
	StopTags []string
	StopID   string
}

var (
	DescriptionRule    = FragmentRule{Start: "#toc3", StopTags: []string{"h2"}, StopID: "toc4"}
	AdditionalInfoRule = FragmentRule{Start: "#toc3", StopTags: []string{"h2", "h3"}, StopID: "toc6"}
)

// DetailScraper fetches a map page and parses it into a DetailRecord.
type DetailScraper struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

func NewDetailScraper(fetcher *Fetcher, logger *slog.Logger) *DetailScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailScraper{fetcher: fetcher, logger: logger}
}

// Scrape never fails outright: on a fetch error it returns EmptyDetail along
// with the error so the caller may decide whether to keep the result.
func (s *DetailScraper) Scrape(ctx context.Context, pageURL string) (DetailRecord, error) {
	markup, err := s.fetcher.Fetch(ctx, pageURL, "")
	if err != nil {
		s.logger.Warn("detail scrape failed", "url", pageURL, "error", err)
		return EmptyDetail(), err
	}
	return ParseDetail(markup, pageURL), nil
}

// ParseDetail extracts a DetailRecord from detail page markup. Missing
// structure resolves to defaults.
func ParseDetail(markup, pageURL string) DetailRecord {
	record := EmptyDetail()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return record
	}
	base, _ := url.Parse(pageURL)

	record.Title = strings.TrimSpace(doc.Find(detailTitleSelector).First().Text())
	record.Author = textOr(doc, authorSelector, Unknown)
	record.OriginalRelease = textOr(doc, releaseSelector, Unknown)
	record.PostedDate = textOr(doc, postedSelector, Unknown)
	record.ArchiveFilename = textOr(doc, archiveNameSelector, Unknown)

	doc.Find(downloadBlockSelector).First().Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isArchiveLink(href) {
			return
		}
		record.DownloadURLs = append(record.DownloadURLs, absolute(base, href))
	})

	doc.Find(gallerySelector).First().Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		record.ScreenshotURLs = append(record.ScreenshotURLs, absolute(base, href))
	})

	record.Description = Fragment(doc, DescriptionRule)
	record.AdditionalInfo = Fragment(doc, AdditionalInfoRule)
	return record
}

// Fragment concatenates the outer HTML of the element siblings selected by rule.
// It returns "" when the start anchor is absent.
func Fragment(doc *goquery.Document, rule FragmentRule) string {
	start := doc.Find(rule.Start).First()
	if start.Length() == 0 {
		return ""
	}

	var sb strings.Builder
	start.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if rule.stopsAt(sib) {
			return false
		}
		if raw, err := goquery.OuterHtml(sib); err == nil {
			sb.WriteString(raw)
		}
		return true
	})
	return strings.TrimSpace(sb.String())
}

func (r FragmentRule) stopsAt(sib *goquery.Selection) bool {
	name := goquery.NodeName(sib)
	for _, tag := range r.StopTags {
		if name == tag {
			id, _ := sib.Attr("id")
			return strings.Contains(id, r.StopID)
		}
	}
	return false
}

func isArchiveLink(href string) bool {
	p := href
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		p = u.Path
	}
	return archiveExtPattern.MatchString(path.Clean("/" + p))
}

func absolute(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	resolved, err := resolveURL(base, href)
	if err != nil {
		return href
	}
	return resolved
}

func textOr(doc *goquery.Document, selector, fallback string) string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return fallback
	}
	return strings.TrimSpace(sel.Text())
}
