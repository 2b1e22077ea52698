package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ListingItem is one listing entry whose thumbnail has not been stored yet.
type ListingItem struct {
	Entry        CatalogEntry
	ThumbnailURL string
}

// TitleSet hands out titles that are unique within one crawl run.
type TitleSet struct {
	seen map[string]struct{}
}

func NewTitleSet() *TitleSet {
	return &TitleSet{seen: make(map[string]struct{})}
}

// Claim returns title, or title_1, title_2, ... for repeats, and reserves it.
func (s *TitleSet) Claim(title string) string {
	key := title
	for n := 1; s.has(key); n++ {
		key = title + "_" + strconv.Itoa(n)
	}
	s.seen[key] = struct{}{}
	return key
}

// Reserve marks title as taken without renaming it.
func (s *TitleSet) Reserve(title string) {
	s.seen[title] = struct{}{}
}

func (s *TitleSet) has(title string) bool {
	_, ok := s.seen[title]
	return ok
}

// ParsePageCount reads the "page N of M" marker of a listing page.
// It returns 1 when the marker is absent or unparsable.
func ParsePageCount(markup string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return 1
	}
	marker := doc.Find("#page-content div.list-pages-box > p").First()
	if marker.Length() == 0 {
		return 1
	}
	fields := strings.Fields(marker.Text())
	if len(fields) == 0 {
		return 1
	}
	total, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || total < 1 {
		return 1
	}
	return total
}

// ParseListing extracts the catalog entries of one listing page in document
// order. Items without a title are skipped; a malformed item is logged and
// skipped without affecting the rest of the page.
func ParseListing(markup, baseURL string, page int, titles *TitleSet, logger *slog.Logger) ([]ListingItem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if titles == nil {
		titles = NewTitleSet()
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ParseError{What: "base url", Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, &ParseError{What: fmt.Sprintf("listing page %d", page), Err: err}
	}

	var items []ListingItem
	doc.Find("div.list-pages-item").Each(func(i int, node *goquery.Selection) {
		item, ok, err := parseListingItem(node, base)
		if err != nil {
			logger.Warn("skipping malformed listing item", "page", page, "index", i, "error", err)
			return
		}
		if !ok {
			return
		}
		item.Entry.Title = titles.Claim(item.Entry.Title)
		items = append(items, item)
	})
	return items, nil
}

func parseListingItem(node *goquery.Selection, base *url.URL) (ListingItem, bool, error) {
	link := node.Find("div.lister-item-title p a").First()
	if link.Length() == 0 {
		return ListingItem{}, false, nil
	}
	title := strings.TrimSpace(link.Text())
	if title == "" {
		return ListingItem{}, false, nil
	}

	href, _ := link.Attr("href")
	pageURL, err := resolveURL(base, href)
	if err != nil {
		return ListingItem{}, false, &ParseError{What: "item link " + strconv.Quote(href), Err: err}
	}

	item := ListingItem{
		Entry: CatalogEntry{
			Title:   title,
			PageURL: pageURL,
			Tags:    joinedText(node.Find("div.lister-item-tags p").First()),
		},
	}

	if img := node.Find("div.lister-item-image a img").First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			thumb, err := resolveURL(base, src)
			if err != nil {
				return ListingItem{}, false, &ParseError{What: "thumbnail " + strconv.Quote(src), Err: err}
			}
			item.ThumbnailURL = thumb
		}
	}
	return item, true, nil
}

// resolveURL makes href absolute against base.
func resolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// joinedText concatenates every non-blank text node under sel, each trimmed,
// separated by single spaces.
func joinedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
