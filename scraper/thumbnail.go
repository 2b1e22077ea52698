package scraper

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

var unsafeTitleChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeTitle replaces every character outside [A-Za-z0-9_-] with '_'.
func SanitizeTitle(title string) string {
	return unsafeTitleChars.ReplaceAllString(title, "_")
}

// Materializer downloads listing thumbnails once into a local directory.
type Materializer struct {
	client  *resty.Client
	dir     string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewMaterializer(client *resty.Client, dir string, limiter *rate.Limiter, logger *slog.Logger) *Materializer {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		client:  client,
		dir:     dir,
		limiter: limiter,
		logger:  logger,
	}
}

// Path is the deterministic local file for a title on a listing page.
func (m *Materializer) Path(title string, page int) string {
	return filepath.Join(m.dir, SanitizeTitle(title)+"_"+strconv.Itoa(page)+".jpg")
}

// Materialize makes sure the thumbnail for title exists locally and returns its
// path. An existing file is reused as is. Any failure yields "".
func (m *Materializer) Materialize(ctx context.Context, sourceURL, title string, page int) string {
	if sourceURL == "" {
		return ""
	}
	dest := m.Path(title, page)
	if fileExists(dest) {
		return dest
	}

	body, err := getBody(ctx, m.client, m.limiter, sourceURL)
	if err != nil {
		m.logger.Warn("failed to download thumbnail", "title", title, "url", sourceURL, "error", err)
		return ""
	}
	if err := WriteFileAtomic(dest, body, 0644); err != nil {
		m.logger.Warn("failed to save thumbnail", "title", title, "path", dest, "error", err)
		return ""
	}
	return dest
}
