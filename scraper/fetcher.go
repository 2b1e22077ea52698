package scraper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewClient builds the resty client shared by the fetcher, the thumbnail
// materializer and the downloader. A failed request is never retried.
func NewClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetHeader("User-Agent", userAgent)
	return client
}

// Fetcher retrieves listing and detail pages, keeping one cache file per
// distinct cache key under its cache directory.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewFetcher(client *resty.Client, cacheDir string, limiter *rate.Limiter, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
		limiter:  limiter,
		logger:   logger,
	}
}

// PageCacheKey is the cache key of a listing page.
func PageCacheKey(page int) string {
	return "page_" + strconv.Itoa(page) + ".html"
}

// CachePath returns the file a cache key maps to.
func (f *Fetcher) CachePath(cacheKey string) string {
	return filepath.Join(f.cacheDir, filepath.Base(cacheKey))
}

// Fetch returns the markup at rawURL. With a non-empty cacheKey an existing
// cache file is returned without touching the network, and a fresh response is
// written to the cache before returning. Cache files are never overwritten.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, cacheKey string) (string, error) {
	var cachePath string
	if cacheKey != "" {
		cachePath = f.CachePath(cacheKey)
		if fileExists(cachePath) {
			data, err := os.ReadFile(cachePath)
			if err == nil {
				f.logger.Debug("page cache hit", "key", cacheKey)
				return string(data), nil
			}
			f.logger.Warn("page cache unreadable, refetching", "path", cachePath, "error", err)
		}
	}

	body, err := getBody(ctx, f.client, f.limiter, rawURL)
	if err != nil {
		return "", err
	}

	if cachePath != "" && !fileExists(cachePath) {
		if err := WriteFileAtomic(cachePath, body, 0644); err != nil {
			f.logger.Warn("failed to cache page", "url", rawURL, "error", err)
		}
	}
	return string(body), nil
}

// Refetch always requests rawURL and, on success, atomically replaces the cache
// file for cacheKey with the fresh response. A failed request leaves the cache
// file untouched.
func (f *Fetcher) Refetch(ctx context.Context, rawURL, cacheKey string) (string, error) {
	body, err := getBody(ctx, f.client, f.limiter, rawURL)
	if err != nil {
		return "", err
	}
	if cacheKey != "" {
		if err := WriteFileAtomic(f.CachePath(cacheKey), body, 0644); err != nil {
			f.logger.Warn("failed to cache page", "url", rawURL, "error", err)
		}
	}
	return string(body), nil
}

// getBody performs a single rate-limited GET and returns the response body.
func getBody(ctx context.Context, client *resty.Client, limiter *rate.Limiter, rawURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
	}

	resp, err := client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode()}
	}
	return resp.Body(), nil
}
