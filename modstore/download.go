package modstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"scmap-manager/catalog"
	"scmap-manager/scraper"
)

// DownloadRecorder stores the download record of a catalog entry.
type DownloadRecorder interface {
	Record(pageURL string, rec catalog.DownloadRecord) error
}

// DownloadRequest describes one archive download chosen from a detail view.
type DownloadRequest struct {
	URL             string
	PageURL         string
	Title           string
	Author          string
	DescriptionHTML string
	ThumbnailPath   string
	// Progress is called as bytes arrive; total is -1 when unknown.
	Progress func(written, total int64)
}

// DownloadResult describes a finished download.
type DownloadResult struct {
	FileName string `json:"file_name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Downloader streams archives into the mods directory.
type Downloader struct {
	client   *resty.Client
	store    *Store
	recorder DownloadRecorder
	logger   *slog.Logger
}

// NewDownloadClient returns a client without an overall timeout so large
// archives are not cut off. Dialing, the TLS handshake and waiting for response
// headers are bounded; connection failures and 5xx answers are retried.
func NewDownloadClient() *resty.Client {
	return newDownloadClient(30 * time.Second)
}

func newDownloadClient(connectTimeout time.Duration) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = connectTimeout

	client := resty.New()
	client.SetTransport(transport)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(2 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	client.SetHeader("Accept", "*/*")
	return client
}

func NewDownloader(client *resty.Client, store *Store, recorder DownloadRecorder, logger *slog.Logger) *Downloader {
	if client == nil {
		client = NewDownloadClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, store: store, recorder: recorder, logger: logger}
}

// ArchiveFileName is the local file name a download URL is saved under.
func ArchiveFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return filepath.Base(rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Download saves req.URL as Mods/<basename> through a temporary file, then
// records it and writes the data-pack sidecar. Sidecar failures are logged.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	if req.URL == "" {
		return nil, errors.New("download url is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := os.MkdirAll(d.store.modsDir, 0755); err != nil {
		return nil, &scraper.PersistenceError{Path: d.store.modsDir, Op: "mkdir", Err: err}
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(req.URL)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, &scraper.FetchError{URL: req.URL, Err: err}
	}
	body := resp.RawBody()
	defer body.Close()
	if !resp.IsSuccess() {
		return nil, &scraper.FetchError{URL: req.URL, StatusCode: resp.StatusCode()}
	}

	fileName := ArchiveFileName(req.URL)
	if fileName == "" {
		if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
			fileName = filepath.Base(params["filename"])
		}
	}
	if fileName == "" {
		fileName = fmt.Sprintf("download_%d.zip", time.Now().Unix())
	}
	if ct := resp.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return nil, fmt.Errorf("download returned %s instead of an archive", ct)
	}

	target := filepath.Join(d.store.modsDir, fileName)
	tmp, err := os.CreateTemp(d.store.modsDir, "."+fileName+".*.part")
	if err != nil {
		return nil, &scraper.PersistenceError{Path: target, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	total := resp.RawResponse.ContentLength
	counter := &countingWriter{total: total, progress: req.Progress}
	written, err := io.Copy(tmp, io.TeeReader(body, counter))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scraper.FetchError{URL: req.URL, Err: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return nil, &scraper.PersistenceError{Path: target, Op: "rename", Err: err}
	}
	d.logger.Info("archive downloaded", "url", req.URL, "path", target, "bytes", written)

	if d.recorder != nil && req.PageURL != "" {
		rec := catalog.DownloadRecord{ZipName: fileName, Title: req.Title, URL: req.URL}
		if err := d.recorder.Record(req.PageURL, rec); err != nil {
			d.logger.Warn("failed to record download", "url", req.PageURL, "error", err)
		}
	}
	d.writeSidecar(fileName, req)

	return &DownloadResult{FileName: fileName, Path: target, Size: written}, nil
}

func (d *Downloader) writeSidecar(fileName string, req DownloadRequest) {
	name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = scraper.Unknown
	}
	fields := map[string]any{
		"name":        req.Title,
		"description": "Author: " + author + "\n\n" + PlainText(req.DescriptionHTML),
	}
	if err := d.store.WriteInfo(name, fields); err != nil {
		d.logger.Warn("failed to write info.json", "name", name, "error", err)
	}

	if req.ThumbnailPath == "" || !fileExists(req.ThumbnailPath) {
		return
	}
	data, err := os.ReadFile(req.ThumbnailPath)
	if err == nil {
		err = scraper.WriteFileAtomic(d.store.thumbnailPath(name), data, 0644)
	}
	if err != nil {
		d.logger.Warn("failed to copy thumbnail", "name", name, "error", err)
	}
}

// PlainText renders an HTML fragment as text, one block per line.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

type countingWriter struct {
	written  int64
	total    int64
	progress func(written, total int64)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.progress != nil {
		w.progress(w.written, w.total)
	}
	return len(p), nil
}
