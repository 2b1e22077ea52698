package main

import (
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// AssetHandler 为前端提供本地缩略图和远程截图代理
//
//	/thumbs/<file>                 Data/.cache/thumbs 下的列表缩略图
//	/datapack/<mod>/thumbnail.jpg  已安装 MOD 的缩略图
//	/proxy?url=<image url>         远程截图，经由后端请求以避开跨域限制
type AssetHandler struct {
	thumbDir    string
	dataPackDir string
	client      *resty.Client
	logger      *slog.Logger
}

func NewAssetHandler(thumbDir, dataPackDir string, client *resty.Client, logger *slog.Logger) *AssetHandler {
	if client == nil {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetHandler{thumbDir: thumbDir, dataPackDir: dataPackDir, client: client, logger: logger}
}

// ThumbURL 本地缩略图路径 -> 前端加载地址
func ThumbURL(localPath string) string {
	if localPath == "" {
		return ""
	}
	return "/thumbs/" + url.PathEscape(filepath.Base(localPath))
}

// ProxyURL 远程截图的代理地址
func ProxyURL(remote string) string {
	return "/proxy?url=" + url.QueryEscape(remote)
}

// DataPackThumbURL 已安装 MOD 缩略图的地址
func DataPackThumbURL(name string) string {
	return "/datapack/" + url.PathEscape(name) + "/thumbnail.jpg"
}

func (h *AssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/proxy":
		h.handleProxy(w, r)
	case strings.HasPrefix(r.URL.Path, "/thumbs/"):
		h.serveLocal(w, r, filepath.Join(h.thumbDir, filepath.Base(strings.TrimPrefix(r.URL.Path, "/thumbs/"))))
	case strings.HasPrefix(r.URL.Path, "/datapack/"):
		rest := strings.TrimPrefix(r.URL.Path, "/datapack/")
		name, file, ok := strings.Cut(rest, "/")
		if !ok || file != "thumbnail.jpg" || name == "" || name != filepath.Base(name) {
			http.NotFound(w, r)
			return
		}
		h.serveLocal(w, r, filepath.Join(h.dataPackDir, name, "thumbnail.jpg"))
	default:
		http.NotFound(w, r)
	}
}

func (h *AssetHandler) serveLocal(w http.ResponseWriter, r *http.Request, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *AssetHandler) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "Invalid url", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := h.client.R().SetContext(r.Context()).Get(target)
	if err != nil {
		h.logger.Warn("image proxy failed", "url", target, "error", err)
		http.Error(w, "Proxy error: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.logger.Debug("image proxied", "url", target, "status", resp.StatusCode(), "elapsed", time.Since(start))

	for k, v := range resp.Header() {
		// 跳过可能引起问题的头
		if strings.EqualFold(k, "Content-Encoding") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, val := range v {
			w.Header().Add(k, val)
		}
	}
	w.WriteHeader(resp.StatusCode())
	_, _ = w.Write(resp.Body())
}
