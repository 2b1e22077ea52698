package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultBaseURL = "http://scmapdb.wikidot.com"

// Config holds process-level settings and the derived on-disk layout.
type Config struct {
	BaseURL      string
	DataRoot     string
	HTTPTimeout  time.Duration
	CrawlDelay   time.Duration
	ThumbWorkers int
	PageSize     int
	LogLevel     slog.Level
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BaseURL:      strings.TrimRight(getEnv("SCMAP_BASE_URL", DefaultBaseURL), "/"),
		DataRoot:     getEnv("SCMAP_DATA_ROOT", executableDir()),
		HTTPTimeout:  time.Duration(getEnvAsInt("SCMAP_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		CrawlDelay:   time.Duration(getEnvAsInt("SCMAP_CRAWL_DELAY_MS", 250)) * time.Millisecond,
		ThumbWorkers: getEnvAsInt("SCMAP_THUMB_WORKERS", runtime.GOMAXPROCS(0)),
		PageSize:     getEnvAsInt("SCMAP_PAGE_SIZE", 60),
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.CrawlDelay < 0 {
		cfg.CrawlDelay = 0
	}
	if cfg.ThumbWorkers <= 0 {
		cfg.ThumbWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 60
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "INFO"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

// ModsDir holds downloaded map archives.
func (c Config) ModsDir() string { return filepath.Join(c.DataRoot, "Mods") }

func (c Config) EnabledPath() string { return filepath.Join(c.ModsDir(), "Enabled.json") }

func (c Config) SettingsPath() string { return filepath.Join(c.DataRoot, "config.json") }

func (c Config) DataDir() string { return filepath.Join(c.DataRoot, "Data") }

func (c Config) PageCacheDir() string {
	return filepath.Join(c.DataDir(), ".cache", "html", "page")
}

func (c Config) ThumbDir() string { return filepath.Join(c.DataDir(), ".cache", "thumbs") }

func (c Config) IndexPath() string { return filepath.Join(c.DataDir(), "CDN_List.json") }

func (c Config) DetailCachePath() string { return filepath.Join(c.DataDir(), "CDN_Content.json") }

func (c Config) DownloadCachePath() string {
	return filepath.Join(c.DataDir(), "Download_Cache.json")
}

// DataPackDir holds info.json and thumbnail.jpg per mod.
func (c Config) DataPackDir() string { return filepath.Join(c.DataRoot, "data-pack") }

// NewLogger returns a text logger on stderr at the configured level.
func (c Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q, expected DEBUG|INFO|WARN|ERROR", raw)
	}
}

func getEnv(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
