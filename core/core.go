// Package core wires the catalog, the archive store and the settings from a
// config.Config. Both the desktop app and scmapctl start from here.
package core

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"scmap-manager/catalog"
	"scmap-manager/config"
	"scmap-manager/modstore"
	"scmap-manager/scraper"
)

type Core struct {
	Config     config.Config
	Logger     *slog.Logger
	Client     *resty.Client
	Pool       *ants.Pool
	Settings   *config.Settings
	Builder    *catalog.Builder
	Downloads  *catalog.DownloadCache
	Catalog    *catalog.Service
	Store      *modstore.Store
	Downloader *modstore.Downloader
}

// Open creates the on-disk layout and all components. A nil extractor means
// modstore.ArchiveExtractor.
func Open(cfg config.Config, logger *slog.Logger, extractor modstore.Extractor) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = modstore.ArchiveExtractor{}
	}
	for _, dir := range []string{cfg.ModsDir(), cfg.DataDir(), cfg.PageCacheDir(), cfg.ThumbDir(), cfg.DataPackDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	settings, err := config.OpenSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.ThumbWorkers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.CrawlDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.CrawlDelay), 1)
	}

	client := scraper.NewClient(cfg.HTTPTimeout)
	fetcher := scraper.NewFetcher(client, cfg.PageCacheDir(), limiter, logger.With("component", "fetcher"))
	thumbs := scraper.NewMaterializer(client, cfg.ThumbDir(), limiter, logger.With("component", "thumbs"))
	builder := catalog.NewBuilder(cfg.BaseURL, cfg.IndexPath(), fetcher, thumbs, pool, logger.With("component", "catalog"))
	downloads := catalog.NewDownloadCache(cfg.DownloadCachePath(), logger)

	svc := catalog.NewService(catalog.ServiceOptions{
		Builder:   builder,
		Details:   catalog.NewDetailCache(cfg.DetailCachePath(), logger),
		Detailer:  scraper.NewDetailScraper(fetcher, logger.With("component", "detail")),
		Downloads: downloads,
		PageSize:  cfg.PageSize,
		Logger:    logger.With("component", "catalog"),
	})

	store := modstore.New(modstore.Options{
		ModsDir:     cfg.ModsDir(),
		EnabledPath: cfg.EnabledPath(),
		DataPackDir: cfg.DataPackDir(),
		Downloads:   downloads,
		AddonDir:    settings.AddonDir,
		Extractor:   extractor,
		Logger:      logger.With("component", "modstore"),
	})
	if err := store.Init(); err != nil {
		pool.Release()
		return nil, err
	}

	return &Core{
		Config:     cfg,
		Logger:     logger,
		Client:     client,
		Pool:       pool,
		Settings:   settings,
		Builder:    builder,
		Downloads:  downloads,
		Catalog:    svc,
		Store:      store,
		Downloader: modstore.NewDownloader(nil, store, downloads, logger.With("component", "download")),
	}, nil
}

// Close releases the worker pool.
func (c *Core) Close() {
	c.Pool.Release()
}
