package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"scmap-manager/catalog"
	"scmap-manager/config"
	"scmap-manager/core"
	"scmap-manager/modstore"
	"scmap-manager/scraper"

	"github.com/panjf2000/ants/v2"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrorInfo 错误信息
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	File    string `json:"file"`
}

// CatalogItem 列表中的一张地图卡片
type CatalogItem struct {
	Title      string `json:"title"`
	PageURL    string `json:"page_url"`
	Tags       string `json:"tags"`
	Thumbnail  string `json:"thumbnail"`
	Downloaded bool   `json:"downloaded"`
}

// CatalogPage 一页搜索结果
type CatalogPage struct {
	Items      []CatalogItem `json:"items"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	Total      int           `json:"total"`
}

// DownloadOption 详情页中的一个下载链接
type DownloadOption struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// DetailView 详情页
type DetailView struct {
	scraper.DetailRecord
	PageURL         string           `json:"page_url"`
	Thumbnail       string           `json:"thumbnail"`
	Downloaded      bool             `json:"downloaded"`
	DownloadOptions []DownloadOption `json:"download_options"`
	Screenshots     []string         `json:"screenshots"`
}

// App 绑定到前端的应用对象
type App struct {
	ctx           context.Context
	cfg           config.Config
	logger        *slog.Logger
	settings      *config.Settings
	catalog       *catalog.Service
	store         *modstore.Store
	downloader    *modstore.Downloader
	goroutinePool *ants.Pool
	assets        *AssetHandler
	tasks         *TaskManager

	buildMu sync.Mutex // 同一时间只允许一次目录构建
}

// NewApp 读取配置并创建所有组件
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	c, err := core.Open(cfg, logger, modstore.ArchiveExtractor{})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		settings:      c.Settings,
		catalog:       c.Catalog,
		store:         c.Store,
		downloader:    c.Downloader,
		goroutinePool: c.Pool,
		assets:        NewAssetHandler(cfg.ThumbDir(), cfg.DataPackDir(), c.Client, logger.With("component", "assets")),
	}
	a.tasks = NewTaskManager(a.wailsEmitter)
	c.Builder.OnProgress = func(p catalog.ProgressInfo) {
		a.wailsEmitter("catalog_progress", p)
	}
	return a, nil
}

// startup 应用启动时调用，保存 ctx 供 runtime 方法使用
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// beforeClose 有下载任务进行中时确认退出
func (a *App) beforeClose(ctx context.Context) (prevent bool) {
	if !a.tasks.HasActive() {
		return false
	}
	choice, err := runtime.MessageDialog(ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         "确认退出",
		Message:       "还有下载任务正在进行，确定要退出吗？",
		Buttons:       []string{"Yes", "No"},
		DefaultButton: "No",
		CancelButton:  "No",
	})
	if err != nil {
		return false
	}
	return choice != "Yes"
}

func (a *App) shutdown(_ context.Context) {
	a.goroutinePool.Release()
}

// LogError 记录错误
func (a *App) LogError(errorType, message, file string) {
	errorInfo := ErrorInfo{
		Type:    errorType,
		Message: message,
		File:    file,
	}

	a.logger.Error(message, "type", errorType, "file", file)
	if a.ctx == nil {
		return
	}
	runtime.LogErrorf(a.ctx, "[%s] %s: %s", errorType, file, message)
	runtime.EventsEmit(a.ctx, "error", errorInfo)
}

// LoadCatalog 首次启动时抓取目录，之后直接读取本地索引，返回条目数
func (a *App) LoadCatalog() (int, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	entries, err := a.catalog.BuildOrLoadIndex(a.context())
	return a.catalogResult("目录", entries, err)
}

// RefreshCatalog 重新请求所有列表页（替换页面缓存）并合并到现有索引
func (a *App) RefreshCatalog() (int, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	entries, err := a.catalog.Rebuild(a.context())
	return a.catalogResult("目录刷新", entries, err)
}

// catalogResult 索引保存失败但抓取成功时，本次会话继续使用抓取结果
func (a *App) catalogResult(errorType string, entries []scraper.CatalogEntry, err error) (int, error) {
	if err == nil {
		return len(entries), nil
	}
	a.LogError(errorType, err.Error(), a.cfg.IndexPath())
	if entries != nil {
		return len(entries), nil
	}
	return 0, err
}

// SearchCatalog 搜索目录并返回第 page 页（从 1 开始）
func (a *App) SearchCatalog(query string, page int) CatalogPage {
	results := a.catalog.Search(query)
	total := a.catalog.TotalPages(results)
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}

	entries := a.catalog.Page(results, page)
	items := make([]CatalogItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, CatalogItem{
			Title:      e.Title,
			PageURL:    e.PageURL,
			Tags:       e.Tags,
			Thumbnail:  ThumbURL(e.ThumbnailPath),
			Downloaded: a.catalog.IsDownloaded(e.PageURL),
		})
	}
	return CatalogPage{Items: items, Page: page, TotalPages: total, Total: len(results)}
}

// GetDetail 获取地图详情，首次访问时抓取并缓存
func (a *App) GetDetail(title, pageURL string) DetailView {
	detail := a.catalog.GetDetail(a.context(), title, pageURL)

	view := DetailView{
		DetailRecord:    detail,
		PageURL:         pageURL,
		DownloadOptions: make([]DownloadOption, 0, len(detail.DownloadURLs)),
		Screenshots:     make([]string, 0, len(detail.ScreenshotURLs)),
	}
	if entry, ok := a.catalog.Lookup(title); ok {
		view.Thumbnail = ThumbURL(entry.ThumbnailPath)
	}
	for _, u := range detail.DownloadURLs {
		view.DownloadOptions = append(view.DownloadOptions, DownloadOption{Label: modstore.ArchiveFileName(u), URL: u})
	}
	for _, u := range detail.ScreenshotURLs {
		view.Screenshots = append(view.Screenshots, ProxyURL(u))
	}
	if len(detail.DownloadURLs) > 0 {
		view.Downloaded = a.store.HasFile(modstore.ArchiveFileName(detail.DownloadURLs[0]))
	}
	return view
}

// DeleteDownloaded 删除详情页对应的已下载压缩包
func (a *App) DeleteDownloaded(title, pageURL string) error {
	detail := a.catalog.GetDetail(a.context(), title, pageURL)
	if len(detail.DownloadURLs) > 0 {
		fileName := modstore.ArchiveFileName(detail.DownloadURLs[0])
		if err := a.store.DeleteFile(fileName); err != nil {
			a.LogError("删除", err.Error(), fileName)
			return err
		}
	}
	if _, err := a.catalog.ForgetDownloadByTitle(detail.Title); err != nil {
		a.LogError("下载记录", err.Error(), a.cfg.DownloadCachePath())
		return err
	}
	return nil
}

// GetMods 已安装 MOD 列表
func (a *App) GetMods() ([]modstore.ModInfo, error) {
	mods, err := a.store.List()
	if err != nil {
		return nil, err
	}
	for i := range mods {
		if mods[i].Thumbnail != "" {
			mods[i].Thumbnail = DataPackThumbURL(mods[i].Name)
		}
	}
	return mods, nil
}

// SetModEnabled 启用/禁用 MOD
func (a *App) SetModEnabled(name string, enabled bool) error {
	if err := a.store.SetEnabled(name, enabled); err != nil {
		a.LogError("启用状态", err.Error(), name)
		return err
	}
	return nil
}

func (a *App) EnableAllMods() error {
	return a.store.EnableAll()
}

func (a *App) DisableAllMods() error {
	return a.store.DisableAll()
}

// RenameMod 设置 MOD 别名
func (a *App) RenameMod(name, alias string) error {
	return a.store.Rename(name, alias)
}

func (a *App) SetModDescription(name, description string) error {
	return a.store.SetDescription(name, description)
}

// DeleteMod 将 MOD 移到回收站
func (a *App) DeleteMod(name string) error {
	if err := a.store.Delete(name); err != nil {
		a.LogError("删除", err.Error(), name)
		return err
	}
	return nil
}

// CheckConflicts 检查已安装 MOD 之间的文件冲突
func (a *App) CheckConflicts() (*modstore.ConflictResult, error) {
	return a.store.CheckConflicts(a.goroutinePool, func(p modstore.ConflictProgress) {
		a.wailsEmitter("conflict_check_progress", p)
	})
}

// GetModContents 列出压缩包内文件
func (a *App) GetModContents(name string) ([]string, error) {
	return a.store.Contents(name)
}

// GetGameFolder 获取游戏目录
func (a *App) GetGameFolder() string {
	return a.settings.GameFolder()
}

// SetGameFolder 设置游戏目录
func (a *App) SetGameFolder(path string) error {
	if err := a.ValidateDirectory(path); err != nil {
		return err
	}
	return a.settings.SetGameFolder(path)
}

// SelectDirectory 选择文件夹对话框
func (a *App) SelectDirectory() (string, error) {
	directory, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title:                "选择 Sven Co-op 游戏目录",
		ShowHiddenFiles:      false,
		CanCreateDirectories: false,
	})

	if err != nil {
		return "", err
	}

	if directory == "" {
		return "", fmt.Errorf("未选择目录")
	}

	return directory, nil
}

// ValidateDirectory 验证目录是否有效
func (a *App) ValidateDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("路径不能为空")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("目录不存在: %s", path)
		}
		return fmt.Errorf("无法访问目录: %s", err.Error())
	}

	if !info.IsDir() {
		return fmt.Errorf("路径不是一个目录: %s", path)
	}

	// 检查是否有写入权限
	testFile := filepath.Join(path, ".scmap-manager-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("没有写入权限: %s", err.Error())
	}
	os.Remove(testFile)

	return nil
}

// OpenMapPage 在浏览器中打开地图页面
func (a *App) OpenMapPage(pageURL string) {
	runtime.BrowserOpenURL(a.ctx, pageURL)
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}
