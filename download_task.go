package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"scmap-manager/modstore"
	"scmap-manager/scraper"
)

const (
	TaskPending     = "pending"
	TaskDownloading = "downloading"
	TaskCompleted   = "completed"
	TaskFailed      = "failed"
	TaskCancelled   = "cancelled"
)

// DownloadTask 一个地图压缩包下载任务
type DownloadTask struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	PageURL        string             `json:"page_url"`
	FileURL        string             `json:"file_url"`
	Filename       string             `json:"filename"`
	Status         string             `json:"status"` // "pending", "downloading", "completed", "failed", "cancelled"
	Progress       int                `json:"progress"`
	TotalSize      int64              `json:"total_size"`
	DownloadedSize int64              `json:"downloaded_size"`
	Speed          string             `json:"speed"`
	Error          string             `json:"error"`
	CreatedAt      string             `json:"created_at"`
	cancelFunc     context.CancelFunc `json:"-"`
}

// TaskManager 管理下载任务
type TaskManager struct {
	tasks map[string]*DownloadTask
	mu    sync.RWMutex
	emit  func(event string, data any)
}

func NewTaskManager(emit func(event string, data any)) *TaskManager {
	if emit == nil {
		emit = func(string, any) {}
	}
	return &TaskManager{tasks: make(map[string]*DownloadTask), emit: emit}
}

// snapshot 在读锁下复制任务，供事件发送
func (m *TaskManager) snapshot(task *DownloadTask) DownloadTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *task
}

func (m *TaskManager) update(task *DownloadTask, event string, fn func(t *DownloadTask)) {
	m.mu.Lock()
	fn(task)
	m.mu.Unlock()
	m.emit(event, m.snapshot(task))
}

// HasActive 是否有等待中或下载中的任务
func (m *TaskManager) HasActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, task := range m.tasks {
		if task.Status == TaskDownloading || task.Status == TaskPending {
			return true
		}
	}
	return false
}

// List 返回任务副本，最新的在前
func (m *TaskManager) List() []DownloadTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]DownloadTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	return tasks
}

// ClearFinished 清除已完成、失败和已取消的任务
func (m *TaskManager) ClearFinished() {
	m.mu.Lock()
	for id, t := range m.tasks {
		if t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled {
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()
	m.emit("tasks_cleared", nil)
}

// Start 登记任务并在后台执行
func (m *TaskManager) Start(d *modstore.Downloader, req modstore.DownloadRequest) string {
	taskID := fmt.Sprintf("%d", time.Now().UnixNano())
	ctx, cancel := context.WithCancel(context.Background())
	task := &DownloadTask{
		ID:         taskID,
		Title:      req.Title,
		PageURL:    req.PageURL,
		FileURL:    req.URL,
		Filename:   modstore.ArchiveFileName(req.URL),
		Status:     TaskPending,
		CreatedAt:  time.Now().Format("2006-01-02 15:04:05"),
		cancelFunc: cancel,
	}

	m.mu.Lock()
	m.tasks[taskID] = task
	m.mu.Unlock()
	m.emit("task_updated", m.snapshot(task))

	go m.run(ctx, d, task, req)
	return taskID
}

// Cancel 取消等待中或下载中的任务
func (m *TaskManager) Cancel(taskID string) {
	m.mu.Lock()
	task, exists := m.tasks[taskID]
	if exists && task.cancelFunc != nil && (task.Status == TaskPending || task.Status == TaskDownloading) {
		task.cancelFunc()
		task.Status = TaskCancelled
		task.Error = "Cancelled by user"
	}
	m.mu.Unlock()

	if exists {
		m.emit("task_updated", m.snapshot(task))
	}
}

func (m *TaskManager) run(ctx context.Context, d *modstore.Downloader, task *DownloadTask, req modstore.DownloadRequest) {
	m.update(task, "task_updated", func(t *DownloadTask) {
		if t.Status == TaskPending {
			t.Status = TaskDownloading
		}
	})

	counter := &TaskWriteCounter{manager: m, task: task, lastTime: time.Now()}
	req.Progress = counter.report

	res, err := d.Download(ctx, req)
	if err != nil {
		status, msg := TaskFailed, err.Error()
		var fetchErr *scraper.FetchError
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			status, msg = TaskCancelled, "Cancelled by user"
		} else if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			msg = fmt.Sprintf("HTTP status: %d", fetchErr.StatusCode)
		}
		m.update(task, "task_updated", func(t *DownloadTask) {
			t.Status = status
			t.Error = msg
		})
		return
	}

	m.update(task, "task_updated", func(t *DownloadTask) {
		t.Status = TaskCompleted
		t.Filename = res.FileName
		t.Progress = 100
		t.DownloadedSize = res.Size
		if t.TotalSize <= 0 {
			t.TotalSize = res.Size
		}
		t.Error = ""
	})
}

// TaskWriteCounter 节流进度事件：每 1% 发送一次，速度每 3 秒更新
type TaskWriteCounter struct {
	manager     *TaskManager
	task        *DownloadTask
	lastPercent int
	lastTime    time.Time
	lastBytes   int64
}

func (wc *TaskWriteCounter) report(current, total int64) {
	now := time.Now()
	duration := now.Sub(wc.lastTime)

	updateProgress := false
	updateSpeed := duration > 3*time.Second

	if total > 0 {
		percent := int(float64(current) / float64(total) * 100)
		if percent > wc.lastPercent {
			wc.lastPercent = percent
			updateProgress = true
		}
	}
	if !updateProgress && !updateSpeed {
		return
	}

	wc.manager.update(wc.task, "task_progress", func(t *DownloadTask) {
		if total > 0 {
			t.TotalSize = total
			t.Progress = wc.lastPercent
		}
		t.DownloadedSize = current
		if updateSpeed {
			t.Speed = formatSpeed(float64(current-wc.lastBytes) / duration.Seconds())
			wc.lastTime = now
			wc.lastBytes = current
		}
	})
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1024 {
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	} else if bytesPerSec < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	} else {
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	}
}

// wailsEmitter 应用启动后向前端发送事件
func (a *App) wailsEmitter(event string, data any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, event, data)
}

// StartDownload 开始下载详情页选中的压缩包
func (a *App) StartDownload(title, pageURL, fileURL string) (string, error) {
	if fileURL == "" {
		return "", fmt.Errorf("download url is empty")
	}
	detail := a.catalog.GetDetail(a.context(), title, pageURL)
	req := modstore.DownloadRequest{
		URL:             fileURL,
		PageURL:         pageURL,
		Title:           title,
		Author:          detail.Author,
		DescriptionHTML: detail.Description,
	}
	if entry, ok := a.catalog.Lookup(title); ok {
		req.ThumbnailPath = entry.ThumbnailPath
	}
	return a.tasks.Start(a.downloader, req), nil
}

func (a *App) CancelDownloadTask(taskID string) {
	a.tasks.Cancel(taskID)
}

// RetryDownloadTask 重新开始失败或取消的任务
func (a *App) RetryDownloadTask(taskID string) (string, error) {
	for _, t := range a.tasks.List() {
		if t.ID != taskID {
			continue
		}
		if t.Status != TaskFailed && t.Status != TaskCancelled {
			return taskID, nil
		}
		return a.StartDownload(t.Title, t.PageURL, t.FileURL)
	}
	return "", fmt.Errorf("task %s not found", taskID)
}

func (a *App) GetDownloadTasks() []DownloadTask {
	return a.tasks.List()
}

func (a *App) ClearCompletedTasks() {
	a.tasks.ClearFinished()
}

func (a *App) HasActiveDownloads() bool {
	return a.tasks.HasActive()
}
