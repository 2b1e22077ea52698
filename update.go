package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
)

// UpdateInfo 返回给前端的结构体
type UpdateInfo struct {
	HasUpdate   bool   `json:"has_update"`
	LatestVer   string `json:"latest_ver"`
	CurrentVer  string `json:"current_ver"`
	ReleaseNote string `json:"release_note"`
	DownloadURL string `json:"download_url"`
	Error       string `json:"error,omitempty"`
}

// MirrorList 镜像源列表 (与前端保持一致)
var MirrorList = []string{
	"https://edgeone.gh-proxy.com/",
	"https://hk.gh-proxy.com/",
	"https://gh-proxy.com/",
	"https://gh.llkk.cc/",
}

// 缓存检测结果，避免 DoUpdate 时再次请求 API 导致速率限制
var (
	pendingMu     sync.Mutex
	pendingUpdate *selfupdate.Release
)

// compareRelease 比较当前版本与最新发布
func compareRelease(current string, latest *selfupdate.Release) UpdateInfo {
	vCurrent, err := semver.ParseTolerant(current)
	if err != nil {
		return UpdateInfo{Error: "当前版本号格式错误: " + err.Error()}
	}
	if latest == nil {
		return UpdateInfo{CurrentVer: current, LatestVer: vCurrent.String()}
	}
	info := UpdateInfo{
		CurrentVer: current,
		LatestVer:  latest.Version.String(),
	}
	if latest.Version.GT(vCurrent) {
		info.HasUpdate = true
		info.ReleaseNote = latest.ReleaseNotes
		info.DownloadURL = latest.AssetURL
	}
	return info
}

// CheckUpdate 检查更新
func (a *App) CheckUpdate() UpdateInfo {
	if GithubRepo == "" {
		pendingMu.Lock()
		pendingUpdate = nil
		pendingMu.Unlock()
		return compareRelease(AppVersion, nil)
	}
	release, found, err := selfupdate.DetectLatest(GithubRepo)
	if err != nil {
		a.logger.Warn("update check failed", "error", err)
		return UpdateInfo{Error: "检查更新失败: " + err.Error(), CurrentVer: AppVersion}
	}
	if !found {
		release = nil
	}

	info := compareRelease(AppVersion, release)
	pendingMu.Lock()
	if info.HasUpdate {
		pendingUpdate = release
	} else {
		pendingUpdate = nil
	}
	pendingMu.Unlock()
	return info
}

// GetMirrors 获取镜像列表
func (a *App) GetMirrors() []string {
	return MirrorList
}

// DoUpdate 执行更新，mirror 为空时直连 GitHub
func (a *App) DoUpdate(mirror string) string {
	pendingMu.Lock()
	release := pendingUpdate
	pendingMu.Unlock()

	if release == nil {
		info := a.CheckUpdate()
		if info.Error != "" {
			return "更新检测失败: " + info.Error
		}
		if !info.HasUpdate {
			return "当前已是最新版本"
		}
		pendingMu.Lock()
		release = pendingUpdate
		pendingMu.Unlock()
	}
	if release == nil || release.AssetURL == "" {
		return "未找到适合当前系统的更新包"
	}

	exe, err := os.Executable()
	if err != nil {
		return "无法获取程序路径"
	}

	if err := selfupdate.UpdateTo(mirrorURL(mirror, release.AssetURL), exe); err != nil {
		a.logger.Error("self update failed", "version", release.Version.String(), "error", err)
		return fmt.Sprintf("安装更新失败: %v", err)
	}
	a.logger.Info("self update installed", "version", release.Version.String())
	return "success"
}

func mirrorURL(mirror, assetURL string) string {
	if mirror == "" {
		return assetURL
	}
	if !strings.HasSuffix(mirror, "/") {
		mirror += "/"
	}
	return mirror + assetURL
}
