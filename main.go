package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

// AppVersion 版本号，会在编译时通过 -ldflags 注入
var AppVersion = "0.0.0"

// GithubRepo 发布更新的 GitHub 仓库 "用户名/仓库名"，与 AppVersion 一样通过 -ldflags 注入，为空时不检查更新
var GithubRepo = ""

func main() {
	// 创建应用实例
	app, err := NewApp()
	if err != nil {
		println("Error:", err.Error())
		os.Exit(1)
	}

	// 启动 Wails 应用
	err = wails.Run(&options.App{
		Title:  fmt.Sprintf("Sven Co-op 地图管理器 v%s", AppVersion),
		Width:  1400,
		Height: 900,
		AssetServer: &assetserver.Options{
			Assets:  assets,
			Handler: app.assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnBeforeClose:    app.beforeClose,
		OnShutdown:       app.shutdown,
		Bind: []any{
			app,
		},
	})

	if err != nil {
		println("Error:", err.Error())
	}
}
