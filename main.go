// @title 理财测验进度 API
// @version 1.0
// @description 理财知识测验的积分、等级、连续天数与徽章服务。

// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"fin_quiz_backend/internal/app"
	"fin_quiz_backend/internal/config"
	"fin_quiz_backend/pkg/logger"
	"flag"
	"log"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	watch := flag.Bool("watch-config", true, "监听配置文件变化并热更新")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dir := ""
	if *watch {
		dir = *configDir
	}

	application := app.NewApp(cfg, dir)
	defer logger.Log.Sync()

	application.Run()
}
