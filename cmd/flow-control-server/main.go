package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api"
	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/logging"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/flow-control.yaml", "控制面配置文件路径")
	host := flag.String("host", "", "监听地址，覆盖配置文件")
	port := flag.Int("port", 0, "监听端口，覆盖配置文件")
	flag.Parse()

	log.Printf("Flow Control Server v%s (%s, %s)", Version, GitCommit, BuildTime)
	log.Printf("配置文件: %s", *configPath)

	// 1. 加载配置，文件不存在时使用默认配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *host != "" {
		cfg.FlowControl.Server.Host = *host
	}
	if *port > 0 {
		cfg.FlowControl.Server.Port = *port
	}

	// 2. 等待中断信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 启动控制面与API服务器，直到收到信号
	gin.SetMode(gin.ReleaseMode)
	logger := logging.NewLogger(cfg.FlowControl.General.LogLevel)
	if err := api.Run(ctx, cfg, nil, Version, logger); err != nil {
		log.Fatalf("服务异常退出: %v", err)
	}
	log.Println("✅ 服务已停止")
}
