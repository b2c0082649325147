package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/types"
	"github.com/LENAX/flow-control/pkg/logging"
)

// Run 创建并启动控制面与 HTTP 服务，ctx 结束后依次优雅关闭
// host 为空时按配置选择执行宿主（webhook 或回显）
func Run(ctx context.Context, cfg *config.ControlPlaneConfig, host types.Executor, version string, logger watermill.LoggerAdapter) error {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrNop(logger)
	if host == nil {
		host = engine.HostFromConfig(cfg, logger)
	}

	cp, err := engine.New(cfg, host, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("创建控制面失败: %w", err)
	}
	if err := cp.Start(ctx); err != nil {
		_ = cp.Stop()
		return fmt.Errorf("启动控制面失败: %w", err)
	}

	serverCfg := ServerConfigFrom(cfg)
	server := NewAPIServer(cp, serverCfg, version, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.WriteTimeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)
	stopErr := cp.Stop()
	return errors.Join(runErr, shutdownErr, stopErr)
}
