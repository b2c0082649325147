// Package api 控制面的 HTTP API：实例、定时计划、工作流配置、安全管理与事件流
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/middleware"
	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/logging"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	JWTSecret    string        // 为空时不启用认证
	TokenTTL     time.Duration
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		TokenTTL:     12 * time.Hour,
	}
}

// ServerConfigFrom 从框架配置构造
func ServerConfigFrom(cfg *config.ControlPlaneConfig) ServerConfig {
	fc := cfg.FlowControl
	return ServerConfig{
		Host:         fc.Server.Host,
		Port:         fc.Server.Port,
		ReadTimeout:  fc.Server.ReadTimeout,
		WriteTimeout: fc.Server.WriteTimeout,
		JWTSecret:    fc.Security.JWTSecret,
		TokenTTL:     fc.Security.TokenTTL,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	cp         *engine.ControlPlane
	httpServer *http.Server
	config     ServerConfig
	version    string
	logger     watermill.LoggerAdapter
	router     *gin.Engine
}

// NewAPIServer 创建API服务器
func NewAPIServer(cp *engine.ControlPlane, cfg ServerConfig, version string, logger watermill.LoggerAdapter) *APIServer {
	logger = logging.OrNop(logger)
	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	return &APIServer{
		cp:      cp,
		config:  cfg,
		version: version,
		logger:  logger,
		router:  SetupRouter(cp, tokens, logger, version),
	}
}

// Handler 路由，便于测试直接驱动
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("🚀 Flow Control API Server starting", watermill.LogFields{
		"addr":    s.Addr(),
		"auth":    s.config.JWTSecret != "",
		"version": s.version,
	})

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("🛑 Shutting down API Server...", nil)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("✅ API Server stopped", nil)
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
