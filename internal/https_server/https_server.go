// Package https_server 管理端 HTTP 服务器的初始化和启停
package https_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"appchat_store/internal/config"
	"appchat_store/internal/handler"
	"appchat_store/internal/infrastructure/logger"
	"appchat_store/internal/infrastructure/metrics"
	"appchat_store/internal/router"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Init 创建 gin 引擎：请求日志、panic 恢复、请求指标，然后注册路由
func Init(handlers *handler.Handlers, mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	// 不使用 gin.Default()，中间件全部自己挂
	engine := gin.New()
	engine.Use(logger.GinLogger())
	engine.Use(logger.GinRecovery(true))
	engine.Use(metrics.GinMiddleware())

	router.NewRouter(handlers).RegisterRoutes(engine)
	return engine
}

// Server 管理端 HTTP 服务
type Server struct {
	srv *http.Server
}

func NewServer(cfg *config.MainConfig, engine *gin.Engine) *Server {
	return &Server{srv: &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Addr 监听地址
func (s *Server) Addr() string { return s.srv.Addr }

// Run 阻塞直到服务关闭，正常关闭时返回 nil
func (s *Server) Run() error {
	zap.L().Info("管理端 HTTP 服务启动", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 等待进行中的请求结束
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
