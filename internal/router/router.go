// Package router 管理端 HTTP 路由注册
package router

import (
	"appchat_store/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 持有 Handler 聚合，负责把它们挂到 gin 引擎上
type Router struct {
	handlers *handler.Handlers
}

func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes 注册所有路由
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", rt.handlers.Admin.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	rt.RegisterAdminRoutes(&r.RouterGroup)
}
