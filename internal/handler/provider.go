// Package handler 管理端 HTTP 请求处理器
// 通过构造函数注入持久层门面，handler 只做参数读取和响应封装
package handler

import "appchat_store/internal/service"

// Handlers 聚合所有 Handler 实例，Router 层通过此结构访问各个 Handler
type Handlers struct {
	Admin *AdminHandler
}

// NewHandlers 创建并注入所有 Handler 实例
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Admin: NewAdminHandler(svc.AdminService()),
	}
}
