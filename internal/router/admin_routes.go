package router

import "github.com/gin-gonic/gin"

// RegisterAdminRoutes 运维接口，只监听内网地址，不做鉴权
func (rt *Router) RegisterAdminRoutes(rg *gin.RouterGroup) {
	h := rt.handlers.Admin
	adminGroup := rg.Group("/admin")
	{
		adminGroup.GET("/stats", h.Stats)               // 用户数、消息数、会话数
		adminGroup.GET("/pending", h.Pending)           // 未落盘写操作数
		adminGroup.POST("/flush", h.Flush)              // 立即落盘
		adminGroup.DELETE("/messages", h.ClearMessages) // 清空消息
	}
}
