package handler

import (
	"appchat_store/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler 运维接口
type AdminHandler struct {
	svc service.AdminService
}

func NewAdminHandler(svc service.AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Health 存活检查，同时返回当前存储后端
// GET /healthz
func (h *AdminHandler) Health(c *gin.Context) {
	HandleSuccess(c, gin.H{"status": "ok", "backend": h.svc.Backend()})
}

// Stats 用户数、消息数、会话数
// GET /admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.svc.GetStats(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, stats)
}

// Pending 尚未落盘的写操作数
// GET /admin/pending
func (h *AdminHandler) Pending(c *gin.Context) {
	HandleSuccess(c, gin.H{"pendingWrites": h.svc.GetPendingWriteCount()})
}

// Flush 立即落盘；已有落盘在进行时 flushed 为 false
// POST /admin/flush
func (h *AdminHandler) Flush(c *gin.Context) {
	flushed, err := h.svc.FlushAll(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"flushed": flushed, "pendingWrites": h.svc.GetPendingWriteCount()})
}

// ClearMessages 清空全部消息
// DELETE /admin/messages
func (h *AdminHandler) ClearMessages(c *gin.Context) {
	n, err := h.svc.ClearMessages(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{"deleted": n})
}
