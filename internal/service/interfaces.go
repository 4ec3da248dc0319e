// Package service 业务层入口
// 本文件定义 Handler 层依赖的接口，具体实现由 persistence 门面提供
package service

import (
	"context"

	"appchat_store/internal/model"
	"appchat_store/internal/service/persistence"
)

// AdminService 运维接口
type AdminService interface {
	// Backend 当前存储后端名
	Backend() string
	// GetStats 用户数、消息数、会话数
	GetStats(ctx context.Context) (*model.Stats, error)
	// GetPendingWriteCount 尚未落盘的写操作数
	GetPendingWriteCount() int
	// FlushAll 强制落盘
	FlushAll(ctx context.Context) (bool, error)
	// ClearMessages 清空消息并落盘
	ClearMessages(ctx context.Context) (int64, error)
}

var _ AdminService = (*persistence.Service)(nil)
