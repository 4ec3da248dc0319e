// Package persistence 持久层门面
// 调用方只通过这里读写数据，不直接访问存储后端；
// 入参清洗、校验以及面向用户的错误消息都在这一层完成
package persistence

import (
	"context"
	"errors"
	"time"

	"appchat_store/internal/dao"
	myredis "appchat_store/internal/dao/redis"
	"appchat_store/internal/infrastructure/auth"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"go.uber.org/zap"
)

// DefaultMaxLimit 未配置时的 limit 上限
const DefaultMaxLimit = 250

// Deps 构造 Service 所需的依赖，Store 必填
type Deps struct {
	Store    dao.Store
	MaxLimit int
	Hasher   auth.Hasher
	TOTP     auth.TOTP
	Cache    myredis.UserCache
	// Locale 校验错误提示的语言，默认 en
	Locale string
	// Now 测试时可替换
	Now func() time.Time
}

// Service 持久层门面
type Service struct {
	store    dao.Store
	maxLimit int
	hasher   auth.Hasher
	totp     auth.TOTP
	cache    myredis.UserCache
	valid    *inputValidator
	now      func() time.Time
}

// New 构造门面，未提供的依赖使用默认实现
func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("persistence: store is required")
	}
	valid, err := newInputValidator(d.Locale)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:    d.Store,
		maxLimit: d.MaxLimit,
		hasher:   d.Hasher,
		totp:     d.TOTP,
		cache:    d.Cache,
		valid:    valid,
		now:      d.Now,
	}
	if s.maxLimit <= 0 {
		s.maxLimit = DefaultMaxLimit
	}
	if s.hasher == nil {
		s.hasher = auth.BcryptHasher{}
	}
	if s.totp == nil {
		s.totp = auth.TOTPProvider{Issuer: "appchat"}
	}
	if s.cache == nil {
		s.cache = myredis.NopCache{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Backend 当前存储后端名
func (s *Service) Backend() string { return s.store.Backend() }

// MaxLimit 生效的 limit 上限
func (s *Service) MaxLimit() int { return s.maxLimit }

// Shutdown 关闭缓存并关闭存储；嵌入式后端会在关闭前做最后一次落盘
func (s *Service) Shutdown(ctx context.Context) error {
	s.cache.Close()
	if err := s.store.Close(ctx); err != nil {
		zap.L().Error("存储关闭失败", zap.String("backend", s.store.Backend()), zap.Error(err))
		return err
	}
	zap.L().Info("存储已关闭", zap.String("backend", s.store.Backend()))
	return nil
}

// clock 毫秒精度的 UTC 当前时间，和嵌入式库的存储精度一致
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func notFound(msg string) error {
	return errorx.New(errorx.CodeNotFound, msg)
}

// GetStats 用户数、消息数、会话数
func (s *Service) GetStats(ctx context.Context) (*model.Stats, error) {
	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := s.store.CountDistinctChats(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Stats{UsersCount: users, MessagesCount: msgs, ChatsCount: chats}, nil
}

// ClearMessages 清空所有消息（用户保留），随后立即落盘
func (s *Service) ClearMessages(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllMessages(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.Flush(ctx); err != nil {
		return n, err
	}
	zap.L().Info("已清空全部消息", zap.Int64("deleted", n))
	return n, nil
}

// FlushAll 强制落盘，网络后端直接返回 true
func (s *Service) FlushAll(ctx context.Context) (bool, error) {
	return s.store.Flush(ctx)
}

// GetPendingWriteCount 尚未落盘的写操作数
func (s *Service) GetPendingWriteCount() int {
	return s.store.PendingWrites()
}
