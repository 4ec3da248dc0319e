package redis

import (
	"context"

	"appchat_store/internal/model"
)

// UserCache 用户资料缓存
// Get 未命中返回 (nil, nil)；Set 异步回填，Invalidate 同步删除
type UserCache interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Set(u *model.User)
	Invalidate(ctx context.Context, ids ...string) error
	Close()
}

// NopCache 未启用 Redis 时使用，永远未命中
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*model.User, error) { return nil, nil }
func (NopCache) Set(*model.User)                                  {}
func (NopCache) Invalidate(context.Context, ...string) error      { return nil }
func (NopCache) Close()                                           {}

var _ UserCache = NopCache{}
