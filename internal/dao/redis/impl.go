package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"appchat_store/internal/infrastructure/metrics"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userKeyPrefix = "appchat:user:"

// UserKey 用户资料缓存 key
func UserKey(id string) string { return userKeyPrefix + id }

// client RedisCache 用到的命令，*redis.Client 满足
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Unlink(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisCache UserCache 的 Redis 实现
// 失效同步执行；回填异步执行，回填提交之后发生过失效则放弃回填
type RedisCache struct {
	client client
	ttl    time.Duration
	pool   *workerPool

	// mu 串行化回填写入与失效计数，gen 每次失效加一
	mu  sync.Mutex
	gen uint64
}

// NewRedisCache 创建缓存，workerNum 个协程异步处理回填
func NewRedisCache(c *redis.Client, ttl time.Duration, workerNum, bufferSize int) *RedisCache {
	return newRedisCache(c, ttl, workerNum, bufferSize)
}

func newRedisCache(c client, ttl time.Duration, workerNum, bufferSize int) *RedisCache {
	return &RedisCache{
		client: c,
		ttl:    ttl,
		pool:   newWorkerPool(workerNum, bufferSize),
	}
}

// Get 读取缓存的用户资料
func (r *RedisCache) Get(ctx context.Context, id string) (*model.User, error) {
	raw, err := r.client.Get(ctx, UserKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.UserCacheTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.UserCacheTotal.WithLabelValues("error").Inc()
		return nil, errorx.Wrapf(err, errorx.CodeCacheError, "redis get user %s", id)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		// 脏数据直接丢弃
		_ = r.Invalidate(ctx, id)
		metrics.UserCacheTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	metrics.UserCacheTotal.WithLabelValues("hit").Inc()
	return &u, nil
}

// Set 异步回填
func (r *RedisCache) Set(u *model.User) {
	if u == nil || u.ID == "" {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	key := UserKey(u.ID)
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.pool.Submit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen != gen {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
			zap.L().Warn("写入用户缓存失败", zap.String("key", key), zap.Error(err))
		}
	})
}

// Invalidate 同步删除，返回后同一进程内的读取不会再命中旧值
func (r *RedisCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, UserKey(id))
	}
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
	if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
		return errorx.Wrapf(err, errorx.CodeCacheError, "redis unlink %v", keys)
	}
	return nil
}

// Close 等待已提交的任务执行完，再关闭客户端
func (r *RedisCache) Close() {
	r.pool.Close()
	if err := r.client.Close(); err != nil {
		zap.L().Warn("关闭 Redis 客户端失败", zap.Error(err))
	}
}

var _ UserCache = (*RedisCache)(nil)
