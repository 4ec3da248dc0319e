// Package redis 用户资料的读穿缓存，底层是 github.com/redis/go-redis/v9
// 缓存只是加速层：任何 Redis 错误都由调用方降级为直接读库
package redis

import (
	"context"
	"strconv"
	"time"

	"appchat_store/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewClient 按配置创建客户端并 Ping 一次
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:     cfg.Password, // 无密码留空
		DB:           cfg.Db,
		PoolSize:     20,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
