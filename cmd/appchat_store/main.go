package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appchat_store/internal/config"
	"appchat_store/internal/dao"
	myredis "appchat_store/internal/dao/redis"
	"appchat_store/internal/handler"
	"appchat_store/internal/https_server"
	"appchat_store/internal/infrastructure/logger"
	"appchat_store/internal/infrastructure/mq"
	"appchat_store/internal/service"
	"appchat_store/internal/service/persistence"
	"appchat_store/pkg/util/snowflake"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf := config.Default()
	if err := config.LoadConfig(conf); err != nil {
		log.Printf("未找到配置文件，使用默认配置: %v", err)
	}
	if err := conf.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, conf.MainConfig.Mode); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer zap.L().Sync()
	zap.L().Info("日志初始化成功", zap.String("app", conf.MainConfig.AppName))

	// 3. 雪花算法节点
	snowflake.Init(conf.SnowflakeConfig.MachineID)

	ctx := context.Background()

	// 4. 存储后端，选中的后端不可用时直接退出
	store, err := dao.Open(ctx, conf)
	if err != nil {
		zap.L().Fatal("存储后端初始化失败", zap.String("backend", conf.StoreConfig.Backend), zap.Error(err))
	}

	// 5. Redis 用户缓存（可选）
	var cache myredis.UserCache = myredis.NopCache{}
	if conf.RedisConfig.Enabled {
		client, err := myredis.NewClient(ctx, &conf.RedisConfig)
		if err != nil {
			zap.L().Warn("Redis 不可用，用户资料直接读库", zap.Error(err))
		} else {
			ttl := time.Duration(conf.RedisConfig.UserTTLSeconds) * time.Second
			cache = myredis.NewRedisCache(client, ttl, 4, 1024)
			zap.L().Info("Redis 用户缓存已启用")
		}
	}

	// 6. 定时消息投递出口
	pub, err := mq.NewPublisher(&conf.KafkaConfig)
	if err != nil {
		zap.L().Fatal("投递出口初始化失败", zap.Error(err))
	}
	if ch, ok := pub.(*mq.ChannelPublisher); ok {
		// 进程内没有实时推送层，channel 模式下只记录投递结果
		go func() {
			for d := range ch.C() {
				zap.L().Info("定时消息已投递",
					zap.String("scheduledId", d.ScheduledID),
					zap.String("chatId", d.Message.ChatID),
					zap.Strings("recipients", d.Recipients))
			}
		}()
	}

	// 7. Service 层
	svcs, err := service.NewServices(persistence.Deps{
		Store:    store,
		MaxLimit: conf.StoreConfig.MaxDBLimit,
		Cache:    cache,
	}, pub, &conf.SchedulerConfig)
	if err != nil {
		zap.L().Fatal("Service 层初始化失败", zap.Error(err))
	}
	svcs.Start()

	// 8. 管理端 HTTP
	engine := https_server.Init(handler.NewHandlers(svcs), conf.MainConfig.Mode)
	srv := https_server.NewServer(&conf.MainConfig, engine)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run()
	}()

	// 等待退出信号；HTTP 服务异常退出时同样走关闭流程，保证最后一次落盘
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	cause := waitForShutdown(quit, serveErr)
	if cause != nil {
		zap.L().Error("管理端 HTTP 服务异常退出", zap.Error(cause))
	}
	zap.L().Info("关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("管理端 HTTP 关闭超时", zap.Error(err))
	}
	// 嵌入式后端在这里做最后一次落盘
	if err := svcs.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("存储关闭失败", zap.Error(err))
	}
	cancel()
	zap.L().Info("服务器已关闭")
	_ = zap.L().Sync()
	if cause != nil {
		os.Exit(1)
	}
}

// waitForShutdown 阻塞到收到退出信号或 HTTP 服务返回；返回 HTTP 服务的错误，正常退出时为 nil
func waitForShutdown(quit <-chan os.Signal, serveErr <-chan error) error {
	select {
	case <-quit:
		return nil
	case err := <-serveErr:
		if err == nil {
			return errors.New("http server stopped unexpectedly")
		}
		return err
	}
}
