package service

import (
	"context"
	"time"

	"appchat_store/internal/config"
	"appchat_store/internal/infrastructure/mq"
	"appchat_store/internal/service/persistence"
	"appchat_store/internal/service/scheduler"

	"go.uber.org/zap"
)

// Services 聚合业务层实例，作为依赖注入的入口
type Services struct {
	Persistence *persistence.Service
	// Scheduler 未启用定时投递时为 nil
	Scheduler *scheduler.Worker

	publisher mq.Publisher
}

// NewServices 创建持久层门面，按配置创建定时投递 worker
// pub 的生命周期交给 Services，Shutdown 时关闭
func NewServices(deps persistence.Deps, pub mq.Publisher, cfg *config.SchedulerConfig) (*Services, error) {
	svc, err := persistence.New(deps)
	if err != nil {
		return nil, err
	}
	s := &Services{Persistence: svc, publisher: pub}
	if cfg.Enabled && pub != nil {
		s.Scheduler = scheduler.New(svc, pub, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	}
	return s, nil
}

// AdminService 管理端使用的接口视图
func (s *Services) AdminService() AdminService { return s.Persistence }

// Start 启动后台任务
func (s *Services) Start() {
	if s.Scheduler != nil {
		s.Scheduler.Start()
	}
}

// Shutdown 先停 worker 再关闭投递出口，最后关闭存储
func (s *Services) Shutdown(ctx context.Context) error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			zap.L().Warn("关闭投递出口失败", zap.Error(err))
		}
	}
	return s.Persistence.Shutdown(ctx)
}
