// Package scheduler 定时消息投递 worker
// 周期性地扫描到期消息，认领成功后落库为普通消息并交给 Publisher 推送
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"appchat_store/internal/infrastructure/metrics"
	"appchat_store/internal/infrastructure/mq"
	"appchat_store/internal/model"
	"appchat_store/internal/service/persistence"

	"go.uber.org/zap"
)

// DefaultInterval 未配置时的轮询周期
const DefaultInterval = 5 * time.Second

// publishTimeout 单条投递的超时，通道满或 Kafka 不可用时不会一直卡住
const publishTimeout = 5 * time.Second

// Facade worker 依赖的持久层操作，*persistence.Service 满足该接口
type Facade interface {
	GetDueScheduledMessages(ctx context.Context, before any) ([]model.ScheduledMessage, error)
	ClaimScheduledMessage(ctx context.Context, id string) (bool, error)
	MarkScheduledMessageStatus(ctx context.Context, id string, status model.ScheduledStatus) (bool, error)
	SaveMessage(ctx context.Context, fromID, toID, body string, reply *model.ReplyRef) (*model.Message, error)
	SaveGroupMessage(ctx context.Context, groupID, fromID string, body any) (*persistence.GroupMessage, error)
}

var _ Facade = (*persistence.Service)(nil)

// Worker 定时消息投递
// 多个实例可以同时运行，认领是原子的，每条消息只会被一个实例投递
type Worker struct {
	svc      Facade
	pub      mq.Publisher
	interval time.Duration

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New interval 不大于 0 时使用 DefaultInterval
func New(svc Facade, pub mq.Publisher, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		svc:      svc,
		pub:      pub,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 启动后台轮询，重复调用无效
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.loop()
		zap.L().Info("定时消息投递已启动", zap.Duration("interval", w.interval))
	})
}

func (w *Worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.RunOnce(context.Background()); err != nil {
				zap.L().Error("扫描到期定时消息失败", zap.Error(err))
			}
		}
	}
}

// Stop 停止轮询并等待当前一轮结束
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		zap.L().Info("定时消息投递已停止")
	})
}

// RunOnce 处理一轮到期消息，返回成功投递的条数
// 单条消息失败只记日志并标记 failed，不影响同一轮的其他消息
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.svc.GetDueScheduledMessages(ctx, nil)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range due {
		sm := &due[i]
		won, err := w.svc.ClaimScheduledMessage(ctx, sm.ID)
		if err != nil {
			zap.L().Error("认领定时消息失败", zap.String("id", sm.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		status := model.ScheduledSent
		if err := w.deliver(ctx, sm); err != nil {
			status = model.ScheduledFailed
			zap.L().Error("定时消息投递失败",
				zap.String("id", sm.ID),
				zap.String("from", sm.FromID),
				zap.String("to", sm.ToID),
				zap.Error(err))
		} else {
			sent++
		}
		metrics.DeliveriesTotal.WithLabelValues(string(status)).Inc()
		if _, err := w.svc.MarkScheduledMessageStatus(ctx, sm.ID, status); err != nil {
			zap.L().Error("更新定时消息状态失败", zap.String("id", sm.ID), zap.Error(err))
		}
	}
	return sent, nil
}

// deliver 落库并推送；toId 为 group_<id> 时按群消息处理
func (w *Worker) deliver(ctx context.Context, sm *model.ScheduledMessage) error {
	var d mq.Delivery
	if groupID, ok := model.GroupIDFromChat(sm.ToID); ok {
		gm, err := w.svc.SaveGroupMessage(ctx, groupID, sm.FromID, sm.Content)
		if err != nil {
			return err
		}
		d.Message = gm.Message
		d.Recipients = make([]string, 0, len(gm.Members))
		for _, id := range gm.Members {
			if id != sm.FromID {
				d.Recipients = append(d.Recipients, id)
			}
		}
	} else {
		m, err := w.svc.SaveMessage(ctx, sm.FromID, sm.ToID, sm.Content, nil)
		if err != nil {
			return err
		}
		d.Message = *m
		d.Recipients = []string{sm.ToID}
	}
	d.ScheduledID = sm.ID
	d.Stamped = sm.StampEnabled
	d.DeliveredAt = time.Now().UTC()

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return w.pub.Publish(pctx, d)
}
