// Package coalescer 嵌入式后端的批量落盘
// 每次写操作只往内存队列里追加一个时间戳标记，后台定时器周期性地把整个库导出到磁盘文件，
// 导出成功后清掉本次开始时已有的标记；导出失败保留队列，下一个周期重试。
// 崩溃时最后一次成功导出之后的写入会丢失，这是调用方已知的取舍。
package coalescer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"appchat_store/internal/infrastructure/metrics"
	"appchat_store/pkg/errorx"

	"go.uber.org/zap"
)

// DefaultInterval 默认落盘周期
const DefaultInterval = 500 * time.Millisecond

// Exporter 把当前完整状态写到持久文件
type Exporter interface {
	Export(ctx context.Context) error
}

// ExportFunc 函数适配 Exporter
type ExportFunc func(ctx context.Context) error

// Export 实现 Exporter
func (f ExportFunc) Export(ctx context.Context) error { return f(ctx) }

// Coalescer 写合并器，生命周期：New -> Start -> Enqueue/FlushNow -> Stop
type Coalescer struct {
	exporter Exporter
	interval time.Duration

	mu    sync.Mutex
	queue []time.Time

	flushing atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
	done      chan struct{}
	wg        sync.WaitGroup
}

// New 创建写合并器，interval <= 0 时使用默认周期
func New(exporter Exporter, interval time.Duration) *Coalescer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coalescer{
		exporter: exporter,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start 启动后台定时落盘，重复调用无效
func (c *Coalescer) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.loop()
	})
}

func (c *Coalescer) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// 失败已在 flush 内记录日志，队列保留到下个周期
			_, _ = c.flush(context.Background(), false)
		}
	}
}

// Enqueue 记录一次写操作
func (c *Coalescer) Enqueue() {
	c.mu.Lock()
	c.queue = append(c.queue, time.Now())
	n := len(c.queue)
	c.mu.Unlock()
	metrics.PendingWrites.Set(float64(n))
}

// PendingCount 尚未落盘的写操作数
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// FlushNow 立即同步导出，即使队列为空也会导出一次
// 已有导出在进行时直接返回 false，不排队
func (c *Coalescer) FlushNow(ctx context.Context) (bool, error) {
	return c.flush(ctx, true)
}

// flush 导出一次；force 为 false 时队列为空直接跳过
func (c *Coalescer) flush(ctx context.Context, force bool) (bool, error) {
	if !force && c.PendingCount() == 0 {
		return false, nil
	}
	if !c.flushing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer c.flushing.Store(false)

	c.mu.Lock()
	n := len(c.queue)
	c.mu.Unlock()
	if !force && n == 0 {
		return false, nil
	}

	start := time.Now()
	if err := c.exporter.Export(ctx); err != nil {
		metrics.FlushesTotal.WithLabelValues("failure").Inc()
		zap.L().Error("导出嵌入式数据库失败，等待下次重试",
			zap.Int("pending", n),
			zap.Error(err))
		return false, errorx.Wrap(err, errorx.CodeIOError, "flush embedded database failed")
	}
	metrics.FlushesTotal.WithLabelValues("success").Inc()
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	// 只移除导出开始前已有的标记，导出期间新增的写入留给下一次
	c.mu.Lock()
	remaining := make([]time.Time, len(c.queue)-n)
	copy(remaining, c.queue[n:])
	c.queue = remaining
	left := len(c.queue)
	c.mu.Unlock()
	metrics.PendingWrites.Set(float64(left))

	if n > 0 {
		zap.L().Debug("嵌入式数据库已落盘", zap.Int("writes", n), zap.Duration("cost", time.Since(start)))
	}
	return true, nil
}

// Stop 停止定时器，并尽力做最后一次同步落盘，只执行一次
func (c *Coalescer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.stopErr = c.finalFlush(ctx)
	})
	return c.stopErr
}

// finalFlush 等待正在进行的导出结束后再导出剩余写入
func (c *Coalescer) finalFlush(ctx context.Context) error {
	for {
		if c.PendingCount() == 0 {
			return nil
		}
		ok, err := c.flush(ctx, false)
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return errorx.Wrap(ctx.Err(), errorx.CodeIOError, "final flush interrupted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
