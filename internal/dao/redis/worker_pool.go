package redis

import (
	"sync"

	"go.uber.org/zap"
)

// workerPool 固定数量的协程消费缓存任务
type workerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newWorkerPool(workerNum, bufferSize int) *workerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	p := &workerPool{tasks: make(chan func(), bufferSize)}
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	zap.L().Info("Redis Cache Workers started", zap.Int("workers", workerNum), zap.Int("buffer", bufferSize))
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *workerPool) run(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("Redis Worker panic", zap.Any("recover", rec))
		}
	}()
	task()
}

// Submit 提交任务；通道满或已关闭时同步执行
func (p *workerPool) Submit(task func()) {
	p.mu.RLock()
	if !p.closed {
		select {
		case p.tasks <- task:
			p.mu.RUnlock()
			return
		default:
			zap.L().Warn("Redis cache task channel full, executing synchronously")
		}
	}
	p.mu.RUnlock()
	p.run(task)
}

// Close 不再接收新任务，等待队列中的任务执行完
func (p *workerPool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
