package mq

import (
	"context"
	"sync"

	"appchat_store/pkg/errorx"
)

// ChannelPublisher 进程内投递，消费方读取 C()
type ChannelPublisher struct {
	ch     chan Delivery
	mu     sync.RWMutex
	closed bool
}

func NewChannelPublisher(size int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan Delivery, size)}
}

// C 投递通道，Close 后会被关闭
func (p *ChannelPublisher) C() <-chan Delivery { return p.ch }

// Publish 通道满时阻塞，直到 ctx 结束
func (p *ChannelPublisher) Publish(ctx context.Context, d Delivery) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errorx.New(errorx.CodeServerBusy, "publisher closed")
	}
	select {
	case p.ch <- d:
		return nil
	case <-ctx.Done():
		return errorx.Wrap(ctx.Err(), errorx.CodeServerBusy, "delivery channel full")
	}
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}
