// Package mq 到期定时消息的投递出口
// channel 模式投递到进程内通道，kafka 模式写入 Kafka 主题，由实时层自行消费
package mq

import (
	"context"
	"fmt"
	"time"

	"appchat_store/internal/config"
	"appchat_store/internal/model"
)

// Delivery 一条已持久化、等待推送的定时消息
type Delivery struct {
	ScheduledID string        `json:"scheduledId"`
	Message     model.Message `json:"message"`
	Recipients  []string      `json:"recipients"` // 群消息为除发送者外的成员
	Stamped     bool          `json:"stamped,omitempty"`
	DeliveredAt time.Time     `json:"deliveredAt"`
}

// Publisher 投递接口，scheduler 只依赖它
type Publisher interface {
	Publish(ctx context.Context, d Delivery) error
	Close() error
}

// NewPublisher 按 messageMode 选择实现
func NewPublisher(cfg *config.KafkaConfig) (Publisher, error) {
	switch cfg.MessageMode {
	case config.MessageModeKafka:
		return NewKafkaPublisher(cfg), nil
	case config.MessageModeChannel, "":
		return NewChannelPublisher(256), nil
	}
	return nil, fmt.Errorf("unknown message mode %q", cfg.MessageMode)
}
