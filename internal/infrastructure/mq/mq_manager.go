package mq

import (
	"context"
	"encoding/json"
	"time"

	"appchat_store/internal/config"
	"appchat_store/pkg/errorx"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher 写入 scheduledTopic，key 为 chatId，同一会话的消息落在同一分区
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg *config.KafkaConfig) *KafkaPublisher {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.HostPort),
			Topic:                  cfg.ScheduledTopic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           timeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
		},
	}
}

// Publish 同步写入一条消息
func (k *KafkaPublisher) Publish(ctx context.Context, d Delivery) error {
	msg, err := encodeDelivery(d)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errorx.Wrapf(err, errorx.CodeServerBusy, "kafka write scheduled %s", d.ScheduledID)
	}
	zap.L().Debug("定时消息已写入 Kafka",
		zap.String("topic", k.writer.Topic),
		zap.String("scheduledId", d.ScheduledID),
		zap.String("chatId", d.Message.ChatID))
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// encodeDelivery 组装 Kafka 消息，message-id 头用于下游去重
func encodeDelivery(d Delivery) (kafka.Message, error) {
	value, err := json.Marshal(d)
	if err != nil {
		return kafka.Message{}, errorx.Wrap(err, errorx.CodeValidation, "encode delivery")
	}
	return kafka.Message{
		Key:   []byte(d.Message.ChatID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(uuid.NewString())},
			{Key: "scheduled-id", Value: []byte(d.ScheduledID)},
		},
		Time: d.DeliveredAt,
	}, nil
}
