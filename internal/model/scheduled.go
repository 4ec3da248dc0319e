package model

import "time"

// ScheduledStatus 定时消息状态
// scheduled -> pending -> sent | failed，cancelled 只能从 scheduled 进入
type ScheduledStatus string

const (
	ScheduledWaiting   ScheduledStatus = "scheduled"
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

// IsTerminal 终态不能再迁移
func (s ScheduledStatus) IsTerminal() bool {
	switch s {
	case ScheduledSent, ScheduledFailed, ScheduledCancelled:
		return true
	}
	return false
}

// ScheduledMessage 定时消息
type ScheduledMessage struct {
	ID           string          `json:"id"`
	ChatID       string          `json:"chatId"`
	FromID       string          `json:"fromId"`
	ToID         string          `json:"toId"`
	Content      string          `json:"content"`
	ScheduledAt  time.Time       `json:"scheduledAt"`
	StampEnabled bool            `json:"stampEnabled"`
	Status       ScheduledStatus `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}
