package persistence

import (
	"context"
	"strings"
	"time"

	"appchat_store/internal/infrastructure/metrics"
	"appchat_store/internal/model"
	"appchat_store/pkg/util/snowflake"

	"go.uber.org/zap"
)

// ScheduledInput 新建定时消息
// ScheduledAt 接受 time.Time 或时间字符串，缺省为当前时间
type ScheduledInput struct {
	ID           string `json:"id"`
	ChatID       string `json:"chatId"`
	FromID       string `json:"fromId" validate:"required"`
	ToID         string `json:"toId" validate:"required"`
	Content      string `json:"content"`
	ScheduledAt  any    `json:"scheduledAt"`
	StampEnabled bool   `json:"stampEnabled"`
}

// SaveScheduledMessage 保存定时消息，初始状态为 scheduled
func (s *Service) SaveScheduledMessage(ctx context.Context, in ScheduledInput) (*model.ScheduledMessage, error) {
	in.FromID = strings.TrimSpace(in.FromID)
	in.ToID = strings.TrimSpace(in.ToID)
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	now := s.clock()
	at := now
	if in.ScheduledAt != nil {
		if str, ok := in.ScheduledAt.(string); !ok || strings.TrimSpace(str) != "" {
			at = SanitizeBefore(in.ScheduledAt)
			if at.IsZero() {
				return nil, invalid("scheduledAt must be a valid timestamp")
			}
			at = at.Truncate(time.Millisecond)
		}
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = snowflake.NewPrefixedID("sched")
	}
	chatID := strings.TrimSpace(in.ChatID)
	if chatID == "" {
		if _, isGroup := model.GroupIDFromChat(in.ToID); isGroup {
			chatID = in.ToID
		} else {
			chatID = model.DirectChatID(in.FromID, in.ToID)
		}
	}
	m := &model.ScheduledMessage{
		ID:           id,
		ChatID:       chatID,
		FromID:       in.FromID,
		ToID:         in.ToID,
		Content:      in.Content,
		ScheduledAt:  at,
		StampEnabled: in.StampEnabled,
		Status:       model.ScheduledWaiting,
		CreatedAt:    now,
	}
	if err := s.store.InsertScheduledMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetScheduledMessagesForUser 用户发起的定时消息，按计划时间升序
func (s *Service) GetScheduledMessagesForUser(ctx context.Context, userID string) ([]model.ScheduledMessage, error) {
	return s.store.ListScheduledForUser(ctx, userID)
}

// GetDueScheduledMessages 计划时间不晚于 before 的待投递消息，before 无法解析时取当前时间
func (s *Service) GetDueScheduledMessages(ctx context.Context, before any) ([]model.ScheduledMessage, error) {
	cutoff := SanitizeBefore(before)
	if cutoff.IsZero() {
		cutoff = s.clock()
	}
	return s.store.ListDueScheduled(ctx, cutoff)
}

// ClaimScheduledMessage scheduled -> pending，多个调用方并发认领时只有一个返回 true
func (s *Service) ClaimScheduledMessage(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	won, err := s.store.CASScheduledStatus(ctx, id, model.ScheduledWaiting, model.ScheduledPending)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if won {
		metrics.ClaimsTotal.WithLabelValues("won").Inc()
	} else {
		metrics.ClaimsTotal.WithLabelValues("lost").Inc()
	}
	return won, nil
}

// MarkScheduledMessageStatus 认领之后记录投递结果，只接受 sent 或 failed；
// 只有 pending 状态的消息会被更新，未认领或已处于终态时返回 false
func (s *Service) MarkScheduledMessageStatus(ctx context.Context, id string, status model.ScheduledStatus) (bool, error) {
	if status != model.ScheduledSent && status != model.ScheduledFailed {
		return false, invalidf("status must be one of [sent failed], got %q", status)
	}
	updated, err := s.store.SetScheduledStatus(ctx, id, status)
	if err != nil {
		return false, err
	}
	if !updated {
		zap.L().Warn("定时消息状态未更新", zap.String("id", id), zap.String("status", string(status)))
	}
	return updated, nil
}

// CancelScheduledMessage 只有仍处于 scheduled 的消息可以取消
func (s *Service) CancelScheduledMessage(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return s.store.CASScheduledStatus(ctx, id, model.ScheduledWaiting, model.ScheduledCancelled)
}

// DeleteScheduledMessage 删除定时消息，返回是否存在
func (s *Service) DeleteScheduledMessage(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return s.store.DeleteScheduled(ctx, id)
}
