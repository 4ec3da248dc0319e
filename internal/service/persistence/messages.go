package persistence

import (
	"context"
	"strings"

	"appchat_store/internal/model"
	"appchat_store/pkg/util/snowflake"
)

type directMessageInput struct {
	FromID string `json:"fromId" validate:"required"`
	ToID   string `json:"toId" validate:"required"`
}

type messageStatusInput struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=sent delivered retracted"`
}

// SaveMessage 保存单聊消息，chatId 由双方 id 排序拼接
// 正文是带 encrypted 标记的 JSON 时，消息标记为已加密
func (s *Service) SaveMessage(ctx context.Context, fromID, toID, body string, reply *model.ReplyRef) (*model.Message, error) {
	in := directMessageInput{FromID: strings.TrimSpace(fromID), ToID: strings.TrimSpace(toID)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:        snowflake.NewPrefixedID("msg"),
		ChatID:    model.DirectChatID(in.FromID, in.ToID),
		FromID:    in.FromID,
		ToID:      in.ToID,
		Body:      body,
		Timestamp: s.clock(),
		Encrypted: model.IsEncryptedBody(body),
		Status:    model.MessageSent,
	}
	if reply != nil {
		m.ReplyToID = reply.ID
		m.ReplyToSender = reply.Sender
		m.ReplyToMessage = reply.Message
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessages 两个用户之间的消息，按时间升序
func (s *Service) GetMessages(ctx context.Context, userA, userB string, opts PageOptions) ([]model.Message, error) {
	return s.store.GetMessagesForChat(ctx, model.DirectChatID(userA, userB), s.page(opts))
}

// GetMessage 不存在返回 nil
func (s *Service) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if id == "" {
		return nil, nil
	}
	return s.store.GetMessage(ctx, id)
}

// UpdateMessageStatus 修改消息状态并返回更新后的消息
func (s *Service) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) (*model.Message, error) {
	in := messageStatusInput{ID: id, Status: string(status)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	found, err := s.store.UpdateMessageStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("Message not found")
	}
	return s.store.GetMessage(ctx, id)
}

// DeleteMessage 物理删除一条消息
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	found, err := s.store.DeleteMessage(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return notFound("Message not found")
	}
	return nil
}

// RetractMessage 撤回：正文替换为固定占位符，状态改为 retracted，可重复调用
func (s *Service) RetractMessage(ctx context.Context, id string) error {
	found, err := s.store.RetractMessage(ctx, id, model.RetractedPlaceholder)
	if err != nil {
		return err
	}
	if !found {
		return notFound("Message not found")
	}
	return nil
}

// GetUndeliveredMessages 发给该用户且尚未送达的消息
func (s *Service) GetUndeliveredMessages(ctx context.Context, userID string) ([]model.Message, error) {
	return s.store.ListUndelivered(ctx, userID)
}
