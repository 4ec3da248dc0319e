package sqlstore

import (
	"context"
	"errors"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
)

func (s *Store) messageRow(m *model.Message) map[string]any {
	return map[string]any{
		s.c("id"):             m.ID,
		s.c("chatid"):         m.ChatID,
		s.c("fromid"):         m.FromID,
		s.c("toid"):           m.ToID,
		s.c("message"):        m.Body,
		s.c("timestamp"):      s.dialect.Time(m.Timestamp),
		s.c("encrypted"):      m.Encrypted,
		s.c("status"):         string(m.Status),
		s.c("replyToId"):      nullable(m.ReplyToID),
		s.c("replyToSender"):  nullable(m.ReplyToSender),
		s.c("replyToMessage"): nullable(m.ReplyToMessage),
		s.c("metadata"):       jsonText(m.Metadata, "{}"),
	}
}

// nullable 空串写成 NULL
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// InsertMessage 写入一条消息，id 重复返回 Conflict
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	row := s.messageRow(m)
	err := s.write(func() error {
		return s.db.WithContext(ctx).Table(TableMessages).Create(row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrapf(err, errorx.CodeConflict, "message %s already exists", m.ID)
	}
	return wrapDBErrorf(err, "insert message id=%s", m.ID)
}

// GetMessage 按 id 查询，不存在返回 nil
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var row normalize.Row
	err := s.read(func() error {
		var err error
		row, err = firstRow(s.db.WithContext(ctx).Table(TableMessages).Where(s.eq("id"), id))
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query message id=%s", id)
	}
	if row == nil {
		return nil, nil
	}
	m := normalize.Message(row)
	return &m, nil
}

// GetMessagesForChat 按时间升序返回会话消息；Before 为严格小于
func (s *Store) GetMessagesForChat(ctx context.Context, chatID string, page model.Page) ([]model.Message, error) {
	var rows []map[string]any
	err := s.read(func() error {
		q := s.db.WithContext(ctx).Table(TableMessages).Where(s.eq("chatid"), chatID)
		if page.HasBefore() {
			q = q.Where(s.c("timestamp")+" < ?", s.dialect.Time(page.Before))
		}
		q = q.Order(s.c("timestamp") + " ASC").Order(s.c("id") + " ASC")
		if page.Limit > 0 {
			q = q.Limit(page.Limit)
		}
		var err error
		rows, err = findRows(q)
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query messages chat=%s", chatID)
	}
	return normalize.Messages(rows), nil
}

// ListUndelivered 发给该用户且尚未送达的消息
func (s *Store) ListUndelivered(ctx context.Context, userID string) ([]model.Message, error) {
	var rows []map[string]any
	err := s.read(func() error {
		var err error
		rows, err = findRows(s.db.WithContext(ctx).Table(TableMessages).
			Where(s.eq("toid"), userID).
			Where("("+s.c("status")+" IS NULL OR "+s.c("status")+" <> ?)", string(model.MessageDelivered)).
			Order(s.c("timestamp") + " ASC").Order(s.c("id") + " ASC"))
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query undelivered to=%s", userID)
	}
	return normalize.Messages(rows), nil
}

// UpdateMessageStatus 更新消息状态，返回消息是否存在
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) (bool, error) {
	return s.updateByID(ctx, TableMessages, id, map[string]any{s.c("status"): string(status)})
}

// DeleteMessage 删除消息，返回是否删除了记录
func (s *Store) DeleteMessage(ctx context.Context, id string) (bool, error) {
	n, err := s.deleteWhere(ctx, TableMessages, s.eq("id"), id)
	if err != nil {
		return false, wrapDBErrorf(err, "delete message id=%s", id)
	}
	return n > 0, nil
}

// RetractMessage 撤回：正文替换为占位符，状态置为 retracted，id 和时间不变
func (s *Store) RetractMessage(ctx context.Context, id, placeholder string) (bool, error) {
	return s.updateByID(ctx, TableMessages, id, map[string]any{
		s.c("message"):   placeholder,
		s.c("status"):    string(model.MessageRetracted),
		s.c("encrypted"): false,
	})
}
