package sqlstore

import (
	"context"
	"errors"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
)

// InsertScheduledMessage 写入定时消息
func (s *Store) InsertScheduledMessage(ctx context.Context, m *model.ScheduledMessage) error {
	status := m.Status
	if status == "" {
		status = model.ScheduledWaiting
	}
	row := map[string]any{
		s.c("id"):           m.ID,
		s.c("chatid"):       m.ChatID,
		s.c("fromid"):       m.FromID,
		s.c("toid"):         m.ToID,
		s.c("content"):      m.Content,
		s.c("scheduledat"):  s.dialect.Time(m.ScheduledAt),
		s.c("stampenabled"): m.StampEnabled,
		s.c("status"):       string(status),
		s.c("createdat"):    s.dialect.Time(m.CreatedAt),
	}
	err := s.write(func() error {
		return s.db.WithContext(ctx).Table(TableScheduled).Create(row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrapf(err, errorx.CodeConflict, "scheduled message %s already exists", m.ID)
	}
	return wrapDBErrorf(err, "insert scheduled id=%s", m.ID)
}

func (s *Store) listScheduled(ctx context.Context, q func(db *gorm.DB) *gorm.DB) ([]model.ScheduledMessage, error) {
	var rows []map[string]any
	err := s.read(func() error {
		var err error
		base := s.db.WithContext(ctx).Table(TableScheduled)
		rows, err = findRows(q(base).Order(s.c("scheduledat") + " ASC").Order(s.c("id") + " ASC"))
		return err
	})
	if err != nil {
		return nil, wrapDBError(err, "query scheduled messages")
	}
	out := make([]model.ScheduledMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalize.ScheduledMessage(r))
	}
	return out, nil
}

// ListScheduledForUser 用户发起的所有定时消息，按计划时间升序
func (s *Store) ListScheduledForUser(ctx context.Context, userID string) ([]model.ScheduledMessage, error) {
	return s.listScheduled(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where(s.eq("fromid"), userID)
	})
}

// ListDueScheduled 状态为 scheduled 且计划时间不晚于 cutoff 的消息
func (s *Store) ListDueScheduled(ctx context.Context, cutoff time.Time) ([]model.ScheduledMessage, error) {
	return s.listScheduled(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where(s.eq("status"), string(model.ScheduledWaiting)).
			Where(s.c("scheduledat")+" <= ?", s.dialect.Time(cutoff))
	})
}

// CASScheduledStatus 仅当当前状态仍为 expected 时改为 next，单条 UPDATE 完成，
// 影响行数决定谁赢；输掉竞争返回 false 而不是错误
func (s *Store) CASScheduledStatus(ctx context.Context, id string, expected, next model.ScheduledStatus) (bool, error) {
	if expected == next {
		return false, errorx.Newf(errorx.CodeValidation, "status transition %s -> %s is not a change", expected, next)
	}
	var swapped bool
	err := s.write(func() error {
		res := s.db.WithContext(ctx).Exec(
			"UPDATE "+s.quote(TableScheduled)+" SET "+s.eq("status")+" WHERE "+s.eq("id")+" AND "+s.eq("status"),
			string(next), id, string(expected),
		)
		swapped = res.RowsAffected == 1
		return res.Error
	})
	if err != nil {
		return false, wrapDBErrorf(err, "cas scheduled id=%s", id)
	}
	return swapped, nil
}

// SetScheduledStatus 记录投递结果，只对已认领（pending）的消息生效；
// 未认领或已处于终态的消息返回 false
func (s *Store) SetScheduledStatus(ctx context.Context, id string, status model.ScheduledStatus) (bool, error) {
	var updated bool
	err := s.write(func() error {
		res := s.db.WithContext(ctx).Exec(
			"UPDATE "+s.quote(TableScheduled)+" SET "+s.eq("status")+" WHERE "+s.eq("id")+" AND "+s.eq("status"),
			string(status), id, string(model.ScheduledPending),
		)
		updated = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return false, wrapDBErrorf(err, "set scheduled status id=%s", id)
	}
	return updated, nil
}

// DeleteScheduled 删除定时消息
func (s *Store) DeleteScheduled(ctx context.Context, id string) (bool, error) {
	n, err := s.deleteWhere(ctx, TableScheduled, s.eq("id"), id)
	if err != nil {
		return false, wrapDBErrorf(err, "delete scheduled id=%s", id)
	}
	return n > 0, nil
}
