package sqlstore

import (
	"context"
)

func (s *Store) count(ctx context.Context, table, expr string) (int64, error) {
	var n int64
	err := s.read(func() error {
		return s.db.WithContext(ctx).Raw("SELECT COUNT(" + expr + ") FROM " + s.quote(table)).Scan(&n).Error
	})
	if err != nil {
		return 0, wrapDBErrorf(err, "count %s", table)
	}
	return n, nil
}

// CountUsers 用户总数
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, TableUsers, "*")
}

// CountMessages 消息总数
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, TableMessages, "*")
}

// CountDistinctChats 会话数
func (s *Store) CountDistinctChats(ctx context.Context) (int64, error) {
	return s.count(ctx, TableMessages, "DISTINCT "+s.c("chatid"))
}

// DeleteAllMessages 清空消息表，返回删除条数
func (s *Store) DeleteAllMessages(ctx context.Context) (int64, error) {
	n, err := s.deleteWhere(ctx, TableMessages, "1 = 1")
	if err != nil {
		return 0, wrapDBError(err, "clear messages")
	}
	return n, nil
}
