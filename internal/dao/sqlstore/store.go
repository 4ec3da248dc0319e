package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/feed"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
)

// Guard 控制语句的并发方式
// 嵌入式后端只有一个进程内句柄，写操作需要串行化；网络后端交给连接池和数据库本身
type Guard interface {
	Read(fn func() error) error
	Write(fn func() error) error
}

// PassGuard 不做任何串行化
type PassGuard struct{}

func (PassGuard) Read(fn func() error) error  { return fn() }
func (PassGuard) Write(fn func() error) error { return fn() }

// RankFunc 推荐流的后端实现：网络后端在 SQL 里打分，嵌入式后端走降级排序
type RankFunc func(ctx context.Context, s *Store, p feed.Params, now time.Time) ([]model.FeedItem, error)

// Store 基于 gorm 的存储实现，embedded 和 network 两个包各自包一层
type Store struct {
	db      *gorm.DB
	dialect Dialect
	guard   Guard
	rank    RankFunc
}

// New 创建语句层；guard 为 nil 时不做串行化
func New(db *gorm.DB, dialect Dialect, guard Guard, rank RankFunc) *Store {
	if guard == nil {
		guard = PassGuard{}
	}
	return &Store{db: db, dialect: dialect, guard: guard, rank: rank}
}

// DB 返回底层 gorm 句柄
func (s *Store) DB() *gorm.DB { return s.db }

// Dialect 返回当前方言
func (s *Store) Dialect() Dialect { return s.dialect }

// Backend 后端名
func (s *Store) Backend() string { return s.dialect.Name }

// c 规范列名 -> 实际列名
func (s *Store) c(name string) string { return s.dialect.Col(name) }

// quote 给表名加引号，groups 在 MySQL 里是保留字
func (s *Store) quote(name string) string {
	var b strings.Builder
	s.db.Dialector.QuoteTo(&b, name)
	return b.String()
}

// eq 生成 "col = ?" 条件
func (s *Store) eq(name string) string { return s.c(name) + " = ?" }

// withTx 在事务中执行
func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// read 读操作统一入口
func (s *Store) read(fn func() error) error { return s.guard.Read(fn) }

// write 写操作统一入口
func (s *Store) write(fn func() error) error { return s.guard.Write(fn) }

// findRows 把查询结果读成原始行
func findRows(q *gorm.DB) ([]map[string]any, error) {
	rows := make([]map[string]any, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// firstRow 取一行，不存在返回 nil
func firstRow(q *gorm.DB) (normalize.Row, error) {
	rows, err := findRows(q.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// exists 按条件判断是否存在
func exists(q *gorm.DB) (bool, error) {
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// jsonText 对象或数组序列化为 JSON 文本，空值写成 "{}" / "[]"
func jsonText(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

// ==================== 错误包装辅助函数 ====================

// wrapDBError 包装数据库错误
//   - ErrRecordNotFound -> CodeNotFound
//   - ErrDuplicatedKey -> CodeConflict
//   - 其他错误 -> CodeDBError
func wrapDBError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorx.Wrap(err, errorx.CodeNotFound, msg)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errorx.Wrap(err, errorx.CodeConflict, msg)
	}
	return errorx.Wrap(err, errorx.CodeDBError, msg)
}

// wrapDBErrorf 同 wrapDBError，支持格式化消息
func wrapDBErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorx.Wrapf(err, errorx.CodeNotFound, format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errorx.Wrapf(err, errorx.CodeConflict, format, args...)
	}
	return errorx.Wrapf(err, errorx.CodeDBError, format, args...)
}

// updateByID 按 id 更新，返回记录是否存在
// MySQL 的 RowsAffected 只统计真正变化的行，所以先查存在再更新
func (s *Store) updateByID(ctx context.Context, table, id string, values map[string]any) (bool, error) {
	var found bool
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			ok, err := exists(tx.Table(table).Where(s.eq("id"), id))
			if err != nil || !ok {
				return err
			}
			found = true
			return tx.Table(table).Where(s.eq("id"), id).Updates(values).Error
		})
	})
	if err != nil {
		return false, wrapDBErrorf(err, "update %s id=%s", table, id)
	}
	return found, nil
}

// deleteWhere 删除并返回影响行数
func (s *Store) deleteWhere(ctx context.Context, table, cond string, args ...any) (int64, error) {
	var n int64
	err := s.write(func() error {
		res := s.db.WithContext(ctx).Exec("DELETE FROM "+s.quote(table)+" WHERE "+cond, args...)
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// Flush 网络后端没有待落盘数据
func (s *Store) Flush(ctx context.Context) (bool, error) { return true, nil }

// PendingWrites 网络后端始终为 0
func (s *Store) PendingWrites() int { return 0 }

// Close 关闭连接池
func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapDBError(err, "get sql.DB")
	}
	return sqlDB.Close()
}
