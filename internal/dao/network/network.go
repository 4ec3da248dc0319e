// Package network 网络存储后端：PostgreSQL（默认）或 MySQL
// 每条语句从连接池取连接、用完归还；定时消息认领完全依赖数据库的条件更新，不使用进程内锁
package network

import (
	"context"
	"fmt"
	"strings"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/dao/sqlstore"
	"appchat_store/internal/feed"
	"appchat_store/internal/model"

	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options 网络后端参数
type Options struct {
	Dialect         string // postgres / mysql
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 网络后端
type Store struct {
	*sqlstore.Store
}

// Open 建立连接池并初始化表结构
func Open(ctx context.Context, opts Options) (*Store, error) {
	var (
		dialector gorm.Dialector
		dialect   sqlstore.Dialect
	)
	switch opts.Dialect {
	case sqlstore.DialectMySQL:
		dialector = mysqldriver.Open(withParseTime(opts.DSN))
		dialect = sqlstore.MySQL
	case sqlstore.DialectPostgres, "":
		dialector = postgres.Open(opts.DSN)
		dialect = sqlstore.Postgres
	default:
		return nil, fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect.Name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}

	st := &Store{Store: sqlstore.New(db, dialect, sqlstore.PassGuard{}, rankScored)}
	if err := st.Bootstrap(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return st, nil
}

// withParseTime MySQL 需要 parseTime=true 才能把 DATETIME 读成 time.Time
func withParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// ScoreSQL 推荐流打分表达式，占位符顺序：wV, rd, now, rd, wR
func ScoreSQL(d sqlstore.Dialect) string {
	num := "?"
	age := "TIMESTAMPDIFF(SECOND, v.createdat, ?) / 86400.0"
	if d.Name == sqlstore.DialectPostgres {
		num = "CAST(? AS DOUBLE PRECISION)"
		age = "EXTRACT(EPOCH FROM (CAST(? AS TIMESTAMPTZ) - v.createdat)) / 86400.0"
	}
	expr := fmt.Sprintf("COALESCE(v.views, 0) * %s + COALESCE(GREATEST(0, %s - %s) / NULLIF(%s, 0), 0) * %s",
		num, num, age, num, num)
	if d.Name == sqlstore.DialectPostgres {
		return "CAST(" + expr + " AS DOUBLE PRECISION)"
	}
	return "(" + expr + ")"
}

// rankScored 服务端打分：score = views*wV + max(0, rd-age)/rd*wR，rd 为 0 时时效分为 0
func rankScored(ctx context.Context, s *sqlstore.Store, p feed.Params, now time.Time) ([]model.FeedItem, error) {
	query := s.FeedBaseSQL(ScoreSQL(s.Dialect())+" AS score") + " ORDER BY score DESC, v.createdat DESC, v.id ASC LIMIT ?"
	args := []any{
		p.WeightViews, p.RecencyDays, now.UTC(), p.RecencyDays, p.WeightRecency,
		model.VisibilityPublic, p.Limit,
	}
	rows := make([]map[string]any, 0)
	if err := s.DB().WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]model.FeedItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, normalize.FeedItem(r))
	}
	return items, nil
}
