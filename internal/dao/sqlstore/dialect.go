// Package sqlstore 两种后端共用的语句层
// 所有语句都走 gorm 的占位符绑定；列名来自固定的命名函数，从不拼接调用方输入
package sqlstore

import (
	"strings"
	"time"

	"appchat_store/internal/dao/normalize"
)

// 方言名
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Kind 列的逻辑类型，建表时按方言映射成具体类型
type Kind int

const (
	KindKey  Kind = iota // 主键或需要建索引的短字符串
	KindText             // 普通文本
	KindTime             // 时间
	KindInt              // 计数
	KindBool             // 布尔
	KindJSON             // JSON 文本
)

// Dialect 描述一个后端在列名、时间存储和锁能力上的差异
type Dialect struct {
	Name string
	// LowerColumns 网络库的列名全部小写
	LowerColumns bool
	// NativeTime 时间列是原生时间类型；否则按 ISO 文本存储
	NativeTime bool
	// RowLocking 支持 SELECT ... FOR UPDATE
	RowLocking bool
}

var (
	SQLite   = Dialect{Name: DialectSQLite}
	Postgres = Dialect{Name: DialectPostgres, LowerColumns: true, NativeTime: true, RowLocking: true}
	MySQL    = Dialect{Name: DialectMySQL, LowerColumns: true, NativeTime: true, RowLocking: true}
)

// Col 规范列名 -> 该后端的实际列名
func (d Dialect) Col(name string) string {
	if d.LowerColumns {
		return strings.ToLower(name)
	}
	return name
}

// Time 时间值按后端的存储方式绑定
func (d Dialect) Time(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	if d.NativeTime {
		return t.UTC()
	}
	return normalize.FormatTime(t)
}

// ColumnType 逻辑类型 -> 建表类型
func (d Dialect) ColumnType(k Kind) string {
	switch d.Name {
	case DialectPostgres:
		switch k {
		case KindTime:
			return "TIMESTAMPTZ"
		case KindInt:
			return "BIGINT"
		case KindBool:
			return "BOOLEAN"
		}
		return "TEXT"
	case DialectMySQL:
		switch k {
		case KindKey:
			return "VARCHAR(191)"
		case KindTime:
			return "DATETIME(3)"
		case KindInt:
			return "BIGINT"
		case KindBool:
			return "BOOLEAN"
		}
		return "TEXT"
	default:
		switch k {
		case KindInt, KindBool:
			return "INTEGER"
		}
		return "TEXT"
	}
}
