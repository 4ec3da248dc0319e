package model

import "time"

// Page 分页参数，已经过 facade 清洗
// Limit 为 0 表示不限制；Before 为零值表示不过滤
type Page struct {
	Limit  int
	Before time.Time
}

// HasBefore 是否带时间上界
func (p Page) HasBefore() bool { return !p.Before.IsZero() }
