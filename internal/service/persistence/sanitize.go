package persistence

import (
	"math"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/model"
)

// PageOptions 分页参数，来源通常是未经处理的请求参数
//   - Limit：整数、浮点或数字字符串；非数字或不为正表示不限制
//   - Before：time.Time 或 RFC3339 / ISO 8601 / 2006-01-02 字符串；无法解析表示不过滤
type PageOptions struct {
	Limit  any
	Before any
}

// SanitizeLimit 向下取整并限制在 [1, max]；返回 0 表示不限制
func SanitizeLimit(v any, max int) int {
	var n int64
	switch x := v.(type) {
	case nil, bool:
		return 0
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 1 {
			return 0
		}
		n = int64(math.Floor(x))
	default:
		var ok bool
		n, ok = normalize.AsInt64(v)
		if !ok {
			return 0
		}
	}
	if n <= 0 {
		return 0
	}
	if max > 0 && n > int64(max) {
		return max
	}
	return int(n)
}

// SanitizeBefore 返回零值表示不过滤
func SanitizeBefore(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return time.Time{}
		}
		return x.UTC()
	case string:
		t, _ := normalize.ParseTime(x)
		return t
	}
	return time.Time{}
}

func (s *Service) page(opts PageOptions) model.Page {
	return model.Page{
		Limit:  SanitizeLimit(opts.Limit, s.maxLimit),
		Before: SanitizeBefore(opts.Before),
	}
}

// limitOr 清洗后的 limit，未给出时使用 def
func (s *Service) limitOr(v any, def int) int {
	if n := SanitizeLimit(v, s.maxLimit); n > 0 {
		return n
	}
	if s.maxLimit > 0 && def > s.maxLimit {
		return s.maxLimit
	}
	return def
}
