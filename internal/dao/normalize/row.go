// Package normalize 把两种存储后端（以及旧 JSON 导出）的原始行统一成 model 中的领域记录
// 嵌入式库保留混合大小写列名（fullName、userId、createdAt），网络库全部小写，旧数据还有别名；
// 这里的函数都是纯函数，不依赖任何后端
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row 后端返回的一行原始数据
type Row map[string]any

// Get 按候选 key 依次查找：原样 key，小写 key，最后忽略大小写匹配
func (r Row) Get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			return v, true
		}
		if v, ok := r[strings.ToLower(k)]; ok {
			return v, true
		}
	}
	for _, k := range keys {
		for rk, v := range r {
			if strings.EqualFold(rk, k) {
				return v, true
			}
		}
	}
	return nil, false
}

// String 取字符串字段，缺失或为 NULL 时返回空串
func (r Row) String(keys ...string) string {
	v, ok := r.Get(keys...)
	if !ok {
		return ""
	}
	return AsString(v)
}

// StringOr 取字符串字段，空值时返回 def
func (r Row) StringOr(def string, keys ...string) string {
	if s := r.String(keys...); s != "" {
		return s
	}
	return def
}

// Int64 取整数字段
func (r Row) Int64(keys ...string) int64 {
	v, _ := r.Get(keys...)
	n, _ := AsInt64(v)
	return n
}

// Bool 取布尔字段，兼容 0/1、"true"/"false"
func (r Row) Bool(keys ...string) bool {
	v, _ := r.Get(keys...)
	return AsBool(v)
}

// Time 取时间字段，无法解析时返回零值
func (r Row) Time(keys ...string) time.Time {
	v, _ := r.Get(keys...)
	t, _ := AsTime(v)
	return t
}

// Strings 取字符串数组字段，JSON 文本会被解析，解析失败返回空数组
func (r Row) Strings(keys ...string) []string {
	v, _ := r.Get(keys...)
	return AsStrings(v)
}

// Map 取对象字段，JSON 文本会被解析，解析失败返回空对象
func (r Row) Map(keys ...string) map[string]any {
	v, _ := r.Get(keys...)
	return AsMap(v)
}

// AsString 把任意标量转换成字符串
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return FormatTime(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// AsInt64 把数字或数字字符串转换成 int64，浮点向下取整
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(math.Floor(x)), true
	case float32:
		return AsInt64(float64(x))
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case []byte:
		return AsInt64(string(x))
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return AsInt64(f)
		}
		return 0, false
	case json.Number:
		return AsInt64(string(x))
	}
	return 0, false
}

// AsBool 非零数字、"true"/"1" 以及 true 视为真
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case []byte:
		return AsBool(string(x))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	case nil:
		return false
	}
	n, ok := AsInt64(v)
	return ok && n != 0
}

// 嵌入式库存储时间用的格式：UTC、毫秒精度，字典序即时间序
const timeLayout = "2006-01-02T15:04:05.000Z"

var parseLayouts = []string{
	time.RFC3339Nano,
	timeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatTime 按嵌入式库的存储格式输出时间
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime 解析 RFC3339 / ISO 8601 / 纯日期等格式
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// AsTime 支持 time.Time、时间字符串、毫秒时间戳
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return AsTime(*x)
	case string:
		return ParseTime(x)
	case []byte:
		return ParseTime(string(x))
	case nil:
		return time.Time{}, false
	}
	if ms, ok := AsInt64(v); ok && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// AsStrings 转换字符串数组，去掉空值和重复值，保持原顺序
func AsStrings(v any) []string {
	var raw []any
	switch x := v.(type) {
	case []string:
		return dedupe(x)
	case []any:
		raw = x
	case string, []byte:
		text := AsString(x)
		if strings.TrimSpace(text) == "" {
			return []string{}
		}
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return []string{}
		}
	default:
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		out = append(out, AsString(item))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// AsMap 转换对象，JSON 文本解析失败时返回空对象
func AsMap(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return map[string]any{}
		}
		return x
	case string, []byte:
		text := AsString(x)
		out := map[string]any{}
		if strings.TrimSpace(text) == "" {
			return out
		}
		if err := json.Unmarshal([]byte(text), &out); err != nil || out == nil {
			return map[string]any{}
		}
		return out
	}
	return map[string]any{}
}
