// Package feed 推荐流打分
// score = views*wV + max(0, rd - ageDays)/rd * wR，rd <= 0 时不加时效分
package feed

import (
	"math"
	"time"
)

// 默认参数
const (
	DefaultLimit         = 25
	DefaultRecencyDays   = 14.0
	DefaultWeightViews   = 1.0
	DefaultWeightRecency = 1.0
)

// Params 打分参数，已经填好默认值
type Params struct {
	Limit         int
	RecencyDays   float64
	WeightViews   float64
	WeightRecency float64
}

// Options 调用方传入的推荐流参数，nil 表示用默认值
type Options struct {
	Limit         int      `json:"limit"`
	RecencyDays   *float64 `json:"recencyDays"`
	WeightViews   *float64 `json:"weightViews"`
	WeightRecency *float64 `json:"weightRecency"`
}

// Resolve 填默认值并把 limit 限制在 [1, maxLimit]
func (o Options) Resolve(maxLimit int) Params {
	p := Params{
		Limit:         o.Limit,
		RecencyDays:   DefaultRecencyDays,
		WeightViews:   DefaultWeightViews,
		WeightRecency: DefaultWeightRecency,
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if o.RecencyDays != nil && isFinite(*o.RecencyDays) {
		p.RecencyDays = *o.RecencyDays
	}
	if o.WeightViews != nil && isFinite(*o.WeightViews) {
		p.WeightViews = *o.WeightViews
	}
	if o.WeightRecency != nil && isFinite(*o.WeightRecency) {
		p.WeightRecency = *o.WeightRecency
	}
	return p
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float 便于构造 Options 的指针字段
func Float(f float64) *float64 { return &f }

// AgeDays 视频发布到 now 经过的天数，未来时间按 0 算
func AgeDays(createdAt, now time.Time) float64 {
	d := now.Sub(createdAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// RecencyTerm 时效分，recencyDays <= 0 时为 0
func RecencyTerm(ageDays float64, p Params) float64 {
	if p.RecencyDays <= 0 {
		return 0
	}
	return math.Max(0, p.RecencyDays-ageDays) / p.RecencyDays * p.WeightRecency
}

// Score 单个视频得分
func Score(views int64, ageDays float64, p Params) float64 {
	return float64(views)*p.WeightViews + RecencyTerm(ageDays, p)
}
