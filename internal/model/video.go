package model

import (
	"time"

	"gorm.io/datatypes"
)

// MaxCommentLength 评论正文上限（按字符计），超出部分截断
const MaxCommentLength = 2000

// 视频计数字段
const (
	CounterViews = "views"
	CounterLikes = "likes"
)

// Video 短视频元数据
type Video struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Duration     int64             `json:"duration,omitempty"` // 秒，未知为 0
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	Visibility   string            `json:"visibility"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	Views        int64             `json:"views"`
	Likes        int64             `json:"likes"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// FeedItem 推荐流条目
// Approximate 为 true 表示排序来自降级策略（按播放量、时间），Score 只是展示用
type FeedItem struct {
	Video
	UploaderName   string  `json:"uploaderName"`
	UploaderAvatar string  `json:"uploaderAvatar"`
	Score          float64 `json:"score"`
	Approximate    bool    `json:"approximate"`
}

// Comment 视频评论，ParentID 非空表示楼中楼
type Comment struct {
	ID        string            `json:"id"`
	VideoID   string            `json:"videoId"`
	UserID    string            `json:"userId"`
	ParentID  string            `json:"parentId,omitempty"`
	Username  string            `json:"username,omitempty"`
	Avatar    string            `json:"avatar,omitempty"`
	Text      string            `json:"text"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	Likes     int64             `json:"likes"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Like 用户对视频的点赞，存在即已点赞
type Like struct {
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	CreatedAt time.Time `json:"createdAt"`
}
