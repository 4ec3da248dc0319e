package persistence

import (
	"context"
	"strings"

	"appchat_store/internal/feed"
	"appchat_store/internal/model"
	"appchat_store/pkg/util/snowflake"

	"gorm.io/datatypes"
)

// 列表默认条数
const (
	defaultVideoLimit   = 50
	defaultCommentLimit = 200
)

// VideoInput 新视频元数据
type VideoInput struct {
	UserID       string         `json:"userId" validate:"required"`
	URL          string         `json:"url" validate:"required,max=2048"`
	Title        string         `json:"title" validate:"max=200"`
	Description  string         `json:"description" validate:"max=5000"`
	Duration     int64          `json:"duration" validate:"gte=0"`
	ThumbnailURL string         `json:"thumbnailUrl" validate:"max=2048"`
	Metadata     map[string]any `json:"metadata"`
}

// CommentInput 新评论，ParentID 非空表示回复
type CommentInput struct {
	VideoID  string         `json:"videoId" validate:"required"`
	UserID   string         `json:"userId"`
	Text     string         `json:"text" validate:"required"`
	ParentID string         `json:"parentId"`
	Username string         `json:"username"`
	Avatar   string         `json:"avatar"`
	Metadata map[string]any `json:"metadata"`
}

// CommentOptions 评论查询参数，Order 为 "desc" 时最新的在前
type CommentOptions struct {
	Limit any
	Order string
}

// LikeState 点赞操作之后的状态
type LikeState struct {
	Liked   bool   `json:"liked"`
	UserID  string `json:"userId"`
	VideoID string `json:"videoId"`
}

type likeInput struct {
	UserID  string `json:"userId" validate:"required"`
	VideoID string `json:"videoId" validate:"required"`
}

// SaveVideo 保存视频元数据，新视频公开可见，计数从 0 开始
func (s *Service) SaveVideo(ctx context.Context, in VideoInput) (*model.Video, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.URL = strings.TrimSpace(in.URL)
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	meta := datatypes.JSONMap(in.Metadata)
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	v := &model.Video{
		ID:           snowflake.NewPrefixedID("video"),
		UserID:       in.UserID,
		URL:          in.URL,
		Title:        in.Title,
		Description:  in.Description,
		Duration:     in.Duration,
		ThumbnailURL: in.ThumbnailURL,
		Visibility:   model.VisibilityPublic,
		Metadata:     meta,
		CreatedAt:    s.clock(),
	}
	if err := s.store.InsertVideo(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVideosForUser 用户上传的视频，最新的在前，默认 50 条
func (s *Service) GetVideosForUser(ctx context.Context, userID string, limit any) ([]model.Video, error) {
	return s.store.ListVideosForUser(ctx, userID, s.limitOr(limit, defaultVideoLimit))
}

// IncrementVideoViews 播放量只能增加，delta 至少为 1
func (s *Service) IncrementVideoViews(ctx context.Context, videoID string, delta int64) (*model.Video, error) {
	if delta < 1 {
		return nil, invalidf("views increment must be at least 1, got %d", delta)
	}
	return s.incrementVideo(ctx, videoID, model.CounterViews, delta)
}

// IncrementVideoLikes 点赞数可增可减，结果不会小于 0
func (s *Service) IncrementVideoLikes(ctx context.Context, videoID string, delta int64) (*model.Video, error) {
	if delta == 0 {
		return nil, invalid("likes increment must not be zero")
	}
	return s.incrementVideo(ctx, videoID, model.CounterLikes, delta)
}

func (s *Service) incrementVideo(ctx context.Context, videoID, field string, delta int64) (*model.Video, error) {
	if videoID == "" {
		return nil, invalid("videoId is a required field")
	}
	v, err := s.store.IncrementVideoCounter(ctx, videoID, field, delta)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("Video not found")
	}
	return v, nil
}

// HasUserLikedVideo 任一 id 为空时返回 false
func (s *Service) HasUserLikedVideo(ctx context.Context, userID, videoID string) (bool, error) {
	if userID == "" || videoID == "" {
		return false, nil
	}
	return s.store.HasLike(ctx, userID, videoID)
}

// ToggleUserVideoLike 点赞或取消点赞并返回操作后的状态；重复点赞不会产生重复记录
// 视频的 likes 计数由调用方通过 IncrementVideoLikes 单独维护
func (s *Service) ToggleUserVideoLike(ctx context.Context, userID, videoID string, doLike bool) (*LikeState, error) {
	in := likeInput{UserID: strings.TrimSpace(userID), VideoID: strings.TrimSpace(videoID)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	var err error
	if doLike {
		_, err = s.store.UpsertLike(ctx, in.UserID, in.VideoID)
	} else {
		_, err = s.store.RemoveLike(ctx, in.UserID, in.VideoID)
	}
	if err != nil {
		return nil, err
	}
	liked, err := s.store.HasLike(ctx, in.UserID, in.VideoID)
	if err != nil {
		return nil, err
	}
	return &LikeState{Liked: liked, UserID: in.UserID, VideoID: in.VideoID}, nil
}

// GetForYouFeed 推荐流：公开视频按播放量和时效打分排序
// userID 目前不参与打分
func (s *Service) GetForYouFeed(ctx context.Context, userID string, opts feed.Options) ([]model.FeedItem, error) {
	p := opts.Resolve(s.maxLimit)
	return s.store.ListPublicVideosRanked(ctx, p, s.now().UTC())
}

// SaveComment 保存评论，正文超过上限的部分被截断
func (s *Service) SaveComment(ctx context.Context, in CommentInput) (*model.Comment, error) {
	in.VideoID = strings.TrimSpace(in.VideoID)
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	text := in.Text
	if runes := []rune(text); len(runes) > model.MaxCommentLength {
		text = string(runes[:model.MaxCommentLength])
	}
	meta := datatypes.JSONMap(in.Metadata)
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	c := &model.Comment{
		ID:        snowflake.NewPrefixedID("comment"),
		VideoID:   in.VideoID,
		UserID:    in.UserID,
		ParentID:  in.ParentID,
		Username:  in.Username,
		Avatar:    in.Avatar,
		Text:      text,
		Metadata:  meta,
		CreatedAt: s.clock(),
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommentsForVideo 默认 200 条，按时间升序
func (s *Service) GetCommentsForVideo(ctx context.Context, videoID string, opts CommentOptions) ([]model.Comment, error) {
	desc := strings.EqualFold(strings.TrimSpace(opts.Order), "desc")
	return s.store.ListCommentsForVideo(ctx, videoID, s.limitOr(opts.Limit, defaultCommentLimit), desc)
}

// IncrementCommentLikes 评论点赞数可增可减，结果不会小于 0
func (s *Service) IncrementCommentLikes(ctx context.Context, commentID string, delta int64) (*model.Comment, error) {
	if commentID == "" {
		return nil, invalid("commentId is a required field")
	}
	if delta == 0 {
		return nil, invalid("likes increment must not be zero")
	}
	c, err := s.store.IncrementCommentLikes(ctx, commentID, delta)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("Comment not found")
	}
	return c, nil
}
