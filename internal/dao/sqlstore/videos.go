package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/feed"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
)

// InsertVideo 写入视频元数据
func (s *Store) InsertVideo(ctx context.Context, v *model.Video) error {
	visibility := v.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	row := map[string]any{
		s.c("id"):           v.ID,
		s.c("userId"):       v.UserID,
		s.c("url"):          v.URL,
		s.c("title"):        v.Title,
		s.c("description"):  v.Description,
		s.c("duration"):     v.Duration,
		s.c("thumbnailUrl"): nullable(v.ThumbnailURL),
		s.c("visibility"):   visibility,
		s.c("metadata"):     jsonText(v.Metadata, "{}"),
		s.c("views"):        v.Views,
		s.c("likes"):        v.Likes,
		s.c("createdAt"):    s.dialect.Time(v.CreatedAt),
	}
	err := s.write(func() error {
		return s.db.WithContext(ctx).Table(TableVideos).Create(row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrapf(err, errorx.CodeConflict, "video %s already exists", v.ID)
	}
	return wrapDBErrorf(err, "insert video id=%s", v.ID)
}

func (s *Store) getVideo(db *gorm.DB, id string) (*model.Video, error) {
	row, err := firstRow(db.Table(TableVideos).Where(s.eq("id"), id))
	if err != nil || row == nil {
		return nil, err
	}
	v := normalize.Video(row)
	return &v, nil
}

// GetVideo 按 id 查询，不存在返回 nil
func (s *Store) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	var v *model.Video
	err := s.read(func() error {
		var err error
		v, err = s.getVideo(s.db.WithContext(ctx), id)
		return err
	})
	return v, wrapDBErrorf(err, "query video id=%s", id)
}

// ListVideosForUser 用户上传的视频，最新的在前
func (s *Store) ListVideosForUser(ctx context.Context, userID string, limit int) ([]model.Video, error) {
	var rows []map[string]any
	err := s.read(func() error {
		q := s.db.WithContext(ctx).Table(TableVideos).Where(s.eq("userId"), userID).
			Order(s.c("createdAt") + " DESC").Order(s.c("id") + " ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		var err error
		rows, err = findRows(q)
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query videos user=%s", userID)
	}
	out := make([]model.Video, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalize.Video(r))
	}
	return out, nil
}

// counterExpr 计数加减，结果不低于 0
func (s *Store) counterExpr(field string, delta int64) any {
	col := s.c(field)
	return gorm.Expr(fmt.Sprintf("CASE WHEN COALESCE(%s, 0) + ? < 0 THEN 0 ELSE COALESCE(%s, 0) + ? END", col, col), delta, delta)
}

// IncrementVideoCounter 调整 views 或 likes，返回更新后的记录；视频不存在返回 nil
func (s *Store) IncrementVideoCounter(ctx context.Context, id, field string, delta int64) (*model.Video, error) {
	if field != model.CounterViews && field != model.CounterLikes {
		return nil, errorx.Newf(errorx.CodeValidation, "unknown video counter %q", field)
	}
	var v *model.Video
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			ok, err := exists(tx.Table(TableVideos).Where(s.eq("id"), id))
			if err != nil || !ok {
				return err
			}
			if err := tx.Table(TableVideos).Where(s.eq("id"), id).
				Update(s.c(field), s.counterExpr(field, delta)).Error; err != nil {
				return err
			}
			v, err = s.getVideo(tx, id)
			return err
		})
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "increment video %s id=%s", field, id)
	}
	return v, nil
}

// ListPublicVideosRanked 推荐流，排序方式由后端决定
func (s *Store) ListPublicVideosRanked(ctx context.Context, p feed.Params, now time.Time) ([]model.FeedItem, error) {
	var items []model.FeedItem
	err := s.read(func() error {
		var err error
		items, err = s.rank(ctx, s, p, now)
		return err
	})
	if err != nil {
		return nil, wrapDBError(err, "query feed")
	}
	if items == nil {
		items = []model.FeedItem{}
	}
	return items, nil
}

// FeedBaseSQL 推荐流公共部分：公开视频左连上传者，extra 为额外的 SELECT 表达式
func (s *Store) FeedBaseSQL(extra string) string {
	sel := fmt.Sprintf("SELECT v.*, u.%s AS uploaderName, u.%s AS uploaderAvatar",
		s.c("username"), s.c("profileImageUrl"))
	if extra != "" {
		sel += ", " + extra
	}
	return fmt.Sprintf("%s FROM %s v LEFT JOIN %s u ON u.%s = v.%s WHERE (v.%s = ? OR v.%s IS NULL)",
		sel, s.quote(TableVideos), s.quote(TableUsers), s.c("id"), s.c("userId"),
		s.c("visibility"), s.c("visibility"))
}

// ==================== 评论 ====================

// InsertComment 写入评论
func (s *Store) InsertComment(ctx context.Context, c *model.Comment) error {
	row := map[string]any{
		s.c("id"):        c.ID,
		s.c("videoId"):   c.VideoID,
		s.c("userId"):    nullable(c.UserID),
		s.c("parentId"):  nullable(c.ParentID),
		s.c("username"):  nullable(c.Username),
		s.c("avatar"):    nullable(c.Avatar),
		s.c("text"):      c.Text,
		s.c("metadata"):  jsonText(c.Metadata, "{}"),
		s.c("likes"):     c.Likes,
		s.c("createdAt"): s.dialect.Time(c.CreatedAt),
	}
	err := s.write(func() error {
		return s.db.WithContext(ctx).Table(TableComments).Create(row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrapf(err, errorx.CodeConflict, "comment %s already exists", c.ID)
	}
	return wrapDBErrorf(err, "insert comment id=%s", c.ID)
}

// ListCommentsForVideo 视频评论，desc 为 true 时最新的在前
func (s *Store) ListCommentsForVideo(ctx context.Context, videoID string, limit int, desc bool) ([]model.Comment, error) {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	var rows []map[string]any
	err := s.read(func() error {
		q := s.db.WithContext(ctx).Table(TableComments).Where(s.eq("videoId"), videoID).
			Order(s.c("createdAt") + dir).Order(s.c("id") + dir)
		if limit > 0 {
			q = q.Limit(limit)
		}
		var err error
		rows, err = findRows(q)
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query comments video=%s", videoID)
	}
	out := make([]model.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalize.Comment(r))
	}
	return out, nil
}

// IncrementCommentLikes 调整评论点赞数，返回更新后的评论；不存在返回 nil
func (s *Store) IncrementCommentLikes(ctx context.Context, id string, delta int64) (*model.Comment, error) {
	var c *model.Comment
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			ok, err := exists(tx.Table(TableComments).Where(s.eq("id"), id))
			if err != nil || !ok {
				return err
			}
			if err := tx.Table(TableComments).Where(s.eq("id"), id).
				Update(s.c("likes"), s.counterExpr("likes", delta)).Error; err != nil {
				return err
			}
			row, err := firstRow(tx.Table(TableComments).Where(s.eq("id"), id))
			if err != nil || row == nil {
				return err
			}
			out := normalize.Comment(row)
			c = &out
			return nil
		})
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "increment comment likes id=%s", id)
	}
	return c, nil
}

// ==================== 点赞 ====================

func (s *Store) likeCond() string {
	return s.eq("userId") + " AND " + s.eq("videoId")
}

// UpsertLike 幂等点赞，新建返回 true，已存在返回 false
func (s *Store) UpsertLike(ctx context.Context, userID, videoID string) (bool, error) {
	var created bool
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			dup, err := exists(tx.Table(TableLikes).Where(s.likeCond(), userID, videoID))
			if err != nil || dup {
				return err
			}
			if err := tx.Table(TableLikes).Create(map[string]any{
				s.c("userId"):    userID,
				s.c("videoId"):   videoID,
				s.c("createdAt"): s.dialect.Time(time.Now()),
			}).Error; err != nil {
				return err
			}
			created = true
			return nil
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBErrorf(err, "like user=%s video=%s", userID, videoID)
	}
	return created, nil
}

// RemoveLike 取消点赞，返回是否删除了记录
func (s *Store) RemoveLike(ctx context.Context, userID, videoID string) (bool, error) {
	n, err := s.deleteWhere(ctx, TableLikes, s.likeCond(), userID, videoID)
	if err != nil {
		return false, wrapDBErrorf(err, "unlike user=%s video=%s", userID, videoID)
	}
	return n > 0, nil
}

// HasLike 是否已点赞
func (s *Store) HasLike(ctx context.Context, userID, videoID string) (bool, error) {
	var ok bool
	err := s.read(func() error {
		var err error
		ok, err = exists(s.db.WithContext(ctx).Table(TableLikes).Where(s.likeCond(), userID, videoID))
		return err
	})
	if err != nil {
		return false, wrapDBErrorf(err, "check like user=%s video=%s", userID, videoID)
	}
	return ok, nil
}
