// Package dao 定义持久层的统一存储接口，并按配置在启动时选出唯一的后端实现
package dao

import (
	"context"
	"time"

	"appchat_store/internal/feed"
	"appchat_store/internal/model"
)

// Store 两种后端共同实现的存储契约
// 单条查询不存在时返回 (nil, nil)，列表不存在时返回空切片；
// 针对具体 id 的修改返回是否命中；唯一性冲突返回 errorx Conflict
type Store interface {
	// Backend 当前后端名：sqlite / postgres / mysql
	Backend() string

	// 用户
	CreateUser(ctx context.Context, u *model.User, digest string) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
	GetCredentials(ctx context.Context, email string) (*model.Credentials, error)
	GetCredentialsByID(ctx context.Context, id string) (*model.Credentials, error)
	UpdateUser(ctx context.Context, id string, fields map[string]any) (bool, error)
	UpdateContacts(ctx context.Context, id string, mutate func([]string) ([]string, error)) (bool, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)

	// 消息
	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessagesForChat(ctx context.Context, chatID string, page model.Page) ([]model.Message, error)
	ListUndelivered(ctx context.Context, userID string) ([]model.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) (bool, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)
	RetractMessage(ctx context.Context, id, placeholder string) (bool, error)

	// 群组
	CreateGroup(ctx context.Context, g *model.Group, members []model.GroupMember) error
	AddGroupMember(ctx context.Context, m *model.GroupMember) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]model.Group, error)

	// 定时消息
	InsertScheduledMessage(ctx context.Context, m *model.ScheduledMessage) error
	ListScheduledForUser(ctx context.Context, userID string) ([]model.ScheduledMessage, error)
	ListDueScheduled(ctx context.Context, cutoff time.Time) ([]model.ScheduledMessage, error)
	CASScheduledStatus(ctx context.Context, id string, expected, next model.ScheduledStatus) (bool, error)
	SetScheduledStatus(ctx context.Context, id string, status model.ScheduledStatus) (bool, error)
	DeleteScheduled(ctx context.Context, id string) (bool, error)

	// 视频、评论、点赞
	InsertVideo(ctx context.Context, v *model.Video) error
	GetVideo(ctx context.Context, id string) (*model.Video, error)
	ListVideosForUser(ctx context.Context, userID string, limit int) ([]model.Video, error)
	IncrementVideoCounter(ctx context.Context, id, field string, delta int64) (*model.Video, error)
	ListPublicVideosRanked(ctx context.Context, p feed.Params, now time.Time) ([]model.FeedItem, error)
	InsertComment(ctx context.Context, c *model.Comment) error
	ListCommentsForVideo(ctx context.Context, videoID string, limit int, desc bool) ([]model.Comment, error)
	IncrementCommentLikes(ctx context.Context, id string, delta int64) (*model.Comment, error)
	UpsertLike(ctx context.Context, userID, videoID string) (bool, error)
	RemoveLike(ctx context.Context, userID, videoID string) (bool, error)
	HasLike(ctx context.Context, userID, videoID string) (bool, error)

	// 统计与管理
	CountUsers(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
	CountDistinctChats(ctx context.Context) (int64, error)
	DeleteAllMessages(ctx context.Context) (int64, error)
	// Flush 立即落盘；网络后端直接返回 true
	Flush(ctx context.Context) (bool, error)
	// PendingWrites 尚未落盘的写操作数；网络后端为 0
	PendingWrites() int
	// Close 嵌入式后端会先做最后一次落盘
	Close(ctx context.Context) error
}
