package normalize

import (
	"strconv"

	"appchat_store/internal/model"

	"gorm.io/datatypes"
)

// User 原始行 -> 用户记录
// password、totpSecret 列即使出现在行里也不会被带出
func User(r Row) model.User {
	u := model.User{
		ID:                r.String("id"),
		Email:             r.String("email"),
		Username:          r.String("username", "name"),
		PublicKey:         r.String("publicKey", "public_key"),
		LastSeen:          r.StringOr(model.LastSeenOffline, "lastSeen", "last_seen"),
		FullName:          r.String("fullName", "full_name"),
		Bio:               r.String("bio"),
		PhoneNumber:       r.String("phoneNumber", "phone_number", "phone"),
		Location:          r.String("location"),
		Gender:            r.String("gender"),
		BirthDate:         r.String("birthDate", "birth_date"),
		ProfileImageURL:   r.String("profileImageUrl", "profile_image_url", "avatar"),
		ProfileVisibility: r.StringOr(model.VisibilityPublic, "profileVisibility", "profile_visibility"),
		Contacts:          r.Strings("contacts"),
		Preferences:       r.Map("preferences", "preference"),
		Color:             model.DefaultColor,
	}
	if v, ok := r.Get("color"); ok {
		if n, ok := AsInt64(v); ok && n != 0 {
			u.Color = n
		}
	}
	return u
}

// Credentials 原始行 -> 认证字段，只给 facade 的登录/改密/TOTP 路径用
func Credentials(r Row) model.Credentials {
	return model.Credentials{
		UserID:     r.String("id"),
		Digest:     r.String("password", "passwordHash", "password_hash"),
		TOTPSecret: r.String("totpSecret", "totp_secret"),
	}
}

// Message 原始行 -> 消息记录
func Message(r Row) model.Message {
	m := model.Message{
		ID:             r.String("id"),
		ChatID:         r.String("chatId", "chat_id"),
		FromID:         r.String("fromId", "from_id", "from"),
		ToID:           r.String("toId", "to_id", "to"),
		Body:           r.String("message", "body", "content"),
		Timestamp:      r.Time("timestamp", "createdAt"),
		Encrypted:      r.Bool("encrypted"),
		Status:         model.MessageStatus(r.StringOr(string(model.MessageSent), "status")),
		ReplyToID:      r.String("replyToId", "reply_to_id"),
		ReplyToSender:  r.String("replyToSender", "reply_to_sender"),
		ReplyToMessage: r.String("replyToMessage", "reply_to_message"),
		Metadata:       jsonMap(r.Map("metadata")),
	}
	if !m.Encrypted {
		m.Encrypted = model.IsEncryptedBody(m.Body)
	}
	return m
}

// Group 原始行 -> 群组记录
func Group(r Row) model.Group {
	return model.Group{
		ID:        r.String("id", "groupId"),
		Name:      r.String("name"),
		OwnerID:   r.String("ownerId", "owner_id"),
		Metadata:  jsonMap(r.Map("metadata")),
		CreatedAt: r.Time("createdAt", "created_at"),
	}
}

// GroupMember 原始行 -> 群成员
func GroupMember(r Row) model.GroupMember {
	return model.GroupMember{
		GroupID:  r.String("groupId", "group_id"),
		UserID:   r.String("userId", "user_id"),
		Role:     r.StringOr(model.RoleMember, "role"),
		JoinedAt: r.Time("joinedAt", "joined_at"),
	}
}

// ScheduledMessage 原始行 -> 定时消息
func ScheduledMessage(r Row) model.ScheduledMessage {
	return model.ScheduledMessage{
		ID:           r.String("id"),
		ChatID:       r.String("chatId", "chat_id"),
		FromID:       r.String("fromId", "from_id"),
		ToID:         r.String("toId", "to_id"),
		Content:      r.String("content", "message"),
		ScheduledAt:  r.Time("scheduledAt", "scheduled_at"),
		StampEnabled: r.Bool("stampEnabled", "stamp_enabled"),
		Status:       model.ScheduledStatus(r.StringOr(string(model.ScheduledWaiting), "status")),
		CreatedAt:    r.Time("createdAt", "created_at"),
	}
}

// Video 原始行 -> 视频记录，计数不会是负数
func Video(r Row) model.Video {
	v := model.Video{
		ID:           r.String("id"),
		UserID:       r.String("userId", "user_id", "uploaderId"),
		URL:          r.String("url"),
		Title:        r.String("title"),
		Description:  r.String("description"),
		Duration:     r.Int64("duration"),
		ThumbnailURL: r.String("thumbnailUrl", "thumbnail_url", "thumbnail"),
		Visibility:   r.StringOr(model.VisibilityPublic, "visibility"),
		Metadata:     jsonMap(r.Map("metadata")),
		Views:        nonNegative(r.Int64("views")),
		Likes:        nonNegative(r.Int64("likes")),
		CreatedAt:    r.Time("createdAt", "created_at"),
	}
	return v
}

// FeedItem 原始行 -> 推荐流条目，score 列可能不存在（嵌入式降级路径）
func FeedItem(r Row) model.FeedItem {
	item := model.FeedItem{
		Video:          Video(r),
		UploaderName:   r.String("uploaderName", "uploader_name"),
		UploaderAvatar: r.String("uploaderAvatar", "uploader_avatar"),
	}
	if v, ok := r.Get("score"); ok {
		item.Score = asFloat(v)
	}
	return item
}

// Comment 原始行 -> 评论
func Comment(r Row) model.Comment {
	return model.Comment{
		ID:        r.String("id"),
		VideoID:   r.String("videoId", "video_id"),
		UserID:    r.String("userId", "user_id"),
		ParentID:  r.String("parentId", "parent_id"),
		Username:  r.String("username"),
		Avatar:    r.String("avatar"),
		Text:      r.String("text"),
		Metadata:  jsonMap(r.Map("metadata")),
		Likes:     r.Int64("likes"),
		CreatedAt: r.Time("createdAt", "created_at"),
	}
}

// Users 批量转换
func Users(rows []map[string]any) []model.User {
	out := make([]model.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, User(row))
	}
	return out
}

// Messages 批量转换
func Messages(rows []map[string]any) []model.Message {
	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, Message(row))
	}
	return out
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	return datatypes.JSONMap(m)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	}
	f, err := strconv.ParseFloat(AsString(v), 64)
	if err != nil {
		return 0
	}
	return f
}
