package persistence

import (
	"context"
	"encoding/json"
	"strings"

	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"
	"appchat_store/pkg/util/snowflake"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// GroupMessageType 群消息 metadata.type
const GroupMessageType = "group_message"

type newGroupInput struct {
	Name    string `json:"name" validate:"required,max=100"`
	OwnerID string `json:"ownerId" validate:"required"`
}

type memberInput struct {
	GroupID string `json:"groupId" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
	Role    string `json:"role" validate:"omitempty,oneof=member owner"`
}

type groupMessageInput struct {
	GroupID string `json:"groupId" validate:"required"`
	FromID  string `json:"fromId" validate:"required"`
}

// GroupInfo 新建群的返回值
type GroupInfo struct {
	model.Group
	Members []string `json:"members"`
}

// GroupMessage 群消息以及发送时的成员 id，调用方据此扇出
type GroupMessage struct {
	model.Message
	GroupID string   `json:"groupId"`
	Members []string `json:"members"`
}

// CreateGroup 建群，groupID 为空时自动生成；群主总是以 owner 角色加入
func (s *Service) CreateGroup(ctx context.Context, groupID, name, ownerID string, memberIDs []string) (*GroupInfo, error) {
	in := newGroupInput{Name: strings.TrimSpace(name), OwnerID: strings.TrimSpace(ownerID)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		groupID = snowflake.NewPrefixedID("group")
	}
	now := s.clock()
	g := &model.Group{
		ID:        groupID,
		Name:      in.Name,
		OwnerID:   in.OwnerID,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
	}

	members := []model.GroupMember{{GroupID: groupID, UserID: in.OwnerID, Role: model.RoleOwner, JoinedAt: now}}
	ids := []string{in.OwnerID}
	seen := map[string]struct{}{in.OwnerID: {}}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, model.GroupMember{GroupID: groupID, UserID: id, Role: model.RoleMember, JoinedAt: now})
		ids = append(ids, id)
	}

	if err := s.store.CreateGroup(ctx, g, members); err != nil {
		return nil, err
	}
	zap.L().Info("群组已创建", zap.String("group_id", groupID), zap.Int("members", len(ids)))
	return &GroupInfo{Group: *g, Members: ids}, nil
}

// AddGroupMember 加入群，已经是成员时返回 false
func (s *Service) AddGroupMember(ctx context.Context, groupID, userID, role string) (bool, error) {
	in := memberInput{GroupID: strings.TrimSpace(groupID), UserID: strings.TrimSpace(userID), Role: role}
	if err := s.valid.check(&in); err != nil {
		return false, err
	}
	if in.Role == "" {
		in.Role = model.RoleMember
	}
	return s.store.AddGroupMember(ctx, &model.GroupMember{
		GroupID:  in.GroupID,
		UserID:   in.UserID,
		Role:     in.Role,
		JoinedAt: s.clock(),
	})
}

// GetGroupMembers 群成员，群不存在时为空列表
func (s *Service) GetGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	return s.store.ListGroupMembers(ctx, groupID)
}

// SaveGroupMessage 校验发送者仍在群内后保存群消息
// 非字符串的正文序列化成 JSON 保存，保留其中的密钥等元数据
func (s *Service) SaveGroupMessage(ctx context.Context, groupID, fromID string, body any) (*GroupMessage, error) {
	in := groupMessageInput{GroupID: strings.TrimSpace(groupID), FromID: strings.TrimSpace(fromID)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, notFound("Group not found or empty")
	}
	ids := make([]string, 0, len(members))
	isMember := false
	for _, m := range members {
		ids = append(ids, m.UserID)
		if m.UserID == in.FromID {
			isMember = true
		}
	}
	if !isMember {
		return nil, errorx.New(errorx.CodeValidation, "Sender is not a member of this group")
	}

	text, err := bodyText(body)
	if err != nil {
		return nil, err
	}
	chatID := model.GroupChatID(in.GroupID)
	m := model.Message{
		ID:        snowflake.NewPrefixedID("gmsg"),
		ChatID:    chatID,
		FromID:    in.FromID,
		ToID:      chatID,
		Body:      text,
		Timestamp: s.clock(),
		Encrypted: model.IsEncryptedBody(text),
		Status:    model.MessageSent,
		Metadata:  datatypes.JSONMap{"type": GroupMessageType, "groupId": in.GroupID},
	}
	if err := s.store.InsertMessage(ctx, &m); err != nil {
		return nil, err
	}
	return &GroupMessage{Message: m, GroupID: in.GroupID, Members: ids}, nil
}

func bodyText(body any) (string, error) {
	switch x := body.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeValidation, "message body is not serializable")
	}
	return string(b), nil
}

// GetGroupMessages 群消息，按时间升序
func (s *Service) GetGroupMessages(ctx context.Context, groupID string, opts PageOptions) ([]model.Message, error) {
	return s.store.GetMessagesForChat(ctx, model.GroupChatID(groupID), s.page(opts))
}

// GetUserGroups 用户加入的群
func (s *Service) GetUserGroups(ctx context.Context, userID string) ([]model.Group, error) {
	return s.store.ListGroupsForUser(ctx, userID)
}
