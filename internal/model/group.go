package model

import (
	"time"

	"gorm.io/datatypes"
)

// 群成员角色
const (
	RoleMember = "member"
	RoleOwner  = "owner"
)

// Group 群组
type Group struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	OwnerID   string            `json:"ownerId"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// GroupMember 群成员，是"是否在群内"的唯一依据
type GroupMember struct {
	GroupID  string    `json:"groupId"`
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}
