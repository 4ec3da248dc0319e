package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
)

func (s *Store) memberRow(m *model.GroupMember) map[string]any {
	role := m.Role
	if role == "" {
		role = model.RoleMember
	}
	return map[string]any{
		s.c("groupid"):  m.GroupID,
		s.c("userid"):   m.UserID,
		s.c("role"):     role,
		s.c("joinedat"): s.dialect.Time(m.JoinedAt),
	}
}

// CreateGroup 在一个事务里创建群和初始成员，成员列表中的重复项被忽略
func (s *Store) CreateGroup(ctx context.Context, g *model.Group, members []model.GroupMember) error {
	row := map[string]any{
		s.c("id"):        g.ID,
		s.c("name"):      g.Name,
		s.c("ownerid"):   g.OwnerID,
		s.c("metadata"):  jsonText(g.Metadata, "{}"),
		s.c("createdat"): s.dialect.Time(g.CreatedAt),
	}
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			taken, err := exists(tx.Table(TableGroups).Where(s.eq("id"), g.ID))
			if err != nil {
				return err
			}
			if taken {
				return errorx.Newf(errorx.CodeConflict, "Group %s already exists", g.ID)
			}
			if err := tx.Table(TableGroups).Create(row).Error; err != nil {
				return err
			}
			seen := make(map[string]struct{}, len(members))
			for i := range members {
				if _, dup := seen[members[i].UserID]; dup {
					continue
				}
				seen[members[i].UserID] = struct{}{}
				if err := tx.Table(TableMembers).Create(s.memberRow(&members[i])).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrapf(err, errorx.CodeConflict, "Group %s already exists", g.ID)
	}
	return wrapDBErrorf(err, "create group id=%s", g.ID)
}

// AddGroupMember 加入群，已是成员时返回 false
func (s *Store) AddGroupMember(ctx context.Context, m *model.GroupMember) (bool, error) {
	row := s.memberRow(m)
	var added bool
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			dup, err := exists(tx.Table(TableMembers).Where(s.eq("groupid")+" AND "+s.eq("userid"), m.GroupID, m.UserID))
			if err != nil || dup {
				return err
			}
			if err := tx.Table(TableMembers).Create(row).Error; err != nil {
				return err
			}
			added = true
			return nil
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBErrorf(err, "add member group=%s user=%s", m.GroupID, m.UserID)
	}
	return added, nil
}

// ListGroupMembers 按加入时间返回群成员
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	var rows []map[string]any
	err := s.read(func() error {
		var err error
		rows, err = findRows(s.db.WithContext(ctx).Table(TableMembers).
			Where(s.eq("groupid"), groupID).
			Order(s.c("joinedat") + " ASC").Order(s.c("userid") + " ASC"))
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query members group=%s", groupID)
	}
	out := make([]model.GroupMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalize.GroupMember(r))
	}
	return out, nil
}

// ListGroupsForUser 用户加入的所有群
func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]model.Group, error) {
	query := fmt.Sprintf(
		"SELECT g.* FROM %s g JOIN %s m ON m.%s = g.%s WHERE m.%s = ? ORDER BY g.%s ASC, g.%s ASC",
		s.quote(TableGroups), s.quote(TableMembers),
		s.c("groupid"), s.c("id"), s.c("userid"), s.c("createdat"), s.c("id"),
	)
	rows := make([]map[string]any, 0)
	err := s.read(func() error {
		return s.db.WithContext(ctx).Raw(query, userID).Scan(&rows).Error
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query groups user=%s", userID)
	}
	out := make([]model.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, normalize.Group(r))
	}
	return out, nil
}
