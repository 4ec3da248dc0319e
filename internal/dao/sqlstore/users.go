package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userSelect 对外查询的用户列，不含 password 和 totpSecret
var userSelect = []string{
	"id", "email", "username", "publickey", "lastseen", "fullName", "bio", "phoneNumber",
	"location", "gender", "birthDate", "profileImageUrl", "preferences", "profileVisibility", "contacts",
}

// userFieldColumns 领域字段名 -> 规范列名，UpdateUser 只认这里的字段
var userFieldColumns = map[string]string{
	"email":             "email",
	"username":          "username",
	"publicKey":         "publickey",
	"lastSeen":          "lastseen",
	"fullName":          "fullName",
	"bio":               "bio",
	"phoneNumber":       "phoneNumber",
	"location":          "location",
	"gender":            "gender",
	"birthDate":         "birthDate",
	"profileImageUrl":   "profileImageUrl",
	"profileVisibility": "profileVisibility",
	"preferences":       "preferences",
	"contacts":          "contacts",
	"password":          "password",
	"totpSecret":        "totpSecret",
}

func (s *Store) cols(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = s.c(n)
	}
	return out
}

// CreateUser 创建用户，邮箱重复返回 Conflict
func (s *Store) CreateUser(ctx context.Context, u *model.User, digest string) error {
	row := map[string]any{
		s.c("id"):                u.ID,
		s.c("email"):             u.Email,
		s.c("password"):          digest,
		s.c("username"):          u.Username,
		s.c("publickey"):         u.PublicKey,
		s.c("lastseen"):          u.LastSeen,
		s.c("fullName"):          u.FullName,
		s.c("bio"):               u.Bio,
		s.c("phoneNumber"):       u.PhoneNumber,
		s.c("location"):          u.Location,
		s.c("gender"):            u.Gender,
		s.c("birthDate"):         u.BirthDate,
		s.c("profileImageUrl"):   u.ProfileImageURL,
		s.c("preferences"):       jsonText(u.Preferences, "{}"),
		s.c("profileVisibility"): u.ProfileVisibility,
		s.c("contacts"):          jsonText(u.Contacts, "[]"),
	}
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			taken, err := exists(tx.Table(TableUsers).Where(s.eq("email"), u.Email))
			if err != nil {
				return err
			}
			if taken {
				return errorx.New(errorx.CodeConflict, "Email already exists")
			}
			return tx.Table(TableUsers).Create(row).Error
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errorx.Wrap(err, errorx.CodeConflict, "Email already exists")
	}
	return wrapDBErrorf(err, "create user id=%s", u.ID)
}

func (s *Store) getUser(ctx context.Context, col string, value any) (*model.User, error) {
	var row normalize.Row
	err := s.read(func() error {
		var err error
		row, err = firstRow(s.db.WithContext(ctx).Table(TableUsers).Select(s.cols(userSelect)).Where(s.eq(col), value))
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query user %s", col)
	}
	if row == nil {
		return nil, nil
	}
	u := normalize.User(row)
	return &u, nil
}

// GetUserByID 按 id 查询，不存在返回 nil
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail 按邮箱查询，不存在返回 nil
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUsersByIDs 批量查询，按传入 id 的顺序返回，不存在的 id 被跳过
func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	var rows []map[string]any
	err := s.read(func() error {
		var err error
		rows, err = findRows(s.db.WithContext(ctx).Table(TableUsers).Select(s.cols(userSelect)).Where(s.c("id")+" IN ?", ids))
		return err
	})
	if err != nil {
		return nil, wrapDBError(err, "batch query users")
	}
	byID := make(map[string]model.User, len(rows))
	for _, u := range normalize.Users(rows) {
		byID[u.ID] = u
	}
	out := make([]model.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *Store) getCredentials(ctx context.Context, col, value string) (*model.Credentials, error) {
	var row normalize.Row
	err := s.read(func() error {
		var err error
		row, err = firstRow(s.db.WithContext(ctx).Table(TableUsers).
			Select(s.cols([]string{"id", "password", "totpSecret"})).
			Where(s.eq(col), value))
		return err
	})
	if err != nil {
		return nil, wrapDBErrorf(err, "query credentials %s", col)
	}
	if row == nil {
		return nil, nil
	}
	c := normalize.Credentials(row)
	return &c, nil
}

// GetCredentials 按邮箱取认证字段
func (s *Store) GetCredentials(ctx context.Context, email string) (*model.Credentials, error) {
	return s.getCredentials(ctx, "email", email)
}

// GetCredentialsByID 按 id 取认证字段
func (s *Store) GetCredentialsByID(ctx context.Context, id string) (*model.Credentials, error) {
	return s.getCredentials(ctx, "id", id)
}

// UpdateUser 按领域字段名更新，未知字段忽略；map/slice 值序列化成 JSON 文本
func (s *Store) UpdateUser(ctx context.Context, id string, fields map[string]any) (bool, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		col, ok := userFieldColumns[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case map[string]any:
			v = jsonText(x, "{}")
		case []string:
			v = jsonText(x, "[]")
		case time.Time:
			v = normalize.FormatTime(x)
		}
		values[s.c(col)] = v
	}
	if len(values) == 0 {
		ok, err := s.userExists(ctx, id)
		return ok, err
	}
	found, err := s.updateByID(ctx, TableUsers, id, values)
	if err != nil && errorx.IsConflict(err) {
		return false, errorx.Wrap(err, errorx.CodeConflict, "Email already exists")
	}
	return found, err
}

func (s *Store) userExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.read(func() error {
		var err error
		ok, err = exists(s.db.WithContext(ctx).Table(TableUsers).Where(s.eq("id"), id))
		return err
	})
	return ok, wrapDBError(err, "check user")
}

// UpdateContacts 在一个事务里读出联系人列表、交给 mutate 修改、再写回
// mutate 返回的错误原样抛出；用户不存在返回 false
func (s *Store) UpdateContacts(ctx context.Context, id string, mutate func([]string) ([]string, error)) (bool, error) {
	var found bool
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			q := tx.Table(TableUsers).Select(s.c("contacts")).Where(s.eq("id"), id)
			if s.dialect.RowLocking {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			row, err := firstRow(q)
			if err != nil || row == nil {
				return err
			}
			found = true
			next, err := mutate(row.Strings("contacts"))
			if err != nil {
				return err
			}
			return tx.Table(TableUsers).Where(s.eq("id"), id).
				Update(s.c("contacts"), jsonText(next, "[]")).Error
		})
	})
	if err != nil {
		return false, wrapDBErrorf(err, "update contacts id=%s", id)
	}
	return found, nil
}

// SearchUsers 查询串含 @ 时按邮箱模糊匹配，否则按用户名模糊匹配或 id 精确匹配
func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.User{}, nil
	}
	pattern := "%" + strings.ToLower(query) + "%"
	var rows []map[string]any
	err := s.read(func() error {
		q := s.db.WithContext(ctx).Table(TableUsers).Select(s.cols([]string{"id", "username", "email", "lastseen", "profileImageUrl"}))
		if strings.Contains(query, "@") {
			q = q.Where("LOWER("+s.c("email")+") LIKE ?", pattern)
		} else {
			q = q.Where("LOWER("+s.c("username")+") LIKE ? OR "+s.eq("id"), pattern, query)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		var err error
		rows, err = findRows(q.Order(s.c("id")))
		return err
	})
	if err != nil {
		return nil, wrapDBError(err, "search users")
	}
	return normalize.Users(rows), nil
}

// DeleteUser 删除用户及其收发的全部消息
func (s *Store) DeleteUser(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.write(func() error {
		return s.withTx(ctx, func(tx *gorm.DB) error {
			if err := tx.Exec("DELETE FROM "+s.quote(TableMessages)+" WHERE "+s.eq("fromid")+" OR "+s.eq("toid"), id, id).Error; err != nil {
				return err
			}
			res := tx.Exec("DELETE FROM "+s.quote(TableUsers)+" WHERE "+s.eq("id"), id)
			found = res.RowsAffected > 0
			return res.Error
		})
	})
	if err != nil {
		return false, wrapDBErrorf(err, "delete user id=%s", id)
	}
	return found, nil
}
