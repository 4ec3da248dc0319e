package persistence

import (
	"context"
	"strings"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/infrastructure/auth"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"
	"appchat_store/pkg/util/snowflake"

	"go.uber.org/zap"
)

// 搜索结果上限
const searchLimit = 50

// 资料更新允许修改的字段
var profileFields = []string{
	"fullName", "username", "bio", "phoneNumber", "location", "gender",
	"birthDate", "profileImageUrl", "profileVisibility", "preferences",
}

type newUserInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
	Username string `json:"username" validate:"omitempty,max=64"`
}

type credentialsInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type contactInput struct {
	UserID    string `json:"userId" validate:"required"`
	ContactID string `json:"contactId" validate:"required"`
}

type changePasswordInput struct {
	UserID      string `json:"userId" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=72"`
}

// CreateUser 注册用户，邮箱重复返回 Conflict "Email already exists"
func (s *Service) CreateUser(ctx context.Context, email, password, username string) (*model.User, error) {
	in := newUserInput{Email: strings.TrimSpace(email), Password: password, Username: strings.TrimSpace(username)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:                snowflake.NewPrefixedID("user"),
		Email:             in.Email,
		Username:          in.Username,
		LastSeen:          normalize.FormatTime(s.clock()),
		ProfileVisibility: model.VisibilityPublic,
		Contacts:          []string{},
		Preferences:       map[string]any{},
		Color:             model.DefaultColor,
	}
	if err := s.store.CreateUser(ctx, u, digest); err != nil {
		return nil, err
	}
	zap.L().Info("用户注册成功", zap.String("user_id", u.ID))
	return u, nil
}

// LoginUser 校验邮箱和密码，成功后刷新 lastSeen
// 邮箱不存在和密码错误返回同一个 "Invalid credentials"
func (s *Service) LoginUser(ctx context.Context, email, password string) (*model.User, error) {
	in := credentialsInput{Email: strings.TrimSpace(email), Password: password}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	creds, err := s.store.GetCredentials(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if creds == nil || !s.hasher.Compare(creds.Digest, in.Password) {
		return nil, errorx.New(errorx.CodeInvalidCredentials, "Invalid credentials")
	}
	lastSeen := normalize.FormatTime(s.clock())
	if _, err := s.store.UpdateUser(ctx, creds.UserID, map[string]any{"lastSeen": lastSeen}); err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, creds.UserID)
	u, err := s.store.GetUserByID(ctx, creds.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errorx.New(errorx.CodeInvalidCredentials, "Invalid credentials")
	}
	return u, nil
}

// UpdateUserStatus 在线时 lastSeen 记为 "online"，离线时记为当前时间
func (s *Service) UpdateUserStatus(ctx context.Context, userID string, online bool) error {
	lastSeen := model.LastSeenOnline
	if !online {
		lastSeen = normalize.FormatTime(s.clock())
	}
	found, err := s.store.UpdateUser(ctx, userID, map[string]any{"lastSeen": lastSeen})
	if err != nil {
		return err
	}
	if !found {
		return notFound("User not found")
	}
	s.invalidateUser(ctx, userID)
	return nil
}

// lookupUser 先查缓存，未命中再查库并回填；缓存故障时直接读库
func (s *Service) lookupUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, nil
	}
	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		zap.L().Warn("用户缓存读取失败，回退到数据库", zap.String("user_id", id), zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	s.cache.Set(u)
	return u, nil
}

// invalidateUser 写库之后删除缓存；缓存故障不影响已提交的写入
func (s *Service) invalidateUser(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		zap.L().Warn("用户缓存删除失败", zap.String("user_id", id), zap.Error(err))
	}
}

// GetUserByID 不存在返回 nil
func (s *Service) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.lookupUser(ctx, id)
}

// GetUserProfile 不存在返回 NotFound "User not found"
func (s *Service) GetUserProfile(ctx context.Context, id string) (*model.User, error) {
	u, err := s.lookupUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("User not found")
	}
	return u, nil
}

// GetUserContacts 联系人资料，顺序与联系人列表一致；用户不存在返回空列表
func (s *Service) GetUserContacts(ctx context.Context, userID string) ([]model.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || len(u.Contacts) == 0 {
		return []model.User{}, nil
	}
	return s.store.GetUsersByIDs(ctx, u.Contacts)
}

// AddContact 把 contactID 加入 userID 的联系人列表，返回联系人资料
func (s *Service) AddContact(ctx context.Context, userID, contactID string) (*model.User, error) {
	in := contactInput{UserID: strings.TrimSpace(userID), ContactID: strings.TrimSpace(contactID)}
	if err := s.valid.check(&in); err != nil {
		return nil, err
	}
	if in.UserID == in.ContactID {
		return nil, invalid("You cannot add yourself as a contact")
	}
	// 联系人要在拿写锁之前查好，嵌入式后端的写锁内不能再读
	contact, err := s.store.GetUserByID(ctx, in.ContactID)
	if err != nil {
		return nil, err
	}
	found, err := s.store.UpdateContacts(ctx, in.UserID, func(contacts []string) ([]string, error) {
		for _, c := range contacts {
			if c == in.ContactID {
				return nil, errorx.New(errorx.CodeConflict, "This user is already in your contacts")
			}
		}
		if contact == nil {
			return nil, notFound("Contact not found. Please check the ID and try again")
		}
		return append(contacts, in.ContactID), nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("Your user account was not found")
	}
	s.invalidateUser(ctx, in.UserID)
	return contact, nil
}

// SaveUserPublicKey 保存端到端加密公钥，返回更新后的资料
func (s *Service) SaveUserPublicKey(ctx context.Context, userID, publicKey string) (*model.User, error) {
	found, err := s.store.UpdateUser(ctx, userID, map[string]any{"publicKey": publicKey})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("User not found")
	}
	s.invalidateUser(ctx, userID)
	return s.GetUserProfile(ctx, userID)
}

// SearchUsers 查询串含 @ 时按邮箱匹配，否则按用户名子串或 id 精确匹配
func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.User{}, nil
	}
	return s.store.SearchUsers(ctx, query, s.limitOr(nil, searchLimit))
}

// UpdateProfile 只修改白名单内的字段；兼容旧客户端的 preference 键，
// 对象形式的 preferences 会被序列化成 JSON 保存
func (s *Service) UpdateProfile(ctx context.Context, userID string, fields map[string]any) (*model.User, error) {
	in := make(map[string]any, len(fields))
	for k, v := range fields {
		in[k] = v
	}
	if v, ok := in["preference"]; ok {
		if _, has := in["preferences"]; !has {
			in["preferences"] = v
		}
		delete(in, "preference")
	}

	updates := make(map[string]any)
	for _, f := range profileFields {
		v, ok := in[f]
		if !ok {
			continue
		}
		if f == "preferences" {
			prefs, err := preferencesValue(v)
			if err != nil {
				return nil, err
			}
			updates[f] = prefs
			continue
		}
		switch x := v.(type) {
		case nil:
			updates[f] = nil
		case string:
			if f == "username" && len([]rune(x)) > 64 {
				return nil, invalid("username must be a maximum of 64 characters in length")
			}
			updates[f] = x
		default:
			return nil, invalidf("%s must be a string", f)
		}
	}

	if len(updates) > 0 {
		found, err := s.store.UpdateUser(ctx, userID, updates)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, notFound("User not found")
		}
		s.invalidateUser(ctx, userID)
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("User not found")
	}
	return u, nil
}

// preferencesValue 对象原样交给存储层序列化；字符串必须是 JSON 对象
func preferencesValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return x, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return map[string]any{}, nil
		}
		m := normalize.AsMap(x)
		if len(m) == 0 && strings.TrimSpace(x) != "{}" {
			return nil, invalid("preferences must be a JSON object")
		}
		return m, nil
	}
	return nil, invalid("preferences must be a JSON object")
}

// ChangePassword 已有密码时必须提供正确的旧密码
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	in := changePasswordInput{UserID: userID, NewPassword: newPassword}
	if err := s.valid.check(&in); err != nil {
		return err
	}
	creds, err := s.store.GetCredentialsByID(ctx, userID)
	if err != nil {
		return err
	}
	if creds == nil {
		return notFound("User not found")
	}
	if creds.Digest != "" && !s.hasher.Compare(creds.Digest, oldPassword) {
		return invalid("Old password does not match")
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateUser(ctx, userID, map[string]any{"password": digest}); err != nil {
		return err
	}
	zap.L().Info("用户修改密码", zap.String("user_id", userID))
	return nil
}

// DeleteUser 删除用户及其收发的消息
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	found, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return notFound("User not found")
	}
	s.invalidateUser(ctx, userID)
	zap.L().Info("用户已删除", zap.String("user_id", userID))
	return nil
}

// GenerateTOTPSecret 生成并保存新的 TOTP 密钥，返回 base32 密钥和 otpauth URL
func (s *Service) GenerateTOTPSecret(ctx context.Context, userID string) (auth.TOTPKey, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return auth.TOTPKey{}, err
	}
	if u == nil {
		return auth.TOTPKey{}, notFound("User not found")
	}
	account := u.Email
	if account == "" {
		account = u.ID
	}
	key, err := s.totp.Generate(account)
	if err != nil {
		return auth.TOTPKey{}, err
	}
	if _, err := s.store.UpdateUser(ctx, userID, map[string]any{"totpSecret": key.Secret}); err != nil {
		return auth.TOTPKey{}, err
	}
	return key, nil
}

// VerifyTOTP 用户没有密钥时返回 false
func (s *Service) VerifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	creds, err := s.store.GetCredentialsByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if creds == nil || creds.TOTPSecret == "" {
		return false, nil
	}
	return s.totp.Validate(creds.TOTPSecret, strings.TrimSpace(code), s.now()), nil
}
