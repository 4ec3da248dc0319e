// Package model 定义持久层对外暴露的领域记录
// 两种存储后端的行结构不同（列名大小写、时间类型都不一样），
// 经过 normalize 之后统一成这里的结构再交给调用方
package model

// 用户相关的默认值
const (
	// LastSeenOffline 从未上报过在线状态的用户
	LastSeenOffline = "offline"
	// LastSeenOnline 在线标记，离线时写入 ISO 时间
	LastSeenOnline = "online"
	// VisibilityPublic 资料默认公开
	VisibilityPublic = "public"
	// DefaultColor 用户头像底色
	DefaultColor int64 = 0xFF2196F3
)

// User 用户记录
// 密码摘要和 TOTP 密钥不在这里出现，只能通过 Credentials 在 facade 内部使用
type User struct {
	ID                string         `json:"id"`
	Email             string         `json:"email"`
	Username          string         `json:"username"`
	PublicKey         string         `json:"publicKey,omitempty"`
	LastSeen          string         `json:"lastSeen"` // "online" 或 ISO 时间，缺省 "offline"
	FullName          string         `json:"fullName,omitempty"`
	Bio               string         `json:"bio,omitempty"`
	PhoneNumber       string         `json:"phoneNumber,omitempty"`
	Location          string         `json:"location,omitempty"`
	Gender            string         `json:"gender,omitempty"`
	BirthDate         string         `json:"birthDate,omitempty"`
	ProfileImageURL   string         `json:"profileImageUrl,omitempty"`
	ProfileVisibility string         `json:"profileVisibility"`
	Contacts          []string       `json:"contacts"`    // 有序且不重复
	Preferences       map[string]any `json:"preferences"` // 客户端自定义配置，原样保存
	Color             int64          `json:"color"`
}

// HasContact 判断联系人列表中是否已有该用户
func (u *User) HasContact(id string) bool {
	for _, c := range u.Contacts {
		if c == id {
			return true
		}
	}
	return false
}

// Credentials 认证所需的敏感字段，只在 facade 内部流转
type Credentials struct {
	UserID     string
	Digest     string // bcrypt 摘要
	TOTPSecret string // base32
}

// Stats 管理端统计
type Stats struct {
	UsersCount    int64 `json:"usersCount"`
	MessagesCount int64 `json:"messagesCount"`
	ChatsCount    int64 `json:"chatsCount"`
}
