package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// 表名
const (
	TableUsers     = "users"
	TableMessages  = "messages"
	TableScheduled = "scheduled_messages"
	TableGroups    = "groups"
	TableMembers   = "group_members"
	TableVideos    = "videos"
	TableComments  = "comments"
	TableLikes     = "user_likes"
)

// Column 列定义，Name 为规范列名
type Column struct {
	Name    string
	Kind    Kind
	Default string // 可选，直接写进 DDL 的字面量
}

// Index 二级索引
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table 表定义
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    []Index
}

// Schema 两种后端共用的逻辑表结构
// 新增列只能追加在末尾，升级时按 HasColumn 补齐
var Schema = []Table{
	{
		Name: TableUsers,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "email", Kind: KindKey},
			{Name: "password", Kind: KindText},
			{Name: "username", Kind: KindText},
			{Name: "publickey", Kind: KindText},
			{Name: "lastseen", Kind: KindText},
			{Name: "fullName", Kind: KindText},
			{Name: "bio", Kind: KindText},
			{Name: "phoneNumber", Kind: KindText},
			{Name: "location", Kind: KindText},
			{Name: "gender", Kind: KindText},
			{Name: "birthDate", Kind: KindText},
			{Name: "totpSecret", Kind: KindText},
			{Name: "profileImageUrl", Kind: KindText},
			{Name: "preferences", Kind: KindJSON},
			{Name: "profileVisibility", Kind: KindKey, Default: "'public'"},
			{Name: "contacts", Kind: KindJSON},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []Index{{Name: "idx_users_email", Columns: []string{"email"}, Unique: true}},
	},
	{
		Name: TableMessages,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "chatid", Kind: KindKey},
			{Name: "fromid", Kind: KindKey},
			{Name: "toid", Kind: KindKey},
			{Name: "message", Kind: KindText},
			{Name: "timestamp", Kind: KindTime},
			{Name: "encrypted", Kind: KindBool, Default: "0"},
			{Name: "status", Kind: KindKey},
			{Name: "replyToId", Kind: KindText},
			{Name: "replyToSender", Kind: KindText},
			{Name: "replyToMessage", Kind: KindText},
			{Name: "metadata", Kind: KindJSON},
		},
		PrimaryKey: []string{"id"},
		Indexes: []Index{
			{Name: "idx_messages_chat", Columns: []string{"chatid", "timestamp"}},
			{Name: "idx_messages_to", Columns: []string{"toid", "status"}},
		},
	},
	{
		Name: TableScheduled,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "chatid", Kind: KindKey},
			{Name: "fromid", Kind: KindKey},
			{Name: "toid", Kind: KindKey},
			{Name: "content", Kind: KindText},
			{Name: "scheduledat", Kind: KindTime},
			{Name: "stampenabled", Kind: KindBool, Default: "1"},
			{Name: "status", Kind: KindKey, Default: "'scheduled'"},
			{Name: "createdat", Kind: KindTime},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []Index{{Name: "idx_scheduled_due", Columns: []string{"status", "scheduledat"}}},
	},
	{
		Name: TableGroups,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "name", Kind: KindText},
			{Name: "ownerid", Kind: KindKey},
			{Name: "metadata", Kind: KindJSON},
			{Name: "createdat", Kind: KindTime},
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: TableMembers,
		Columns: []Column{
			{Name: "groupid", Kind: KindKey},
			{Name: "userid", Kind: KindKey},
			{Name: "role", Kind: KindKey, Default: "'member'"},
			{Name: "joinedat", Kind: KindTime},
		},
		PrimaryKey: []string{"groupid", "userid"},
		Indexes:    []Index{{Name: "idx_group_members_user", Columns: []string{"userid"}}},
	},
	{
		Name: TableVideos,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "userId", Kind: KindKey},
			{Name: "url", Kind: KindText},
			{Name: "title", Kind: KindText},
			{Name: "description", Kind: KindText},
			{Name: "duration", Kind: KindInt},
			{Name: "thumbnailUrl", Kind: KindText},
			{Name: "visibility", Kind: KindKey, Default: "'public'"},
			{Name: "metadata", Kind: KindJSON},
			{Name: "views", Kind: KindInt, Default: "0"},
			{Name: "likes", Kind: KindInt, Default: "0"},
			{Name: "createdAt", Kind: KindTime},
		},
		PrimaryKey: []string{"id"},
		Indexes: []Index{
			{Name: "idx_videos_user", Columns: []string{"userId", "createdAt"}},
			{Name: "idx_videos_visibility", Columns: []string{"visibility", "views"}},
		},
	},
	{
		Name: TableComments,
		Columns: []Column{
			{Name: "id", Kind: KindKey},
			{Name: "videoId", Kind: KindKey},
			{Name: "userId", Kind: KindKey},
			{Name: "parentId", Kind: KindKey},
			{Name: "username", Kind: KindText},
			{Name: "avatar", Kind: KindText},
			{Name: "text", Kind: KindText},
			{Name: "metadata", Kind: KindJSON},
			{Name: "likes", Kind: KindInt, Default: "0"},
			{Name: "createdAt", Kind: KindTime},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []Index{{Name: "idx_comments_video", Columns: []string{"videoId", "createdAt"}}},
	},
	{
		Name: TableLikes,
		Columns: []Column{
			{Name: "userId", Kind: KindKey},
			{Name: "videoId", Kind: KindKey},
			{Name: "createdAt", Kind: KindTime},
		},
		PrimaryKey: []string{"userId", "videoId"},
	},
}

// defaultLiteral 布尔默认值在 postgres 里要写成 true/false
func (d Dialect) defaultLiteral(c Column) string {
	if c.Default == "" {
		return ""
	}
	if c.Kind == KindBool && d.Name == DialectPostgres {
		if c.Default == "0" {
			return " DEFAULT false"
		}
		return " DEFAULT true"
	}
	return " DEFAULT " + c.Default
}

func (s *Store) createTableSQL(t Table) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, fmt.Sprintf("%s %s%s", s.c(c.Name), s.dialect.ColumnType(c.Kind), s.dialect.defaultLiteral(c)))
	}
	pk := make([]string, 0, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		pk = append(pk, s.c(k))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pk, ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.quote(t.Name), strings.Join(defs, ", "))
}

// Bootstrap 建表、补列、建索引，可以重复执行
// 补列和建索引失败只记录警告：旧库里可能有重复数据导致唯一索引建不起来，不影响服务启动
func (s *Store) Bootstrap(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, t := range Schema {
		if err := db.Exec(s.createTableSQL(t)).Error; err != nil {
			return wrapDBErrorf(err, "create table %s", t.Name)
		}
	}

	migrator := db.Migrator()
	for _, t := range Schema {
		for _, c := range t.Columns {
			col := s.c(c.Name)
			if migrator.HasColumn(t.Name, col) {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s%s", s.quote(t.Name), col, s.dialect.ColumnType(c.Kind), s.dialect.defaultLiteral(c))
			if err := db.Exec(stmt).Error; err != nil {
				zap.L().Warn("补充列失败", zap.String("table", t.Name), zap.String("column", col), zap.Error(err))
				continue
			}
			zap.L().Info("已补充缺失列", zap.String("table", t.Name), zap.String("column", col))
		}
		for _, idx := range t.Indexes {
			if migrator.HasIndex(t.Name, idx.Name) {
				continue
			}
			cols := make([]string, 0, len(idx.Columns))
			for _, c := range idx.Columns {
				cols = append(cols, s.c(c))
			}
			kind := "INDEX"
			if idx.Unique {
				kind = "UNIQUE INDEX"
			}
			stmt := fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, idx.Name, s.quote(t.Name), strings.Join(cols, ", "))
			if err := db.Exec(stmt).Error; err != nil {
				zap.L().Warn("创建索引失败", zap.String("table", t.Name), zap.String("index", idx.Name), zap.Error(err))
			}
		}
	}
	return nil
}
