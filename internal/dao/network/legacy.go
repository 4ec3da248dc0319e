package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/dao/sqlstore"
	"appchat_store/internal/model"
	"appchat_store/pkg/util/snowflake"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LegacyOptions 旧 JSON 数据导入参数
type LegacyOptions struct {
	DataDir  string // users.json / messages.json 所在目录
	FlagPath string // 导入完成后写入的标记文件
}

// legacyUsers users.json 的结构：{"users": {"<id>": {...}}}
type legacyUsers struct {
	Users map[string]map[string]any `json:"users"`
}

// ImportLegacy 一次性把旧 JSON 数据导入网络库
// 标记文件存在时跳过；失败只记录日志，后端照常使用
func ImportLegacy(ctx context.Context, st *Store, opts LegacyOptions) {
	done, err := importLegacy(ctx, st.Store, opts, time.Now())
	switch {
	case err != nil:
		zap.L().Error("旧数据导入失败", zap.String("dir", opts.DataDir), zap.Error(err))
	case done:
		zap.L().Info("旧数据导入完成", zap.String("flag", opts.FlagPath))
	}
}

// importLegacy 返回本次是否执行了导入
func importLegacy(ctx context.Context, s *sqlstore.Store, opts LegacyOptions, now time.Time) (bool, error) {
	if opts.FlagPath == "" {
		return false, nil
	}
	if _, err := os.Stat(opts.FlagPath); err == nil {
		zap.L().Debug("旧数据导入标记已存在，跳过", zap.String("flag", opts.FlagPath))
		return false, nil
	}

	users, err := readLegacyUsers(filepath.Join(opts.DataDir, "users.json"))
	if err != nil {
		return false, err
	}
	messages, err := readLegacyMessages(filepath.Join(opts.DataDir, "messages.json"), now)
	if err != nil {
		return false, err
	}

	d := s.Dialect()
	err = s.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range users {
			row := map[string]any{
				d.Col("id"):        u.ID,
				d.Col("email"):     nullString(u.Email),
				d.Col("password"):  nullString(u.Digest),
				d.Col("username"):  nullString(u.Username),
				d.Col("publickey"): nullString(u.PublicKey),
				d.Col("lastseen"):  nullString(u.LastSeen),
			}
			err := tx.Table(sqlstore.TableUsers).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: d.Col("id")}},
				DoUpdates: clause.AssignmentColumns([]string{d.Col("email"), d.Col("username"), d.Col("publickey"), d.Col("lastseen")}),
			}).Create(row).Error
			if err != nil {
				return fmt.Errorf("upsert user %s: %w", u.ID, err)
			}
		}
		for _, m := range messages {
			var n int64
			if err := tx.Table(sqlstore.TableMessages).Where(d.Col("id")+" = ?", m.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			row := map[string]any{
				d.Col("id"):        m.ID,
				d.Col("chatid"):    m.ChatID,
				d.Col("fromid"):    nullString(m.FromID),
				d.Col("toid"):      nullString(m.ToID),
				d.Col("message"):   nullString(m.Body),
				d.Col("timestamp"): d.Time(m.Timestamp),
				d.Col("encrypted"): m.Encrypted,
				d.Col("status"):    string(m.Status),
			}
			if err := tx.Table(sqlstore.TableMessages).Create(row).Error; err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if dir := filepath.Dir(opts.FlagPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return true, err
		}
	}
	if err := os.WriteFile(opts.FlagPath, []byte(normalize.FormatTime(now)), 0o644); err != nil {
		return true, fmt.Errorf("write migration flag: %w", err)
	}
	return true, nil
}

// legacyUser 旧数据里需要的用户字段
type legacyUser struct {
	ID, Email, Digest, Username, PublicKey, LastSeen string
}

// readLegacyUsers 文件不存在返回空
func readLegacyUsers(path string) ([]legacyUser, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseLegacyUsers(raw)
}

func parseLegacyUsers(raw []byte) ([]legacyUser, error) {
	var doc legacyUsers
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse users.json: %w", err)
	}
	out := make([]legacyUser, 0, len(doc.Users))
	for key, fields := range doc.Users {
		r := normalize.Row(fields)
		u := legacyUser{
			ID:        r.StringOr(key, "id"),
			Email:     r.String("email"),
			Digest:    normalize.Credentials(r).Digest,
			Username:  r.String("username"),
			PublicKey: r.String("publicKey"),
			LastSeen:  r.String("lastSeen"),
		}
		out = append(out, u)
	}
	return out, nil
}

func readLegacyMessages(path string, now time.Time) ([]model.Message, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseLegacyMessages(raw, now)
}

// parseLegacyMessages messages.json 的结构：{"<chatId>": [{...}, ...]}
// 缺 id 的补新 id，缺 timestamp 的用 now，缺 status 的记为 sent
func parseLegacyMessages(raw []byte, now time.Time) ([]model.Message, error) {
	var doc map[string][]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse messages.json: %w", err)
	}
	out := make([]model.Message, 0)
	for chatID, list := range doc {
		for _, fields := range list {
			if fields == nil {
				continue
			}
			m := normalize.Message(normalize.Row(fields))
			m.ChatID = chatID
			if m.ID == "" {
				m.ID = snowflake.NewPrefixedID("msg")
			}
			if m.Timestamp.IsZero() {
				m.Timestamp = now.UTC()
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
