package network

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"appchat_store/internal/dao/sqlstore"
	"appchat_store/internal/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestWithParseTime(t *testing.T) {
	cases := map[string]string{
		"root:pw@tcp(127.0.0.1:3306)/appchat":                  "root:pw@tcp(127.0.0.1:3306)/appchat?parseTime=true",
		"root:pw@tcp(127.0.0.1:3306)/appchat?charset=utf8mb4":  "root:pw@tcp(127.0.0.1:3306)/appchat?charset=utf8mb4&parseTime=true",
		"root:pw@tcp(127.0.0.1:3306)/appchat?parseTime=false": "root:pw@tcp(127.0.0.1:3306)/appchat?parseTime=false",
	}
	for in, want := range cases {
		if got := withParseTime(in); got != want {
			t.Errorf("withParseTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScoreSQLPlaceholders(t *testing.T) {
	for _, d := range []sqlstore.Dialect{sqlstore.Postgres, sqlstore.MySQL} {
		expr := ScoreSQL(d)
		if n := strings.Count(expr, "?"); n != 5 {
			t.Errorf("%s: %d placeholders in %s", d.Name, n, expr)
		}
		if !strings.Contains(expr, "NULLIF") {
			t.Errorf("%s: zero recency window not guarded: %s", d.Name, expr)
		}
	}
	if !strings.Contains(ScoreSQL(sqlstore.Postgres), "DOUBLE PRECISION") {
		t.Error("postgres score must cast float parameters")
	}
	if !strings.Contains(ScoreSQL(sqlstore.MySQL), "TIMESTAMPDIFF") {
		t.Error("mysql score must use TIMESTAMPDIFF")
	}
}

func TestParseLegacyUsers(t *testing.T) {
	raw := []byte(`{"users":{"user_1":{"email":"a@b.c","password":"digest","username":"ana","publicKey":"pk","lastSeen":"online"},"user_2":{"id":"user_2"}}}`)
	users, err := parseLegacyUsers(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users", len(users))
	}
	byID := map[string]legacyUser{}
	for _, u := range users {
		byID[u.ID] = u
	}
	u := byID["user_1"]
	if u.Email != "a@b.c" || u.Digest != "digest" || u.PublicKey != "pk" || u.LastSeen != "online" {
		t.Fatalf("user_1 = %+v", u)
	}
	if _, err := parseLegacyUsers([]byte("{")); err == nil {
		t.Fatal("broken json accepted")
	}
}

func TestParseLegacyMessagesFillsGaps(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	raw := []byte(`{"user_1_user_2":[{"id":"m1","fromId":"user_1","toId":"user_2","message":"hi","timestamp":"2024-04-01T10:00:00.000Z","status":"delivered"},{"fromId":"user_2","message":"yo"}]}`)
	msgs, err := parseLegacyMessages(raw, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if m.ChatID != "user_1_user_2" {
			t.Errorf("chatId = %q", m.ChatID)
		}
		if m.ID == "m1" {
			if m.Status != model.MessageDelivered {
				t.Errorf("status = %q", m.Status)
			}
			continue
		}
		if !strings.HasPrefix(m.ID, "msg_") || m.Status != model.MessageSent || !m.Timestamp.Equal(now) {
			t.Errorf("defaults not applied: %+v", m)
		}
	}
}

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := "file:legacy-" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	s := sqlstore.New(db, sqlstore.SQLite, nil, nil)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestImportLegacyOnce(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("users.json", `{"users":{"user_1":{"id":"user_1","email":"a@b.c","username":"ana"}}}`)
	write("messages.json", `{"user_1_user_2":[{"id":"m1","fromId":"user_1","toId":"user_2","message":"hi"}]}`)
	opts := LegacyOptions{DataDir: dir, FlagPath: filepath.Join(dir, "flags", ".migrated")}

	done, err := importLegacy(ctx, s, opts, time.Now())
	if err != nil || !done {
		t.Fatalf("first import: done=%v err=%v", done, err)
	}
	u, err := s.GetUserByID(ctx, "user_1")
	if err != nil || u == nil || u.Username != "ana" {
		t.Fatalf("user not imported: %+v %v", u, err)
	}
	m, err := s.GetMessage(ctx, "m1")
	if err != nil || m == nil || m.Body != "hi" || m.Status != model.MessageSent {
		t.Fatalf("message not imported: %+v %v", m, err)
	}
	if _, err := os.Stat(opts.FlagPath); err != nil {
		t.Fatalf("flag missing: %v", err)
	}

	// 标记存在时不再导入
	write("users.json", `{"users":{"user_1":{"id":"user_1","email":"a@b.c","username":"changed"}}}`)
	done, err = importLegacy(ctx, s, opts, time.Now())
	if err != nil || done {
		t.Fatalf("second import: done=%v err=%v", done, err)
	}
	u, _ = s.GetUserByID(ctx, "user_1")
	if u.Username != "ana" {
		t.Fatalf("user overwritten after flag: %q", u.Username)
	}
}

func TestImportLegacyUpsertsUsers(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	if err := s.CreateUser(ctx, &model.User{ID: "user_1", Email: "a@b.c", Username: "old"}, "digest"); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	body := `{"users":{"user_1":{"id":"user_1","email":"a@b.c","username":"new","lastSeen":"online"}}}`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := importLegacy(ctx, s, LegacyOptions{DataDir: dir, FlagPath: filepath.Join(dir, ".flag")}, time.Now()); err != nil {
		t.Fatal(err)
	}
	u, _ := s.GetUserByID(ctx, "user_1")
	if u == nil || u.Username != "new" || u.LastSeen != "online" {
		t.Fatalf("upsert not applied: %+v", u)
	}
	cred, _ := s.GetCredentialsByID(ctx, "user_1")
	if cred == nil || cred.Digest != "digest" {
		t.Fatalf("password should be kept on conflict: %+v", cred)
	}
}
