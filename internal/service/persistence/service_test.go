package persistence

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"appchat_store/internal/dao/embedded"
	"appchat_store/internal/feed"
	"appchat_store/internal/infrastructure/auth"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"

	"github.com/pquerna/otp/totp"
)

func newService(t *testing.T, deps Deps) *Service {
	t.Helper()
	ctx := context.Background()
	st, err := embedded.Open(ctx, embedded.Options{FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("open embedded store: %v", err)
	}
	deps.Store = st
	if deps.Hasher == nil {
		deps.Hasher = auth.BcryptHasher{Cost: 4}
	}
	svc, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func mustUser(t *testing.T, svc *Service, email string) *model.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), email, "secret-pw", strings.Split(email, "@")[0])
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func wantCode(t *testing.T, err error, code int, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %d, got nil", code)
	}
	if errorx.GetCode(err) != code {
		t.Fatalf("code = %d, want %d (%v)", errorx.GetCode(err), code, err)
	}
	if msg != "" && errorx.Message(err) != msg {
		t.Fatalf("message = %q, want %q", errorx.Message(err), msg)
	}
}

func TestCreateUserAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})

	u := mustUser(t, svc, "ana@example.com")
	if !strings.HasPrefix(u.ID, "user_") || u.ProfileVisibility != model.VisibilityPublic {
		t.Fatalf("user = %+v", u)
	}

	_, err := svc.CreateUser(ctx, "ana@example.com", "other", "ana2")
	wantCode(t, err, errorx.CodeConflict, "Email already exists")

	_, err = svc.CreateUser(ctx, "not-an-email", "pw", "x")
	wantCode(t, err, errorx.CodeValidation, "")

	_, err = svc.LoginUser(ctx, "ana@example.com", "wrong")
	wantCode(t, err, errorx.CodeInvalidCredentials, "Invalid credentials")
	_, err = svc.LoginUser(ctx, "ghost@example.com", "secret-pw")
	wantCode(t, err, errorx.CodeInvalidCredentials, "Invalid credentials")

	got, err := svc.LoginUser(ctx, "ana@example.com", "secret-pw")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	if got.ID != u.ID || got.LastSeen == model.LastSeenOffline || got.LastSeen == "" {
		t.Fatalf("login user = %+v", got)
	}
}

func TestUserStatusAndProfile(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	u := mustUser(t, svc, "bo@example.com")

	if err := svc.UpdateUserStatus(ctx, u.ID, true); err != nil {
		t.Fatal(err)
	}
	p, err := svc.GetUserProfile(ctx, u.ID)
	if err != nil || p.LastSeen != model.LastSeenOnline {
		t.Fatalf("profile = %+v, %v", p, err)
	}
	wantCode(t, svc.UpdateUserStatus(ctx, "user_missing", false), errorx.CodeNotFound, "User not found")

	_, err = svc.GetUserProfile(ctx, "user_missing")
	wantCode(t, err, errorx.CodeNotFound, "User not found")
	missing, err := svc.GetUserByID(ctx, "user_missing")
	if err != nil || missing != nil {
		t.Fatalf("GetUserByID(missing) = %+v, %v", missing, err)
	}

	updated, err := svc.UpdateProfile(ctx, u.ID, map[string]any{
		"fullName":   "Bo Lee",
		"preference": map[string]any{"theme": "dark"},
		"email":      "hijack@example.com",
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.FullName != "Bo Lee" || updated.Preferences["theme"] != "dark" {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Email != "bo@example.com" {
		t.Fatalf("email changed through profile update: %s", updated.Email)
	}

	_, err = svc.UpdateProfile(ctx, u.ID, map[string]any{"bio": 42})
	wantCode(t, err, errorx.CodeValidation, "")
	_, err = svc.UpdateProfile(ctx, "user_missing", map[string]any{"bio": "x"})
	wantCode(t, err, errorx.CodeNotFound, "User not found")

	withKey, err := svc.SaveUserPublicKey(ctx, u.ID, "PUBKEY")
	if err != nil || withKey.PublicKey != "PUBKEY" {
		t.Fatalf("SaveUserPublicKey = %+v, %v", withKey, err)
	}
}

func TestAddContact(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	a := mustUser(t, svc, "a@example.com")
	b := mustUser(t, svc, "b@example.com")

	_, err := svc.AddContact(ctx, a.ID, a.ID)
	wantCode(t, err, errorx.CodeValidation, "")
	_, err = svc.AddContact(ctx, "user_ghost", b.ID)
	wantCode(t, err, errorx.CodeNotFound, "Your user account was not found")
	_, err = svc.AddContact(ctx, a.ID, "user_ghost")
	wantCode(t, err, errorx.CodeNotFound, "Contact not found. Please check the ID and try again")

	contact, err := svc.AddContact(ctx, a.ID, b.ID)
	if err != nil || contact.ID != b.ID {
		t.Fatalf("AddContact = %+v, %v", contact, err)
	}
	_, err = svc.AddContact(ctx, a.ID, b.ID)
	wantCode(t, err, errorx.CodeConflict, "This user is already in your contacts")

	contacts, err := svc.GetUserContacts(ctx, a.ID)
	if err != nil || len(contacts) != 1 || contacts[0].ID != b.ID {
		t.Fatalf("contacts = %+v, %v", contacts, err)
	}
	none, err := svc.GetUserContacts(ctx, "user_ghost")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("contacts of missing user = %#v, %v", none, err)
	}
}

func TestChangePasswordAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	u := mustUser(t, svc, "cy@example.com")

	wantCode(t, svc.ChangePassword(ctx, u.ID, "wrong", "next-pw"), errorx.CodeValidation, "Old password does not match")
	wantCode(t, svc.ChangePassword(ctx, "user_missing", "x", "next-pw"), errorx.CodeNotFound, "User not found")
	if err := svc.ChangePassword(ctx, u.ID, "secret-pw", "next-pw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.LoginUser(ctx, "cy@example.com", "next-pw"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	peer := mustUser(t, svc, "peer@example.com")
	if _, err := svc.SaveMessage(ctx, u.ID, peer.ID, "bye", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	msgs, err := svc.GetMessages(ctx, u.ID, peer.ID, PageOptions{})
	if err != nil || len(msgs) != 0 {
		t.Fatalf("messages after delete = %d, %v", len(msgs), err)
	}
	wantCode(t, svc.DeleteUser(ctx, u.ID), errorx.CodeNotFound, "User not found")
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	mustUser(t, svc, "dora@example.com")
	target := mustUser(t, svc, "eve@sample.org")

	byEmail, err := svc.SearchUsers(ctx, "@SAMPLE")
	if err != nil || len(byEmail) != 1 || byEmail[0].ID != target.ID {
		t.Fatalf("email search = %+v, %v", byEmail, err)
	}
	byID, err := svc.SearchUsers(ctx, target.ID)
	if err != nil || len(byID) != 1 {
		t.Fatalf("id search = %+v, %v", byID, err)
	}
	empty, err := svc.SearchUsers(ctx, "   ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("blank search = %+v, %v", empty, err)
	}
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})

	reply := &model.ReplyRef{ID: "msg_0", Sender: "user_b", Message: "earlier"}
	first, err := svc.SaveMessage(ctx, "user_b", "user_a", `{"encrypted":true,"ciphertext":"x"}`, reply)
	if err != nil {
		t.Fatal(err)
	}
	if first.ChatID != "user_a_user_b" || !first.Encrypted || first.ReplyToID != "msg_0" {
		t.Fatalf("first = %+v", first)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := svc.SaveMessage(ctx, "user_a", "user_b", "plain", nil)
	if err != nil {
		t.Fatal(err)
	}

	all, err := svc.GetMessages(ctx, "user_a", "user_b", PageOptions{})
	if err != nil || len(all) != 2 || all[0].ID != first.ID {
		t.Fatalf("messages = %+v, %v", all, err)
	}
	limited, err := svc.GetMessages(ctx, "user_b", "user_a", PageOptions{Limit: "1.9"})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited = %d, %v", len(limited), err)
	}
	before, err := svc.GetMessages(ctx, "user_a", "user_b", PageOptions{Before: second.Timestamp})
	if err != nil || len(before) != 1 || before[0].ID != first.ID {
		t.Fatalf("before = %+v, %v", before, err)
	}
	ignored, err := svc.GetMessages(ctx, "user_a", "user_b", PageOptions{Limit: "abc", Before: "yesterday"})
	if err != nil || len(ignored) != 2 {
		t.Fatalf("garbage options should not filter: %d, %v", len(ignored), err)
	}

	_, err = svc.UpdateMessageStatus(ctx, first.ID, "read")
	wantCode(t, err, errorx.CodeValidation, "")
	_, err = svc.UpdateMessageStatus(ctx, "msg_missing", model.MessageDelivered)
	wantCode(t, err, errorx.CodeNotFound, "Message not found")
	delivered, err := svc.UpdateMessageStatus(ctx, second.ID, model.MessageDelivered)
	if err != nil || delivered.Status != model.MessageDelivered {
		t.Fatalf("delivered = %+v, %v", delivered, err)
	}

	undelivered, err := svc.GetUndeliveredMessages(ctx, "user_a")
	if err != nil || len(undelivered) != 1 || undelivered[0].ID != first.ID {
		t.Fatalf("undelivered = %+v, %v", undelivered, err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.RetractMessage(ctx, first.ID); err != nil {
			t.Fatalf("retract #%d: %v", i, err)
		}
	}
	got, err := svc.GetMessage(ctx, first.ID)
	if err != nil || got.Status != model.MessageRetracted || got.Body != model.RetractedPlaceholder {
		t.Fatalf("retracted = %+v, %v", got, err)
	}
	if !got.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("timestamp changed by retraction: %v -> %v", first.Timestamp, got.Timestamp)
	}
	wantCode(t, svc.RetractMessage(ctx, "msg_missing"), errorx.CodeNotFound, "")

	if err := svc.DeleteMessage(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	wantCode(t, svc.DeleteMessage(ctx, second.ID), errorx.CodeNotFound, "Message not found")
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})

	g, err := svc.CreateGroup(ctx, "g1", "team", "user_owner", []string{"user_m", "user_m", "user_owner", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Members) != 2 || g.Members[0] != "user_owner" || g.Members[1] != "user_m" {
		t.Fatalf("members = %v", g.Members)
	}
	_, err = svc.CreateGroup(ctx, "g1", "again", "user_owner", nil)
	wantCode(t, err, errorx.CodeConflict, "")
	_, err = svc.CreateGroup(ctx, "", "", "user_owner", nil)
	wantCode(t, err, errorx.CodeValidation, "")

	members, err := svc.GetGroupMembers(ctx, "g1")
	if err != nil || len(members) != 2 {
		t.Fatalf("members = %+v, %v", members, err)
	}
	for _, m := range members {
		if m.UserID == "user_owner" && m.Role != model.RoleOwner {
			t.Fatalf("owner role = %s", m.Role)
		}
	}

	_, err = svc.SaveGroupMessage(ctx, "nope", "user_m", "hi")
	wantCode(t, err, errorx.CodeNotFound, "Group not found or empty")
	_, err = svc.SaveGroupMessage(ctx, "g1", "user_stranger", "hi")
	wantCode(t, err, errorx.CodeValidation, "Sender is not a member of this group")

	added, err := svc.AddGroupMember(ctx, "g1", "user_stranger", "")
	if err != nil || !added {
		t.Fatalf("AddGroupMember = %v, %v", added, err)
	}
	again, err := svc.AddGroupMember(ctx, "g1", "user_stranger", "")
	if err != nil || again {
		t.Fatalf("re-add = %v, %v", again, err)
	}

	gm, err := svc.SaveGroupMessage(ctx, "g1", "user_stranger", map[string]any{"text": "hello", "keys": []string{"k1"}})
	if err != nil {
		t.Fatal(err)
	}
	if gm.ChatID != "group_g1" || gm.ToID != "group_g1" || len(gm.Members) != 3 {
		t.Fatalf("group message = %+v", gm)
	}
	if !strings.Contains(gm.Body, `"text":"hello"`) {
		t.Fatalf("body not serialized: %s", gm.Body)
	}

	history, err := svc.GetGroupMessages(ctx, "g1", PageOptions{Limit: 10})
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %+v, %v", history, err)
	}
	if history[0].Metadata["type"] != GroupMessageType || history[0].Metadata["groupId"] != "g1" {
		t.Fatalf("metadata = %v", history[0].Metadata)
	}

	groups, err := svc.GetUserGroups(ctx, "user_m")
	if err != nil || len(groups) != 1 || groups[0].ID != "g1" || groups[0].OwnerID != "user_owner" {
		t.Fatalf("groups = %+v, %v", groups, err)
	}
}

func TestScheduledMessages(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})

	_, err := svc.SaveScheduledMessage(ctx, ScheduledInput{FromID: "user_a", ToID: "user_b", ScheduledAt: "next tuesday"})
	wantCode(t, err, errorx.CodeValidation, "")
	_, err = svc.SaveScheduledMessage(ctx, ScheduledInput{FromID: "user_a"})
	wantCode(t, err, errorx.CodeValidation, "")

	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	due, err := svc.SaveScheduledMessage(ctx, ScheduledInput{FromID: "user_a", ToID: "user_b", Content: "ping", ScheduledAt: past})
	if err != nil {
		t.Fatal(err)
	}
	if due.ChatID != "user_a_user_b" || due.Status != model.ScheduledWaiting {
		t.Fatalf("due = %+v", due)
	}
	later, err := svc.SaveScheduledMessage(ctx, ScheduledInput{FromID: "user_a", ToID: "group_g1", ScheduledAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if later.ChatID != "group_g1" {
		t.Fatalf("group scheduled chat = %s", later.ChatID)
	}

	list, err := svc.GetDueScheduledMessages(ctx, nil)
	if err != nil || len(list) != 1 || list[0].ID != due.ID {
		t.Fatalf("due list = %+v, %v", list, err)
	}

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.ClaimScheduledMessage(ctx, due.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("claim winners = %d", wins)
	}

	_, err = svc.MarkScheduledMessageStatus(ctx, due.ID, model.ScheduledCancelled)
	wantCode(t, err, errorx.CodeValidation, "")
	ok, err := svc.MarkScheduledMessageStatus(ctx, due.ID, model.ScheduledSent)
	if err != nil || !ok {
		t.Fatalf("mark sent = %v, %v", ok, err)
	}
	ok, err = svc.MarkScheduledMessageStatus(ctx, due.ID, model.ScheduledFailed)
	if err != nil || ok {
		t.Fatalf("terminal status overwritten: %v, %v", ok, err)
	}

	// 未认领的消息不能直接标记结果
	for _, st := range []model.ScheduledStatus{model.ScheduledSent, model.ScheduledFailed} {
		ok, err := svc.MarkScheduledMessageStatus(ctx, later.ID, st)
		if err != nil || ok {
			t.Fatalf("mark %s without claim = %v, %v", st, ok, err)
		}
	}
	pendingList, err := svc.GetScheduledMessagesForUser(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	for _, sm := range pendingList {
		if sm.ID == later.ID && sm.Status != model.ScheduledWaiting {
			t.Fatalf("unclaimed message status = %s", sm.Status)
		}
	}

	cancelled, err := svc.CancelScheduledMessage(ctx, later.ID)
	if err != nil || !cancelled {
		t.Fatalf("cancel = %v, %v", cancelled, err)
	}
	claimed, err := svc.ClaimScheduledMessage(ctx, later.ID)
	if err != nil || claimed {
		t.Fatalf("claimed a cancelled message: %v, %v", claimed, err)
	}

	mine, err := svc.GetScheduledMessagesForUser(ctx, "user_a")
	if err != nil || len(mine) != 2 {
		t.Fatalf("for user = %+v, %v", mine, err)
	}
	deleted, err := svc.DeleteScheduledMessage(ctx, later.ID)
	if err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}
}

func TestVideosLikesAndComments(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	owner := mustUser(t, svc, "vid@example.com")

	_, err := svc.SaveVideo(ctx, VideoInput{UserID: owner.ID})
	wantCode(t, err, errorx.CodeValidation, "")
	v, err := svc.SaveVideo(ctx, VideoInput{UserID: owner.ID, URL: "https://cdn/v.mp4", Title: "clip", Duration: 12})
	if err != nil {
		t.Fatal(err)
	}
	if v.Views != 0 || v.Likes != 0 || v.Visibility != model.VisibilityPublic {
		t.Fatalf("video = %+v", v)
	}

	_, err = svc.IncrementVideoViews(ctx, v.ID, 0)
	wantCode(t, err, errorx.CodeValidation, "")
	_, err = svc.IncrementVideoViews(ctx, "video_missing", 1)
	wantCode(t, err, errorx.CodeNotFound, "Video not found")
	viewed, err := svc.IncrementVideoViews(ctx, v.ID, 3)
	if err != nil || viewed.Views != 3 {
		t.Fatalf("views = %+v, %v", viewed, err)
	}
	unliked, err := svc.IncrementVideoLikes(ctx, v.ID, -5)
	if err != nil || unliked.Likes != 0 {
		t.Fatalf("likes floor = %+v, %v", unliked, err)
	}

	for i := 0; i < 2; i++ {
		state, err := svc.ToggleUserVideoLike(ctx, "user_fan", v.ID, true)
		if err != nil || !state.Liked {
			t.Fatalf("like #%d = %+v, %v", i, state, err)
		}
	}
	liked, err := svc.HasUserLikedVideo(ctx, "user_fan", v.ID)
	if err != nil || !liked {
		t.Fatalf("HasUserLikedVideo = %v, %v", liked, err)
	}
	state, err := svc.ToggleUserVideoLike(ctx, "user_fan", v.ID, false)
	if err != nil || state.Liked {
		t.Fatalf("unlike = %+v, %v", state, err)
	}
	if liked, _ := svc.HasUserLikedVideo(ctx, "", v.ID); liked {
		t.Fatal("empty user id reported as liked")
	}

	list, err := svc.GetVideosForUser(ctx, owner.ID, nil)
	if err != nil || len(list) != 1 {
		t.Fatalf("videos = %+v, %v", list, err)
	}
	items, err := svc.GetForYouFeed(ctx, owner.ID, feed.Options{})
	if err != nil || len(items) != 1 || items[0].UploaderName != "vid" {
		t.Fatalf("feed = %+v, %v", items, err)
	}

	_, err = svc.SaveComment(ctx, CommentInput{VideoID: v.ID})
	wantCode(t, err, errorx.CodeValidation, "")
	long := strings.Repeat("é", model.MaxCommentLength+10)
	c1, err := svc.SaveComment(ctx, CommentInput{VideoID: v.ID, UserID: "user_fan", Text: long})
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(c1.Text)) != model.MaxCommentLength {
		t.Fatalf("comment length = %d", len([]rune(c1.Text)))
	}
	time.Sleep(2 * time.Millisecond)
	c2, err := svc.SaveComment(ctx, CommentInput{VideoID: v.ID, Text: "reply", ParentID: c1.ID})
	if err != nil {
		t.Fatal(err)
	}
	asc, err := svc.GetCommentsForVideo(ctx, v.ID, CommentOptions{})
	if err != nil || len(asc) != 2 || asc[0].ID != c1.ID {
		t.Fatalf("asc comments = %+v, %v", asc, err)
	}
	desc, err := svc.GetCommentsForVideo(ctx, v.ID, CommentOptions{Order: "DESC", Limit: 1})
	if err != nil || len(desc) != 1 || desc[0].ID != c2.ID {
		t.Fatalf("desc comments = %+v, %v", desc, err)
	}

	cl, err := svc.IncrementCommentLikes(ctx, c2.ID, 2)
	if err != nil || cl.Likes != 2 {
		t.Fatalf("comment likes = %+v, %v", cl, err)
	}
	_, err = svc.IncrementCommentLikes(ctx, "comment_missing", 1)
	wantCode(t, err, errorx.CodeNotFound, "Comment not found")
}

func TestStatsClearAndFlush(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	mustUser(t, svc, "st@example.com")
	svc.SaveMessage(ctx, "user_a", "user_b", "1", nil)
	svc.SaveMessage(ctx, "user_a", "user_c", "2", nil)

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.UsersCount != 1 || stats.MessagesCount != 2 || stats.ChatsCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if svc.GetPendingWriteCount() == 0 {
		t.Fatal("writes not tracked")
	}

	n, err := svc.ClearMessages(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ClearMessages = %d, %v", n, err)
	}
	if svc.GetPendingWriteCount() != 0 {
		t.Fatalf("pending after clear = %d", svc.GetPendingWriteCount())
	}
	stats, _ = svc.GetStats(ctx)
	if stats.MessagesCount != 0 || stats.UsersCount != 1 {
		t.Fatalf("stats after clear = %+v", stats)
	}
	ok, err := svc.FlushAll(ctx)
	if err != nil || !ok {
		t.Fatalf("FlushAll = %v, %v", ok, err)
	}
	if svc.Backend() != "sqlite" {
		t.Fatalf("backend = %s", svc.Backend())
	}
}

func TestTOTP(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	u := mustUser(t, svc, "otp@example.com")

	ok, err := svc.VerifyTOTP(ctx, u.ID, "123456")
	if err != nil || ok {
		t.Fatalf("verify without secret = %v, %v", ok, err)
	}
	key, err := svc.GenerateTOTPSecret(ctx, u.ID)
	if err != nil || key.Secret == "" || !strings.HasPrefix(key.URL, "otpauth://") {
		t.Fatalf("key = %+v, %v", key, err)
	}
	code, err := totp.GenerateCode(key.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ok, err = svc.VerifyTOTP(ctx, u.ID, code)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}
	_, err = svc.GenerateTOTPSecret(ctx, "user_missing")
	wantCode(t, err, errorx.CodeNotFound, "User not found")
}

type memCache struct {
	mu          sync.Mutex
	users       map[string]model.User
	invalidated []string
}

func (c *memCache) Get(_ context.Context, id string) (*model.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (c *memCache) Set(u *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = *u
}

func (c *memCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.users, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

func (c *memCache) Close() {}

func TestUserCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	cache := &memCache{users: map[string]model.User{}}
	svc := newService(t, Deps{Cache: cache})
	u := mustUser(t, svc, "cache@example.com")

	if _, err := svc.GetUserByID(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.users[u.ID]; !ok {
		t.Fatal("lookup did not populate cache")
	}

	if err := svc.UpdateUserStatus(ctx, u.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.users[u.ID]; ok {
		t.Fatal("status update did not invalidate cache")
	}

	cache.Set(&model.User{ID: "user_cached_only", Username: "ghost"})
	got, err := svc.GetUserByID(ctx, "user_cached_only")
	if err != nil || got == nil || got.Username != "ghost" {
		t.Fatalf("cache hit not served: %+v, %v", got, err)
	}
}

func TestUserCacheReadYourWrites(t *testing.T) {
	ctx := context.Background()
	cache := &memCache{users: map[string]model.User{}}
	svc := newService(t, Deps{Cache: cache})
	u := mustUser(t, svc, "ryw@example.com")

	if _, err := svc.GetUserByID(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.SaveUserPublicKey(ctx, u.ID, "pk-new")
	if err != nil || got.PublicKey != "pk-new" {
		t.Fatalf("public key after save = %+v, %v", got, err)
	}
	again, err := svc.GetUserByID(ctx, u.ID)
	if err != nil || again == nil || again.PublicKey != "pk-new" {
		t.Fatalf("cached read after save = %+v, %v", again, err)
	}

	if err := svc.DeleteUser(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	gone, err := svc.GetUserByID(ctx, u.ID)
	if err != nil || gone != nil {
		t.Fatalf("deleted user still served: %+v, %v", gone, err)
	}
}

func TestSanitizeLimit(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{nil, 0},
		{10, 10},
		{int64(3), 3},
		{7.9, 7},
		{"12", 12},
		{"4.5", 4},
		{"abc", 0},
		{0, 0},
		{-5, 0},
		{0.5, 0},
		{1000, 250},
		{true, 0},
	}
	for _, c := range cases {
		if got := SanitizeLimit(c.in, 250); got != c.want {
			t.Errorf("SanitizeLimit(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSanitizeBefore(t *testing.T) {
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []any{want, &want, "2024-05-01", "2024-05-01T00:00:00Z", "2024-05-01T02:00:00+02:00"} {
		if got := SanitizeBefore(in); !got.Equal(want) {
			t.Errorf("SanitizeBefore(%v) = %v", in, got)
		}
	}
	for _, in := range []any{nil, "", "not a date", 12345} {
		if got := SanitizeBefore(in); !got.IsZero() {
			t.Errorf("SanitizeBefore(%v) = %v, want zero", in, got)
		}
	}
}
