package embedded

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"appchat_store/internal/feed"
	"appchat_store/internal/model"
	"appchat_store/pkg/errorx"
)

func openTemp(t *testing.T, path string) *Store {
	t.Helper()
	st, err := Open(context.Background(), Options{Path: path, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })
	return st
}

func TestDuplicateEmailConflict(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	if err := st.CreateUser(ctx, &model.User{ID: "user_1", Email: "a@b.c"}, "d"); err != nil {
		t.Fatal(err)
	}
	err := st.CreateUser(ctx, &model.User{ID: "user_2", Email: "a@b.c"}, "d")
	if !errorx.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got, _ := st.CountUsers(ctx); got != 1 {
		t.Fatalf("users = %d", got)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	m := &model.ScheduledMessage{
		ID: "sched_1", ChatID: "a_b", FromID: "a", ToID: "b", Content: "hi",
		ScheduledAt: time.Now().Add(-time.Minute), CreatedAt: time.Now(),
	}
	if err := st.InsertScheduledMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.CASScheduledStatus(ctx, "sched_1", model.ScheduledWaiting, model.ScheduledPending)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("winners = %d", wins.Load())
	}
	list, _ := st.ListScheduledForUser(ctx, "a")
	if len(list) != 1 || list[0].Status != model.ScheduledPending {
		t.Fatalf("scheduled = %+v", list)
	}
	due, _ := st.ListDueScheduled(ctx, time.Now())
	if len(due) != 0 {
		t.Fatalf("claimed message still due: %+v", due)
	}
	if ok, _ := st.SetScheduledStatus(ctx, "sched_missing", model.ScheduledSent); ok {
		t.Fatal("unknown id updated")
	}
	// 终态不可再改
	if ok, _ := st.SetScheduledStatus(ctx, "sched_1", model.ScheduledSent); !ok {
		t.Fatal("pending -> sent rejected")
	}
	if ok, _ := st.SetScheduledStatus(ctx, "sched_1", model.ScheduledFailed); ok {
		t.Fatal("terminal status overwritten")
	}
	if _, err := st.CASScheduledStatus(ctx, "sched_1", model.ScheduledSent, model.ScheduledSent); !errorx.IsValidation(err) {
		t.Fatalf("no-op transition should be rejected, got %v", err)
	}
}

func TestRetractIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := st.InsertMessage(ctx, &model.Message{ID: "m1", ChatID: "a_b", FromID: "a", ToID: "b", Body: "secret", Timestamp: ts, Status: model.MessageSent}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		ok, err := st.RetractMessage(ctx, "m1", model.RetractedPlaceholder)
		if err != nil || !ok {
			t.Fatalf("retract #%d: %v %v", i, ok, err)
		}
	}
	m, _ := st.GetMessage(ctx, "m1")
	if m.Body != model.RetractedPlaceholder || m.Status != model.MessageRetracted || !m.Timestamp.Equal(ts) {
		t.Fatalf("retracted = %+v", m)
	}
	if ok, _ := st.RetractMessage(ctx, "missing", model.RetractedPlaceholder); ok {
		t.Fatal("missing message reported as retracted")
	}
}

func TestMessagePagination(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := st.InsertMessage(ctx, &model.Message{
			ID: "m" + string(rune('0'+i)), ChatID: "a_b", FromID: "a", ToID: "b",
			Body: "x", Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	all, _ := st.GetMessagesForChat(ctx, "a_b", model.Page{})
	if len(all) != 5 || all[0].ID != "m0" || all[4].ID != "m4" {
		t.Fatalf("all = %+v", all)
	}
	page, _ := st.GetMessagesForChat(ctx, "a_b", model.Page{Limit: 2, Before: base.Add(3 * time.Minute)})
	if len(page) != 2 || page[0].ID != "m0" || page[1].ID != "m1" {
		t.Fatalf("page = %+v", page)
	}
	before, _ := st.GetMessagesForChat(ctx, "a_b", model.Page{Before: base.Add(3 * time.Minute)})
	if len(before) != 3 {
		t.Fatalf("before is not strict: %d", len(before))
	}
	undelivered, _ := st.ListUndelivered(ctx, "b")
	if len(undelivered) != 5 {
		t.Fatalf("undelivered = %d", len(undelivered))
	}
	st.UpdateMessageStatus(ctx, "m0", model.MessageDelivered)
	undelivered, _ = st.ListUndelivered(ctx, "b")
	if len(undelivered) != 4 {
		t.Fatalf("undelivered after delivery = %d", len(undelivered))
	}
}

func TestLikesAndCounters(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	if err := st.InsertVideo(ctx, &model.Video{ID: "video_1", UserID: "user_1", URL: "u", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	created, _ := st.UpsertLike(ctx, "user_2", "video_1")
	again, _ := st.UpsertLike(ctx, "user_2", "video_1")
	if !created || again {
		t.Fatalf("upsert like = %v, %v", created, again)
	}
	if ok, _ := st.HasLike(ctx, "user_2", "video_1"); !ok {
		t.Fatal("like missing")
	}
	if ok, _ := st.RemoveLike(ctx, "user_2", "video_1"); !ok {
		t.Fatal("remove like failed")
	}
	if ok, _ := st.HasLike(ctx, "user_2", "video_1"); ok {
		t.Fatal("like still present")
	}

	v, err := st.IncrementVideoCounter(ctx, "video_1", model.CounterViews, 3)
	if err != nil || v == nil || v.Views != 3 {
		t.Fatalf("views = %+v %v", v, err)
	}
	v, _ = st.IncrementVideoCounter(ctx, "video_1", model.CounterLikes, -5)
	if v.Likes != 0 {
		t.Fatalf("likes went negative: %d", v.Likes)
	}
	if v, _ := st.IncrementVideoCounter(ctx, "missing", model.CounterViews, 1); v != nil {
		t.Fatalf("missing video returned %+v", v)
	}
	if _, err := st.IncrementVideoCounter(ctx, "video_1", "shares", 1); !errorx.IsValidation(err) {
		t.Fatalf("unknown counter accepted: %v", err)
	}
}

func TestFeedApproximation(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	now := time.Now()
	st.CreateUser(ctx, &model.User{ID: "user_1", Email: "a@b.c", Username: "ana"}, "d")
	videos := []model.Video{
		{ID: "video_a", UserID: "user_1", Views: 100, CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{ID: "video_b", UserID: "user_1", Views: 10, CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "video_c", UserID: "user_1", Views: 500, Visibility: "private", CreatedAt: now},
	}
	for i := range videos {
		if err := st.InsertVideo(ctx, &videos[i]); err != nil {
			t.Fatal(err)
		}
	}
	p := feed.Params{Limit: 10, RecencyDays: 14, WeightViews: 1, WeightRecency: 1}
	items, err := st.ListPublicVideosRanked(ctx, p, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "video_a" || items[1].ID != "video_b" {
		t.Fatalf("feed = %+v", items)
	}
	if !items[0].Approximate || items[0].UploaderName != "ana" {
		t.Fatalf("item = %+v", items[0])
	}
	if items[0].Score != 100 {
		t.Fatalf("score = %v", items[0].Score)
	}
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	g := &model.Group{ID: "group_1", Name: "team", OwnerID: "a", CreatedAt: time.Now()}
	members := []model.GroupMember{
		{GroupID: "group_1", UserID: "a", Role: model.RoleOwner, JoinedAt: time.Now()},
		{GroupID: "group_1", UserID: "b", JoinedAt: time.Now()},
		{GroupID: "group_1", UserID: "b", JoinedAt: time.Now()},
	}
	if err := st.CreateGroup(ctx, g, members); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateGroup(ctx, g, nil); !errorx.IsConflict(err) {
		t.Fatalf("duplicate group: %v", err)
	}
	added, _ := st.AddGroupMember(ctx, &model.GroupMember{GroupID: "group_1", UserID: "b"})
	if added {
		t.Fatal("existing member added twice")
	}
	added, _ = st.AddGroupMember(ctx, &model.GroupMember{GroupID: "group_1", UserID: "c", JoinedAt: time.Now()})
	if !added {
		t.Fatal("new member not added")
	}
	list, _ := st.ListGroupMembers(ctx, "group_1")
	if len(list) != 3 {
		t.Fatalf("members = %+v", list)
	}
	groups, _ := st.ListGroupsForUser(ctx, "c")
	if len(groups) != 1 || groups[0].Name != "team" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestFlushSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "appchat.sqlite")
	st, err := Open(ctx, Options{Path: path, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		err := st.InsertMessage(ctx, &model.Message{ID: "m" + string(rune('0'+i)), ChatID: "a_b", FromID: "a", ToID: "b", Body: "x", Timestamp: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
	}
	if st.PendingWrites() != 5 {
		t.Fatalf("pending = %d", st.PendingWrites())
	}
	ok, err := st.Flush(ctx)
	if err != nil || !ok {
		t.Fatalf("flush: %v %v", ok, err)
	}
	if st.PendingWrites() != 0 {
		t.Fatalf("pending after flush = %d", st.PendingWrites())
	}
	// 关闭时未落盘的写入也要保住
	st.CreateUser(ctx, &model.User{ID: "user_1", Email: "a@b.c"}, "d")
	if err := st.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reopened := openTemp(t, path)
	if n, _ := reopened.CountMessages(ctx); n != 5 {
		t.Fatalf("messages after reopen = %d", n)
	}
	if u, _ := reopened.GetUserByID(ctx, "user_1"); u == nil {
		t.Fatal("write before close lost")
	}
	if reopened.PendingWrites() != 0 {
		t.Fatalf("pending after reopen = %d", reopened.PendingWrites())
	}
}

func TestWritesDuringFlushAreKept(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "appchat.sqlite")
	st, err := Open(ctx, Options{Path: path, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	const n = 40
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			m := &model.Message{ID: fmt.Sprintf("m%02d", i), ChatID: "a_b", FromID: "a", ToID: "b", Body: "x", Timestamp: time.Now()}
			if err := st.InsertMessage(ctx, m); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	// 写入和导出交替进行，写操作只会等待，不会失败或丢失
	for i := 0; i < 5; i++ {
		if _, err := st.Flush(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := st.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reopened := openTemp(t, path)
	if got, _ := reopened.CountMessages(ctx); got != n {
		t.Fatalf("messages after reopen = %d, want %d", got, n)
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	for i := 0; i < 2; i++ {
		if err := st.Bootstrap(ctx); err != nil {
			t.Fatalf("bootstrap #%d: %v", i, err)
		}
	}
}

func TestContactsAndSearch(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t, "")
	st.CreateUser(ctx, &model.User{ID: "user_1", Email: "Ana@Example.com", Username: "Ana"}, "d")
	st.CreateUser(ctx, &model.User{ID: "user_2", Email: "bo@example.com", Username: "bo"}, "d")

	found, err := st.UpdateContacts(ctx, "user_1", func(c []string) ([]string, error) {
		return append(c, "user_2"), nil
	})
	if err != nil || !found {
		t.Fatalf("update contacts: %v %v", found, err)
	}
	u, _ := st.GetUserByID(ctx, "user_1")
	if !u.HasContact("user_2") {
		t.Fatalf("contacts = %v", u.Contacts)
	}

	byEmail, _ := st.SearchUsers(ctx, "ana@", 50)
	if len(byEmail) != 1 || byEmail[0].ID != "user_1" {
		t.Fatalf("email search = %+v", byEmail)
	}
	byName, _ := st.SearchUsers(ctx, "B", 50)
	if len(byName) != 1 || byName[0].ID != "user_2" {
		t.Fatalf("name search = %+v", byName)
	}
	byID, _ := st.SearchUsers(ctx, "user_1", 50)
	if len(byID) != 1 {
		t.Fatalf("id search = %+v", byID)
	}

	st.InsertMessage(ctx, &model.Message{ID: "m1", ChatID: "user_1_user_2", FromID: "user_1", ToID: "user_2", Timestamp: time.Now()})
	if ok, _ := st.DeleteUser(ctx, "user_1"); !ok {
		t.Fatal("delete user failed")
	}
	if n, _ := st.CountMessages(ctx); n != 0 {
		t.Fatalf("messages not cascaded: %d", n)
	}
}
