package model

import "testing"

func TestDirectChatIDIsOrderIndependent(t *testing.T) {
	if DirectChatID("user_b", "user_a") != "user_a_user_b" {
		t.Fatalf("got %s", DirectChatID("user_b", "user_a"))
	}
	if DirectChatID("user_a", "user_b") != DirectChatID("user_b", "user_a") {
		t.Fatal("chat id depends on argument order")
	}
}

func TestGroupChatIDRoundTrip(t *testing.T) {
	chat := GroupChatID("g1")
	if chat != "group_g1" {
		t.Fatalf("got %s", chat)
	}
	id, ok := GroupIDFromChat(chat)
	if !ok || id != "g1" {
		t.Fatalf("GroupIDFromChat(%s) = %q, %v", chat, id, ok)
	}
	if _, ok := GroupIDFromChat("user_a_user_b"); ok {
		t.Fatal("direct chat treated as group")
	}
	if _, ok := GroupIDFromChat("group_"); ok {
		t.Fatal("empty group id accepted")
	}
}

func TestIsEncryptedBody(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"encrypted":true,"ciphertext":"x"}`, true},
		{`{"encrypted":false}`, false},
		{`{"encrypted":1}`, true},
		{`{"text":"hi"}`, false},
		{`hello`, false},
		{`[1,2]`, false},
	}
	for _, c := range cases {
		if got := IsEncryptedBody(c.body); got != c.want {
			t.Errorf("IsEncryptedBody(%s) = %v, want %v", c.body, got, c.want)
		}
	}
}

func TestScheduledStatusTerminal(t *testing.T) {
	for _, s := range []ScheduledStatus{ScheduledSent, ScheduledFailed, ScheduledCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ScheduledStatus{ScheduledWaiting, ScheduledPending} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
