package model

import (
	"reflect"
	"testing"
	"time"

	"PChatCore/tools/errs"
)

func TestParseRoom(t *testing.T) {
	tests := []struct {
		room string
		want Target
	}{
		{room: "channel:c1", want: ChannelTarget("c1")},
		{room: "dm:42", want: DirectTarget("42")},
		{room: " channel:general ", want: ChannelTarget("general")},
	}
	for _, tt := range tests {
		got, err := ParseRoom(tt.room)
		if err != nil {
			t.Fatalf("ParseRoom(%q): %v", tt.room, err)
		}
		if got != tt.want {
			t.Fatalf("ParseRoom(%q) = %+v, want %+v", tt.room, got, tt.want)
		}
	}

	for _, bad := range []string{"", "channel:", "dm:", "group:1", "c1"} {
		if _, err := ParseRoom(bad); !errs.IsBadRequest(err) {
			t.Fatalf("ParseRoom(%q) err = %v, want BadRequest", bad, err)
		}
	}
}

func TestTargetRoomRoundTrip(t *testing.T) {
	for _, tg := range []Target{ChannelTarget("c9"), DirectTarget("777")} {
		got, err := ParseRoom(string(tg.Room()))
		if err != nil || got != tg {
			t.Fatalf("round trip of %+v = %+v, %v", tg, got, err)
		}
	}
}

func TestCanonicalPair(t *testing.T) {
	lo, hi := CanonicalPair("b", "a")
	if lo != "a" || hi != "b" {
		t.Fatalf("CanonicalPair = (%q, %q)", lo, hi)
	}
	lo2, hi2 := CanonicalPair("a", "b")
	if lo2 != lo || hi2 != hi {
		t.Fatal("pair order must not matter")
	}
}

func TestParseRoles(t *testing.T) {
	if r, err := ParseChannelRole("channel_admin"); err != nil || r != ChannelRoleAdmin {
		t.Fatalf("ParseChannelRole = %v, %v", r, err)
	}
	if r, err := ParseWorkspaceRole("PRIVILEGE_MEMBER"); err != nil || r != WorkspaceRolePrivilegeMember {
		t.Fatalf("ParseWorkspaceRole = %v, %v", r, err)
	}
	if _, err := ParseWorkspaceRole("OWNER"); err == nil {
		t.Fatal("unknown role must fail")
	}
}

func TestVisibleContentHidesDeleted(t *testing.T) {
	body := "secret"
	m := Message{Content: &body}
	if got := m.VisibleContent(); got == nil || *got != body {
		t.Fatalf("VisibleContent = %v", got)
	}
	m.IsDeleted = true
	if m.VisibleContent() != nil {
		t.Fatal("deleted message exposed content")
	}
}

func TestGroupReactions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := GroupReactions([]Reaction{
		{ID: "3", UserID: "u3", Emoji: "👍", CreatedAt: t0.Add(2 * time.Second)},
		{ID: "1", UserID: "u1", Emoji: "👍", CreatedAt: t0},
		{ID: "2", UserID: "u2", Emoji: "🎉", CreatedAt: t0.Add(time.Second)},
	})
	want := []ReactionGroup{
		{Emoji: "👍", Count: 2, Users: []UserID{"u1", "u3"}},
		{Emoji: "🎉", Count: 1, Users: []UserID{"u2"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupReactions = %+v, want %+v", got, want)
	}
	if empty := GroupReactions(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("GroupReactions(nil) = %#v, want empty non-nil", empty)
	}
}
