package access

import (
	"context"
	"testing"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store/memstore"
	"PChatCore/tools/errs"
)

func fixture(t *testing.T) (*Oracle, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.PutChannel("general", "w1")
	s.PutChannel("private", "w1")
	s.PutWorkspaceMember("w1", "alice", model.WorkspaceRoleMember)
	s.PutWorkspaceMember("w1", "bob", model.WorkspaceRolePrivilegeMember)
	s.PutWorkspaceMember("w1", "wendy", model.WorkspaceRoleAdmin)
	s.PutChannelMember("general", "alice", model.ChannelRoleMember)
	s.PutChannelMember("general", "bob", model.ChannelRoleAdmin)
	s.PutUser(model.User{ID: "alice", DisplayName: "Alice"})
	return NewOracle(s), s
}

func TestCanAccessChannel(t *testing.T) {
	o, _ := fixture(t)
	ctx := context.Background()
	tests := []struct {
		user    model.UserID
		channel model.ChannelID
		want    bool
	}{
		{user: "alice", channel: "general", want: true},
		{user: "bob", channel: "general", want: true},
		{user: "alice", channel: "private", want: false},
		{user: "bob", channel: "private", want: false},
		{user: "wendy", channel: "private", want: true}, // workspace admin override
		{user: "mallory", channel: "general", want: false},
		{user: "wendy", channel: "missing", want: false},
	}
	for _, tt := range tests {
		got, err := o.CanAccess(ctx, tt.user, model.ChannelTarget(tt.channel))
		if err != nil {
			t.Fatalf("CanAccess(%s, %s): %v", tt.user, tt.channel, err)
		}
		if got != tt.want {
			t.Fatalf("CanAccess(%s, %s) = %v, want %v", tt.user, tt.channel, got, tt.want)
		}
	}
}

func TestCanAccessDirect(t *testing.T) {
	o, s := fixture(t)
	ctx := context.Background()
	conv := &model.Conversation{ID: "dm1", Kind: model.KindDirect, WorkspaceID: "w1", UserLow: "alice", UserHigh: "bob"}
	if err := s.CreateDirectConversation(ctx, conv); err != nil {
		t.Fatalf("CreateDirectConversation: %v", err)
	}
	for user, want := range map[model.UserID]bool{"alice": true, "bob": true, "wendy": false} {
		got, err := o.CanAccess(ctx, user, model.DirectTarget("dm1"))
		if err != nil || got != want {
			t.Fatalf("CanAccess(%s) = %v, %v; want %v", user, got, err, want)
		}
	}
	if ok, err := o.CanAccess(ctx, "alice", model.DirectTarget("nope")); err != nil || ok {
		t.Fatalf("missing dm = %v, %v", ok, err)
	}
}

func TestAuthorizeAndModerate(t *testing.T) {
	o, s := fixture(t)
	ctx := context.Background()

	if err := o.Authorize(ctx, "alice", model.ChannelTarget("private")); !errs.IsForbidden(err) {
		t.Fatalf("Authorize err = %v, want Forbidden", err)
	}
	for user, want := range map[model.UserID]bool{"alice": false, "bob": true, "wendy": true} {
		got, err := o.CanModerate(ctx, user, model.ChannelTarget("general"))
		if err != nil || got != want {
			t.Fatalf("CanModerate(%s) = %v, %v; want %v", user, got, err, want)
		}
	}
	if ok, _ := o.CanModerate(ctx, "wendy", model.DirectTarget("x")); ok {
		t.Fatal("nobody moderates a direct conversation")
	}

	s.FailOn("ChannelRoleOf", errs.ErrUnavailable.WrapMsg("down"))
	if _, err := o.CanAccess(ctx, "alice", model.ChannelTarget("general")); !errs.IsUnavailable(err) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestLookupUsers(t *testing.T) {
	o, _ := fixture(t)
	ctx := context.Background()
	got, err := o.LookupUsers(ctx, []model.UserID{"alice", "ghost", "alice"})
	if err != nil {
		t.Fatalf("LookupUsers: %v", err)
	}
	if got["alice"].DisplayName != "Alice" || got["ghost"].DisplayName != "ghost" || len(got) != 2 {
		t.Fatalf("LookupUsers = %+v", got)
	}
	if _, err := o.LookupUser(ctx, "ghost"); !errs.IsNotFound(err) {
		t.Fatalf("LookupUser err = %v, want NotFound", err)
	}
	if ok, _ := o.IsWorkspaceMember(ctx, "bob", "w1"); !ok {
		t.Fatal("bob is a workspace member")
	}
}
