package conversation

import (
	"context"
	"sync"
	"testing"

	"PChatCore/module/chat/access"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store/memstore"
	"PChatCore/tools/errs"
	"PChatCore/tools/ids"
)

func newResolver(t *testing.T) (*Resolver, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.PutChannel("c1", "w1")
	s.PutWorkspaceMember("w1", "alice", model.WorkspaceRoleMember)
	s.PutWorkspaceMember("w1", "bob", model.WorkspaceRoleMember)
	s.PutChannelMember("c1", "alice", model.ChannelRoleMember)
	return NewResolver(s, access.NewOracle(s), ids.NewGenerator(3)), s
}

func TestConcurrentChannelResolutionCreatesOneConversation(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	const n = 16
	got := make([]model.ConversationID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := r.ResolveChannelConversation(ctx, "c1", "alice")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			got[i] = conv.ID
		}(i)
	}
	wg.Wait()

	if st := s.Stats(); st.Conversations != 1 {
		t.Fatalf("Conversations = %d, want 1", st.Conversations)
	}
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("resolver %d returned %s, want %s", i, got[i], got[0])
		}
	}
	if _, err := s.GetParticipant(ctx, got[0], "alice"); err != nil {
		t.Fatalf("participant row missing: %v", err)
	}
}

// racingStore lets a competitor win between the find and the create.
type racingStore struct {
	*memstore.Store
	once sync.Once
}

func (rs *racingStore) CreateChannelConversation(ctx context.Context, conv *model.Conversation) error {
	rs.once.Do(func() {
		winner := *conv
		winner.ID = "winner"
		_ = rs.Store.CreateChannelConversation(ctx, &winner)
	})
	return rs.Store.CreateChannelConversation(ctx, conv)
}

func TestConflictRereadsWinner(t *testing.T) {
	mem := memstore.New()
	mem.PutChannel("c1", "w1")
	rs := &racingStore{Store: mem}
	r := NewResolver(rs, access.NewOracle(mem), ids.NewGenerator(3))

	conv, err := r.ResolveChannelConversation(context.Background(), "c1", "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if conv.ID != "winner" {
		t.Fatalf("conversation = %s, want winner", conv.ID)
	}
}

func TestConflictWithFailedRereadIsUnavailable(t *testing.T) {
	mem := memstore.New()
	mem.PutChannel("c1", "w1")
	mem.FailOnce("CreateChannelConversation", errs.ErrConflict.WrapMsg("lost"))
	r := NewResolver(mem, access.NewOracle(mem), ids.NewGenerator(3))

	_, err := r.ResolveChannelConversation(context.Background(), "c1", "alice")
	if !errs.IsUnavailable(err) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestConcurrentDirectResolutionBothDirections(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		ab, ba *model.Conversation
		e1, e2 error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ab, e1 = r.ResolveDirectConversation(ctx, "w1", "alice", "bob", "alice")
	}()
	go func() {
		defer wg.Done()
		ba, e2 = r.ResolveDirectConversation(ctx, "w1", "bob", "alice", "bob")
	}()
	wg.Wait()
	if e1 != nil || e2 != nil {
		t.Fatalf("resolve errors: %v, %v", e1, e2)
	}
	if ab.ID != ba.ID {
		t.Fatalf("got two conversations %s and %s", ab.ID, ba.ID)
	}
	if ab.UserLow != "alice" || ab.UserHigh != "bob" {
		t.Fatalf("pair not canonical: %s/%s", ab.UserLow, ab.UserHigh)
	}
	if st := s.Stats(); st.Conversations != 1 || st.Participants != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDirectResolutionRejects(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	tests := []struct {
		name      string
		a, b, req model.UserID
		check     func(error) bool
	}{
		{name: "self", a: "alice", b: "alice", req: "alice", check: errs.IsBadRequest},
		{name: "requester outside pair", a: "alice", b: "bob", req: "carol", check: errs.IsForbidden},
		{name: "requester not in workspace", a: "mallory", b: "bob", req: "mallory", check: errs.IsForbidden},
		{name: "peer not in workspace", a: "alice", b: "mallory", req: "alice", check: errs.IsBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ResolveDirectConversation(ctx, "w1", tt.a, tt.b, tt.req)
			if !tt.check(err) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestResolveTarget(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.FindTarget(ctx, model.ChannelTarget("c1")); !errs.IsNotFound(err) {
		t.Fatalf("FindTarget before creation err = %v, want NotFound", err)
	}
	conv, err := r.ResolveTarget(ctx, model.ChannelTarget("c1"), "alice")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if _, err := r.FindTarget(ctx, model.ChannelTarget("c1")); err != nil {
		t.Fatalf("FindTarget: %v", err)
	}
	if _, err := r.ResolveTarget(ctx, model.DirectTarget(conv.ID), "alice"); !errs.IsNotFound(err) {
		t.Fatalf("channel conversation addressed as dm err = %v, want NotFound", err)
	}
	if _, err := r.ResolveTarget(ctx, model.DirectTarget("missing"), "alice"); !errs.IsNotFound(err) {
		t.Fatalf("missing dm err = %v, want NotFound", err)
	}
}
