package message

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store/memstore"
	"PChatCore/tools/errs"
	"PChatCore/tools/ids"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	svc      *Service
	mem      *memstore.Store
	resolver *conversation.Resolver
	clock    *stepClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := memstore.New()
	mem.PutChannel("c1", "w1")
	mem.PutChannel("c2", "w1")
	for _, u := range []model.UserID{"alice", "bob", "carol", "admin"} {
		mem.PutUser(model.User{ID: u, DisplayName: strings.ToUpper(string(u))})
	}
	mem.PutWorkspaceMember("w1", "alice", model.WorkspaceRoleMember)
	mem.PutWorkspaceMember("w1", "bob", model.WorkspaceRoleMember)
	mem.PutWorkspaceMember("w1", "carol", model.WorkspaceRoleMember)
	mem.PutWorkspaceMember("w1", "admin", model.WorkspaceRoleAdmin)
	mem.PutChannelMember("c1", "alice", model.ChannelRoleMember)
	mem.PutChannelMember("c1", "bob", model.ChannelRoleMember)
	mem.PutChannelMember("c2", "alice", model.ChannelRoleMember)

	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	oracle := access.NewOracle(mem)
	gen := ids.NewGenerator(1)
	resolver := conversation.NewResolver(mem, oracle, gen)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:      NewService(mem, oracle, resolver, gen, opts...),
		mem:      mem,
		resolver: resolver,
		clock:    clock,
	}
}

var c1 = model.ChannelTarget("c1")

func (f *fixture) send(t *testing.T, sender model.UserID, target model.Target, content string) *model.MessageView {
	t.Helper()
	v, err := f.svc.SendMessage(context.Background(), sender, target, model.Draft{Content: content})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return v
}

func TestSendMessageHydrates(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{
		Content:          "  hello @bob  ",
		MentionedUserIDs: []model.UserID{"bob", "bob"},
		AttachmentRefs:   []string{"file-1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if v.Content == nil || *v.Content != "hello @bob" {
		t.Fatalf("content = %v", v.Content)
	}
	if v.Sender.DisplayName != "ALICE" {
		t.Fatalf("sender = %+v", v.Sender)
	}
	if len(v.Mentions) != 1 || v.Mentions[0].ID != "bob" {
		t.Fatalf("mentions = %+v", v.Mentions)
	}
	if len(v.Attachments) != 1 || v.Attachments[0].FileRef != "file-1" {
		t.Fatalf("attachments = %+v", v.Attachments)
	}
	if v.RoomID != "channel:c1" {
		t.Fatalf("room = %s", v.RoomID)
	}
	if v.Reactions == nil || len(v.Reactions) != 0 {
		t.Fatalf("reactions = %#v", v.Reactions)
	}
}

func TestSendMessageForbiddenWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), "carol", c1, model.Draft{Content: "hi"})
	if !errs.IsForbidden(err) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
	if st := f.mem.Stats(); st.Messages != 0 || st.Conversations != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestWorkspaceAdminCanSendWithoutMembership(t *testing.T) {
	f := newFixture(t)
	f.send(t, "admin", c1, "announcement")
}

func TestSendMessageDraftValidation(t *testing.T) {
	f := newFixture(t, WithLimits(Limits{
		MaxContentRunes: 5, MaxMentions: 1, MaxAttachments: 1,
		HistoryDefaultLimit: 10, HistoryMaxLimit: 10,
	}))
	tests := []struct {
		name  string
		draft model.Draft
	}{
		{name: "empty", draft: model.Draft{Content: "   "}},
		{name: "too long", draft: model.Draft{Content: "你好世界你好"}},
		{name: "too many mentions", draft: model.Draft{Content: "x", MentionedUserIDs: []model.UserID{"alice", "bob"}}},
		{name: "too many attachments", draft: model.Draft{AttachmentRefs: []string{"a", "b"}}},
		{name: "blank attachment", draft: model.Draft{AttachmentRefs: []string{" "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), "alice", c1, tt.draft)
			if !errs.IsBadRequest(err) {
				t.Fatalf("err = %v, want BadRequest", err)
			}
		})
	}
	if st := f.mem.Stats(); st.Messages != 0 {
		t.Fatalf("messages = %d, want 0", st.Messages)
	}

	// attachment-only is fine, and exactly the rune limit is fine
	if _, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{AttachmentRefs: []string{"a"}}); err != nil {
		t.Fatalf("attachment only: %v", err)
	}
	f.send(t, "alice", c1, "你好世界你")
}

func TestReplyAcrossConversationsRejected(t *testing.T) {
	f := newFixture(t)
	other := f.send(t, "alice", model.ChannelTarget("c2"), "elsewhere")
	before := f.mem.Stats().Messages

	_, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{Content: "re", ReplyToID: other.ID})
	if !errs.IsBadRequest(err) {
		t.Fatalf("err = %v, want BadRequest", err)
	}
	if got := f.mem.Stats().Messages; got != before {
		t.Fatalf("messages = %d, want %d", got, before)
	}

	_, err = f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{Content: "re", ReplyToID: "nope"})
	if !errs.IsBadRequest(err) {
		t.Fatalf("missing parent err = %v, want BadRequest", err)
	}
}

func TestReplySummary(t *testing.T) {
	f := newFixture(t)
	parent := f.send(t, "bob", c1, "question")
	v, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{Content: "answer", ReplyToID: parent.ID})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if v.ReplyTo == nil || v.ReplyTo.ID != parent.ID || *v.ReplyTo.Content != "question" || v.ReplyTo.Sender.ID != "bob" {
		t.Fatalf("replyTo = %+v", v.ReplyTo)
	}
}

func TestInvalidMentionRejectsWholeMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{
		Content:          "hey",
		MentionedUserIDs: []model.UserID{"bob", "carol", "dave"},
	})
	if !errs.IsBadRequest(err) {
		t.Fatalf("err = %v, want BadRequest", err)
	}
	for _, u := range []string{"carol", "dave"} {
		if !strings.Contains(err.Error(), u) {
			t.Fatalf("error %q does not name %s", err.Error(), u)
		}
	}
	if st := f.mem.Stats(); st.Messages != 0 || st.Mentions != 0 || st.Reactables != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDirectMessageMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm, err := f.resolver.ResolveDirectConversation(ctx, "w1", "alice", "bob", "alice")
	if err != nil {
		t.Fatalf("resolve dm: %v", err)
	}
	target := model.DirectTarget(dm.ID)
	v, err := f.svc.SendMessage(ctx, "alice", target, model.Draft{Content: "x", MentionedUserIDs: []model.UserID{"bob"}})
	if err != nil {
		t.Fatalf("mention peer: %v", err)
	}
	if v.DirectPeer != "bob" {
		t.Fatalf("direct peer = %q", v.DirectPeer)
	}
	if _, err := f.svc.SendMessage(ctx, "alice", target, model.Draft{Content: "x", MentionedUserIDs: []model.UserID{"carol"}}); !errs.IsBadRequest(err) {
		t.Fatalf("mention outsider err = %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, "carol", target, model.Draft{Content: "x"}); !errs.IsForbidden(err) {
		t.Fatalf("outsider send err = %v", err)
	}
}

func TestStoreFailureLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOnce("CreateMessage", errs.ErrUnavailable.WrapMsg("db down"))
	_, err := f.svc.SendMessage(context.Background(), "alice", c1, model.Draft{Content: "x"})
	if !errs.IsUnavailable(err) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
	if st := f.mem.Stats(); st.Messages != 0 || st.Reactables != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPaginationOffsetAndCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent := make([]*model.MessageView, 0, 50)
	for i := 1; i <= 50; i++ {
		sent = append(sent, f.send(t, "alice", c1, fmt.Sprintf("m%d", i)))
	}

	p1, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{Page: 1, Limit: 20})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if p1.Total != 50 || !p1.HasMore || len(p1.Messages) != 20 {
		t.Fatalf("page 1 = total %d hasMore %v len %d", p1.Total, p1.HasMore, len(p1.Messages))
	}
	if *p1.Messages[0].Content != "m1" || *p1.Messages[19].Content != "m20" {
		t.Fatalf("page 1 range %s..%s", *p1.Messages[0].Content, *p1.Messages[19].Content)
	}
	p3, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{Page: 3, Limit: 20})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if p3.HasMore || len(p3.Messages) != 10 || *p3.Messages[0].Content != "m41" {
		t.Fatalf("page 3 = hasMore %v len %d", p3.HasMore, len(p3.Messages))
	}

	before, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{BeforeID: sent[30].ID, Limit: 20})
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if len(before.Messages) != 20 || !before.HasMore {
		t.Fatalf("before = len %d hasMore %v", len(before.Messages), before.HasMore)
	}
	if *before.Messages[0].Content != "m11" || *before.Messages[19].Content != "m30" {
		t.Fatalf("before range %s..%s", *before.Messages[0].Content, *before.Messages[19].Content)
	}

	after, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{AfterID: sent[39].ID, Limit: 20})
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after.Messages) != 10 || after.HasMore || *after.Messages[0].Content != "m41" {
		t.Fatalf("after = len %d hasMore %v", len(after.Messages), after.HasMore)
	}

	// limit is capped
	capped, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{Limit: 1000})
	if err != nil {
		t.Fatalf("capped: %v", err)
	}
	if capped.Limit != DefaultLimits().HistoryMaxLimit {
		t.Fatalf("limit = %d", capped.Limit)
	}
}

func TestPaginationRejectsBadCursors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	here := f.send(t, "alice", c1, "here")
	there := f.send(t, "alice", model.ChannelTarget("c2"), "there")

	if _, err := f.svc.ListMessages(ctx, "alice", c1, model.HistoryQuery{BeforeID: here.ID, AfterID: here.ID}); !errs.IsBadRequest(err) {
		t.Fatalf("both cursors err = %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, "alice", c1, model.HistoryQuery{BeforeID: there.ID}); !errs.IsBadRequest(err) {
		t.Fatalf("foreign cursor err = %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, "carol", c1, model.HistoryQuery{}); !errs.IsForbidden(err) {
		t.Fatalf("outsider err = %v", err)
	}
}

func TestDeletedContentHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.send(t, "bob", c1, "secret")
	reply, err := f.svc.SendMessage(ctx, "alice", c1, model.Draft{Content: "re", ReplyToID: parent.ID})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if _, err := f.svc.DeleteMessage(ctx, "alice", c1, parent.ID); !errs.IsForbidden(err) {
		t.Fatalf("non-author delete err = %v, want Forbidden", err)
	}
	deleted, err := f.svc.DeleteMessage(ctx, "bob", c1, parent.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.DeletedBy != "bob" || deleted.Content != nil {
		t.Fatalf("deleted = %+v", deleted)
	}
	if _, err := f.svc.DeleteMessage(ctx, "bob", c1, parent.ID); !errs.IsBadRequest(err) {
		t.Fatalf("second delete err = %v, want BadRequest", err)
	}

	page, err := f.svc.ListMessages(ctx, "alice", c1, model.HistoryQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("len = %d", len(page.Messages))
	}
	if page.Messages[0].Content != nil || !page.Messages[0].IsDeleted {
		t.Fatalf("deleted message leaked: %+v", page.Messages[0])
	}
	rs := page.Messages[1].ReplyTo
	if rs == nil || rs.ID != reply.ReplyTo.ID || rs.Content != nil || !rs.IsDeleted {
		t.Fatalf("reply summary = %+v", rs)
	}
}

func TestModeratorCanDelete(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", c1, "spam")
	if _, err := f.svc.DeleteMessage(context.Background(), "admin", c1, m.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.svc.DeleteMessage(context.Background(), "alice", model.ChannelTarget("c2"), m.ID); !errs.IsNotFound(err) {
		t.Fatalf("wrong room err = %v, want NotFound", err)
	}
	// 无权的成员只能看到 Forbidden，不知道消息已删
	if _, err := f.svc.DeleteMessage(context.Background(), "bob", c1, m.ID); !errs.IsForbidden(err) {
		t.Fatalf("member delete of deleted message err = %v, want Forbidden", err)
	}
	if _, err := f.svc.DeleteMessage(context.Background(), "alice", c1, m.ID); !errs.IsBadRequest(err) {
		t.Fatalf("sender double delete err = %v, want BadRequest", err)
	}
}

func TestListMessagesAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, "alice", c1, "x")
	if _, err := f.svc.ListMessages(ctx, "bob", c1, model.HistoryQuery{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	p, err := f.mem.GetParticipant(ctx, m.ConversationID, "bob")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if !p.LastReadAt.After(m.CreatedAt) {
		t.Fatalf("lastReadAt %v not after %v", p.LastReadAt, m.CreatedAt)
	}
}

type mapDeduper struct {
	mu   sync.Mutex
	keys map[string]string
}

func (d *mapDeduper) Reserve(_ context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.keys[key]
	if !ok {
		d.keys[key] = ""
		return "", nil
	}
	if v == "" {
		return "", errs.ErrConflict.WrapMsg("send in flight")
	}
	return v, nil
}

func (d *mapDeduper) Commit(_ context.Context, key, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = id
	return nil
}

func (d *mapDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

func TestClientMessageIDReplay(t *testing.T) {
	dd := &mapDeduper{keys: map[string]string{}}
	f := newFixture(t, WithDeduper(dd))
	ctx := context.Background()
	draft := model.Draft{Content: "once", ClientMessageID: "cm-1"}

	first, err := f.svc.SendMessage(ctx, "alice", c1, draft)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Replayed {
		t.Fatal("first send marked replayed")
	}
	second, err := f.svc.SendMessage(ctx, "alice", c1, draft)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.ID != first.ID {
		t.Fatalf("second = %s replayed %v, want %s", second.ID, second.Replayed, first.ID)
	}
	if st := f.mem.Stats(); st.Messages != 1 {
		t.Fatalf("messages = %d", st.Messages)
	}

	// failed write releases the key
	f.mem.FailOnce("CreateMessage", errs.ErrUnavailable.WrapMsg("db down"))
	retry := model.Draft{Content: "retry", ClientMessageID: "cm-2"}
	if _, err := f.svc.SendMessage(ctx, "alice", c1, retry); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := f.svc.SendMessage(ctx, "alice", c1, retry); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}
