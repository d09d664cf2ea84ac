// Package memstore is an in-process ConversationStore and MembershipStore.
// It backs the `memory` store driver and the package tests; uniqueness rules
// mirror the relational schema.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

type directKey struct {
	workspace model.WorkspaceID
	low, high model.UserID
}

type partKey struct {
	conv model.ConversationID
	user model.UserID
}

type Store struct {
	mu sync.Mutex

	// membership
	users          map[model.UserID]model.User
	workspaceRoles map[model.WorkspaceID]map[model.UserID]model.WorkspaceRole
	channels       map[model.ChannelID]model.WorkspaceID
	channelRoles   map[model.ChannelID]map[model.UserID]model.ChannelRole

	// conversations
	conversations map[model.ConversationID]*model.Conversation
	channelConv   map[model.ChannelID]model.ConversationID
	directConv    map[directKey]model.ConversationID
	participants  map[partKey]*model.Participant
	messages      map[model.MessageID]*model.Message
	byConv        map[model.ConversationID][]model.MessageID
	reactables    map[model.ReactableID]model.Reactable
	mentions      map[model.MessageID][]model.UserID
	reactions     map[model.ReactableID][]model.Reaction
	attachments   map[model.ReactableID][]model.Attachment

	faults map[string]fault
	calls  map[string]int
}

type fault struct {
	err  error
	once bool
}

var (
	_ store.ConversationStore = (*Store)(nil)
	_ store.MembershipStore   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:          make(map[model.UserID]model.User),
		workspaceRoles: make(map[model.WorkspaceID]map[model.UserID]model.WorkspaceRole),
		channels:       make(map[model.ChannelID]model.WorkspaceID),
		channelRoles:   make(map[model.ChannelID]map[model.UserID]model.ChannelRole),
		conversations:  make(map[model.ConversationID]*model.Conversation),
		channelConv:    make(map[model.ChannelID]model.ConversationID),
		directConv:     make(map[directKey]model.ConversationID),
		participants:   make(map[partKey]*model.Participant),
		messages:       make(map[model.MessageID]*model.Message),
		byConv:         make(map[model.ConversationID][]model.MessageID),
		reactables:     make(map[model.ReactableID]model.Reactable),
		mentions:       make(map[model.MessageID][]model.UserID),
		reactions:      make(map[model.ReactableID][]model.Reaction),
		attachments:    make(map[model.ReactableID][]model.Attachment),
		faults:         make(map[string]fault),
		calls:          make(map[string]int),
	}
}

// ===== seed =====

func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutWorkspaceMember(ws model.WorkspaceID, user model.UserID, role model.WorkspaceRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.workspaceRoles[ws]
	if !ok {
		m = make(map[model.UserID]model.WorkspaceRole)
		s.workspaceRoles[ws] = m
	}
	m[user] = role
}

func (s *Store) PutChannel(ch model.ChannelID, ws model.WorkspaceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = ws
}

// PutChannelMember ChannelRoleNone 表示移出频道
func (s *Store) PutChannelMember(ch model.ChannelID, user model.UserID, role model.ChannelRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.channelRoles[ch]
	if !ok {
		m = make(map[model.UserID]model.ChannelRole)
		s.channelRoles[ch] = m
	}
	if role == model.ChannelRoleNone {
		delete(m, user)
		return
	}
	m[user] = role
}

// ===== fault injection =====

// FailOn makes every call of op return err until ClearFaults.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{err: err}
}

// FailOnce makes the next call of op return err.
func (s *Store) FailOnce(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{err: err, once: true}
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]fault)
}

// Calls 某个方法被调用的次数
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

type Stats struct {
	Conversations int
	Participants  int
	Messages      int
	Reactables    int
	Mentions      int
	Reactions     int
	Attachments   int
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Conversations: len(s.conversations),
		Participants:  len(s.participants),
		Messages:      len(s.messages),
		Reactables:    len(s.reactables),
	}
	for _, ms := range s.mentions {
		st.Mentions += len(ms)
	}
	for _, rs := range s.reactions {
		st.Reactions += len(rs)
	}
	for _, as := range s.attachments {
		st.Attachments += len(as)
	}
	return st
}

// enter 调用方需持有 s.mu
func (s *Store) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return errs.ErrUnavailable.WrapMsg("store call aborted", "op", op, "err", err.Error())
	}
	if f, ok := s.faults[op]; ok {
		if f.once {
			delete(s.faults, op)
		}
		return f.err
	}
	return nil
}

// ===== MembershipStore =====

func (s *Store) IsChannelMember(ctx context.Context, user model.UserID, channel model.ChannelID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "IsChannelMember"); err != nil {
		return false, err
	}
	role := s.channelRoles[channel][user]
	return role != model.ChannelRoleNone, nil
}

func (s *Store) ChannelRoleOf(ctx context.Context, user model.UserID, channel model.ChannelID) (model.ChannelRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ChannelRoleOf"); err != nil {
		return model.ChannelRoleNone, err
	}
	return s.channelRoles[channel][user], nil
}

func (s *Store) ChannelWorkspace(ctx context.Context, channel model.ChannelID) (model.WorkspaceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ChannelWorkspace"); err != nil {
		return "", err
	}
	ws, ok := s.channels[channel]
	if !ok {
		return "", errs.ErrNotFound.WrapMsg("channel not found", "channel", channel)
	}
	return ws, nil
}

func (s *Store) WorkspaceRoleOf(ctx context.Context, user model.UserID, workspace model.WorkspaceID) (model.WorkspaceRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "WorkspaceRoleOf"); err != nil {
		return model.WorkspaceRoleNone, err
	}
	return s.workspaceRoles[workspace][user], nil
}

func (s *Store) DirectParticipants(ctx context.Context, conv model.ConversationID) (model.UserID, model.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "DirectParticipants"); err != nil {
		return "", "", err
	}
	c, ok := s.conversations[conv]
	if !ok || c.Kind != model.KindDirect {
		return "", "", errs.ErrNotFound.WrapMsg("direct conversation not found", "conversation", conv)
	}
	return c.UserLow, c.UserHigh, nil
}

func (s *Store) LookupUsers(ctx context.Context, users []model.UserID) (map[model.UserID]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "LookupUsers"); err != nil {
		return nil, err
	}
	out := make(map[model.UserID]model.User, len(users))
	for _, id := range users {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// ===== conversations =====

func (s *Store) FindChannelConversation(ctx context.Context, channel model.ChannelID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "FindChannelConversation"); err != nil {
		return nil, err
	}
	id, ok := s.channelConv[channel]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("channel conversation not found", "channel", channel)
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) CreateChannelConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CreateChannelConversation"); err != nil {
		return err
	}
	if _, ok := s.channelConv[conv.ChannelID]; ok {
		return errs.ErrConflict.WrapMsg("channel conversation exists", "channel", conv.ChannelID)
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return errs.ErrConflict.WrapMsg("conversation id exists", "id", conv.ID)
	}
	c := *conv
	s.conversations[c.ID] = &c
	s.channelConv[c.ChannelID] = c.ID
	return nil
}

func (s *Store) FindDirectConversation(ctx context.Context, workspace model.WorkspaceID, low, high model.UserID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "FindDirectConversation"); err != nil {
		return nil, err
	}
	id, ok := s.directConv[directKey{workspace, low, high}]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("direct conversation not found")
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) CreateDirectConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CreateDirectConversation"); err != nil {
		return err
	}
	key := directKey{conv.WorkspaceID, conv.UserLow, conv.UserHigh}
	if _, ok := s.directConv[key]; ok {
		return errs.ErrConflict.WrapMsg("direct conversation exists")
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return errs.ErrConflict.WrapMsg("conversation id exists", "id", conv.ID)
	}
	c := *conv
	s.conversations[c.ID] = &c
	s.directConv[key] = c.ID
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetConversation"); err != nil {
		return nil, err
	}
	c, ok := s.conversations[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "id", id)
	}
	cp := *c
	return &cp, nil
}

// ===== participants =====

func (s *Store) EnsureParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "EnsureParticipant"); err != nil {
		return err
	}
	if _, ok := s.conversations[conv]; !ok {
		return errs.ErrNotFound.WrapMsg("conversation not found", "id", conv)
	}
	key := partKey{conv, user}
	if _, ok := s.participants[key]; !ok {
		s.participants[key] = &model.Participant{ConversationID: conv, UserID: user, JoinedAt: at}
	}
	return nil
}

func (s *Store) TouchParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "TouchParticipant"); err != nil {
		return time.Time{}, err
	}
	if _, ok := s.conversations[conv]; !ok {
		return time.Time{}, errs.ErrNotFound.WrapMsg("conversation not found", "id", conv)
	}
	return s.touchLocked(conv, user, at), nil
}

func (s *Store) touchLocked(conv model.ConversationID, user model.UserID, at time.Time) time.Time {
	key := partKey{conv, user}
	p, ok := s.participants[key]
	if !ok {
		p = &model.Participant{ConversationID: conv, UserID: user, JoinedAt: at}
		s.participants[key] = p
	}
	if at.After(p.LastReadAt) {
		p.LastReadAt = at
	}
	return p.LastReadAt
}

func (s *Store) GetParticipant(ctx context.Context, conv model.ConversationID, user model.UserID) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetParticipant"); err != nil {
		return nil, err
	}
	p, ok := s.participants[partKey{conv, user}]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("participant not found", "conversation", conv, "user", user)
	}
	cp := *p
	return &cp, nil
}

// ===== messages =====

func copyMessage(m *model.Message) *model.Message {
	cp := *m
	if m.Content != nil {
		c := *m.Content
		cp.Content = &c
	}
	if m.DeletedAt != nil {
		d := *m.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}

func (s *Store) GetMessage(ctx context.Context, id model.MessageID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetMessage"); err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	return copyMessage(m), nil
}

func (s *Store) GetMessages(ctx context.Context, ids []model.MessageID) (map[model.MessageID]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "GetMessages"); err != nil {
		return nil, err
	}
	out := make(map[model.MessageID]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out[id] = copyMessage(m)
		}
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, nm *store.NewMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CreateMessage"); err != nil {
		return err
	}
	msg := nm.Message
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return errs.ErrNotFound.WrapMsg("conversation not found", "id", msg.ConversationID)
	}
	if _, ok := s.messages[msg.ID]; ok {
		return errs.ErrConflict.WrapMsg("message id exists", "id", msg.ID)
	}
	if _, ok := s.reactables[nm.Reactable.ID]; ok {
		return errs.ErrConflict.WrapMsg("reactable id exists", "id", nm.Reactable.ID)
	}
	if msg.ReplyToID != "" {
		if _, ok := s.messages[msg.ReplyToID]; !ok {
			return errs.ErrBadRequest.WrapMsg("reply target not found", "id", msg.ReplyToID)
		}
	}

	s.reactables[nm.Reactable.ID] = nm.Reactable
	s.messages[msg.ID] = copyMessage(&msg)
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	seen := make(map[model.UserID]struct{}, len(nm.Mentions))
	for _, mn := range nm.Mentions {
		if _, dup := seen[mn.UserID]; dup {
			continue
		}
		seen[mn.UserID] = struct{}{}
		s.mentions[msg.ID] = append(s.mentions[msg.ID], mn.UserID)
	}
	if len(nm.Attachments) > 0 {
		s.attachments[nm.Reactable.ID] = append([]model.Attachment(nil), nm.Attachments...)
	}
	s.touchLocked(msg.ConversationID, msg.SenderID, msg.CreatedAt)
	return nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id model.MessageID, by model.UserID, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "SoftDeleteMessage"); err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if m.IsDeleted {
		return nil, errs.ErrBadRequest.WrapMsg("already deleted", "id", id)
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.DeletedBy = by
	m.Content = nil
	m.UpdatedAt = at
	return copyMessage(m), nil
}

func (s *Store) ListMessages(ctx context.Context, q store.MessageQuery) ([]*model.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ListMessages"); err != nil {
		return nil, 0, err
	}
	ids := s.byConv[q.ConversationID]
	all := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.messages[id])
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	total := len(all)

	filtered := all[:0:0]
	for _, m := range all {
		c := store.CursorOf(m)
		if q.Before != nil && !cursorLess(c, *q.Before) {
			continue
		}
		if q.After != nil && !cursorLess(*q.After, c) {
			continue
		}
		filtered = append(filtered, m)
	}
	if q.Desc {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	if q.Before == nil && q.After == nil && q.Offset > 0 {
		if q.Offset >= len(filtered) {
			filtered = nil
		} else {
			filtered = filtered[q.Offset:]
		}
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	out := make([]*model.Message, 0, len(filtered))
	for _, m := range filtered {
		out = append(out, copyMessage(m))
	}
	return out, total, nil
}

func cursorLess(a, b store.Cursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) ListMessageDetails(ctx context.Context, msgs []*model.Message) (*store.MessageDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ListMessageDetails"); err != nil {
		return nil, err
	}
	d := &store.MessageDetails{
		Mentions:    make(map[model.MessageID][]model.UserID),
		Reactions:   make(map[model.ReactableID][]model.Reaction),
		Attachments: make(map[model.ReactableID][]model.Attachment),
	}
	for _, m := range msgs {
		if ms := s.mentions[m.ID]; len(ms) > 0 {
			d.Mentions[m.ID] = append([]model.UserID(nil), ms...)
		}
		if rs := s.reactions[m.ReactableID]; len(rs) > 0 {
			d.Reactions[m.ReactableID] = append([]model.Reaction(nil), rs...)
		}
		if as := s.attachments[m.ReactableID]; len(as) > 0 {
			d.Attachments[m.ReactableID] = append([]model.Attachment(nil), as...)
		}
	}
	return d, nil
}

func (s *Store) CountMessagesAfter(ctx context.Context, conv model.ConversationID, after time.Time, exclude model.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "CountMessagesAfter"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range s.byConv[conv] {
		m := s.messages[id]
		if m.IsDeleted || m.SenderID == exclude {
			continue
		}
		if m.CreatedAt.After(after) {
			n++
		}
	}
	return n, nil
}

// ===== reactions =====

func (s *Store) ToggleReaction(ctx context.Context, r *model.Reaction) (model.ReactionAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ToggleReaction"); err != nil {
		return "", err
	}
	if _, ok := s.reactables[r.ReactableID]; !ok {
		return "", errs.ErrNotFound.WrapMsg("reactable not found", "id", r.ReactableID)
	}
	rs := s.reactions[r.ReactableID]
	for i, ex := range rs {
		if ex.UserID == r.UserID && ex.Emoji == r.Emoji {
			s.reactions[r.ReactableID] = append(rs[:i:i], rs[i+1:]...)
			return model.ReactionRemoved, nil
		}
	}
	s.reactions[r.ReactableID] = append(rs, *r)
	return model.ReactionAdded, nil
}

func (s *Store) ListReactions(ctx context.Context, reactable model.ReactableID) ([]model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "ListReactions"); err != nil {
		return nil, err
	}
	return append([]model.Reaction(nil), s.reactions[reactable]...), nil
}
