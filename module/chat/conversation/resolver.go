// Package conversation maps a channel or a user pair onto its durable
// conversation, creating it exactly once.
package conversation

import (
	"context"
	"time"

	"PChatCore/module/chat/access"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

// IDGenerator 雪花ID
type IDGenerator interface {
	NextString() string
}

type Resolver struct {
	store  store.ConversationStore
	oracle *access.Oracle
	ids    IDGenerator
	now    func() time.Time
}

func NewResolver(st store.ConversationStore, oracle *access.Oracle, gen IDGenerator) *Resolver {
	return &Resolver{store: st, oracle: oracle, ids: gen, now: model.Now}
}

// ResolveChannelConversation 找到或创建频道会话，并确保 requester 的参与者行存在
func (r *Resolver) ResolveChannelConversation(ctx context.Context, channel model.ChannelID, requester model.UserID) (*model.Conversation, error) {
	conv, err := createIfAbsent(
		func() (*model.Conversation, error) { return r.store.FindChannelConversation(ctx, channel) },
		func() (*model.Conversation, error) {
			ws, err := r.oracle.ChannelWorkspace(ctx, channel)
			if err != nil {
				return nil, err
			}
			c := &model.Conversation{
				ID:          model.ConversationID(r.ids.NextString()),
				Kind:        model.KindChannel,
				ChannelID:   channel,
				WorkspaceID: ws,
				CreatedAt:   r.now(),
			}
			return c, r.store.CreateChannelConversation(ctx, c)
		},
	)
	if err != nil {
		return nil, err
	}
	if err := r.touch(ctx, conv, requester); err != nil {
		return nil, err
	}
	return conv, nil
}

// ResolveDirectConversation 私聊按排序后的 (low, high) 唯一，与发起方向无关
func (r *Resolver) ResolveDirectConversation(ctx context.Context, ws model.WorkspaceID, a, b, requester model.UserID) (*model.Conversation, error) {
	if a == "" || b == "" {
		return nil, errs.ErrBadRequest.WrapMsg("direct conversation needs two users")
	}
	if a == b {
		return nil, errs.ErrBadRequest.WrapMsg("cannot open a direct conversation with yourself")
	}
	if requester != a && requester != b {
		return nil, errs.ErrForbidden.WrapMsg("requester is not part of the pair")
	}
	peer := a
	if requester == a {
		peer = b
	}
	ok, err := r.oracle.IsWorkspaceMember(ctx, requester, ws)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrForbidden.WrapMsg("not a workspace member", "workspace", ws)
	}
	ok, err = r.oracle.IsWorkspaceMember(ctx, peer, ws)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrBadRequest.WrapMsg("peer is not a workspace member", "user", peer)
	}

	low, high := model.CanonicalPair(a, b)
	conv, err := createIfAbsent(
		func() (*model.Conversation, error) { return r.store.FindDirectConversation(ctx, ws, low, high) },
		func() (*model.Conversation, error) {
			c := &model.Conversation{
				ID:          model.ConversationID(r.ids.NextString()),
				Kind:        model.KindDirect,
				WorkspaceID: ws,
				UserLow:     low,
				UserHigh:    high,
				CreatedAt:   r.now(),
			}
			return c, r.store.CreateDirectConversation(ctx, c)
		},
	)
	if err != nil {
		return nil, err
	}
	if err := r.touch(ctx, conv, requester); err != nil {
		return nil, err
	}
	return conv, nil
}

// ResolveTarget 频道按需创建；私聊必须已存在
func (r *Resolver) ResolveTarget(ctx context.Context, target model.Target, requester model.UserID) (*model.Conversation, error) {
	if target.Kind == model.KindChannel {
		return r.ResolveChannelConversation(ctx, target.ChannelID, requester)
	}
	conv, err := r.FindTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := r.touch(ctx, conv, requester); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindTarget 只读，不存在返回 NotFound
func (r *Resolver) FindTarget(ctx context.Context, target model.Target) (*model.Conversation, error) {
	switch target.Kind {
	case model.KindChannel:
		return r.store.FindChannelConversation(ctx, target.ChannelID)
	case model.KindDirect:
		conv, err := r.store.GetConversation(ctx, target.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Kind != model.KindDirect {
			return nil, errs.ErrNotFound.WrapMsg("direct conversation not found", "id", target.ConversationID)
		}
		return conv, nil
	}
	return nil, errs.ErrBadRequest.WrapMsg("unknown conversation kind", "kind", target.Kind)
}

func (r *Resolver) touch(ctx context.Context, conv *model.Conversation, user model.UserID) error {
	if user == "" {
		return nil
	}
	return r.store.EnsureParticipant(ctx, conv.ID, user, r.now())
}

// createIfAbsent 先查，没有再建；建时撞唯一约束就重读一次拿赢家，仍失败则 Unavailable
func createIfAbsent(find, create func() (*model.Conversation, error)) (*model.Conversation, error) {
	conv, err := find()
	if err == nil {
		return conv, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}
	conv, err = create()
	if err == nil {
		return conv, nil
	}
	if !errs.IsConflict(err) {
		return nil, err
	}
	conv, err = find()
	if err != nil {
		return nil, errs.ErrUnavailable.WrapMsg("conversation create race unresolved", "err", err.Error())
	}
	return conv, nil
}
