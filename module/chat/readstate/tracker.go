// Package readstate keeps the per (conversation, user) read watermark.
// The watermark only moves forward.
package readstate

import (
	"context"
	"time"

	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

// Mark read:mark 的结果
type Mark struct {
	Room model.RoomID
	User model.UserID
	At   time.Time
}

type Tracker struct {
	store    store.ConversationStore
	oracle   *access.Oracle
	resolver *conversation.Resolver
	now      func() time.Time
}

func NewTracker(st store.ConversationStore, oracle *access.Oracle, resolver *conversation.Resolver) *Tracker {
	return &Tracker{store: st, oracle: oracle, resolver: resolver, now: model.Now}
}

// MarkRead 水位推进到 now；返回生效的水位（并发标记时可能比 now 更晚）
func (t *Tracker) MarkRead(ctx context.Context, user model.UserID, target model.Target) (*Mark, error) {
	if err := t.oracle.Authorize(ctx, user, target); err != nil {
		return nil, err
	}
	conv, err := t.resolver.ResolveTarget(ctx, target, user)
	if err != nil {
		return nil, err
	}
	at, err := t.store.TouchParticipant(ctx, conv.ID, user, t.now())
	if err != nil {
		return nil, err
	}
	return &Mark{Room: conv.Room(), User: user, At: at}, nil
}

// Watermark 未接触过会话时返回零值
func (t *Tracker) Watermark(ctx context.Context, user model.UserID, target model.Target) (time.Time, error) {
	if err := t.oracle.Authorize(ctx, user, target); err != nil {
		return time.Time{}, err
	}
	conv, err := t.resolver.FindTarget(ctx, target)
	if errs.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	p, err := t.store.GetParticipant(ctx, conv.ID, user)
	if errs.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return p.LastReadAt, nil
}

// UnreadCount 水位之后别人发的未删除消息数
func (t *Tracker) UnreadCount(ctx context.Context, user model.UserID, target model.Target) (int, error) {
	at, err := t.Watermark(ctx, user, target)
	if err != nil {
		return 0, err
	}
	conv, err := t.resolver.FindTarget(ctx, target)
	if errs.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return t.store.CountMessagesAfter(ctx, conv.ID, at, user)
}
