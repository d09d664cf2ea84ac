// Package reaction toggles emoji reactions on messages.
package reaction

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

const maxEmojiBytes = 64

// Result 一次切换的结果，Room 与 MessageID 用于广播
type Result struct {
	Action    model.ReactionAction
	Reaction  model.Reaction
	MessageID model.MessageID
	Room      model.RoomID
}

type Engine struct {
	store    store.ConversationStore
	oracle   *access.Oracle
	resolver *conversation.Resolver
	ids      conversation.IDGenerator
	log      *zap.Logger
}

func NewEngine(st store.ConversationStore, oracle *access.Oracle, resolver *conversation.Resolver, gen conversation.IDGenerator) *Engine {
	return &Engine{store: st, oracle: oracle, resolver: resolver, ids: gen, log: logger.Named("reaction")}
}

// ValidateEmoji 非空、不超过 64 字节、不含空白
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return errs.ErrBadRequest.WrapMsg("emoji is required")
	}
	if len(emoji) > maxEmojiBytes {
		return errs.ErrBadRequest.WrapMsg("emoji too long", "max", maxEmojiBytes)
	}
	if strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return errs.ErrBadRequest.WrapMsg("emoji contains whitespace")
	}
	return nil
}

// ToggleReaction 存在则删除，不存在则添加；同一 (消息, 用户, emoji) 并发切换由唯一约束裁决
func (e *Engine) ToggleReaction(ctx context.Context, user model.UserID, target model.Target, id model.MessageID, emoji string) (*Result, error) {
	if err := ValidateEmoji(emoji); err != nil {
		return nil, err
	}
	if err := e.oracle.Authorize(ctx, user, target); err != nil {
		return nil, err
	}
	conv, m, err := e.messageIn(ctx, target, id)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, errs.ErrBadRequest.WrapMsg("message is deleted", "id", id)
	}

	r := model.Reaction{
		ID:          e.ids.NextString(),
		ReactableID: m.ReactableID,
		UserID:      user,
		Emoji:       emoji,
		CreatedAt:   model.Now(),
	}
	action, err := e.store.ToggleReaction(ctx, &r)
	if errs.IsConflict(err) {
		// 重试一次
		e.log.Debug("reaction toggle conflict, retrying", zap.String("message", string(id)), zap.String("emoji", emoji))
		action, err = e.store.ToggleReaction(ctx, &r)
		if errs.IsConflict(err) {
			return nil, errs.ErrUnavailable.WrapMsg("reaction toggle contended", "message", id)
		}
	}
	if err != nil {
		return nil, err
	}
	return &Result{Action: action, Reaction: r, MessageID: id, Room: conv.Room()}, nil
}

// ListReactions 按 emoji 分组
func (e *Engine) ListReactions(ctx context.Context, user model.UserID, target model.Target, id model.MessageID) ([]model.ReactionGroup, error) {
	if err := e.oracle.Authorize(ctx, user, target); err != nil {
		return nil, err
	}
	_, m, err := e.messageIn(ctx, target, id)
	if err != nil {
		return nil, err
	}
	rs, err := e.store.ListReactions(ctx, m.ReactableID)
	if err != nil {
		return nil, err
	}
	return model.GroupReactions(rs), nil
}

func (e *Engine) messageIn(ctx context.Context, target model.Target, id model.MessageID) (*model.Conversation, *model.Message, error) {
	conv, err := e.resolver.FindTarget(ctx, target)
	if errs.IsNotFound(err) {
		return nil, nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if err != nil {
		return nil, nil, err
	}
	m, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if m.ConversationID != conv.ID {
		return nil, nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	return conv, m, nil
}
