package message

import (
	"context"

	"go.uber.org/zap"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

// SendMessage 校验 -> 解析会话 -> 幂等占位 -> 原子落库 -> 水合。
// 任何一步失败都不会留下部分写入。
func (s *Service) SendMessage(ctx context.Context, sender model.UserID, target model.Target, draft model.Draft) (*model.MessageView, error) {
	// 1) 权限
	if err := s.oracle.Authorize(ctx, sender, target); err != nil {
		return nil, err
	}

	// 2) 草稿本身
	draft, err := s.normalizeDraft(draft)
	if err != nil {
		return nil, err
	}

	// 3) 私聊会话必须已存在，@ 校验要用到双方
	var direct *model.Conversation
	if target.Kind == model.KindDirect {
		if direct, err = s.resolver.FindTarget(ctx, target); err != nil {
			return nil, err
		}
	}

	// 4) 回复目标必须在同一会话
	if draft.ReplyToID != "" {
		if err := s.checkReplyTarget(ctx, target, draft.ReplyToID); err != nil {
			return nil, err
		}
	}

	// 5) @
	if err := s.validateMentions(ctx, target, direct, draft.MentionedUserIDs); err != nil {
		return nil, err
	}

	// 6) 会话
	conv, err := s.resolver.ResolveTarget(ctx, target, sender)
	if err != nil {
		return nil, err
	}

	// 7) 幂等
	key := ""
	if draft.ClientMessageID != "" && s.dedup != nil {
		key = dedupKey(conv.ID, sender, draft.ClientMessageID)
		existing, err := s.dedup.Reserve(ctx, key)
		switch {
		case errs.IsConflict(err):
			return nil, err
		case err != nil:
			s.log.Warn("dedup reserve failed, sending without it", zap.String("key", key), zap.Error(err))
			key = ""
		case existing != "":
			v, err := s.GetMessage(ctx, sender, target, model.MessageID(existing))
			if err != nil {
				return nil, err
			}
			v.Replayed = true
			return v, nil
		}
	}

	// 8) 落库
	nm := s.buildNewMessage(conv, sender, draft)
	if err := s.store.CreateMessage(ctx, nm); err != nil {
		s.releaseKey(key)
		return nil, err
	}
	if key != "" {
		if err := s.dedup.Commit(ctx, key, string(nm.Message.ID)); err != nil {
			s.log.Warn("dedup commit failed", zap.String("key", key), zap.Error(err))
		}
	}

	// 9) 水合
	msg := nm.Message
	views, err := s.hydrate(ctx, conv, []*model.Message{&msg})
	if err != nil {
		return nil, err
	}
	if direct != nil {
		views[0].DirectPeer = direct.Peer(sender)
	}
	return &views[0], nil
}

func (s *Service) checkReplyTarget(ctx context.Context, target model.Target, replyTo model.MessageID) error {
	bad := errs.ErrBadRequest.WrapMsg("reply target not in this conversation", "replyToId", replyTo)
	conv, err := s.resolver.FindTarget(ctx, target)
	if errs.IsNotFound(err) {
		return bad
	}
	if err != nil {
		return err
	}
	parent, err := s.store.GetMessage(ctx, replyTo)
	if errs.IsNotFound(err) {
		return bad
	}
	if err != nil {
		return err
	}
	if parent.ConversationID != conv.ID {
		return bad
	}
	return nil
}

func (s *Service) buildNewMessage(conv *model.Conversation, sender model.UserID, d model.Draft) *store.NewMessage {
	now := s.now()
	msgID := model.MessageID(s.ids.NextString())
	reactableID := model.ReactableID(s.ids.NextString())
	content := d.Content

	nm := &store.NewMessage{
		Reactable: model.Reactable{ID: reactableID, OwnerKind: model.OwnerMessage, CreatedAt: now},
		Message: model.Message{
			ID:              msgID,
			ConversationID:  conv.ID,
			SenderID:        sender,
			ReplyToID:       d.ReplyToID,
			ReactableID:     reactableID,
			Content:         &content,
			ClientMessageID: d.ClientMessageID,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	for _, u := range d.MentionedUserIDs {
		nm.Mentions = append(nm.Mentions, model.Mention{MessageID: msgID, UserID: u})
	}
	for _, ref := range d.AttachmentRefs {
		nm.Attachments = append(nm.Attachments, model.Attachment{
			ID:          s.ids.NextString(),
			ReactableID: reactableID,
			FileRef:     ref,
			CreatedAt:   now,
		})
	}
	return nm
}

// releaseKey 落库失败后释放占位，让客户端可以重试
func (s *Service) releaseKey(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.dedup.Release(ctx, key); err != nil {
		s.log.Warn("dedup release failed", zap.String("key", key), zap.Error(err))
	}
}

// DeleteMessage 软删除。发送者本人，或频道/工作区管理员可删；私聊只能删自己的
func (s *Service) DeleteMessage(ctx context.Context, requester model.UserID, target model.Target, id model.MessageID) (*model.Message, error) {
	if err := s.oracle.Authorize(ctx, requester, target); err != nil {
		return nil, err
	}
	conv, err := s.resolver.FindTarget(ctx, target)
	if errs.IsNotFound(err) {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conv.ID {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	// 先判权限，无权者看不到是否已删
	if m.SenderID != requester {
		ok, err := s.oracle.CanModerate(ctx, requester, target)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.ErrForbidden.WrapMsg("cannot delete this message", "id", id)
		}
	}
	if m.IsDeleted {
		return nil, errs.ErrBadRequest.WrapMsg("already deleted", "id", id)
	}
	return s.store.SoftDeleteMessage(ctx, id, requester, s.now())
}
