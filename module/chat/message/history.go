package message

import (
	"context"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

// ListMessages 历史消息，按 (createdAt, id) 升序返回。
// 偏移模式第 1 页是最早的消息；游标模式 beforeId 取紧挨着游标之前的 limit 条。
// 读取即视为已读：请求者水位推进到当前时间。
func (s *Service) ListMessages(ctx context.Context, requester model.UserID, target model.Target, q model.HistoryQuery) (*model.HistoryPage, error) {
	if err := s.oracle.Authorize(ctx, requester, target); err != nil {
		return nil, err
	}
	if q.BeforeID != "" && q.AfterID != "" {
		return nil, errs.ErrBadRequest.WrapMsg("beforeId and afterId are mutually exclusive")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.limits.HistoryDefaultLimit
	}
	if limit > s.limits.HistoryMaxLimit {
		limit = s.limits.HistoryMaxLimit
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	conv, err := s.resolver.ResolveTarget(ctx, target, requester)
	if err != nil {
		return nil, err
	}

	out := &model.HistoryPage{Page: page, Limit: limit}
	var msgs []*model.Message
	switch {
	case q.BeforeID != "":
		cur, err := s.cursorIn(ctx, conv, q.BeforeID)
		if err != nil {
			return nil, err
		}
		msgs, out.Total, err = s.store.ListMessages(ctx, store.MessageQuery{
			ConversationID: conv.ID, Before: cur, Limit: limit + 1, Desc: true,
		})
		if err != nil {
			return nil, err
		}
		if len(msgs) > limit {
			msgs, out.HasMore = msgs[:limit], true
		}
		reverse(msgs)
	case q.AfterID != "":
		cur, err := s.cursorIn(ctx, conv, q.AfterID)
		if err != nil {
			return nil, err
		}
		msgs, out.Total, err = s.store.ListMessages(ctx, store.MessageQuery{
			ConversationID: conv.ID, After: cur, Limit: limit + 1,
		})
		if err != nil {
			return nil, err
		}
		if len(msgs) > limit {
			msgs, out.HasMore = msgs[:limit], true
		}
	default:
		msgs, out.Total, err = s.store.ListMessages(ctx, store.MessageQuery{
			ConversationID: conv.ID, Offset: (page - 1) * limit, Limit: limit,
		})
		if err != nil {
			return nil, err
		}
		out.HasMore = page*limit < out.Total
	}

	if _, err := s.store.TouchParticipant(ctx, conv.ID, requester, s.now()); err != nil {
		return nil, err
	}
	if out.Messages, err = s.hydrate(ctx, conv, msgs); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage 单条水合读取，消息必须属于 target 的会话
func (s *Service) GetMessage(ctx context.Context, requester model.UserID, target model.Target, id model.MessageID) (*model.MessageView, error) {
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
	views, err := s.hydrate(ctx, conv, []*model.Message{m})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) cursorIn(ctx context.Context, conv *model.Conversation, id model.MessageID) (*store.Cursor, error) {
	m, err := s.store.GetMessage(ctx, id)
	if errs.IsNotFound(err) {
		return nil, errs.ErrBadRequest.WrapMsg("cursor not in this conversation", "id", id)
	}
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conv.ID {
		return nil, errs.ErrBadRequest.WrapMsg("cursor not in this conversation", "id", id)
	}
	c := store.CursorOf(m)
	return &c, nil
}

func reverse(msgs []*model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
