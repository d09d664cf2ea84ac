package message

import (
	"context"
	"strings"
	"unicode/utf8"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

// normalizeDraft 校验并规整草稿：内容去首尾空白，@ 去重
func (s *Service) normalizeDraft(d model.Draft) (model.Draft, error) {
	d.Content = strings.TrimSpace(d.Content)
	d.ClientMessageID = strings.TrimSpace(d.ClientMessageID)
	d.MentionedUserIDs = uniqueMentions(d.MentionedUserIDs)

	if d.Content == "" && len(d.AttachmentRefs) == 0 {
		return d, errs.ErrBadRequest.WrapMsg("message is empty")
	}
	if n := utf8.RuneCountInString(d.Content); n > s.limits.MaxContentRunes {
		return d, errs.ErrBadRequest.WrapMsg("content too long", "runes", n, "max", s.limits.MaxContentRunes)
	}
	if len(d.MentionedUserIDs) > s.limits.MaxMentions {
		return d, errs.ErrBadRequest.WrapMsg("too many mentions", "max", s.limits.MaxMentions)
	}
	if len(d.AttachmentRefs) > s.limits.MaxAttachments {
		return d, errs.ErrBadRequest.WrapMsg("too many attachments", "max", s.limits.MaxAttachments)
	}
	for i, ref := range d.AttachmentRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return d, errs.ErrBadRequest.WrapMsg("empty attachment ref", "index", i)
		}
		d.AttachmentRefs[i] = ref
	}
	if len(d.ClientMessageID) > 128 {
		return d, errs.ErrBadRequest.WrapMsg("clientMessageId too long")
	}
	return d, nil
}

// hydrate 批量水合：发送者、回复摘要、@、反应分组、附件
func (s *Service) hydrate(ctx context.Context, conv *model.Conversation, msgs []*model.Message) ([]model.MessageView, error) {
	out := make([]model.MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	details, err := s.store.ListMessageDetails(ctx, msgs)
	if err != nil {
		return nil, err
	}

	var replyIDs []model.MessageID
	for _, m := range msgs {
		if m.ReplyToID != "" {
			replyIDs = append(replyIDs, m.ReplyToID)
		}
	}
	replies := map[model.MessageID]*model.Message{}
	if len(replyIDs) > 0 {
		if replies, err = s.store.GetMessages(ctx, replyIDs); err != nil {
			return nil, err
		}
	}

	userIDs := make([]model.UserID, 0, len(msgs)*2)
	for _, m := range msgs {
		userIDs = append(userIDs, m.SenderID)
		userIDs = append(userIDs, details.Mentions[m.ID]...)
	}
	for _, r := range replies {
		userIDs = append(userIDs, r.SenderID)
	}
	users, err := s.oracle.LookupUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	room := conv.Room()
	for _, m := range msgs {
		out = append(out, buildView(room, m, details, replies, users))
	}
	return out, nil
}

func buildView(room model.RoomID, m *model.Message, d *store.MessageDetails,
	replies map[model.MessageID]*model.Message, users map[model.UserID]model.User) model.MessageView {
	v := model.MessageView{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		RoomID:          room,
		Sender:          userOf(users, m.SenderID),
		Content:         m.VisibleContent(),
		Mentions:        make([]model.User, 0, len(d.Mentions[m.ID])),
		Reactions:       model.GroupReactions(d.Reactions[m.ReactableID]),
		Attachments:     make([]model.AttachmentView, 0, len(d.Attachments[m.ReactableID])),
		ClientMessageID: m.ClientMessageID,
		IsDeleted:       m.IsDeleted,
		DeletedAt:       m.DeletedAt,
		DeletedBy:       m.DeletedBy,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for _, u := range d.Mentions[m.ID] {
		v.Mentions = append(v.Mentions, userOf(users, u))
	}
	for _, a := range d.Attachments[m.ReactableID] {
		v.Attachments = append(v.Attachments, model.AttachmentView{ID: a.ID, FileRef: a.FileRef, CreatedAt: a.CreatedAt})
	}
	if m.ReplyToID != "" {
		if r, ok := replies[m.ReplyToID]; ok {
			v.ReplyTo = &model.ReplySummary{
				ID:        r.ID,
				Sender:    userOf(users, r.SenderID),
				Content:   r.VisibleContent(),
				IsDeleted: r.IsDeleted,
				CreatedAt: r.CreatedAt,
			}
		} else {
			v.ReplyTo = &model.ReplySummary{ID: m.ReplyToID, IsDeleted: true}
		}
	}
	return v
}

func userOf(users map[model.UserID]model.User, id model.UserID) model.User {
	if u, ok := users[id]; ok {
		return u
	}
	return model.UnknownUser(id)
}

func dedupKey(conv model.ConversationID, sender model.UserID, clientID string) string {
	return string(conv) + ":" + string(sender) + ":" + clientID
}
