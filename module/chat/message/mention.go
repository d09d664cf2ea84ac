package message

import (
	"context"
	"strings"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

// uniqueMentions 去重并去掉空 id，保持原顺序
func uniqueMentions(ids []model.UserID) []model.UserID {
	out := make([]model.UserID, 0, len(ids))
	seen := make(map[model.UserID]struct{}, len(ids))
	for _, id := range ids {
		id = model.UserID(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// validateMentions 频道：每个被@用户都必须是当前频道成员；私聊：只能是双方之一。
// 任何一个不合法整条消息拒绝，并列出全部不合法的 id。
func (s *Service) validateMentions(ctx context.Context, target model.Target, direct *model.Conversation, mentions []model.UserID) error {
	if len(mentions) == 0 {
		return nil
	}
	var culprits []string
	switch target.Kind {
	case model.KindDirect:
		for _, u := range mentions {
			if !direct.HasParticipant(u) {
				culprits = append(culprits, string(u))
			}
		}
	case model.KindChannel:
		for _, u := range mentions {
			ok, err := s.oracle.IsChannelMember(ctx, u, target.ChannelID)
			if err != nil {
				return err
			}
			if !ok {
				culprits = append(culprits, string(u))
			}
		}
	}
	if len(culprits) > 0 {
		return errs.ErrBadRequest.WrapMsg("invalid mentions", "users", strings.Join(culprits, ","))
	}
	return nil
}
