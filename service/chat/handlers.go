package chat

import (
	"context"
	"errors"

	"PChatCore/module/chat/model"
	"PChatCore/service/presence"
	"PChatCore/tools/errs"
)

func (s *Server) registerHandlers() {
	s.disp.Register(model.EventConnect, s.onConnect)
	s.disp.Register(model.EventRoomJoin, s.onRoomJoin)
	s.disp.Register(model.EventRoomLeave, s.onRoomLeave)
	s.disp.Register(model.EventPresenceList, s.onPresenceList)
	s.disp.Register(model.EventMessageSend, s.onMessageSend)
	s.disp.Register(model.EventMessageDelete, s.onMessageDelete)
	s.disp.Register(model.EventMessageList, s.onMessageList)
	s.disp.Register(model.EventReactionToggle, s.onReactionToggle)
	s.disp.Register(model.EventReadMark, s.onReadMark)
}

// targetOf 解析 roomId；出错时 reply.room 保留原始值
func targetOf(roomID string) (model.Target, reply, error) {
	t, err := model.ParseRoom(roomID)
	if err != nil {
		return t, reply{room: model.RoomID(roomID)}, err
	}
	return t, reply{room: t.Room()}, nil
}

func (s *Server) onConnect(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	if c.Authenticated() {
		return reply{}, errs.ErrBadRequest.WrapMsg("already authenticated")
	}
	req, err := payloadOf[connectReq](f)
	if err != nil {
		return reply{}, err
	}
	// 失败时 authenticate 已回复并关闭连接
	_ = s.authenticate(ctx, c, req.Token, f.RequestID)
	return reply{silent: true}, nil
}

// ===== 房间 =====

func (s *Server) onRoomJoin(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[roomReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	user := c.User()
	// 先鉴权，拒绝时不碰 registry
	if err := s.Oracle.Authorize(ctx, user.ID, target); err != nil {
		return rep, err
	}
	first, err := s.Registry.JoinRoom(user.ID, c.ID, rep.room)
	if err != nil {
		return rep, registryErr(err)
	}
	s.Observer.RoomJoined(c.ID, user.ID, rep.room, first)
	if first {
		s.router.Emit(rep.room, model.EventUserOnline, model.UserPresenceEvent{RoomID: rep.room, User: user})
	}

	users, err := s.PresentUsers(ctx, rep.room)
	if err != nil {
		return rep, err
	}
	rep.event = model.EventPresenceList
	rep.data = model.PresenceListEvent{RoomID: rep.room, Users: users}
	return rep, nil
}

func (s *Server) onRoomLeave(_ context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[roomReq](f)
	if err != nil {
		return reply{}, err
	}
	_, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	user := c.User()
	last, err := s.Registry.LeaveRoom(user.ID, c.ID, rep.room)
	if err != nil {
		return rep, registryErr(err)
	}
	s.Observer.RoomLeft(c.ID, user.ID, rep.room, last)
	if last {
		s.router.Emit(rep.room, model.EventUserOffline, model.UserPresenceEvent{RoomID: rep.room, User: user})
	}
	return rep, nil
}

func (s *Server) onPresenceList(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[roomReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	if err := s.Oracle.Authorize(ctx, c.UserID(), target); err != nil {
		return rep, err
	}
	users, err := s.PresentUsers(ctx, rep.room)
	if err != nil {
		return rep, err
	}
	rep.event = model.EventPresenceList
	rep.data = model.PresenceListEvent{RoomID: rep.room, Users: users}
	return rep, nil
}

// ===== 消息 =====

func (s *Server) onMessageSend(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[sendReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	v, err := s.Messages.SendMessage(ctx, c.UserID(), target, req.draft())
	if err != nil {
		return rep, err
	}
	// 幂等重放不再广播
	if !v.Replayed {
		ev := model.MessageNewEvent{RoomID: rep.room, Message: *v}
		if v.DirectPeer != "" {
			s.router.PublishDirect(rep.room, v.DirectPeer, model.EventMessageNew, ev)
		} else {
			s.router.Publish(rep.room, model.EventMessageNew, ev)
		}
	}
	rep.data = v
	return rep, nil
}

func (s *Server) onMessageDelete(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[messageReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	m, err := s.Messages.DeleteMessage(ctx, c.UserID(), target, req.MessageID)
	if err != nil {
		return rep, err
	}
	ev := model.MessageDeletedEvent{RoomID: rep.room, MessageID: m.ID, DeletedBy: m.DeletedBy}
	s.router.Publish(rep.room, model.EventMessageDeleted, ev)
	rep.data = ev
	return rep, nil
}

func (s *Server) onMessageList(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[listReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	page, err := s.Messages.ListMessages(ctx, c.UserID(), target, req.query())
	if err != nil {
		return rep, err
	}
	rep.data = page
	return rep, nil
}

// ===== 反应 / 已读 =====

func (s *Server) onReactionToggle(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[reactionReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	res, err := s.Reactions.ToggleReaction(ctx, c.UserID(), target, req.MessageID, req.Emoji)
	if err != nil {
		return rep, err
	}
	ev := model.ReactionEvent{RoomID: res.Room, MessageID: res.MessageID, Emoji: res.Reaction.Emoji, User: res.Reaction.UserID}
	s.router.Publish(res.Room, model.ReactionEventName(res.Action), ev)
	rep.data = map[string]any{"action": res.Action, "messageId": res.MessageID, "emoji": res.Reaction.Emoji}
	return rep, nil
}

func (s *Server) onReadMark(ctx context.Context, c *WsConn, f *Frame) (reply, error) {
	req, err := payloadOf[roomReq](f)
	if err != nil {
		return reply{}, err
	}
	target, rep, err := targetOf(req.RoomID)
	if err != nil {
		return rep, err
	}
	mark, err := s.ReadState.MarkRead(ctx, c.UserID(), target)
	if err != nil {
		return rep, err
	}
	ev := model.ReadMarkedEvent{RoomID: mark.Room, User: mark.User, At: mark.At}
	s.router.Publish(mark.Room, model.EventReadMarked, ev)
	rep.data = ev
	return rep, nil
}

func registryErr(err error) error {
	if errors.Is(err, presence.ErrNotRegistered) {
		return errs.ErrUnauthenticated.WrapMsg("connection not registered")
	}
	return err
}
