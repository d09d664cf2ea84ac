package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

// authenticate 校验凭证并登记连接；失败时回 error{scope:auth} 并关闭连接
func (s *Server) authenticate(ctx context.Context, c *WsConn, token, requestID string) error {
	user, err := s.verify(ctx, token)
	if err == nil {
		c.bind(user)
		var evicted *WsConn
		if evicted, err = s.conns.BindUser(c.ID, user.ID); err == nil && evicted != nil {
			s.evict(evicted)
		}
	}
	if err != nil {
		s.router.Reply(c, model.EventError, requestID, newErrorPayload(ScopeAuth, "", err))
		c.Close("auth failed")
		return err
	}

	s.Registry.RegisterConnection(user.ID, c.ID)
	s.Observer.Authenticated(c.ID, user.ID)
	s.router.Reply(c, model.EventConnected, requestID, ConnectedPayload{
		ConnID:     c.ID,
		User:       user,
		ServerTime: s.now().UnixMilli(),
	})
	return nil
}

// verify token -> 用户 id -> 用户资料；未知用户视为认证失败
func (s *Server) verify(ctx context.Context, token string) (model.User, error) {
	id, err := s.Verifier.Verify(ctx, token)
	if err != nil {
		if code := errs.Code(err); code != errs.UnauthenticatedError && code != errs.UnavailableError {
			err = errs.ErrUnauthenticated.WrapMsg("invalid credential")
		}
		return model.User{}, err
	}
	user, err := s.Oracle.LookupUser(ctx, model.UserID(id))
	if errs.IsNotFound(err) {
		return model.User{}, errs.ErrUnauthenticated.WrapMsg("unknown user", "user", id)
	}
	return user, err
}

// evict 超出每用户连接上限时挤掉最老的连接
func (s *Server) evict(old *WsConn) {
	s.router.Reply(old, model.EventError, "", newErrorPayload(ScopeConnection, "",
		errs.ErrConflict.WrapMsg("replaced by a newer connection")))
	old.Close("evicted")
	s.Observer.Evicted(old.ID, old.UserID())
}

// expireUnauth 认证窗口到期仍未认证
func (s *Server) expireUnauth(c *WsConn) {
	if c.Authenticated() {
		return
	}
	s.router.Reply(c, model.EventError, "", newErrorPayload(ScopeAuth, "",
		errs.ErrUnauthenticated.WrapMsg("authentication timeout")))
	c.Close("auth timeout")
}

// disconnect 任何原因的断开都走这里；未完成认证的连接同样清理
func (s *Server) disconnect(c *WsConn) {
	c.Close("disconnect")
	<-c.flushed

	s.conns.Remove(c.ID)
	user := c.User()
	for _, t := range s.Registry.DeregisterConnection(c.ID) {
		s.Observer.RoomLeft(c.ID, t.User, t.Room, t.WasLast)
		if !t.WasLast {
			continue
		}
		u := user
		if u.ID != t.User {
			u = model.UnknownUser(t.User)
		}
		s.router.Emit(t.Room, model.EventUserOffline, model.UserPresenceEvent{RoomID: t.Room, User: u})
	}
	s.Observer.ConnClosed(c.ID, user.ID, c.Reason(), time.Since(c.CreatedAt))
	s.log.Debug("conn cleaned up", zap.String("conn", string(c.ID)), zap.String("user", string(user.ID)))
}
