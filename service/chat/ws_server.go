package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	midsec "PChatCore/middleware/security"
	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
	"PChatCore/tools/ids"
	"PChatCore/tools/safe"
	"PChatCore/tools/specialerror"
)

// HandleWS ===== WebSocket 入口 =====
func (s *Server) HandleWS(c *gin.Context) {
	if !s.enter() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	token, _ := midsec.ExtractCredential(c.Request)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，upgrader 已写回响应
		s.log.Debug("upgrade websocket", zap.Error(err))
		return
	}
	s.serve(ws, token)
}

// enter 登记一个进行中的连接；关闭开始后拒绝。与 Shutdown 经 gate 串行，
// 保证 wg.Add 不会和 wg.Wait 并发
func (s *Server) enter() bool {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// serve 接管一条已升级的连接直到断开
func (s *Server) serve(ws *websocket.Conn, token string) {
	c := newWsConn(model.ConnID(ids.GenerateString()), ws, s.conf.SendQueue, s.now())
	if err := s.conns.AddUnauth(c); err != nil {
		s.log.Error("register conn", zap.Error(err))
		_ = ws.Close()
		return
	}
	s.Observer.ConnOpened(c.ID, c.Remote)
	safe.SafeGo("ws-writer", func() { c.writePump(s.conf.PingInterval, s.conf.WriteWait) })
	// 升级期间开始关闭：CloseAll 可能没看到这条连接
	if s.closing.Load() {
		c.Close("server shutdown")
	}

	if token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandlerTimeout)
		_ = s.authenticate(ctx, c, token, "")
		cancel()
	}

	s.readLoop(c)
	s.disconnect(c)
}

// ---- 读循环：只读，帧按到达顺序逐个处理；出错即退出 ----
func (s *Server) readLoop(c *WsConn) {
	ws := c.ws
	ws.SetReadLimit(s.conf.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		c.touch(s.now())
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.conf.FramesPerSecond), s.conf.FrameBurst)
	decodeErrs := 0
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.Close(readReason(err))
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		c.touch(s.now())
		if c.Closed() {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		if !limiter.Allow() {
			s.router.Reply(c, model.EventError, "", newErrorPayload(ScopeFrame, "",
				errs.ErrRateLimited.WrapMsg("too many frames")))
			continue
		}

		f, err := parseFrame(data)
		if err != nil {
			decodeErrs++
			s.router.Reply(c, model.EventError, "", newErrorPayload(ScopeFrame, "", err))
			if decodeErrs >= s.conf.MaxDecodeErrors {
				c.Close("too many malformed frames")
				return
			}
			continue
		}
		s.dispatch(c, f)
	}
}

func (s *Server) dispatch(c *WsConn, f *Frame) {
	start := time.Now()
	if f.Event == model.EventPing {
		s.router.Reply(c, model.EventPong, f.RequestID, nil)
		s.Observer.EventHandled(f.Event, 0, time.Since(start))
		return
	}

	scope := f.Event
	if f.Event == model.EventConnect {
		scope = ScopeAuth
	}
	var (
		rep reply
		err error
	)
	h, ok := s.disp.GetHandler(f.Event)
	switch {
	case !ok:
		err = errs.ErrBadRequest.WrapMsg("unknown event", "event", f.Event)
		scope = ScopeFrame
	case !c.Authenticated() && f.Event != model.EventConnect:
		err = errs.ErrUnauthenticated.WrapMsg("authenticate first")
		scope = ScopeAuth
	default:
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandlerTimeout)
		err = safe.Call(func() error {
			var herr error
			rep, herr = h(ctx, c, f)
			return herr
		})
		cancel()
	}

	code := 0
	switch {
	case err != nil:
		code = specialerror.ErrCode(err)
		if code == errs.ServerInternalError {
			s.log.Error("event failed", zap.String("event", f.Event), zap.String("conn", string(c.ID)), zap.Error(err))
		}
		s.router.Reply(c, model.EventError, f.RequestID, newErrorPayload(scope, rep.room, err))
	case rep.silent:
	case rep.event == "" || rep.event == model.EventAck:
		s.router.Reply(c, model.EventAck, f.RequestID, AckPayload{Event: f.Event, RoomID: rep.room, Result: rep.data})
	default:
		s.router.Reply(c, rep.event, f.RequestID, rep.data)
	}
	s.Observer.EventHandled(f.Event, code, time.Since(start))
}

func readReason(err error) string {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return "peer closed"
	case errors.Is(err, websocket.ErrReadLimit):
		return "frame too large"
	case errors.As(err, &ne) && ne.Timeout():
		return "read timeout"
	default:
		return "read: " + err.Error()
	}
}
