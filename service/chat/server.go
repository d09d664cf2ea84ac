package chat

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PChatCore/global/config"
	"PChatCore/logger"
	"PChatCore/middleware"
	midsec "PChatCore/middleware/security"
	"PChatCore/module/chat/access"
	"PChatCore/module/chat/message"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/reaction"
	"PChatCore/module/chat/readstate"
	"PChatCore/service/presence"
	"PChatCore/tools/safe"
	"PChatCore/tools/security"
)

// Deps 长连接网关依赖的业务组件
type Deps struct {
	Verifier  security.IdentityVerifier
	Oracle    *access.Oracle
	Messages  *message.Service
	Reactions *reaction.Engine
	ReadState *readstate.Tracker
	Registry  *presence.Registry
	Observer  Observer
}

// Server 连接生命周期控制：认证、房间、事件分发、断开清理
type Server struct {
	Deps
	conf     config.WsConfig
	conns    *ConnManager
	router   *Router
	disp     *Dispatcher
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time

	gate    sync.Mutex
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewServer(conf config.WsConfig, d Deps) *Server {
	safe.MustNotNil(d.Verifier, "verifier")
	safe.MustNotNil(d.Oracle, "oracle")
	safe.MustNotNil(d.Messages, "messages")
	safe.MustNotNil(d.Reactions, "reactions")
	safe.MustNotNil(d.ReadState, "read state")
	safe.MustNotNil(d.Registry, "registry")
	if d.Observer == nil {
		d.Observer = NewLogObserver()
	}
	conf = normConf(conf)

	s := &Server{
		Deps: d,
		conf: conf,
		disp: NewDispatcher(),
		log:  logger.Named("ws"),
		now:  time.Now,
	}
	s.conns = NewConnManager(ManagerConf{
		UnauthTTL:   conf.AuthTimeout,
		MaxPerUser:  conf.MaxConnsPerUser,
		EvictOldest: true,
		OnExpire:    s.expireUnauth,
	})
	s.router = NewRouter(d.Registry, s.conns, d.Observer)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{midsec.SubprotocolBearer},
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(conf.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	s.registerHandlers()
	return s
}

func normConf(c config.WsConfig) config.WsConfig {
	def := config.Default().Ws
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = def.FramesPerSecond
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = def.FrameBurst
	}
	if c.MaxDecodeErrors <= 0 {
		c.MaxDecodeErrors = def.MaxDecodeErrors
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = def.HandlerTimeout
	}
	return c
}

func (s *Server) Router() *Router { return s.router }

func (s *Server) ConnMgr() *ConnManager { return s.conns }

// PresentUsers 房间在线用户快照，附带用户资料
func (s *Server) PresentUsers(ctx context.Context, room model.RoomID) ([]model.PresentUser, error) {
	ps := s.Registry.ListPresentUsers(room)
	ids := make([]model.UserID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.User)
	}
	users, err := s.Oracle.LookupUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.PresentUser, 0, len(ps))
	for _, p := range ps {
		u, ok := users[p.User]
		if !ok {
			u = model.UnknownUser(p.User)
		}
		out = append(out, model.PresentUser{User: u, Connections: p.Connections})
	}
	return out, nil
}

// Shutdown 拒绝新连接，关闭现有连接并等待断开清理完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.gate.Lock()
	s.closing.Store(true)
	s.gate.Unlock()
	s.conns.Close("server shutdown")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
