package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/module/chat/model"
	"PChatCore/service/presence"
)

const relayTimeout = 2 * time.Second

// EventSink 已提交领域事件的旁路导出（kafka）
type EventSink interface {
	Export(event string, room model.RoomID, payload any)
}

// Router 广播：房间快照来自 presence，每帧只编码一次，逐连接非阻塞入队。
// 某个连接队列满只丢它自己的这一帧。
type Router struct {
	registry *presence.Registry
	conns    *ConnManager
	obs      Observer
	relay    Relay
	sink     EventSink
	log      *zap.Logger
}

func NewRouter(registry *presence.Registry, conns *ConnManager, obs Observer) *Router {
	if obs == nil {
		obs = Observers(nil)
	}
	return &Router{registry: registry, conns: conns, obs: obs, log: logger.Named("router")}
}

// UseRelay 跨节点广播；其它节点发来的帧只在本地投递
func (r *Router) UseRelay(rl Relay) error {
	if err := rl.Start(r); err != nil {
		return err
	}
	r.relay = rl
	return nil
}

func (r *Router) UseSink(s EventSink) { r.sink = s }

// Emit 投递到房间内所有连接，返回本节点入队成功数
func (r *Router) Emit(room model.RoomID, event string, payload any) int {
	frame, err := encodeFrame(event, "", payload)
	if err != nil {
		r.log.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := r.DeliverRoom(room, event, frame)
	r.relayRoom(room, event, frame)
	return n
}

// EmitToUser 投递到用户的所有连接
func (r *Router) EmitToUser(user model.UserID, event string, payload any) int {
	frame, err := encodeFrame(event, "", payload)
	if err != nil {
		r.log.Error("encode user frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := r.DeliverUser(user, "", event, frame)
	r.relayUser(user, "", event, frame)
	return n
}

// Publish 领域事件：房间广播，同时导出
func (r *Router) Publish(room model.RoomID, event string, payload any) int {
	n := r.Emit(room, event, payload)
	if r.sink != nil {
		r.sink.Export(event, room, payload)
	}
	return n
}

// PublishDirect 私聊领域事件：房间广播，对方不在房间里的连接也投一份。
// 同一连接只收一次。
func (r *Router) PublishDirect(room model.RoomID, peer model.UserID, event string, payload any) int {
	frame, err := encodeFrame(event, "", payload)
	if err != nil {
		r.log.Error("encode direct frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	inRoom := r.registry.ConnectionsInRoom(room)
	ids := append(inRoom, outside(r.registry.ConnectionsOf(peer), inRoom)...)
	n := r.enqueueAll(ids, event, frame)
	r.relayRoom(room, event, frame)
	r.relayUser(peer, room, event, frame)
	if r.sink != nil {
		r.sink.Export(event, room, payload)
	}
	return n
}

// DeliverRoom 只投递本节点
func (r *Router) DeliverRoom(room model.RoomID, event string, frame []byte) int {
	return r.enqueueAll(r.registry.ConnectionsInRoom(room), event, frame)
}

// DeliverUser except 非空时跳过已在该房间的连接
func (r *Router) DeliverUser(user model.UserID, except model.RoomID, event string, frame []byte) int {
	ids := r.registry.ConnectionsOf(user)
	if except != "" {
		ids = outside(ids, r.registry.ConnectionsInRoom(except))
	}
	return r.enqueueAll(ids, event, frame)
}

func (r *Router) relayRoom(room model.RoomID, event string, frame []byte) {
	if r.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := r.relay.PublishRoom(ctx, room, event, frame); err != nil {
		r.log.Warn("relay publish", zap.String("room", string(room)), zap.String("event", event), zap.Error(err))
		return
	}
	r.obs.Relayed(event, false)
}

func (r *Router) relayUser(user model.UserID, except model.RoomID, event string, frame []byte) {
	if r.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := r.relay.PublishUser(ctx, user, except, event, frame); err != nil {
		r.log.Warn("relay publish", zap.String("user", string(user)), zap.String("event", event), zap.Error(err))
		return
	}
	r.obs.Relayed(event, false)
}

// outside ids 中不在 skip 里的
func outside(ids, skip []model.ConnID) []model.ConnID {
	if len(skip) == 0 {
		return ids
	}
	in := make(map[model.ConnID]struct{}, len(skip))
	for _, id := range skip {
		in[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) enqueueAll(ids []model.ConnID, event string, frame []byte) int {
	n := 0
	for _, id := range ids {
		c, ok := r.conns.Get(id)
		if !ok {
			continue
		}
		if c.Enqueue(frame) {
			n++
			continue
		}
		if !c.Closed() {
			r.obs.FrameDropped(id, event)
		}
	}
	return n
}

// Reply 只发给请求方
func (r *Router) Reply(c *WsConn, event, requestID string, payload any) bool {
	frame, err := encodeFrame(event, requestID, payload)
	if err != nil {
		r.log.Error("encode reply", zap.String("event", event), zap.Error(err))
		return false
	}
	if c.Enqueue(frame) {
		return true
	}
	if !c.Closed() {
		r.obs.FrameDropped(c.ID, event)
	}
	return false
}
