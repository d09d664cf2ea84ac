package chat

import (
	"context"
	"strings"
	"time"

	"PChatCore/module/chat/model"
	"PChatCore/service/natsx"
)

// Relay 跨节点转发已编码的帧
type Relay interface {
	Start(local LocalDelivery) error
	PublishRoom(ctx context.Context, room model.RoomID, event string, frame []byte) error
	// PublishUser except 非空时接收端跳过已在该房间的连接
	PublishUser(ctx context.Context, user model.UserID, except model.RoomID, event string, frame []byte) error
	Close() error
}

// LocalDelivery 转发来的帧在本节点投递（Router 实现）
type LocalDelivery interface {
	DeliverRoom(room model.RoomID, event string, frame []byte) int
	DeliverUser(user model.UserID, except model.RoomID, event string, frame []byte) int
}

const (
	relayBizRoom = "chat.relay.room"
	relayBizUser = "chat.relay.user"

	hdrRoom  = "X-Room"
	hdrUser  = "X-User"
	hdrEvent = "X-Event"
	hdrSkip  = "X-Skip-Room"

	relayIdemTTL = time.Minute
)

// NatsRelay 基于 NATS core 订阅：prefix.room.<room> / prefix.user.<user>，
// 每个节点都订阅（不用队列组），忽略自己发出的消息。
type NatsRelay struct {
	mgr    *natsx.NatsManager
	prefix string
	node   string
	obs    Observer
}

func NewNatsRelay(mgr *natsx.NatsManager, prefix, node string, obs Observer) *NatsRelay {
	if prefix == "" {
		prefix = "chat.relay"
	}
	if obs == nil {
		obs = Observers(nil)
	}
	return &NatsRelay{mgr: mgr, prefix: strings.TrimSuffix(prefix, "."), node: node, obs: obs}
}

func (r *NatsRelay) Start(local LocalDelivery) error {
	if err := r.mgr.RegisterRoute(natsx.NatsxRoute{Biz: relayBizRoom, Subject: r.prefix + ".room.>"}); err != nil {
		return err
	}
	if err := r.mgr.RegisterRoute(natsx.NatsxRoute{Biz: relayBizUser, Subject: r.prefix + ".user.>"}); err != nil {
		return err
	}
	mws := []natsx.NatsxMiddleware{
		natsx.NatsxSkipOrigin(r.node),
		natsx.NatsxIdemMiddleware(natsx.NewMemIdem(relayIdemTTL), relayIdemTTL),
	}
	if err := r.mgr.Subscribe(relayBizRoom, func(_ context.Context, msg natsx.NatsxMessage) error {
		r.obs.Relayed(msg.Header[hdrEvent], true)
		local.DeliverRoom(model.RoomID(msg.Header[hdrRoom]), msg.Header[hdrEvent], msg.Data)
		return nil
	}, mws...); err != nil {
		return err
	}
	return r.mgr.Subscribe(relayBizUser, func(_ context.Context, msg natsx.NatsxMessage) error {
		r.obs.Relayed(msg.Header[hdrEvent], true)
		local.DeliverUser(model.UserID(msg.Header[hdrUser]), model.RoomID(msg.Header[hdrSkip]), msg.Header[hdrEvent], msg.Data)
		return nil
	}, mws...)
}

func (r *NatsRelay) PublishRoom(ctx context.Context, room model.RoomID, event string, frame []byte) error {
	hdr := map[string]string{natsx.HeaderOrigin: r.node, hdrRoom: string(room), hdrEvent: event}
	return r.mgr.PublishOnce(ctx, r.prefix+".room."+subjectToken(string(room)), frame, hdr, "")
}

func (r *NatsRelay) PublishUser(ctx context.Context, user model.UserID, except model.RoomID, event string, frame []byte) error {
	hdr := map[string]string{natsx.HeaderOrigin: r.node, hdrUser: string(user), hdrEvent: event}
	if except != "" {
		hdr[hdrSkip] = string(except)
	}
	return r.mgr.PublishOnce(ctx, r.prefix+".user."+subjectToken(string(user)), frame, hdr, "")
}

func (r *NatsRelay) Close() error { return r.mgr.Close() }

// subjectToken subject 单段里不能有 . * > 和空白；真实 id 放在消息头
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
