package chat

import (
	"time"

	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/module/chat/model"
)

// Observer 连接生命周期与广播的观测点
type Observer interface {
	ConnOpened(conn model.ConnID, remote string)
	Authenticated(conn model.ConnID, user model.UserID)
	ConnClosed(conn model.ConnID, user model.UserID, reason string, lived time.Duration)
	Evicted(conn model.ConnID, user model.UserID)
	RoomJoined(conn model.ConnID, user model.UserID, room model.RoomID, first bool)
	RoomLeft(conn model.ConnID, user model.UserID, room model.RoomID, last bool)
	// EventHandled code 为 0 表示成功
	EventHandled(event string, code int, took time.Duration)
	FrameDropped(conn model.ConnID, event string)
	Relayed(event string, inbound bool)
}

// Observers 广播给多个观测者
type Observers []Observer

func (os Observers) ConnOpened(conn model.ConnID, remote string) {
	for _, o := range os {
		o.ConnOpened(conn, remote)
	}
}

func (os Observers) Authenticated(conn model.ConnID, user model.UserID) {
	for _, o := range os {
		o.Authenticated(conn, user)
	}
}

func (os Observers) ConnClosed(conn model.ConnID, user model.UserID, reason string, lived time.Duration) {
	for _, o := range os {
		o.ConnClosed(conn, user, reason, lived)
	}
}

func (os Observers) Evicted(conn model.ConnID, user model.UserID) {
	for _, o := range os {
		o.Evicted(conn, user)
	}
}

func (os Observers) RoomJoined(conn model.ConnID, user model.UserID, room model.RoomID, first bool) {
	for _, o := range os {
		o.RoomJoined(conn, user, room, first)
	}
}

func (os Observers) RoomLeft(conn model.ConnID, user model.UserID, room model.RoomID, last bool) {
	for _, o := range os {
		o.RoomLeft(conn, user, room, last)
	}
}

func (os Observers) EventHandled(event string, code int, took time.Duration) {
	for _, o := range os {
		o.EventHandled(event, code, took)
	}
}

func (os Observers) FrameDropped(conn model.ConnID, event string) {
	for _, o := range os {
		o.FrameDropped(conn, event)
	}
}

func (os Observers) Relayed(event string, inbound bool) {
	for _, o := range os {
		o.Relayed(event, inbound)
	}
}

// LogObserver 用 zap 记录生命周期
type LogObserver struct {
	log *zap.Logger
}

func NewLogObserver() *LogObserver {
	return &LogObserver{log: logger.Named("ws")}
}

func (o *LogObserver) ConnOpened(conn model.ConnID, remote string) {
	o.log.Debug("conn opened", zap.String("conn", string(conn)), zap.String("remote", remote))
}

func (o *LogObserver) Authenticated(conn model.ConnID, user model.UserID) {
	o.log.Info("conn authenticated", zap.String("conn", string(conn)), zap.String("user", string(user)))
}

func (o *LogObserver) ConnClosed(conn model.ConnID, user model.UserID, reason string, lived time.Duration) {
	o.log.Info("conn closed",
		zap.String("conn", string(conn)),
		zap.String("user", string(user)),
		zap.String("reason", reason),
		zap.Duration("lived", lived),
	)
}

func (o *LogObserver) Evicted(conn model.ConnID, user model.UserID) {
	o.log.Warn("conn evicted", zap.String("conn", string(conn)), zap.String("user", string(user)))
}

func (o *LogObserver) RoomJoined(conn model.ConnID, user model.UserID, room model.RoomID, first bool) {
	o.log.Debug("room joined", zap.String("conn", string(conn)), zap.String("user", string(user)),
		zap.String("room", string(room)), zap.Bool("first", first))
}

func (o *LogObserver) RoomLeft(conn model.ConnID, user model.UserID, room model.RoomID, last bool) {
	o.log.Debug("room left", zap.String("conn", string(conn)), zap.String("user", string(user)),
		zap.String("room", string(room)), zap.Bool("last", last))
}

func (o *LogObserver) EventHandled(event string, code int, took time.Duration) {
	if code == 0 {
		return
	}
	o.log.Debug("event failed", zap.String("event", event), zap.Int("code", code), zap.Duration("took", took))
}

func (o *LogObserver) FrameDropped(conn model.ConnID, event string) {
	o.log.Warn("send queue full, frame dropped", zap.String("conn", string(conn)), zap.String("event", event))
}

func (o *LogObserver) Relayed(string, bool) {}
