package chat

import (
	"context"

	"PChatCore/module/chat/model"
)

// reply 处理结果；event 为空时回 ack，silent 表示处理函数已自行回复
type reply struct {
	event  string
	room   model.RoomID
	data   any
	silent bool
}

// HandlerFunc 处理一个入站事件。出错时 reply.room 仍用于错误的作用域
type HandlerFunc func(ctx context.Context, c *WsConn, f *Frame) (reply, error)

type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) { d.handlers[event] = h }

func (d *Dispatcher) GetHandler(event string) (HandlerFunc, bool) {
	h, ok := d.handlers[event]
	return h, ok
}
