package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"PChatCore/module/chat/model"
)

// WsConn 一条长连接。读循环与写协程各一个，写入只走 send 队列。
type WsConn struct {
	ID        model.ConnID
	Remote    string
	CreatedAt time.Time

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	// 写协程退出后关闭
	flushed chan struct{}

	closeOnce sync.Once
	reason    atomic.Value // string

	mu   sync.RWMutex
	user model.User

	heartbeat atomic.Int64 // unix nano
}

func newWsConn(id model.ConnID, ws *websocket.Conn, queue int, now time.Time) *WsConn {
	c := &WsConn{
		ID:        id,
		CreatedAt: now,
		ws:        ws,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
	}
	if ws != nil && ws.RemoteAddr() != nil {
		c.Remote = ws.RemoteAddr().String()
	}
	c.heartbeat.Store(now.UnixNano())
	return c
}

// User 未认证时为零值
func (c *WsConn) User() model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *WsConn) UserID() model.UserID { return c.User().ID }

func (c *WsConn) Authenticated() bool { return c.UserID() != "" }

func (c *WsConn) bind(u model.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// Enqueue 非阻塞；队列满或连接已关闭返回 false
func (c *WsConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close 可重复调用；写协程把队列里剩余的帧写完再发 close 帧
func (c *WsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason.Store(reason)
		close(c.done)
	})
}

func (c *WsConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WsConn) Reason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}

func (c *WsConn) touch(now time.Time) { c.heartbeat.Store(now.UnixNano()) }

// LastHeartbeat 最近一次收到帧或 pong 的时间
func (c *WsConn) LastHeartbeat() time.Time { return time.Unix(0, c.heartbeat.Load()) }

// writePump 唯一的写者：业务帧、ping、关闭
func (c *WsConn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.flushed)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame, writeWait); err != nil {
				c.Close("write: " + err.Error())
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close("ping: " + err.Error())
				return
			}

		case <-c.done:
			// 尽量把已排队的帧（例如最后的 error）写出去
			for {
				select {
				case frame := <-c.send:
					if err := c.write(websocket.TextMessage, frame, writeWait); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeText(c.Reason())),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *WsConn) write(mt int, data []byte, writeWait time.Duration) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, data)
}

// close 帧的 reason 最多 123 字节
func closeText(reason string) string {
	if len(reason) > 120 {
		return reason[:120]
	}
	return reason
}
