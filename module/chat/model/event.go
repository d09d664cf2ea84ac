package model

import "time"

// 长连接事件名
const (
	EventConnect   = "connect"
	EventConnected = "connected"
	EventError     = "error"
	EventAck       = "ack"
	EventPing      = "ping"
	EventPong      = "pong"

	EventRoomJoin     = "room:join"
	EventRoomLeave    = "room:leave"
	EventUserOnline   = "user:online"
	EventUserOffline  = "user:offline"
	EventPresenceList = "presence:list"

	EventMessageSend    = "message:send"
	EventMessageNew     = "message:new"
	EventMessageDelete  = "message:delete"
	EventMessageDeleted = "message:deleted"
	EventMessageList    = "message:list"

	EventReactionToggle  = "reaction:toggle"
	EventReactionAdded   = "reaction:added"
	EventReactionRemoved = "reaction:removed"

	EventReadMark   = "read:mark"
	EventReadMarked = "read:marked"
)

// ===== 广播负载 =====

type UserPresenceEvent struct {
	RoomID RoomID `json:"roomId"`
	User   User   `json:"user"`
}

type MessageNewEvent struct {
	RoomID  RoomID      `json:"roomId"`
	Message MessageView `json:"message"`
}

type MessageDeletedEvent struct {
	RoomID    RoomID    `json:"roomId"`
	MessageID MessageID `json:"messageId"`
	DeletedBy UserID    `json:"deletedBy"`
}

// ReactionEvent reaction:added / reaction:removed
type ReactionEvent struct {
	RoomID    RoomID    `json:"roomId"`
	MessageID MessageID `json:"messageId"`
	Emoji     string    `json:"emoji"`
	User      UserID    `json:"user"`
}

type ReadMarkedEvent struct {
	RoomID RoomID    `json:"roomId"`
	User   UserID    `json:"user"`
	At     time.Time `json:"at"`
}

type PresenceListEvent struct {
	RoomID RoomID        `json:"roomId"`
	Users  []PresentUser `json:"users"`
}

// ReactionEventName 切换结果对应的广播事件
func ReactionEventName(a ReactionAction) string {
	if a == ReactionRemoved {
		return EventReactionRemoved
	}
	return EventReactionAdded
}
