package model

import (
	"strings"
	"time"

	"PChatCore/tools/errs"
)

type (
	UserID         string
	WorkspaceID    string
	ChannelID      string
	ConversationID string
	MessageID      string
	ReactableID    string
	ConnID         string
	RoomID         string
)

// ConversationKind 会话类型
type ConversationKind string

const (
	KindChannel ConversationKind = "CHANNEL"
	KindDirect  ConversationKind = "DIRECT"
)

const (
	roomPrefixChannel = "channel:"
	roomPrefixDirect  = "dm:"
)

// Target 房间背后的逻辑会话：频道，或已存在的私聊会话
type Target struct {
	Kind           ConversationKind
	ChannelID      ChannelID
	ConversationID ConversationID
}

func ChannelTarget(id ChannelID) Target {
	return Target{Kind: KindChannel, ChannelID: id}
}

func DirectTarget(id ConversationID) Target {
	return Target{Kind: KindDirect, ConversationID: id}
}

func (t Target) Room() RoomID {
	if t.Kind == KindDirect {
		return RoomID(roomPrefixDirect + string(t.ConversationID))
	}
	return RoomID(roomPrefixChannel + string(t.ChannelID))
}

func (t Target) String() string { return string(t.Room()) }

// ParseRoom 解析 channel:<id> / dm:<conversationId>
func ParseRoom(room string) (Target, error) {
	room = strings.TrimSpace(room)
	switch {
	case strings.HasPrefix(room, roomPrefixChannel):
		id := strings.TrimPrefix(room, roomPrefixChannel)
		if id != "" {
			return ChannelTarget(ChannelID(id)), nil
		}
	case strings.HasPrefix(room, roomPrefixDirect):
		id := strings.TrimPrefix(room, roomPrefixDirect)
		if id != "" {
			return DirectTarget(ConversationID(id)), nil
		}
	}
	return Target{}, errs.ErrBadRequest.WrapMsg("invalid room id", "roomId", room)
}

// Now 统一的时间戳：UTC，截断到微秒（与 postgres timestamptz 精度一致）
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CanonicalPair 私聊双方排序后的 (low, high)
func CanonicalPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}
