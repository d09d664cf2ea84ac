package model

import "time"

// conversation table field constants
const (
	CFieldID          = "id"
	CFieldKind        = "kind"
	CFieldChannelID   = "channel_id"
	CFieldWorkspaceID = "workspace_id"
	CFieldUserLow     = "user_low"
	CFieldUserHigh    = "user_high"
	CFieldCreatedAt   = "created_at"
)

// Conversation 频道或私聊背后的持久会话。
// 频道会话 (channel_id, kind) 唯一；私聊 (workspace_id, user_low, user_high) 唯一。
type Conversation struct {
	ID          ConversationID   `json:"id"`
	Kind        ConversationKind `json:"kind"`
	ChannelID   ChannelID        `json:"channelId,omitempty"`
	WorkspaceID WorkspaceID      `json:"workspaceId"`
	UserLow     UserID           `json:"userLow,omitempty"`  // 仅私聊
	UserHigh    UserID           `json:"userHigh,omitempty"` // 仅私聊
	CreatedAt   time.Time        `json:"createdAt"`
}

func (c *Conversation) GetTableName() string {
	return "conversation"
}

func (c *Conversation) Target() Target {
	if c.Kind == KindDirect {
		return DirectTarget(c.ID)
	}
	return ChannelTarget(c.ChannelID)
}

func (c *Conversation) Room() RoomID { return c.Target().Room() }

// HasParticipant 私聊双方之一
func (c *Conversation) HasParticipant(u UserID) bool {
	return c.Kind == KindDirect && (c.UserLow == u || c.UserHigh == u)
}

// Peer 私聊中的对方
func (c *Conversation) Peer(u UserID) UserID {
	if c.UserLow == u {
		return c.UserHigh
	}
	return c.UserLow
}

// Participant (conversation, user) 及已读水位，水位只前进
type Participant struct {
	ConversationID ConversationID `json:"conversationId"`
	UserID         UserID         `json:"userId"`
	JoinedAt       time.Time      `json:"joinedAt"`
	LastReadAt     time.Time      `json:"lastReadAt"`
}

func (p *Participant) GetTableName() string {
	return "participant"
}

// User 成员库里的用户资料
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// UnknownUser 资料缺失时的占位
func UnknownUser(id UserID) User {
	return User{ID: id, DisplayName: string(id)}
}
