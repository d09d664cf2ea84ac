// Package store declares the persistence collaborators of the chat core.
// The relational store is the single source of truth and the arbiter of
// uniqueness: conversation identity and reaction identity are settled by its
// unique constraints, never by in-process locks.
package store

import (
	"context"
	"time"

	"PChatCore/module/chat/model"
)

// Cursor 排序键 (createdAt, id)
type Cursor struct {
	CreatedAt time.Time
	ID        model.MessageID
}

func CursorOf(m *model.Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// MessageQuery 一次历史查询。
// Before/After 非空时为游标模式：严格小于/大于游标，忽略 Offset。
// Desc 为 true 时按 (createdAt, id) 降序返回。
type MessageQuery struct {
	ConversationID model.ConversationID
	Offset         int
	Limit          int
	Before         *Cursor
	After          *Cursor
	Desc           bool
}

// NewMessage 一次原子写入的全部内容
type NewMessage struct {
	Reactable   model.Reactable
	Message     model.Message
	Mentions    []model.Mention
	Attachments []model.Attachment
}

// MessageDetails 批量水合用的子表数据
type MessageDetails struct {
	Mentions    map[model.MessageID][]model.UserID
	Reactions   map[model.ReactableID][]model.Reaction
	Attachments map[model.ReactableID][]model.Attachment
}

// ConversationStore 会话、消息、反应、附件与参与者。
//
// 错误约定：记录不存在返回 errs.ErrNotFound，唯一约束冲突返回 errs.ErrConflict，
// 超时或连接失败返回 errs.ErrUnavailable。
type ConversationStore interface {
	FindChannelConversation(ctx context.Context, channel model.ChannelID) (*model.Conversation, error)
	// CreateChannelConversation 违反 (channel_id, kind) 唯一约束时返回 Conflict
	CreateChannelConversation(ctx context.Context, conv *model.Conversation) error
	FindDirectConversation(ctx context.Context, workspace model.WorkspaceID, low, high model.UserID) (*model.Conversation, error)
	// CreateDirectConversation 违反 (workspace_id, user_low, user_high) 唯一约束时返回 Conflict
	CreateDirectConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// EnsureParticipant 首次接触时创建参与者行，已存在则不变
	EnsureParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) error
	// TouchParticipant 水位推进到 max(当前, at)，行不存在时创建；返回生效的水位
	TouchParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) (time.Time, error)
	GetParticipant(ctx context.Context, conv model.ConversationID, user model.UserID) (*model.Participant, error)

	GetMessage(ctx context.Context, id model.MessageID) (*model.Message, error)
	// GetMessages 批量读取，缺失的 id 直接忽略
	GetMessages(ctx context.Context, ids []model.MessageID) (map[model.MessageID]*model.Message, error)
	// CreateMessage 一个事务内写入 reactable、message、mention、attachment 并推进发送者水位
	CreateMessage(ctx context.Context, nm *NewMessage) error
	// SoftDeleteMessage 已删除时返回 BadRequest("already deleted")
	SoftDeleteMessage(ctx context.Context, id model.MessageID, by model.UserID, at time.Time) (*model.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]*model.Message, int, error)
	ListMessageDetails(ctx context.Context, msgs []*model.Message) (*MessageDetails, error)
	CountMessagesAfter(ctx context.Context, conv model.ConversationID, after time.Time, exclude model.UserID) (int, error)

	// ToggleReaction 一个事务内存在则删除、不存在则插入；插入撞上唯一约束视为 ADDED
	ToggleReaction(ctx context.Context, r *model.Reaction) (model.ReactionAction, error)
	ListReactions(ctx context.Context, reactable model.ReactableID) ([]model.Reaction, error)
}

// MembershipStore 外部成员关系库，只读
type MembershipStore interface {
	IsChannelMember(ctx context.Context, user model.UserID, channel model.ChannelID) (bool, error)
	ChannelRoleOf(ctx context.Context, user model.UserID, channel model.ChannelID) (model.ChannelRole, error)
	// ChannelWorkspace 频道不存在时返回 NotFound
	ChannelWorkspace(ctx context.Context, channel model.ChannelID) (model.WorkspaceID, error)
	WorkspaceRoleOf(ctx context.Context, user model.UserID, workspace model.WorkspaceID) (model.WorkspaceRole, error)
	// DirectParticipants 私聊会话不存在时返回 NotFound
	DirectParticipants(ctx context.Context, conv model.ConversationID) (model.UserID, model.UserID, error)
	// LookupUsers 未知用户不出现在结果中
	LookupUsers(ctx context.Context, users []model.UserID) (map[model.UserID]model.User, error)
}
