package model

import "time"

// Message 会话内的一条消息，除软删字段外创建后不可变
type Message struct {
	ID              MessageID
	ConversationID  ConversationID
	SenderID        UserID
	ReplyToID       MessageID // 空表示不是回复；只引用同会话中更早的消息
	ReactableID     ReactableID
	Content         *string // 软删后为 nil
	ClientMessageID string
	IsDeleted       bool
	DeletedAt       *time.Time
	DeletedBy       UserID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m *Message) GetTableName() string {
	return "message"
}

// VisibleContent 已删除的消息永远不暴露内容
func (m *Message) VisibleContent() *string {
	if m.IsDeleted || m.Content == nil {
		return nil
	}
	c := *m.Content
	return &c
}

// Before 按 (createdAt, id) 排序
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Mention 创建时写入，之后不变
type Mention struct {
	MessageID MessageID
	UserID    UserID
}

func (m *Mention) GetTableName() string {
	return "mention"
}

// OwnerKind Reactable 的归属类型
type OwnerKind string

const OwnerMessage OwnerKind = "MESSAGE"

// Reactable 反应与附件的归属单元，与 Message 一一对应
type Reactable struct {
	ID        ReactableID
	OwnerKind OwnerKind
	CreatedAt time.Time
}

func (r *Reactable) GetTableName() string {
	return "reactable"
}

// Reaction (reactable, user, emoji) 唯一
type Reaction struct {
	ID          string
	ReactableID ReactableID
	UserID      UserID
	Emoji       string
	CreatedAt   time.Time
}

func (r *Reaction) GetTableName() string {
	return "reaction"
}

type Attachment struct {
	ID          string
	ReactableID ReactableID
	FileRef     string
	CreatedAt   time.Time
}

func (a *Attachment) GetTableName() string {
	return "attachment"
}

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "ADDED"
	ReactionRemoved ReactionAction = "REMOVED"
)

// Draft 待发送消息
type Draft struct {
	Content          string    `json:"content"`
	ReplyToID        MessageID `json:"replyToId,omitempty"`
	MentionedUserIDs []UserID  `json:"mentionedUserIds,omitempty"`
	AttachmentRefs   []string  `json:"attachmentRefs,omitempty"`
	ClientMessageID  string    `json:"clientMessageId,omitempty"`
}

// HistoryQuery 分页：page/limit 偏移模式，或 beforeId/afterId 游标模式（忽略 page）
type HistoryQuery struct {
	Page     int       `json:"page,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	BeforeID MessageID `json:"beforeId,omitempty"`
	AfterID  MessageID `json:"afterId,omitempty"`
}

func (q HistoryQuery) IsCursor() bool {
	return q.BeforeID != "" || q.AfterID != ""
}
