package model

import (
	"sort"
	"time"
)

// ReplySummary 被回复消息的摘要，被回复消息已删除时不带内容
type ReplySummary struct {
	ID        MessageID `json:"id"`
	Sender    User      `json:"sender"`
	Content   *string   `json:"content,omitempty"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionGroup 同一 emoji 的反应聚合
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []UserID `json:"users"`
}

type AttachmentView struct {
	ID        string    `json:"id"`
	FileRef   string    `json:"fileRef"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView 对外输出的完整消息
type MessageView struct {
	ID              MessageID        `json:"id"`
	ConversationID  ConversationID   `json:"conversationId"`
	RoomID          RoomID           `json:"roomId"`
	Sender          User             `json:"sender"`
	Content         *string          `json:"content,omitempty"`
	ReplyTo         *ReplySummary    `json:"replyTo,omitempty"`
	Mentions        []User           `json:"mentions"`
	Reactions       []ReactionGroup  `json:"reactions"`
	Attachments     []AttachmentView `json:"attachments"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
	IsDeleted       bool             `json:"isDeleted"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
	DeletedBy       UserID           `json:"deletedBy,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`

	// Replayed 同一 clientMessageId 的重试命中已存储的消息，调用方不再广播
	Replayed bool `json:"-"`
	// DirectPeer 私聊的对方；没进房间也要收到这条消息
	DirectPeer UserID `json:"-"`
}

// HistoryPage 历史消息分页结果，Messages 按时间升序
type HistoryPage struct {
	Messages []MessageView `json:"messages"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	HasMore  bool          `json:"hasMore"`
}

// PresentUser 房间内在线用户及其连接数
type PresentUser struct {
	User        User `json:"user"`
	Connections int  `json:"connections"`
}

// GroupReactions 按 emoji 聚合，emoji 按首次出现时间排序，用户按反应时间排序
func GroupReactions(rs []Reaction) []ReactionGroup {
	sorted := make([]Reaction, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]ReactionGroup, 0)
	idx := make(map[string]int)
	for _, r := range sorted {
		i, ok := idx[r.Emoji]
		if !ok {
			i = len(out)
			idx[r.Emoji] = i
			out = append(out, ReactionGroup{Emoji: r.Emoji})
		}
		out[i].Count++
		out[i].Users = append(out[i].Users, r.UserID)
	}
	return out
}
