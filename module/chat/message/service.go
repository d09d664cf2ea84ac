// Package message is the message pipeline: it validates drafts, persists
// them atomically and returns hydrated views. It never broadcasts; callers
// fan the result out.
package message

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PChatCore/logger"
	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
)

const releaseTimeout = 2 * time.Second

// Limits 草稿与分页上限
type Limits struct {
	MaxContentRunes     int
	MaxMentions         int
	MaxAttachments      int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxContentRunes:     4000,
		MaxMentions:         50,
		MaxAttachments:      10,
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     100,
	}
}

// Deduper 发送幂等：同一 (会话, 发送者, clientMessageId) 只落库一次
type Deduper interface {
	// Reserve 返回 ("", nil) 表示占位成功；已有结果时返回消息ID；仍在处理中返回 Conflict
	Reserve(ctx context.Context, key string) (string, error)
	Commit(ctx context.Context, key, messageID string) error
	Release(ctx context.Context, key string) error
}

type Service struct {
	store    store.ConversationStore
	oracle   *access.Oracle
	resolver *conversation.Resolver
	ids      conversation.IDGenerator
	dedup    Deduper
	limits   Limits
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Service)

func WithDeduper(d Deduper) Option { return func(s *Service) { s.dedup = d } }

func WithLimits(l Limits) Option { return func(s *Service) { s.limits = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st store.ConversationStore, oracle *access.Oracle, resolver *conversation.Resolver,
	gen conversation.IDGenerator, opts ...Option) *Service {
	s := &Service{
		store:    st,
		oracle:   oracle,
		resolver: resolver,
		ids:      gen,
		limits:   DefaultLimits(),
		now:      model.Now,
		log:      logger.Named("message"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
