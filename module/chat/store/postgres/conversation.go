package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"PChatCore/module/chat/model"
)

const conversationCols = `id, kind, channel_id, workspace_id, user_low, user_high, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c                          model.Conversation
		id, kind, ws               string
		channel, userLow, userHigh *string
	)
	if err := row.Scan(&id, &kind, &channel, &ws, &userLow, &userHigh, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID = model.ConversationID(id)
	c.Kind = model.ConversationKind(kind)
	c.ChannelID = model.ChannelID(deref(channel))
	c.WorkspaceID = model.WorkspaceID(ws)
	c.UserLow = model.UserID(deref(userLow))
	c.UserHigh = model.UserID(deref(userHigh))
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) FindChannelConversation(ctx context.Context, channel model.ChannelID) (*model.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation WHERE channel_id = $1 AND kind = 'CHANNEL'`,
		string(channel)))
	if err != nil {
		return nil, mapErr(err, "channel conversation not found", "channel", channel)
	}
	return c, nil
}

func (s *Store) CreateChannelConversation(ctx context.Context, conv *model.Conversation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation (id, kind, channel_id, workspace_id, created_at) VALUES ($1, 'CHANNEL', $2, $3, $4)`,
		string(conv.ID), string(conv.ChannelID), string(conv.WorkspaceID), conv.CreatedAt)
	return mapErr(err, "create channel conversation", "channel", conv.ChannelID)
}

func (s *Store) FindDirectConversation(ctx context.Context, workspace model.WorkspaceID, low, high model.UserID) (*model.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation
		 WHERE kind = 'DIRECT' AND workspace_id = $1 AND user_low = $2 AND user_high = $3`,
		string(workspace), string(low), string(high)))
	if err != nil {
		return nil, mapErr(err, "direct conversation not found")
	}
	return c, nil
}

func (s *Store) CreateDirectConversation(ctx context.Context, conv *model.Conversation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation (id, kind, workspace_id, user_low, user_high, created_at) VALUES ($1, 'DIRECT', $2, $3, $4, $5)`,
		string(conv.ID), string(conv.WorkspaceID), string(conv.UserLow), string(conv.UserHigh), conv.CreatedAt)
	return mapErr(err, "create direct conversation")
}

func (s *Store) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation WHERE id = $1`, string(id)))
	if err != nil {
		return nil, mapErr(err, "conversation not found", "id", id)
	}
	return c, nil
}

func (s *Store) EnsureParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participant (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		string(conv), string(user), at)
	return mapErr(err, "ensure participant", "conversation", conv)
}

const touchParticipantSQL = `INSERT INTO participant (conversation_id, user_id, joined_at, last_read_at) VALUES ($1, $2, $3, $3)
 ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = GREATEST(participant.last_read_at, EXCLUDED.last_read_at)
 RETURNING last_read_at`

func (s *Store) TouchParticipant(ctx context.Context, conv model.ConversationID, user model.UserID, at time.Time) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var got time.Time
	err := s.pool.QueryRow(ctx, touchParticipantSQL, string(conv), string(user), at).Scan(&got)
	if err != nil {
		return time.Time{}, mapErr(err, "touch participant", "conversation", conv)
	}
	return got.UTC(), nil
}

func (s *Store) GetParticipant(ctx context.Context, conv model.ConversationID, user model.UserID) (*model.Participant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	p := model.Participant{ConversationID: conv, UserID: user}
	err := s.pool.QueryRow(ctx,
		`SELECT joined_at, last_read_at FROM participant WHERE conversation_id = $1 AND user_id = $2`,
		string(conv), string(user)).Scan(&p.JoinedAt, &p.LastReadAt)
	if err != nil {
		return nil, mapErr(err, "participant not found", "conversation", conv, "user", user)
	}
	p.JoinedAt = p.JoinedAt.UTC()
	p.LastReadAt = p.LastReadAt.UTC()
	return &p, nil
}
