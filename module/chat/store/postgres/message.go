package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

const messageCols = `id, conversation_id, sender_id, reply_to_id, reactable_id, content, client_message_id,
 is_deleted, deleted_at, deleted_by, created_at, updated_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m                            model.Message
		id, conv, sender, reactable  string
		replyTo, clientID, deletedBy *string
	)
	err := row.Scan(&id, &conv, &sender, &replyTo, &reactable, &m.Content, &clientID,
		&m.IsDeleted, &m.DeletedAt, &deletedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.ID = model.MessageID(id)
	m.ConversationID = model.ConversationID(conv)
	m.SenderID = model.UserID(sender)
	m.ReplyToID = model.MessageID(deref(replyTo))
	m.ReactableID = model.ReactableID(reactable)
	m.ClientMessageID = deref(clientID)
	m.DeletedBy = model.UserID(deref(deletedBy))
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if m.DeletedAt != nil {
		d := m.DeletedAt.UTC()
		m.DeletedAt = &d
	}
	if m.IsDeleted {
		m.Content = nil
	}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id model.MessageID) (*model.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM message WHERE id = $1`, string(id)))
	if err != nil {
		return nil, mapErr(err, "message not found", "id", id)
	}
	return m, nil
}

func (s *Store) GetMessages(ctx context.Context, ids []model.MessageID) (map[model.MessageID]*model.Message, error) {
	out := make(map[model.MessageID]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+messageCols+` FROM message WHERE id = ANY($1)`, strs(ids))
	if err != nil {
		return nil, mapErr(err, "get messages")
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err, "scan message")
		}
		out[m.ID] = m
	}
	return out, mapErr(rows.Err(), "get messages")
}

// CreateMessage reactable、message、mention、attachment、发送者水位在同一事务
func (s *Store) CreateMessage(ctx context.Context, nm *store.NewMessage) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	msg := nm.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reactable (id, owner_kind, created_at) VALUES ($1, $2, $3)`,
			string(nm.Reactable.ID), string(nm.Reactable.OwnerKind), nm.Reactable.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message (id, conversation_id, sender_id, reply_to_id, reactable_id, content, client_message_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(msg.ID), string(msg.ConversationID), string(msg.SenderID), nullable(msg.ReplyToID),
			string(msg.ReactableID), msg.Content, nullable(msg.ClientMessageID), msg.CreatedAt, msg.UpdatedAt); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, mn := range nm.Mentions {
			batch.Queue(`INSERT INTO mention (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				string(mn.MessageID), string(mn.UserID))
		}
		for _, a := range nm.Attachments {
			batch.Queue(`INSERT INTO attachment (id, reactable_id, file_ref, created_at) VALUES ($1, $2, $3, $4)`,
				a.ID, string(a.ReactableID), a.FileRef, a.CreatedAt)
		}
		batch.Queue(touchParticipantSQL, string(msg.ConversationID), string(msg.SenderID), msg.CreatedAt)
		return tx.SendBatch(ctx, batch).Close()
	})
	return mapErr(err, "create message", "id", msg.ID)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id model.MessageID, by model.UserID, at time.Time) (*model.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out *model.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var deleted bool
		if err := tx.QueryRow(ctx, `SELECT is_deleted FROM message WHERE id = $1 FOR UPDATE`, string(id)).Scan(&deleted); err != nil {
			return err
		}
		if deleted {
			return errs.ErrBadRequest.WrapMsg("already deleted", "id", id)
		}
		m, err := scanMessage(tx.QueryRow(ctx,
			`UPDATE message SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3, content = NULL, updated_at = $2
			 WHERE id = $1 RETURNING `+messageCols,
			string(id), at, string(by)))
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "message not found", "id", id)
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, q store.MessageQuery) ([]*model.Message, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM message WHERE conversation_id = $1`,
		string(q.ConversationID)).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "count messages")
	}

	var sb strings.Builder
	args := []any{string(q.ConversationID)}
	sb.WriteString(`SELECT ` + messageCols + ` FROM message WHERE conversation_id = $1`)
	if q.Before != nil {
		args = append(args, q.Before.CreatedAt, string(q.Before.ID))
		fmt.Fprintf(&sb, ` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt, string(q.After.ID))
		fmt.Fprintf(&sb, ` AND (created_at, id) > ($%d, $%d)`, len(args)-1, len(args))
	}
	if q.Desc {
		sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	} else {
		sb.WriteString(` ORDER BY created_at ASC, id ASC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if q.Before == nil && q.After == nil && q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, mapErr(err, "list messages")
	}
	defer rows.Close()
	out := make([]*model.Message, 0, q.Limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, mapErr(err, "scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err, "list messages")
	}
	return out, total, nil
}

func (s *Store) ListMessageDetails(ctx context.Context, msgs []*model.Message) (*store.MessageDetails, error) {
	d := &store.MessageDetails{
		Mentions:    make(map[model.MessageID][]model.UserID),
		Reactions:   make(map[model.ReactableID][]model.Reaction),
		Attachments: make(map[model.ReactableID][]model.Attachment),
	}
	if len(msgs) == 0 {
		return d, nil
	}
	msgIDs := make([]string, 0, len(msgs))
	reactIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		msgIDs = append(msgIDs, string(m.ID))
		reactIDs = append(reactIDs, string(m.ReactableID))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT message_id, user_id FROM mention WHERE message_id = ANY($1)`, msgIDs)
	if err != nil {
		return nil, mapErr(err, "list mentions")
	}
	for rows.Next() {
		var mid, uid string
		if err := rows.Scan(&mid, &uid); err != nil {
			rows.Close()
			return nil, mapErr(err, "scan mention")
		}
		d.Mentions[model.MessageID(mid)] = append(d.Mentions[model.MessageID(mid)], model.UserID(uid))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "list mentions")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, reactable_id, user_id, emoji, created_at FROM reaction WHERE reactable_id = ANY($1) ORDER BY created_at, id`, reactIDs)
	if err != nil {
		return nil, mapErr(err, "list reactions")
	}
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr(err, "scan reaction")
		}
		d.Reactions[r.ReactableID] = append(d.Reactions[r.ReactableID], r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "list reactions")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, reactable_id, file_ref, created_at FROM attachment WHERE reactable_id = ANY($1) ORDER BY created_at, id`, reactIDs)
	if err != nil {
		return nil, mapErr(err, "list attachments")
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Attachment
		var rid string
		if err := rows.Scan(&a.ID, &rid, &a.FileRef, &a.CreatedAt); err != nil {
			return nil, mapErr(err, "scan attachment")
		}
		a.ReactableID = model.ReactableID(rid)
		a.CreatedAt = a.CreatedAt.UTC()
		d.Attachments[a.ReactableID] = append(d.Attachments[a.ReactableID], a)
	}
	return d, mapErr(rows.Err(), "list attachments")
}

func (s *Store) CountMessagesAfter(ctx context.Context, conv model.ConversationID, after time.Time, exclude model.UserID) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM message
		 WHERE conversation_id = $1 AND created_at > $2 AND NOT is_deleted AND sender_id <> $3`,
		string(conv), after, string(exclude)).Scan(&n)
	if err != nil {
		return 0, mapErr(err, "count unread")
	}
	return n, nil
}

func scanReaction(row pgx.Row) (model.Reaction, error) {
	var r model.Reaction
	var rid, uid string
	if err := row.Scan(&r.ID, &rid, &uid, &r.Emoji, &r.CreatedAt); err != nil {
		return r, err
	}
	r.ReactableID = model.ReactableID(rid)
	r.UserID = model.UserID(uid)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// ToggleReaction 先删；没删到再插，插入撞唯一约束说明并发的另一方已插入，仍算 ADDED
func (s *Store) ToggleReaction(ctx context.Context, r *model.Reaction) (model.ReactionAction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var action model.ReactionAction
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM reaction WHERE reactable_id = $1 AND user_id = $2 AND emoji = $3`,
			string(r.ReactableID), string(r.UserID), r.Emoji)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			action = model.ReactionRemoved
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO reaction (id, reactable_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (reactable_id, user_id, emoji) DO NOTHING`,
			r.ID, string(r.ReactableID), string(r.UserID), r.Emoji, r.CreatedAt); err != nil {
			return err
		}
		action = model.ReactionAdded
		return nil
	})
	if err != nil {
		return "", mapErr(err, "toggle reaction", "reactable", r.ReactableID)
	}
	return action, nil
}

func (s *Store) ListReactions(ctx context.Context, reactable model.ReactableID) ([]model.Reaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT id, reactable_id, user_id, emoji, created_at FROM reaction WHERE reactable_id = $1 ORDER BY created_at, id`,
		string(reactable))
	if err != nil {
		return nil, mapErr(err, "list reactions")
	}
	defer rows.Close()
	out := make([]model.Reaction, 0)
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, mapErr(err, "scan reaction")
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err(), "list reactions")
}
