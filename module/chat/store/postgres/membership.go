package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

func (s *Store) IsChannelMember(ctx context.Context, user model.UserID, channel model.ChannelID) (bool, error) {
	role, err := s.ChannelRoleOf(ctx, user, channel)
	if err != nil {
		return false, err
	}
	return role != model.ChannelRoleNone, nil
}

func (s *Store) ChannelRoleOf(ctx context.Context, user model.UserID, channel model.ChannelID) (model.ChannelRole, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM channel_member WHERE channel_id = $1 AND user_id = $2`,
		string(channel), string(user)).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChannelRoleNone, nil
	}
	if err != nil {
		return model.ChannelRoleNone, mapErr(err, "channel role", "channel", channel)
	}
	return model.ParseChannelRole(role)
}

func (s *Store) ChannelWorkspace(ctx context.Context, channel model.ChannelID) (model.WorkspaceID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var ws string
	err := s.pool.QueryRow(ctx, `SELECT workspace_id FROM channel WHERE id = $1`, string(channel)).Scan(&ws)
	if err != nil {
		return "", mapErr(err, "channel not found", "channel", channel)
	}
	return model.WorkspaceID(ws), nil
}

func (s *Store) WorkspaceRoleOf(ctx context.Context, user model.UserID, workspace model.WorkspaceID) (model.WorkspaceRole, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM workspace_member WHERE workspace_id = $1 AND user_id = $2`,
		string(workspace), string(user)).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkspaceRoleNone, nil
	}
	if err != nil {
		return model.WorkspaceRoleNone, mapErr(err, "workspace role", "workspace", workspace)
	}
	return model.ParseWorkspaceRole(role)
}

func (s *Store) DirectParticipants(ctx context.Context, conv model.ConversationID) (model.UserID, model.UserID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var low, high string
	err := s.pool.QueryRow(ctx,
		`SELECT user_low, user_high FROM conversation WHERE id = $1 AND kind = 'DIRECT'`,
		string(conv)).Scan(&low, &high)
	if err != nil {
		return "", "", mapErr(err, "direct conversation not found", "conversation", conv)
	}
	return model.UserID(low), model.UserID(high), nil
}

func (s *Store) LookupUsers(ctx context.Context, users []model.UserID) (map[model.UserID]model.User, error) {
	out := make(map[model.UserID]model.User, len(users))
	if len(users) == 0 {
		return out, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, avatar_url FROM chat_user WHERE id = ANY($1)`, strs(users))
	if err != nil {
		return nil, mapErr(err, "lookup users")
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, avatar string
		if err := rows.Scan(&id, &name, &avatar); err != nil {
			return nil, mapErr(err, "scan user")
		}
		out[model.UserID(id)] = model.User{ID: model.UserID(id), DisplayName: name, AvatarURL: avatar}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "lookup users")
	}
	return out, nil
}

// ===== seed, used by local runs and the integration test =====

func (s *Store) PutUser(ctx context.Context, u model.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_user (id, display_name, avatar_url) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`,
		string(u.ID), u.DisplayName, u.AvatarURL)
	return mapErr(err, "put user")
}

func (s *Store) PutChannel(ctx context.Context, ch model.ChannelID, ws model.WorkspaceID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channel (id, workspace_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		string(ch), string(ws))
	return mapErr(err, "put channel")
}

func (s *Store) PutWorkspaceMember(ctx context.Context, ws model.WorkspaceID, user model.UserID, role model.WorkspaceRole) error {
	if role == model.WorkspaceRoleNone {
		return errs.ErrBadRequest.WrapMsg("role NONE is not stored")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workspace_member (workspace_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		string(ws), string(user), role.String())
	return mapErr(err, "put workspace member")
}

func (s *Store) PutChannelMember(ctx context.Context, ch model.ChannelID, user model.UserID, role model.ChannelRole) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var err error
	if role == model.ChannelRoleNone {
		_, err = s.pool.Exec(ctx, `DELETE FROM channel_member WHERE channel_id = $1 AND user_id = $2`,
			string(ch), string(user))
	} else {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO channel_member (channel_id, user_id, role) VALUES ($1, $2, $3)
			 ON CONFLICT (channel_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
			string(ch), string(user), role.String())
	}
	return mapErr(err, "put channel member")
}
