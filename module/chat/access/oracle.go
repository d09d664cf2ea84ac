// Package access answers whether a user may read or write a conversation.
// It holds no state of its own; every answer comes from the membership store.
package access

import (
	"context"

	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
)

type Oracle struct {
	members store.MembershipStore
}

func NewOracle(members store.MembershipStore) *Oracle {
	return &Oracle{members: members}
}

// CanAccess 频道：成员，或频道所属工作区的管理员；私聊：两位参与者之一
func (o *Oracle) CanAccess(ctx context.Context, user model.UserID, target model.Target) (bool, error) {
	switch target.Kind {
	case model.KindChannel:
		return o.canAccessChannel(ctx, user, target.ChannelID)
	case model.KindDirect:
		low, high, err := o.members.DirectParticipants(ctx, target.ConversationID)
		if errs.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return user == low || user == high, nil
	}
	return false, errs.ErrBadRequest.WrapMsg("unknown conversation kind", "kind", target.Kind)
}

func (o *Oracle) canAccessChannel(ctx context.Context, user model.UserID, channel model.ChannelID) (bool, error) {
	role, err := o.members.ChannelRoleOf(ctx, user, channel)
	if err != nil {
		return false, err
	}
	switch role {
	case model.ChannelRoleMember, model.ChannelRoleAdmin:
		return true, nil
	case model.ChannelRoleNone:
	}

	ws, err := o.members.ChannelWorkspace(ctx, channel)
	if errs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	wsRole, err := o.members.WorkspaceRoleOf(ctx, user, ws)
	if err != nil {
		return false, err
	}
	return isWorkspaceAdmin(wsRole), nil
}

func isWorkspaceAdmin(r model.WorkspaceRole) bool {
	switch r {
	case model.WorkspaceRoleAdmin:
		return true
	case model.WorkspaceRoleNone, model.WorkspaceRoleMember, model.WorkspaceRolePrivilegeMember:
		return false
	}
	return false
}

// Authorize CanAccess 的错误形式，拒绝时返回 Forbidden
func (o *Oracle) Authorize(ctx context.Context, user model.UserID, target model.Target) error {
	ok, err := o.CanAccess(ctx, user, target)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrForbidden.WrapMsg("no access to room", "roomId", target.Room(), "user", user)
	}
	return nil
}

// CanModerate 频道管理员或工作区管理员；私聊没有管理者
func (o *Oracle) CanModerate(ctx context.Context, user model.UserID, target model.Target) (bool, error) {
	switch target.Kind {
	case model.KindDirect:
		return false, nil
	case model.KindChannel:
	default:
		return false, errs.ErrBadRequest.WrapMsg("unknown conversation kind", "kind", target.Kind)
	}

	role, err := o.members.ChannelRoleOf(ctx, user, target.ChannelID)
	if err != nil {
		return false, err
	}
	switch role {
	case model.ChannelRoleAdmin:
		return true, nil
	case model.ChannelRoleNone, model.ChannelRoleMember:
	}
	ws, err := o.members.ChannelWorkspace(ctx, target.ChannelID)
	if err != nil {
		return false, err
	}
	wsRole, err := o.members.WorkspaceRoleOf(ctx, user, ws)
	if err != nil {
		return false, err
	}
	return isWorkspaceAdmin(wsRole), nil
}

func (o *Oracle) IsChannelMember(ctx context.Context, user model.UserID, channel model.ChannelID) (bool, error) {
	return o.members.IsChannelMember(ctx, user, channel)
}

func (o *Oracle) IsWorkspaceMember(ctx context.Context, user model.UserID, ws model.WorkspaceID) (bool, error) {
	role, err := o.members.WorkspaceRoleOf(ctx, user, ws)
	if err != nil {
		return false, err
	}
	switch role {
	case model.WorkspaceRoleMember, model.WorkspaceRolePrivilegeMember, model.WorkspaceRoleAdmin:
		return true, nil
	case model.WorkspaceRoleNone:
	}
	return false, nil
}

func (o *Oracle) ChannelWorkspace(ctx context.Context, channel model.ChannelID) (model.WorkspaceID, error) {
	return o.members.ChannelWorkspace(ctx, channel)
}

// LookupUser 未知用户返回 NotFound
func (o *Oracle) LookupUser(ctx context.Context, user model.UserID) (model.User, error) {
	m, err := o.members.LookupUsers(ctx, []model.UserID{user})
	if err != nil {
		return model.User{}, err
	}
	u, ok := m[user]
	if !ok {
		return model.User{}, errs.ErrNotFound.WrapMsg("user not found", "user", user)
	}
	return u, nil
}

// LookupUsers 未知用户用 id 占位
func (o *Oracle) LookupUsers(ctx context.Context, users []model.UserID) (map[model.UserID]model.User, error) {
	uniq := make([]model.UserID, 0, len(users))
	seen := make(map[model.UserID]struct{}, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		uniq = append(uniq, u)
	}
	found, err := o.members.LookupUsers(ctx, uniq)
	if err != nil {
		return nil, err
	}
	out := make(map[model.UserID]model.User, len(uniq))
	for _, u := range uniq {
		if v, ok := found[u]; ok {
			out[u] = v
		} else {
			out[u] = model.UnknownUser(u)
		}
	}
	return out, nil
}
