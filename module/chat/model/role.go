package model

import (
	"strings"

	"PChatCore/tools/errs"
)

// ChannelRole 频道内角色
type ChannelRole int

const (
	ChannelRoleNone ChannelRole = iota
	ChannelRoleMember
	ChannelRoleAdmin
)

func (r ChannelRole) String() string {
	switch r {
	case ChannelRoleNone:
		return "NONE"
	case ChannelRoleMember:
		return "MEMBER"
	case ChannelRoleAdmin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

func ParseChannelRole(s string) (ChannelRole, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ChannelRoleNone, nil
	case "MEMBER":
		return ChannelRoleMember, nil
	case "ADMIN", "CHANNEL_ADMIN":
		return ChannelRoleAdmin, nil
	}
	return ChannelRoleNone, errs.ErrBadRequest.WrapMsg("unknown channel role", "role", s)
}

// WorkspaceRole 工作区角色
type WorkspaceRole int

const (
	WorkspaceRoleNone WorkspaceRole = iota
	WorkspaceRoleMember
	WorkspaceRolePrivilegeMember
	WorkspaceRoleAdmin
)

func (r WorkspaceRole) String() string {
	switch r {
	case WorkspaceRoleNone:
		return "NONE"
	case WorkspaceRoleMember:
		return "MEMBER"
	case WorkspaceRolePrivilegeMember:
		return "PRIVILEGE_MEMBER"
	case WorkspaceRoleAdmin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

func ParseWorkspaceRole(s string) (WorkspaceRole, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return WorkspaceRoleNone, nil
	case "MEMBER":
		return WorkspaceRoleMember, nil
	case "PRIVILEGE_MEMBER", "PRIVILEGEMEMBER":
		return WorkspaceRolePrivilegeMember, nil
	case "ADMIN", "WORKSPACE_ADMIN":
		return WorkspaceRoleAdmin, nil
	}
	return WorkspaceRoleNone, errs.ErrBadRequest.WrapMsg("unknown workspace role", "role", s)
}
