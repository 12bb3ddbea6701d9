package rbac

import (
	"fmt"
	"strings"
)

// ResourceType represents a resource level that can be targeted by a check
type ResourceType string

const (
	ResourceWorkspace ResourceType = "workspace"
	ResourceBoard     ResourceType = "board"
	ResourceList      ResourceType = "list"
	ResourceCard      ResourceType = "card"
)

// Valid reports whether the resource type is known
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceWorkspace, ResourceBoard, ResourceList, ResourceCard:
		return true
	}
	return false
}

// Scope identifies the resource a membership row or a cached decision applies to.
// Only workspaces and boards are scopes; lists and cards resolve to their board.
type Scope struct {
	Type ResourceType `json:"type"`
	ID   int64        `json:"id"`
}

// String returns the scope as "type:id"
func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// WorkspaceScope returns the scope of a workspace
func WorkspaceScope(id int64) Scope { return Scope{Type: ResourceWorkspace, ID: id} }

// BoardScope returns the scope of a board
func BoardScope(id int64) Scope { return Scope{Type: ResourceBoard, ID: id} }

// Anonymous is the user id of an unauthenticated caller
const Anonymous int64 = 0

// Role is a closed enumeration of the built-in roles.
// The prefix of the name encodes the scope the role is assigned at.
type Role string

const (
	RoleNone Role = ""

	RoleWorkspaceAdmin     Role = "workspace_admin"
	RoleWorkspaceModerator Role = "workspace_moderator"
	RoleWorkspaceMember    Role = "workspace_member"
	RoleWorkspaceObserver  Role = "workspace_observer"

	RoleBoardOwner     Role = "board_owner"
	RoleBoardAdmin     Role = "board_admin"
	RoleBoardModerator Role = "board_moderator"
	RoleBoardMember    Role = "board_member"
	RoleBoardObserver  Role = "board_observer"
)

// Tier is the common ordinal scale workspace and board roles are compared on
type Tier int

const (
	TierNone Tier = iota
	TierObserver
	TierMember
	TierModerator
	TierAdmin
)

// roleTiers is the single precedence table for every role.
var roleTiers = map[Role]Tier{
	RoleWorkspaceAdmin:     TierAdmin,
	RoleWorkspaceModerator: TierModerator,
	RoleWorkspaceMember:    TierMember,
	RoleWorkspaceObserver:  TierObserver,
	RoleBoardOwner:         TierAdmin,
	RoleBoardAdmin:         TierAdmin,
	RoleBoardModerator:     TierModerator,
	RoleBoardMember:        TierMember,
	RoleBoardObserver:      TierObserver,
}

// ParseRole converts a stored role name into a Role
func ParseRole(name string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(name)))
	if _, ok := roleTiers[role]; !ok {
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// Tier returns the role's position on the common ordinal scale
func (r Role) Tier() Tier {
	return roleTiers[r]
}

// Scope returns the resource level the role is assigned at
func (r Role) Scope() ResourceType {
	switch {
	case strings.HasPrefix(string(r), "workspace_"):
		return ResourceWorkspace
	case strings.HasPrefix(string(r), "board_"):
		return ResourceBoard
	}
	return ""
}

// Valid reports whether the role is one of the built-in roles
func (r Role) Valid() bool {
	_, ok := roleTiers[r]
	return ok
}

// CanGrant reports whether a caller holding granter may hand role to someone
// else. A grant never exceeds the granter's tier, and board_owner is granted
// only by a board owner or a workspace admin.
func CanGrant(granter, role Role) bool {
	if !granter.Valid() || !role.Valid() || role.Tier() > granter.Tier() {
		return false
	}
	if role == RoleBoardOwner {
		return granter == RoleBoardOwner || granter == RoleWorkspaceAdmin
	}
	return true
}

// Higher returns the higher-privilege of two roles.
// Ties resolve to a, so callers pass the direct board role first.
func Higher(a, b Role) Role {
	if b.Tier() > a.Tier() {
		return b
	}
	return a
}

// Permission is a closed enumeration of "resource:action" tags
type Permission string

const (
	PermWorkspacesRead   Permission = "workspaces:read"
	PermWorkspacesUpdate Permission = "workspaces:update"
	PermWorkspacesDelete Permission = "workspaces:delete"

	PermMembersInvite     Permission = "members:invite"
	PermMembersRemove     Permission = "members:remove"
	PermMembersUpdateRole Permission = "members:update_role"

	PermBoardsCreate Permission = "boards:create"
	PermBoardsRead   Permission = "boards:read"
	PermBoardsUpdate Permission = "boards:update"
	PermBoardsDelete Permission = "boards:delete"

	PermListsCreate  Permission = "lists:create"
	PermListsUpdate  Permission = "lists:update"
	PermListsDelete  Permission = "lists:delete"
	PermListsReorder Permission = "lists:reorder"

	PermCardsCreate Permission = "cards:create"
	PermCardsUpdate Permission = "cards:update"
	PermCardsDelete Permission = "cards:delete"
	PermCardsMove   Permission = "cards:move"

	PermCommentsCreate   Permission = "comments:create"
	PermCommentsModerate Permission = "comments:moderate"

	PermTemplatesApply Permission = "templates:apply"
)

// AllPermissions lists every known permission
func AllPermissions() []Permission {
	return []Permission{
		PermWorkspacesRead, PermWorkspacesUpdate, PermWorkspacesDelete,
		PermMembersInvite, PermMembersRemove, PermMembersUpdateRole,
		PermBoardsCreate, PermBoardsRead, PermBoardsUpdate, PermBoardsDelete,
		PermListsCreate, PermListsUpdate, PermListsDelete, PermListsReorder,
		PermCardsCreate, PermCardsUpdate, PermCardsDelete, PermCardsMove,
		PermCommentsCreate, PermCommentsModerate,
		PermTemplatesApply,
	}
}

// ParsePermission converts a permission tag into a Permission
func ParsePermission(name string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(name)))
	for _, known := range AllPermissions() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermission, name)
}

// mutatesContent reports whether the permission writes board content
func (p Permission) mutatesContent() bool {
	switch p {
	case PermListsCreate, PermListsUpdate, PermListsDelete, PermListsReorder,
		PermCardsCreate, PermCardsUpdate, PermCardsDelete, PermCardsMove,
		PermCommentsCreate, PermTemplatesApply:
		return true
	}
	return false
}

// PermissionSet is an immutable set of permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains p
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Visibility controls read access independent of membership rows
type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityWorkspace Visibility = "workspace"
	VisibilityPublic    Visibility = "public"
)

// MemberManagePolicy controls who may invite board members
type MemberManagePolicy string

const (
	ManageAdminsOnly MemberManagePolicy = "admins_only"
	ManageAllMembers MemberManagePolicy = "all_members"
)

// Workspace holds the authorization-relevant fields of a workspace
type Workspace struct {
	ID         int64      `json:"id"`
	Visibility Visibility `json:"visibility"`
	IsArchived bool       `json:"is_archived"`
}

// Board holds the authorization-relevant fields of a board
type Board struct {
	ID                 int64              `json:"id"`
	WorkspaceID        int64              `json:"workspace_id"`
	Visibility         Visibility         `json:"visibility"`
	MemberManagePolicy MemberManagePolicy `json:"member_manage_policy"`
	IsClosed           bool               `json:"is_closed"`
}

// Membership is a (user, resource, role) row with the role name joined in
type Membership struct {
	ID         int64        `json:"id"`
	UserID     int64        `json:"user_id"`
	Scope      ResourceType `json:"scope"`
	ResourceID int64        `json:"resource_id"`
	Role       Role         `json:"role"`
}

// RoleInfo is a catalog role row
type RoleInfo struct {
	ID          int64        `json:"id"`
	Name        Role         `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// Clone returns a copy that shares no memory with r
func (r *RoleInfo) Clone() *RoleInfo {
	out := *r
	out.Permissions = append([]Permission(nil), r.Permissions...)
	return &out
}

// BuiltInRoles returns all built-in role definitions
func BuiltInRoles() []RoleInfo {
	boardRead := []Permission{PermBoardsRead}
	contribute := []Permission{
		PermBoardsRead,
		PermListsCreate, PermListsUpdate, PermListsReorder,
		PermCardsCreate, PermCardsUpdate, PermCardsMove,
		PermCommentsCreate,
		PermTemplatesApply,
	}
	moderate := append(append([]Permission{}, contribute...),
		PermListsDelete, PermCardsDelete, PermCommentsModerate,
	)
	administer := append(append([]Permission{}, moderate...),
		PermBoardsUpdate, PermBoardsDelete,
		PermMembersInvite, PermMembersRemove, PermMembersUpdateRole,
	)

	return []RoleInfo{
		{
			Name:        RoleWorkspaceAdmin,
			DisplayName: "Workspace Admin",
			Description: "Full control of the workspace and every board in it",
			Permissions: append(append([]Permission{}, administer...),
				PermWorkspacesRead, PermWorkspacesUpdate, PermWorkspacesDelete, PermBoardsCreate,
			),
		},
		{
			Name:        RoleWorkspaceModerator,
			DisplayName: "Workspace Moderator",
			Description: "Moderates content on every board in the workspace",
			Permissions: append(append([]Permission{}, moderate...),
				PermWorkspacesRead, PermBoardsCreate, PermMembersInvite,
			),
		},
		{
			Name:        RoleWorkspaceMember,
			DisplayName: "Workspace Member",
			Description: "Creates boards and contributes to workspace boards",
			Permissions: append(append([]Permission{}, contribute...),
				PermWorkspacesRead, PermBoardsCreate,
			),
		},
		{
			Name:        RoleWorkspaceObserver,
			DisplayName: "Workspace Observer",
			Description: "Read-only access to the workspace",
			Permissions: append(append([]Permission{}, boardRead...), PermWorkspacesRead),
		},
		{
			Name:        RoleBoardOwner,
			DisplayName: "Board Owner",
			Description: "Created the board; full control of it",
			Permissions: administer,
		},
		{
			Name:        RoleBoardAdmin,
			DisplayName: "Board Admin",
			Description: "Full control of the board",
			Permissions: administer,
		},
		{
			Name:        RoleBoardModerator,
			DisplayName: "Board Moderator",
			Description: "Moderates lists, cards and comments",
			Permissions: moderate,
		},
		{
			Name:        RoleBoardMember,
			DisplayName: "Board Member",
			Description: "Creates and edits lists and cards",
			Permissions: contribute,
		},
		{
			Name:        RoleBoardObserver,
			DisplayName: "Board Observer",
			Description: "Read-only access to the board",
			Permissions: boardRead,
		},
	}
}
