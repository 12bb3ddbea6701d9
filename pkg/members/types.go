package members

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/corkboard/pkg/rbac"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrAlreadyMember      = errors.New("user is already a member")
	ErrInvalidRole        = errors.New("role cannot be assigned at this scope")
	ErrLastOwner          = errors.New("cannot remove the last owner")
	ErrWorkspaceArchived  = errors.New("workspace is archived")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationAccepted = errors.New("invitation already accepted")
	ErrJoinLinkInvalid    = errors.New("join link is revoked, expired or exhausted")
	ErrRoleAboveCaller    = errors.New("cannot grant a role above your own")
)

// Workspace is a workspace row
type Workspace struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Visibility rbac.Visibility `json:"visibility"`
	IsArchived bool            `json:"is_archived"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Board is a board row
type Board struct {
	ID                 int64                   `json:"id"`
	WorkspaceID        int64                   `json:"workspace_id"`
	Name               string                  `json:"name"`
	Visibility         rbac.Visibility         `json:"visibility"`
	MemberManagePolicy rbac.MemberManagePolicy `json:"member_manage_policy"`
	CreatedBy          int64                   `json:"created_by"`
	CreatedAt          time.Time               `json:"created_at"`
}

// Member is a membership row joined with its user
type Member struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	Scope      rbac.ResourceType `json:"scope"`
	ResourceID int64             `json:"resource_id"`
	Role       rbac.Role         `json:"role"`
	Username   string            `json:"username"`
	Email      string            `json:"email,omitempty"`
	FullName   string            `json:"full_name,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Invitation grants a role on a workspace or board to whoever redeems its token
type Invitation struct {
	ID         int64             `json:"id"`
	Token      string            `json:"token,omitempty"`
	Scope      rbac.ResourceType `json:"scope"`
	ResourceID int64             `json:"resource_id"`
	Email      string            `json:"email"`
	Role       rbac.Role         `json:"role"`
	InvitedBy  int64             `json:"invited_by"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	AcceptedAt *time.Time        `json:"accepted_at,omitempty"`
	AcceptedBy *int64            `json:"accepted_by,omitempty"`
}

// JoinLink is a shareable board link; MaxUses of zero means unlimited
type JoinLink struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token,omitempty"`
	BoardID   int64      `json:"board_id"`
	Role      rbac.Role  `json:"role"`
	CreatedBy int64      `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   int        `json:"max_uses"`
	UseCount  int        `json:"use_count"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// usable reports whether the link can still admit a new member at now
func (l *JoinLink) usable(now time.Time) bool {
	if l.RevokedAt != nil {
		return false
	}
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return false
	}
	return l.MaxUses == 0 || l.UseCount < l.MaxUses
}

// CreateWorkspaceRequest represents request to create a workspace
type CreateWorkspaceRequest struct {
	Name       string          `json:"name"`
	Visibility rbac.Visibility `json:"visibility,omitempty"`
}

// CreateBoardRequest represents request to create a board
type CreateBoardRequest struct {
	Name               string                  `json:"name"`
	Visibility         rbac.Visibility         `json:"visibility,omitempty"`
	MemberManagePolicy rbac.MemberManagePolicy `json:"member_manage_policy,omitempty"`
}

// AddMemberRequest represents request to add a member
type AddMemberRequest struct {
	UserID int64     `json:"user_id"`
	Role   rbac.Role `json:"role"`
}

// UpdateMemberRequest represents request to change a member's role
type UpdateMemberRequest struct {
	Role rbac.Role `json:"role"`
}

// InviteRequest represents request to invite someone by email
type InviteRequest struct {
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

// JoinLinkRequest represents request to create a join link
type JoinLinkRequest struct {
	Role       rbac.Role `json:"role"`
	MaxUses    int       `json:"max_uses,omitempty"`
	ExpiresInH int       `json:"expires_in_hours,omitempty"`
}

// Service defines membership management. Every mutation notifies the
// configured rbac.MembershipHook after its transaction commits.
type Service interface {
	// Resource creation grants the creator the top role
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	CreateBoard(ctx context.Context, board *Board) error
	DeleteBoard(ctx context.Context, boardID int64) error

	// Workspace members
	ListWorkspaceMembers(ctx context.Context, workspaceID int64) ([]*Member, error)
	AddWorkspaceMember(ctx context.Context, workspaceID, userID int64, role rbac.Role) error
	UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID int64, role rbac.Role) error
	RemoveWorkspaceMember(ctx context.Context, workspaceID, userID int64) error

	// Board members
	ListBoardMembers(ctx context.Context, boardID int64) ([]*Member, error)
	AddBoardMember(ctx context.Context, boardID, userID int64, role rbac.Role) error
	UpdateBoardMemberRole(ctx context.Context, boardID, userID int64, role rbac.Role) error
	RemoveBoardMember(ctx context.Context, boardID, userID int64) error

	// Invitations and join links
	CreateInvitation(ctx context.Context, invitation *Invitation) error
	AcceptInvitation(ctx context.Context, token string, userID int64) (*Invitation, error)
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
	CreateJoinLink(ctx context.Context, link *JoinLink) error
	JoinByLink(ctx context.Context, token string, userID int64) (*JoinLink, error)
	RevokeJoinLink(ctx context.Context, boardID, linkID int64) error
}
