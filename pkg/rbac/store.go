package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MembershipStore reads workspace and board membership rows.
// Absent rows are reported as (nil, nil).
type MembershipStore interface {
	WorkspaceMembership(ctx context.Context, userID, workspaceID int64) (*Membership, error)
	BoardMembership(ctx context.Context, userID, boardID int64) (*Membership, error)
	WorkspaceIDForBoard(ctx context.Context, boardID int64) (int64, error)
}

// ResourceStore reads the visibility flags of workspaces and boards and
// translates list and card ids into their owning board
type ResourceStore interface {
	Workspace(ctx context.Context, workspaceID int64) (*Workspace, error)
	Board(ctx context.Context, boardID int64) (*Board, error)
	BoardIDForList(ctx context.Context, listID int64) (int64, error)
	BoardIDForCard(ctx context.Context, cardID int64) (int64, error)
}

// SQLStore implements MembershipStore, ResourceStore and Catalog on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// WorkspaceMembership returns the user's membership row in a workspace
func (s *SQLStore) WorkspaceMembership(ctx context.Context, userID, workspaceID int64) (*Membership, error) {
	query := `
		SELECT m.id, m.user_id, m.workspace_id, r.name
		FROM workspace_memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.workspace_id = $2
	`
	return s.membership(ctx, ResourceWorkspace, query, userID, workspaceID)
}

// BoardMembership returns the user's membership row on a board
func (s *SQLStore) BoardMembership(ctx context.Context, userID, boardID int64) (*Membership, error) {
	query := `
		SELECT m.id, m.user_id, m.board_id, r.name
		FROM board_memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.board_id = $2
	`
	return s.membership(ctx, ResourceBoard, query, userID, boardID)
}

func (s *SQLStore) membership(ctx context.Context, scope ResourceType, query string, userID, resourceID int64) (*Membership, error) {
	var m Membership
	var roleName string
	err := s.db.QueryRowContext(ctx, query, userID, resourceID).Scan(&m.ID, &m.UserID, &m.ResourceID, &roleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get %s membership: %v", ErrStoreUnavailable, scope, err)
	}

	role, err := ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	m.Scope = scope
	m.Role = role
	return &m, nil
}

// WorkspaceIDForBoard returns the workspace that owns a board
func (s *SQLStore) WorkspaceIDForBoard(ctx context.Context, boardID int64) (int64, error) {
	return s.lookupID(ctx, `SELECT workspace_id FROM boards WHERE id = $1`, "board", boardID)
}

// BoardIDForList returns the board that owns a list
func (s *SQLStore) BoardIDForList(ctx context.Context, listID int64) (int64, error) {
	return s.lookupID(ctx, `SELECT board_id FROM lists WHERE id = $1`, "list", listID)
}

// BoardIDForCard returns the board that owns a card (through its list)
func (s *SQLStore) BoardIDForCard(ctx context.Context, cardID int64) (int64, error) {
	query := `
		SELECT l.board_id
		FROM cards c
		JOIN lists l ON l.id = c.list_id
		WHERE c.id = $1
	`
	return s.lookupID(ctx, query, "card", cardID)
}

func (s *SQLStore) lookupID(ctx context.Context, query, kind string, id int64) (int64, error) {
	var out int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to resolve %s %d: %v", ErrStoreUnavailable, kind, id, err)
	}
	return out, nil
}

// Workspace returns a workspace's authorization fields
func (s *SQLStore) Workspace(ctx context.Context, workspaceID int64) (*Workspace, error) {
	query := `SELECT id, visibility, is_archived FROM workspaces WHERE id = $1`

	var ws Workspace
	var visibility string
	err := s.db.QueryRowContext(ctx, query, workspaceID).Scan(&ws.ID, &visibility, &ws.IsArchived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workspace %d", ErrNotFound, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get workspace: %v", ErrStoreUnavailable, err)
	}
	ws.Visibility = Visibility(visibility)
	return &ws, nil
}

// Board returns a board's authorization fields
func (s *SQLStore) Board(ctx context.Context, boardID int64) (*Board, error) {
	query := `
		SELECT id, workspace_id, visibility, member_manage_policy, is_closed
		FROM boards
		WHERE id = $1
	`

	var b Board
	var visibility, policy string
	err := s.db.QueryRowContext(ctx, query, boardID).Scan(&b.ID, &b.WorkspaceID, &visibility, &policy, &b.IsClosed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: board %d", ErrNotFound, boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get board: %v", ErrStoreUnavailable, err)
	}
	b.Visibility = Visibility(visibility)
	b.MemberManagePolicy = MemberManagePolicy(policy)
	return &b, nil
}

// PermissionsForRole returns the permission names mapped to a role
func (s *SQLStore) PermissionsForRole(ctx context.Context, role Role) (PermissionSet, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = $1
	`

	rows, err := s.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list role permissions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	set := make(PermissionSet)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: failed to scan permission: %v", ErrStoreUnavailable, err)
		}
		perm, err := ParsePermission(name)
		if err != nil {
			// Permissions seeded by a newer release are ignored rather than granted.
			continue
		}
		set[perm] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return set, nil
}

// RoleByName retrieves a catalog role by name
func (s *SQLStore) RoleByName(ctx context.Context, name string) (*RoleInfo, error) {
	role, err := ParseRole(name)
	if err != nil {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}

	query := `SELECT id, name, display_name, description FROM roles WHERE name = $1`

	var info RoleInfo
	var storedName string
	var description sql.NullString
	err = s.db.QueryRowContext(ctx, query, string(role)).Scan(&info.ID, &storedName, &info.DisplayName, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get role: %v", ErrStoreUnavailable, err)
	}
	info.Name = role
	if description.Valid {
		info.Description = description.String
	}

	perms, err := s.PermissionsForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	info.Permissions = make([]Permission, 0, len(perms))
	for _, p := range AllPermissions() {
		if perms.Has(p) {
			info.Permissions = append(info.Permissions, p)
		}
	}
	return &info, nil
}
