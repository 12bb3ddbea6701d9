package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/corkboard/pkg/rbac"
)

// ListWorkspaceMembers lists the members of a workspace in join order
func (s *PostgresService) ListWorkspaceMembers(ctx context.Context, workspaceID int64) ([]*Member, error) {
	return s.listMembers(ctx, rbac.ResourceWorkspace, workspaceID)
}

// ListBoardMembers lists the direct members of a board in join order.
// Workspace members who only inherit access are not included.
func (s *PostgresService) ListBoardMembers(ctx context.Context, boardID int64) ([]*Member, error) {
	return s.listMembers(ctx, rbac.ResourceBoard, boardID)
}

// AddWorkspaceMember adds a user to a workspace
func (s *PostgresService) AddWorkspaceMember(ctx context.Context, workspaceID, userID int64, role rbac.Role) error {
	return s.addMember(ctx, rbac.ResourceWorkspace, workspaceID, userID, role)
}

// AddBoardMember adds a user to a board
func (s *PostgresService) AddBoardMember(ctx context.Context, boardID, userID int64, role rbac.Role) error {
	return s.addMember(ctx, rbac.ResourceBoard, boardID, userID, role)
}

// UpdateWorkspaceMemberRole changes a workspace member's role
func (s *PostgresService) UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID int64, role rbac.Role) error {
	return s.updateMemberRole(ctx, rbac.ResourceWorkspace, workspaceID, userID, role)
}

// UpdateBoardMemberRole changes a board member's role
func (s *PostgresService) UpdateBoardMemberRole(ctx context.Context, boardID, userID int64, role rbac.Role) error {
	return s.updateMemberRole(ctx, rbac.ResourceBoard, boardID, userID, role)
}

// RemoveWorkspaceMember removes a user from a workspace. Their direct board
// memberships are kept.
func (s *PostgresService) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID int64) error {
	return s.removeMember(ctx, rbac.ResourceWorkspace, workspaceID, userID)
}

// RemoveBoardMember removes a user from a board
func (s *PostgresService) RemoveBoardMember(ctx context.Context, boardID, userID int64) error {
	return s.removeMember(ctx, rbac.ResourceBoard, boardID, userID)
}

func (s *PostgresService) listMembers(ctx context.Context, scope rbac.ResourceType, resourceID int64) ([]*Member, error) {
	table, column := membershipTable(scope)
	query := fmt.Sprintf(`
		SELECT m.id, m.user_id, r.name, u.username, u.email, u.full_name, m.created_at
		FROM %s m
		JOIN roles r ON r.id = m.role_id
		JOIN users u ON u.id = m.user_id
		WHERE m.%s = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, table, column)
	rows, err := s.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member := &Member{Scope: scope, ResourceID: resourceID}
		var roleName string
		var email, fullName sql.NullString
		if err := rows.Scan(
			&member.ID, &member.UserID, &roleName, &member.Username, &email, &fullName, &member.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if member.Role, err = rbac.ParseRole(roleName); err != nil {
			return nil, err
		}
		member.Email = email.String
		member.FullName = fullName.String
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return members, nil
}

func (s *PostgresService) addMember(ctx context.Context, scope rbac.ResourceType, resourceID, userID int64, role rbac.Role) error {
	if err := validateRole(scope, role); err != nil {
		return err
	}

	inserted, err := insertMembership(ctx, s.db, scope, resourceID, userID, role)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyMember
	}

	s.notify(ctx, event(rbac.MembershipCreated, scope, resourceID, userID))
	return nil
}

func (s *PostgresService) updateMemberRole(ctx context.Context, scope rbac.ResourceType, resourceID, userID int64, role rbac.Role) error {
	if err := validateRole(scope, role); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := lockMember(ctx, tx, scope, resourceID, userID)
	if err != nil {
		return err
	}
	if current.role == role {
		return nil
	}
	if current.role == ownerRole(scope) && current.owners <= 1 {
		return ErrLastOwner
	}

	table, column := membershipTable(scope)
	query := fmt.Sprintf(`
		UPDATE %s
		SET role_id = (SELECT id FROM roles WHERE name = $1), updated_at = $2
		WHERE %s = $3 AND user_id = $4
	`, table, column)
	if _, err := tx.ExecContext(ctx, query, string(role), s.now(), resourceID, userID); err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role change: %w", err)
	}

	s.notify(ctx, event(rbac.MembershipRoleChanged, scope, resourceID, userID))
	return nil
}

func (s *PostgresService) removeMember(ctx context.Context, scope rbac.ResourceType, resourceID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := lockMember(ctx, tx, scope, resourceID, userID)
	if err != nil {
		return err
	}
	if current.role == ownerRole(scope) && current.owners <= 1 {
		return ErrLastOwner
	}

	table, column := membershipTable(scope)
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, table, column)
	if _, err := tx.ExecContext(ctx, query, resourceID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member removal: %w", err)
	}

	s.notify(ctx, event(rbac.MembershipDeleted, scope, resourceID, userID))
	return nil
}

type lockedMember struct {
	role   rbac.Role
	owners int
}

// lockMember locks the owner rows of the resource and then the member's row.
// Owner rows are always locked first and in id order, so two concurrent
// demotions serialize instead of both seeing a second owner.
func lockMember(ctx context.Context, tx *sql.Tx, scope rbac.ResourceType, resourceID, userID int64) (*lockedMember, error) {
	table, column := membershipTable(scope)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.user_id
		FROM %s m
		JOIN roles r ON r.id = m.role_id
		WHERE m.%s = $1 AND r.name = $2
		ORDER BY m.id
		FOR UPDATE OF m
	`, table, column), resourceID, string(ownerRole(scope)))
	if err != nil {
		return nil, fmt.Errorf("failed to lock owners: %w", err)
	}
	locked := &lockedMember{}
	for rows.Next() {
		var ownerID int64
		if err := rows.Scan(&ownerID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		locked.owners++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock owners: %w", err)
	}

	var roleName string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT r.name
		FROM %s m
		JOIN roles r ON r.id = m.role_id
		WHERE m.%s = $1 AND m.user_id = $2
		FOR UPDATE OF m
	`, table, column), resourceID, userID).Scan(&roleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d is not a member of %s %d", ErrNotFound, userID, scope, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if locked.role, err = rbac.ParseRole(roleName); err != nil {
		return nil, err
	}
	return locked, nil
}
