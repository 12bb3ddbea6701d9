package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/corkboard/pkg/rbac"
)

// CreateInvitation stores an invitation and fills in its token
func (s *PostgresService) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	if err := validateRole(invitation.Scope, invitation.Role); err != nil {
		return err
	}
	if !strings.Contains(invitation.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidRequest, invitation.Email)
	}

	now := s.now()
	invitation.Token = s.newToken()
	invitation.CreatedAt = now
	if invitation.ExpiresAt.IsZero() {
		invitation.ExpiresAt = now.Add(InvitationTTL)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (token, scope, resource_id, email, role_id, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, (SELECT id FROM roles WHERE name = $5), $6, $7, $8)
		RETURNING id
	`, invitation.Token, string(invitation.Scope), invitation.ResourceID, invitation.Email,
		string(invitation.Role), invitation.InvitedBy, invitation.CreatedAt, invitation.ExpiresAt).
		Scan(&invitation.ID)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

// AcceptInvitation redeems an invitation for userID. A user who already holds
// a role on the resource keeps it; the invitation is still consumed.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, userID int64) (*Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	invitation := &Invitation{Token: token}
	var scope, roleName string
	var invitedBy sql.NullInt64
	var acceptedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT i.id, i.scope, i.resource_id, i.email, r.name, i.invited_by, i.created_at, i.expires_at, i.accepted_at
		FROM invitations i
		JOIN roles r ON r.id = i.role_id
		WHERE i.token = $1
		FOR UPDATE OF i
	`, token).Scan(
		&invitation.ID, &scope, &invitation.ResourceID, &invitation.Email, &roleName,
		&invitedBy, &invitation.CreatedAt, &invitation.ExpiresAt, &acceptedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invitation", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	invitation.Scope = rbac.ResourceType(scope)
	invitation.InvitedBy = invitedBy.Int64
	if invitation.Role, err = rbac.ParseRole(roleName); err != nil {
		return nil, err
	}

	if acceptedAt.Valid {
		return nil, ErrInvitationAccepted
	}
	now := s.now()
	if !now.Before(invitation.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	inserted, err := insertMembership(ctx, tx, invitation.Scope, invitation.ResourceID, userID, invitation.Role)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3`,
		now, userID, invitation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}
	invitation.AcceptedAt = &now
	invitation.AcceptedBy = &userID

	if inserted {
		s.notify(ctx, event(rbac.MembershipCreated, invitation.Scope, invitation.ResourceID, userID))
	}
	return invitation, nil
}

// CleanupExpiredInvitations removes expired invitations that were never accepted
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < $1 AND accepted_at IS NULL`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Removed expired invitations")
		if s.metrics != nil {
			s.metrics.InvitationsExpiredTotal.Add(float64(removed))
		}
	}
	return removed, nil
}

// CreateJoinLink stores a board join link and fills in its token
func (s *PostgresService) CreateJoinLink(ctx context.Context, link *JoinLink) error {
	if err := validateRole(rbac.ResourceBoard, link.Role); err != nil {
		return err
	}
	if link.Role == rbac.RoleBoardOwner {
		return fmt.Errorf("%w: join links cannot grant %s", ErrInvalidRole, link.Role)
	}
	if link.MaxUses < 0 {
		return fmt.Errorf("%w: max uses must not be negative", ErrInvalidRequest)
	}

	link.Token = s.newToken()
	link.CreatedAt = s.now()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO join_links (token, board_id, role_id, created_by, created_at, expires_at, max_uses)
		VALUES ($1, $2, (SELECT id FROM roles WHERE name = $3), $4, $5, $6, $7)
		RETURNING id
	`, link.Token, link.BoardID, string(link.Role), link.CreatedBy, link.CreatedAt, link.ExpiresAt, link.MaxUses).
		Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("failed to create join link: %w", err)
	}

	return nil
}

// JoinByLink adds userID to the link's board. Joining a board the user is
// already a member of does not consume a use.
func (s *PostgresService) JoinByLink(ctx context.Context, token string, userID int64) (*JoinLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	link := &JoinLink{Token: token}
	var roleName string
	var createdBy sql.NullInt64
	var expiresAt, revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT l.id, l.board_id, r.name, l.created_by, l.created_at, l.expires_at, l.max_uses, l.use_count, l.revoked_at
		FROM join_links l
		JOIN roles r ON r.id = l.role_id
		WHERE l.token = $1
		FOR UPDATE OF l
	`, token).Scan(
		&link.ID, &link.BoardID, &roleName, &createdBy, &link.CreatedAt,
		&expiresAt, &link.MaxUses, &link.UseCount, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: join link", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get join link: %w", err)
	}
	link.CreatedBy = createdBy.Int64
	link.ExpiresAt = nullTime(expiresAt)
	link.RevokedAt = nullTime(revokedAt)
	if link.Role, err = rbac.ParseRole(roleName); err != nil {
		return nil, err
	}

	if !link.usable(s.now()) {
		return nil, ErrJoinLinkInvalid
	}

	inserted, err := insertMembership(ctx, tx, rbac.ResourceBoard, link.BoardID, userID, link.Role)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyMember
	}

	if _, err := tx.ExecContext(ctx, `UPDATE join_links SET use_count = use_count + 1 WHERE id = $1`, link.ID); err != nil {
		return nil, fmt.Errorf("failed to update join link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	link.UseCount++

	s.notify(ctx, event(rbac.MembershipCreated, rbac.ResourceBoard, link.BoardID, userID))
	return link, nil
}

// RevokeJoinLink disables a join link of a board
func (s *PostgresService) RevokeJoinLink(ctx context.Context, boardID, linkID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE join_links SET revoked_at = $1 WHERE id = $2 AND board_id = $3 AND revoked_at IS NULL`,
		s.now(), linkID, boardID)
	if err != nil {
		return fmt.Errorf("failed to revoke join link: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: join link %d", ErrNotFound, linkID)
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
