package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/corkboard/pkg/observability"
	"github.com/platinummonkey/corkboard/pkg/rbac"
)

// InvitationTTL is how long an invitation stays redeemable by default
const InvitationTTL = 7 * 24 * time.Hour

// execQuerier is satisfied by *sql.DB and *sql.Tx
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	hook     rbac.MembershipHook
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newToken func() string
}

// Option configures a PostgresService
type Option func(*PostgresService)

// WithHook sets the hook notified after every committed membership change
func WithHook(hook rbac.MembershipHook) Option {
	return func(s *PostgresService) { s.hook = hook }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *PostgresService) { s.logger = logger }
}

// WithMetrics enables mutation counters
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *PostgresService) { s.metrics = metrics }
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, opts ...Option) *PostgresService {
	s := &PostgresService{
		db:       db,
		hook:     rbac.Hooks(nil),
		logger:   observability.NewLogger(observability.InfoLevel, nil),
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hook == nil {
		s.hook = rbac.Hooks(nil)
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	return s
}

// membershipTable returns the membership table and its resource column for a scope
func membershipTable(scope rbac.ResourceType) (table, column string) {
	if scope == rbac.ResourceWorkspace {
		return "workspace_memberships", "workspace_id"
	}
	return "board_memberships", "board_id"
}

// ownerRole is the role every workspace or board must keep at least one holder of
func ownerRole(scope rbac.ResourceType) rbac.Role {
	if scope == rbac.ResourceWorkspace {
		return rbac.RoleWorkspaceAdmin
	}
	return rbac.RoleBoardOwner
}

func validateRole(scope rbac.ResourceType, role rbac.Role) error {
	if scope != rbac.ResourceWorkspace && scope != rbac.ResourceBoard {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRole, scope)
	}
	if !role.Valid() || role.Scope() != scope {
		return fmt.Errorf("%w: %q on %s", ErrInvalidRole, role, scope)
	}
	return nil
}

// notify fires the hook for committed changes
func (s *PostgresService) notify(ctx context.Context, events ...rbac.MembershipEvent) {
	for _, event := range events {
		if s.metrics != nil {
			s.metrics.MembershipMutationsTotal.WithLabelValues(string(event.Kind), string(event.Scope)).Inc()
		}
		s.hook.MembershipChanged(ctx, event)
	}
}

func event(kind rbac.MembershipEventKind, scope rbac.ResourceType, resourceID, userID int64) rbac.MembershipEvent {
	return rbac.MembershipEvent{Kind: kind, Scope: scope, UserID: userID, ResourceID: resourceID}
}

// insertMembership adds a row unless the user already holds one on the resource
func insertMembership(ctx context.Context, q execQuerier, scope rbac.ResourceType, resourceID, userID int64, role rbac.Role) (bool, error) {
	table, column := membershipTable(scope)
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, %s, role_id)
		VALUES ($1, $2, (SELECT id FROM roles WHERE name = $3))
		ON CONFLICT (user_id, %s) DO NOTHING
	`, table, column, column)
	result, err := q.ExecContext(ctx, query, userID, resourceID, string(role))
	if err != nil {
		return false, fmt.Errorf("failed to add %s member: %w", scope, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CreateWorkspace creates a workspace and makes its creator the workspace admin
func (s *PostgresService) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if strings.TrimSpace(ws.Name) == "" {
		return fmt.Errorf("%w: workspace name is required", ErrInvalidRequest)
	}
	if ws.Visibility == "" {
		ws.Visibility = rbac.VisibilityPrivate
	}
	if ws.Visibility != rbac.VisibilityPrivate && ws.Visibility != rbac.VisibilityPublic {
		return fmt.Errorf("%w: invalid workspace visibility %q", ErrInvalidRequest, ws.Visibility)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (name, visibility, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, ws.Name, string(ws.Visibility), ws.CreatedBy).Scan(&ws.ID, &ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	if _, err := insertMembership(ctx, tx, rbac.ResourceWorkspace, ws.ID, ws.CreatedBy, rbac.RoleWorkspaceAdmin); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workspace: %w", err)
	}

	s.notify(ctx, event(rbac.MembershipCreated, rbac.ResourceWorkspace, ws.ID, ws.CreatedBy))
	return nil
}

// CreateBoard creates a board in a workspace and makes its creator the board owner
func (s *PostgresService) CreateBoard(ctx context.Context, board *Board) error {
	if strings.TrimSpace(board.Name) == "" {
		return fmt.Errorf("%w: board name is required", ErrInvalidRequest)
	}
	if board.Visibility == "" {
		board.Visibility = rbac.VisibilityWorkspace
	}
	switch board.Visibility {
	case rbac.VisibilityPrivate, rbac.VisibilityWorkspace, rbac.VisibilityPublic:
	default:
		return fmt.Errorf("%w: invalid board visibility %q", ErrInvalidRequest, board.Visibility)
	}
	if board.MemberManagePolicy == "" {
		board.MemberManagePolicy = rbac.ManageAdminsOnly
	}
	if board.MemberManagePolicy != rbac.ManageAdminsOnly && board.MemberManagePolicy != rbac.ManageAllMembers {
		return fmt.Errorf("%w: invalid member manage policy %q", ErrInvalidRequest, board.MemberManagePolicy)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var archived bool
	err = tx.QueryRowContext(ctx, `SELECT is_archived FROM workspaces WHERE id = $1 FOR UPDATE`, board.WorkspaceID).Scan(&archived)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: workspace %d", ErrNotFound, board.WorkspaceID)
	}
	if err != nil {
		return fmt.Errorf("failed to get workspace: %w", err)
	}
	if archived {
		return ErrWorkspaceArchived
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO boards (workspace_id, name, visibility, member_manage_policy, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, board.WorkspaceID, board.Name, string(board.Visibility), string(board.MemberManagePolicy), board.CreatedBy).
		Scan(&board.ID, &board.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}

	if _, err := insertMembership(ctx, tx, rbac.ResourceBoard, board.ID, board.CreatedBy, rbac.RoleBoardOwner); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit board: %w", err)
	}

	s.notify(ctx, event(rbac.MembershipCreated, rbac.ResourceBoard, board.ID, board.CreatedBy))
	return nil
}

// DeleteBoard deletes a board. Its memberships go with it; direct members are
// notified of the deleted membership and workspace members of the lost
// inherited access.
func (s *PostgresService) DeleteBoard(ctx context.Context, boardID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	direct, err := collectUserIDs(ctx, tx, `SELECT user_id FROM board_memberships WHERE board_id = $1`, boardID)
	if err != nil {
		return fmt.Errorf("failed to list board members: %w", err)
	}
	inherited, err := collectUserIDs(ctx, tx, `
		SELECT wm.user_id
		FROM workspace_memberships wm
		JOIN boards b ON b.workspace_id = wm.workspace_id
		WHERE b.id = $1
	`, boardID)
	if err != nil {
		return fmt.Errorf("failed to list workspace members: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, boardID)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: board %d", ErrNotFound, boardID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit board deletion: %w", err)
	}

	notified := make(map[int64]bool, len(direct))
	events := make([]rbac.MembershipEvent, 0, len(direct)+len(inherited))
	for _, userID := range direct {
		notified[userID] = true
		events = append(events, event(rbac.MembershipDeleted, rbac.ResourceBoard, boardID, userID))
	}
	for _, userID := range inherited {
		if !notified[userID] {
			events = append(events, event(rbac.MembershipAccessRevoked, rbac.ResourceBoard, boardID, userID))
		}
	}
	s.notify(ctx, events...)
	return nil
}

func collectUserIDs(ctx context.Context, q execQuerier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}
