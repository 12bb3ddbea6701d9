package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// Check names used for metrics and span names
const (
	CheckBoardPermission     = "board_permission"
	CheckWorkspacePermission = "workspace_permission"
	CheckBoardRole           = "board_role"
	CheckWorkspaceRole       = "workspace_role"
	CheckViewBoard           = "view_board"
	CheckViewWorkspace       = "view_workspace"
)

// Resolver answers authorization queries for (user, resource) pairs.
// It reconciles board and workspace memberships into an effective role,
// consults the catalog for permissions and applies visibility overrides.
type Resolver struct {
	members   MembershipStore
	resources ResourceStore
	catalog   Catalog
	cache     DecisionCache

	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        trace.Tracer
	hideForbidden bool
	loadTimeout   time.Duration

	flights singleflight.Group
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache sets the decision cache; the default caches nothing
func WithCache(cache DecisionCache) Option {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithLogger sets the logger used for operational errors
func WithLogger(logger *observability.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithTracer overrides the tracer (defaults to the global corkboard tracer)
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithLoadTimeout bounds a shared cache-miss load (default 5s)
func WithLoadTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.loadTimeout = timeout
		}
	}
}

// WithHideForbidden reports view denials on non-public resources as not found
func WithHideForbidden(hide bool) Option {
	return func(r *Resolver) { r.hideForbidden = hide }
}

// NewResolver creates a resolver over the given stores
func NewResolver(members MembershipStore, resources ResourceStore, catalog Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		members:   members,
		resources: resources,
		catalog:   catalog,
		cache:     NoopCache{},
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		tracer:    observability.Tracer(),

		loadTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the decision cache the resolver reads through
func (r *Resolver) Cache() DecisionCache {
	return r.cache
}

// CheckKind selects which question a Request asks
type CheckKind string

const (
	CheckView       CheckKind = "view"
	CheckPermission CheckKind = "permission"
	CheckRole       CheckKind = "role"
)

// Request is a single authorization question about a workspace or board
type Request struct {
	Check      CheckKind
	Scope      Scope
	Permission Permission
	Roles      []Role
}

// Decide answers a Request with a Decision. A not-found resource yields a
// "Resource not found" denial together with an error wrapping ErrNotFound;
// store failures yield a fail-closed denial and an ErrStoreUnavailable error.
func (r *Resolver) Decide(ctx context.Context, userID int64, req Request) (Decision, error) {
	switch req.Scope.Type {
	case ResourceWorkspace:
		switch req.Check {
		case CheckView:
			return r.CanViewWorkspace(ctx, userID, req.Scope.ID)
		case CheckPermission:
			return r.decide(ctx, CheckWorkspacePermission, userID, req.Scope, func(ctx context.Context) (Decision, error) {
				return r.workspacePermission(ctx, userID, req.Scope.ID, req.Permission)
			})
		case CheckRole:
			return r.decide(ctx, CheckWorkspaceRole, userID, req.Scope, func(ctx context.Context) (Decision, error) {
				return r.workspaceRole(ctx, userID, req.Scope.ID, req.Roles)
			})
		}
	case ResourceBoard:
		switch req.Check {
		case CheckView:
			return r.CanViewBoard(ctx, userID, req.Scope.ID)
		case CheckPermission:
			return r.decide(ctx, CheckBoardPermission, userID, req.Scope, func(ctx context.Context) (Decision, error) {
				return r.boardPermission(ctx, userID, req.Scope.ID, req.Permission)
			})
		case CheckRole:
			return r.decide(ctx, CheckBoardRole, userID, req.Scope, func(ctx context.Context) (Decision, error) {
				return r.boardRole(ctx, userID, req.Scope.ID, req.Roles)
			})
		}
	}
	err := fmt.Errorf("unsupported authorization request %s on %s", req.Check, req.Scope)
	return DenyFromError(userID, req.Scope, err), err
}

// EffectiveBoardRole returns the higher of the user's direct board role and
// the role inherited from the owning workspace. Ties resolve to the board role.
func (r *Resolver) EffectiveBoardRole(ctx context.Context, userID, boardID int64) (Role, error) {
	ctx, span := r.startSpan(ctx, "effective_board_role", userID, BoardScope(boardID))
	defer span.End()

	if userID == Anonymous {
		return RoleNone, nil
	}
	entry, err := r.boardAccess(ctx, userID, boardID)
	if err != nil {
		recordSpanError(span, err)
		return RoleNone, err
	}
	role := entry.Effective()
	span.SetAttributes(attribute.String("authz.role", string(role)))
	return role, nil
}

// WorkspaceRole returns the user's direct workspace role
func (r *Resolver) WorkspaceRole(ctx context.Context, userID, workspaceID int64) (Role, error) {
	if userID == Anonymous {
		return RoleNone, nil
	}
	entry, err := r.workspaceAccess(ctx, userID, workspaceID)
	if err != nil {
		return RoleNone, err
	}
	return entry.DirectRole, nil
}

// HasBoardPermission reports whether the user's effective board role grants perm.
// Visibility never grants permissions; a user without a role is always denied.
func (r *Resolver) HasBoardPermission(ctx context.Context, userID, boardID int64, perm Permission) (bool, error) {
	d, err := r.decide(ctx, CheckBoardPermission, userID, BoardScope(boardID), func(ctx context.Context) (Decision, error) {
		return r.boardPermission(ctx, userID, boardID, perm)
	})
	return d.Allowed, err
}

func (r *Resolver) boardPermission(ctx context.Context, userID, boardID int64, perm Permission) (Decision, error) {
	scope := BoardScope(boardID)
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}

	entry, err := r.boardAccess(ctx, userID, boardID)
	if err != nil {
		return Decision{}, err
	}
	role := entry.Effective()
	if role == RoleNone {
		return deny(userID, scope, ReasonNotMember), nil
	}

	var board *Board
	if perm.mutatesContent() || perm == PermMembersInvite {
		board, err = r.resources.Board(ctx, boardID)
		if err != nil {
			r.countStoreError("board", err)
			return Decision{}, err
		}
		if board.IsClosed && perm.mutatesContent() {
			return deny(userID, scope, ReasonInsufficientPerms), nil
		}
	}

	perms, err := r.catalog.PermissionsForRole(ctx, role)
	if err != nil {
		r.countStoreError("catalog", err)
		return Decision{}, err
	}
	if perms.Has(perm) {
		return allow(userID, scope, role), nil
	}

	if perm == PermMembersInvite && board.MemberManagePolicy == ManageAllMembers && role.Tier() >= TierMember {
		return allow(userID, scope, role), nil
	}
	return deny(userID, scope, ReasonInsufficientPerms), nil
}

// HasWorkspacePermission reports whether the user's direct workspace role grants perm
func (r *Resolver) HasWorkspacePermission(ctx context.Context, userID, workspaceID int64, perm Permission) (bool, error) {
	d, err := r.decide(ctx, CheckWorkspacePermission, userID, WorkspaceScope(workspaceID), func(ctx context.Context) (Decision, error) {
		return r.workspacePermission(ctx, userID, workspaceID, perm)
	})
	return d.Allowed, err
}

func (r *Resolver) workspacePermission(ctx context.Context, userID, workspaceID int64, perm Permission) (Decision, error) {
	scope := WorkspaceScope(workspaceID)
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}

	entry, err := r.workspaceAccess(ctx, userID, workspaceID)
	if err != nil {
		return Decision{}, err
	}
	role := entry.DirectRole
	if role == RoleNone {
		return deny(userID, scope, ReasonNotMember), nil
	}

	if perm == PermBoardsCreate {
		ws, err := r.resources.Workspace(ctx, workspaceID)
		if err != nil {
			r.countStoreError("workspace", err)
			return Decision{}, err
		}
		if ws.IsArchived {
			return deny(userID, scope, ReasonInsufficientPerms), nil
		}
	}

	perms, err := r.catalog.PermissionsForRole(ctx, role)
	if err != nil {
		r.countStoreError("catalog", err)
		return Decision{}, err
	}
	if perms.Has(perm) {
		return allow(userID, scope, role), nil
	}
	return deny(userID, scope, ReasonInsufficientPerms), nil
}

// HasBoardRole reports whether the effective board role is one of roles.
// A workspace role also satisfies a listed board role of the same tier
// (and vice versa); within one scope the match is exact.
func (r *Resolver) HasBoardRole(ctx context.Context, userID, boardID int64, roles ...Role) (bool, error) {
	d, err := r.decide(ctx, CheckBoardRole, userID, BoardScope(boardID), func(ctx context.Context) (Decision, error) {
		return r.boardRole(ctx, userID, boardID, roles)
	})
	return d.Allowed, err
}

func (r *Resolver) boardRole(ctx context.Context, userID, boardID int64, roles []Role) (Decision, error) {
	scope := BoardScope(boardID)
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}
	entry, err := r.boardAccess(ctx, userID, boardID)
	if err != nil {
		return Decision{}, err
	}
	role := entry.Effective()
	if role == RoleNone {
		return deny(userID, scope, ReasonNotMember), nil
	}
	if roleListed(role, roles) {
		return allow(userID, scope, role), nil
	}
	return deny(userID, scope, ReasonInsufficientRole), nil
}

// HasWorkspaceRole reports whether the user's direct workspace role is one of roles
func (r *Resolver) HasWorkspaceRole(ctx context.Context, userID, workspaceID int64, roles ...Role) (bool, error) {
	d, err := r.decide(ctx, CheckWorkspaceRole, userID, WorkspaceScope(workspaceID), func(ctx context.Context) (Decision, error) {
		return r.workspaceRole(ctx, userID, workspaceID, roles)
	})
	return d.Allowed, err
}

func (r *Resolver) workspaceRole(ctx context.Context, userID, workspaceID int64, roles []Role) (Decision, error) {
	scope := WorkspaceScope(workspaceID)
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}
	entry, err := r.workspaceAccess(ctx, userID, workspaceID)
	if err != nil {
		return Decision{}, err
	}
	if entry.DirectRole == RoleNone {
		return deny(userID, scope, ReasonNotMember), nil
	}
	for _, allowed := range roles {
		if entry.DirectRole == allowed {
			return allow(userID, scope, entry.DirectRole), nil
		}
	}
	return deny(userID, scope, ReasonInsufficientRole), nil
}

func roleListed(role Role, roles []Role) bool {
	for _, allowed := range roles {
		if role == allowed {
			return true
		}
		if role.Scope() != allowed.Scope() && role.Tier() == allowed.Tier() {
			return true
		}
	}
	return false
}

// CanViewBoard decides read access to a board. The returned error is set only
// for operational failures; the Decision is always a usable fail-closed answer.
func (r *Resolver) CanViewBoard(ctx context.Context, userID, boardID int64) (Decision, error) {
	d, err := r.decide(ctx, CheckViewBoard, userID, BoardScope(boardID), func(ctx context.Context) (Decision, error) {
		return r.viewBoard(ctx, userID, boardID)
	})
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	return d, err
}

func (r *Resolver) viewBoard(ctx context.Context, userID, boardID int64) (Decision, error) {
	scope := BoardScope(boardID)

	board, err := r.resources.Board(ctx, boardID)
	if err != nil {
		r.countStoreError("board", err)
		return Decision{}, err
	}
	if board.Visibility == VisibilityPublic {
		return allow(userID, scope, RoleNone), nil
	}
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}

	entry, err := r.boardAccess(ctx, userID, boardID)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case board.Visibility == VisibilityWorkspace && entry.InheritedRole != RoleNone:
		return allow(userID, scope, entry.Effective()), nil
	case entry.DirectRole != RoleNone:
		return allow(userID, scope, entry.Effective()), nil
	case entry.InheritedRole.Tier() >= TierAdmin:
		return allow(userID, scope, entry.InheritedRole), nil
	}
	return r.denyView(userID, scope), nil
}

// CanViewWorkspace decides read access to a workspace
func (r *Resolver) CanViewWorkspace(ctx context.Context, userID, workspaceID int64) (Decision, error) {
	d, err := r.decide(ctx, CheckViewWorkspace, userID, WorkspaceScope(workspaceID), func(ctx context.Context) (Decision, error) {
		return r.viewWorkspace(ctx, userID, workspaceID)
	})
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	return d, err
}

func (r *Resolver) viewWorkspace(ctx context.Context, userID, workspaceID int64) (Decision, error) {
	scope := WorkspaceScope(workspaceID)

	ws, err := r.resources.Workspace(ctx, workspaceID)
	if err != nil {
		r.countStoreError("workspace", err)
		return Decision{}, err
	}
	if ws.Visibility == VisibilityPublic {
		return allow(userID, scope, RoleNone), nil
	}
	if userID == Anonymous {
		return deny(userID, scope, ReasonUnauthenticated), nil
	}

	entry, err := r.workspaceAccess(ctx, userID, workspaceID)
	if err != nil {
		return Decision{}, err
	}
	if entry.DirectRole != RoleNone {
		return allow(userID, scope, entry.DirectRole), nil
	}
	return r.denyView(userID, scope), nil
}

func (r *Resolver) denyView(userID int64, scope Scope) Decision {
	if r.hideForbidden {
		return deny(userID, scope, ReasonNotFound)
	}
	return deny(userID, scope, ReasonNotMember)
}

// decide runs one check inside a span and records its outcome
func (r *Resolver) decide(ctx context.Context, check string, userID int64, scope Scope, fn func(context.Context) (Decision, error)) (Decision, error) {
	start := time.Now()
	ctx, span := r.startSpan(ctx, check, userID, scope)
	defer span.End()

	d, err := fn(ctx)
	if err != nil {
		recordSpanError(span, err)
		d = DenyFromError(userID, scope, err)
	}
	span.SetAttributes(
		attribute.Bool("authz.allowed", d.Allowed),
		attribute.String("authz.reason", d.Reason.Code()),
	)
	r.observe(check, start, d, err)
	return d, err
}

// BoardIDFor translates a board, list or card id into its owning board id
func (r *Resolver) BoardIDFor(ctx context.Context, resource ResourceType, id int64) (int64, error) {
	var (
		boardID int64
		err     error
	)
	switch resource {
	case ResourceBoard:
		return id, nil
	case ResourceList:
		boardID, err = r.resources.BoardIDForList(ctx, id)
	case ResourceCard:
		boardID, err = r.resources.BoardIDForCard(ctx, id)
	default:
		return 0, fmt.Errorf("%w: %s is not a board-level resource", ErrNotFound, resource)
	}
	if err != nil {
		r.countStoreError(string(resource), err)
		return 0, err
	}
	return boardID, nil
}

// boardAccess returns the direct and inherited roles of a user on a board,
// reading through the decision cache
func (r *Resolver) boardAccess(ctx context.Context, userID, boardID int64) (*Entry, error) {
	scope := BoardScope(boardID)
	return r.cachedAccess(ctx, userID, scope, func(ctx context.Context) (*Entry, error) {
		workspaceID, err := r.members.WorkspaceIDForBoard(ctx, boardID)
		if err != nil {
			r.countStoreError("board", err)
			return nil, err
		}

		var direct, inherited *Membership
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			direct, err = r.members.BoardMembership(gctx, userID, boardID)
			return err
		})
		g.Go(func() error {
			var err error
			inherited, err = r.members.WorkspaceMembership(gctx, userID, workspaceID)
			return err
		})
		if err := g.Wait(); err != nil {
			r.countStoreError("membership", err)
			return nil, err
		}

		entry := &Entry{Scope: scope, WorkspaceID: workspaceID}
		if direct != nil {
			entry.DirectRole = direct.Role
		}
		if inherited != nil {
			entry.InheritedRole = inherited.Role
		}
		return entry, nil
	})
}

// workspaceAccess returns the direct role of a user in a workspace
func (r *Resolver) workspaceAccess(ctx context.Context, userID, workspaceID int64) (*Entry, error) {
	scope := WorkspaceScope(workspaceID)
	return r.cachedAccess(ctx, userID, scope, func(ctx context.Context) (*Entry, error) {
		m, err := r.members.WorkspaceMembership(ctx, userID, workspaceID)
		if err != nil {
			r.countStoreError("membership", err)
			return nil, err
		}
		entry := &Entry{Scope: scope, WorkspaceID: workspaceID}
		if m != nil {
			entry.DirectRole = m.Role
			return entry, nil
		}
		// without a membership row the workspace itself may be missing
		if _, err := r.resources.Workspace(ctx, workspaceID); err != nil {
			r.countStoreError("workspace", err)
			return nil, err
		}
		return entry, nil
	})
}

// cachedAccess serves an entry from the cache or loads it from the stores.
// The epoch is read before loading so a concurrent eviction fences the Put,
// and it is part of the flight key so callers arriving after an eviction
// never join a load that started before it.
func (r *Resolver) cachedAccess(ctx context.Context, userID int64, scope Scope, load func(context.Context) (*Entry, error)) (*Entry, error) {
	entry, err := r.cache.Get(ctx, userID, scope)
	switch {
	case err == nil:
		r.countCache(scope, true)
		return entry, nil
	case !errors.Is(err, ErrCacheMiss):
		r.cacheFailure("get", userID, scope, err)
	}
	r.countCache(scope, false)

	epoch, err := r.cache.Epoch(ctx, userID)
	if err != nil {
		r.cacheFailure("epoch", userID, scope, err)
		return load(ctx)
	}

	// Joined callers share the load, so it must not die with the caller that
	// started it.
	key := fmt.Sprintf("%d|%s|%d", userID, scope, epoch)
	ch := r.flights.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		entry, err := load(fctx)
		if err != nil {
			return nil, err
		}
		entry.Epoch = epoch
		if err := r.cache.Put(fctx, userID, scope, entry); err != nil {
			r.cacheFailure("put", userID, scope, err)
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Entry)
		return &out, nil
	}
}

func (r *Resolver) startSpan(ctx context.Context, name string, userID int64, scope Scope) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "rbac."+name, trace.WithAttributes(
		attribute.Int64("authz.user_id", userID),
		attribute.String("authz.scope", string(scope.Type)),
		attribute.Int64("authz.resource_id", scope.ID),
	))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (r *Resolver) observe(check string, start time.Time, d Decision, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "deny"
	code := d.Reason.Code()
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		outcome = "error"
		code = "store_unavailable"
	case d.Allowed:
		outcome = "allow"
	}
	r.metrics.DecisionsTotal.WithLabelValues(check, outcome, code).Inc()
	r.metrics.ResolveDuration.WithLabelValues(check).Observe(time.Since(start).Seconds())
}

func (r *Resolver) countCache(scope Scope, hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues(string(scope.Type)).Inc()
		return
	}
	r.metrics.CacheMissesTotal.WithLabelValues(string(scope.Type)).Inc()
}

// countStoreError counts operational store failures; not-found is a normal outcome
func (r *Resolver) countStoreError(operation string, err error) {
	if r.metrics == nil || !errors.Is(err, ErrStoreUnavailable) {
		return
	}
	r.metrics.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func (r *Resolver) cacheFailure(operation string, userID int64, scope Scope, err error) {
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"operation": operation,
		"user_id":   userID,
		"scope":     scope.String(),
	}).Warn("Decision cache unavailable, reading stores directly")
	if r.metrics != nil {
		r.metrics.CacheErrorsTotal.WithLabelValues(operation).Inc()
	}
}
