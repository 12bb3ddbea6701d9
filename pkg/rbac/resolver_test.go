package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

func newTestResolver(f *fixture, opts ...Option) *Resolver {
	opts = append([]Option{WithLogger(observability.NopLogger())}, opts...)
	return NewResolver(f.store, f.store, NewStaticCatalog(nil), opts...)
}

func TestResolver_EffectiveBoardRole(t *testing.T) {
	tests := []struct {
		name      string
		board     Role
		workspace Role
		want      Role
	}{
		{"board membership only", RoleBoardModerator, RoleNone, RoleBoardModerator},
		{"workspace membership only", RoleNone, RoleWorkspaceMember, RoleWorkspaceMember},
		{"workspace role higher", RoleBoardObserver, RoleWorkspaceAdmin, RoleWorkspaceAdmin},
		{"board role higher", RoleBoardOwner, RoleWorkspaceObserver, RoleBoardOwner},
		{"elevated workspace beats plain board member", RoleBoardMember, RoleWorkspaceModerator, RoleWorkspaceModerator},
		{"tie resolves to board role", RoleBoardModerator, RoleWorkspaceModerator, RoleBoardModerator},
		{"admin tie resolves to board role", RoleBoardOwner, RoleWorkspaceAdmin, RoleBoardOwner},
		{"no membership", RoleNone, RoleNone, RoleNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := newTestResolver(f, WithCache(NewMemoryCache(100, 0)))

			user := f.user("u")
			ws := f.workspace(VisibilityPrivate)
			board := f.board(ws, VisibilityPrivate)
			if tt.board != RoleNone {
				f.joinBoard(user, board, tt.board)
			}
			if tt.workspace != RoleNone {
				f.joinWorkspace(user, ws, tt.workspace)
			}

			got, err := r.EffectiveBoardRole(context.Background(), user, board)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// second call is served from the cache and must agree
			again, err := r.EffectiveBoardRole(context.Background(), user, board)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestResolver_NoMembershipDeniesEveryPermission(t *testing.T) {
	f := newFixture(t)
	r := newTestResolver(f)
	ctx := context.Background()

	stranger := f.user("stranger")
	ws := f.workspace(VisibilityPublic)
	board := f.board(ws, VisibilityPublic)

	for _, perm := range AllPermissions() {
		ok, err := r.HasBoardPermission(ctx, stranger, board, perm)
		require.NoError(t, err)
		assert.False(t, ok, "visibility must not grant %s", perm)
	}
}

func TestResolver_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("A: workspace admin inherits board management", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)

		admin := f.user("w")
		ws := f.workspace(VisibilityPrivate)
		f.joinWorkspace(admin, ws, RoleWorkspaceAdmin)
		board := f.board(ws, VisibilityPrivate)

		ok, err := r.HasBoardPermission(ctx, admin, board, PermBoardsUpdate)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("B: board observer can view but not contribute", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)

		observer := f.user("o")
		ws := f.workspace(VisibilityPrivate)
		board := f.board(ws, VisibilityPrivate)
		f.joinBoard(observer, board, RoleBoardObserver)

		ok, err := r.HasBoardPermission(ctx, observer, board, PermCardsCreate)
		require.NoError(t, err)
		assert.False(t, ok)

		d, err := r.CanViewBoard(ctx, observer, board)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("C: removal is visible to the very next check", func(t *testing.T) {
		f := newFixture(t)
		cache := NewMemoryCache(100, 0)
		r := newTestResolver(f, WithCache(cache))
		hook := NewInvalidator(cache, observability.NopLogger(), nil)

		member := f.user("m")
		ws := f.workspace(VisibilityPrivate)
		board := f.board(ws, VisibilityPrivate)
		f.joinBoard(member, board, RoleBoardMember)

		ok, err := r.HasBoardPermission(ctx, member, board, PermCardsCreate)
		require.NoError(t, err)
		require.True(t, ok)

		f.leaveBoard(member, board)
		hook.MembershipChanged(ctx, MembershipEvent{
			Kind: MembershipDeleted, Scope: ResourceBoard, UserID: member, ResourceID: board,
		})

		for _, perm := range AllPermissions() {
			ok, err := r.HasBoardPermission(ctx, member, board, perm)
			require.NoError(t, err)
			assert.False(t, ok, "%s after removal", perm)
		}
	})

	t.Run("D: workspace-visible board is readable but not deletable", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)

		viewer := f.user("v")
		ws := f.workspace(VisibilityPrivate)
		f.joinWorkspace(viewer, ws, RoleWorkspaceMember)
		board := f.board(ws, VisibilityWorkspace)

		d, err := r.CanViewBoard(ctx, viewer, board)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		ok, err := r.HasBoardPermission(ctx, viewer, board, PermBoardsDelete)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResolver_RevokeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cache := NewMemoryCache(100, 0)
	r := newTestResolver(f, WithCache(cache))
	hook := NewInvalidator(cache, observability.NopLogger(), nil)

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)

	for i := 0; i < 3; i++ {
		f.joinWorkspace(user, ws, RoleWorkspaceAdmin)
		hook.MembershipChanged(ctx, MembershipEvent{Kind: MembershipCreated, Scope: ResourceWorkspace, UserID: user, ResourceID: ws})

		ok, err := r.HasBoardPermission(ctx, user, board, PermBoardsDelete)
		require.NoError(t, err)
		require.True(t, ok, "round %d grant", i)

		f.leaveWorkspace(user, ws)
		hook.MembershipChanged(ctx, MembershipEvent{Kind: MembershipDeleted, Scope: ResourceWorkspace, UserID: user, ResourceID: ws})

		ok, err = r.HasBoardPermission(ctx, user, board, PermBoardsDelete)
		require.NoError(t, err)
		require.False(t, ok, "round %d revoke", i)
	}
}

func TestResolver_IdempotentAcrossCachePaths(t *testing.T) {
	f := newFixture(t)
	cache := NewMemoryCache(100, 0)
	r := newTestResolver(f, WithCache(cache))

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinBoard(user, board, RoleBoardAdmin)
	f.joinWorkspace(user, ws, RoleWorkspaceMember)

	first, err := r.EffectiveBoardRole(context.Background(), user, board)
	require.NoError(t, err)
	second, err := r.EffectiveBoardRole(context.Background(), user, board)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

// gatedMembers pauses the first board membership read after it hit the database
type gatedMembers struct {
	MembershipStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (g *gatedMembers) BoardMembership(ctx context.Context, userID, boardID int64) (*Membership, error) {
	m, err := g.MembershipStore.BoardMembership(ctx, userID, boardID)
	g.once.Do(func() {
		close(g.reached)
		<-g.release
	})
	return m, err
}

func TestResolver_ReadRacingRemovalCannotPoisonCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cache := NewMemoryCache(100, 0)
	gate := &gatedMembers{MembershipStore: f.store, reached: make(chan struct{}), release: make(chan struct{})}
	r := NewResolver(gate, f.store, NewStaticCatalog(nil), WithCache(cache), WithLogger(observability.NopLogger()))
	hook := NewInvalidator(cache, observability.NopLogger(), nil)

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinBoard(user, board, RoleBoardMember)

	done := make(chan bool)
	go func() {
		ok, _ := r.HasBoardPermission(ctx, user, board, PermCardsCreate)
		done <- ok
	}()

	<-gate.reached
	f.leaveBoard(user, board)
	hook.MembershipChanged(ctx, MembershipEvent{Kind: MembershipDeleted, Scope: ResourceBoard, UserID: user, ResourceID: board})
	close(gate.release)

	// the in-flight check overlapped the removal and may see either state
	<-done

	ok, err := r.HasBoardPermission(ctx, user, board, PermCardsCreate)
	require.NoError(t, err)
	assert.False(t, ok, "pre-removal read must not be cached after the eviction")
}

func TestResolver_DeletedBoardDropsInheritedAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cache := NewMemoryCache(100, 0)
	r := newTestResolver(f, WithCache(cache))
	hook := NewInvalidator(cache, observability.NopLogger(), nil)

	admin := f.user("admin")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinWorkspace(admin, ws, RoleWorkspaceAdmin)

	ok, err := r.HasBoardPermission(ctx, admin, board, PermBoardsDelete)
	require.NoError(t, err)
	require.True(t, ok)

	f.exec(`DELETE FROM boards WHERE id = $1`, board)
	hook.MembershipChanged(ctx, MembershipEvent{Kind: MembershipAccessRevoked, Scope: ResourceBoard, UserID: admin, ResourceID: board})

	ok, err = r.HasBoardPermission(ctx, admin, board, PermBoardsDelete)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)

	role, err := r.EffectiveBoardRole(ctx, admin, board)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, RoleNone, role)
}

// pausedMembers blocks the first board membership read until released
type pausedMembers struct {
	MembershipStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (p *pausedMembers) BoardMembership(ctx context.Context, userID, boardID int64) (*Membership, error) {
	p.once.Do(func() {
		close(p.reached)
		<-p.release
	})
	return p.MembershipStore.BoardMembership(ctx, userID, boardID)
}

func TestResolver_CancelledCallerDoesNotAbortSharedLoad(t *testing.T) {
	f := newFixture(t)
	cache := NewMemoryCache(100, 0)
	paused := &pausedMembers{MembershipStore: f.store, reached: make(chan struct{}), release: make(chan struct{})}
	r := NewResolver(paused, f.store, NewStaticCatalog(nil), WithCache(cache), WithLogger(observability.NopLogger()))

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinBoard(user, board, RoleBoardMember)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := r.HasBoardPermission(ctx, user, board, PermCardsCreate)
		errs <- err
	}()

	<-paused.reached
	cancel()
	err := <-errs
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	close(paused.release)

	assert.Eventually(t, func() bool {
		_, err := cache.Get(context.Background(), user, BoardScope(board))
		return err == nil
	}, time.Second, 10*time.Millisecond, "the load finishes for the callers still waiting on it")

	ok, err := r.HasBoardPermission(context.Background(), user, board, PermCardsCreate)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_ConcurrentChecks(t *testing.T) {
	f := newFixture(t)
	r := newTestResolver(f, WithCache(NewMemoryCache(100, 0)))

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinBoard(user, board, RoleBoardModerator)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.HasBoardPermission(context.Background(), user, board, PermCardsDelete)
			if err == nil && !ok {
				err = fmt.Errorf("expected moderator to delete cards")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestResolver_BoardRules(t *testing.T) {
	ctx := context.Background()

	t.Run("closed board denies content changes", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)
		user := f.user("u")
		ws := f.workspace(VisibilityPrivate)
		board := f.board(ws, VisibilityPrivate)
		f.joinBoard(user, board, RoleBoardAdmin)
		f.setBoard(board, "is_closed", true)

		ok, err := r.HasBoardPermission(ctx, user, board, PermCardsCreate)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.HasBoardPermission(ctx, user, board, PermBoardsUpdate)
		require.NoError(t, err)
		assert.True(t, ok, "reopening a closed board stays possible")
	})

	t.Run("all_members policy lets members invite", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)
		member := f.user("member")
		observer := f.user("observer")
		ws := f.workspace(VisibilityPrivate)
		board := f.board(ws, VisibilityPrivate)
		f.joinBoard(member, board, RoleBoardMember)
		f.joinBoard(observer, board, RoleBoardObserver)

		ok, err := r.HasBoardPermission(ctx, member, board, PermMembersInvite)
		require.NoError(t, err)
		assert.False(t, ok, "admins_only is the default")

		f.setBoard(board, "member_manage_policy", string(ManageAllMembers))

		ok, err = r.HasBoardPermission(ctx, member, board, PermMembersInvite)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.HasBoardPermission(ctx, observer, board, PermMembersInvite)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.HasBoardPermission(ctx, member, board, PermMembersRemove)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list and card ids resolve to their board", func(t *testing.T) {
		f := newFixture(t)
		r := newTestResolver(f)
		ws := f.workspace(VisibilityPrivate)
		board := f.board(ws, VisibilityPrivate)
		card := f.card(f.list(board))

		got, err := r.BoardIDFor(ctx, ResourceCard, card)
		require.NoError(t, err)
		assert.Equal(t, board, got)

		_, err = r.BoardIDFor(ctx, ResourceList, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResolver_WorkspacePermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := newTestResolver(f)

	member := f.user("member")
	boardOnly := f.user("board-only")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinWorkspace(member, ws, RoleWorkspaceMember)
	f.joinBoard(boardOnly, board, RoleBoardOwner)

	ok, err := r.HasWorkspacePermission(ctx, member, ws, PermBoardsCreate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasWorkspacePermission(ctx, member, ws, PermWorkspacesUpdate)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.HasWorkspacePermission(ctx, boardOnly, ws, PermWorkspacesRead)
	require.NoError(t, err)
	assert.False(t, ok, "board roles never grant workspace permissions")

	ok, err = r.HasWorkspacePermission(ctx, member, 9999, PermWorkspacesRead)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)

	d, err := r.Decide(ctx, member, Request{Check: CheckPermission, Scope: WorkspaceScope(9999), Permission: PermWorkspacesRead})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ReasonNotFound, d.Reason)
	assert.Equal(t, http.StatusNotFound, d.Reason.HTTPStatus())

	ok, err = r.HasWorkspaceRole(ctx, member, 9999, RoleWorkspaceMember)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)

	role, err := r.WorkspaceRole(ctx, member, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, RoleNone, role)

	f.exec(`UPDATE workspaces SET is_archived = 1 WHERE id = $1`, ws)
	ok, err = r.HasWorkspacePermission(ctx, member, ws, PermBoardsCreate)
	require.NoError(t, err)
	assert.False(t, ok, "archived workspaces take no new boards")
}

func TestResolver_RoleLists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := newTestResolver(f)

	wsAdmin := f.user("ws-admin")
	boardAdmin := f.user("board-admin")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinWorkspace(wsAdmin, ws, RoleWorkspaceAdmin)
	f.joinBoard(boardAdmin, board, RoleBoardAdmin)

	ok, err := r.HasBoardRole(ctx, wsAdmin, board, RoleBoardAdmin)
	require.NoError(t, err)
	assert.True(t, ok, "workspace admin satisfies a board admin requirement")

	ok, err = r.HasBoardRole(ctx, boardAdmin, board, RoleBoardOwner)
	require.NoError(t, err)
	assert.False(t, ok, "board admin is not the board owner")

	ok, err = r.HasBoardRole(ctx, boardAdmin, board, RoleBoardOwner, RoleBoardAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasWorkspaceRole(ctx, wsAdmin, ws, RoleWorkspaceAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasWorkspaceRole(ctx, boardAdmin, ws, RoleWorkspaceAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := r.Decide(ctx, boardAdmin, Request{Check: CheckRole, Scope: BoardScope(board), Roles: []Role{RoleBoardOwner}})
	require.NoError(t, err)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)
}

func TestResolver_CanViewBoard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wsAdmin := f.user("ws-admin")
	wsMember := f.user("ws-member")
	stranger := f.user("stranger")
	ws := f.workspace(VisibilityPrivate)
	private := f.board(ws, VisibilityPrivate)
	public := f.board(ws, VisibilityPublic)
	f.joinWorkspace(wsAdmin, ws, RoleWorkspaceAdmin)
	f.joinWorkspace(wsMember, ws, RoleWorkspaceMember)

	tests := []struct {
		name   string
		hide   bool
		user   int64
		board  int64
		allow  bool
		reason Reason
	}{
		{"public board for anonymous", false, Anonymous, public, true, ReasonAllowed},
		{"public board for stranger", false, stranger, public, true, ReasonAllowed},
		{"private board for anonymous", false, Anonymous, private, false, ReasonUnauthenticated},
		{"private board for workspace member", false, wsMember, private, false, ReasonNotMember},
		{"private board for workspace admin", false, wsAdmin, private, true, ReasonAllowed},
		{"private board for stranger", false, stranger, private, false, ReasonNotMember},
		{"hidden private board for stranger", true, stranger, private, false, ReasonNotFound},
		{"hidden mode keeps auth prompt", true, Anonymous, private, false, ReasonUnauthenticated},
		{"missing board", false, stranger, 9999, false, ReasonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(f, WithHideForbidden(tt.hide))
			d, err := r.CanViewBoard(ctx, tt.user, tt.board)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, BoardScope(tt.board), d.Scope)
		})
	}
}

func TestResolver_CanViewWorkspace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := newTestResolver(f)

	member := f.user("member")
	stranger := f.user("stranger")
	private := f.workspace(VisibilityPrivate)
	public := f.workspace(VisibilityPublic)
	f.joinWorkspace(member, private, RoleWorkspaceObserver)

	d, err := r.CanViewWorkspace(ctx, Anonymous, public)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = r.CanViewWorkspace(ctx, member, private)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RoleWorkspaceObserver, d.Role)

	d, err = r.CanViewWorkspace(ctx, stranger, private)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotMember, d.Reason)

	d, err = r.CanViewWorkspace(ctx, Anonymous, private)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnauthenticated, d.Reason)
}

// brokenStore fails every read like an unreachable database
type brokenStore struct{}

var errDown = fmt.Errorf("%w: connection refused", ErrStoreUnavailable)

func (brokenStore) WorkspaceMembership(context.Context, int64, int64) (*Membership, error) {
	return nil, errDown
}
func (brokenStore) BoardMembership(context.Context, int64, int64) (*Membership, error) {
	return nil, errDown
}
func (brokenStore) WorkspaceIDForBoard(context.Context, int64) (int64, error) { return 0, errDown }
func (brokenStore) Workspace(context.Context, int64) (*Workspace, error) { return nil, errDown }
func (brokenStore) Board(context.Context, int64) (*Board, error) { return nil, errDown }
func (brokenStore) BoardIDForList(context.Context, int64) (int64, error) { return 0, errDown }
func (brokenStore) BoardIDForCard(context.Context, int64) (int64, error) { return 0, errDown }

func TestResolver_StoreFailureFailsClosed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	r := NewResolver(brokenStore{}, brokenStore{}, NewStaticCatalog(nil),
		WithLogger(observability.NopLogger()), WithMetrics(metrics))
	ctx := context.Background()

	ok, err := r.HasBoardPermission(ctx, 1, 2, PermBoardsRead)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	d, err := r.CanViewBoard(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, d.Allowed)
	assert.True(t, d.StoreFailure())

	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.DecisionsTotal.WithLabelValues(CheckBoardPermission, "error", "store_unavailable")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("board")))
}

// brokenCache fails every operation like an unreachable Redis
type brokenCache struct{}

var errCacheDown = errors.New("redis: connection refused")

func (brokenCache) Get(context.Context, int64, Scope) (*Entry, error) { return nil, errCacheDown }
func (brokenCache) Put(context.Context, int64, Scope, *Entry) error { return errCacheDown }
func (brokenCache) Evict(context.Context, int64, Scope) error { return errCacheDown }
func (brokenCache) EvictUser(context.Context, int64) error { return errCacheDown }
func (brokenCache) Epoch(context.Context, int64) (uint64, error) { return 0, errCacheDown }

func TestResolver_CacheFailureFallsBackToStores(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	f := newFixture(t)
	r := newTestResolver(f, WithCache(brokenCache{}), WithMetrics(metrics))

	user := f.user("u")
	ws := f.workspace(VisibilityPrivate)
	board := f.board(ws, VisibilityPrivate)
	f.joinBoard(user, board, RoleBoardMember)

	ok, err := r.HasBoardPermission(context.Background(), user, board, PermCardsUpdate)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("get")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("epoch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.DecisionsTotal.WithLabelValues(CheckBoardPermission, "allow", "allowed")))
}

func TestResolver_UnsupportedRequest(t *testing.T) {
	f := newFixture(t)
	r := newTestResolver(f)

	d, err := r.Decide(context.Background(), 1, Request{Check: CheckView, Scope: Scope{Type: ResourceCard, ID: 1}})
	assert.Error(t, err)
	assert.False(t, d.Allowed)
}
