package members

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/corkboard/pkg/auth"
	"github.com/platinummonkey/corkboard/pkg/contextkeys"
	"github.com/platinummonkey/corkboard/pkg/middleware"
	"github.com/platinummonkey/corkboard/pkg/observability"
	"github.com/platinummonkey/corkboard/pkg/rbac"
)

var errNotImplemented = errors.New("not implemented")

// mockService implements Service with overridable funcs
type mockService struct {
	createWorkspace func(ws *Workspace) error
	createBoard     func(board *Board) error
	deleteBoard     func(boardID int64) error
	listMembers     func(scope rbac.ResourceType, resourceID int64) ([]*Member, error)
	addMember       func(scope rbac.ResourceType, resourceID, userID int64, role rbac.Role) error
	updateMember    func(scope rbac.ResourceType, resourceID, userID int64, role rbac.Role) error
	removeMember    func(scope rbac.ResourceType, resourceID, userID int64) error
	invite          func(invitation *Invitation) error
	accept          func(token string, userID int64) (*Invitation, error)
	createJoinLink  func(link *JoinLink) error
	join            func(token string, userID int64) (*JoinLink, error)
	revokeJoinLink  func(boardID, linkID int64) error
}

func (m *mockService) CreateWorkspace(_ context.Context, ws *Workspace) error {
	if m.createWorkspace == nil {
		return errNotImplemented
	}
	return m.createWorkspace(ws)
}

func (m *mockService) CreateBoard(_ context.Context, board *Board) error {
	if m.createBoard == nil {
		return errNotImplemented
	}
	return m.createBoard(board)
}

func (m *mockService) DeleteBoard(_ context.Context, boardID int64) error {
	if m.deleteBoard == nil {
		return errNotImplemented
	}
	return m.deleteBoard(boardID)
}

func (m *mockService) list(scope rbac.ResourceType, id int64) ([]*Member, error) {
	if m.listMembers == nil {
		return nil, errNotImplemented
	}
	return m.listMembers(scope, id)
}

func (m *mockService) add(scope rbac.ResourceType, id, userID int64, role rbac.Role) error {
	if m.addMember == nil {
		return errNotImplemented
	}
	return m.addMember(scope, id, userID, role)
}

func (m *mockService) update(scope rbac.ResourceType, id, userID int64, role rbac.Role) error {
	if m.updateMember == nil {
		return errNotImplemented
	}
	return m.updateMember(scope, id, userID, role)
}

func (m *mockService) remove(scope rbac.ResourceType, id, userID int64) error {
	if m.removeMember == nil {
		return errNotImplemented
	}
	return m.removeMember(scope, id, userID)
}

func (m *mockService) ListWorkspaceMembers(_ context.Context, id int64) ([]*Member, error) {
	return m.list(rbac.ResourceWorkspace, id)
}

func (m *mockService) ListBoardMembers(_ context.Context, id int64) ([]*Member, error) {
	return m.list(rbac.ResourceBoard, id)
}

func (m *mockService) AddWorkspaceMember(_ context.Context, id, userID int64, role rbac.Role) error {
	return m.add(rbac.ResourceWorkspace, id, userID, role)
}

func (m *mockService) AddBoardMember(_ context.Context, id, userID int64, role rbac.Role) error {
	return m.add(rbac.ResourceBoard, id, userID, role)
}

func (m *mockService) UpdateWorkspaceMemberRole(_ context.Context, id, userID int64, role rbac.Role) error {
	return m.update(rbac.ResourceWorkspace, id, userID, role)
}

func (m *mockService) UpdateBoardMemberRole(_ context.Context, id, userID int64, role rbac.Role) error {
	return m.update(rbac.ResourceBoard, id, userID, role)
}

func (m *mockService) RemoveWorkspaceMember(_ context.Context, id, userID int64) error {
	return m.remove(rbac.ResourceWorkspace, id, userID)
}

func (m *mockService) RemoveBoardMember(_ context.Context, id, userID int64) error {
	return m.remove(rbac.ResourceBoard, id, userID)
}

func (m *mockService) CreateInvitation(_ context.Context, invitation *Invitation) error {
	if m.invite == nil {
		return errNotImplemented
	}
	return m.invite(invitation)
}

func (m *mockService) AcceptInvitation(_ context.Context, token string, userID int64) (*Invitation, error) {
	if m.accept == nil {
		return nil, errNotImplemented
	}
	return m.accept(token, userID)
}

func (m *mockService) CleanupExpiredInvitations(context.Context) (int64, error) {
	return 0, errNotImplemented
}

func (m *mockService) CreateJoinLink(_ context.Context, link *JoinLink) error {
	if m.createJoinLink == nil {
		return errNotImplemented
	}
	return m.createJoinLink(link)
}

func (m *mockService) JoinByLink(_ context.Context, token string, userID int64) (*JoinLink, error) {
	if m.join == nil {
		return nil, errNotImplemented
	}
	return m.join(token, userID)
}

func (m *mockService) RevokeJoinLink(_ context.Context, boardID, linkID int64) error {
	if m.revokeJoinLink == nil {
		return errNotImplemented
	}
	return m.revokeJoinLink(boardID, linkID)
}

// allowAll lets every request through as a workspace admin so handler
// behavior can be tested alone
type allowAll struct{}

func (allowAll) Named(string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := rbac.Decision{Allowed: true, Role: rbac.RoleWorkspaceAdmin}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithDecision(r.Context(), d)))
		})
	}
}

func newTestRouter(service Service, guard Authorizer, limiter middleware.Limiter) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(service, guard, limiter).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, target string, userID int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5000"
	if userID != 0 {
		authCtx := &auth.AuthContext{User: &auth.User{ID: userID, IsActive: true}}
		req = req.WithContext(contextkeys.WithAuth(req.Context(), authCtx))
	}
	ctx := observability.WithLogger(req.Context(), observability.NopLogger())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestCreateWorkspaceHandler(t *testing.T) {
	var got *Workspace
	service := &mockService{createWorkspace: func(ws *Workspace) error {
		got = ws
		ws.ID = 3
		ws.Visibility = rbac.VisibilityPrivate
		return nil
	}}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "POST", "/workspaces", 7, `{"name": "Engineering"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(7), got.CreatedBy)

	var body Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.ID)

	rec = serve(router, "POST", "/workspaces", 0, `{"name": "Engineering"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBoardHandler(t *testing.T) {
	service := &mockService{createBoard: func(board *Board) error {
		assert.Equal(t, int64(3), board.WorkspaceID)
		assert.Equal(t, rbac.ManageAllMembers, board.MemberManagePolicy)
		board.ID = 11
		return nil
	}}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "POST", "/workspaces/3/boards", 7, `{"name": "Roadmap", "member_manage_policy": "all_members"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	service.createBoard = func(*Board) error { return ErrWorkspaceArchived }
	rec = serve(router, "POST", "/workspaces/3/boards", 7, `{"name": "Roadmap"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddBoardMemberHandler(t *testing.T) {
	type call struct {
		scope              rbac.ResourceType
		resourceID, userID int64
		role               rbac.Role
	}
	var calls []call
	service := &mockService{addMember: func(scope rbac.ResourceType, id, userID int64, role rbac.Role) error {
		calls = append(calls, call{scope, id, userID, role})
		return nil
	}}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "POST", "/boards/11/members", 7, `{"user_id": 8, "role": "board_member"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []call{{rbac.ResourceBoard, 11, 8, rbac.RoleBoardMember}}, calls)

	rec = serve(router, "POST", "/boards/11/members", 7, `{"role": "board_member"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(router, "POST", "/boards/abc/members", 7, `{"user_id": 8, "role": "board_member"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, calls, 1)
}

func TestUpdateAndRemoveMemberHandlers(t *testing.T) {
	var updated, removed []int64
	service := &mockService{
		updateMember: func(scope rbac.ResourceType, id, userID int64, role rbac.Role) error {
			assert.Equal(t, rbac.ResourceWorkspace, scope)
			assert.Equal(t, rbac.RoleWorkspaceModerator, role)
			updated = append(updated, userID)
			return nil
		},
		removeMember: func(scope rbac.ResourceType, id, userID int64) error {
			removed = append(removed, userID)
			return nil
		},
	}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "PUT", "/workspaces/3/members/8", 7, `{"role": "workspace_moderator"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(router, "DELETE", "/workspaces/3/members/8", 7, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(router, "DELETE", "/boards/11/membership", 9, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []int64{8}, updated)
	assert.Equal(t, []int64{8, 9}, removed, "leaving removes the caller")
}

func TestServiceErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrInvalidRole, http.StatusBadRequest},
		{ErrAlreadyMember, http.StatusConflict},
		{ErrLastOwner, http.StatusConflict},
		{ErrInvitationAccepted, http.StatusConflict},
		{ErrInvitationExpired, http.StatusGone},
		{ErrJoinLinkInvalid, http.StatusGone},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			service := &mockService{removeMember: func(rbac.ResourceType, int64, int64) error {
				return tt.err
			}}
			rec := serve(newTestRouter(service, allowAll{}, nil), "DELETE", "/boards/11/members/8", 7, "")
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusInternalServerError {
				assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
			}
		})
	}
}

func TestInviteHandler(t *testing.T) {
	service := &mockService{invite: func(invitation *Invitation) error {
		assert.Equal(t, rbac.ResourceWorkspace, invitation.Scope)
		assert.Equal(t, int64(3), invitation.ResourceID)
		assert.Equal(t, int64(7), invitation.InvitedBy)
		invitation.Token = "tok-1"
		return nil
	}}
	rec := serve(newTestRouter(service, allowAll{}, nil), "POST", "/workspaces/3/invitations", 7,
		`{"email": "carol@example.com", "role": "workspace_member"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "tok-1", "the inviter receives the token to send")
}

func TestRedeemHandlers(t *testing.T) {
	service := &mockService{
		accept: func(token string, userID int64) (*Invitation, error) {
			return &Invitation{ID: 5, Token: token, Scope: rbac.ResourceBoard, ResourceID: 11, Role: rbac.RoleBoardMember}, nil
		},
		join: func(token string, userID int64) (*JoinLink, error) {
			if token == "gone" {
				return nil, ErrJoinLinkInvalid
			}
			return &JoinLink{ID: 4, Token: token, BoardID: 11, Role: rbac.RoleBoardMember}, nil
		},
	}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "POST", "/invitations/tok-1/accept", 9, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "tok-1")

	rec = serve(router, "POST", "/join/abc", 9, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"token"`)

	rec = serve(router, "POST", "/join/gone", 9, "")
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = serve(router, "POST", "/join/abc", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedeemRateLimited(t *testing.T) {
	service := &mockService{join: func(string, int64) (*JoinLink, error) { return nil, ErrNotFound }}
	limiter := middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	router := newTestRouter(service, allowAll{}, limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNotFound, serve(router, "POST", "/join/guess", 9, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(router, "POST", "/join/guess", 9, "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, "POST", "/join/guess", 10, "").Code, "limits are per user")
}

func TestJoinLinkHandlers(t *testing.T) {
	var revoked [2]int64
	service := &mockService{
		createJoinLink: func(link *JoinLink) error {
			require.NotNil(t, link.ExpiresAt)
			assert.WithinDuration(t, time.Now().Add(48*time.Hour), *link.ExpiresAt, time.Minute)
			assert.Equal(t, 5, link.MaxUses)
			return nil
		},
		revokeJoinLink: func(boardID, linkID int64) error {
			revoked = [2]int64{boardID, linkID}
			return nil
		},
	}
	router := newTestRouter(service, allowAll{}, nil)

	rec := serve(router, "POST", "/boards/11/join-links", 7, `{"role": "board_member", "max_uses": 5, "expires_in_hours": 48}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = serve(router, "DELETE", "/boards/11/join-links/4", 7, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [2]int64{11, 4}, revoked)
}

func TestDefaultPolicy(t *testing.T) {
	policy, err := DefaultPolicy()
	require.NoError(t, err)
	for _, rule := range Rules() {
		_, ok := policy.Rule(rule.Name)
		assert.True(t, ok, rule.Name)
	}
}

// memStore is an in-memory rbac store for one private workspace (3) holding
// one private board (11)
type memStore struct {
	workspaceRoles map[int64]rbac.Role
	boardRoles     map[int64]rbac.Role
	managePolicy   rbac.MemberManagePolicy
}

func (s *memStore) WorkspaceMembership(_ context.Context, userID, workspaceID int64) (*rbac.Membership, error) {
	role, ok := s.workspaceRoles[userID]
	if !ok || workspaceID != 3 {
		return nil, nil
	}
	return &rbac.Membership{UserID: userID, Scope: rbac.ResourceWorkspace, ResourceID: 3, Role: role}, nil
}

func (s *memStore) BoardMembership(_ context.Context, userID, boardID int64) (*rbac.Membership, error) {
	role, ok := s.boardRoles[userID]
	if !ok || boardID != 11 {
		return nil, nil
	}
	return &rbac.Membership{UserID: userID, Scope: rbac.ResourceBoard, ResourceID: 11, Role: role}, nil
}

func (s *memStore) WorkspaceIDForBoard(_ context.Context, boardID int64) (int64, error) {
	if boardID != 11 {
		return 0, rbac.ErrNotFound
	}
	return 3, nil
}

func (s *memStore) Workspace(_ context.Context, workspaceID int64) (*rbac.Workspace, error) {
	if workspaceID != 3 {
		return nil, rbac.ErrNotFound
	}
	return &rbac.Workspace{ID: 3, Visibility: rbac.VisibilityPrivate}, nil
}

func (s *memStore) Board(_ context.Context, boardID int64) (*rbac.Board, error) {
	if boardID != 11 {
		return nil, rbac.ErrNotFound
	}
	policy := s.managePolicy
	if policy == "" {
		policy = rbac.ManageAdminsOnly
	}
	return &rbac.Board{ID: 11, WorkspaceID: 3, Visibility: rbac.VisibilityPrivate, MemberManagePolicy: policy}, nil
}

func (s *memStore) BoardIDForList(context.Context, int64) (int64, error) { return 0, rbac.ErrNotFound }
func (s *memStore) BoardIDForCard(context.Context, int64) (int64, error) { return 0, rbac.ErrNotFound }

func TestRoutesEnforceDefaultPolicy(t *testing.T) {
	store := &memStore{
		workspaceRoles: map[int64]rbac.Role{1: rbac.RoleWorkspaceAdmin},
		boardRoles:     map[int64]rbac.Role{2: rbac.RoleBoardOwner, 3: rbac.RoleBoardMember},
	}
	resolver := rbac.NewResolver(store, store, rbac.NewStaticCatalog(nil), rbac.WithLogger(observability.NopLogger()))
	guard := rbac.NewGuard(resolver, observability.NopLogger())
	policy, err := DefaultPolicy()
	require.NoError(t, err)
	guard.SetPolicy(policy)

	service := &mockService{
		deleteBoard: func(int64) error { return nil },
		listMembers: func(rbac.ResourceType, int64) ([]*Member, error) { return []*Member{}, nil },
		addMember:   func(rbac.ResourceType, int64, int64, rbac.Role) error { return nil },
	}
	router := newTestRouter(service, guard, nil)

	tests := []struct {
		name   string
		method string
		target string
		user   int64
		body   string
		status int
		code   string
	}{
		{"owner deletes board", "DELETE", "/boards/11", 2, "", http.StatusNoContent, ""},
		{"workspace admin deletes board", "DELETE", "/boards/11", 1, "", http.StatusNoContent, ""},
		{"member cannot delete board", "DELETE", "/boards/11", 3, "", http.StatusForbidden, "insufficient_permissions"},
		{"member lists members", "GET", "/boards/11/members", 3, "", http.StatusOK, ""},
		{"stranger cannot list members", "GET", "/boards/11/members", 4, "", http.StatusForbidden, "not_member"},
		{"anonymous cannot list members", "GET", "/boards/11/members", 0, "", http.StatusUnauthorized, "unauthenticated"},
		{"member cannot invite", "POST", "/boards/11/members", 3, `{"user_id": 5, "role": "board_member"}`, http.StatusForbidden, "insufficient_permissions"},
		{"owner invites", "POST", "/boards/11/members", 2, `{"user_id": 5, "role": "board_member"}`, http.StatusCreated, ""},
		{"missing board", "DELETE", "/boards/12", 2, "", http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, tt.method, tt.target, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.code, body["reason_code"])
			}
		})
	}
}

func TestRoutesCapGrantedRoles(t *testing.T) {
	store := &memStore{
		workspaceRoles: map[int64]rbac.Role{
			1: rbac.RoleWorkspaceAdmin,
			5: rbac.RoleWorkspaceModerator,
			6: rbac.RoleWorkspaceMember,
		},
		boardRoles: map[int64]rbac.Role{
			2: rbac.RoleBoardOwner,
			3: rbac.RoleBoardMember,
			4: rbac.RoleBoardAdmin,
		},
		managePolicy: rbac.ManageAllMembers,
	}
	resolver := rbac.NewResolver(store, store, rbac.NewStaticCatalog(nil), rbac.WithLogger(observability.NopLogger()))
	guard := rbac.NewGuard(resolver, observability.NopLogger())
	policy, err := DefaultPolicy()
	require.NoError(t, err)
	guard.SetPolicy(policy)

	var granted []rbac.Role
	service := &mockService{
		addMember: func(_ rbac.ResourceType, _, _ int64, role rbac.Role) error {
			granted = append(granted, role)
			return nil
		},
		updateMember: func(_ rbac.ResourceType, _, _ int64, role rbac.Role) error {
			granted = append(granted, role)
			return nil
		},
		invite: func(invitation *Invitation) error {
			granted = append(granted, invitation.Role)
			return nil
		},
		createJoinLink: func(link *JoinLink) error {
			granted = append(granted, link.Role)
			return nil
		},
	}
	router := newTestRouter(service, guard, nil)

	add := func(role string) string { return `{"user_id": 9, "role": "` + role + `"}` }
	invite := func(role string) string { return `{"email": "new@example.com", "role": "` + role + `"}` }
	link := func(role string) string { return `{"role": "` + role + `"}` }

	tests := []struct {
		name   string
		method string
		target string
		user   int64
		body   string
		status int
	}{
		{"member adds member", "POST", "/boards/11/members", 3, add("board_member"), http.StatusCreated},
		{"member cannot add admin", "POST", "/boards/11/members", 3, add("board_admin"), http.StatusForbidden},
		{"member cannot add owner", "POST", "/boards/11/members", 3, add("board_owner"), http.StatusForbidden},
		{"member cannot invite admin", "POST", "/boards/11/invitations", 3, invite("board_admin"), http.StatusForbidden},
		{"member invites observer", "POST", "/boards/11/invitations", 3, invite("board_observer"), http.StatusCreated},
		{"member cannot mint admin link", "POST", "/boards/11/join-links", 3, link("board_admin"), http.StatusForbidden},
		{"member mints observer link", "POST", "/boards/11/join-links", 3, link("board_observer"), http.StatusCreated},
		{"inherited member cannot add admin", "POST", "/boards/11/members", 6, add("board_admin"), http.StatusForbidden},
		{"inherited member adds member", "POST", "/boards/11/members", 6, add("board_member"), http.StatusCreated},
		{"board admin cannot add owner", "POST", "/boards/11/members", 4, add("board_owner"), http.StatusForbidden},
		{"board admin cannot promote to owner", "PUT", "/boards/11/members/3", 4, link("board_owner"), http.StatusForbidden},
		{"board admin adds admin", "POST", "/boards/11/members", 4, add("board_admin"), http.StatusCreated},
		{"owner adds owner", "POST", "/boards/11/members", 2, add("board_owner"), http.StatusCreated},
		{"workspace admin adds board owner", "POST", "/boards/11/members", 1, add("board_owner"), http.StatusCreated},
		{"moderator cannot add workspace admin", "POST", "/workspaces/3/members", 5, add("workspace_admin"), http.StatusForbidden},
		{"moderator cannot invite workspace admin", "POST", "/workspaces/3/invitations", 5, invite("workspace_admin"), http.StatusForbidden},
		{"moderator adds workspace member", "POST", "/workspaces/3/members", 5, add("workspace_member"), http.StatusCreated},
		{"workspace admin adds workspace admin", "POST", "/workspaces/3/members", 1, add("workspace_admin"), http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			granted = nil
			rec := serve(router, tt.method, tt.target, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusForbidden {
				assert.Empty(t, granted, "a refused grant never reaches the service")
			}
		})
	}
}

func TestRoutesWithoutPolicyDeny(t *testing.T) {
	store := &memStore{boardRoles: map[int64]rbac.Role{2: rbac.RoleBoardOwner}}
	guard := rbac.NewGuard(rbac.NewResolver(store, store, rbac.NewStaticCatalog(nil)), observability.NopLogger())
	router := newTestRouter(&mockService{deleteBoard: func(int64) error { return nil }}, guard, nil)

	rec := serve(router, "DELETE", "/boards/11", 2, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "rule_not_configured")
}
