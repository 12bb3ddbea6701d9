package members

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/corkboard/pkg/httputil"
	"github.com/platinummonkey/corkboard/pkg/middleware"
	"github.com/platinummonkey/corkboard/pkg/observability"
	"github.com/platinummonkey/corkboard/pkg/rbac"
)

// Authorizer enforces a named authorization rule; *rbac.Guard implements it
type Authorizer interface {
	Named(name string) func(http.Handler) http.Handler
}

// Handlers handles membership-related HTTP requests
type Handlers struct {
	service Service
	guard   Authorizer
	limiter middleware.Limiter
}

// NewHandlers creates membership handlers. Token redemption is rate limited
// when limiter is not nil.
func NewHandlers(service Service, guard Authorizer, limiter middleware.Limiter) *Handlers {
	return &Handlers{service: service, guard: guard, limiter: limiter}
}

func workspaceRule(name string, check rbac.CheckKind, perm rbac.Permission) rbac.Rule {
	return rbac.Rule{
		Name: name, Resource: rbac.ResourceWorkspace, Source: rbac.SourcePath, Field: "workspaceID",
		Check: check, Permission: perm,
	}
}

func boardRule(name string, check rbac.CheckKind, perm rbac.Permission) rbac.Rule {
	return rbac.Rule{
		Name: name, Resource: rbac.ResourceBoard, Source: rbac.SourcePath, Field: "boardID",
		Check: check, Permission: perm,
	}
}

// Rules returns the default authorization rule of every guarded route
func Rules() []rbac.Rule {
	return []rbac.Rule{
		workspaceRule("workspaces.members.list", rbac.CheckView, ""),
		workspaceRule("workspaces.members.add", rbac.CheckPermission, rbac.PermMembersInvite),
		workspaceRule("workspaces.members.update", rbac.CheckPermission, rbac.PermMembersUpdateRole),
		workspaceRule("workspaces.members.remove", rbac.CheckPermission, rbac.PermMembersRemove),
		workspaceRule("workspaces.leave", rbac.CheckView, ""),
		workspaceRule("workspaces.invite", rbac.CheckPermission, rbac.PermMembersInvite),
		workspaceRule("boards.create", rbac.CheckPermission, rbac.PermBoardsCreate),
		boardRule("boards.delete", rbac.CheckPermission, rbac.PermBoardsDelete),
		boardRule("boards.members.list", rbac.CheckView, ""),
		boardRule("boards.members.add", rbac.CheckPermission, rbac.PermMembersInvite),
		boardRule("boards.members.update", rbac.CheckPermission, rbac.PermMembersUpdateRole),
		boardRule("boards.members.remove", rbac.CheckPermission, rbac.PermMembersRemove),
		boardRule("boards.leave", rbac.CheckView, ""),
		boardRule("boards.invite", rbac.CheckPermission, rbac.PermMembersInvite),
		boardRule("boards.joinlinks.create", rbac.CheckPermission, rbac.PermMembersInvite),
		boardRule("boards.joinlinks.revoke", rbac.CheckPermission, rbac.PermMembersInvite),
	}
}

// DefaultPolicy returns Rules as a policy for rbac.Guard.SetPolicy
func DefaultPolicy() (*rbac.Policy, error) {
	return rbac.NewPolicy(Rules()...)
}

// RegisterRoutes registers membership routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	guarded := func(rule string, fn http.HandlerFunc) http.Handler {
		return h.guard.Named(rule)(fn)
	}
	redeem := func(fn http.HandlerFunc) http.Handler {
		var handler http.Handler = fn
		if h.limiter != nil {
			handler = middleware.RateLimit(h.limiter)(handler)
		}
		return middleware.RequireAuth(handler)
	}

	router.Handle("/workspaces", middleware.RequireAuth(http.HandlerFunc(h.CreateWorkspace))).Methods("POST")

	// Workspace members
	router.Handle("/workspaces/{workspaceID}/members", guarded("workspaces.members.list", h.ListWorkspaceMembers)).Methods("GET")
	router.Handle("/workspaces/{workspaceID}/members", guarded("workspaces.members.add", h.AddWorkspaceMember)).Methods("POST")
	router.Handle("/workspaces/{workspaceID}/members/{userID}", guarded("workspaces.members.update", h.UpdateWorkspaceMember)).Methods("PUT")
	router.Handle("/workspaces/{workspaceID}/members/{userID}", guarded("workspaces.members.remove", h.RemoveWorkspaceMember)).Methods("DELETE")
	router.Handle("/workspaces/{workspaceID}/membership", guarded("workspaces.leave", h.LeaveWorkspace)).Methods("DELETE")
	router.Handle("/workspaces/{workspaceID}/invitations", guarded("workspaces.invite", h.InviteToWorkspace)).Methods("POST")

	// Boards
	router.Handle("/workspaces/{workspaceID}/boards", guarded("boards.create", h.CreateBoard)).Methods("POST")
	router.Handle("/boards/{boardID}", guarded("boards.delete", h.DeleteBoard)).Methods("DELETE")

	// Board members
	router.Handle("/boards/{boardID}/members", guarded("boards.members.list", h.ListBoardMembers)).Methods("GET")
	router.Handle("/boards/{boardID}/members", guarded("boards.members.add", h.AddBoardMember)).Methods("POST")
	router.Handle("/boards/{boardID}/members/{userID}", guarded("boards.members.update", h.UpdateBoardMember)).Methods("PUT")
	router.Handle("/boards/{boardID}/members/{userID}", guarded("boards.members.remove", h.RemoveBoardMember)).Methods("DELETE")
	router.Handle("/boards/{boardID}/membership", guarded("boards.leave", h.LeaveBoard)).Methods("DELETE")
	router.Handle("/boards/{boardID}/invitations", guarded("boards.invite", h.InviteToBoard)).Methods("POST")
	router.Handle("/boards/{boardID}/join-links", guarded("boards.joinlinks.create", h.CreateJoinLink)).Methods("POST")
	router.Handle("/boards/{boardID}/join-links/{linkID}", guarded("boards.joinlinks.revoke", h.RevokeJoinLink)).Methods("DELETE")

	// Redemption
	router.Handle("/invitations/{token}/accept", redeem(h.AcceptInvitation)).Methods("POST")
	router.Handle("/join/{token}", redeem(h.JoinByLink)).Methods("POST")
}

func callerID(r *http.Request) int64 {
	return middleware.AuthFromContext(r.Context()).UserID()
}

// CreateWorkspace creates a workspace owned by the caller
func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ws := &Workspace{Name: req.Name, Visibility: req.Visibility, CreatedBy: callerID(r)}
	if err := h.service.CreateWorkspace(r.Context(), ws); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

// CreateBoard creates a board owned by the caller
func (h *Handlers) CreateBoard(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "workspaceID")
	if !ok {
		return
	}
	var req CreateBoardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	board := &Board{
		WorkspaceID:        workspaceID,
		Name:               req.Name,
		Visibility:         req.Visibility,
		MemberManagePolicy: req.MemberManagePolicy,
		CreatedBy:          callerID(r),
	}
	if err := h.service.CreateBoard(r.Context(), board); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, board)
}

// DeleteBoard deletes a board
func (h *Handlers) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	boardID, ok := httputil.ParsePathInt64OrError(w, r, "boardID")
	if !ok {
		return
	}
	if err := h.service.DeleteBoard(r.Context(), boardID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListWorkspaceMembers lists workspace members
func (h *Handlers) ListWorkspaceMembers(w http.ResponseWriter, r *http.Request) {
	h.listMembers(w, r, "workspaceID", h.service.ListWorkspaceMembers)
}

// ListBoardMembers lists direct board members
func (h *Handlers) ListBoardMembers(w http.ResponseWriter, r *http.Request) {
	h.listMembers(w, r, "boardID", h.service.ListBoardMembers)
}

// AddWorkspaceMember adds a workspace member
func (h *Handlers) AddWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	h.addMember(w, r, "workspaceID", h.service.AddWorkspaceMember)
}

// AddBoardMember adds a board member
func (h *Handlers) AddBoardMember(w http.ResponseWriter, r *http.Request) {
	h.addMember(w, r, "boardID", h.service.AddBoardMember)
}

// UpdateWorkspaceMember changes a workspace member's role
func (h *Handlers) UpdateWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	h.updateMember(w, r, "workspaceID", h.service.UpdateWorkspaceMemberRole)
}

// UpdateBoardMember changes a board member's role
func (h *Handlers) UpdateBoardMember(w http.ResponseWriter, r *http.Request) {
	h.updateMember(w, r, "boardID", h.service.UpdateBoardMemberRole)
}

// RemoveWorkspaceMember removes a workspace member
func (h *Handlers) RemoveWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	h.removeMember(w, r, "workspaceID", userID, h.service.RemoveWorkspaceMember)
}

// RemoveBoardMember removes a board member
func (h *Handlers) RemoveBoardMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	h.removeMember(w, r, "boardID", userID, h.service.RemoveBoardMember)
}

// LeaveWorkspace removes the caller from a workspace
func (h *Handlers) LeaveWorkspace(w http.ResponseWriter, r *http.Request) {
	h.removeMember(w, r, "workspaceID", callerID(r), h.service.RemoveWorkspaceMember)
}

// LeaveBoard removes the caller from a board
func (h *Handlers) LeaveBoard(w http.ResponseWriter, r *http.Request) {
	h.removeMember(w, r, "boardID", callerID(r), h.service.RemoveBoardMember)
}

// InviteToWorkspace creates a workspace invitation
func (h *Handlers) InviteToWorkspace(w http.ResponseWriter, r *http.Request) {
	h.invite(w, r, rbac.ResourceWorkspace, "workspaceID")
}

// InviteToBoard creates a board invitation
func (h *Handlers) InviteToBoard(w http.ResponseWriter, r *http.Request) {
	h.invite(w, r, rbac.ResourceBoard, "boardID")
}

// AcceptInvitation redeems an invitation token for the caller
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	invitation, err := h.service.AcceptInvitation(r.Context(), token, callerID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	invitation.Token = ""
	httputil.WriteSuccess(w, invitation)
}

// CreateJoinLink creates a board join link
func (h *Handlers) CreateJoinLink(w http.ResponseWriter, r *http.Request) {
	boardID, ok := httputil.ParsePathInt64OrError(w, r, "boardID")
	if !ok {
		return
	}
	var req JoinLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := checkGrant(r, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}

	link := &JoinLink{BoardID: boardID, Role: req.Role, MaxUses: req.MaxUses, CreatedBy: callerID(r)}
	if req.ExpiresInH > 0 {
		expiresAt := time.Now().Add(time.Duration(req.ExpiresInH) * time.Hour)
		link.ExpiresAt = &expiresAt
	}
	if err := h.service.CreateJoinLink(r.Context(), link); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, link)
}

// RevokeJoinLink revokes a board join link
func (h *Handlers) RevokeJoinLink(w http.ResponseWriter, r *http.Request) {
	boardID, ok := httputil.ParsePathInt64OrError(w, r, "boardID")
	if !ok {
		return
	}
	linkID, ok := httputil.ParsePathInt64OrError(w, r, "linkID")
	if !ok {
		return
	}
	if err := h.service.RevokeJoinLink(r.Context(), boardID, linkID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// JoinByLink adds the caller to a board through a join link
func (h *Handlers) JoinByLink(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	link, err := h.service.JoinByLink(r.Context(), token, callerID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	link.Token = ""
	httputil.WriteSuccess(w, link)
}

type listFunc func(ctx context.Context, resourceID int64) ([]*Member, error)

func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request, key string, list listFunc) {
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, key)
	if !ok {
		return
	}
	members, err := list(r.Context(), resourceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

type mutateFunc func(ctx context.Context, resourceID, userID int64, role rbac.Role) error

func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request, key string, add mutateFunc) {
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, key)
	if !ok {
		return
	}
	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}
	if err := checkGrant(r, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := add(r.Context(), resourceID, req.UserID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, req)
}

func (h *Handlers) updateMember(w http.ResponseWriter, r *http.Request, key string, update mutateFunc) {
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, key)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	var req UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := checkGrant(r, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := update(r.Context(), resourceID, userID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, AddMemberRequest{UserID: userID, Role: req.Role})
}

type removeFunc func(ctx context.Context, resourceID, userID int64) error

func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request, key string, userID int64, remove removeFunc) {
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, key)
	if !ok {
		return
	}
	if err := remove(r.Context(), resourceID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) invite(w http.ResponseWriter, r *http.Request, scope rbac.ResourceType, key string) {
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, key)
	if !ok {
		return
	}
	var req InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := checkGrant(r, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}

	invitation := &Invitation{
		Scope:      scope,
		ResourceID: resourceID,
		Email:      req.Email,
		Role:       req.Role,
		InvitedBy:  callerID(r),
	}
	if err := h.service.CreateInvitation(r.Context(), invitation); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, invitation)
}

// checkGrant caps a granted role at the caller's role on the guarded
// resource. Unknown roles are left for the service to reject.
func checkGrant(r *http.Request, role rbac.Role) error {
	if !role.Valid() {
		return nil
	}
	d, ok := rbac.DecisionFromRequest(r)
	if !ok || !rbac.CanGrant(d.Role, role) {
		return fmt.Errorf("%w: %s", ErrRoleAboveCaller, role)
	}
	return nil
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrRoleAboveCaller):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRole):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrLastOwner),
		errors.Is(err, ErrWorkspaceArchived), errors.Is(err, ErrInvitationAccepted):
		status = http.StatusConflict
	case errors.Is(err, ErrInvitationExpired), errors.Is(err, ErrJoinLinkInvalid):
		status = http.StatusGone
	}

	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Membership request failed")
		httputil.WriteErrorMessage(w, status, "internal server error")
		return
	}
	httputil.WriteError(w, status, err)
}
