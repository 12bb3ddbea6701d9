package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/corkboard/pkg/contextkeys"
	"github.com/platinummonkey/corkboard/pkg/middleware"
	"github.com/platinummonkey/corkboard/pkg/observability"
)

// IDSource names where a rule reads the target resource id from
type IDSource string

const (
	SourcePath  IDSource = "path"
	SourceQuery IDSource = "query"
	SourceBody  IDSource = "body"
)

// DefaultBodyLimit bounds how much of a JSON body is buffered to find an id
const DefaultBodyLimit = 1 << 20

// Rule declares the authorization requirement of one route
type Rule struct {
	Name       string       `yaml:"name" json:"name"`
	Resource   ResourceType `yaml:"resource" json:"resource"`
	Source     IDSource     `yaml:"source" json:"source"`
	Field      string       `yaml:"field" json:"field"`
	Check      CheckKind    `yaml:"check" json:"check"`
	Permission Permission   `yaml:"permission,omitempty" json:"permission,omitempty"`
	Roles      []Role       `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// Validate reports configuration mistakes in a rule
func (r Rule) Validate() error {
	if !r.Resource.Valid() {
		return fmt.Errorf("rule %q: unknown resource %q", r.Name, r.Resource)
	}
	switch r.Source {
	case SourcePath, SourceQuery, SourceBody:
	default:
		return fmt.Errorf("rule %q: unknown id source %q", r.Name, r.Source)
	}
	if r.Field == "" {
		return fmt.Errorf("rule %q: field is required", r.Name)
	}
	switch r.Check {
	case CheckView:
	case CheckPermission:
		if _, err := ParsePermission(string(r.Permission)); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	case CheckRole:
		if len(r.Roles) == 0 {
			return fmt.Errorf("rule %q: role check needs at least one role", r.Name)
		}
		for _, role := range r.Roles {
			if !role.Valid() {
				return fmt.Errorf("rule %q: %w: %q", r.Name, ErrUnknownRole, role)
			}
		}
	default:
		return fmt.Errorf("rule %q: unknown check %q", r.Name, r.Check)
	}
	return nil
}

// Guard is the HTTP boundary of the authorization engine. It extracts the
// caller and the target resource from a request, asks the Resolver and either
// passes the request on with the Decision in its context or answers with a
// terminal JSON denial.
type Guard struct {
	resolver *Resolver
	logger   *observability.Logger
	policy    atomic.Pointer[Policy]
	denials   DenialRecorder
	bodyLimit int64
}

// DenialRecorder is told about every request a Guard refuses
type DenialRecorder interface {
	AccessDenied(ctx context.Context, rule string, d Decision)
}

// NewGuard creates a guard over a resolver
func NewGuard(resolver *Resolver, logger *observability.Logger) *Guard {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Guard{resolver: resolver, logger: logger, bodyLimit: DefaultBodyLimit}
}

// SetBodyLimit sets the largest body a body-sourced rule buffers. Larger
// bodies are refused rather than passed on truncated. Call it before the
// guard serves traffic.
func (g *Guard) SetBodyLimit(n int64) {
	if n > 0 {
		g.bodyLimit = n
	}
}

// SetPolicy swaps the named rules used by Named
func (g *Guard) SetPolicy(p *Policy) {
	g.policy.Store(p)
}

// Policy returns the active named rules
func (g *Guard) Policy() *Policy {
	return g.policy.Load()
}

// SetDenialRecorder registers a recorder for refused requests. Call it
// before the guard serves traffic.
func (g *Guard) SetDenialRecorder(rec DenialRecorder) {
	g.denials = rec
}

func (g *Guard) recordDenial(r *http.Request, rule string, d Decision) {
	if g.denials != nil {
		g.denials.AccessDenied(r.Context(), rule, d)
	}
}

// Require returns middleware enforcing a fixed rule. It panics on an invalid
// rule, since rules are wired at startup.
func (g *Guard) Require(rule Rule) func(http.Handler) http.Handler {
	if err := rule.Validate(); err != nil {
		panic(err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next, rule)
		})
	}
}

// Named returns middleware enforcing the policy rule called name. The rule is
// looked up per request so a reloaded policy takes effect immediately; a
// missing rule denies the request.
func (g *Guard) Named(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := g.Policy().Rule(name)
			if !ok {
				observability.FromContext(r.Context()).
					WithField("rule", name).
					Error("Authorization rule not configured")
				writeDenial(w, http.StatusForbidden, ReasonInsufficientPerms, "rule_not_configured")
				return
			}
			g.serve(w, r, next, rule)
		})
	}
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler, rule Rule) {
	d, err := g.Authorize(r, rule)
	logger := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"rule":  rule.Name,
		"scope": d.Scope.String(),
	})

	var badID *badIDError
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error":       err.Error(),
			"reason_code": "body_too_large",
		})
		return
	case errors.As(err, &badID):
		writeJSONError(w, http.StatusBadRequest, map[string]string{
			"error":       badID.Error(),
			"reason_code": "invalid_resource_id",
		})
		return
	case d.StoreFailure():
		logger.WithError(err).Error("Authorization store unavailable, denying request")
		g.recordDenial(r, rule.Name, d)
		writeDenial(w, http.StatusForbidden, ReasonInsufficientPerms, "store_unavailable")
		return
	case err != nil && !errors.Is(err, ErrNotFound):
		logger.WithError(err).Error("Authorization check failed, denying request")
		writeDenial(w, http.StatusForbidden, ReasonInsufficientPerms, d.Reason.Code())
		return
	}

	if !d.Allowed {
		logger.WithField("reason", d.Reason.Code()).Debug("Request denied")
		g.recordDenial(r, rule.Name, d)
		writeDenial(w, d.Reason.HTTPStatus(), d.Reason, d.Reason.Code())
		return
	}

	ctx := contextkeys.WithDecision(r.Context(), d)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// Authorize evaluates a rule against a request without writing a response
func (g *Guard) Authorize(r *http.Request, rule Rule) (Decision, error) {
	userID := middleware.AuthFromContext(r.Context()).UserID()

	id, err := resourceID(r, rule, g.bodyLimit)
	if err != nil {
		return deny(userID, Scope{Type: rule.Resource}, ReasonNotFound), err
	}

	if userID == Anonymous && rule.Check != CheckView {
		return deny(userID, Scope{Type: rule.Resource, ID: id}, ReasonUnauthenticated), nil
	}

	scope := WorkspaceScope(id)
	if rule.Resource != ResourceWorkspace {
		boardID, err := g.resolver.BoardIDFor(r.Context(), rule.Resource, id)
		if err != nil {
			return DenyFromError(userID, Scope{Type: rule.Resource, ID: id}, err), err
		}
		scope = BoardScope(boardID)
	}

	return g.resolver.Decide(r.Context(), userID, Request{
		Check:      rule.Check,
		Scope:      scope,
		Permission: rule.Permission,
		Roles:      rule.Roles,
	})
}

// DecisionFromRequest returns the Decision a Guard stored for this request
func DecisionFromRequest(r *http.Request) (Decision, bool) {
	d, ok := r.Context().Value(contextkeys.DecisionKey).(Decision)
	return d, ok
}

type badIDError struct {
	field string
	value string
}

func (e *badIDError) Error() string {
	if e.value == "" {
		return fmt.Sprintf("missing %s", e.field)
	}
	return fmt.Sprintf("invalid %s %q", e.field, e.value)
}

func resourceID(r *http.Request, rule Rule, bodyLimit int64) (int64, error) {
	var raw string
	switch rule.Source {
	case SourcePath:
		raw = mux.Vars(r)[rule.Field]
	case SourceQuery:
		raw = r.URL.Query().Get(rule.Field)
	case SourceBody:
		v, err := bodyField(r, rule.Field, bodyLimit)
		if err != nil {
			return 0, err
		}
		raw = v
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &badIDError{field: rule.Field, value: raw}
	}
	return id, nil
}

var errBodyTooLarge = errors.New("request body too large")

// bodyField reads a top-level JSON field and restores the body for the next handler
func bodyField(r *http.Request, field string, limit int64) (string, error) {
	if r.Body == nil {
		return "", &badIDError{field: field}
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), int64(len(data)) > limit:
		return "", errBodyTooLarge
	case err != nil:
		return "", &badIDError{field: field}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", &badIDError{field: field}
	}
	value, ok := fields[field]
	if !ok {
		return "", &badIDError{field: field}
	}

	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", &badIDError{field: field, value: string(value)}
	}
	return n.String(), nil
}

func writeDenial(w http.ResponseWriter, status int, reason Reason, code string) {
	writeJSONError(w, status, map[string]string{
		"error":       string(reason),
		"reason_code": code,
	})
}

func writeJSONError(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
