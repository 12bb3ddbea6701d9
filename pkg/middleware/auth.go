package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/corkboard/pkg/auth"
	"github.com/platinummonkey/corkboard/pkg/contextkeys"
	"github.com/platinummonkey/corkboard/pkg/observability"
)

// TokenValidator resolves a bearer token into an identity
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.AuthContext, error)
}

// AuthMiddleware authenticates bearer tokens
type AuthMiddleware struct {
	validator TokenValidator
	optional  bool // allow requests without an Authorization header through as anonymous
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorizedResponse(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			if !isCredentialError(err) {
				observability.FromContext(r.Context()).WithError(err).Error("Token validation failed")
			}
			unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenRevoked)
}

// GetAuthContext extracts the auth context from a request, or nil when anonymous
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext extracts the auth context from a context, or nil when anonymous
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// RequireAuth rejects anonymous requests with 401
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetAuthContext(r).Authenticated() {
			unauthorizedResponse(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="corkboard"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
