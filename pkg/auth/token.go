package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies corkboard tokens
	TokenPrefix = "cb_"
	// TokenLength is the number of random bytes in a token (256 bits)
	TokenLength = 32
	// displayPrefixLength is how many encoded characters are kept for display
	displayPrefixLength = 8
)

var (
	// ErrInvalidToken is returned for malformed or unknown tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for revoked tokens
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenNotFound is returned when revoking a token that does not exist
	ErrTokenNotFound = errors.New("token not found")
)

// TokenGenerator generates and hashes API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken returns the plaintext token, its storage hash and its display prefix
func (tg *TokenGenerator) GenerateToken() (token, tokenHash, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = TokenPrefix + encoded
	return token, tg.HashToken(token), TokenPrefix + encoded[:displayPrefixLength], nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// TokenManager stores and validates API tokens in the api_tokens table
type TokenManager struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *sql.DB) *TokenManager {
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
}

// CreateToken issues a token for a user. The plaintext is returned only here.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("token name is required")
	}

	plaintext, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	token := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   tm.now(),
	}

	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = tm.db.QueryRowContext(ctx, query,
		token.UserID, token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt, token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, plaintext, nil
}

// ValidateToken resolves a bearer token to the identity that owns it
func (tm *TokenManager) ValidateToken(ctx context.Context, plaintext string) (*AuthContext, error) {
	if err := tm.generator.ValidateTokenFormat(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	query := `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.revoked_at, t.created_at,
		       u.username, u.email, u.is_active
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`

	token := &APIToken{TokenHash: tm.generator.HashToken(plaintext)}
	user := &User{}
	var expiresAt, revokedAt sql.NullTime
	var email sql.NullString
	err := tm.db.QueryRowContext(ctx, query, token.TokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenPrefix, &token.Name, &expiresAt, &revokedAt, &token.CreatedAt,
		&user.Username, &email, &user.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if revokedAt.Valid {
		return nil, ErrTokenRevoked
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	now := tm.now()
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is inactive", ErrInvalidToken)
	}

	user.ID = token.UserID
	user.Email = email.String

	// last_used_at is informational; a failed update does not reject the request.
	if _, err := tm.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, token.ID); err == nil {
		token.LastUsedAt = &now
	}

	return &AuthContext{User: user, Token: token}, nil
}

// RevokeToken revokes one of the user's tokens
func (tm *TokenManager) RevokeToken(ctx context.Context, userID, tokenID int64) error {
	query := `
		UPDATE api_tokens
		SET revoked_at = $1
		WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL
	`
	result, err := tm.db.ExecContext(ctx, query, tm.now(), tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}
