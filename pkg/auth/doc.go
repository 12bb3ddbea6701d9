// Package auth identifies the caller of a request.
//
// Users authenticate with opaque API tokens of the form
// cb_<base64url(32 random bytes)>. Only the SHA-256 hash of a token is stored;
// the plaintext is returned once, at creation.
//
//	tm := auth.NewTokenManager(db)
//	token, plaintext, err := tm.CreateToken(ctx, userID, "ci", nil)
//	authCtx, err := tm.ValidateToken(ctx, plaintext)
//
// The resulting AuthContext is placed in the request context by
// middleware.AuthMiddleware and read by the rbac Guard.
package auth
