// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware validates "Authorization: Bearer <token>" headers and places
// an *auth.AuthContext in the request context. In optional mode requests
// without the header continue anonymously, which lets public boards be read
// without an account; the rbac Guard makes the final decision.
//
//	authn := middleware.NewAuthMiddleware(tokenManager, true)
//	router.Use(authn.Handler)
//
// RateLimit bounds token redemption endpoints (invitations, join links),
// in-process or shared through Redis:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.RedeemRateLimitConfig(), "")
//	redeem.Use(middleware.RateLimit(limiter))
package middleware
