// Package httputil holds the JSON request and response helpers shared by the
// corkboard handlers, plus the outer middleware stack.
//
//	handler := httputil.Chain(
//		httputil.RequestID(logger),
//		httputil.Recovery,
//		authMiddleware.Handler,
//		httputil.Logging,
//		httputil.MaxBytes(1<<20),
//	)(router)
//
// Errors are always written as {"error": message}.
package httputil
