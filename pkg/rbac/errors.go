package rbac

import "errors"

var (
	// ErrNotFound is returned when a workspace, board, list or card id does not resolve
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthenticated is returned when a non-public resource is targeted without identity
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInsufficientRole is returned when the effective role is not in an allowed-role list
	ErrInsufficientRole = errors.New("insufficient role privileges")

	// ErrInsufficientPermission is returned when the effective role lacks a permission
	ErrInsufficientPermission = errors.New("insufficient permissions")

	// ErrStoreUnavailable wraps failures of the membership, resource or catalog stores
	ErrStoreUnavailable = errors.New("authorization store unavailable")

	// ErrUnknownRole is returned when a stored role name is not a built-in role
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnknownPermission is returned when a permission tag is not known
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrCacheMiss is returned by a DecisionCache when no live entry exists
	ErrCacheMiss = errors.New("cache miss")
)
