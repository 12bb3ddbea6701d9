package rbac

import (
	"errors"
	"net/http"
	"time"
)

// Reason is the user-visible class of an authorization outcome
type Reason string

const (
	ReasonAllowed           Reason = ""
	ReasonUnauthenticated   Reason = "Authentication required"
	ReasonNotMember         Reason = "Not a member"
	ReasonInsufficientRole  Reason = "Insufficient role privileges"
	ReasonInsufficientPerms Reason = "Insufficient permissions"
	ReasonNotFound          Reason = "Resource not found"
)

// HTTPStatus maps a reason to the status code a transport should answer with
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonAllowed:
		return http.StatusOK
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// Code returns a stable machine-readable code for the reason
func (r Reason) Code() string {
	switch r {
	case ReasonAllowed:
		return "allowed"
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonNotMember:
		return "not_member"
	case ReasonInsufficientRole:
		return "insufficient_role"
	case ReasonInsufficientPerms:
		return "insufficient_permissions"
	case ReasonNotFound:
		return "not_found"
	}
	return "denied"
}

// Decision is the terminal outcome of an authorization check
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Scope     Scope     `json:"scope"`
	UserID    int64     `json:"user_id"`
	CheckedAt time.Time `json:"checked_at"`

	// Err is the operational error behind a fail-closed denial, if any.
	Err error `json:"-"`
}

func allow(userID int64, scope Scope, role Role) Decision {
	return Decision{Allowed: true, Role: role, Scope: scope, UserID: userID, CheckedAt: time.Now()}
}

func deny(userID int64, scope Scope, reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason, Scope: scope, UserID: userID, CheckedAt: time.Now()}
}

// DenyFromError converts an engine error into a fail-closed denial
func DenyFromError(userID int64, scope Scope, err error) Decision {
	d := deny(userID, scope, ReasonInsufficientPerms)
	switch {
	case errors.Is(err, ErrNotFound):
		d.Reason = ReasonNotFound
	case errors.Is(err, ErrUnauthenticated):
		d.Reason = ReasonUnauthenticated
	case errors.Is(err, ErrInsufficientRole):
		d.Reason = ReasonInsufficientRole
	default:
		d.Err = err
	}
	return d
}

// StoreFailure reports whether the denial was caused by an unavailable store
func (d Decision) StoreFailure() bool {
	return d.Err != nil && errors.Is(d.Err, ErrStoreUnavailable)
}
