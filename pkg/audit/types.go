package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeMembershipCreated     EventType = "membership.created"
	EventTypeMembershipRoleChanged EventType = "membership.role_changed"
	EventTypeMembershipDeleted     EventType = "membership.deleted"
	EventTypeAccessDenied          EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusDenied  EventStatus = "denied"
)

// Event is one audit record.
//
// ActorID is whoever issued the request, taken from the request context; it
// is nil for work without a caller such as cron jobs. UserID is the user the
// event is about: the member whose row changed or the caller who was denied.
type Event struct {
	ID         int64       `json:"id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	EventType  EventType   `json:"event_type"`
	Status     EventStatus `json:"status"`
	ActorID    *int64      `json:"actor_id,omitempty"`
	UserID     int64       `json:"user_id"`
	Scope      string      `json:"scope"`
	ResourceID int64       `json:"resource_id"`
	Rule       string      `json:"rule,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

// Logger is the interface for audit sinks
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// newEvent fills in the request-derived fields of an event
func newEvent(ctx context.Context, now time.Time, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: now.UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
	}
	if actor := observability.GetUserID(ctx); actor != 0 {
		event.ActorID = &actor
	}
	return event
}
