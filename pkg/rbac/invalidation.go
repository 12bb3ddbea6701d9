package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// MembershipEventKind describes what happened to a membership row
type MembershipEventKind string

const (
	MembershipCreated       MembershipEventKind = "created"
	MembershipRoleChanged   MembershipEventKind = "role_changed"
	MembershipDeleted       MembershipEventKind = "deleted"
	// MembershipAccessRevoked reports lost inherited access on a deleted
	// board; no membership row of the user changed.
	MembershipAccessRevoked MembershipEventKind = "access_revoked"
)

// MembershipEvent is fired after a membership write has committed
type MembershipEvent struct {
	Kind       MembershipEventKind `json:"kind"`
	Scope      ResourceType        `json:"scope"`
	UserID     int64               `json:"user_id"`
	ResourceID int64               `json:"resource_id"`
}

func (e MembershipEvent) String() string {
	return fmt.Sprintf("%s %s:%d user:%d", e.Kind, e.Scope, e.ResourceID, e.UserID)
}

// MembershipHook is notified of every membership mutation
type MembershipHook interface {
	MembershipChanged(ctx context.Context, event MembershipEvent)
}

// MembershipHookFunc adapts a function to MembershipHook
type MembershipHookFunc func(ctx context.Context, event MembershipEvent)

// MembershipChanged implements MembershipHook
func (f MembershipHookFunc) MembershipChanged(ctx context.Context, event MembershipEvent) {
	f(ctx, event)
}

// Invalidator evicts cached decisions when memberships change.
//
// A workspace membership feeds every board of the workspace, so all of the
// user's entries are dropped regardless of the event scope.
type Invalidator struct {
	cache   DecisionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewInvalidator creates an invalidation hook for a decision cache
func NewInvalidator(cache DecisionCache, logger *observability.Logger, metrics *observability.Metrics) *Invalidator {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Invalidator{cache: cache, logger: logger, metrics: metrics}
}

// MembershipChanged implements MembershipHook. Failures never undo the
// mutation; they are logged and counted, and the cache TTL bounds the damage.
func (i *Invalidator) MembershipChanged(ctx context.Context, event MembershipEvent) {
	err := i.cache.EvictUser(ctx, event.UserID)
	if err != nil {
		observability.UpdateLoggerWithTraceContext(ctx, i.logger).
			WithError(err).
			WithFields(map[string]interface{}{
				"event":       string(event.Kind),
				"scope":       string(event.Scope),
				"user_id":     event.UserID,
				"resource_id": event.ResourceID,
			}).
			Error("Failed to invalidate cached authorization decisions")
		i.count("error")
		return
	}
	i.logger.WithField("event", event.String()).Debug("Invalidated cached authorization decisions")
	i.count("success")
}

func (i *Invalidator) count(status string) {
	if i.metrics != nil {
		i.metrics.InvalidationsTotal.WithLabelValues(status).Inc()
	}
}

// Hooks fans a membership event out to several hooks in order
type Hooks []MembershipHook

// MembershipChanged implements MembershipHook
func (h Hooks) MembershipChanged(ctx context.Context, event MembershipEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.MembershipChanged(ctx, event)
		}
	}
}
