package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/corkboard/pkg/async"
	"github.com/platinummonkey/corkboard/pkg/observability"
	"github.com/platinummonkey/corkboard/pkg/rbac"
)

// Recorder turns membership changes and guard denials into audit events. It
// is an rbac.MembershipHook and an rbac.DenialRecorder.
//
// Writes run on an async.Runner so a slow sink never delays the response;
// wait on the runner during shutdown to flush them.
type Recorder struct {
	sink   Logger
	runner *async.Runner
	logger *observability.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder writing to sink through runner
func NewRecorder(sink Logger, runner *async.Runner, logger *observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if runner == nil {
		runner = async.NewRunner(logger, 5*time.Second)
	}
	return &Recorder{sink: sink, runner: runner, logger: logger, now: time.Now}
}

var membershipEventTypes = map[rbac.MembershipEventKind]EventType{
	rbac.MembershipCreated:     EventTypeMembershipCreated,
	rbac.MembershipRoleChanged: EventTypeMembershipRoleChanged,
	rbac.MembershipDeleted:     EventTypeMembershipDeleted,
}

// MembershipChanged implements rbac.MembershipHook
func (r *Recorder) MembershipChanged(ctx context.Context, change rbac.MembershipEvent) {
	eventType, ok := membershipEventTypes[change.Kind]
	if !ok {
		return
	}
	event := newEvent(ctx, r.now(), eventType, EventStatusSuccess)
	event.UserID = change.UserID
	event.Scope = string(change.Scope)
	event.ResourceID = change.ResourceID
	r.record(ctx, event)
}

// AccessDenied implements rbac.DenialRecorder
func (r *Recorder) AccessDenied(ctx context.Context, rule string, d rbac.Decision) {
	event := newEvent(ctx, r.now(), EventTypeAccessDenied, EventStatusDenied)
	event.UserID = d.UserID
	event.Scope = string(d.Scope.Type)
	event.ResourceID = d.Scope.ID
	event.Rule = rule
	event.Reason = d.Reason.Code()
	r.record(ctx, event)
}

func (r *Recorder) record(ctx context.Context, event *Event) {
	err := r.runner.Go(ctx, "audit "+string(event.EventType), func(ctx context.Context) error {
		return r.sink.Log(ctx, event)
	})
	if err != nil {
		r.logger.WithError(err).WithField("event_type", string(event.EventType)).
			Warn("Dropped audit event")
	}
}
