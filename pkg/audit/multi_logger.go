package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// LogLogger writes audit events as structured log entries
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit sink over a structured logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("audit", true)}
}

// Log implements Logger
func (l *LogLogger) Log(_ context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type":  string(event.EventType),
		"status":      string(event.Status),
		"user_id":     event.UserID,
		"scope":       event.Scope,
		"resource_id": event.ResourceID,
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.Rule != "" {
		fields["rule"] = event.Rule
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	l.logger.WithFields(fields).Info("Audit event")
	return nil
}

// Close implements Logger
func (l *LogLogger) Close() error {
	return nil
}

// MultiLogger writes every event to several sinks. A failing sink does not
// stop the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
