package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack. Call it deferred in
// background goroutines (cron jobs, file watchers) that must not take the
// process down.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		RecoverPanicValue(logger, r, where)
	}
}

// RecoverPanicValue logs an already recovered value with the current stack
func RecoverPanicValue(logger *Logger, r interface{}, where string) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}

// PanicError converts a recovered value to an error; nil stays nil
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
