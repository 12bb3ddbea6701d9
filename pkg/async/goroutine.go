package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// ErrClosed is returned by Runner.Go once Wait has been called
var ErrClosed = errors.New("runner closed")

// SafeGo executes fn in a goroutine with panic recovery. A positive timeout
// bounds the context fn runs with. Errors are logged, never propagated.
//
// Example:
//
//	async.SafeGo(ctx, logger, 0, "policy watcher", func(ctx context.Context) error {
//	    return rbac.WatchPolicy(ctx, path, guard, logger, metrics)
//	})
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, task string, fn func(context.Context) error) {
	go run(parent, logger, timeout, task, fn)
}

func run(parent context.Context, logger *observability.Logger, timeout time.Duration, task string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(parent)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()
	defer observability.RecoverPanic(logger, task)

	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).WithField("task", task).Error("Background task failed")
	}
}

// Runner runs fire-and-forget tasks that must still finish before the
// process exits, such as audit writes issued after a response was sent.
type Runner struct {
	logger  *observability.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner whose tasks each get at most timeout
func NewRunner(logger *observability.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go starts fn detached from the cancellation of ctx; values such as the
// request id stay visible to it.
func (r *Runner) Go(ctx context.Context, task string, fn func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		run(context.WithoutCancel(ctx), r.logger, r.timeout, task, fn)
	}()
	return nil
}

// Wait stops accepting tasks and blocks until the running ones finish or ctx
// is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
