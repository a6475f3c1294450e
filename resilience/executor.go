package resilience

import (
	"context"
	"time"
)

// Op is an operation run under a resilience policy.
type Op func(context.Context) error

// Executor runs operations under an optional retry policy and an optional
// per-attempt timeout. The retry is outermost, so each attempt gets its own
// deadline.
type Executor struct {
	retry   *Retry
	timeout *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor. With no options Execute calls op once.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRetry sets the retry policy.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithTimeout bounds each attempt by d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: d})
	}
}

// WithTimeoutConfig bounds each attempt with a preconfigured Timeout.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// Execute runs op through the configured policies.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	attempt := Op(op)
	if e.timeout != nil {
		attempt = e.bounded(op)
	}
	if e.retry == nil {
		return attempt(ctx)
	}
	return e.retry.Execute(ctx, attempt)
}

func (e *Executor) bounded(op Op) Op {
	return func(ctx context.Context) error {
		return e.timeout.Execute(ctx, op)
	}
}
