package export

import (
	"context"
	"time"
)

// Policy parameterizes the orchestrator's polling and retry behavior so
// tests can run it without real wall-clock delays.
type Policy struct {
	// PollInterval is the fixed delay between export status polls.
	PollInterval time.Duration

	// PollTimeout is the wall-clock ceiling for the whole polling phase.
	// Exports can legitimately take minutes; this guards against ones that
	// never finish.
	PollTimeout time.Duration

	// MaxRetries bounds retries of a single call after transient failures.
	MaxRetries int

	// RetryBackoff is the initial delay before a transient retry. It
	// doubles on each consecutive failure of the same call.
	RetryBackoff time.Duration
}

// DefaultPolicy returns the production polling policy.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval: 5 * time.Second,
		PollTimeout:  30 * time.Minute,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done. Injected so tests can record
// sleeps instead of waiting them out.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ctxSleep is the production SleepFunc.
func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
