package retry

import (
	"context"
	"fmt"
	"time"
)

// Class partitions attempt failures by whether another attempt can help.
type Class int

const (
	// ClassSuccess means the mutation was applied.
	ClassSuccess Class = iota
	// ClassRetryable covers transient conditions: propagation lag, rate
	// limiting, network errors.
	ClassRetryable
	// ClassTerminal covers conditions no amount of retrying can fix.
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Outcome is the result of a single mutation attempt. Status is the HTTP
// status of the store response, or 0 for transport-level failures.
type Outcome struct {
	Class  Class
	Status int
	Reason string
}

// State is the aggregate result of a full retry run.
type State int

const (
	// Succeeded: an attempt returned ClassSuccess.
	Succeeded State = iota
	// FailedTerminal: an attempt returned ClassTerminal; remaining attempts
	// were abandoned.
	FailedTerminal
	// FailedExhausted: every allowed attempt failed retryably, or the run
	// deadline expired first. Distinct from FailedTerminal so operators can
	// tell "gave up waiting" from "can never succeed".
	FailedExhausted
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case FailedTerminal:
		return "failed_terminal"
	case FailedExhausted:
		return "failed_exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result aggregates a run: how it ended, how many attempts it took, and the
// last attempt's outcome.
type Result struct {
	State    State
	Attempts int
	Last     Outcome
}

// Policy bounds a retry run. Delay before attempt n+1 after a retryable
// failure on attempt n is BaseDelay * 2^n, capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff to sleep after a retryable failure on the given
// attempt number (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// SleepFunc blocks for d or until ctx is done; it reports whether the full
// duration elapsed. Injectable so the policy is testable without real time.
type SleepFunc func(ctx context.Context, d time.Duration) bool

func defaultSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Controller drives repeated attempts of an idempotent operation under a
// Policy. It holds no state across runs.
type Controller struct {
	policy Policy
	sleep  SleepFunc
}

// Option customises a Controller.
type Option func(*Controller)

// WithSleep overrides the sleep primitive. Useful for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// New creates a Controller. MaxAttempts must be at least 1.
func New(policy Policy, opts ...Option) (*Controller, error) {
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry: max attempts must be >= 1, got %d", policy.MaxAttempts)
	}
	c := &Controller{policy: policy, sleep: defaultSleep}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drives attempt until success, a terminal failure, exhaustion, or ctx
// cancellation. The first attempt fires immediately with no delay.
//
// The run is bounded by MaxAttempts × MaxDelay (plus the per-attempt work
// ctx already carries) so a single delivery cannot occupy the process
// indefinitely; hitting that bound counts as exhaustion.
func (c *Controller) Run(ctx context.Context, attempt func(ctx context.Context) Outcome) Result {
	if c.policy.MaxDelay > 0 {
		bound := time.Duration(c.policy.MaxAttempts) * c.policy.MaxDelay
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	var last Outcome
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return Result{State: FailedExhausted, Attempts: n - 1, Last: last}
		}

		last = attempt(ctx)
		switch last.Class {
		case ClassSuccess:
			return Result{State: Succeeded, Attempts: n, Last: last}
		case ClassTerminal:
			return Result{State: FailedTerminal, Attempts: n, Last: last}
		}

		if n >= c.policy.MaxAttempts {
			return Result{State: FailedExhausted, Attempts: n, Last: last}
		}
		if !c.sleep(ctx, c.policy.Delay(n)) {
			return Result{State: FailedExhausted, Attempts: n, Last: last}
		}
	}
}
