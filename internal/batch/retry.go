package batch

import (
	"context"
	"math"
	"time"

	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// Failure is one failed item of an attempt, addressed by its index in the
// flushed batch rather than by its position in the resubmission.
type Failure struct {
	Index     int
	Messages  []string
	Retryable bool
}

// RetryDecision tells the flush loop what to resubmit and when.
type RetryDecision struct {
	Retry  []int // original indices to resubmit
	Wait   time.Duration
	GiveUp bool
}

// RetryPolicy decides which failed items are resubmitted.
type RetryPolicy struct {
	config           BatchRetriesConfig
	transientMessage func(string) bool
}

// NewRetryPolicy creates a policy from a validated config.
func NewRetryPolicy(cfg BatchRetriesConfig) *RetryPolicy {
	return &RetryPolicy{config: cfg, transientMessage: weaviate.IsTransientMessage}
}

// Decide is a pure function of the failures of attempt number attempt
// (1 for the initial send). Non-retryable failures are never resubmitted;
// once attempt exceeds MaxRetries the policy gives up.
func (p *RetryPolicy) Decide(failures []Failure, attempt int) RetryDecision {
	var retry []int
	for _, f := range failures {
		if f.Retryable {
			retry = append(retry, f.Index)
		}
	}
	if len(retry) == 0 || attempt > p.config.MaxRetries {
		return RetryDecision{GiveUp: true}
	}
	return RetryDecision{Retry: retry, Wait: p.backoff(attempt)}
}

// classify reports whether object-level messages describe a transient condition.
// Every message must be transient; one validation error makes the payload unfixable.
func (p *RetryPolicy) classify(msgs []string) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if !p.transientMessage(m) {
			return false
		}
	}
	return true
}

// backoff computes initial * factor^(attempt-1), capped at MaxBackoff.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.config.InitialBackoff) * math.Pow(p.config.BackoffFactor, float64(attempt-1))
	if base > float64(p.config.MaxBackoff) || math.IsInf(base, 0) || math.IsNaN(base) {
		return p.config.MaxBackoff
	}
	return time.Duration(base)
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
