package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jiayi-1994/slotmap/pkg/logging"
)

// RetryOptions controls the exponential backoff of a Retrying enricher
type RetryOptions struct {
	// InitialInterval is the first delay between attempts
	InitialInterval time.Duration

	// MaxElapsedTime bounds all attempts; zero means retry until ctx ends
	MaxElapsedTime time.Duration
}

// Retrying wraps an Enricher with exponential backoff.
// Errors wrapped with backoff.Permanent stop the retries immediately.
type Retrying struct {
	next Enricher
	opts RetryOptions
}

// NewRetrying creates a retrying enricher around next
func NewRetrying(next Enricher, opts RetryOptions) *Retrying {
	return &Retrying{next: next, opts: opts}
}

// Enrich calls the wrapped enricher until it succeeds, fails permanently,
// the elapsed budget runs out, or ctx is done.
func (r *Retrying) Enrich(ctx context.Context, artifact Artifact) error {
	policy := backoff.NewExponentialBackOff()
	if r.opts.InitialInterval > 0 {
		policy.InitialInterval = r.opts.InitialInterval
	}
	policy.MaxElapsedTime = r.opts.MaxElapsedTime

	logger := logging.LoggerForSlot(ctx, artifact.Slot)
	attempt := 0
	operation := func() error {
		attempt++
		return r.next.Enrich(ctx, artifact)
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("Enrichment attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err.Error())
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("enrichment of slot %d failed after %d attempts: %w", artifact.Slot, attempt, err)
	}
	return nil
}
