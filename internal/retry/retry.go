// Package retry wraps the whole transport cascade as one retryable unit.
// A terminal failure whose status is in the configured retryable set
// restarts the cascade from the first tier after a backoff wait; anything
// else propagates unchanged.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/reversegrok/assets_downloader/internal/envelope"
	"github.com/reversegrok/assets_downloader/internal/logctx"
	"github.com/reversegrok/assets_downloader/internal/telemetry"
	"github.com/reversegrok/assets_downloader/internal/upstream"
)

// DefaultStatuses are the transient upstream statuses retried when no set
// is configured.
var DefaultStatuses = []int{429, 502, 503, 504}

// Policy controls retry behavior around the cascade. Downloads are
// read-only GETs, so restarting the cascade is safe.
type Policy struct {
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	statuses    map[int]struct{}
	tel         *telemetry.Telemetry
}

// NewPolicy builds a retry policy. maxAttempts counts full cascade passes
// and is clamped to at least 1; an empty statuses slice selects
// DefaultStatuses.
func NewPolicy(maxAttempts int, backoff, maxBackoff time.Duration, statuses []int, tel *telemetry.Telemetry) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	if maxBackoff < backoff {
		maxBackoff = backoff
	}

	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}

	set := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}

	return &Policy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		statuses:    set,
		tel:         tel,
	}
}

// Do invokes fn until it succeeds, returns a non-retryable failure, or the
// attempt budget runs out. Each invocation is a fresh full cascade pass.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) (*envelope.Envelope, error)) (*envelope.Envelope, error) {
	logger := logctx.LoggerFromContext(ctx)

	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		env, err := fn(ctx)
		if err == nil {
			return env, nil
		}

		lastErr = err

		status, ok := upstream.StatusOf(err)
		if !ok || !p.retryable(status) || attempt == p.maxAttempts {
			return nil, err
		}

		logger.Warn("retryable upstream status, restarting cascade",
			"status", status,
			"attempt", attempt,
			"max_attempts", p.maxAttempts)
		p.tel.RecordRetry(status)

		if err := p.wait(ctx, attempt); err != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func (p *Policy) retryable(status int) bool {
	_, ok := p.statuses[status]
	return ok
}

// wait sleeps an exponentially increasing duration with jitter, aborting
// early when the caller's context is done.
func (p *Policy) wait(ctx context.Context, attempt int) error {
	backoff := p.backoff * time.Duration(1<<uint(attempt-1))
	if backoff > p.maxBackoff {
		backoff = p.maxBackoff
	}

	// Jitter: 0.5 to 1.5 of backoff.
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
