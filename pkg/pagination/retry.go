package pagination

import (
	"context"
	"math/rand"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var batchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jira_batch_retries_total",
	Help: "Total number of bulk fetch retries by error class",
}, []string{"error_class"})

// Backoff configures the wait between attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the default backoff.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
	}
}

// retryable reports whether another attempt may succeed. Client errors
// other than throttling are permanent.
func retryable(err error) bool {
	switch client.ClassOf(err) {
	case client.ErrorClassClient:
		return false
	default:
		return true
	}
}

// retryWithBackoff runs fn up to attempts times with jittered exponential
// backoff. It returns the last error of fn, or the context error when the
// context ends during a wait.
func retryWithBackoff(ctx context.Context, attempts int, b Backoff, logger zerolog.Logger, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	wait := b.Initial

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts || !retryable(lastErr) {
			break
		}

		class := string(client.ClassOf(lastErr))
		if class == "" {
			class = "unknown"
		}
		batchRetriesTotal.WithLabelValues(class).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))
		logger.Debug().
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		t := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		wait = time.Duration(float64(wait) * b.Multiplier)
		if b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}

	return lastErr
}
