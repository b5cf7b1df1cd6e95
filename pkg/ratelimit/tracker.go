package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrThrottled is returned by Wait when the advertised reset is further
// away than the tracker is willing to wait.
var ErrThrottled = errors.New("jira rate limit exhausted")

// Prometheus metrics for rate limit tracking.
var (
	jiraRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jira_rate_limit_remaining",
		Help: "Last reported Jira rate limit budget",
	})

	jiraRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_waits_total",
		Help: "Total number of requests delayed by an exhausted Jira rate limit",
	})

	jiraRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jira_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a Jira rate limit reset",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Tracker monitors Jira rate limit headers and gates requests.
type Tracker struct {
	store   Store
	maxWait time.Duration
	logger  zerolog.Logger
}

// NewTracker creates a tracker. maxWait bounds how long Wait blocks before
// giving up with ErrThrottled.
func NewTracker(store Store, maxWait time.Duration, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		maxWait: maxWait,
		logger:  logger,
	}
}

// GetState returns the current state.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	return t.store.Load(ctx)
}

// UpdateFromResponse records the rate limit signals carried by a response.
// Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	now := time.Now()
	state := State{Remaining: -1, LastUpdate: now}

	retryAfter := headers.Get(HeaderRetryAfter)
	remaining := headers.Get(HeaderRemaining)

	switch {
	case retryAfter != "":
		wait, err := parseRetryAfter(retryAfter, now)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
		}
		state.Remaining = 0
		state.ResetAt = now.Add(wait)

	case remaining != "":
		n, err := strconv.Atoi(remaining)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		state.Remaining = n
		state.ResetAt = now.Add(DefaultResetWindow)
		if reset := headers.Get(HeaderReset); reset != "" {
			if at, err := time.Parse(time.RFC3339, reset); err == nil {
				state.ResetAt = at
			}
		}

	case statusCode == http.StatusTooManyRequests:
		state.Remaining = 0
		state.ResetAt = now.Add(DefaultResetWindow)

	default:
		return nil
	}

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	jiraRateLimitRemaining.Set(float64(state.Remaining))

	if state.Remaining == 0 {
		t.logger.Warn().
			Int("status", statusCode).
			Time("reset_at", state.ResetAt).
			Msg("Jira rate limit exhausted - requests will wait")
	} else {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Jira rate limit state updated")
	}
	return nil
}

// Wait blocks while the budget is exhausted. It returns ErrThrottled when
// the reset is further away than maxWait, or the context error if ctx ends
// first.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}
	if !state.Exhausted() {
		return nil
	}

	wait := state.TimeUntilReset()
	if wait > t.maxWait {
		t.logger.Error().
			Dur("wait", wait).
			Dur("max_wait", t.maxWait).
			Msg("Jira rate limit reset too far away - failing request")
		return fmt.Errorf("%w: resets in %s", ErrThrottled, wait.Round(time.Second))
	}

	t.logger.Warn().Dur("wait", wait).Msg("Jira rate limit exhausted - waiting for reset")
	jiraRateLimitWaitsTotal.Inc()
	jiraRateLimitWaitSeconds.Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, nil
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, err
	}
	if d := at.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}
