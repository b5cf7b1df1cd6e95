package dashboard

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/jira-dashboard/internal/testutil"
	"github.com/Sternrassler/jira-dashboard/pkg/cache"
	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/config"
	"github.com/Sternrassler/jira-dashboard/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_RedisBackedStack runs the service over a client that
// caches GET responses and shares rate limit state through Redis.
func TestIntegration_RedisBackedStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	rdb := testutil.StartRedis(t)

	mock := testutil.NewMockJira("parent")
	defer mock.Close()
	mock.AddIssue(testutil.MockIssue{Key: "APPS-1", Labels: []string{"Q3"}})
	mock.AddIssue(testutil.MockIssue{Key: "APPS-2", Parent: "APPS-1"})
	mock.SetSprints(9,
		testutil.MockSprint{ID: 3, State: "closed", Name: "Sprint 3", StartDate: "2025-02-03T08:00:00.000Z"},
		testutil.MockSprint{ID: 4, State: "future", Name: "Sprint 4"},
	)
	mock.SetSprintReport(3, testutil.MockSprintReport{Completed: []string{"APPS-2"}})

	clientCfg := client.DefaultConfig(mock.URL())
	clientCfg.Cache = cache.NewManager(rdb)
	clientCfg.CacheTTL = time.Minute
	clientCfg.RateLimiter = ratelimit.NewTracker(ratelimit.NewRedisStore(rdb, time.Minute), 5*time.Second, zerolog.Nop())
	c, err := client.New(clientCfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	cfg := config.Default()
	cfg.JiraDomain = mock.URL()
	cfg.Label = "Q3"
	svc := New(c, cfg, zerolog.Nop())
	ctx := context.Background()

	trees, err := svc.BuildInitiativeTrees(ctx, "Q3")
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, 2, trees[0].Count())

	for i := 0; i < 3; i++ {
		sprints, err := svc.ListSprints(ctx, 9)
		require.NoError(t, err)
		require.Len(t, sprints, 2)
		assert.Equal(t, "Sprint 4", sprints[0].Name)
	}
	assert.Equal(t, 1, mock.RequestCount("/rest/agile/1.0/board/9/sprint"))

	report, err := svc.GetSprintReport(ctx, 9, 3)
	require.NoError(t, err)
	assert.Len(t, report.CompletedIssues, 1)

	// A throttled response is visible to every client sharing the store.
	mock.SetHandler("/rest/agile/1.0/board/10/sprint", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err = svc.ListSprints(ctx, 10)
	require.Error(t, err)

	other := ratelimit.NewTracker(ratelimit.NewRedisStore(rdb, time.Minute), time.Second, zerolog.Nop())
	state, err := other.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Exhausted())
	assert.ErrorIs(t, other.Wait(ctx), ratelimit.ErrThrottled)
}
