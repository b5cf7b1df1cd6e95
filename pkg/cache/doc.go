// Package cache provides a Redis-backed response cache for idempotent Jira
// GET endpoints (board sprint lists, sprint reports).
//
// Search and bulk-fetch calls are POST requests and are never cached: issue
// records are built fresh for every dashboard request. The cache only saves
// repeated round trips for board-level data that changes slowly.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		API:         "agile",
//		Endpoint:    "/board/42/sprint",
//		QueryParams: url.Values{"state": []string{"closed,active,future"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from Jira, then
//		_ = manager.Set(ctx, key, cache.NewEntry(body, http.StatusOK, time.Minute))
//	}
//
// # Metrics
//
//   - jira_cache_hits_total
//   - jira_cache_misses_total
//   - jira_cache_errors_total{operation}
package cache
