package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all dashboard cache keys in Redis.
const KeyPrefix = "jira"

// CacheKey identifies a cached Jira GET response.
type CacheKey struct {
	// API is the Jira API family (platform, agile, greenhopper)
	API string

	// Endpoint is the path below the API base (e.g., "/board/42/sprint")
	Endpoint string

	// QueryParams are the query parameters
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: jira:api:endpoint:query1=val1:query2=val2
//
// Example:
//
//	jira:agile:board/42/sprint:startAt=0:state=closed,active,future
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if k.API != "" {
		parts = append(parts, k.API)
	}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, key+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
