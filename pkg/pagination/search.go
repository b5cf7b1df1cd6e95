package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrPaginationLoop is returned when Jira repeats a continuation token or a
// search exceeds the configured page limit.
var ErrPaginationLoop = errors.New("search pagination did not terminate")

var searchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "jira_search_pages_total",
	Help: "Total number of search result pages fetched",
})

// Doer executes one Jira request. *client.Client implements it.
type Doer interface {
	Do(ctx context.Context, req client.Request, out any) error
}

// SearchConfig holds Searcher configuration.
type SearchConfig struct {
	// PageSize is sent as maxResults.
	PageSize int
	// MaxPages bounds the number of pages followed for one query.
	MaxPages int
}

// DefaultSearchConfig returns the default search configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		PageSize: 1000,
		MaxPages: 100,
	}
}

// Searcher resolves JQL queries to issue keys.
type Searcher struct {
	doer   Doer
	config SearchConfig
	logger zerolog.Logger
}

// NewSearcher creates a new searcher.
func NewSearcher(doer Doer, config SearchConfig, logger zerolog.Logger) *Searcher {
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 100
	}
	return &Searcher{
		doer:   doer,
		config: config,
		logger: logger.With().Str("component", "searcher").Logger(),
	}
}

type searchRequest struct {
	JQL           string   `json:"jql"`
	Fields        []string `json:"fields"`
	MaxResults    int      `json:"maxResults"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

type searchResponse struct {
	Issues []struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"issues"`
	NextPageToken string `json:"nextPageToken"`
	IsLast        bool   `json:"isLast"`
}

// Search returns the keys of all issues matching jql in server order.
func (s *Searcher) Search(ctx context.Context, jql string) ([]string, error) {
	start := time.Now()
	s.logger.Debug().Str("jql", jql).Msg("Searching issue keys")

	var keys []string
	seen := make(map[string]bool)
	token := ""

	for page := 1; ; page++ {
		if page > s.config.MaxPages {
			return nil, fmt.Errorf("%w: more than %d pages for %q", ErrPaginationLoop, s.config.MaxPages, jql)
		}

		var resp searchResponse
		err := s.doer.Do(ctx, client.Request{
			Method: http.MethodPost,
			API:    client.APIPlatform,
			Path:   "/search/jql",
			Body: searchRequest{
				JQL:           jql,
				Fields:        []string{"key"},
				MaxResults:    s.config.PageSize,
				NextPageToken: token,
			},
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", jql, err)
		}
		searchPagesTotal.Inc()

		for _, is := range resp.Issues {
			keys = append(keys, is.Key)
		}

		if resp.IsLast || resp.NextPageToken == "" {
			break
		}
		if seen[resp.NextPageToken] {
			return nil, fmt.Errorf("%w: token %q repeated for %q", ErrPaginationLoop, resp.NextPageToken, jql)
		}
		seen[resp.NextPageToken] = true
		token = resp.NextPageToken
	}

	s.logger.Debug().
		Str("jql", jql).
		Int("keys", len(keys)).
		Dur("duration", time.Since(start)).
		Msg("Search complete")
	return keys, nil
}
