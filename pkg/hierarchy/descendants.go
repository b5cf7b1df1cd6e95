package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/jql"
	"github.com/Sternrassler/jira-dashboard/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var descendantLevels = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "jira_descendant_levels",
	Help:    "Number of frontier levels expanded per descendant collection",
	Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
})

// CollectorConfig holds descendant collector configuration.
type CollectorConfig struct {
	HierarchyField string
	// SizeField is requested when a caller asks for it.
	SizeField string
	// FrontierChunk bounds the keys in one IN (...) predicate.
	FrontierChunk int
}

// DescendantCollector gathers every issue below a root as a flat set,
// expanding one whole frontier level per query.
type DescendantCollector struct {
	fetcher  DetailFetcher
	searcher KeySearcher
	config   CollectorConfig
	logger   zerolog.Logger
}

// NewDescendantCollector creates a new collector.
func NewDescendantCollector(fetcher DetailFetcher, searcher KeySearcher, cfg CollectorConfig, logger zerolog.Logger) *DescendantCollector {
	if cfg.FrontierChunk <= 0 {
		cfg.FrontierChunk = 100
	}
	return &DescendantCollector{
		fetcher:  fetcher,
		searcher: searcher,
		config:   cfg,
		logger:   logger.With().Str("component", "descendant-collector").Logger(),
	}
}

// CollectDescendants returns the details of all descendants of rootKey,
// each at most once. The root itself is not included.
func (c *DescendantCollector) CollectDescendants(ctx context.Context, rootKey string, includeSizeField bool) ([]*issue.Issue, error) {
	start := time.Now()

	processed := map[string]bool{rootKey: true}
	frontier := []string{rootKey}
	var collected []string
	levels := 0

	for len(frontier) > 0 {
		levels++
		var next []string
		for _, chunk := range jql.Chunk(frontier, c.config.FrontierChunk) {
			keys, err := c.searcher.Search(ctx, jql.ChildrenOf(c.config.HierarchyField, chunk...))
			if err != nil {
				return nil, fmt.Errorf("descendants of %s (level %d): %w", rootKey, levels, err)
			}
			for _, k := range keys {
				if processed[k] {
					continue
				}
				processed[k] = true
				next = append(next, k)
			}
		}

		c.logger.Debug().
			Str("key", rootKey).
			Int("level", levels).
			Int("frontier", len(frontier)).
			Int("new", len(next)).
			Msg("Expanded frontier")

		collected = append(collected, next...)
		frontier = next
	}
	descendantLevels.Observe(float64(levels))

	if len(collected) == 0 {
		c.logger.Info().Str("key", rootKey).Msg("No descendants found")
		return []*issue.Issue{}, nil
	}

	var opts pagination.FetchOptions
	if includeSizeField && c.config.SizeField != "" {
		opts.Fields = []string{c.config.SizeField}
	}
	issues, err := c.fetcher.FetchDetails(ctx, collected, opts)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("key", rootKey).
		Int("descendants", len(issues)).
		Int("levels", levels).
		Dur("duration", time.Since(start)).
		Msg("Descendants collected")
	return issues, nil
}
