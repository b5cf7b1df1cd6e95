// Package hierarchy materializes Jira parent/child relations, either as
// trees (TreeBuilder) or as flat descendant sets (DescendantCollector).
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/jql"
	"github.com/Sternrassler/jira-dashboard/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for tree building.
var (
	treeNodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_tree_nodes_total",
		Help: "Total tree nodes materialized",
	})

	treeInflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jira_tree_inflight_fetches",
		Help: "Node fetches currently holding a concurrency slot",
	})

	treeBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jira_tree_build_duration_seconds",
		Help:    "Duration of building one issue tree",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// ErrCycleDetected matches every *CycleError.
var ErrCycleDetected = errors.New("cycle detected in issue hierarchy")

// CycleError reports an issue that appears on its own ancestor path.
type CycleError struct {
	// Path runs from the root to the repeated key, inclusive.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

// Unwrap implements error unwrapping for errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// DetailFetcher hydrates issue keys. *pagination.BatchFetcher implements it.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, keys []string, opts pagination.FetchOptions) ([]*issue.Issue, error)
}

// KeySearcher resolves JQL to issue keys. *pagination.Searcher implements it.
type KeySearcher interface {
	Search(ctx context.Context, jql string) ([]string, error)
}

// Config holds tree builder configuration.
type Config struct {
	// HierarchyField links a child to its parent.
	HierarchyField string
	// Concurrency bounds node fetches in flight across all builds.
	Concurrency int
}

// TreeBuilder builds issue trees. One weighted semaphore is shared by every
// build of a builder, so the total number of outstanding node fetches never
// exceeds Concurrency regardless of tree shape.
type TreeBuilder struct {
	fetcher  DetailFetcher
	searcher KeySearcher
	field    string
	sem      *semaphore.Weighted
	logger   zerolog.Logger
}

// NewTreeBuilder creates a new tree builder.
func NewTreeBuilder(fetcher DetailFetcher, searcher KeySearcher, cfg Config, logger zerolog.Logger) *TreeBuilder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &TreeBuilder{
		fetcher:  fetcher,
		searcher: searcher,
		field:    cfg.HierarchyField,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:   logger.With().Str("component", "tree-builder").Logger(),
	}
}

// BuildTree returns the tree rooted at rootKey, or nil when the root has no
// details. Child subtrees that cannot be fetched are left out.
func (b *TreeBuilder) BuildTree(ctx context.Context, rootKey string) (*issue.Issue, error) {
	start := time.Now()
	defer func() { treeBuildDuration.Observe(time.Since(start).Seconds()) }()

	root, err := b.build(ctx, rootKey, nil)
	if err != nil {
		return nil, err
	}
	if root == nil {
		b.logger.Warn().Str("key", rootKey).Msg("Root issue has no details")
		return nil, nil
	}

	b.logger.Info().
		Str("key", rootKey).
		Int("nodes", root.Count()).
		Dur("duration", time.Since(start)).
		Msg("Tree built")
	return root, nil
}

// BuildTrees builds one tree per key under the shared bound. The result
// keeps input order and omits roots without details.
func (b *TreeBuilder) BuildTrees(ctx context.Context, keys []string) ([]*issue.Issue, error) {
	trees := make([]*issue.Issue, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for n, key := range keys {
		g.Go(func() error {
			tree, err := b.BuildTree(gctx, key)
			if err != nil {
				return err
			}
			trees[n] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(trees), nil
}

func (b *TreeBuilder) build(ctx context.Context, key string, ancestors []string) (*issue.Issue, error) {
	for _, a := range ancestors {
		if a == key {
			path := append(append([]string{}, ancestors...), key)
			b.logger.Error().Strs("path", path).Msg("Cycle in issue hierarchy")
			return nil, &CycleError{Path: path}
		}
	}

	node, childKeys, err := b.fetchNode(ctx, key)
	if err != nil || node == nil {
		return nil, err
	}
	treeNodesTotal.Inc()

	if len(childKeys) == 0 {
		node.MarkLeaf()
		return node, nil
	}

	path := append(ancestors[:len(ancestors):len(ancestors)], key)
	children := make([]*issue.Issue, len(childKeys))

	g, gctx := errgroup.WithContext(ctx)
	for n, childKey := range childKeys {
		g.Go(func() error {
			child, err := b.build(gctx, childKey, path)
			if err != nil {
				return err
			}
			children[n] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	node.SetChildren(compact(children))
	return node, nil
}

// fetchNode loads one node and its child keys while holding a slot. The slot
// is released before any recursion so parents never wait while holding one.
func (b *TreeBuilder) fetchNode(ctx context.Context, key string) (*issue.Issue, []string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	treeInflightFetches.Inc()
	defer func() {
		treeInflightFetches.Dec()
		b.sem.Release(1)
	}()

	details, err := b.fetcher.FetchDetails(ctx, []string{key}, pagination.FetchOptions{})
	if err != nil {
		return nil, nil, err
	}
	if len(details) == 0 {
		return nil, nil, nil
	}

	childKeys, err := b.searcher.Search(ctx, jql.ChildrenOf(b.field, key))
	if err != nil {
		return nil, nil, fmt.Errorf("children of %s: %w", key, err)
	}

	b.logger.Debug().Str("key", key).Int("children", len(childKeys)).Msg("Fetched node")
	return details[0], childKeys, nil
}

func compact(issues []*issue.Issue) []*issue.Issue {
	out := make([]*issue.Issue, 0, len(issues))
	for _, is := range issues {
		if is != nil {
			out = append(out, is)
		}
	}
	return out
}
