package pagination

import (
	"context"
	"net/http"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for bulk fetch batches.
var (
	batchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_batch_requests_total",
		Help: "Total bulk fetch batches by result",
	}, []string{"result"})

	batchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_batch_failures_total",
		Help: "Total bulk fetch batches skipped after failing",
	})

	batchIssuesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_batch_issues_dropped_total",
		Help: "Total issue keys dropped because their batch failed",
	})

	batchRecordsDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_batch_records_discarded_total",
		Help: "Total returned records discarded as duplicates or unrequested",
	})
)

// Config holds batch fetcher configuration.
type Config struct {
	// BatchSize is the number of keys per bulk fetch (Jira allows 100).
	BatchSize int
	// HierarchyField is always requested so children can be linked.
	HierarchyField string
	// SizeField is the optional size-estimate field, requested when set.
	SizeField string
	// Attempts per batch. 1 disables retries.
	Attempts int
	// Backoff between attempts.
	Backoff Backoff
}

// DefaultConfig returns the default configuration for hierarchyField.
func DefaultConfig(hierarchyField string) Config {
	return Config{
		BatchSize:      100,
		HierarchyField: hierarchyField,
		Attempts:       1,
		Backoff:        DefaultBackoff(),
	}
}

// FetchOptions selects extra fields and expansions for one call.
type FetchOptions struct {
	Fields []string
	Expand []string
}

// BatchFetcher hydrates issue keys through the bulk fetch endpoint.
type BatchFetcher struct {
	doer   Doer
	config Config
	logger zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(doer Doer, config Config, logger zerolog.Logger) *BatchFetcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Attempts <= 0 {
		config.Attempts = 1
	}
	if config.Backoff.Multiplier <= 0 {
		config.Backoff = DefaultBackoff()
	}
	return &BatchFetcher{
		doer:   doer,
		config: config,
		logger: logger.With().Str("component", "batch-fetcher").Logger(),
	}
}

type bulkFetchRequest struct {
	IssueIdsOrKeys []string `json:"issueIdsOrKeys"`
	Fields         []string `json:"fields"`
	Expand         []string `json:"expand"`
}

type bulkFetchResponse struct {
	Issues []*issue.Issue `json:"issues"`
}

// Fields returns the field list sent for opts: the baseline fields followed
// by opts.Fields, without duplicates.
func (bf *BatchFetcher) Fields(opts FetchOptions) []string {
	candidates := []string{issue.FieldSummary, issue.FieldStatus, issue.FieldIssueType, bf.config.HierarchyField}
	if bf.config.SizeField != "" {
		candidates = append(candidates, bf.config.SizeField)
	}
	candidates = append(candidates, opts.Fields...)

	seen := make(map[string]bool, len(candidates))
	fields := make([]string, 0, len(candidates))
	for _, f := range candidates {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields
}

// FetchDetails returns the records of keys in batch order. Keys Jira cannot
// return are absent from the result. Failed batches are skipped; the only
// error returned is the context's.
func (bf *BatchFetcher) FetchDetails(ctx context.Context, keys []string, opts FetchOptions) ([]*issue.Issue, error) {
	if len(keys) == 0 {
		return []*issue.Issue{}, nil
	}

	start := time.Now()
	fields := bf.Fields(opts)
	expand := opts.Expand
	if expand == nil {
		expand = []string{}
	}

	bf.logger.Info().
		Int("keys", len(keys)).
		Int("batch_size", bf.config.BatchSize).
		Msg("Starting bulk fetch")

	requested := make(map[string]bool, len(keys))
	for _, k := range keys {
		requested[k] = true
	}
	emitted := make(map[string]bool, len(keys))

	results := make([]*issue.Issue, 0, len(keys))
	failed := 0

	for offset := 0; offset < len(keys); offset += bf.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := offset + bf.config.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[offset:end]

		var resp bulkFetchResponse
		err := retryWithBackoff(ctx, bf.config.Attempts, bf.config.Backoff, bf.logger, func() error {
			resp = bulkFetchResponse{}
			return bf.doer.Do(ctx, client.Request{
				Method: http.MethodPost,
				API:    client.APIPlatform,
				Path:   "/issue/bulkfetch",
				Body: bulkFetchRequest{
					IssueIdsOrKeys: batch,
					Fields:         fields,
					Expand:         expand,
				},
			}, &resp)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			batchRequestsTotal.WithLabelValues("failed").Inc()
			batchFailuresTotal.Inc()
			batchIssuesDroppedTotal.Add(float64(len(batch)))
			bf.logger.Error().
				Err(err).
				Str("key", batch[0]).
				Int("batch_size", len(batch)).
				Msg("Failed to fetch batch, skipping")
			continue
		}
		batchRequestsTotal.WithLabelValues("ok").Inc()

		results = append(results, matchBatch(batch, resp.Issues, requested, emitted)...)
	}

	bf.logger.Info().
		Int("requested", len(keys)).
		Int("retrieved", len(results)).
		Int("failed_batches", failed).
		Dur("duration", time.Since(start)).
		Msg("Bulk fetch complete")

	return results, nil
}

// matchBatch keeps at most one record per requested identifier, in response
// order. Records are matched by key, then by id. Jira answers a moved or
// renamed issue under its current key; such leftovers fill the batch's
// still unanswered identifiers in request order. Anything beyond that is
// dropped.
func matchBatch(batch []string, records []*issue.Issue, requested, emitted map[string]bool) []*issue.Issue {
	keep := make([]bool, len(records))
	var leftovers []int
	for n, rec := range records {
		if rec == nil {
			continue
		}
		id := rec.Key
		if !requested[id] {
			id = rec.ID
		}
		if !requested[id] {
			leftovers = append(leftovers, n)
			continue
		}
		if emitted[id] {
			continue
		}
		emitted[id] = true
		keep[n] = true
	}

	if len(leftovers) > 0 {
		var open []string
		for _, k := range batch {
			if !emitted[k] {
				open = append(open, k)
			}
		}
		for _, n := range leftovers {
			if len(open) == 0 {
				break
			}
			rec := records[n]
			if emitted[rec.Key] || (rec.ID != "" && emitted[rec.ID]) {
				continue
			}
			emitted[open[0]] = true
			emitted[rec.Key] = true
			if rec.ID != "" {
				emitted[rec.ID] = true
			}
			open = open[1:]
			keep[n] = true
		}
	}

	out := make([]*issue.Issue, 0, len(records))
	for n, rec := range records {
		if keep[n] {
			out = append(out, rec)
		}
	}
	if dropped := len(records) - len(out); dropped > 0 {
		batchRecordsDiscardedTotal.Add(float64(dropped))
	}
	return out
}
