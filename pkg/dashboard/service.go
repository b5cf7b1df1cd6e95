// Package dashboard is the boundary the serving layer calls: it wires the
// searcher, batch fetcher, tree builder, descendant collector and sprint
// assembler from one configuration.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/config"
	"github.com/Sternrassler/jira-dashboard/pkg/hierarchy"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/jql"
	"github.com/Sternrassler/jira-dashboard/pkg/pagination"
	"github.com/Sternrassler/jira-dashboard/pkg/sprint"
	"github.com/rs/zerolog"
)

// Service exposes the dashboard fetch operations.
type Service struct {
	cfg         config.Config
	searcher    *pagination.Searcher
	fetcher     *pagination.BatchFetcher
	trees       *hierarchy.TreeBuilder
	descendants *hierarchy.DescendantCollector
	sprints     *sprint.Assembler
	logger      zerolog.Logger
}

// New builds a Service on top of doer, normally a *client.Client.
func New(doer pagination.Doer, cfg config.Config, logger zerolog.Logger) *Service {
	searcher := pagination.NewSearcher(doer, pagination.SearchConfig{
		PageSize: cfg.SearchPageSize,
		MaxPages: pagination.DefaultSearchConfig().MaxPages,
	}, logger)

	fetchCfg := pagination.DefaultConfig(cfg.HierarchyField)
	fetchCfg.BatchSize = cfg.BatchSize
	fetchCfg.SizeField = cfg.SizeField
	fetchCfg.Attempts = cfg.BatchAttempts
	fetcher := pagination.NewBatchFetcher(doer, fetchCfg, logger)

	return &Service{
		cfg:      cfg,
		searcher: searcher,
		fetcher:  fetcher,
		trees: hierarchy.NewTreeBuilder(fetcher, searcher, hierarchy.Config{
			HierarchyField: cfg.HierarchyField,
			Concurrency:    cfg.Concurrency,
		}, logger),
		descendants: hierarchy.NewDescendantCollector(fetcher, searcher, hierarchy.CollectorConfig{
			HierarchyField: cfg.HierarchyField,
			SizeField:      cfg.SizeField,
			FrontierChunk:  cfg.FrontierChunk,
		}, logger),
		sprints: sprint.NewAssembler(doer, fetcher, logger),
		logger:  logger.With().Str("component", "dashboard").Logger(),
	}
}

func (s *Service) labelQuery(label string) jql.LabelQuery {
	return jql.LabelQuery{
		Project:       s.cfg.Project,
		IssueType:     s.cfg.InitiativeType,
		Label:         label,
		ExcludedLabel: s.cfg.ExcludedLabel,
	}
}

// BuildInitiativeTrees builds one tree per initiative carrying label, in
// rank order.
func (s *Service) BuildInitiativeTrees(ctx context.Context, label string) ([]*issue.Issue, error) {
	q := s.labelQuery(label)
	q.OrderBy = "Rank"

	keys, err := s.searcher.Search(ctx, q.String())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*issue.Issue{}, nil
	}

	s.logger.Info().Str("label", label).Int("initiatives", len(keys)).Msg("Building initiative trees")
	return s.trees.BuildTrees(ctx, keys)
}

// BuildTree builds the tree below a single issue. It returns nil when the
// issue has no details.
func (s *Service) BuildTree(ctx context.Context, rootKey string) (*issue.Issue, error) {
	return s.trees.BuildTree(ctx, rootKey)
}

// CollectDescendants returns every issue below rootKey as a flat list.
func (s *Service) CollectDescendants(ctx context.Context, rootKey string, includeSizeField bool) ([]*issue.Issue, error) {
	return s.descendants.CollectDescendants(ctx, rootKey, includeSizeField)
}

// FetchIssuesByLabel returns initiatives carrying label, with creation date
// and change history.
func (s *Service) FetchIssuesByLabel(ctx context.Context, label string) ([]*issue.Issue, error) {
	keys, err := s.searcher.Search(ctx, s.labelQuery(label).String())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*issue.Issue{}, nil
	}

	return s.fetcher.FetchDetails(ctx, keys, pagination.FetchOptions{
		Fields: []string{issue.FieldSummary, issue.FieldStatus, issue.FieldCreated},
		Expand: []string{issue.ExpandChangelog},
	})
}

// ListSprints returns the sprints of boardID, future first.
func (s *Service) ListSprints(ctx context.Context, boardID int) ([]issue.Sprint, error) {
	return s.sprints.ListSprints(ctx, boardID)
}

// GetSprintReport returns the hydrated report of one sprint.
func (s *Service) GetSprintReport(ctx context.Context, boardID, sprintID int) (*issue.SprintReport, error) {
	return s.sprints.GetSprintReport(ctx, boardID, sprintID)
}

// CategoryIssues holds the labelled issues of one time-tracking category.
type CategoryIssues struct {
	Title       string         `json:"title"`
	Label       string         `json:"label"`
	TicketCount int            `json:"ticketCount"`
	Issues      []*issue.Issue `json:"issues"`
}

// Snapshot is the raw data behind the dashboard page.
type Snapshot struct {
	Initiatives    []*issue.Issue            `json:"data"`
	SupportIssues  []*issue.Issue            `json:"supportIssues"`
	TimeTracking   map[string]CategoryIssues `json:"timeTrackingData"`
	TimeFrameStart string                    `json:"timeFrameStart,omitempty"`
	TimeFrameEnd   string                    `json:"timeFrameEnd,omitempty"`
	SizeFieldID    string                    `json:"tshirtFieldId,omitempty"`
}

// Snapshot gathers the initiative trees for the configured label, the
// descendants of the support initiative and the issues of every
// time-tracking category. Categories are fetched one after another.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	initiatives, err := s.BuildInitiativeTrees(ctx, s.cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("initiative trees: %w", err)
	}

	support := []*issue.Issue{}
	if s.cfg.SupportInitiativeKey != "" {
		support, err = s.CollectDescendants(ctx, s.cfg.SupportInitiativeKey, false)
		if err != nil {
			return nil, fmt.Errorf("support descendants: %w", err)
		}
	}

	timeTracking := make(map[string]CategoryIssues, len(s.cfg.TimeTracking))
	for _, cat := range s.cfg.TimeTracking {
		issues, err := s.FetchIssuesByLabel(ctx, cat.Label)
		if err != nil {
			return nil, fmt.Errorf("time tracking %s: %w", cat.Key, err)
		}
		timeTracking[cat.Key] = CategoryIssues{
			Title:       cat.Title,
			Label:       cat.Label,
			TicketCount: len(issues),
			Issues:      issues,
		}
	}

	s.logger.Info().
		Int("initiatives", len(initiatives)).
		Int("support_issues", len(support)).
		Int("categories", len(timeTracking)).
		Dur("duration", time.Since(start)).
		Msg("Dashboard snapshot assembled")

	return &Snapshot{
		Initiatives:    initiatives,
		SupportIssues:  support,
		TimeTracking:   timeTracking,
		TimeFrameStart: s.cfg.TimeFrameStart,
		TimeFrameEnd:   s.cfg.TimeFrameEnd,
		SizeFieldID:    s.cfg.SizeField,
	}, nil
}
