// Package sprint lists board sprints and assembles hydrated sprint reports.
package sprint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/pagination"
	"github.com/rs/zerolog"
)

// maxSprintPages bounds the startAt pagination of the sprint list.
const maxSprintPages = 50

// DetailFetcher hydrates issue keys. *pagination.BatchFetcher implements it.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, keys []string, opts pagination.FetchOptions) ([]*issue.Issue, error)
}

// Assembler reads sprints and sprint reports.
type Assembler struct {
	doer    pagination.Doer
	fetcher DetailFetcher
	logger  zerolog.Logger
}

// NewAssembler creates a new assembler.
func NewAssembler(doer pagination.Doer, fetcher DetailFetcher, logger zerolog.Logger) *Assembler {
	return &Assembler{
		doer:    doer,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "sprint-assembler").Logger(),
	}
}

type sprintPage struct {
	MaxResults int            `json:"maxResults"`
	StartAt    int            `json:"startAt"`
	IsLast     bool           `json:"isLast"`
	Values     []issue.Sprint `json:"values"`
}

// ListSprints returns the closed, active and future sprints of a board,
// ordered by Less.
func (a *Assembler) ListSprints(ctx context.Context, boardID int) ([]issue.Sprint, error) {
	path := fmt.Sprintf("/board/%d/sprint", boardID)
	var sprints []issue.Sprint

	startAt := 0
	for page := 0; page < maxSprintPages; page++ {
		query := url.Values{}
		query.Set("state", "closed,active,future")
		if startAt > 0 {
			query.Set("startAt", strconv.Itoa(startAt))
		}

		var resp sprintPage
		if err := a.doer.Do(ctx, client.Request{
			Method: http.MethodGet,
			API:    client.APIAgile,
			Path:   path,
			Query:  query,
		}, &resp); err != nil {
			return nil, fmt.Errorf("list sprints of board %d: %w", boardID, err)
		}

		sprints = append(sprints, resp.Values...)
		if resp.IsLast || len(resp.Values) == 0 {
			break
		}
		startAt = resp.StartAt + len(resp.Values)
	}

	Sort(sprints)
	a.logger.Debug().Int("board_id", boardID).Int("sprints", len(sprints)).Msg("Listed sprints")
	return sprints, nil
}

// statePriority orders sprint states: future, active, closed, then others.
func statePriority(state string) int {
	switch state {
	case issue.SprintFuture:
		return 0
	case issue.SprintActive:
		return 1
	case issue.SprintClosed:
		return 2
	default:
		return 3
	}
}

// Less orders sprints by state priority, then by start date with the most
// recent first. Sprints without a start date follow dated ones of the same
// state.
func Less(a, b issue.Sprint) bool {
	pa, pb := statePriority(a.State), statePriority(b.State)
	if pa != pb {
		return pa < pb
	}
	switch {
	case a.StartDate == nil:
		return false
	case b.StartDate == nil:
		return true
	default:
		return a.StartDate.After(*b.StartDate)
	}
}

// Sort orders sprints in place with Less. Equal sprints keep their order.
func Sort(sprints []issue.Sprint) {
	sort.SliceStable(sprints, func(i, j int) bool { return Less(sprints[i], sprints[j]) })
}

type reportEntry struct {
	Key string `json:"key"`
}

type sprintReportResponse struct {
	Contents struct {
		CompletedIssues            []reportEntry `json:"completedIssues"`
		IssuesNotCompleted         []reportEntry `json:"issuesNotCompletedInCurrentSprint"`
		PuntedIssues               []reportEntry `json:"puntedIssues"`
		IssueKeysAddedDuringSprint issue.KeySet  `json:"issueKeysAddedDuringSprint"`
	} `json:"contents"`
	Sprint json.RawMessage `json:"sprint"`
}

// GetSprintReport returns the sprint's issues split into completed, not
// completed and removed, hydrated with their change history. Issues whose
// details cannot be fetched are left out of their category.
func (a *Assembler) GetSprintReport(ctx context.Context, boardID, sprintID int) (*issue.SprintReport, error) {
	start := time.Now()

	query := url.Values{}
	query.Set("rapidViewId", strconv.Itoa(boardID))
	query.Set("sprintId", strconv.Itoa(sprintID))

	var resp sprintReportResponse
	if err := a.doer.Do(ctx, client.Request{
		Method: http.MethodGet,
		API:    client.APIGreenhopper,
		Path:   "/rapid/charts/sprintreport",
		Query:  query,
	}, &resp); err != nil {
		return nil, fmt.Errorf("sprint report %d: %w", sprintID, err)
	}

	categories := [][]reportEntry{
		resp.Contents.CompletedIssues,
		resp.Contents.IssuesNotCompleted,
		resp.Contents.PuntedIssues,
	}

	seen := make(map[string]bool)
	var union []string
	for _, entries := range categories {
		for _, e := range entries {
			if e.Key == "" || seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			union = append(union, e.Key)
		}
	}

	details, err := a.fetcher.FetchDetails(ctx, union, pagination.FetchOptions{
		Expand: []string{issue.ExpandChangelog},
	})
	if err != nil {
		return nil, err
	}
	byKey := issue.Index(details)

	added := resp.Contents.IssueKeysAddedDuringSprint
	if added == nil {
		added = issue.NewKeySet()
	}

	report := &issue.SprintReport{
		Sprint:                     resp.Sprint,
		CompletedIssues:            pick(byKey, resp.Contents.CompletedIssues),
		IssuesNotCompleted:         pick(byKey, resp.Contents.IssuesNotCompleted),
		PuntedIssues:               pick(byKey, resp.Contents.PuntedIssues),
		IssueKeysAddedDuringSprint: added,
	}

	a.logger.Info().
		Int("board_id", boardID).
		Int("sprint_id", sprintID).
		Int("requested", len(union)).
		Int("retrieved", len(details)).
		Dur("duration", time.Since(start)).
		Msg("Sprint report assembled")
	return report, nil
}

func pick(byKey map[string]*issue.Issue, entries []reportEntry) []*issue.Issue {
	out := make([]*issue.Issue, 0, len(entries))
	for _, e := range entries {
		if is, ok := byKey[e.Key]; ok {
			out = append(out, is)
		}
	}
	return out
}
