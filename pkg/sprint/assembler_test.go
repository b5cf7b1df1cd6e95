package sprint

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/jira-dashboard/internal/testutil"
	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) *time.Time {
	t := time.Date(2025, time.March, n, 9, 0, 0, 0, time.UTC)
	return &t
}

func newAssembler(t *testing.T, mock *testutil.MockJira, batchSize int) *Assembler {
	t.Helper()
	c, err := client.New(client.DefaultConfig(mock.URL()), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	cfg := pagination.DefaultConfig("parent")
	cfg.BatchSize = batchSize
	return NewAssembler(c, pagination.NewBatchFetcher(c, cfg, zerolog.Nop()), zerolog.Nop())
}

func TestSort_StatePriorityThenDate(t *testing.T) {
	sprints := []issue.Sprint{
		{ID: 1, State: issue.SprintActive, StartDate: day(1)},
		{ID: 2, State: issue.SprintFuture, StartDate: day(5)},
		{ID: 3, State: issue.SprintClosed, StartDate: day(3)},
	}
	Sort(sprints)

	ids := []int{sprints[0].ID, sprints[1].ID, sprints[2].ID}
	assert.Equal(t, []int{2, 1, 3}, ids)
}

func TestSort_DatesDescendingWithinState(t *testing.T) {
	sprints := []issue.Sprint{
		{ID: 1, State: issue.SprintClosed, StartDate: day(2)},
		{ID: 2, State: issue.SprintClosed},
		{ID: 3, State: issue.SprintClosed, StartDate: day(9)},
		{ID: 4, State: issue.SprintFuture},
		{ID: 5, State: issue.SprintFuture, StartDate: day(20)},
		{ID: 6, State: issue.SprintClosed},
		{ID: 7, State: "unknown", StartDate: day(30)},
	}
	Sort(sprints)

	var ids []int
	for _, s := range sprints {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int{5, 4, 3, 1, 2, 6, 7}, ids)
}

func TestListSprints(t *testing.T) {
	mock := testutil.NewMockJira("parent")
	defer mock.Close()
	mock.SetSprints(42,
		testutil.MockSprint{ID: 10, State: "active", Name: "S10", StartDate: "2025-03-01T09:00:00.000Z"},
		testutil.MockSprint{ID: 11, State: "future", Name: "S11", StartDate: "2025-03-05T09:00:00.000Z"},
		testutil.MockSprint{ID: 9, State: "closed", Name: "S9", StartDate: "2025-03-03T09:00:00.000Z"},
	)

	sprints, err := newAssembler(t, mock, 100).ListSprints(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, sprints, 3)
	assert.Equal(t, []string{"S11", "S10", "S9"}, []string{sprints[0].Name, sprints[1].Name, sprints[2].Name})
	require.NotNil(t, sprints[0].StartDate)
	assert.Equal(t, 5, sprints[0].StartDate.Day())
}

func TestListSprints_UnknownBoard(t *testing.T) {
	mock := testutil.NewMockJira("parent")
	defer mock.Close()

	_, err := newAssembler(t, mock, 100).ListSprints(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
}

func TestGetSprintReport_ResplitsAndDropsFailed(t *testing.T) {
	mock := testutil.NewMockJira("parent")
	defer mock.Close()
	for _, k := range []string{"A", "B", "C"} {
		mock.AddIssue(testutil.MockIssue{Key: k})
	}
	mock.FailBulkFetchFor("B")
	mock.SetSprintReport(77, testutil.MockSprintReport{
		Completed:    []string{"A"},
		NotCompleted: []string{"B"},
		Punted:       []string{"C"},
		Added:        []string{"C"},
	})

	report, err := newAssembler(t, mock, 1).GetSprintReport(context.Background(), 42, 77)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, issue.Keys(report.CompletedIssues))
	assert.NotNil(t, report.IssuesNotCompleted)
	assert.Empty(t, report.IssuesNotCompleted)
	assert.Equal(t, []string{"C"}, issue.Keys(report.PuntedIssues))
	assert.True(t, report.IssueKeysAddedDuringSprint.Has("C"))
	assert.NotNil(t, report.CompletedIssues[0].Changelog)
	assert.Contains(t, string(report.Sprint), `"id":77`)

	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, mock.BulkRequests())
}

func TestGetSprintReport_UnionFetchedOnce(t *testing.T) {
	mock := testutil.NewMockJira("parent")
	defer mock.Close()
	for _, k := range []string{"A", "B", "C"} {
		mock.AddIssue(testutil.MockIssue{Key: k})
	}
	mock.SetSprintReport(5, testutil.MockSprintReport{
		Completed:    []string{"A", "B"},
		NotCompleted: []string{"B"},
		Punted:       []string{"C"},
	})

	report, err := newAssembler(t, mock, 100).GetSprintReport(context.Background(), 1, 5)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A", "B", "C"}}, mock.BulkRequests())
	assert.Equal(t, []string{"A", "B"}, issue.Keys(report.CompletedIssues))
	assert.Equal(t, []string{"B"}, issue.Keys(report.IssuesNotCompleted))
	assert.Equal(t, []string{"C"}, issue.Keys(report.PuntedIssues))
	assert.Empty(t, report.IssueKeysAddedDuringSprint)
}
