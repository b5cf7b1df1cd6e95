package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDoer answers requests with respond and records every request body.
type fakeDoer struct {
	mu      sync.Mutex
	respond func(call int, req client.Request) (any, error)
	calls   []client.Request
}

func (f *fakeDoer) Do(_ context.Context, req client.Request, out any) error {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	resp, err := f.respond(call, req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeDoer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// echoBulk answers a bulk fetch with one record per requested key.
func echoBulk(req client.Request) any {
	body := req.Body.(bulkFetchRequest)
	issues := make([]map[string]any, len(body.IssueIdsOrKeys))
	for n, k := range body.IssueIdsOrKeys {
		issues[n] = map[string]any{"id": k, "key": k, "fields": map[string]any{"summary": k}}
	}
	return map[string]any{"issues": issues}
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("APPS-%d", i+1)
	}
	return keys
}

func serverError() error {
	return &client.APIError{Method: http.MethodPost, Endpoint: "/rest/api/3/issue/bulkfetch", StatusCode: 500, Class: client.ErrorClassServer}
}

func TestFetchDetails_EmptyInput(t *testing.T) {
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) { return nil, errors.New("unexpected call") }}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	issues, err := bf.FetchDetails(context.Background(), nil, FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, 0, doer.callCount())
}

func TestFetchDetails_BatchCount(t *testing.T) {
	tests := []struct {
		name      string
		keys      int
		batchSize int
		wantCalls int
	}{
		{"single", 1, 100, 1},
		{"exact", 100, 100, 1},
		{"one over", 101, 100, 2},
		{"many", 250, 100, 3},
		{"small batches", 7, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &fakeDoer{respond: func(_ int, req client.Request) (any, error) { return echoBulk(req), nil }}
			cfg := DefaultConfig("parent")
			cfg.BatchSize = tt.batchSize
			bf := NewBatchFetcher(doer, cfg, zerolog.Nop())

			keys := makeKeys(tt.keys)
			issues, err := bf.FetchDetails(context.Background(), keys, FetchOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, doer.callCount())
			assert.Equal(t, keys, issue.Keys(issues))

			for _, c := range doer.calls {
				assert.Equal(t, http.MethodPost, c.Method)
				assert.Equal(t, "/issue/bulkfetch", c.Path)
				assert.LessOrEqual(t, len(c.Body.(bulkFetchRequest).IssueIdsOrKeys), tt.batchSize)
			}
		})
	}
}

func TestFetchDetails_SkipsFailedBatch(t *testing.T) {
	// 250 keys in batches of 100: the second batch (100 keys) fails.
	doer := &fakeDoer{respond: func(call int, req client.Request) (any, error) {
		if call == 1 {
			return nil, serverError()
		}
		return echoBulk(req), nil
	}}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	keys := makeKeys(250)
	issues, err := bf.FetchDetails(context.Background(), keys, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, doer.callCount())
	require.Len(t, issues, 150)
	assert.Equal(t, append(append([]string{}, keys[:100]...), keys[200:]...), issue.Keys(issues))
}

func TestFetchDetails_LastBatchFails(t *testing.T) {
	doer := &fakeDoer{respond: func(call int, req client.Request) (any, error) {
		if call == 2 {
			return nil, serverError()
		}
		return echoBulk(req), nil
	}}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	issues, err := bf.FetchDetails(context.Background(), makeKeys(250), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, issues, 200)
}

func TestFetchDetails_DropsUnrequestedAndDuplicates(t *testing.T) {
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) {
		return map[string]any{"issues": []map[string]any{
			{"id": "1", "key": "APPS-1"},
			{"id": "1", "key": "APPS-1"},
			{"id": "9", "key": "OTHER-9"},
		}}, nil
	}}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	issues, err := bf.FetchDetails(context.Background(), []string{"APPS-1"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"APPS-1"}, issue.Keys(issues))
	assert.False(t, issues[0].IsTreeNode())
}

func TestFetchDetails_KeepsMovedIssues(t *testing.T) {
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) {
		return map[string]any{"issues": []map[string]any{
			{"id": "10001", "key": "NEW-5"},
			{"id": "2", "key": "APPS-2"},
			{"id": "10002", "key": "NEW-6"},
		}}, nil
	}}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	issues, err := bf.FetchDetails(context.Background(), []string{"OLD-1", "APPS-2"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW-5", "APPS-2"}, issue.Keys(issues))
}

func TestFetchDetails_MovedIssueNotCountedTwice(t *testing.T) {
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) {
		return map[string]any{"issues": []map[string]any{
			{"id": "10001", "key": "NEW-5"},
			{"id": "10001", "key": "NEW-5"},
		}}, nil
	}}
	bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())

	issues, err := bf.FetchDetails(context.Background(), []string{"OLD-1", "OLD-2"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW-5"}, issue.Keys(issues))
}

func TestFetchDetails_RequestBody(t *testing.T) {
	doer := &fakeDoer{respond: func(_ int, req client.Request) (any, error) { return echoBulk(req), nil }}
	cfg := DefaultConfig("customfield_10100")
	cfg.SizeField = "customfield_10200"
	bf := NewBatchFetcher(doer, cfg, zerolog.Nop())

	_, err := bf.FetchDetails(context.Background(), []string{"APPS-1"}, FetchOptions{
		Fields: []string{"summary", "created", "customfield_10200", "status"},
		Expand: []string{issue.ExpandChangelog},
	})
	require.NoError(t, err)
	require.Equal(t, 1, doer.callCount())

	body := doer.calls[0].Body.(bulkFetchRequest)
	assert.Equal(t, []string{"APPS-1"}, body.IssueIdsOrKeys)
	assert.Equal(t,
		[]string{"summary", "status", "issuetype", "customfield_10100", "customfield_10200", "created"},
		body.Fields)
	assert.Equal(t, []string{"changelog"}, body.Expand)
}

func TestFetchDetails_RetryKnob(t *testing.T) {
	failOnce := func() *fakeDoer {
		return &fakeDoer{respond: func(call int, req client.Request) (any, error) {
			if call == 0 {
				return nil, serverError()
			}
			return echoBulk(req), nil
		}}
	}

	t.Run("default drops", func(t *testing.T) {
		doer := failOnce()
		bf := NewBatchFetcher(doer, DefaultConfig("parent"), zerolog.Nop())
		issues, err := bf.FetchDetails(context.Background(), makeKeys(3), FetchOptions{})
		require.NoError(t, err)
		assert.Empty(t, issues)
		assert.Equal(t, 1, doer.callCount())
	})

	t.Run("retries", func(t *testing.T) {
		doer := failOnce()
		cfg := DefaultConfig("parent")
		cfg.Attempts = 3
		cfg.Backoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
		bf := NewBatchFetcher(doer, cfg, zerolog.Nop())
		issues, err := bf.FetchDetails(context.Background(), makeKeys(3), FetchOptions{})
		require.NoError(t, err)
		assert.Len(t, issues, 3)
		assert.Equal(t, 2, doer.callCount())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		doer := &fakeDoer{respond: func(int, client.Request) (any, error) {
			return nil, &client.APIError{StatusCode: 400, Class: client.ErrorClassClient}
		}}
		cfg := DefaultConfig("parent")
		cfg.Attempts = 3
		cfg.Backoff = Backoff{Initial: time.Millisecond, Multiplier: 2}
		bf := NewBatchFetcher(doer, cfg, zerolog.Nop())
		issues, err := bf.FetchDetails(context.Background(), makeKeys(3), FetchOptions{})
		require.NoError(t, err)
		assert.Empty(t, issues)
		assert.Equal(t, 1, doer.callCount())
	})
}

func TestFetchDetails_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := &fakeDoer{respond: func(_ int, req client.Request) (any, error) {
		cancel()
		return nil, context.Canceled
	}}
	cfg := DefaultConfig("parent")
	cfg.BatchSize = 1
	bf := NewBatchFetcher(doer, cfg, zerolog.Nop())

	_, err := bf.FetchDetails(ctx, makeKeys(5), FetchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, doer.callCount())
}

func TestSearch_FollowsContinuationToken(t *testing.T) {
	pages := [][]string{{"APPS-1", "APPS-2"}, {"APPS-3"}, {"APPS-4"}}
	doer := &fakeDoer{respond: func(call int, req client.Request) (any, error) {
		body := req.Body.(searchRequest)
		if call == 0 {
			assert.Empty(t, body.NextPageToken)
		} else {
			assert.Equal(t, fmt.Sprintf("t%d", call), body.NextPageToken)
		}
		assert.Equal(t, []string{"key"}, body.Fields)

		issues := []map[string]string{}
		for _, k := range pages[call] {
			issues = append(issues, map[string]string{"key": k})
		}
		resp := map[string]any{"issues": issues, "isLast": call == len(pages)-1}
		if call < len(pages)-1 {
			resp["nextPageToken"] = fmt.Sprintf("t%d", call+1)
		}
		return resp, nil
	}}
	s := NewSearcher(doer, DefaultSearchConfig(), zerolog.Nop())

	keys, err := s.Search(context.Background(), `parent = "APPS-0"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"APPS-1", "APPS-2", "APPS-3", "APPS-4"}, keys)
	assert.Equal(t, 3, doer.callCount())
	assert.Equal(t, "/search/jql", doer.calls[0].Path)
	assert.Equal(t, 1000, doer.calls[0].Body.(searchRequest).MaxResults)
}

func TestSearch_RepeatedToken(t *testing.T) {
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) {
		return map[string]any{"issues": []any{}, "nextPageToken": "same", "isLast": false}, nil
	}}
	s := NewSearcher(doer, DefaultSearchConfig(), zerolog.Nop())

	_, err := s.Search(context.Background(), "labels = 'x'")
	assert.ErrorIs(t, err, ErrPaginationLoop)
	assert.Equal(t, 2, doer.callCount())
}

func TestSearch_MaxPages(t *testing.T) {
	doer := &fakeDoer{respond: func(call int, _ client.Request) (any, error) {
		return map[string]any{"issues": []any{}, "nextPageToken": fmt.Sprint(call), "isLast": false}, nil
	}}
	s := NewSearcher(doer, SearchConfig{PageSize: 10, MaxPages: 4}, zerolog.Nop())

	_, err := s.Search(context.Background(), "labels = 'x'")
	assert.ErrorIs(t, err, ErrPaginationLoop)
	assert.Equal(t, 4, doer.callCount())
}

func TestSearch_PropagatesErrors(t *testing.T) {
	apiErr := &client.APIError{StatusCode: 400, Class: client.ErrorClassClient}
	doer := &fakeDoer{respond: func(int, client.Request) (any, error) { return nil, apiErr }}
	s := NewSearcher(doer, DefaultSearchConfig(), zerolog.Nop())

	_, err := s.Search(context.Background(), "bad")
	var got *client.APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 400, got.StatusCode)
}
