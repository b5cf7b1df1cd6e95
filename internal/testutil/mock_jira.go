// Package testutil provides testing utilities for the Jira dashboard.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MockIssue is one issue served by MockJira.
type MockIssue struct {
	Key    string
	Parent string
	Labels []string
	Fields map[string]any
}

// MockSprint is one sprint served by MockJira.
type MockSprint struct {
	ID        int    `json:"id"`
	State     string `json:"state"`
	Name      string `json:"name"`
	StartDate string `json:"startDate,omitempty"`
}

// MockSprintReport lists the keys of each sprint report category.
type MockSprintReport struct {
	Completed    []string
	NotCompleted []string
	Punted       []string
	Added        []string
}

// MockJira is an in-memory Jira serving search, bulk fetch, sprint and
// sprint report endpoints.
type MockJira struct {
	server *httptest.Server

	mu             sync.RWMutex
	hierarchyField string
	pageSize       int
	issues         map[string]*MockIssue
	order          []string
	failKeys       map[string]bool
	sprints        map[int][]MockSprint
	reports        map[int]MockSprintReport
	handlers       map[string]http.HandlerFunc

	requests     map[string]int
	lastHeader   http.Header
	lastJQL      string
	bulkRequests [][]string
}

// NewMockJira starts a mock server. hierarchyField is the field linking a
// child to its parent.
func NewMockJira(hierarchyField string) *MockJira {
	m := &MockJira{
		hierarchyField: hierarchyField,
		pageSize:       1000,
		issues:         make(map[string]*MockIssue),
		failKeys:       make(map[string]bool),
		sprints:        make(map[int][]MockSprint),
		reports:        make(map[int]MockSprintReport),
		handlers:       make(map[string]http.HandlerFunc),
		requests:       make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockJira) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockJira) Close() {
	m.server.Close()
}

// AddIssue registers an issue. Issues are searched in insertion order.
func (m *MockJira) AddIssue(is MockIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.issues[is.Key]; !exists {
		m.order = append(m.order, is.Key)
	}
	m.issues[is.Key] = &is
}

// FailBulkFetchFor makes any bulk fetch batch containing key return 500.
func (m *MockJira) FailBulkFetchFor(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKeys[key] = true
}

// SetSearchPageSize caps the number of keys returned per search page.
func (m *MockJira) SetSearchPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetSprints configures the sprints of a board.
func (m *MockJira) SetSprints(boardID int, sprints ...MockSprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sprints[boardID] = sprints
}

// SetSprintReport configures the report of a sprint.
func (m *MockJira) SetSprintReport(sprintID int, report MockSprintReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[sprintID] = report
}

// SetHandler overrides the handler for a specific path.
func (m *MockJira) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests made to path.
func (m *MockJira) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastHeader returns the headers of the most recent request.
func (m *MockJira) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastJQL returns the most recent search query.
func (m *MockJira) LastJQL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastJQL
}

// BulkRequests returns the key lists of all bulk fetch requests, in order.
func (m *MockJira) BulkRequests() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]string(nil), m.bulkRequests...)
}

// TotalRequests returns the number of requests across all paths.
func (m *MockJira) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

func (m *MockJira) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	m.lastHeader = r.Header.Clone()
	handler, custom := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if custom {
		handler(w, r)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/rest/api/3/search/jql":
		m.handleSearch(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/rest/api/3/issue/bulkfetch":
		m.handleBulkFetch(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/rest/agile/1.0/board/"):
		m.handleSprints(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/rest/greenhopper/1.0/rapid/charts/sprintreport":
		m.handleSprintReport(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessages": []string{"not found"}})
	}
}

var (
	reIn     = regexp.MustCompile(`^(\S+) in \((.*)\)$`)
	reEq     = regexp.MustCompile(`^(\S+) = "([^"]*)"$`)
	reLabel  = regexp.MustCompile(`labels = '([^']*)'`)
	reQuoted = regexp.MustCompile(`"([^"]*)"`)
)

func (m *MockJira) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JQL           string `json:"jql"`
		MaxResults    int    `json:"maxResults"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{err.Error()}})
		return
	}

	m.mu.Lock()
	m.lastJQL = req.JQL
	m.mu.Unlock()

	keys, err := m.match(req.JQL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{err.Error()}})
		return
	}

	m.mu.RLock()
	pageSize := m.pageSize
	m.mu.RUnlock()
	if req.MaxResults > 0 && req.MaxResults < pageSize {
		pageSize = req.MaxResults
	}

	offset := 0
	if req.NextPageToken != "" {
		offset, _ = strconv.Atoi(req.NextPageToken)
	}
	end := offset + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := make([]map[string]string, 0, end-offset)
	for n, k := range keys[offset:end] {
		page = append(page, map[string]string{"id": strconv.Itoa(10000 + offset + n), "key": k})
	}

	resp := map[string]any{"issues": page, "isLast": end >= len(keys)}
	if end < len(keys) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

// match evaluates the small JQL subset used by the dashboard.
func (m *MockJira) match(jql string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jql = strings.TrimSpace(strings.Split(jql, " ORDER BY ")[0])

	var pred func(*MockIssue) bool
	switch {
	case reIn.MatchString(jql):
		sm := reIn.FindStringSubmatch(jql)
		if sm[1] != m.hierarchyField {
			return nil, fmt.Errorf("unknown field %s", sm[1])
		}
		parents := map[string]bool{}
		for _, q := range reQuoted.FindAllStringSubmatch(sm[2], -1) {
			parents[q[1]] = true
		}
		pred = func(is *MockIssue) bool { return parents[is.Parent] }
	case reEq.MatchString(jql):
		sm := reEq.FindStringSubmatch(jql)
		if sm[1] != m.hierarchyField {
			return nil, fmt.Errorf("unknown field %s", sm[1])
		}
		pred = func(is *MockIssue) bool { return is.Parent == sm[2] }
	case reLabel.MatchString(jql):
		label := reLabel.FindStringSubmatch(jql)[1]
		pred = func(is *MockIssue) bool {
			for _, l := range is.Labels {
				if l == label {
					return true
				}
			}
			return false
		}
	default:
		return nil, fmt.Errorf("unsupported jql %q", jql)
	}

	var keys []string
	for _, k := range m.order {
		if pred(m.issues[k]) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MockJira) handleBulkFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys   []string `json:"issueIdsOrKeys"`
		Fields []string `json:"fields"`
		Expand []string `json:"expand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{err.Error()}})
		return
	}

	m.mu.Lock()
	m.bulkRequests = append(m.bulkRequests, req.Keys)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range req.Keys {
		if m.failKeys[k] {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"errorMessages": []string{"boom"}})
			return
		}
	}

	expandChangelog := false
	for _, e := range req.Expand {
		if e == "changelog" {
			expandChangelog = true
		}
	}

	issues := []map[string]any{}
	var missing []string
	for _, k := range req.Keys {
		is, ok := m.issues[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		fields := map[string]any{
			"summary":   "Summary of " + k,
			"status":    map[string]string{"name": "To Do"},
			"issuetype": map[string]string{"name": "Story"},
		}
		if is.Parent != "" {
			fields[m.hierarchyField] = map[string]string{"key": is.Parent}
		}
		for name, v := range is.Fields {
			fields[name] = v
		}
		out := map[string]any{"id": k, "key": k, "fields": fields}
		if expandChangelog {
			out["changelog"] = map[string]any{"startAt": 0, "maxResults": 0, "total": 0, "histories": []any{}}
		}
		issues = append(issues, out)
	}

	resp := map[string]any{"issues": issues}
	if len(missing) > 0 {
		resp["issueErrors"] = []map[string]any{{"issueIdsOrKeys": missing, "status": 404}}
	}
	writeJSON(w, http.StatusOK, resp)
}

var reBoardSprints = regexp.MustCompile(`^/rest/agile/1\.0/board/(\d+)/sprint$`)

func (m *MockJira) handleSprints(w http.ResponseWriter, r *http.Request) {
	sm := reBoardSprints.FindStringSubmatch(r.URL.Path)
	if sm == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessages": []string{"not found"}})
		return
	}
	boardID, _ := strconv.Atoi(sm[1])

	m.mu.RLock()
	sprints, ok := m.sprints[boardID]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessages": []string{"board not found"}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"maxResults": 50,
		"startAt":    0,
		"isLast":     true,
		"values":     sprints,
	})
}

func (m *MockJira) handleSprintReport(w http.ResponseWriter, r *http.Request) {
	sprintID, _ := strconv.Atoi(r.URL.Query().Get("sprintId"))

	m.mu.RLock()
	report, ok := m.reports[sprintID]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessages": []string{"sprint not found"}})
		return
	}

	toEntries := func(keys []string) []map[string]string {
		out := make([]map[string]string, len(keys))
		for n, k := range keys {
			out[n] = map[string]string{"key": k}
		}
		return out
	}
	added := map[string]bool{}
	for _, k := range report.Added {
		added[k] = true
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contents": map[string]any{
			"completedIssues":                   toEntries(report.Completed),
			"issuesNotCompletedInCurrentSprint": toEntries(report.NotCompleted),
			"puntedIssues":                      toEntries(report.Punted),
			"issueKeysAddedDuringSprint":        added,
		},
		"sprint": map[string]any{"id": sprintID, "name": "Sprint " + strconv.Itoa(sprintID)},
	})
}

// SortedKeys returns the registered issue keys in lexical order.
func (m *MockJira) SortedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := append([]string(nil), m.order...)
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
