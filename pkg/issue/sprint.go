package issue

import (
	"encoding/json"
	"sort"
	"time"
)

// Sprint states reported by the agile API.
const (
	SprintFuture = "future"
	SprintActive = "active"
	SprintClosed = "closed"
)

// Sprint is a board sprint as returned by the agile API.
type Sprint struct {
	ID            int        `json:"id"`
	Self          string     `json:"self,omitempty"`
	State         string     `json:"state"`
	Name          string     `json:"name"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	CompleteDate  *time.Time `json:"completeDate,omitempty"`
	OriginBoardID int        `json:"originBoardId,omitempty"`
	Goal          string     `json:"goal,omitempty"`
}

// SprintReport holds the issues of one sprint split by outcome.
type SprintReport struct {
	Sprint                     json.RawMessage `json:"sprint,omitempty"`
	CompletedIssues            []*Issue        `json:"completedIssues"`
	IssuesNotCompleted         []*Issue        `json:"issuesNotCompleted"`
	PuntedIssues               []*Issue        `json:"puntedIssues"`
	IssueKeysAddedDuringSprint KeySet          `json:"issueKeysAddedDuringSprint"`
}

// KeySet is an unordered set of issue keys. It encodes as a sorted JSON array.
type KeySet map[string]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts key and reports whether it was new.
func (s KeySet) Add(key string) bool {
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

// Has reports membership.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler.
func (s KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts either an array of keys or an object keyed by issue
// key, which is how the sprint report endpoint encodes the set.
func (s *KeySet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = NewKeySet(list...)
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	set := make(KeySet, len(obj))
	for k := range obj {
		set[k] = struct{}{}
	}
	*s = set
	return nil
}
