// Package issue defines the records assembled by the fetch engine: issues
// with optional tree children, sprints and sprint reports.
package issue

import (
	"bytes"
	"encoding/json"
)

// Standard Jira field names always requested by the bulk fetcher.
const (
	FieldSummary   = "summary"
	FieldStatus    = "status"
	FieldIssueType = "issuetype"
	FieldCreated   = "created"
)

// ExpandChangelog asks the bulk fetch endpoint to include change history.
const ExpandChangelog = "changelog"

type treeState uint8

const (
	stateDetached treeState = iota // bulk-fetched record, not part of a tree
	stateLeaf                      // tree node without children
	stateBranch                    // tree node with a children slice
)

// Issue is one Jira issue as returned by the bulk fetch endpoint.
//
// Tree nodes additionally carry children. A leaf node serializes
// "children": null, a branch node serializes its (possibly empty) children
// slice, and a detached record emits no children key at all.
type Issue struct {
	ID        string                     `json:"id,omitempty"`
	Key       string                     `json:"key"`
	Self      string                     `json:"self,omitempty"`
	Fields    map[string]json.RawMessage `json:"fields,omitempty"`
	Changelog *Changelog                 `json:"changelog,omitempty"`

	children []*Issue
	state    treeState
}

// Changelog is the expanded change history of an issue.
type Changelog struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// History is one change set.
type History struct {
	ID      string       `json:"id"`
	Created string       `json:"created"`
	Author  *User        `json:"author,omitempty"`
	Items   []ChangeItem `json:"items"`
}

// ChangeItem is a single field transition inside a History.
type ChangeItem struct {
	Field      string `json:"field"`
	FieldType  string `json:"fieldtype,omitempty"`
	From       string `json:"from,omitempty"`
	FromString string `json:"fromString"`
	To         string `json:"to,omitempty"`
	ToString   string `json:"toString"`
}

// User is the subset of a Jira user object kept in histories.
type User struct {
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName"`
}

// MarkLeaf turns the issue into a tree node without children.
func (i *Issue) MarkLeaf() {
	i.children = nil
	i.state = stateLeaf
}

// SetChildren turns the issue into a tree node with the given children.
// A nil or empty slice still yields a branch node with an empty list.
func (i *Issue) SetChildren(children []*Issue) {
	if children == nil {
		children = []*Issue{}
	}
	i.children = children
	i.state = stateBranch
}

// Children returns the child nodes; nil for leaves and detached records.
func (i *Issue) Children() []*Issue {
	return i.children
}

// IsLeaf reports whether the issue is a tree node known to have no children.
func (i *Issue) IsLeaf() bool {
	return i.state == stateLeaf
}

// IsTreeNode reports whether children were computed for this issue.
func (i *Issue) IsTreeNode() bool {
	return i.state != stateDetached
}

// Walk visits the issue and all descendants depth-first, parents first.
func (i *Issue) Walk(fn func(*Issue)) {
	fn(i)
	for _, c := range i.children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree rooted at i.
func (i *Issue) Count() int {
	n := 0
	i.Walk(func(*Issue) { n++ })
	return n
}

// Field returns the raw JSON value of a field, or nil when absent.
func (i *Issue) Field(name string) json.RawMessage {
	if i.Fields == nil {
		return nil
	}
	raw, ok := i.Fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

// StringField decodes a field that is either a JSON string or an object
// carrying a "key", "value" or "name" member (issue links, select options,
// statuses).
func (i *Issue) StringField(name string) string {
	raw := i.Field(name)
	if raw == nil {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch {
	case obj.Key != "":
		return obj.Key
	case obj.Value != "":
		return obj.Value
	default:
		return obj.Name
	}
}

// Summary returns the summary field.
func (i *Issue) Summary() string { return i.StringField(FieldSummary) }

// Status returns the status name.
func (i *Issue) Status() string { return i.StringField(FieldStatus) }

// IssueType returns the issue type name.
func (i *Issue) IssueType() string { return i.StringField(FieldIssueType) }

// ParentKey returns the key stored in the hierarchy-link field.
func (i *Issue) ParentKey(hierarchyField string) string {
	return i.StringField(hierarchyField)
}

// issueJSON mirrors Issue without its methods to avoid MarshalJSON recursion.
type issueJSON struct {
	ID        string                     `json:"id,omitempty"`
	Key       string                     `json:"key"`
	Self      string                     `json:"self,omitempty"`
	Fields    map[string]json.RawMessage `json:"fields,omitempty"`
	Changelog *Changelog                 `json:"changelog,omitempty"`
}

type treeNodeJSON struct {
	issueJSON
	Children []*Issue `json:"children"`
}

// MarshalJSON implements json.Marshaler.
func (i *Issue) MarshalJSON() ([]byte, error) {
	base := issueJSON{
		ID:        i.ID,
		Key:       i.Key,
		Self:      i.Self,
		Fields:    i.Fields,
		Changelog: i.Changelog,
	}

	switch i.state {
	case stateLeaf:
		return json.Marshal(treeNodeJSON{issueJSON: base, Children: nil})
	case stateBranch:
		return json.Marshal(treeNodeJSON{issueJSON: base, Children: i.children})
	default:
		return json.Marshal(base)
	}
}

// UnmarshalJSON implements json.Unmarshaler. A "children" member restores
// the tree state, so encoded trees round-trip.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var aux struct {
		issueJSON
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	i.ID = aux.ID
	i.Key = aux.Key
	i.Self = aux.Self
	i.Fields = aux.Fields
	i.Changelog = aux.Changelog
	i.children = nil
	i.state = stateDetached

	switch {
	case aux.Children == nil:
	case bytes.Equal(bytes.TrimSpace(aux.Children), []byte("null")):
		i.state = stateLeaf
	default:
		var children []*Issue
		if err := json.Unmarshal(aux.Children, &children); err != nil {
			return err
		}
		i.SetChildren(children)
	}
	return nil
}

// Index maps issues by key. Later duplicates replace earlier ones.
func Index(issues []*Issue) map[string]*Issue {
	m := make(map[string]*Issue, len(issues))
	for _, is := range issues {
		m[is.Key] = is
	}
	return m
}

// Keys returns the keys of the issues in order.
func Keys(issues []*Issue) []string {
	keys := make([]string, len(issues))
	for n, is := range issues {
		keys[n] = is.Key
	}
	return keys
}
