// Package jql builds the JQL predicates used by the fetch engine.
package jql

import (
	"strings"
)

// Quote renders s as a double-quoted JQL string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// quoteSingle renders s as a single-quoted JQL string literal.
func quoteSingle(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return `'` + r.Replace(s) + `'`
}

// ChildrenOf matches issues whose hierarchy field points at one of keys.
// A single key produces an equality predicate, several keys an IN list.
// It returns "" for no keys.
func ChildrenOf(field string, keys ...string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return field + " = " + Quote(keys[0])
	}

	quoted := make([]string, len(keys))
	for n, k := range keys {
		quoted[n] = Quote(k)
	}
	return field + " in (" + strings.Join(quoted, ",") + ")"
}

// LabelQuery selects issues of one type in one project carrying a label.
type LabelQuery struct {
	Project       string
	IssueType     string
	Label         string
	ExcludedLabel string
	OrderBy       string
}

// String renders the query.
func (q LabelQuery) String() string {
	var clauses []string
	if q.Project != "" {
		clauses = append(clauses, "project = "+Quote(q.Project))
	}
	if q.IssueType != "" {
		clauses = append(clauses, "type = "+Quote(q.IssueType))
	}
	clauses = append(clauses, "labels = "+quoteSingle(q.Label))
	if q.ExcludedLabel != "" {
		clauses = append(clauses, "labels not in ("+quoteSingle(q.ExcludedLabel)+")")
	}

	s := strings.Join(clauses, " and ")
	if q.OrderBy != "" {
		s += " ORDER BY " + q.OrderBy
	}
	return s
}

// Chunk splits keys into consecutive groups of at most size elements.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 || len(keys) <= size {
		if len(keys) == 0 {
			return nil
		}
		return [][]string{keys}
	}

	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
