package issue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSON_TreeStates(t *testing.T) {
	detached := &Issue{Key: "APPS-1"}
	out, err := json.Marshal(detached)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "children")

	leaf := &Issue{Key: "APPS-2"}
	leaf.MarkLeaf()
	out, err = json.Marshal(leaf)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"children":null`)

	branch := &Issue{Key: "APPS-3"}
	branch.SetChildren(nil)
	out, err = json.Marshal(branch)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"children":[]`)
}

func TestUnmarshalJSON_RestoresTree(t *testing.T) {
	root := &Issue{Key: "APPS-1"}
	child := &Issue{Key: "APPS-2"}
	child.MarkLeaf()
	root.SetChildren([]*Issue{child})

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var decoded Issue
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.True(t, decoded.IsTreeNode())
	require.Len(t, decoded.Children(), 1)
	assert.Equal(t, "APPS-2", decoded.Children()[0].Key)
	assert.True(t, decoded.Children()[0].IsLeaf())
	assert.Equal(t, 2, decoded.Count())
}

func TestStringField(t *testing.T) {
	is := &Issue{
		Key: "APPS-7",
		Fields: map[string]json.RawMessage{
			"summary":           json.RawMessage(`"Ship it"`),
			"status":            json.RawMessage(`{"name":"In Progress","id":"3"}`),
			"issuetype":         json.RawMessage(`{"name":"Epic"}`),
			"customfield_10100": json.RawMessage(`{"key":"APPS-1"}`),
			"customfield_10200": json.RawMessage(`{"value":"M"}`),
			"customfield_10300": json.RawMessage(`null`),
		},
	}

	assert.Equal(t, "Ship it", is.Summary())
	assert.Equal(t, "In Progress", is.Status())
	assert.Equal(t, "Epic", is.IssueType())
	assert.Equal(t, "APPS-1", is.ParentKey("customfield_10100"))
	assert.Equal(t, "M", is.StringField("customfield_10200"))
	assert.Empty(t, is.StringField("customfield_10300"))
	assert.Nil(t, is.Field("customfield_10300"))
	assert.Empty(t, is.StringField("missing"))
}

func TestKeySet_JSON(t *testing.T) {
	var fromObject KeySet
	require.NoError(t, json.Unmarshal([]byte(`{"APPS-9":true,"APPS-3":true}`), &fromObject))
	assert.True(t, fromObject.Has("APPS-9"))
	assert.Equal(t, []string{"APPS-3", "APPS-9"}, fromObject.Sorted())

	out, err := json.Marshal(fromObject)
	require.NoError(t, err)
	assert.JSONEq(t, `["APPS-3","APPS-9"]`, string(out))

	var fromArray KeySet
	require.NoError(t, json.Unmarshal([]byte(`["A","B","A"]`), &fromArray))
	assert.Len(t, fromArray, 2)

	assert.True(t, fromArray.Add("C"))
	assert.False(t, fromArray.Add("C"))
}

func TestIndexAndKeys(t *testing.T) {
	issues := []*Issue{{Key: "A"}, {Key: "B"}}
	assert.Equal(t, []string{"A", "B"}, Keys(issues))

	idx := Index(issues)
	assert.Same(t, issues[1], idx["B"])
}
