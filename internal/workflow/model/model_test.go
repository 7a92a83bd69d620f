package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownTypes(types ...string) TypeChecker {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}

func TestValidate_RejectsUnknownNodeType(t *testing.T) {
	w := New("wf", "")
	require.NoError(t, w.AddNode(&Node{ID: "n1", Type: "Mystery"}))

	issues := Validate(w, DefaultLimits, knownTypes("Start"))
	assert.NotEmpty(t, issues)
}

func TestValidate_RejectsDuplicateDataConnection(t *testing.T) {
	w := New("wf", "")
	require.NoError(t, w.AddNode(&Node{ID: "a", Type: "Set"}))
	require.NoError(t, w.AddNode(&Node{ID: "b", Type: "Set"}))
	require.NoError(t, w.AddNode(&Node{ID: "c", Type: "Set"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "a", SourcePort: "out", TargetNode: "c", TargetPort: "in"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "b", SourcePort: "out", TargetNode: "c", TargetPort: "in"}))

	issues := Validate(w, DefaultLimits, nil)
	assert.NotEmpty(t, issues)
}

func TestValidate_AllowsCycleThroughSanctionedLoopPair(t *testing.T) {
	w := New("wf", "")
	require.NoError(t, w.AddNode(&Node{ID: "start", Type: "ForLoopStart"}))
	require.NoError(t, w.AddNode(&Node{ID: "body", Type: "SetNode"}))
	require.NoError(t, w.AddNode(&Node{ID: "end", Type: "ForLoopEnd", Config: map[string]interface{}{"paired_start_id": "start"}}))

	require.NoError(t, w.AddConnection(Connection{SourceNode: "start", SourcePort: "body", TargetNode: "body", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "body", SourcePort: "exec_out", TargetNode: "end", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "end", SourcePort: "exec_out", TargetNode: "start", TargetPort: "exec_in"}))

	issues := Validate(w, DefaultLimits, nil)
	assert.Empty(t, issues, "a loop-back edge from a LoopEnd to its paired LoopStart must be sanctioned")
}

func TestValidate_RejectsUnsanctionedCycle(t *testing.T) {
	w := New("wf", "")
	require.NoError(t, w.AddNode(&Node{ID: "a", Type: "SetNode"}))
	require.NoError(t, w.AddNode(&Node{ID: "b", Type: "SetNode"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "a", SourcePort: "exec_out", TargetNode: "b", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "b", SourcePort: "exec_out", TargetNode: "a", TargetPort: "exec_in"}))

	issues := Validate(w, DefaultLimits, nil)
	assert.NotEmpty(t, issues)
}

func TestBlobRoundTrip(t *testing.T) {
	w := New("wf", "desc")
	require.NoError(t, w.AddNode(&Node{ID: "a", Type: "SetNode", Config: map[string]interface{}{"x": "1"}}))
	raw, err := w.Serialize()
	require.NoError(t, err)

	reloaded, err := Load(raw, DefaultLimits, knownTypes("SetNode"))
	require.NoError(t, err)
	assert.Equal(t, w.Metadata.Name, reloaded.Metadata.Name)
	assert.Equal(t, w.Node("a").Type, reloaded.Node("a").Type)
}

func TestFindEntryNodes(t *testing.T) {
	w := New("wf", "")
	require.NoError(t, w.AddNode(&Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&Node{ID: "mid", Type: "SetNode"}))
	require.NoError(t, w.AddConnection(Connection{SourceNode: "start", SourcePort: "exec_out", TargetNode: "mid", TargetPort: "exec_in"}))

	entries := w.FindEntryNodes()
	assert.Equal(t, []NodeID{"start"}, entries)
}
