package durable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// TestCheckpoint_MemoryStoreRoundTrip is the property test for the spec's
// checkpoint round-trip law: load(save(c)) = c. Grounded on the teacher's
// use of pgregory.net/rapid for model-level property tests elsewhere in the
// pack (zjrosen-perles).
func TestCheckpoint_MemoryStoreRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryCheckpointStore()

		jobID := rapid.StringMatching(`[a-z0-9-]{1,20}`).Draw(rt, "jobID")
		state := rapid.SampledFrom([]State{
			StateRunning, StatePaused, StateCompleted, StateFailed, StateCancelled, StateStopped,
		}).Draw(rt, "state")
		nodeCount := rapid.IntRange(0, 6).Draw(rt, "nodeCount")

		executed := make([]model.NodeID, nodeCount)
		stepResults := make(map[model.NodeID]map[string]interface{}, nodeCount)
		for i := 0; i < nodeCount; i++ {
			id := model.NodeID(rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "node"))
			executed[i] = id
			stepResults[id] = map[string]interface{}{
				"value": rapid.Int64().Draw(rt, "value"),
			}
		}
		variables := map[string]interface{}{
			"count": rapid.Int64().Draw(rt, "count"),
			"label": rapid.String().Draw(rt, "label"),
		}

		cp := &Checkpoint{
			JobID:         jobID,
			WorkflowID:    "wf-1",
			State:         state,
			ExecutedNodes: executed,
			Variables:     variables,
			StepResults:   stepResults,
		}

		require.NoError(rt, store.Save(context.Background(), cp))
		loaded, err := store.Load(context.Background(), jobID)
		require.NoError(rt, err)

		assert.Equal(rt, cp.JobID, loaded.JobID)
		assert.Equal(rt, cp.WorkflowID, loaded.WorkflowID)
		assert.Equal(rt, cp.State, loaded.State)
		assert.Equal(rt, cp.ExecutedNodes, loaded.ExecutedNodes)
		assert.Equal(rt, cp.Variables, loaded.Variables)
		assert.Equal(rt, cp.StepResults, loaded.StepResults)
	})
}

// TestCheckpoint_SaveIsUpsert covers that Save keyed by JobID overwrites
// rather than accumulates, the other half of the memory store's contract
// that the resume path in runtime.go depends on.
func TestCheckpoint_SaveIsUpsert(t *testing.T) {
	store := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Checkpoint{JobID: "job", State: StateRunning, Variables: map[string]interface{}{"x": int64(1)}}))
	require.NoError(t, store.Save(ctx, &Checkpoint{JobID: "job", State: StateCompleted, Variables: map[string]interface{}{"x": int64(2)}}))

	loaded, err := store.Load(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, loaded.State)
	assert.Equal(t, int64(2), loaded.Variables["x"])
}
