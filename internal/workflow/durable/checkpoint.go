// Package durable implements the durable runtime (component F): idempotent,
// resumable job execution built on top of the engine (component E), plus the
// CheckpointStore persistence contract of §4.6.
package durable

import (
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// State is the persisted job lifecycle state, per §4.6.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateStopped   State = "stopped"
)

// Terminal reports whether a state is one the durable runtime will never
// transition out of, the idempotent short-circuit condition of §4.6.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateStopped:
		return true
	default:
		return false
	}
}

// Checkpoint is the durable runtime's persisted snapshot of one job's
// progress, grounded on the teacher's ExecutionRecord
// (internal/engine/persistence.go) but narrowed to exactly the fields §4.6
// requires to resume: executed node IDs and the variable snapshot, rather
// than the teacher's broader execution-history/stats record.
type Checkpoint struct {
	JobID         string
	WorkflowID    string
	State         State
	ExecutedNodes []model.NodeID
	Variables     map[string]interface{}
	StepResults   map[model.NodeID]map[string]interface{}
	Error         string
	ErrorNodeID   model.NodeID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
