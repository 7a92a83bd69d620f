package durable

import (
	"context"
	"errors"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/engine"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// Runtime wraps the engine with the durable-job contract of §4.6: every
// call is idempotent on an already-terminal job, resumable mid-execution,
// and checkpoints at a configurable cadence as well as on every terminal
// transition.
type Runtime struct {
	registry        *runtime.Registry
	resolver        *expression.Resolver
	strategy        engine.Strategy
	subflows        engine.SubflowRunner
	log             logger.Logger
	store           CheckpointStore
	limits          model.Limits
	checkpointEvery int // checkpoint after this many NodeCompleted events; <=0 means "only at terminal transitions"
}

// NewRuntime builds a durable Runtime. checkpointEvery of 0 or less disables
// the interval cadence, checkpointing only on terminal transitions.
func NewRuntime(registry *runtime.Registry, resolver *expression.Resolver, strategy engine.Strategy, subflows engine.SubflowRunner, log logger.Logger, store CheckpointStore, limits model.Limits, checkpointEvery int) *Runtime {
	return &Runtime{
		registry:        registry,
		resolver:        resolver,
		strategy:        strategy,
		subflows:        subflows,
		log:             log,
		store:           store,
		limits:          limits,
		checkpointEvery: checkpointEvery,
	}
}

func terminalStateOf(k engine.TerminalKind) State {
	switch k {
	case engine.TerminalCompleted:
		return StateCompleted
	case engine.TerminalCancelled:
		return StateCancelled
	case engine.TerminalStopped:
		return StateStopped
	default:
		return StateFailed
	}
}

// Run returns jobID's terminal checkpoint immediately if one exists, without
// validating the blob or re-executing anything (idempotent terminal-state
// short-circuit, §4.6). Otherwise it validates workflowBlob, then runs (or
// resumes) jobID to completion, checkpointing along the way.
func (r *Runtime) Run(ctx context.Context, workflowBlob []byte, jobID, workflowID string, initialVariables map[string]interface{}, onProgress func(percent float64)) (*Checkpoint, error) {
	existing, loadErr := r.store.Load(ctx, jobID)
	if loadErr != nil && !errors.Is(loadErr, apperrors.ErrNotFound) {
		return nil, loadErr
	}
	if loadErr == nil && existing.State.Terminal() {
		return existing, nil
	}

	wf, err := model.Load(workflowBlob, r.limits, r.registry.Known)
	if err != nil {
		return nil, err
	}

	var ec *runtime.Context
	var alreadyExecuted map[model.NodeID]bool
	now := time.Now()
	createdAt := now

	if loadErr == nil {
		ec = runtime.NewContext(existing.Variables)
		for node, outputs := range existing.StepResults {
			ec.SetNodeOutputs(node, outputs)
		}
		alreadyExecuted = make(map[model.NodeID]bool, len(existing.ExecutedNodes))
		for _, id := range existing.ExecutedNodes {
			alreadyExecuted[id] = true
		}
		createdAt = existing.CreatedAt
	} else {
		ec = runtime.NewContext(initialVariables)
	}

	emitter := runtime.NewEmitter()
	eng := engine.New(r.registry, r.resolver, emitter, r.log, r.strategy, r.subflows)

	total := len(wf.Nodes())
	completed := len(alreadyExecuted)
	sinceCheckpoint := 0

	handle := emitter.Subscribe(func(ev runtime.Event) {
		if ev.Type != runtime.EventNodeCompleted {
			return
		}
		completed++
		if onProgress != nil && total > 0 {
			onProgress(float64(completed) / float64(total) * 100)
		}
		sinceCheckpoint++
		if r.checkpointEvery > 0 && sinceCheckpoint >= r.checkpointEvery {
			sinceCheckpoint = 0
			_ = r.store.Save(ctx, &Checkpoint{
				JobID:         jobID,
				WorkflowID:    workflowID,
				State:         StateRunning,
				ExecutedNodes: executedSoFar(ec, wf),
				Variables:     ec.Variables(),
				StepResults:   ec.AllOutputs(),
				CreatedAt:     createdAt,
				UpdatedAt:     time.Now(),
			})
		}
	})
	defer emitter.Unsubscribe(handle)

	result := eng.Run(ctx, wf, ec, alreadyExecuted)

	final := &Checkpoint{
		JobID:         jobID,
		WorkflowID:    workflowID,
		State:         terminalStateOf(result.Kind),
		ExecutedNodes: result.ExecutedNodes,
		Variables:     result.VariablesSnapshot,
		StepResults:   ec.AllOutputs(),
		Error:         result.Error,
		ErrorNodeID:   result.ErrorNodeID,
		CreatedAt:     createdAt,
		UpdatedAt:     time.Now(),
	}
	if err := r.store.Save(ctx, final); err != nil {
		return nil, err
	}
	return final, nil
}

// executedSoFar reports the node IDs that have recorded outputs, in the
// workflow's stable ID order, for a mid-run checkpoint snapshot.
func executedSoFar(ec *runtime.Context, wf *model.Workflow) []model.NodeID {
	var out []model.NodeID
	for _, id := range wf.NodeIDs() {
		if ec.HasCompleted(id) {
			out = append(out, id)
		}
	}
	return out
}
