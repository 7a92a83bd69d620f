// Package engine implements the execution engine (component E): the graph
// interpreter that dispatches along execution edges, runs loops, branches,
// try/catch routing and subflows, in sequential or parallel strategy.
//
// Architecturally this package keeps the teacher's two-engine split (a
// simple depth-first walker in internal/engine/engine.go, a topologically
// staged concurrent walker in internal/engine/executor.go) collapsed into
// one dispatcher that chooses, per ready set, whether its members are
// data-independent and therefore safe to fan out as goroutines — the same
// idea as the teacher's stage-based AdvancedExecutor, generalized to the
// spec's explicit-execution-edge dispatch model instead of a single global
// topological order.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// Strategy selects sequential or parallel dispatch of a ready set.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// TerminalKind tags the engine's terminal outcome, per §4.5.
type TerminalKind string

const (
	TerminalCompleted TerminalKind = "completed"
	TerminalFailed    TerminalKind = "failed"
	TerminalCancelled TerminalKind = "cancelled"
	TerminalStopped   TerminalKind = "stopped"
)

// Result is the engine's terminal outcome.
type Result struct {
	Kind              TerminalKind
	ExecutedNodes     []model.NodeID
	VariablesSnapshot map[string]interface{}
	Error             string
	ErrorNodeID       model.NodeID
	StopReason        string
}

// SubflowRunner resolves and runs a subflow workflow by reference, returning
// its output values. The robot bootstrap (cmd/services/robot) wires a stub
// that fails every subflow; it is kept as an interface here so this package
// does not need to depend on wherever subflow definitions are persisted.
type SubflowRunner interface {
	RunSubflow(ctx context.Context, subflowRef string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// Engine interprets one Workflow graph against one Context.
type Engine struct {
	registry *runtime.Registry
	resolver *expression.Resolver
	executor *runtime.Executor
	strategy Strategy
	log      logger.Logger
	subflows SubflowRunner
}

// New builds an Engine bound to a node registry and resolver.
func New(registry *runtime.Registry, resolver *expression.Resolver, emitter *runtime.Emitter, log logger.Logger, strategy Strategy, subflows SubflowRunner) *Engine {
	return &Engine{
		registry: registry,
		resolver: resolver,
		executor: runtime.NewExecutor(registry, resolver, emitter, log),
		strategy: strategy,
		log:      log,
		subflows: subflows,
	}
}

// SetDebugMode toggles breakpoint honoring on the underlying node executor.
func (e *Engine) SetDebugMode(on bool, hook runtime.DebugHook) { e.executor.SetDebugMode(on, hook) }

// instanceCache lazily constructs and caches node instances within one run,
// per §3.4 ("Node instance: lazily constructed on first reference ...
// cached within the run; discarded at run end").
type instanceCache struct {
	mu    sync.Mutex
	cache map[model.NodeID]runtime.Instance
}

func (c *instanceCache) get(reg *runtime.Registry, w *model.Workflow, id model.NodeID) (runtime.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.cache[id]; ok {
		return inst, nil
	}
	node := w.Node(id)
	if node == nil {
		return nil, fmt.Errorf("node %s not found", id)
	}
	inst, err := reg.New(node.Type, node.ID, node.Config)
	if err != nil {
		return nil, err
	}
	c.cache[id] = inst
	return inst, nil
}

type tryCatchRoute struct {
	handlerNode model.NodeID
	errorPort   string
}

// runState bundles the read-only, precomputed routing tables for a single
// Run call so dispatch helpers don't carry a long, error-prone parameter
// list. Everything in it is either immutable after setup or independently
// synchronized, so a pointer to it is safe to share across the goroutines
// runParallel spawns.
type runState struct {
	wf         *model.Workflow
	cache      *instanceCache
	tryCatch   map[model.NodeID]tryCatchRoute
	loopEndOf  map[model.NodeID]model.NodeID          // loop start -> its paired loop end
	loopBody   map[model.NodeID]map[model.NodeID]bool // loop start -> {body nodes..., loop end}, re-armed each iteration
	totalNodes int
}

func newRunState(wf *model.Workflow) *runState {
	loopEndOf := buildLoopPairs(wf)
	return &runState{
		wf:         wf,
		cache:      &instanceCache{cache: make(map[model.NodeID]runtime.Instance)},
		tryCatch:   buildTryCatchRoutes(wf),
		loopEndOf:  loopEndOf,
		loopBody:   buildLoopBodies(wf, loopEndOf),
		totalNodes: len(wf.Nodes()),
	}
}

// Run executes wf against ec starting at its entry nodes, to completion.
// alreadyExecuted seeds the set of nodes to treat as already run (the
// durable runtime's mid-execution restore, §4.6).
func (e *Engine) Run(ctx context.Context, wf *model.Workflow, ec *runtime.Context, alreadyExecuted map[model.NodeID]bool) *Result {
	rs := newRunState(wf)
	executed := make(map[model.NodeID]bool, len(alreadyExecuted))
	var executedOrder []model.NodeID
	for id := range alreadyExecuted {
		executed[id] = true
		executedOrder = append(executedOrder, id)
	}
	sort.Slice(executedOrder, func(i, j int) bool { return executedOrder[i] < executedOrder[j] })

	var queue []model.NodeID
	if len(executed) == 0 {
		// Fresh run: seed from the declared start node, or every entry node
		// when none is declared.
		if start, hasStart := wf.FindStartNode(); hasStart {
			queue = []model.NodeID{start}
		} else {
			queue = append(queue, wf.FindEntryNodes()...)
		}
	} else {
		// Resuming a durable job (§4.6): the frontier is every node reachable
		// from an already-executed node that has not itself run yet. This
		// does not require remembering which exec port fired, only that the
		// edge's source already completed.
		frontier := make(map[model.NodeID]bool)
		for _, c := range wf.Connections() {
			if executed[c.SourceNode] && !executed[c.TargetNode] {
				frontier[c.TargetNode] = true
			}
		}
		for id := range frontier {
			queue = append(queue, id)
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}

	var terminal *Result
	for len(queue) > 0 && terminal == nil {
		ec.WaitIfPaused()
		if ec.Cancelled() {
			terminal = &Result{Kind: TerminalCancelled, ExecutedNodes: executedOrder}
			break
		}

		ready := queue
		queue = nil

		var batchNext []model.NodeID
		if e.strategy == StrategyParallel && len(ready) > 1 && dataIndependent(wf, ready) {
			batchNext, terminal = e.runParallel(ctx, rs, ec, ready, &executed, &executedOrder)
		} else {
			batchNext, terminal = e.runSequential(ctx, rs, ec, ready, &executed, &executedOrder)
		}
		for _, id := range batchNext {
			if !executed[id] {
				queue = append(queue, id)
			}
		}
	}

	if terminal == nil {
		terminal = &Result{Kind: TerminalCompleted, ExecutedNodes: executedOrder}
	}
	terminal.VariablesSnapshot = ec.Variables()
	return terminal
}

// dataIndependent reports whether the given nodes share no data connection
// among themselves, per §4.5's requirement for the parallel strategy.
func dataIndependent(wf *model.Workflow, nodes []model.NodeID) bool {
	set := make(map[model.NodeID]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}
	for _, c := range wf.Connections() {
		if set[c.SourceNode] && set[c.TargetNode] {
			return false
		}
	}
	return true
}

func buildTryCatchRoutes(wf *model.Workflow) map[model.NodeID]tryCatchRoute {
	routes := make(map[model.NodeID]tryCatchRoute)
	for _, id := range wf.NodeIDs() {
		n := wf.Node(id)
		if !strings.HasSuffix(n.Type, "TryCatch") {
			continue
		}
		protected, _ := n.Config["protected_node_ids"].([]interface{})
		errorPort, _ := n.Config["error_port"].(string)
		if errorPort == "" {
			errorPort = "error"
		}
		for _, p := range protected {
			if s, ok := p.(string); ok {
				routes[model.NodeID(s)] = tryCatchRoute{handlerNode: id, errorPort: errorPort}
			}
		}
	}
	return routes
}

func buildLoopPairs(wf *model.Workflow) map[model.NodeID]model.NodeID {
	pairs := make(map[model.NodeID]model.NodeID)
	for _, id := range wf.NodeIDs() {
		n := wf.Node(id)
		if !isLoopEndType(n.Type) {
			continue
		}
		startID, _ := n.Config["paired_start_id"].(string)
		if startID != "" {
			pairs[model.NodeID(startID)] = id
		}
	}
	return pairs
}

func (e *Engine) runSequential(ctx context.Context, rs *runState, ec *runtime.Context, ready []model.NodeID, executed *map[model.NodeID]bool, order *[]model.NodeID) ([]model.NodeID, *Result) {
	var next []model.NodeID
	for _, id := range ready {
		if (*executed)[id] {
			continue
		}
		more, term := e.dispatchOne(ctx, rs, ec, id, executed, order)
		if term != nil {
			return nil, term
		}
		next = append(next, more...)
	}
	return next, nil
}

func (e *Engine) runParallel(ctx context.Context, rs *runState, ec *runtime.Context, ready []model.NodeID, executed *map[model.NodeID]bool, order *[]model.NodeID) ([]model.NodeID, *Result) {
	type outcome struct {
		next []model.NodeID
		term *Result
		node model.NodeID
	}
	results := make([]outcome, len(ready))
	var wg sync.WaitGroup

	for i, id := range ready {
		wg.Add(1)
		go func(i int, id model.NodeID) {
			defer wg.Done()
			clone := ec.CloneForBranch()
			branchExecuted := map[model.NodeID]bool{}
			var branchOrder []model.NodeID
			more, term := e.dispatchOne(ctx, rs, clone, id, &branchExecuted, &branchOrder)
			results[i] = outcome{next: more, term: term, node: id}
			ec.MergeFrom(clone)
		}(i, id)
	}
	wg.Wait()

	var next []model.NodeID
	for _, r := range results {
		if r.term != nil {
			return nil, r.term
		}
		(*executed)[r.node] = true
		*order = append(*order, r.node)
		next = append(next, r.next...)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next, nil
}

// dispatchOne runs a single node, including loop-pair, break/continue, and
// try/catch handling, and returns the set of nodes control advances to next.
func (e *Engine) dispatchOne(ctx context.Context, rs *runState, ec *runtime.Context, id model.NodeID, executed *map[model.NodeID]bool, order *[]model.NodeID) ([]model.NodeID, *Result) {
	node := rs.wf.Node(id)
	if node == nil {
		return nil, &Result{Kind: TerminalFailed, Error: fmt.Sprintf("node %s not found", id), ErrorNodeID: id}
	}

	var next []model.NodeID
	switch {
	case isLoopStartType(node.Type):
		next = e.dispatchLoopStart(rs, ec, node)
	case isLoopEndType(node.Type):
		// The loop end is left unmarked (dispatchLoopEnd has just cleared it
		// with the loop body) so the next pass can dispatch it again.
		*order = append(*order, id)
		return dispatchLoopEnd(rs, node, executed), nil
	case isBreakType(node.Type):
		next = dispatchBreak(rs, ec, node)
	case isContinueType(node.Type):
		next = dispatchContinue(rs, node)
	case strings.HasSuffix(node.Type, "Subflow"):
		var term *Result
		next, term = e.dispatchSubflow(ctx, rs, ec, node)
		if term != nil {
			return nil, term
		}
	default:
		inst, err := rs.cache.get(e.registry, rs.wf, id)
		if err != nil {
			return nil, &Result{Kind: TerminalFailed, Error: err.Error(), ErrorNodeID: id}
		}
		connValues := gatherConnectionValues(rs.wf, ec, id)
		result := e.executor.Run(ctx, node, inst, connValues, ec)

		switch result.Kind {
		case runtime.ResultFailure:
			if result.FailureKind == runtime.FailureCancelled {
				return nil, &Result{Kind: TerminalCancelled, ExecutedNodes: *order}
			}
			if route, ok := rs.tryCatch[id]; ok {
				ec.AppendError(runtime.ErrorEntry{NodeID: id, Message: result.FailureMessage, Kind: string(result.FailureKind)})
				(*executed)[id] = true
				*order = append(*order, id)
				return e.dispatchOne(ctx, rs, ec, route.handlerNode, executed, order)
			}
			return nil, &Result{Kind: TerminalFailed, Error: result.FailureMessage, ErrorNodeID: id}
		case runtime.ResultSkipped:
			(*executed)[id] = true
			*order = append(*order, id)
			return nil, nil
		default:
			for _, port := range result.NextPorts {
				for _, c := range rs.wf.Successors(id, port) {
					next = append(next, c.TargetNode)
				}
			}
		}
	}

	(*executed)[id] = true
	*order = append(*order, id)
	return next, nil
}

func gatherConnectionValues(wf *model.Workflow, ec *runtime.Context, target model.NodeID) map[string]interface{} {
	values := make(map[string]interface{})
	for _, c := range wf.Predecessors(target, "") {
		if v, ok := ec.NodeOutput(c.SourceNode, c.SourcePort); ok {
			values[c.TargetPort] = v
		}
	}
	return values
}

func isLoopStartType(t string) bool { return strings.HasSuffix(t, "LoopStart") }
func isLoopEndType(t string) bool   { return strings.HasSuffix(t, "LoopEnd") }
func isBreakType(t string) bool     { return strings.HasSuffix(t, "Break") }
func isContinueType(t string) bool  { return strings.HasSuffix(t, "Continue") }
