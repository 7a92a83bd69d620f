package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// DefaultNodeTimeout is the per-node timeout of §4.4/§5. The executor applies
// it to every node; no per-node timeout is read from node config.
const DefaultNodeTimeout = 120 * time.Second

// DebugHook lets an external debugger block execution at a breakpointed
// node before it runs, and resume it on command (§4.4 point 7).
type DebugHook interface {
	// AwaitStep blocks until the operator issues a step/continue command
	// for this node, or ctx is cancelled.
	AwaitStep(ctx context.Context, node model.NodeID) error
}

// Executor implements component D: it binds a node's inputs, invokes it
// under a timeout, and emits the NodeStarted/NodeCompleted events.
type Executor struct {
	registry *Registry
	resolver *expression.Resolver
	emitter  *Emitter
	log      logger.Logger
	debug    DebugHook
	debugOn  bool
}

// NewExecutor builds an Executor. emitter/log/debug may be nil.
func NewExecutor(registry *Registry, resolver *expression.Resolver, emitter *Emitter, log logger.Logger) *Executor {
	return &Executor{registry: registry, resolver: resolver, emitter: emitter, log: log}
}

// SetDebugMode toggles breakpoint honoring and installs the hook used to
// await step/continue commands.
func (e *Executor) SetDebugMode(on bool, hook DebugHook) {
	e.debugOn = on
	e.debug = hook
}

// breakpointed is read from a node's config under this well-known key,
// matching how the source flags a node for the debugger.
const breakpointConfigKey = "_breakpoint"

// bindInputs implements §4.3's port input binding: connection value (already
// stored by the engine into ctx.outputs_by_node and passed in via
// connectionValues) takes priority, then a resolved config value, then the
// port's declared default/null.
func bindInputs(node *model.Node, inputs []model.PortDef, connectionValues map[string]interface{}, resolver *expression.Resolver, variables map[string]interface{}) (map[string]interface{}, *NodeResult) {
	values := make(map[string]interface{}, len(inputs))
	for _, port := range inputs {
		if v, ok := connectionValues[port.Name]; ok {
			values[port.Name] = v
			continue
		}
		if cfgVal, ok := node.Config[port.Name]; ok {
			values[port.Name] = resolver.Resolve(cfgVal, variables)
			continue
		}
		values[port.Name] = port.Default

		if port.Required && values[port.Name] == nil {
			return nil, &NodeResult{
				Kind:           ResultFailure,
				FailureKind:    FailureInput,
				FailureMessage: fmt.Sprintf("required input %q missing", port.Name),
			}
		}
	}
	return values, nil
}

// Run executes one node to completion (or timeout/cancellation), per the
// seven responsibilities enumerated in §4.4.
func (e *Executor) Run(ctx context.Context, node *model.Node, inst Instance, connectionValues map[string]interface{}, ec *Context) *NodeResult {
	ec.WaitIfPaused()
	if ec.Cancelled() {
		return &NodeResult{Kind: ResultFailure, FailureKind: FailureCancelled, FailureMessage: "run cancelled"}
	}

	values, failResult := bindInputs(node, inst.InputPorts(), connectionValues, e.resolver, ec.Variables())
	if failResult != nil {
		failResult.FailureMessage = fmt.Sprintf("node %s: %s", node.ID, failResult.FailureMessage)
		return failResult
	}

	if e.debugOn && e.debug != nil {
		if bp, _ := node.Config[breakpointConfigKey].(bool); bp {
			if err := e.debug.AwaitStep(ctx, node.ID); err != nil {
				return &NodeResult{Kind: ResultFailure, FailureKind: FailureCancelled, FailureMessage: err.Error()}
			}
		}
	}

	e.emit(Event{Type: EventNodeStarted, NodeID: node.ID, NodeType: node.Type})

	timeout := DefaultNodeTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *NodeResult
		panicV interface{}
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicV: r}
			}
		}()
		input := &Input{NodeID: node.ID, Config: node.Config, Values: values, Context: ec}
		done <- outcome{result: inst.Execute(runCtx, input)}
	}()

	select {
	case <-runCtx.Done():
		if ec.Cancelled() {
			return &NodeResult{Kind: ResultFailure, FailureKind: FailureCancelled, FailureMessage: "run cancelled"}
		}
		return &NodeResult{Kind: ResultFailure, FailureKind: FailureTimeout, FailureMessage: fmt.Sprintf("node %s exceeded timeout %s", node.ID, timeout)}
	case out := <-done:
		if out.panicV != nil {
			msg := fmt.Sprintf("node %s panicked: %v", node.ID, out.panicV)
			if e.log != nil {
				e.log.Error(msg)
			}
			return &NodeResult{Kind: ResultFailure, FailureKind: FailureRuntime, FailureMessage: msg}
		}
		result := out.result
		if ec.Cancelled() {
			return &NodeResult{Kind: ResultFailure, FailureKind: FailureCancelled, FailureMessage: "run cancelled"}
		}
		if result.Kind == ResultSuccess {
			ec.SetNodeOutputs(node.ID, result.OutputValues)
			e.emit(Event{Type: EventNodeCompleted, NodeID: node.ID, NodeType: node.Type})
		}
		return result
	}
}

func (e *Executor) emit(ev Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
