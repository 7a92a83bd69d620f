package engine

import (
	"context"
	"fmt"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// dispatchSubflow runs a Subflow node, per §4.5: the SubflowRunner receives
// only the assembled inputs map, never the caller's context (so the
// subflow's variable writes never reach the caller), declared required
// inputs are validated before it starts, and "promoted" parameters — config
// keys named _promoted_<subflow_input> — are added to those inputs unless a
// connection already supplies the same name.
// Arrives pre-validated (subflows are never transformed from visual JSON
// here, per the Open Question resolution in §9): the reference is just a
// lookup key for whatever the caller's SubflowRunner resolves.
func (e *Engine) dispatchSubflow(ctx context.Context, rs *runState, ec *runtime.Context, node *model.Node) ([]model.NodeID, *Result) {
	if e.subflows == nil {
		return nil, &Result{
			Kind:        TerminalFailed,
			ErrorNodeID: node.ID,
			Error:       fmt.Sprintf("node %s: subflow execution requested but no SubflowRunner configured", node.ID),
		}
	}

	ref, _ := node.Config["subflow_ref"].(string)
	if ref == "" {
		return nil, &Result{Kind: TerminalFailed, ErrorNodeID: node.ID, Error: fmt.Sprintf("node %s: subflow node missing subflow_ref", node.ID)}
	}

	required, _ := node.Config["required_inputs"].([]interface{})
	connValues := gatherConnectionValues(rs.wf, ec, node.ID)

	inputs := make(map[string]interface{}, len(connValues))
	for k, v := range connValues {
		inputs[k] = v
	}
	for key, raw := range node.Config {
		const prefix = "_promoted_"
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			name := key[len(prefix):]
			if _, already := inputs[name]; !already {
				inputs[name] = e.resolver.Resolve(raw, ec.Variables())
			}
		}
	}

	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if v, present := inputs[name]; !present || v == nil {
			return nil, &Result{
				Kind:        TerminalFailed,
				ErrorNodeID: node.ID,
				Error:       fmt.Sprintf("node %s: subflow %s missing required input %q", node.ID, ref, name),
			}
		}
	}

	outputs, err := e.subflows.RunSubflow(ctx, ref, inputs)
	if err != nil {
		return nil, &Result{Kind: TerminalFailed, ErrorNodeID: node.ID, Error: fmt.Sprintf("subflow %s failed: %v", ref, err)}
	}

	ec.SetNodeOutputs(node.ID, outputs)

	var next []model.NodeID
	for _, c := range rs.wf.Successors(node.ID, "exec_out") {
		next = append(next, c.TargetNode)
	}
	return next, nil
}
