package engine

import (
	"sort"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// Loop-pair handling is grounded on original_source/nodes/control_flow/
// loops.py: a for-loop walks a resolved collection (list, or dict iterated
// by sorted keys) binding an item/index/key variable each pass; a
// while-loop re-evaluates a boolean condition expression each pass. Both
// keep their cursor in the engine-owned loop state store (runtime.Context.
// Loops()) rather than in ordinary variables, per the redesign note in §9.

const (
	defaultItemVar      = "item"
	defaultIndexVar     = "index"
	defaultKeyVar       = "key"
	defaultIterationVar = "iteration"
)

// dispatchLoopStart advances (or initializes) a loop and returns either the
// body's entry nodes or the loop's "completed" successors.
func (e *Engine) dispatchLoopStart(rs *runState, ec *runtime.Context, node *model.Node) []model.NodeID {
	isWhile := false
	if kind, ok := node.Config["loop_kind"].(string); ok && kind == "while" {
		isWhile = true
	} else if _, hasCollection := node.Config["collection"]; !hasCollection {
		isWhile = true
	}

	if isWhile {
		return e.dispatchWhileLoopStart(ec, rs, node)
	}
	return e.dispatchForLoopStart(ec, rs, node)
}

func (e *Engine) dispatchForLoopStart(ec *runtime.Context, rs *runState, node *model.Node) []model.NodeID {
	st, isNew := ec.Loops().GetOrInit(node.ID)
	if isNew {
		items, keys := resolveCollection(e.resolver, node.Config["collection"], ec.Variables())
		st.Items = items
		st.Keys = keys
		st.Index = 0
	}

	if st.BreakRequested || st.Index >= len(st.Items) {
		ec.Loops().Delete(node.ID)
		return completedSuccessors(rs, node.ID)
	}

	itemVar := stringOr(node.Config["item_var"], defaultItemVar)
	indexVar := stringOr(node.Config["index_var"], defaultIndexVar)
	keyVar := stringOr(node.Config["key_var"], defaultKeyVar)

	ec.SetVariable(itemVar, st.Items[st.Index])
	ec.SetVariable(indexVar, st.Index)
	if st.Keys != nil {
		ec.SetVariable(keyVar, st.Keys[st.Index])
	}
	st.Index++

	return bodySuccessors(rs, node.ID)
}

func (e *Engine) dispatchWhileLoopStart(ec *runtime.Context, rs *runState, node *model.Node) []model.NodeID {
	st, _ := ec.Loops().GetOrInit(node.ID)

	maxIterations := 0
	if m, ok := node.Config["max_iterations"].(float64); ok {
		maxIterations = int(m)
	}

	conditionExpr, _ := node.Config["condition"].(string)
	cond, err := expression.Evaluate(conditionExpr, ec.Variables())
	conditionTrue := err == nil && isTruthyValue(cond)

	if st.BreakRequested || !conditionTrue || (maxIterations > 0 && st.Iteration >= maxIterations) {
		ec.Loops().Delete(node.ID)
		return completedSuccessors(rs, node.ID)
	}

	iterationVar := stringOr(node.Config["iteration_var"], defaultIterationVar)
	ec.SetVariable(iterationVar, st.Iteration)
	st.Iteration++

	return bodySuccessors(rs, node.ID)
}

// dispatchLoopEnd always re-enters the loop's paired start, which decides
// whether another iteration runs or the loop is done. Re-entry requires
// un-marking the loop start and everything in its body as executed, since
// Run's dispatch queue otherwise treats an already-executed node as done
// and drops it instead of running the next iteration.
func dispatchLoopEnd(rs *runState, node *model.Node, executed *map[model.NodeID]bool) []model.NodeID {
	startID, _ := node.Config["paired_start_id"].(string)
	start := model.NodeID(startID)

	for id := range rs.loopBody[start] {
		delete(*executed, id)
	}
	delete(*executed, start)

	return []model.NodeID{start}
}

// dispatchBreak marks the loop's state broken and jumps straight past the
// loop, skipping any remaining body nodes and the paired end.
func dispatchBreak(rs *runState, ec *runtime.Context, node *model.Node) []model.NodeID {
	startID, _ := node.Config["paired_loop_start_id"].(string)
	ec.Loops().RequestBreak(model.NodeID(startID))
	return completedSuccessors(rs, model.NodeID(startID))
}

// dispatchContinue skips the remainder of the loop body by jumping directly
// to the paired loop end, which re-enters the start for the next pass.
func dispatchContinue(rs *runState, node *model.Node) []model.NodeID {
	startID, _ := node.Config["paired_loop_start_id"].(string)
	if endID, ok := rs.loopEndOf[model.NodeID(startID)]; ok {
		return []model.NodeID{endID}
	}
	return nil
}

// buildLoopBodies walks forward from each loop start's "body" port to its
// paired loop end, collecting every node in between (plus the loop end
// itself). The engine clears the executed flags of this set each time the
// loop end re-enters the start, so the body actually re-runs on every
// iteration instead of being dropped as already-dispatched.
func buildLoopBodies(wf *model.Workflow, loopEndOf map[model.NodeID]model.NodeID) map[model.NodeID]map[model.NodeID]bool {
	bodies := make(map[model.NodeID]map[model.NodeID]bool, len(loopEndOf))
	for start, end := range loopEndOf {
		body := map[model.NodeID]bool{end: true}
		queue := []model.NodeID{}
		for _, c := range wf.Successors(start, "body") {
			queue = append(queue, c.TargetNode)
		}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if body[id] {
				continue
			}
			body[id] = true
			if id == end {
				continue
			}
			for _, c := range wf.Connections() {
				if c.SourceNode == id {
					queue = append(queue, c.TargetNode)
				}
			}
		}
		bodies[start] = body
	}
	return bodies
}

func bodySuccessors(rs *runState, start model.NodeID) []model.NodeID {
	var out []model.NodeID
	for _, c := range rs.wf.Successors(start, "body") {
		out = append(out, c.TargetNode)
	}
	return out
}

func completedSuccessors(rs *runState, start model.NodeID) []model.NodeID {
	var out []model.NodeID
	for _, c := range rs.wf.Successors(start, "completed") {
		out = append(out, c.TargetNode)
	}
	return out
}

func resolveCollection(resolver *expression.Resolver, raw interface{}, variables map[string]interface{}) (items []interface{}, keys []interface{}) {
	resolved := resolver.Resolve(raw, variables)
	switch v := resolved.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		ks := make([]string, 0, len(v))
		for k := range v {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		items = make([]interface{}, len(ks))
		keys = make([]interface{}, len(ks))
		for i, k := range ks {
			items[i] = v[k]
			keys[i] = k
		}
		return items, keys
	default:
		return nil, nil
	}
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func isTruthyValue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}
