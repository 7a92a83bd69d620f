package model

import (
	"fmt"
	"sort"
	"strings"
)

// Issue is one structural problem found while validating a workflow.
type Issue string

// TypeChecker reports whether a node type name is known to the node
// registry (component of §6). Kept as a function rather than a direct
// dependency on the runtime package to avoid an import cycle: the durable
// runtime passes runtime.Registry.Known to model.Load, which hands it to
// Validate.
type TypeChecker func(typeName string) bool

func isLoopStart(typeName string) bool { return strings.HasSuffix(typeName, "LoopStart") }
func isLoopEnd(typeName string) bool   { return strings.HasSuffix(typeName, "LoopEnd") }
func isBreak(typeName string) bool     { return strings.HasSuffix(typeName, "Break") }
func isContinue(typeName string) bool  { return strings.HasSuffix(typeName, "Continue") }

// Validate checks every rule in §4.1. It never mutates w. isKnownType may be
// nil to skip the "unknown node type" check (e.g. in unit tests that do not
// stand up a registry).
func Validate(w *Workflow, limits Limits, isKnownType TypeChecker) []Issue {
	var issues []Issue

	if len(w.nodes) > limits.MaxNodes {
		issues = append(issues, Issue(fmt.Sprintf("node count %d exceeds limit %d", len(w.nodes), limits.MaxNodes)))
	}
	if len(w.connections) > limits.MaxConnections {
		issues = append(issues, Issue(fmt.Sprintf("connection count %d exceeds limit %d", len(w.connections), limits.MaxConnections)))
	}

	portTypes := make(map[NodeID]map[string]PortType) // node -> port -> type, populated lazily as config declares, best-effort
	_ = portTypes

	if isKnownType != nil {
		for _, id := range w.NodeIDs() {
			n := w.nodes[id]
			if !isKnownType(n.Type) {
				issues = append(issues, Issue(fmt.Sprintf("node %s has unknown type %q", id, n.Type)))
			}
		}
	}

	inboundDataCount := make(map[NodeID]map[string]int)
	for _, c := range w.connections {
		if _, ok := w.nodes[c.SourceNode]; !ok {
			issues = append(issues, Issue(fmt.Sprintf("connection references missing source node %s", c.SourceNode)))
			continue
		}
		if _, ok := w.nodes[c.TargetNode]; !ok {
			issues = append(issues, Issue(fmt.Sprintf("connection references missing target node %s", c.TargetNode)))
			continue
		}
		if inboundDataCount[c.TargetNode] == nil {
			inboundDataCount[c.TargetNode] = make(map[string]int)
		}
		inboundDataCount[c.TargetNode][c.TargetPort]++
	}

	// At most one incoming data connection per input port. Execution ports
	// (by convention carrying the name "exec_in" or declared separately by
	// the node type) may accept many; since this structural pass has no
	// access to per-type port declarations, it is conservative and flags
	// only ports that are never execution-named.
	for node, ports := range inboundDataCount {
		for port, count := range ports {
			if count > 1 && !strings.HasPrefix(port, "exec") {
				issues = append(issues, Issue(fmt.Sprintf("input port %s.%s has %d incoming data connections, at most 1 allowed", node, port, count)))
			}
		}
	}

	issues = append(issues, validateLoopPairing(w)...)
	issues = append(issues, validateBreakContinuePairing(w)...)
	issues = append(issues, validateAcyclicExceptLoops(w)...)

	return issues
}

func validateLoopPairing(w *Workflow) []Issue {
	var issues []Issue
	for _, id := range w.NodeIDs() {
		n := w.nodes[id]
		if !isLoopEnd(n.Type) {
			continue
		}
		startID, _ := n.Config["paired_start_id"].(string)
		if startID == "" {
			issues = append(issues, Issue(fmt.Sprintf("loop end %s has no paired_start_id", id)))
			continue
		}
		start, ok := w.nodes[NodeID(startID)]
		if !ok || !isLoopStart(start.Type) {
			issues = append(issues, Issue(fmt.Sprintf("loop end %s references non-existent or non-LoopStart paired node %s", id, startID)))
		}
	}
	return issues
}

func validateBreakContinuePairing(w *Workflow) []Issue {
	var issues []Issue
	for _, id := range w.NodeIDs() {
		n := w.nodes[id]
		if !isBreak(n.Type) && !isContinue(n.Type) {
			continue
		}
		startID, _ := n.Config["paired_loop_start_id"].(string)
		if startID == "" {
			issues = append(issues, Issue(fmt.Sprintf("%s %s has no paired_loop_start_id", n.Type, id)))
			continue
		}
		start, ok := w.nodes[NodeID(startID)]
		if !ok || !isLoopStart(start.Type) {
			issues = append(issues, Issue(fmt.Sprintf("%s %s references non-existent or non-LoopStart paired node %s", n.Type, id, startID)))
		}
	}
	return issues
}

// validateAcyclicExceptLoops detects cycles in the EXECUTION-edge graph,
// permitting a cycle only when every back-edge runs from a *LoopEnd to its
// own paired *LoopStart (the only sanctioned loop-back per §3.1/§4.5).
func validateAcyclicExceptLoops(w *Workflow) []Issue {
	sanctioned := make(map[Connection]bool)
	for _, id := range w.NodeIDs() {
		n := w.nodes[id]
		if !isLoopEnd(n.Type) {
			continue
		}
		startID, _ := n.Config["paired_start_id"].(string)
		for _, c := range w.connections {
			if c.SourceNode == id && c.TargetNode == NodeID(startID) {
				sanctioned[c] = true
			}
		}
	}

	adj := make(map[NodeID][]NodeID)
	for _, c := range w.connections {
		if sanctioned[c] {
			continue
		}
		adj[c.SourceNode] = append(adj[c.SourceNode], c.TargetNode)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int)
	var cyclic bool

	var ids []NodeID
	for id := range w.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visit func(NodeID)
	visit = func(id NodeID) {
		if cyclic {
			return
		}
		color[id] = gray
		for _, next := range adj[id] {
			if color[next] == gray {
				cyclic = true
				return
			}
			if color[next] == white {
				visit(next)
			}
		}
		color[id] = black
	}
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}

	if cyclic {
		return []Issue{Issue("workflow graph contains a cycle not sanctioned by a loop pair")}
	}
	return nil
}
