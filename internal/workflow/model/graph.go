package model

import "sort"

// Successors returns the (node, port) pairs reachable from the given node's
// output, optionally filtered to a single source port name ("" means any
// port).
func (w *Workflow) Successors(node NodeID, sourcePort string) []Connection {
	var out []Connection
	for _, c := range w.connections {
		if c.SourceNode != node {
			continue
		}
		if sourcePort != "" && c.SourcePort != sourcePort {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetNode != out[j].TargetNode {
			return out[i].TargetNode < out[j].TargetNode
		}
		return out[i].TargetPort < out[j].TargetPort
	})
	return out
}

// Predecessors returns the connections terminating on the given node,
// optionally filtered to a single target port.
func (w *Workflow) Predecessors(node NodeID, targetPort string) []Connection {
	var out []Connection
	for _, c := range w.connections {
		if c.TargetNode != node {
			continue
		}
		if targetPort != "" && c.TargetPort != targetPort {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceNode != out[j].SourceNode {
			return out[i].SourceNode < out[j].SourceNode
		}
		return out[i].SourcePort < out[j].SourcePort
	})
	return out
}

// FindStartNode returns the first node, in NodeId order, whose type is
// exactly "Start" or "StartNode"; other type names (such as the builtin
// "start") are not matched.
func (w *Workflow) FindStartNode() (NodeID, bool) {
	for _, id := range w.NodeIDs() {
		if w.nodes[id].Type == "Start" || w.nodes[id].Type == "StartNode" {
			return id, true
		}
	}
	return "", false
}

// FindEntryNodes returns every node with no incoming execution edge, in
// stable NodeId order (tie-break, since §4.5 leaves ordering otherwise
// unspecified).
func (w *Workflow) FindEntryNodes() []NodeID {
	hasIncomingExec := make(map[NodeID]bool)
	for _, c := range w.connections {
		if c.TargetPort == "exec_in" || c.SourcePort == "exec_out" || c.SourcePort == "body" || c.SourcePort == "completed" || c.SourcePort == "true" || c.SourcePort == "false" {
			hasIncomingExec[c.TargetNode] = true
		}
	}
	var entries []NodeID
	for _, id := range w.NodeIDs() {
		if !hasIncomingExec[id] {
			entries = append(entries, id)
		}
	}
	return entries
}

// TopologicalOrderExcludingLoopBodies returns a topological ordering of the
// execution graph with loop-back edges (LoopEnd -> its paired LoopStart)
// removed, so loop bodies do not make the ordering undefined. The engine
// does not call it: its parallel check (dataIndependent) looks only at
// direct connections, and loop re-entry is driven by LoopEnd dispatch.
func (w *Workflow) TopologicalOrderExcludingLoopBodies() []NodeID {
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

	indegree := make(map[NodeID]int)
	adj := make(map[NodeID][]NodeID)
	for _, id := range w.NodeIDs() {
		indegree[id] = 0
	}
	for _, c := range w.connections {
		if sanctioned[c] {
			continue
		}
		adj[c.SourceNode] = append(adj[c.SourceNode], c.TargetNode)
		indegree[c.TargetNode]++
	}

	var queue []NodeID
	for _, id := range w.NodeIDs() {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []NodeID
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		next := append([]NodeID(nil), adj[n]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, m := range next {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}
	return order
}
