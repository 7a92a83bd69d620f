// Package model implements the workflow graph: typed nodes, ports and
// connections (component A). It is adapted from the teacher's DDD-aggregate
// style in the original workflow domain model, generalized to the closed
// port-type set and loop-aware cycle validation the specification requires.
package model

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PortType is the closed set of data types a port may carry.
type PortType string

const (
	PortSTRING    PortType = "STRING"
	PortINTEGER   PortType = "INTEGER"
	PortFLOAT     PortType = "FLOAT"
	PortBOOLEAN   PortType = "BOOLEAN"
	PortLIST      PortType = "LIST"
	PortDICT      PortType = "DICT"
	PortOBJECT    PortType = "OBJECT"
	PortANY       PortType = "ANY"
	PortEXECUTION PortType = "EXECUTION"
	PortPAGE      PortType = "PAGE"
	PortELEMENT   PortType = "ELEMENT"
	PortBROWSER   PortType = "BROWSER"
)

var validPortTypes = map[PortType]bool{
	PortSTRING: true, PortINTEGER: true, PortFLOAT: true, PortBOOLEAN: true,
	PortLIST: true, PortDICT: true, PortOBJECT: true, PortANY: true,
	PortEXECUTION: true, PortPAGE: true, PortELEMENT: true, PortBROWSER: true,
}

// Compatible reports whether a value produced on an output port of type src
// may flow into an input port of type dst.
func (src PortType) Compatible(dst PortType) bool {
	if src == PortANY || dst == PortANY {
		return true
	}
	return src == dst
}

// PortDef declares a named, typed port on a node type.
type PortDef struct {
	Name     string
	Type     PortType
	Required bool
	Default  interface{}
}

// NodeID identifies a node within a workflow graph.
type NodeID string

// Node is a unit of work: a type name selecting an implementation from the
// node registry (§6), plus its configuration map.
type Node struct {
	ID     NodeID
	Type   string
	Config map[string]interface{}
}

// Connection is a directed edge from an output port to an input port.
type Connection struct {
	SourceNode NodeID
	SourcePort string
	TargetNode NodeID
	TargetPort string
}

// Metadata carries descriptive, non-structural information about a workflow.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Version     int
}

// Workflow is a validated graph of nodes and connections.
type Workflow struct {
	Metadata    Metadata
	nodes       map[NodeID]*Node
	connections []Connection
	Parameters  map[string]interface{}
	Inputs      []PortDef
	Outputs     []PortDef
}

// Limits bound the size of a deserialized workflow blob, per §4.1
// "deserialization safety".
type Limits struct {
	MaxNodes       int
	MaxConnections int
	MaxStringLen   int
}

// DefaultLimits mirror conservative production bounds.
var DefaultLimits = Limits{MaxNodes: 2000, MaxConnections: 8000, MaxStringLen: 1 << 20}

// ValidationError reports one or more structural problems with a workflow
// blob. It is always returned instead of partially constructing a Workflow.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid workflow"
	}
	return fmt.Sprintf("invalid workflow: %s (and %d more)", e.Issues[0], len(e.Issues)-1)
}

// New constructs an empty workflow shell ready to receive nodes/connections.
func New(name, description string) *Workflow {
	return &Workflow{
		Metadata:   Metadata{ID: uuid.NewString(), Name: name, Description: description, Version: 1},
		nodes:      make(map[NodeID]*Node),
		Parameters: make(map[string]interface{}),
	}
}

// AddNode inserts a node, rejecting duplicate IDs.
func (w *Workflow) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, exists := w.nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	w.nodes[n.ID] = n
	return nil
}

// AddConnection inserts a connection, rejecting duplicates; structural
// validity is checked by Validate, not here, so graphs can be built
// incrementally.
func (w *Workflow) AddConnection(c Connection) error {
	for _, existing := range w.connections {
		if existing == c {
			return fmt.Errorf("duplicate connection %+v", c)
		}
	}
	w.connections = append(w.connections, c)
	return nil
}

// Node returns the node with the given ID, or nil.
func (w *Workflow) Node(id NodeID) *Node { return w.nodes[id] }

// Nodes returns all nodes, ordering undefined for callers.
func (w *Workflow) Nodes() map[NodeID]*Node { return w.nodes }

// Connections returns all connections.
func (w *Workflow) Connections() []Connection { return w.connections }

// NodeIDs returns all node IDs in stable (sorted) order.
func (w *Workflow) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
