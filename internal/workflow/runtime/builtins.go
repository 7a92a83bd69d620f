package runtime

import (
	"context"
	"fmt"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// RegisterBuiltins installs the fundamental control-flow node types that
// every workflow can rely on regardless of which domain node packages (http,
// database, messaging, ...) a deployment wires in: Start, End, Set and If.
// Grounded on the shape of the teacher's internal/node/runtime/nodes trigger
// and logic nodes, reimplemented against this package's Constructor/Instance
// contract instead of the teacher's node.Node interface, per the redesign
// note in §9 collapsing node-type dispatch to one small interface.
func RegisterBuiltins(reg *Registry) error {
	for _, reg2 := range []struct {
		name string
		ctor Constructor
	}{
		{"start", newStartNode},
		{"end", newEndNode},
		{"set", newSetNode},
		{"if", newIfNode},
	} {
		if err := reg.Register(reg2.name, reg2.ctor); err != nil {
			return fmt.Errorf("register builtin %q: %w", reg2.name, err)
		}
	}
	return nil
}

// startNode is the trigger node every workflow graph begins from: it takes
// no input ports and fires its single "out" execution port immediately.
type startNode struct {
	id model.NodeID
}

func newStartNode(id model.NodeID, config map[string]interface{}) (Instance, error) {
	return &startNode{id: id}, nil
}

func (n *startNode) Type() string                 { return "start" }
func (n *startNode) InputPorts() []model.PortDef  { return nil }
func (n *startNode) OutputPorts() []model.PortDef { return nil }
func (n *startNode) ExecPorts() []string          { return []string{"out"} }
func (n *startNode) IsTrigger() bool              { return true }

func (n *startNode) Execute(ctx context.Context, in *Input) *NodeResult {
	return &NodeResult{Kind: ResultSuccess, NextPorts: []string{"out"}}
}

// endNode is a terminal node: it has no execution out-port, so the engine's
// dispatch naturally stops walking past it.
type endNode struct {
	id model.NodeID
}

func newEndNode(id model.NodeID, config map[string]interface{}) (Instance, error) {
	return &endNode{id: id}, nil
}

func (n *endNode) Type() string                 { return "end" }
func (n *endNode) InputPorts() []model.PortDef  { return nil }
func (n *endNode) OutputPorts() []model.PortDef { return nil }
func (n *endNode) ExecPorts() []string          { return nil }
func (n *endNode) IsTrigger() bool              { return false }

func (n *endNode) Execute(ctx context.Context, in *Input) *NodeResult {
	return &NodeResult{Kind: ResultSuccess}
}

// setNode assigns its resolved "values" config onto the run's variable set
// (when the input carries a Context), returns the same map as its
// OutputValues, and continues along "out", mirroring the teacher's SetNode
// (see internal/node/runtime/nodes/set_node.go). The "values" input port
// is how it gets bindInputs (§4.3) to resolve its config against the run's
// current variables before Execute ever sees it.
type setNode struct {
	id model.NodeID
}

func newSetNode(id model.NodeID, config map[string]interface{}) (Instance, error) {
	return &setNode{id: id}, nil
}

func (n *setNode) Type() string { return "set" }
func (n *setNode) InputPorts() []model.PortDef {
	return []model.PortDef{{Name: "values", Type: model.PortDICT, Default: map[string]interface{}{}}}
}
func (n *setNode) OutputPorts() []model.PortDef {
	return []model.PortDef{{Name: "out", Type: model.PortANY}}
}
func (n *setNode) ExecPorts() []string { return []string{"out"} }
func (n *setNode) IsTrigger() bool     { return false }

func (n *setNode) Execute(ctx context.Context, in *Input) *NodeResult {
	values, _ := in.Values["values"].(map[string]interface{})
	if in.Context != nil {
		for name, value := range values {
			in.Context.SetVariable(name, value)
		}
	}
	return &NodeResult{Kind: ResultSuccess, OutputValues: values, NextPorts: []string{"out"}}
}

// ifNode branches on a single boolean config expression, firing "true" or
// "false", the minimal form of the teacher's IfNode
// (internal/node/runtime/nodes/if_node.go) condition evaluation. The
// "condition" input port gets it resolved against variables the same way.
type ifNode struct {
	id model.NodeID
}

func newIfNode(id model.NodeID, config map[string]interface{}) (Instance, error) {
	return &ifNode{id: id}, nil
}

func (n *ifNode) Type() string { return "if" }
func (n *ifNode) InputPorts() []model.PortDef {
	return []model.PortDef{{Name: "condition", Type: model.PortBOOLEAN, Default: false}}
}
func (n *ifNode) OutputPorts() []model.PortDef { return nil }
func (n *ifNode) ExecPorts() []string          { return []string{"true", "false"} }
func (n *ifNode) IsTrigger() bool              { return false }

func (n *ifNode) Execute(ctx context.Context, in *Input) *NodeResult {
	port := "false"
	if truthy(in.Values["condition"]) {
		port = "true"
	}
	return &NodeResult{Kind: ResultSuccess, NextPorts: []string{port}}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
