package model

import (
	"bytes"
	"encoding/json"
)

// Blob is the logical, documented-allow-list JSON shape a workflow
// deserializes from. Fields outside this shape are rejected rather than
// silently ignored, per §4.1's deserialization safety rule.
type Blob struct {
	Metadata    Metadata                 `json:"metadata"`
	Nodes       []blobNode               `json:"nodes"`
	Connections []Connection             `json:"connections"`
	Parameters  map[string]interface{}   `json:"parameters"`
	Inputs      []PortDef                `json:"inputs"`
	Outputs     []PortDef                `json:"outputs"`
}

type blobNode struct {
	ID     NodeID                 `json:"id"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// Load parses and structurally validates a workflow blob, never evaluating
// any free-form code in the process. It returns a *ValidationError instead
// of a partially-built Workflow when any rule in §4.1 fails.
func Load(raw []byte, limits Limits, isKnownType TypeChecker) (*Workflow, error) {
	if len(raw) > limits.MaxStringLen*4 {
		return nil, &ValidationError{Issues: []string{"blob exceeds configured size limit"}}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b Blob
	if err := dec.Decode(&b); err != nil {
		return nil, &ValidationError{Issues: []string{"malformed or disallowed blob field: " + err.Error()}}
	}

	w := &Workflow{
		Metadata:    b.Metadata,
		nodes:       make(map[NodeID]*Node, len(b.Nodes)),
		Parameters:  b.Parameters,
		Inputs:      b.Inputs,
		Outputs:     b.Outputs,
		connections: b.Connections,
	}
	if w.Parameters == nil {
		w.Parameters = make(map[string]interface{})
	}
	for _, n := range b.Nodes {
		if len(n.Config) > 0 {
			for _, v := range n.Config {
				if s, ok := v.(string); ok && len(s) > limits.MaxStringLen {
					return nil, &ValidationError{Issues: []string{"a config string value exceeds the configured length limit"}}
				}
			}
		}
		w.nodes[n.ID] = &Node{ID: n.ID, Type: n.Type, Config: n.Config}
	}

	if issues := Validate(w, limits, isKnownType); len(issues) > 0 {
		strs := make([]string, len(issues))
		for i, iss := range issues {
			strs[i] = string(iss)
		}
		return nil, &ValidationError{Issues: strs}
	}

	return w, nil
}

// Serialize produces the logical blob form, the inverse of Load.
func (w *Workflow) Serialize() ([]byte, error) {
	b := Blob{
		Metadata:    w.Metadata,
		Connections: w.connections,
		Parameters:  w.Parameters,
		Inputs:      w.Inputs,
		Outputs:     w.Outputs,
	}
	for _, id := range w.NodeIDs() {
		n := w.nodes[id]
		b.Nodes = append(b.Nodes, blobNode{ID: n.ID, Type: n.Type, Config: n.Config})
	}
	return json.Marshal(b)
}
