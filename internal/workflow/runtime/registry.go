package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// ResultKind tags a NodeResult variant, per §4.4.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
	ResultSkipped ResultKind = "skipped"
)

// FailureKind mirrors apperrors.Kind for the subset relevant to node
// execution, kept local to avoid a runtime -> apperrors -> runtime import
// cycle risk as the taxonomy grows; the durable runtime and dispatcher both
// translate this into apperrors.Kind at their boundary.
type FailureKind string

const (
	FailureValidation FailureKind = "Validation"
	FailureInput      FailureKind = "Input"
	FailureTimeout    FailureKind = "Timeout"
	FailureRuntime    FailureKind = "Runtime"
	FailureCancelled  FailureKind = "Cancelled"
	FailureExternal   FailureKind = "External"
)

// NodeResult is the tagged variant returned by a node instance's Execute.
type NodeResult struct {
	Kind ResultKind

	// Success fields.
	OutputValues map[string]interface{}
	NextPorts    []string
	LoopBackTo   model.NodeID

	// Failure fields.
	FailureMessage string
	FailureKind    FailureKind

	// Skipped fields.
	SkipReason string
}

// Input is what the executor hands to a node instance: already-bound port
// values (per §4.3's port input binding), the raw config, and the run's
// context.
type Input struct {
	NodeID  model.NodeID
	Config  map[string]interface{}
	Values  map[string]interface{}
	Context *Context
}

// Instance is the capability set a node implementation must provide,
// replacing the deep-inheritance dispatch of the source with an explicit,
// small interface per the redesign note in §9.
type Instance interface {
	Type() string
	InputPorts() []model.PortDef
	OutputPorts() []model.PortDef
	ExecPorts() []string
	IsTrigger() bool
	Execute(ctx context.Context, in *Input) *NodeResult
}

// Constructor builds a fresh node instance for a given node ID/config.
type Constructor func(id model.NodeID, config map[string]interface{}) (Instance, error)

// Registry is the process-wide node-type registry of §6: a mapping
// node_type_name -> constructor. Unknown types are rejected at workflow
// load (see model.Validate, wired to this registry by durable.Runtime.Run).
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register installs a constructor for a node type name. Re-registering the
// same type name is an error, matching the teacher's registry discipline.
func (r *Registry) Register(typeName string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[typeName]; exists {
		return fmt.Errorf("node type %q already registered", typeName)
	}
	r.constructors[typeName] = ctor
	return nil
}

// New instantiates a node instance of the given type. Returns an error for
// unknown types, which the engine reports as a failed result for that node.
func (r *Registry) New(typeName string, id model.NodeID, config map[string]interface{}) (Instance, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", typeName)
	}
	return ctor(id, config)
}

// Known reports whether a type name has a registered constructor, used by
// workflow deserialization to reject unknown node types up front.
func (r *Registry) Known(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[typeName]
	return ok
}

// Global is the default process-wide registry, populated by init()-time
// Register calls in node implementation packages, matching the "compile-time
// registration" redesign note in §9.
var Global = NewRegistry()
