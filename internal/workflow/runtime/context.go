// Package runtime implements the execution context (component B) and the
// node executor (component D) that the engine (component E) drives.
package runtime

import (
	"sync"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// ErrorEntry records one node-level failure surfaced during a run.
type ErrorEntry struct {
	NodeID    model.NodeID
	Message   string
	Kind      string
	Timestamp time.Time
}

// Context is the per-run scoped state object described in §3.2. It is safe
// for concurrent use by parallel branch tasks.
type Context struct {
	mu sync.RWMutex

	variables     map[string]interface{}
	outputsByNode map[model.NodeID]map[string]interface{}
	errors        []ErrorEntry
	resources     map[string]interface{}

	pauseCond   *sync.Cond
	paused      bool
	cancelled   bool

	loops *loopStateStore
}

// NewContext builds a fresh execution context. initialVariables is copied,
// never aliased, so callers retain ownership of the map they pass in.
func NewContext(initialVariables map[string]interface{}) *Context {
	c := &Context{
		variables:     make(map[string]interface{}, len(initialVariables)),
		outputsByNode: make(map[model.NodeID]map[string]interface{}),
		resources:     make(map[string]interface{}),
		loops:         newLoopStateStore(),
	}
	c.pauseCond = sync.NewCond(&c.mu)
	for k, v := range initialVariables {
		c.variables[k] = v
	}
	return c
}

// SetVariable is total: it always succeeds.
func (c *Context) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// GetVariable is total: it never fails, returning def when absent.
func (c *Context) GetVariable(name string, def interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.variables[name]; ok {
		return v
	}
	return def
}

// Variables returns a shallow copy of the current variable set, suitable for
// a checkpoint snapshot or the engine's Completed.variables_snapshot.
func (c *Context) Variables() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// SetNodeOutputs records the output_values produced by a completed node.
// outputs_by_node is single-writer-per-node: only the task that completed
// that node ever calls this for that node ID.
func (c *Context) SetNodeOutputs(node model.NodeID, outputs map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputsByNode[node] = outputs
}

// NodeOutput reads a single port value produced by a previously completed
// node.
func (c *Context) NodeOutput(node model.NodeID, port string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.outputsByNode[node]
	if !ok {
		return nil, false
	}
	v, ok := m[port]
	return v, ok
}

// HasCompleted reports whether a node already has recorded outputs (used by
// the durable runtime to skip already-executed terminal nodes on resume).
func (c *Context) HasCompleted(node model.NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.outputsByNode[node]
	return ok
}

// AllOutputs returns a deep-ish copy of outputs_by_node, for checkpoint
// serialization by the durable runtime.
func (c *Context) AllOutputs() map[model.NodeID]map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.NodeID]map[string]interface{}, len(c.outputsByNode))
	for node, values := range c.outputsByNode {
		out[node] = values
	}
	return out
}

// AppendError appends to the ordered, append-only error sequence.
func (c *Context) AppendError(e ErrorEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, e)
}

// Errors returns the recorded error sequence.
func (c *Context) Errors() []ErrorEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ErrorEntry, len(c.errors))
	copy(out, c.errors)
	return out
}

// SetResource installs an externally managed handle (browser, HTTP client,
// ...) under a named key. The core never creates or destroys these.
func (c *Context) SetResource(name string, handle interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[name] = handle
}

// Resource retrieves a previously installed resource handle.
func (c *Context) Resource(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.resources[name]
	return v, ok
}

// Loops exposes the engine-owned, NodeId-keyed loop state map. Per §9 this
// is intentionally not part of variables.
func (c *Context) Loops() *loopStateStore { return c.loops }

// CloneForBranch returns a new context that shares resources (by reference)
// and copies variables; writes to variables in the clone never propagate
// back. Used for parallel branches and subflow scopes. Idempotent and
// O(|variables|).
func (c *Context) CloneForBranch() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Context{
		variables:     make(map[string]interface{}, len(c.variables)),
		outputsByNode: make(map[model.NodeID]map[string]interface{}, len(c.outputsByNode)),
		resources:     c.resources, // shared by reference, never duplicated
		loops:         c.loops,     // loop state is engine-owned and shared across clones of the same run
	}
	clone.pauseCond = sync.NewCond(&clone.mu)
	for k, v := range c.variables {
		clone.variables[k] = v
	}
	for k, v := range c.outputsByNode {
		clone.outputsByNode[k] = v
	}
	clone.paused = c.paused
	return clone
}

// MergeFrom folds a completed branch clone's produced node outputs back into
// the parent context. Variable writes in the clone are discarded, matching
// §4.5's parallel-merge rule and invariant 5 (associative/commutative over
// disjoint-key output maps).
func (c *Context) MergeFrom(clone *Context) {
	clone.mu.RLock()
	produced := make(map[model.NodeID]map[string]interface{}, len(clone.outputsByNode))
	for k, v := range clone.outputsByNode {
		produced[k] = v
	}
	clone.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range produced {
		c.outputsByNode[k] = v
	}
}

// SetPaused sets or clears the cooperative pause. While paused, callers of
// WaitIfPaused block until SetPaused(false) or Cancel. A new Context starts
// unpaused.
func (c *Context) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
	if !paused {
		c.pauseCond.Broadcast()
	}
}

// WaitIfPaused blocks until the pause signal is cleared or cancellation is
// raised. Safe to call from any suspension point.
func (c *Context) WaitIfPaused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && !c.cancelled {
		c.pauseCond.Wait()
	}
}

// Cancel raises the one-shot cooperative cancel signal.
func (c *Context) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.pauseCond.Broadcast()
}

// Cancelled reports whether cancellation has been requested.
func (c *Context) Cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}
