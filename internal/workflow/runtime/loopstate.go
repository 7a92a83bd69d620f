package runtime

import (
	"sync"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// loopState is the per-iteration state of a running loop. It is grounded on
// original_source/nodes/control_flow/loops.py's `<node_id>_loop_state` dict
// (items/keys/index for for-loops, iteration for while-loops, plus a
// break_requested flag), relocated off of context.variables and onto an
// engine-owned, NodeId-keyed map per the redesign note in §9.
type loopState struct {
	// For-loop fields.
	Items          []interface{}
	Keys           []interface{}
	Index          int
	// While-loop fields.
	Iteration      int
	BreakRequested bool
}

// loopStateStore holds the loop state for every currently-active loop in a
// run, keyed by the LoopStart node's ID.
type loopStateStore struct {
	mu    sync.Mutex
	state map[model.NodeID]*loopState
}

func newLoopStateStore() *loopStateStore {
	return &loopStateStore{state: make(map[model.NodeID]*loopState)}
}

// Get returns the loop state for a start node, and whether it existed
// (absence means "first iteration" per the loops.py contract).
func (s *loopStateStore) Get(start model.NodeID) (*loopState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[start]
	return st, ok
}

// Init installs fresh loop state for a start node, overwriting any existing
// entry.
func (s *loopStateStore) Init(start model.NodeID, st *loopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[start] = st
}

// GetOrInit returns the existing loop state for start, or installs and
// returns a fresh zero-value state if none exists yet (the "first
// iteration" case). wasNew reports which case occurred. Exported so the
// engine package, which cannot name the unexported loopState type, can
// still obtain and mutate one through its exported fields.
func (s *loopStateStore) GetOrInit(start model.NodeID) (st *loopState, wasNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state[start]; ok {
		return existing, false
	}
	st = &loopState{}
	s.state[start] = st
	return st, true
}

// Delete removes loop state, e.g. once a loop completes or breaks.
func (s *loopStateStore) Delete(start model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, start)
}

// RequestBreak sets break_requested on the named loop's state, if present.
func (s *loopStateStore) RequestBreak(start model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[start]; ok {
		st.BreakRequested = true
	}
}
