package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// testNode is a minimal runtime.Instance used to exercise the engine without
// depending on any concrete production node implementation.
type testNode struct {
	typ       string
	inputs    []model.PortDef
	execPorts []string
	trigger   bool
	run       func(in *runtime.Input) *runtime.NodeResult
}

func (n *testNode) Type() string                   { return n.typ }
func (n *testNode) InputPorts() []model.PortDef     { return n.inputs }
func (n *testNode) OutputPorts() []model.PortDef    { return nil }
func (n *testNode) ExecPorts() []string             { return n.execPorts }
func (n *testNode) IsTrigger() bool                 { return n.trigger }
func (n *testNode) Execute(ctx context.Context, in *runtime.Input) *runtime.NodeResult {
	return n.run(in)
}

func newTestRegistry() *runtime.Registry {
	reg := runtime.NewRegistry()

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(reg.Register("Start", func(id model.NodeID, config map[string]interface{}) (runtime.Instance, error) {
		return &testNode{typ: "Start", trigger: true, execPorts: []string{"exec_out"}, run: func(in *runtime.Input) *runtime.NodeResult {
			return &runtime.NodeResult{Kind: runtime.ResultSuccess, NextPorts: []string{"exec_out"}}
		}}, nil
	}))

	must(reg.Register("Set", func(id model.NodeID, config map[string]interface{}) (runtime.Instance, error) {
		return &testNode{
			typ:       "Set",
			inputs:    []model.PortDef{{Name: "value", Type: model.PortANY}},
			execPorts: []string{"exec_out"},
			run: func(in *runtime.Input) *runtime.NodeResult {
				varName, _ := in.Config["var_name"].(string)
				in.Context.SetVariable(varName, in.Values["value"])
				return &runtime.NodeResult{Kind: runtime.ResultSuccess, NextPorts: []string{"exec_out"}}
			},
		}, nil
	}))

	must(reg.Register("If", func(id model.NodeID, config map[string]interface{}) (runtime.Instance, error) {
		return &testNode{
			typ:       "If",
			inputs:    []model.PortDef{{Name: "condition", Type: model.PortBOOLEAN}},
			execPorts: []string{"true", "false"},
			run: func(in *runtime.Input) *runtime.NodeResult {
				cond, _ := in.Values["condition"].(bool)
				if cond {
					return &runtime.NodeResult{Kind: runtime.ResultSuccess, NextPorts: []string{"true"}}
				}
				return &runtime.NodeResult{Kind: runtime.ResultSuccess, NextPorts: []string{"false"}}
			},
		}, nil
	}))

	must(reg.Register("Log", func(id model.NodeID, config map[string]interface{}) (runtime.Instance, error) {
		return &testNode{
			typ:       "Log",
			inputs:    []model.PortDef{{Name: "message", Type: model.PortANY}},
			execPorts: []string{"exec_out"},
			run: func(in *runtime.Input) *runtime.NodeResult {
				return &runtime.NodeResult{Kind: runtime.ResultSuccess, NextPorts: []string{"exec_out"}}
			},
		}, nil
	}))

	must(reg.Register("End", func(id model.NodeID, config map[string]interface{}) (runtime.Instance, error) {
		return &testNode{typ: "End", run: func(in *runtime.Input) *runtime.NodeResult {
			return &runtime.NodeResult{Kind: runtime.ResultSuccess}
		}}, nil
	}))

	return reg
}

func newTestEngine() *Engine {
	reg := newTestRegistry()
	resolver := expression.New(nil)
	return New(reg, resolver, runtime.NewEmitter(), nil, StrategySequential, nil)
}

func connectExec(w *model.Workflow, from model.NodeID, fromPort string, to model.NodeID) {
	if err := w.AddConnection(model.Connection{SourceNode: from, SourcePort: fromPort, TargetNode: to, TargetPort: "exec_in"}); err != nil {
		panic(err)
	}
}

// TestEngine_LinearRun covers scenario 1: Start -> Set(x=10) -> Log({{x}}) -> End.
func TestEngine_LinearRun(t *testing.T) {
	w := model.New("linear", "")
	require.NoError(t, w.AddNode(&model.Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&model.Node{ID: "setx", Type: "Set", Config: map[string]interface{}{"var_name": "x", "value": int64(10)}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "log", Type: "Log", Config: map[string]interface{}{"message": "{{ x }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "end", Type: "End"}))
	connectExec(w, "start", "exec_out", "setx")
	connectExec(w, "setx", "exec_out", "log")
	connectExec(w, "log", "exec_out", "end")

	eng := newTestEngine()
	ec := runtime.NewContext(nil)
	result := eng.Run(context.Background(), w, ec, nil)

	require.Equal(t, TerminalCompleted, result.Kind)
	assert.Equal(t, int64(10), result.VariablesSnapshot["x"])
	assert.Equal(t, []model.NodeID{"start", "setx", "log", "end"}, result.ExecutedNodes)
}

// TestEngine_Conditional covers scenario 2: If(v>10) branches to different
// Set nodes.
func TestEngine_Conditional(t *testing.T) {
	w := model.New("conditional", "")
	require.NoError(t, w.AddNode(&model.Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&model.Node{ID: "setv", Type: "Set", Config: map[string]interface{}{"var_name": "v", "value": int64(15)}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "branch", Type: "If", Config: map[string]interface{}{"condition": "{{ v > 10 }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "big", Type: "Set", Config: map[string]interface{}{"var_name": "result", "value": "big"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "small", Type: "Set", Config: map[string]interface{}{"var_name": "result", "value": "small"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "end", Type: "End"}))

	connectExec(w, "start", "exec_out", "setv")
	connectExec(w, "setv", "exec_out", "branch")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "branch", SourcePort: "true", TargetNode: "big", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "branch", SourcePort: "false", TargetNode: "small", TargetPort: "exec_in"}))
	connectExec(w, "big", "exec_out", "end")
	connectExec(w, "small", "exec_out", "end")

	eng := newTestEngine()
	ec := runtime.NewContext(nil)
	result := eng.Run(context.Background(), w, ec, nil)

	require.Equal(t, TerminalCompleted, result.Kind)
	assert.Equal(t, "big", result.VariablesSnapshot["result"])
}

// TestEngine_ForLoopSum covers scenario 3: a 5-item for-loop accumulating
// total=15.
func TestEngine_ForLoopSum(t *testing.T) {
	w := model.New("sum", "")
	require.NoError(t, w.AddNode(&model.Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&model.Node{ID: "init", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": int64(0)}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopstart", Type: "ForLoopStart", Config: map[string]interface{}{
		"collection": []interface{}{int64(1), int64(2), int64(3), int64(4), int64(5)},
		"item_var":   "n",
	}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "accumulate", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": "{{ total + n }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopend", Type: "ForLoopEnd", Config: map[string]interface{}{"paired_start_id": "loopstart"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "end", Type: "End"}))

	connectExec(w, "start", "exec_out", "init")
	connectExec(w, "init", "exec_out", "loopstart")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "body", TargetNode: "accumulate", TargetPort: "exec_in"}))
	connectExec(w, "accumulate", "exec_out", "loopend")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopend", SourcePort: "exec_out", TargetNode: "loopstart", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "completed", TargetNode: "end", TargetPort: "exec_in"}))

	eng := newTestEngine()
	ec := runtime.NewContext(nil)
	result := eng.Run(context.Background(), w, ec, nil)

	require.Equal(t, TerminalCompleted, result.Kind)
	assert.Equal(t, int64(15), result.VariablesSnapshot["total"])
}

// TestEngine_BreakExitsLoopEarly exercises a Break node jumping past the
// remainder of the loop.
func TestEngine_BreakExitsLoopEarly(t *testing.T) {
	w := model.New("break", "")
	require.NoError(t, w.AddNode(&model.Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&model.Node{ID: "init", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": int64(0)}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopstart", Type: "ForLoopStart", Config: map[string]interface{}{
		"collection": []interface{}{int64(1), int64(2), int64(3), int64(4), int64(5)},
		"item_var":   "n",
	}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "check", Type: "If", Config: map[string]interface{}{"condition": "{{ n == 3 }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "brk", Type: "Break", Config: map[string]interface{}{"paired_loop_start_id": "loopstart"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "accumulate", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": "{{ total + n }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopend", Type: "ForLoopEnd", Config: map[string]interface{}{"paired_start_id": "loopstart"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "end", Type: "End"}))

	connectExec(w, "start", "exec_out", "init")
	connectExec(w, "init", "exec_out", "loopstart")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "body", TargetNode: "check", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "check", SourcePort: "true", TargetNode: "brk", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "check", SourcePort: "false", TargetNode: "accumulate", TargetPort: "exec_in"}))
	connectExec(w, "accumulate", "exec_out", "loopend")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopend", SourcePort: "exec_out", TargetNode: "loopstart", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "completed", TargetNode: "end", TargetPort: "exec_in"}))

	eng := newTestEngine()
	ec := runtime.NewContext(nil)
	result := eng.Run(context.Background(), w, ec, nil)

	require.Equal(t, TerminalCompleted, result.Kind)
	// n=1 and n=2 accumulate (1+2=3); at n=3 the break fires before
	// accumulate runs, so the loop never reaches 4 or 5.
	assert.Equal(t, int64(3), result.VariablesSnapshot["total"])
}

// TestEngine_ContinueSkipsOneIterationButLoopKeepsGoing exercises a Continue
// node jumping straight to the paired loop end, skipping just one pass's
// accumulate rather than aborting the whole loop.
func TestEngine_ContinueSkipsOneIterationButLoopKeepsGoing(t *testing.T) {
	w := model.New("continue", "")
	require.NoError(t, w.AddNode(&model.Node{ID: "start", Type: "Start"}))
	require.NoError(t, w.AddNode(&model.Node{ID: "init", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": int64(0)}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopstart", Type: "ForLoopStart", Config: map[string]interface{}{
		"collection": []interface{}{int64(1), int64(2), int64(3), int64(4), int64(5)},
		"item_var":   "n",
	}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "check", Type: "If", Config: map[string]interface{}{"condition": "{{ n == 3 }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "cont", Type: "Continue", Config: map[string]interface{}{"paired_loop_start_id": "loopstart"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "accumulate", Type: "Set", Config: map[string]interface{}{"var_name": "total", "value": "{{ total + n }}"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "loopend", Type: "ForLoopEnd", Config: map[string]interface{}{"paired_start_id": "loopstart"}}))
	require.NoError(t, w.AddNode(&model.Node{ID: "end", Type: "End"}))

	connectExec(w, "start", "exec_out", "init")
	connectExec(w, "init", "exec_out", "loopstart")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "body", TargetNode: "check", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "check", SourcePort: "true", TargetNode: "cont", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "check", SourcePort: "false", TargetNode: "accumulate", TargetPort: "exec_in"}))
	connectExec(w, "accumulate", "exec_out", "loopend")
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopend", SourcePort: "exec_out", TargetNode: "loopstart", TargetPort: "exec_in"}))
	require.NoError(t, w.AddConnection(model.Connection{SourceNode: "loopstart", SourcePort: "completed", TargetNode: "end", TargetPort: "exec_in"}))

	eng := newTestEngine()
	ec := runtime.NewContext(nil)
	result := eng.Run(context.Background(), w, ec, nil)

	require.Equal(t, TerminalCompleted, result.Kind)
	// n=3 skips accumulate but the loop still reaches n=4 and n=5.
	assert.Equal(t, int64(12), result.VariablesSnapshot["total"])
}
