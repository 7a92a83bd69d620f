package robot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/durable"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/engine"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// fakeOrchestrator is a minimal orchestrator-side robot channel endpoint:
// it upgrades the connection, expects a Register frame first, acks it, and
// hands every subsequently received frame to the test over a channel so the
// test can drive the protocol (job_assign, status_request, ...) by hand.
type fakeOrchestrator struct {
	upgrader websocket.Upgrader
	frames   chan robotchannel.Frame
	conn     chan *websocket.Conn
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		frames: make(chan robotchannel.Frame, 16),
		conn:   make(chan *websocket.Conn, 1),
	}
}

func (f *fakeOrchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var register robotchannel.Frame
	if err := json.Unmarshal(raw, &register); err != nil || register.Type != robotchannel.FrameRegister {
		conn.Close()
		return
	}
	ack, _ := json.Marshal(robotchannel.RegisterAckPayload{Success: true, RobotID: "r1"})
	ackFrame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameRegisterAck, ID: register.ID, Payload: ack})
	if err := conn.WriteMessage(websocket.TextMessage, ackFrame); err != nil {
		conn.Close()
		return
	}

	f.conn <- conn

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame robotchannel.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type == robotchannel.FrameHeartbeat {
			continue
		}
		f.frames <- frame
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func newTestRuntime() *durable.Runtime {
	reg := runtime.NewRegistry()
	_ = runtime.RegisterBuiltins(reg)
	return durable.NewRuntime(
		reg, expression.New(nil), engine.StrategySequential, nil, nil,
		durable.NewMemoryCheckpointStore(), model.DefaultLimits, 1,
	)
}

func startEndWorkflowBlob(t *testing.T) []byte {
	t.Helper()
	blob := map[string]interface{}{
		"metadata": map[string]interface{}{"id": "wf-1", "name": "trivial", "version": 1},
		"nodes": []map[string]interface{}{
			{"id": "n1", "type": "start", "config": map[string]interface{}{}},
			{"id": "n2", "type": "end", "config": map[string]interface{}{}},
		},
		"connections": []map[string]interface{}{
			{"SourceNode": "n1", "SourcePort": "out", "TargetNode": "n2", "TargetPort": "in"},
		},
	}
	raw, err := json.Marshal(blob)
	require.NoError(t, err)
	return raw
}

func TestClientRegistersOnConnect(t *testing.T) {
	fake := newFakeOrchestrator()
	server := httptest.NewServer(http.HandlerFunc(fake.ServeHTTP))
	defer server.Close()

	client := New(Config{OrchestratorURL: wsURL(server.URL), Name: "alpha"}, newTestRuntime(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- client.runOnce(context.Background()) }()

	select {
	case <-fake.conn:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration")
	}
	client.conn.Close()
}

func TestClientRespondsToStatusRequest(t *testing.T) {
	fake := newFakeOrchestrator()
	server := httptest.NewServer(http.HandlerFunc(fake.ServeHTTP))
	defer server.Close()

	client := New(Config{OrchestratorURL: wsURL(server.URL), Name: "alpha"}, newTestRuntime(), nil)
	ctx := context.Background()
	go client.runOnce(ctx)

	var conn *websocket.Conn
	select {
	case conn = <-fake.conn:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration")
	}
	defer conn.Close()

	reqFrame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameStatusRequest, ID: "sr-1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, reqFrame))

	select {
	case frame := <-fake.frames:
		assert.Equal(t, robotchannel.FrameStatusResponse, frame.Type)
		assert.Equal(t, "sr-1", frame.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status response")
	}
}

func TestClientRunsJobAssignAndReportsCompletion(t *testing.T) {
	fake := newFakeOrchestrator()
	server := httptest.NewServer(http.HandlerFunc(fake.ServeHTTP))
	defer server.Close()

	client := New(Config{OrchestratorURL: wsURL(server.URL), Name: "alpha"}, newTestRuntime(), nil)
	ctx := context.Background()
	go client.runOnce(ctx)

	var conn *websocket.Conn
	select {
	case conn = <-fake.conn:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration")
	}
	defer conn.Close()

	assignPayload, _ := json.Marshal(robotchannel.JobAssignPayload{
		JobID: "job-1", WorkflowID: "wf-1", WorkflowBlob: startEndWorkflowBlob(t),
	})
	assignFrame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobAssign, ID: "assign-1", Payload: assignPayload})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, assignFrame))

	var sawAccept, sawComplete bool
	deadline := time.After(2 * time.Second)
	for !sawComplete {
		select {
		case frame := <-fake.frames:
			switch frame.Type {
			case robotchannel.FrameJobAccept:
				sawAccept = true
				assert.Equal(t, "assign-1", frame.CorrelationID)
			case robotchannel.FrameJobComplete:
				sawComplete = true
				var payload robotchannel.JobCompletePayload
				require.NoError(t, json.Unmarshal(frame.Payload, &payload))
				assert.Equal(t, "job-1", payload.JobID)
				assert.ElementsMatch(t, []string{"n1", "n2"}, payload.ExecutedNodes)
			}
		case <-deadline:
			t.Fatal("timed out waiting for job lifecycle frames")
		}
	}
	assert.True(t, sawAccept)
}

func TestClientRejectsMalformedJobAssign(t *testing.T) {
	fake := newFakeOrchestrator()
	server := httptest.NewServer(http.HandlerFunc(fake.ServeHTTP))
	defer server.Close()

	client := New(Config{OrchestratorURL: wsURL(server.URL), Name: "alpha"}, newTestRuntime(), nil)
	ctx := context.Background()
	go client.runOnce(ctx)

	var conn *websocket.Conn
	select {
	case conn = <-fake.conn:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration")
	}
	defer conn.Close()

	badFrame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobAssign, ID: "assign-2", Payload: json.RawMessage(`not json`)})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, badFrame))

	select {
	case frame := <-fake.frames:
		assert.Equal(t, robotchannel.FrameJobReject, frame.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job reject")
	}
}
