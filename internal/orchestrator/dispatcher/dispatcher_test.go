package dispatcher

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

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
)

func newTestHubServer(t *testing.T, hub *robotchannel.Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialRobot(t *testing.T, wsURL, name string, maxJobs int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	raw, _ := json.Marshal(robotchannel.RegisterPayload{Name: name, MaxConcurrentJobs: maxJobs})
	frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameRegister, ID: "reg-" + name, Payload: raw})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	_, ackRaw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ack robotchannel.Frame
	require.NoError(t, json.Unmarshal(ackRaw, &ack))
	return conn
}

// newWiredDispatcher assembles a registry + hub + dispatcher the way
// orchestrator/server.Server.initialize does, and registers every connecting
// robot into the registry so the matcher can find it.
func newWiredDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *robotchannel.Hub, string) {
	t.Helper()
	reg := registry.New(registry.DefaultHealthConfig)
	hub := robotchannel.NewHub(nil, nil)
	hub.OnRegister(func(robotID string, payload robotchannel.RegisterPayload) {
		reg.Register(&registry.Robot{ID: robotID, Name: payload.Name, MaxConcurrentJobs: payload.MaxConcurrentJobs})
	})

	d := New(reg, hub, NewInMemoryJobQueue(), nil, 200*time.Millisecond)
	hub.OnFrame(d.HandleFrame)

	url := newTestHubServer(t, hub)
	return d, reg, hub, url
}

func TestDispatcherSubmitAndRunAssignsToAcceptingRobot(t *testing.T) {
	d, _, hub, url := newWiredDispatcher(t)

	conn := dialRobot(t, url, "robot-1", 1)
	defer conn.Close()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame robotchannel.Frame
			if json.Unmarshal(raw, &frame) != nil || frame.Type != robotchannel.FrameJobAssign {
				continue
			}
			accept, _ := json.Marshal(map[string]interface{}{"job_id": "job-1"})
			reply, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobAccept, ID: "acc-1", CorrelationID: frame.ID, Payload: accept})
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Submit(ctx, &Job{ID: "job-1", WorkflowID: "wf-1"}))

	require.Eventually(t, func() bool {
		job, err := d.Get("job-1")
		return err == nil && job.State == JobRunning
	}, 2*time.Second, 10*time.Millisecond)

	job, err := d.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "robot-1", job.AssignedRobotID)

	_ = hub
}

func TestDispatcherHandleFrameFinishesJobOnComplete(t *testing.T) {
	d, reg, _, _ := newWiredDispatcher(t)
	reg.Register(&registry.Robot{ID: "robot-2", MaxConcurrentJobs: 1})
	require.NoError(t, reg.AssignJob("robot-2", "job-2"))

	d.mu.Lock()
	d.jobs["job-2"] = &Job{ID: "job-2", State: JobRunning, AssignedRobotID: "robot-2"}
	d.mu.Unlock()

	var updates []*Job
	d.OnUpdate(func(j *Job) { updates = append(updates, j) })

	payload, _ := json.Marshal(JobCompletePayloadFixture("job-2"))
	d.HandleFrame("robot-2", robotchannel.Frame{Type: robotchannel.FrameJobComplete, ID: "c-1", Payload: payload})

	job, err := d.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.State)
	require.Len(t, updates, 1)

	robot, err := reg.Get("robot-2")
	require.NoError(t, err)
	assert.Empty(t, robot.CurrentJobIDs)
}

func TestDispatcherSubmitFailsWhenNoRobotAvailable(t *testing.T) {
	d, _, _, _ := newWiredDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Submit(ctx, &Job{ID: "job-3", WorkflowID: "wf-1", RequiredCapabilities: []string{"gpu"}}))

	require.Eventually(t, func() bool {
		job, err := d.Get("job-3")
		return err == nil && job.State == JobFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherCancelPendingJobIsImmediate(t *testing.T) {
	d, _, _, _ := newWiredDispatcher(t)
	d.mu.Lock()
	d.jobs["job-4"] = &Job{ID: "job-4", State: JobPending}
	d.mu.Unlock()

	require.NoError(t, d.Cancel("job-4"))

	job, err := d.Get("job-4")
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.State)
}

func TestDispatcherCancelUnknownJobReturnsError(t *testing.T) {
	d, _, _, _ := newWiredDispatcher(t)
	err := d.Cancel("ghost")
	assert.Error(t, err)
}

// JobCompletePayloadFixture builds the payload HandleFrame expects, named to
// read clearly at the call site above.
func JobCompletePayloadFixture(jobID string) robotchannel.JobCompletePayload {
	return robotchannel.JobCompletePayload{JobID: jobID, State: "completed"}
}
