package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/schedule"
)

func newTestHandler(t *testing.T) (*Handler, *mux.Router, *registry.Registry, *dispatcher.Dispatcher) {
	t.Helper()
	reg := registry.New(registry.DefaultHealthConfig)
	hub := robotchannel.NewHub(nil, nil)
	disp := dispatcher.New(reg, hub, dispatcher.NewInMemoryJobQueue(), nil, time.Minute)
	sched := schedule.New(func(entry *schedule.Entry) (*schedule.Job, error) {
		return &schedule.Job{WorkflowID: entry.WorkflowID, ScheduleID: entry.ID}, nil
	})
	streams := NewStreams(nil)

	h := New(reg, disp, sched, hub, streams, nil)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return h, router, reg, disp
}

func TestRegisterRobotThenGetRobot(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	body, _ := json.Marshal(registerRobotRequest{ID: "r1", Name: "alpha", MaxConcurrentJobs: 2})
	req := httptest.NewRequest(http.MethodPost, "/robots", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/robots/r1", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var robot registry.Robot
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &robot))
	assert.Equal(t, "alpha", robot.Name)
}

func TestGetUnknownRobotReturns404(t *testing.T) {
	_, router, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/robots/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendHeartbeatForUnknownRobotReturns404(t *testing.T) {
	_, router, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/robots/ghost/heartbeat", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendHeartbeatForKnownRobotSucceeds(t *testing.T) {
	_, router, reg, _ := newTestHandler(t)
	reg.Register(&registry.Robot{ID: "r1"})

	req := httptest.NewRequest(http.MethodPost, "/robots/r1/heartbeat", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSubmitJobThenGetJob(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	body, _ := json.Marshal(submitJobRequest{WorkflowID: "wf-1"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job dispatcher.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, dispatcher.JobPending, job.State)

	getReq := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestListJobsReturnsEverySubmittedJob(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(submitJobRequest{WorkflowID: "wf-1"})
		req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var jobs []*dispatcher.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	assert.Len(t, jobs, 2)
}

func TestCancelUnknownJobReturns404(t *testing.T) {
	_, router, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/jobs/ghost/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScheduleThenListSchedules(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	body, _ := json.Marshal(scheduleRequest{WorkflowID: "wf-1", Kind: "interval", Sugar: "hourly", Enabled: false})
	req := httptest.NewRequest(http.MethodPost, "/schedules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/schedules", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)

	var entries []*schedule.Entry
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, time.Hour, entries[0].Interval)
}

func TestCreateScheduleWithInvalidKindFails(t *testing.T) {
	_, router, _, _ := newTestHandler(t)
	body, _ := json.Marshal(scheduleRequest{WorkflowID: "wf-1", Kind: "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/schedules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunScheduleNowDispatchesJob(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	body, _ := json.Marshal(scheduleRequest{WorkflowID: "wf-2", Kind: "interval", Sugar: "daily", Enabled: false})
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/schedules", bytes.NewReader(body)))
	var entry schedule.Entry
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &entry))

	runRec := httptest.NewRecorder()
	router.ServeHTTP(runRec, httptest.NewRequest(http.MethodPost, "/schedules/"+entry.ID+"/run_now", nil))
	assert.Equal(t, http.StatusCreated, runRec.Code)

	var job dispatcher.Job
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &job))
	assert.Equal(t, "wf-2", job.WorkflowID)
}
