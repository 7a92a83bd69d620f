// Package api is the HTTP surface of the orchestrator (component G.6):
// robot, job and schedule management plus the streaming endpoints of
// §4.7.6. Grounded on the teacher's internal/workflow/adapters/http
// handlers — same gorilla/mux route registration, same
// respondJSON/respondError response envelope.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/schedule"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
)

// Handler wires the registry, dispatcher, schedule manager and robot
// channel hub into HTTP routes.
type Handler struct {
	reg    *registry.Registry
	disp   *dispatcher.Dispatcher
	sched  *schedule.Manager
	hub    *robotchannel.Hub
	stream *Streams
	log    logger.Logger
}

// New builds a Handler.
func New(reg *registry.Registry, disp *dispatcher.Dispatcher, sched *schedule.Manager, hub *robotchannel.Hub, stream *Streams, log logger.Logger) *Handler {
	return &Handler{reg: reg, disp: disp, sched: sched, hub: hub, stream: stream, log: log}
}

// RegisterRoutes wires every route of §4.7.6 onto router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/robots", h.ListRobots).Methods("GET")
	router.HandleFunc("/robots/{id}", h.GetRobot).Methods("GET")
	router.HandleFunc("/robots", h.RegisterRobot).Methods("POST")
	router.HandleFunc("/robots/{id}", h.UpdateRobot).Methods("PUT")
	router.HandleFunc("/robots/{id}", h.DeleteRobot).Methods("DELETE")
	router.HandleFunc("/robots/{id}/heartbeat", h.SendHeartbeat).Methods("POST")

	router.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	router.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	router.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	router.HandleFunc("/jobs/{id}/retry", h.RetryJob).Methods("POST")

	router.HandleFunc("/schedules", h.ListSchedules).Methods("GET")
	router.HandleFunc("/schedules", h.CreateSchedule).Methods("POST")
	router.HandleFunc("/schedules/{id}", h.UpdateSchedule).Methods("PUT")
	router.HandleFunc("/schedules/{id}", h.DeleteSchedule).Methods("DELETE")
	router.HandleFunc("/schedules/{id}/enable", h.EnableSchedule).Methods("POST")
	router.HandleFunc("/schedules/{id}/disable", h.DisableSchedule).Methods("POST")
	router.HandleFunc("/schedules/{id}/run_now", h.RunScheduleNow).Methods("POST")

	router.HandleFunc("/streams/robot_status", h.stream.ServeRobotStatus).Methods("GET")
	router.HandleFunc("/streams/job_update", h.stream.ServeJobUpdate).Methods("GET")
	router.HandleFunc("/streams/queue_metrics", h.stream.ServeQueueMetrics).Methods("GET")
}

// --- Robots ---

func (h *Handler) ListRobots(w http.ResponseWriter, r *http.Request) {
	var required []registry.Capability
	if caps := r.URL.Query()["capability"]; len(caps) > 0 {
		for _, c := range caps {
			required = append(required, registry.Capability(c))
		}
	}
	robots := h.reg.FindByCapability(required)
	h.respondJSON(w, http.StatusOK, robots)
}

func (h *Handler) GetRobot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	robot, err := h.reg.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "robot not found")
		return
	}
	h.respondJSON(w, http.StatusOK, robot)
}

type registerRobotRequest struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Environment       string              `json:"environment"`
	Capabilities      []string            `json:"capabilities"`
	Tags              []string            `json:"tags"`
	MaxConcurrentJobs int                 `json:"max_concurrent_jobs"`
}

func (h *Handler) RegisterRobot(w http.ResponseWriter, r *http.Request) {
	var req registerRobotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caps := make(map[registry.Capability]bool, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps[registry.Capability(c)] = true
	}
	robot := &registry.Robot{
		ID:                req.ID,
		Name:              req.Name,
		Environment:       req.Environment,
		Capabilities:      caps,
		Tags:              req.Tags,
		MaxConcurrentJobs: req.MaxConcurrentJobs,
	}
	h.reg.Register(robot)
	h.respondJSON(w, http.StatusCreated, robot)
}

func (h *Handler) UpdateRobot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.reg.UpdateStatus(id, registry.Status(req.Status)); err != nil {
		h.respondError(w, http.StatusNotFound, "robot not found")
		return
	}
	robot, _ := h.reg.Get(id)
	h.respondJSON(w, http.StatusOK, robot)
}

func (h *Handler) DeleteRobot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.reg.Deregister(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.reg.Heartbeat(id); err != nil {
		h.respondError(w, http.StatusNotFound, "robot not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Jobs ---

type submitJobRequest struct {
	WorkflowID           string                 `json:"workflow_id"`
	WorkflowBlob         json.RawMessage        `json:"workflow_blob"`
	Variables            map[string]interface{} `json:"variables,omitempty"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
	Priority             int                    `json:"priority"`
}

func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job := &dispatcher.Job{
		WorkflowID:           req.WorkflowID,
		WorkflowBlob:         req.WorkflowBlob,
		Variables:            req.Variables,
		RequiredCapabilities: req.RequiredCapabilities,
		Priority:             req.Priority,
	}
	if err := h.disp.Submit(r.Context(), job); err != nil {
		h.log.Error("failed to submit job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	h.respondJSON(w, http.StatusCreated, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.disp.List())
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.disp.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.disp.Cancel(id); err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.disp.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.State.Terminal() || job.State == dispatcher.JobCompleted {
		h.respondError(w, http.StatusBadRequest, "only failed or cancelled jobs can be retried")
		return
	}
	retry := &dispatcher.Job{
		WorkflowID:           job.WorkflowID,
		WorkflowBlob:         job.WorkflowBlob,
		Variables:            job.Variables,
		RequiredCapabilities: job.RequiredCapabilities,
		Priority:             job.Priority,
	}
	if err := h.disp.Submit(r.Context(), retry); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to resubmit job")
		return
	}
	h.respondJSON(w, http.StatusCreated, retry)
}

// --- Schedules ---

type scheduleRequest struct {
	WorkflowID string `json:"workflow_id"`
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	Sugar      string `json:"interval,omitempty"`
	OnceAt     string `json:"once_at,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Enabled    bool   `json:"enabled"`
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sched.List())
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry := &schedule.Entry{
		WorkflowID: req.WorkflowID,
		Kind:       schedule.Kind(req.Kind),
		CronExpr:   req.CronExpr,
		Sugar:      schedule.IntervalSugar(req.Sugar),
		Timezone:   req.Timezone,
		Enabled:    req.Enabled,
	}
	if req.OnceAt != "" {
		if t, err := time.Parse(time.RFC3339, req.OnceAt); err == nil {
			entry.OnceAt = t
		}
	}
	if err := h.sched.Create(entry); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := h.sched.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	existing.WorkflowID = req.WorkflowID
	existing.Kind = schedule.Kind(req.Kind)
	existing.CronExpr = req.CronExpr
	existing.Sugar = schedule.IntervalSugar(req.Sugar)
	existing.Timezone = req.Timezone
	existing.Enabled = req.Enabled
	if req.OnceAt != "" {
		if t, err := time.Parse(time.RFC3339, req.OnceAt); err == nil {
			existing.OnceAt = t
		}
	}
	if err := h.sched.Update(existing); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, existing)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	h.sched.Delete(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EnableSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Enable(mux.Vars(r)["id"]); err != nil {
		h.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DisableSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Disable(mux.Vars(r)["id"]); err != nil {
		h.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RunScheduleNow(w http.ResponseWriter, r *http.Request) {
	job, err := h.sched.RunNow(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	dispatchJob := &dispatcher.Job{WorkflowID: job.WorkflowID}
	if err := h.disp.Submit(r.Context(), dispatchJob); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}
	h.respondJSON(w, http.StatusCreated, dispatchJob)
}

// --- helpers ---

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
