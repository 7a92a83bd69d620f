// Package dispatcher implements the job dispatch protocol (component G.4):
// pulling pending jobs off a priority queue, selecting a robot via the
// matcher, and driving the JobAssign/JobAccept/JobReject handshake to a
// terminal outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/matcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// Dispatcher wires the registry, matcher, and robot channel together into
// the dispatch loop of §4.7.4.
type Dispatcher struct {
	reg   *registry.Registry
	hub   *robotchannel.Hub
	queue JobQueue
	log   logger.Logger

	mu   sync.Mutex
	jobs map[string]*Job

	onUpdate func(*Job)

	disconnectGrace time.Duration
}

// New builds a Dispatcher. disconnectGrace should match the registry's
// heartbeat timeout (§4.7.4 point 7: "grace period = heartbeat_timeout").
func New(reg *registry.Registry, hub *robotchannel.Hub, queue JobQueue, log logger.Logger, disconnectGrace time.Duration) *Dispatcher {
	d := &Dispatcher{
		reg:             reg,
		hub:             hub,
		queue:           queue,
		log:             log,
		jobs:            make(map[string]*Job),
		disconnectGrace: disconnectGrace,
	}
	reg.OnOffline(d.handleRobotOffline)
	return d
}

// OnUpdate installs the observer notified on every job state transition
// (the dispatcher's half of the job_update stream, §4.7.6).
func (d *Dispatcher) OnUpdate(fn func(*Job)) { d.onUpdate = fn }

func (d *Dispatcher) notify(job *Job) {
	if d.onUpdate != nil {
		d.onUpdate(job.clone())
	}
}

// Submit enqueues a new job as pending.
func (d *Dispatcher) Submit(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.State = JobPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if job.ExcludedRobotIDs == nil {
		job.ExcludedRobotIDs = make(map[string]bool)
	}

	d.mu.Lock()
	d.jobs[job.ID] = job
	d.mu.Unlock()

	d.notify(job)
	return d.queue.Enqueue(ctx, job)
}

// Get returns a snapshot of one job's current state.
func (d *Dispatcher) Get(jobID string) (*Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[jobID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, jobID, "job not found")
	}
	return job.clone(), nil
}

// List returns a snapshot of every job the dispatcher currently knows
// about (pending, claimed, running, or terminal), newest first. The
// dispatcher keeps the full history in memory for the lifetime of the
// process; List reads only that in-memory map, never the optional
// mongostore job store.
func (d *Dispatcher) List() []*Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Run drains the queue until ctx is cancelled, dispatching one job at a
// time. The caller typically runs this in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.queue.Dequeue(ctx)
		if err != nil || job == nil {
			return
		}

		d.mu.Lock()
		current, known := d.jobs[job.ID]
		d.mu.Unlock()
		if known && current.State.Terminal() {
			continue // cancelled or otherwise finalized while queued
		}

		d.dispatchOne(ctx, job)
	}
}

func requiredCapabilities(names []string) []registry.Capability {
	out := make([]registry.Capability, len(names))
	for i, n := range names {
		out[i] = registry.Capability(n)
	}
	return out
}

var tracer = otel.Tracer("orchestrator/dispatcher")

func (d *Dispatcher) dispatchOne(ctx context.Context, job *Job) {
	ctx, span := tracer.Start(ctx, "dispatcher.dispatchOne")
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("workflow.id", job.WorkflowID))
	defer span.End()

	req := matcher.Request{RequiredCapabilities: requiredCapabilities(job.RequiredCapabilities)}
	robotID, err := matcher.Select(d.reg, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.handleSelectionFailure(ctx, job, err)
		return
	}
	span.SetAttributes(attribute.String("robot.id", robotID))

	job.Attempts++
	job.State = JobClaimed
	job.UpdatedAt = time.Now()
	d.notify(job)

	payload, _ := json.Marshal(robotchannel.JobAssignPayload{
		JobID:        job.ID,
		WorkflowID:   job.WorkflowID,
		WorkflowBlob: job.WorkflowBlob,
		Variables:    job.Variables,
	})
	frame := robotchannel.Frame{Type: robotchannel.FrameJobAssign, ID: uuid.NewString(), Payload: payload}

	reply, err := d.hub.RequestJobAssign(robotID, frame)
	if err != nil {
		d.handleRejectOrTimeout(ctx, job, robotID)
		return
	}

	switch reply.Type {
	case robotchannel.FrameJobAccept:
		job.State = JobRunning
		job.AssignedRobotID = robotID
		job.UpdatedAt = time.Now()
		d.reg.AssignJob(robotID, job.ID)
		d.mu.Lock()
		d.jobs[job.ID] = job
		d.mu.Unlock()
		d.notify(job)
	default:
		d.handleRejectOrTimeout(ctx, job, robotID)
	}
}

func (d *Dispatcher) handleSelectionFailure(ctx context.Context, job *Job, err error) {
	job.Attempts++
	if job.Attempts >= MaxDispatchAttempts {
		d.fail(job, err.Error(), "")
		return
	}
	job.State = JobPending
	job.UpdatedAt = time.Now()
	d.notify(job)
	_ = d.queue.Enqueue(ctx, job)
}

func (d *Dispatcher) handleRejectOrTimeout(ctx context.Context, job *Job, robotID string) {
	if job.ExcludedRobotIDs == nil {
		job.ExcludedRobotIDs = make(map[string]bool)
	}
	job.ExcludedRobotIDs[robotID] = true

	if job.Attempts >= MaxDispatchAttempts {
		d.fail(job, apperrors.ErrNoAvailableRobot.Error(), "")
		return
	}
	job.State = JobPending
	job.UpdatedAt = time.Now()
	d.notify(job)
	_ = d.queue.Enqueue(ctx, job)
}

func (d *Dispatcher) fail(job *Job, reason, nodeID string) {
	job.State = JobFailed
	job.Error = reason
	job.ErrorNodeID = nodeID
	job.UpdatedAt = time.Now()
	d.mu.Lock()
	d.jobs[job.ID] = job
	d.mu.Unlock()
	d.notify(job)
}

// HandleFrame processes every unsolicited (non-correlated-reply) robot frame
// relevant to job lifecycle: JobProgress, JobComplete, JobFailed,
// JobCancelled. Wired to the hub's OnFrame callback by the caller.
func (d *Dispatcher) HandleFrame(robotID string, frame robotchannel.Frame) {
	switch frame.Type {
	case robotchannel.FrameJobProgress:
		var p robotchannel.JobProgressPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			if job, err := d.Get(p.JobID); err == nil {
				d.notify(job) // republish, §4.7.4
			}
		}
	case robotchannel.FrameJobComplete:
		var p robotchannel.JobCompletePayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			d.finishJob(p.JobID, robotID, JobCompleted, "", "", p.ExecutedNodes)
		}
	case robotchannel.FrameJobFailed:
		var p robotchannel.JobFailedPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			d.finishJob(p.JobID, robotID, JobFailed, p.Error, p.ErrorNodeID, p.ExecutedNodes)
		}
	case robotchannel.FrameJobCancelled:
		var p robotchannel.JobCancelledPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			d.finishJob(p.JobID, robotID, JobCancelled, "", "", nil)
		}
	}
}

func (d *Dispatcher) finishJob(jobID, robotID string, state JobState, errMsg, errNode string, executedNodes []string) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return
	}

	job.State = state
	job.Error = errMsg
	job.ErrorNodeID = errNode
	job.ExecutedNodes = executedNodes
	job.UpdatedAt = time.Now()

	d.reg.ReleaseJob(robotID, jobID)
	d.notify(job)
}

// Cancel requests cancellation of jobID. Pending jobs are dropped
// immediately; claimed/running jobs are sent JobCancel and given until the
// dispatcher's grace period to confirm before being cancelled unilaterally
// (§4.7.4's cancellation rule).
func (d *Dispatcher) Cancel(jobID string) error {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, jobID, "job not found")
	}
	if job.State.Terminal() {
		return nil
	}

	if job.State == JobPending {
		job.State = JobCancelled
		job.UpdatedAt = time.Now()
		d.notify(job)
		return nil
	}

	robotID := job.AssignedRobotID
	payload, _ := json.Marshal(robotchannel.JobCancelledPayload{JobID: jobID})
	_ = d.hub.Send(robotID, robotchannel.Frame{Type: robotchannel.FrameJobCancel, ID: uuid.NewString(), Payload: payload})

	grace := d.disconnectGrace
	time.AfterFunc(grace, func() {
		d.mu.Lock()
		current, still := d.jobs[jobID]
		d.mu.Unlock()
		if still && !current.State.Terminal() {
			d.finishJob(jobID, robotID, JobCancelled, "", "", current.ExecutedNodes)
		}
	})
	return nil
}

// handleRobotOffline is wired to the registry's health monitor: jobs the
// robot was running get a grace period (= heartbeat_timeout) to be reclaimed
// by a reconnect before being re-queued as pending with their prior attempt
// counter (§4.7.4 point 7, original_source client.py reconnect idiom).
func (d *Dispatcher) handleRobotOffline(robotID string, orphanedJobIDs []string) {
	for _, jobID := range orphanedJobIDs {
		jobID := jobID
		d.mu.Lock()
		job, ok := d.jobs[jobID]
		if ok {
			now := time.Now()
			job.DisconnectedAt = &now
		}
		d.mu.Unlock()
		if !ok {
			continue
		}

		time.AfterFunc(d.disconnectGrace, func() {
			d.mu.Lock()
			current, still := d.jobs[jobID]
			d.mu.Unlock()
			if !still || current.State.Terminal() {
				return
			}
			if current.AssignedRobotID != robotID || current.DisconnectedAt == nil {
				return // reclaimed by a reconnect in the meantime
			}
			current.State = JobPending
			current.AssignedRobotID = ""
			current.DisconnectedAt = nil
			current.UpdatedAt = time.Now()
			d.notify(current)
			_ = d.queue.Enqueue(context.Background(), current)
		})
	}
}
