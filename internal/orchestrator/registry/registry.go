// Package registry implements the robot registry (component G.1): the
// orchestrator's in-memory directory of connected robots, their declared
// capabilities, and their health.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// Status is a robot's reported or inferred lifecycle state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Capability is one of the closed set of robot capabilities §6 declares.
type Capability string

const (
	CapabilityBrowser    Capability = "browser"
	CapabilityDesktop    Capability = "desktop"
	CapabilityHighMemory Capability = "high_memory"
	CapabilityGPU        Capability = "gpu"
	CapabilitySecure     Capability = "secure"
	CapabilityOnPremise  Capability = "on_premise"
)

// Robot is one registered robot's directory entry.
type Robot struct {
	ID                string
	Name              string
	Environment       string
	Capabilities      map[Capability]bool
	Tags              []string
	MaxConcurrentJobs int
	CurrentJobIDs     []string
	Status            Status
	LastHeartbeat     time.Time
	RegisteredAt      time.Time
}

// Utilization is CurrentJobIDs / MaxConcurrentJobs, used by the matcher's
// ascending-utilization tiebreak (§4.7.3).
func (r *Robot) Utilization() float64 {
	if r.MaxConcurrentJobs <= 0 {
		return 1
	}
	return float64(len(r.CurrentJobIDs)) / float64(r.MaxConcurrentJobs)
}

// HasCapabilities reports whether r declares every capability in required.
func (r *Robot) HasCapabilities(required []Capability) bool {
	for _, c := range required {
		if !r.Capabilities[c] {
			return false
		}
	}
	return true
}

// HealthConfig controls the sweep cadence and offline threshold of §4.7.1.
type HealthConfig struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
}

// DefaultHealthConfig matches the spec's literal defaults (30s sweep, 60s
// timeout).
var DefaultHealthConfig = HealthConfig{CheckInterval: 30 * time.Second, HeartbeatTimeout: 60 * time.Second}

// Registry is the robot directory, grounded on the teacher's
// internal/gateway/handlers/websocket.go Hub (a mutex-guarded map of
// connected peers) generalized from WebSocket clients to robots with
// capability and job-load state.
type Registry struct {
	mu     sync.RWMutex
	robots map[string]*Robot
	health HealthConfig

	// onOffline is invoked (outside the lock) for every robot the health
	// sweep marks offline, with the job IDs that need reassignment.
	onOffline func(robotID string, orphanedJobIDs []string)
}

// New builds an empty registry.
func New(health HealthConfig) *Registry {
	return &Registry{robots: make(map[string]*Robot), health: health}
}

// OnOffline installs the callback the health monitor invokes when it takes a
// robot offline, per §4.7.1's "current_job_ids become reassignment
// candidates."
func (r *Registry) OnOffline(fn func(robotID string, orphanedJobIDs []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOffline = fn
}

// Register adds or replaces a robot entry.
func (r *Registry) Register(robot *Robot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot.Status = StatusOnline
	robot.LastHeartbeat = time.Now()
	if robot.RegisteredAt.IsZero() {
		robot.RegisteredAt = robot.LastHeartbeat
	}
	if robot.Capabilities == nil {
		robot.Capabilities = make(map[Capability]bool)
	}
	r.robots[robot.ID] = robot
}

// Heartbeat refreshes a robot's last-seen timestamp and, if it was offline,
// brings it back online.
func (r *Registry) Heartbeat(robotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot, ok := r.robots[robotID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, robotID, "robot not registered")
	}
	robot.LastHeartbeat = time.Now()
	if robot.Status == StatusOffline {
		robot.Status = StatusOnline
	}
	return nil
}

// UpdateStatus sets a robot's reported status explicitly (e.g. Busy while
// running at capacity).
func (r *Registry) UpdateStatus(robotID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot, ok := r.robots[robotID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, robotID, "robot not registered")
	}
	robot.Status = status
	return nil
}

// Deregister removes a robot entirely (explicit Disconnect).
func (r *Registry) Deregister(robotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.robots, robotID)
}

// Get returns a shallow copy of one robot's entry.
func (r *Registry) Get(robotID string) (*Robot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	robot, ok := r.robots[robotID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, robotID, "robot not registered")
	}
	clone := *robot
	return &clone, nil
}

// FindByCapability returns every robot declaring all of the given
// capabilities, regardless of status, sorted by RobotId for determinism.
func (r *Registry) FindByCapability(required []Capability) []*Robot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Robot
	for _, robot := range r.robots {
		if robot.HasCapabilities(required) {
			clone := *robot
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AvailableRobots returns online robots under capacity that declare all of
// the required capabilities, sorted by ascending utilization then RobotId
// (the exact order the matcher's auto-select step consumes, §4.7.3 step 4).
// Per §3.3, available requires status == online, not merely != offline: a
// robot that is busy, in error, or under maintenance never qualifies even
// with spare capacity.
func (r *Registry) AvailableRobots(required []Capability) []*Robot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Robot
	for _, robot := range r.robots {
		if robot.Status != StatusOnline {
			continue
		}
		if robot.MaxConcurrentJobs > 0 && len(robot.CurrentJobIDs) >= robot.MaxConcurrentJobs {
			continue
		}
		if !robot.HasCapabilities(required) {
			continue
		}
		clone := *robot
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Utilization() != out[j].Utilization() {
			return out[i].Utilization() < out[j].Utilization()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AssignJob adds jobID to a robot's current_job_ids, idempotently.
func (r *Registry) AssignJob(robotID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot, ok := r.robots[robotID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, robotID, "robot not registered")
	}
	for _, id := range robot.CurrentJobIDs {
		if id == jobID {
			return nil
		}
	}
	robot.CurrentJobIDs = append(robot.CurrentJobIDs, jobID)
	return nil
}

// ReleaseJob removes jobID from a robot's current_job_ids.
func (r *Registry) ReleaseJob(robotID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	robot, ok := r.robots[robotID]
	if !ok {
		return
	}
	filtered := robot.CurrentJobIDs[:0]
	for _, id := range robot.CurrentJobIDs {
		if id != jobID {
			filtered = append(filtered, id)
		}
	}
	robot.CurrentJobIDs = filtered
}

// RunHealthSweep marks any robot whose LastHeartbeat exceeds the configured
// timeout as offline and reports its orphaned job IDs via onOffline. Intended
// to be called on a ticker by the caller (cmd/services/orchestrator), not
// self-scheduled, so tests can drive it deterministically.
func (r *Registry) RunHealthSweep(now time.Time) {
	type offlineEvent struct {
		robotID string
		jobs    []string
	}
	var events []offlineEvent

	r.mu.Lock()
	for _, robot := range r.robots {
		if robot.Status == StatusOffline {
			continue
		}
		if now.Sub(robot.LastHeartbeat) > r.health.HeartbeatTimeout {
			robot.Status = StatusOffline
			orphaned := make([]string, len(robot.CurrentJobIDs))
			copy(orphaned, robot.CurrentJobIDs)
			robot.CurrentJobIDs = nil
			events = append(events, offlineEvent{robotID: robot.ID, jobs: orphaned})
		}
	}
	callback := r.onOffline
	r.mu.Unlock()

	if callback == nil {
		return
	}
	for _, ev := range events {
		callback(ev.robotID, ev.jobs)
	}
}
