// Package matcher implements the stateless selection/matching service
// (component G.3): given a job's overrides and required capabilities, pick
// one robot (or report why none qualifies).
package matcher

import (
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// Override is an explicit, job- or node-level robot preference, §4.7.3
// steps 1-2.
type Override struct {
	RobotID      string                // step 1: explicit robot override
	Capabilities []registry.Capability // step 2: capability-only override, restricts candidates
}

// Assignment is a workflow-level robot preference (§4.7.3 step 3):
// highest-priority, is_default-preferring match among available robots.
type Assignment struct {
	RobotID   string
	Priority  int
	IsDefault bool
}

// Request bundles everything the matcher needs to pick a robot for one job.
type Request struct {
	RequiredCapabilities []registry.Capability
	Override             *Override
	Assignments          []Assignment
}

// ScoreEntry is the diagnostic scoring helper's per-robot breakdown (§4.7.3:
// "does not change the rule" — informational only, never consulted by
// Select).
type ScoreEntry struct {
	RobotID     string
	Utilization float64
	Eligible    bool
	Reason      string
}

// Select implements the four-step selection rule in priority order.
func Select(reg *registry.Registry, req Request) (string, error) {
	atCapacity := func(r *registry.Robot) bool {
		return r.MaxConcurrentJobs > 0 && len(r.CurrentJobIDs) >= r.MaxConcurrentJobs
	}
	if req.Override != nil {
		if req.Override.RobotID != "" {
			// Step 1: explicit node-level robot override, if available and
			// capable.
			robot, err := reg.Get(req.Override.RobotID)
			if err != nil {
				return "", &RobotNotFoundError{RobotID: req.Override.RobotID}
			}
			if robot.Status != registry.StatusOnline || atCapacity(robot) {
				return "", &RobotNotFoundError{RobotID: req.Override.RobotID}
			}
			if !robot.HasCapabilities(req.RequiredCapabilities) {
				return "", apperrors.ErrNoAvailableRobot
			}
			return robot.ID, nil
		}
		if len(req.Override.Capabilities) > 0 {
			// Step 2: capability-only override restricts the candidate set;
			// fall through to auto-select against the restricted set.
			return autoSelect(reg, req.Override.Capabilities)
		}
	}

	if len(req.Assignments) > 0 {
		// Step 3: workflow-level assignment, highest priority first,
		// preferring is_default on ties, restricted to currently available
		// robots.
		best := bestAssignment(req.Assignments)
		if best != nil {
			robot, err := reg.Get(best.RobotID)
			if err == nil && robot.Status == registry.StatusOnline && !atCapacity(robot) && robot.HasCapabilities(req.RequiredCapabilities) {
				return robot.ID, nil
			}
		}
	}

	// Step 4: auto-select from available_robots(required_capabilities).
	return autoSelect(reg, req.RequiredCapabilities)
}

func bestAssignment(assignments []Assignment) *Assignment {
	var best *Assignment
	for i := range assignments {
		a := &assignments[i]
		if best == nil {
			best = a
			continue
		}
		if a.Priority > best.Priority {
			best = a
			continue
		}
		if a.Priority == best.Priority && a.IsDefault && !best.IsDefault {
			best = a
		}
	}
	return best
}

func autoSelect(reg *registry.Registry, required []registry.Capability) (string, error) {
	candidates := reg.AvailableRobots(required)
	if len(candidates) == 0 {
		return "", apperrors.ErrNoAvailableRobot
	}
	// AvailableRobots already returns ascending-utilization, RobotId-tiebreak
	// order (§4.7.3 step 4).
	return candidates[0].ID, nil
}

// Score produces the diagnostic per-robot breakdown for observability/
// debugging UIs. It never influences Select's outcome.
func Score(reg *registry.Registry, required []registry.Capability) []ScoreEntry {
	all := reg.FindByCapability(nil)
	out := make([]ScoreEntry, 0, len(all))
	for _, robot := range all {
		entry := ScoreEntry{RobotID: robot.ID, Utilization: robot.Utilization()}
		switch {
		case robot.Status != registry.StatusOnline:
			entry.Reason = "not online"
		case !robot.HasCapabilities(required):
			entry.Reason = "missing required capability"
		case robot.MaxConcurrentJobs > 0 && len(robot.CurrentJobIDs) >= robot.MaxConcurrentJobs:
			entry.Reason = "at capacity"
		default:
			entry.Eligible = true
			entry.Reason = "eligible"
		}
		out = append(out, entry)
	}
	return out
}

// RobotNotFoundError reports that an explicit robot override named a robot
// the registry does not know about or that is not currently available (not
// online, or already running its maximum number of jobs).
type RobotNotFoundError struct {
	RobotID string
}

func (e *RobotNotFoundError) Error() string {
	return "robot not found or unavailable: " + e.RobotID
}
