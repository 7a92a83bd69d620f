package dispatcher

import (
	"encoding/json"
	"time"
)

// JobState is the job lifecycle, §4.7.4.
type JobState string

const (
	JobPending   JobState = "pending"
	JobClaimed   JobState = "claimed"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether a job state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// MaxDispatchAttempts is the §4.7.4 threshold: after this many dispatch
// attempts, a job fails with NoAvailableRobot. Every attempt counts; robots
// recorded in ExcludedRobotIDs are not filtered out of later matching, so
// a retry can go to a robot that already rejected or timed out the job.
const MaxDispatchAttempts = 3

// Job is one unit of dispatchable work.
type Job struct {
	ID                   string                 `json:"id"`
	WorkflowID           string                 `json:"workflow_id"`
	WorkflowBlob         json.RawMessage        `json:"workflow_blob"`
	Variables            map[string]interface{} `json:"variables,omitempty"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
	Priority             int                    `json:"priority"`
	State                JobState               `json:"state"`
	AssignedRobotID      string                 `json:"assigned_robot_id,omitempty"`
	Attempts             int                    `json:"attempts"`
	ExcludedRobotIDs     map[string]bool        `json:"-"`
	Error                string                 `json:"error,omitempty"`
	ErrorNodeID          string                 `json:"error_node_id,omitempty"`
	ExecutedNodes        []string               `json:"executed_nodes,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	DisconnectedAt       *time.Time             `json:"-"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.ExcludedRobotIDs != nil {
		c.ExcludedRobotIDs = make(map[string]bool, len(j.ExcludedRobotIDs))
		for k, v := range j.ExcludedRobotIDs {
			c.ExcludedRobotIDs[k] = v
		}
	}
	return &c
}
