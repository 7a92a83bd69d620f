package sdk

import (
	"encoding/json"
	"time"
)

// ListOptions specifies pagination/filter options for listing resources.
type ListOptions struct {
	Page     int
	PageSize int
	Status   string
}

// Robot mirrors internal/orchestrator/registry.Robot's wire shape; that
// struct carries no json tags either, so field names must match verbatim.
type Robot struct {
	ID                string          `json:"ID"`
	Name              string          `json:"Name"`
	Environment       string          `json:"Environment"`
	Capabilities      map[string]bool `json:"Capabilities"`
	Tags              []string        `json:"Tags"`
	MaxConcurrentJobs int             `json:"MaxConcurrentJobs"`
	CurrentJobIDs     []string        `json:"CurrentJobIDs"`
	Status            string          `json:"Status"`
	LastHeartbeat     time.Time       `json:"LastHeartbeat"`
	RegisteredAt      time.Time       `json:"RegisteredAt"`
}

// RegisterRobotRequest declares a new robot's identity and capabilities.
type RegisterRobotRequest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Environment       string   `json:"environment"`
	Capabilities      []string `json:"capabilities"`
	Tags              []string `json:"tags"`
	MaxConcurrentJobs int      `json:"max_concurrent_jobs"`
}

// Job mirrors internal/orchestrator/dispatcher.Job's wire shape.
type Job struct {
	ID                   string                 `json:"id"`
	WorkflowID           string                 `json:"workflow_id"`
	Variables            map[string]interface{} `json:"variables,omitempty"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
	Priority             int                    `json:"priority"`
	State                string                 `json:"state"`
	AssignedRobotID      string                 `json:"assigned_robot_id,omitempty"`
	Attempts             int                    `json:"attempts"`
	Error                string                 `json:"error,omitempty"`
	ErrorNodeID          string                 `json:"error_node_id,omitempty"`
	ExecutedNodes        []string               `json:"executed_nodes,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// SubmitJobRequest dispatches one workflow run to the orchestrator's queue.
type SubmitJobRequest struct {
	WorkflowID           string                 `json:"workflow_id"`
	WorkflowBlob         json.RawMessage        `json:"workflow_blob"`
	Variables            map[string]interface{} `json:"variables,omitempty"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
	Priority             int                    `json:"priority"`
}

// Schedule mirrors internal/orchestrator/schedule.Entry's wire shape; that
// struct carries no json tags, so the server marshals its Go field names
// verbatim and this type must match them exactly rather than snake_case.
type Schedule struct {
	ID         string     `json:"ID"`
	WorkflowID string     `json:"WorkflowID"`
	Kind       string     `json:"Kind"`
	CronExpr   string     `json:"CronExpr,omitempty"`
	Interval   int64      `json:"Interval,omitempty"`
	Sugar      string     `json:"Sugar,omitempty"`
	OnceAt     time.Time  `json:"OnceAt,omitempty"`
	Timezone   string     `json:"Timezone,omitempty"`
	Enabled    bool       `json:"Enabled"`
	NextRun    time.Time  `json:"NextRun"`
	LastRun    *time.Time `json:"LastRun,omitempty"`
	RunCount   int64      `json:"RunCount"`
}

// CreateScheduleRequest registers a new interval/cron/once schedule.
type CreateScheduleRequest struct {
	WorkflowID string `json:"workflow_id"`
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	Sugar      string `json:"interval,omitempty"`
	OnceAt     string `json:"once_at,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Enabled    bool   `json:"enabled"`
}
