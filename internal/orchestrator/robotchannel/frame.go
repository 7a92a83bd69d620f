package robotchannel

import "encoding/json"

// FrameType is the closed set of robot<->orchestrator message types, §4.7.2.
type FrameType string

const (
	// Robot -> Orchestrator
	FrameRegister      FrameType = "register"
	FrameHeartbeat     FrameType = "heartbeat"
	FrameDisconnect    FrameType = "disconnect"
	FrameJobAccept     FrameType = "job_accept"
	FrameJobReject     FrameType = "job_reject"
	FrameJobProgress   FrameType = "job_progress"
	FrameJobComplete   FrameType = "job_complete"
	FrameJobFailed     FrameType = "job_failed"
	FrameJobCancelled  FrameType = "job_cancelled"
	FrameStatusResponse FrameType = "status_response"
	FrameLogEntry      FrameType = "log_entry"
	FrameLogBatch      FrameType = "log_batch"

	// Orchestrator -> Robot
	FrameRegisterAck  FrameType = "register_ack"
	FrameHeartbeatAck FrameType = "heartbeat_ack"
	FrameJobAssign    FrameType = "job_assign"
	FrameJobCancel    FrameType = "job_cancel"
	FrameStatusRequest FrameType = "status_request"
	FrameError        FrameType = "error"
)

// Frame is the wire shape of every message on the robot channel (§6):
// {type, id, correlation_id?, payload}.
type Frame struct {
	Type          FrameType       `json:"type"`
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload authenticates a connecting robot and declares its static
// identity/capabilities (§4.7.2, §6's config envelope).
type RegisterPayload struct {
	Name              string   `json:"name"`
	Environment       string   `json:"environment"`
	Capabilities      []string `json:"capabilities"`
	Tags              []string `json:"tags"`
	MaxConcurrentJobs int      `json:"max_concurrent_jobs"`
	BearerToken       string   `json:"bearer_token,omitempty"`
	APIKey            string   `json:"api_key,omitempty"`
}

// RegisterAckPayload is the orchestrator's reply to Register.
type RegisterAckPayload struct {
	Success bool   `json:"success"`
	RobotID string `json:"robot_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HeartbeatPayload carries optional host metrics (gopsutil-sourced, §3 of
// the domain stack) alongside the liveness signal.
type HeartbeatPayload struct {
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryPercent float64 `json:"memory_percent,omitempty"`
	DiskPercent   float64 `json:"disk_percent,omitempty"`
}

// JobAssignPayload dispatches one job to a robot.
type JobAssignPayload struct {
	JobID        string                 `json:"job_id"`
	WorkflowID   string                 `json:"workflow_id"`
	WorkflowBlob json.RawMessage        `json:"workflow_blob"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
}

// JobRejectPayload carries why a robot declined an assignment.
type JobRejectPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// JobProgressPayload republishes mid-run progress (engine.TerminalKind-free;
// just a percentage and optional node context).
type JobProgressPayload struct {
	JobID      string  `json:"job_id"`
	Percent    float64 `json:"percent"`
	CurrentNode string `json:"current_node,omitempty"`
}

// JobCompletePayload/JobFailedPayload/JobCancelledPayload mirror the exit
// semantics contract of §6: {success, state, executed_nodes, duration_ms,
// error?, recovered}.
type JobCompletePayload struct {
	JobID         string   `json:"job_id"`
	State         string   `json:"state"`
	ExecutedNodes []string `json:"executed_nodes"`
	DurationMS    int64    `json:"duration_ms"`
}

type JobFailedPayload struct {
	JobID         string   `json:"job_id"`
	State         string   `json:"state"`
	ExecutedNodes []string `json:"executed_nodes"`
	DurationMS    int64    `json:"duration_ms"`
	Error         string   `json:"error"`
	ErrorNodeID   string   `json:"error_node_id,omitempty"`
	Recovered     bool     `json:"recovered"`
}

type JobCancelledPayload struct {
	JobID string `json:"job_id"`
}

// ErrorPayload is sent orchestrator->robot when a frame cannot be honored.
type ErrorPayload struct {
	Message string `json:"message"`
}
