// Package robot implements the robot-side daemon (§6): it dials the
// orchestrator's robot channel, registers its identity and capabilities,
// answers JobAssign by running the durable workflow runtime locally, and
// reports progress/completion back over the same socket. Grounded on
// original_source's OrchestratorClient._ws_loop reconnect-with-backoff idiom
// (src/casare_rpa/infrastructure/orchestrator/client.py), translated from an
// asyncio receive loop into a goroutine with gorilla/websocket.
package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/durable"
)

// Config describes how this robot process identifies and connects itself,
// mirroring internal/platform/config.RobotConfig/OrchestratorConfig.
type Config struct {
	OrchestratorURL string
	APIKey          string
	Name            string
	Environment     string
	Capabilities    []string
	Tags            []string
	MaxConcurrentJobs int
}

// Client is one robot's connection to the orchestrator.
type Client struct {
	cfg     Config
	runtime *durable.Runtime
	log     logger.Logger

	conn *websocket.Conn
}

// New builds a Client. runtime executes JobAssign payloads locally.
func New(cfg Config, runtime *durable.Runtime, log logger.Logger) *Client {
	return &Client{cfg: cfg, runtime: runtime, log: log}
}

// Run connects and reconnects forever until ctx is cancelled, the same
// "sleep and retry" shape as the original client's _ws_loop.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.Error("robot channel connection lost", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.OrchestratorURL, nil)
	if err != nil {
		return fmt.Errorf("dial orchestrator: %w", err)
	}
	c.conn = conn
	defer conn.Close()

	if err := c.register(); err != nil {
		return err
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go c.heartbeatLoop(heartbeatCtx)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		var frame robotchannel.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) register() error {
	payload, _ := json.Marshal(robotchannel.RegisterPayload{
		Name:              c.cfg.Name,
		Environment:       c.cfg.Environment,
		Capabilities:      c.cfg.Capabilities,
		Tags:              c.cfg.Tags,
		MaxConcurrentJobs: c.cfg.MaxConcurrentJobs,
		APIKey:            c.cfg.APIKey,
	})
	frame := robotchannel.Frame{Type: robotchannel.FrameRegister, ID: uuid.NewString(), Payload: payload}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

func (c *Client) sendHeartbeat() {
	payload := robotchannel.HeartbeatPayload{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		payload.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		payload.DiskPercent = du.UsedPercent
	}

	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameHeartbeat, ID: uuid.NewString(), Payload: data})
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Error("failed to send heartbeat", "error", err)
	}
}

func (c *Client) handle(ctx context.Context, frame robotchannel.Frame) {
	switch frame.Type {
	case robotchannel.FrameJobAssign:
		c.handleJobAssign(ctx, frame)
	case robotchannel.FrameJobCancel:
		// Ignored: running jobs (each in its own goroutine) are not tracked
		// by job ID, so an in-flight job runs to completion.
	case robotchannel.FrameStatusRequest:
		c.respondStatus(frame)
	}
}

func (c *Client) respondStatus(frame robotchannel.Frame) {
	data, _ := json.Marshal(map[string]interface{}{"status": "online"})
	reply, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameStatusResponse, ID: uuid.NewString(), CorrelationID: frame.ID, Payload: data})
	c.conn.WriteMessage(websocket.TextMessage, reply)
}

func (c *Client) handleJobAssign(ctx context.Context, frame robotchannel.Frame) {
	var assign robotchannel.JobAssignPayload
	if err := json.Unmarshal(frame.Payload, &assign); err != nil {
		c.sendReject(frame, "", "malformed job assign payload")
		return
	}

	accept, _ := json.Marshal(map[string]interface{}{"job_id": assign.JobID})
	ack, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobAccept, ID: uuid.NewString(), CorrelationID: frame.ID, Payload: accept})
	if err := c.conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		return
	}

	go c.runJob(ctx, assign)
}

func (c *Client) sendReject(frame robotchannel.Frame, jobID, reason string) {
	payload, _ := json.Marshal(robotchannel.JobRejectPayload{JobID: jobID, Reason: reason})
	reject, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobReject, ID: uuid.NewString(), CorrelationID: frame.ID, Payload: payload})
	c.conn.WriteMessage(websocket.TextMessage, reject)
}

func (c *Client) runJob(ctx context.Context, assign robotchannel.JobAssignPayload) {
	checkpoint, err := c.runtime.Run(ctx, assign.WorkflowBlob, assign.JobID, assign.WorkflowID, assign.Variables, func(percent float64) {
		progress, _ := json.Marshal(robotchannel.JobProgressPayload{JobID: assign.JobID, Percent: percent})
		frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobProgress, ID: uuid.NewString(), Payload: progress})
		c.conn.WriteMessage(websocket.TextMessage, frame)
	})
	if err != nil {
		failed, _ := json.Marshal(robotchannel.JobFailedPayload{JobID: assign.JobID, Error: err.Error()})
		frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobFailed, ID: uuid.NewString(), Payload: failed})
		c.conn.WriteMessage(websocket.TextMessage, frame)
		return
	}

	executedNodes := make([]string, 0, len(checkpoint.ExecutedNodes))
	for _, n := range checkpoint.ExecutedNodes {
		executedNodes = append(executedNodes, string(n))
	}

	switch checkpoint.State {
	case durable.StateFailed:
		failed, _ := json.Marshal(robotchannel.JobFailedPayload{JobID: assign.JobID, Error: checkpoint.Error, ErrorNodeID: string(checkpoint.ErrorNodeID), ExecutedNodes: executedNodes})
		frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobFailed, ID: uuid.NewString(), Payload: failed})
		c.conn.WriteMessage(websocket.TextMessage, frame)
	case durable.StateCancelled:
		cancelled, _ := json.Marshal(robotchannel.JobCancelledPayload{JobID: assign.JobID})
		frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobCancelled, ID: uuid.NewString(), Payload: cancelled})
		c.conn.WriteMessage(websocket.TextMessage, frame)
	default:
		complete, _ := json.Marshal(robotchannel.JobCompletePayload{JobID: assign.JobID, ExecutedNodes: executedNodes})
		frame, _ := json.Marshal(robotchannel.Frame{Type: robotchannel.FrameJobComplete, ID: uuid.NewString(), Payload: complete})
		c.conn.WriteMessage(websocket.TextMessage, frame)
	}
}
