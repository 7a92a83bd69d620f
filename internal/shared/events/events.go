// Package events defines the job and robot lifecycle events published to
// Kafka for downstream consumers (audit trail, analytics), the same
// envelope shape the teacher used for its broader per-domain event set.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a job/robot lifecycle event.
type EventType string

const (
	JobSubmitted EventType = "job.submitted"
	JobAssigned  EventType = "job.assigned"
	JobCompleted EventType = "job.completed"
	JobFailed    EventType = "job.failed"
	JobCancelled EventType = "job.cancelled"

	RobotRegistered   EventType = "robot.registered"
	RobotDisconnected EventType = "robot.disconnected"
)

// Event is one job/robot lifecycle occurrence.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Metadata carries cross-cutting tracing/correlation fields.
type Metadata struct {
	CorrelationID string `json:"correlationId,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
}

// NewEvent builds an Event, marshaling data into its Data field.
func NewEvent(eventType EventType, aggregateID, aggregateType string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     time.Now().UTC(),
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID.
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.Metadata.CorrelationID = correlationID
	return e
}

// GetData unmarshals the event data into v.
func (e *Event) GetData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Topic returns the Kafka topic an event type is published to.
func (e *Event) Topic() string {
	switch e.Type {
	case RobotRegistered, RobotDisconnected:
		return "linkflow.robot.events"
	default:
		return "linkflow.job.events"
	}
}

// JobSubmittedData is the payload for JobSubmitted.
type JobSubmittedData struct {
	JobID      string `json:"jobId"`
	WorkflowID string `json:"workflowId"`
	Priority   int    `json:"priority"`
}

// JobAssignedData is the payload for JobAssigned.
type JobAssignedData struct {
	JobID   string `json:"jobId"`
	RobotID string `json:"robotId"`
}

// JobTerminalData is the payload for JobCompleted/JobFailed/JobCancelled.
type JobTerminalData struct {
	JobID         string   `json:"jobId"`
	WorkflowID    string   `json:"workflowId"`
	State         string   `json:"state"`
	Error         string   `json:"error,omitempty"`
	ExecutedNodes []string `json:"executedNodes,omitempty"`
}

// RobotStatusData is the payload for RobotRegistered/RobotDisconnected.
type RobotStatusData struct {
	RobotID string `json:"robotId"`
	Name    string `json:"name,omitempty"`
}
