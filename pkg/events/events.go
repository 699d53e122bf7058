// Package events defines the job lifecycle events the development queue publishes.
package events

import (
	"time"

	"github.com/dukex/careflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic.
const Topic = "careflow.jobs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	JobScheduledEvent       EventType = "job.scheduled"
	JobDispatchedEvent      EventType = "job.dispatched"
	JobsCancelledEvent      EventType = "workflow.jobs.cancelled"
	StepResultRecordedEvent EventType = "step.result.recorded"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps an event of the given type for a workflow.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// JobScheduled is published when the queue accepts a job. DueAt is zero
// until a cron job's next run has been computed.
type JobScheduled struct {
	BaseEvent

	JobID     string          `json:"job_id"`
	StepID    string          `json:"step_id"`
	StepOrder int             `json:"step_order"`
	StepType  models.StepType `json:"step_type"`
	PatientID string          `json:"patient_id"`
	DueAt     time.Time       `json:"due_at"`
}

func (e JobScheduled) GetType() EventType {
	return JobScheduledEvent
}

// JobDispatched is published when a due job has been released.
type JobDispatched struct {
	BaseEvent

	JobID     string            `json:"job_id"`
	StepOrder int               `json:"step_order"`
	PatientID string            `json:"patient_id"`
	Action    models.StepAction `json:"action"`
	Outcome   models.Outcome    `json:"outcome,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (e JobDispatched) GetType() EventType {
	return JobDispatchedEvent
}

// JobsCancelled is published when a workflow's pending jobs are dropped.
type JobsCancelled struct {
	BaseEvent

	Count int `json:"count"`
}

func (e JobsCancelled) GetType() EventType {
	return JobsCancelledEvent
}

// StepResultRecorded is published when a lab value is reported for a step.
type StepResultRecorded struct {
	BaseEvent

	StepOrder int            `json:"step_order"`
	PatientID string         `json:"patient_id"`
	Value     float64        `json:"value"`
	Outcome   models.Outcome `json:"outcome"`
}

func (e StepResultRecorded) GetType() EventType {
	return StepResultRecordedEvent
}
