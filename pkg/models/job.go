package models

import "time"

// JobMetadata carries step identity for the queue consumer.
type JobMetadata struct {
	StepName  string   `json:"step_name"`
	StepType  StepType `json:"step_type"`
	StepOrder int      `json:"step_order"`
}

// JobDescriptor is one unit of work submitted to the external queue:
// a step for a single patient, with its dispatch delay.
//
// Delay is nil for cron timing: the queue resolves the expression itself.
type JobDescriptor struct {
	WorkflowID string        `json:"workflow_id"`
	StepID     string        `json:"step_id"`
	PatientID  string        `json:"patient_id"`
	Action     StepAction    `json:"action"`
	Condition  StepCondition `json:"condition"`
	Metadata   JobMetadata   `json:"metadata"`
	Delay      *int64        `json:"delay"`
	StepType   StepType      `json:"stepType"`
}

// QueueResolved reports whether the queue computes the dispatch time.
func (j *JobDescriptor) QueueResolved() bool {
	return j.Delay == nil
}

// ExecutionRecord is what the queue recorded for one dispatched job.
type ExecutionRecord struct {
	JobID        string    `json:"job_id"`
	WorkflowID   string    `json:"workflow_id"`
	StepID       string    `json:"step_id"`
	StepOrder    int       `json:"step_order"`
	PatientID    string    `json:"patient_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Failed reports whether the queue recorded an error for the execution.
func (r ExecutionRecord) Failed() bool {
	return r.Error != ""
}
