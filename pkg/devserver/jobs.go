// Package devserver is a local stand-in for the workflow API and its job
// queue: it stores workflows, holds submitted jobs until they are due,
// dispatches them and records their execution history.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/careflow/pkg/models"
	"github.com/google/uuid"
)

var (
	// ErrInvalidJob is returned for a job descriptor the queue cannot hold.
	ErrInvalidJob = errors.New("invalid job")
	// ErrStepNotFound is returned when a workflow has no step with the requested order.
	ErrStepNotFound = errors.New("step not found")
)

// Job is a submitted job descriptor waiting for its due time.
type Job struct {
	ID         string               `json:"id"`
	Descriptor models.JobDescriptor `json:"descriptor"`
	DueAt      time.Time            `json:"due_at"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// Recurring reports whether the job runs on a cron expression.
func (j *Job) Recurring() bool {
	return j.Descriptor.QueueResolved()
}

// NewJob wraps a descriptor into a job due after its delay, or at the next
// run of its cron expression when the descriptor carries no delay.
func NewJob(descriptor models.JobDescriptor, now time.Time) (*Job, error) {
	if descriptor.WorkflowID == "" {
		return nil, fmt.Errorf("%w: workflow_id is required", ErrInvalidJob)
	}

	if descriptor.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidJob)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job ID: %w", err)
	}

	job := &Job{
		ID:         id.String(),
		Descriptor: descriptor,
		EnqueuedAt: now,
	}

	if job.Recurring() {
		next, err := nextRun(descriptor, now)
		if err != nil {
			return nil, err
		}

		job.DueAt = next

		return job, nil
	}

	if *descriptor.Delay < 0 {
		return nil, fmt.Errorf("%w: negative delay %d", ErrInvalidJob, *descriptor.Delay)
	}

	job.DueAt = now.Add(time.Duration(*descriptor.Delay) * time.Millisecond)

	return job, nil
}

func nextRun(descriptor models.JobDescriptor, now time.Time) (time.Time, error) {
	schedule, err := models.ParseCronExpression(descriptor.Condition.Timing.Expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	return schedule.Next(now), nil
}

// JobStore holds pending jobs ordered by due time and the execution
// history of every workflow.
type JobStore interface {
	Enqueue(ctx context.Context, job *Job) error
	// ClaimDue removes and returns up to limit jobs due at now, earliest
	// first. A job is returned to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// CancelWorkflow drops the workflow's pending jobs and returns how many
	// were dropped.
	CancelWorkflow(ctx context.Context, workflowID string) (int, error)
	Pending(ctx context.Context, workflowID string) ([]*Job, error)
	AppendRecord(ctx context.Context, record models.ExecutionRecord) error
	// History returns the workflow's records in append order.
	History(ctx context.Context, workflowID string) ([]models.ExecutionRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// latestResult returns the most recent settled record of a patient's step:
// one carrying an outcome, or a failed one such as a skip. Records still
// waiting for a lab value are passed over.
func latestResult(records []models.ExecutionRecord, stepOrder int, patientID string) (models.ExecutionRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if record.StepOrder != stepOrder || record.PatientID != patientID {
			continue
		}

		if record.Outcome != "" || record.Failed() {
			return record, true
		}
	}

	return models.ExecutionRecord{}, false
}
