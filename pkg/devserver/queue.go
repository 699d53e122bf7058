package devserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/careflow/pkg/eventbus"
	"github.com/dukex/careflow/pkg/events"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/dukex/careflow/pkg/scheduler"
)

// Queue accepts and cancels jobs against the job store. It satisfies
// scheduler.Queue so the server reschedules workflows with the same
// coordinator the clients use.
type Queue struct {
	store     persistence.Persistence
	jobs      JobStore
	publisher eventbus.EventPublisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueue creates a queue; publisher may be nil to skip job events.
func NewQueue(
	store persistence.Persistence,
	jobs JobStore,
	publisher eventbus.EventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
) *Queue {
	return &Queue{
		store:     store,
		jobs:      jobs,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("module", "queue"),
		now:       time.Now,
	}
}

var _ scheduler.Queue = (*Queue)(nil)

// CheckCredentials always succeeds: requests are authenticated at the HTTP layer.
func (q *Queue) CheckCredentials(context.Context) error {
	return nil
}

// SubmitJob implements scheduler.Queue.
func (q *Queue) SubmitJob(ctx context.Context, descriptor *models.JobDescriptor) error {
	_, err := q.Enqueue(ctx, descriptor)

	return err
}

// Enqueue stores the job and returns it with its due time.
func (q *Queue) Enqueue(ctx context.Context, descriptor *models.JobDescriptor) (*Job, error) {
	job, err := NewJob(*descriptor, q.now().UTC())
	if err != nil {
		return nil, err
	}

	err = q.jobs.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	q.metrics.jobsSubmitted.WithLabelValues(string(descriptor.StepType)).Inc()

	q.logger.InfoContext(ctx, "Job scheduled",
		"job_id", job.ID,
		"workflow_id", descriptor.WorkflowID,
		"step_order", descriptor.Metadata.StepOrder,
		"patient_id", descriptor.PatientID,
		"due_at", job.DueAt)

	q.publish(ctx, descriptor.WorkflowID, events.JobScheduled{
		BaseEvent: events.NewBaseEvent(events.JobScheduledEvent, descriptor.WorkflowID),
		JobID:     job.ID,
		StepID:    descriptor.StepID,
		StepOrder: descriptor.Metadata.StepOrder,
		StepType:  descriptor.StepType,
		PatientID: descriptor.PatientID,
		DueAt:     job.DueAt,
	})

	return job, nil
}

// CancelWorkflow implements scheduler.Queue.
func (q *Queue) CancelWorkflow(ctx context.Context, workflowID string) error {
	_, err := q.Cancel(ctx, workflowID)

	return err
}

// Cancel drops the workflow's pending jobs and returns how many were dropped.
func (q *Queue) Cancel(ctx context.Context, workflowID string) (int, error) {
	count, err := q.jobs.CancelWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	q.metrics.jobsCancelled.Add(float64(count))

	q.logger.InfoContext(ctx, "Workflow jobs cancelled", "workflow_id", workflowID, "count", count)

	q.publish(ctx, workflowID, events.JobsCancelled{
		BaseEvent: events.NewBaseEvent(events.JobsCancelledEvent, workflowID),
		Count:     count,
	})

	return count, nil
}

// FetchWorkflow implements scheduler.Queue.
func (q *Queue) FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return q.store.WorkflowByID(ctx, workflowID)
}

// WorkflowHistory implements scheduler.Queue.
func (q *Queue) WorkflowHistory(ctx context.Context, workflowID string) (scheduler.RecordStream, error) {
	records, err := q.jobs.History(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return &recordSlice{records: sortRecords(records, true)}, nil
}

func (q *Queue) publish(ctx context.Context, key string, event eventbus.Event) {
	if q.publisher == nil {
		return
	}

	err := q.publisher.Publish(ctx, key, event)
	if err != nil {
		q.logger.WarnContext(ctx, "Failed to publish job event",
			"event_type", event.GetType(),
			"workflow_id", key,
			"error", err)
	}
}

type recordSlice struct {
	records []models.ExecutionRecord
	next    int
}

func (s *recordSlice) Next() (models.ExecutionRecord, bool, error) {
	if s.next >= len(s.records) {
		return models.ExecutionRecord{}, false, nil
	}

	record := s.records[s.next]
	s.next++

	return record, true, nil
}

func (s *recordSlice) Close() error {
	return nil
}
