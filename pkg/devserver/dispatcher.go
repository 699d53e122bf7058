package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/careflow/pkg/events"
	"github.com/dukex/careflow/pkg/models"
)

const (
	defaultPollInterval = time.Minute
	defaultBatchSize    = 100
)

// Dispatcher releases due jobs on every tick. A released job is recorded
// in the workflow history; a job gated on an earlier step waits until that
// step has an outcome for the same patient and is skipped when the outcome
// does not match. Cron jobs are enqueued again for their next run.
type Dispatcher struct {
	queue     *Queue
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	started bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often due jobs are claimed.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithBatchSize bounds how many jobs one tick claims.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func NewDispatcher(queue *Queue, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:     queue,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
		logger:    logger.With("module", "dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start polls for due jobs until Stop is called or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.ticker = time.NewTicker(d.interval)
	d.done = make(chan struct{})
	d.started = true

	go d.poll(ctx, d.ticker, d.done)

	d.logger.InfoContext(ctx, "Dispatcher started", "interval", d.interval)
}

// Stop ends polling. Jobs already claimed by the running tick are finished.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}

	d.ticker.Stop()
	close(d.done)
	d.started = false

	d.logger.InfoContext(ctx, "Dispatcher stopped")
}

func (d *Dispatcher) poll(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := d.DispatchDue(ctx)
			if err != nil {
				d.logger.ErrorContext(ctx, "Failed to dispatch due jobs", "error", err)
			}
		}
	}
}

// DispatchDue claims and dispatches every job due now, returning how many
// were handled.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.queue.now().UTC()

	due, err := d.queue.jobs.ClaimDue(ctx, now, d.batchSize)
	if err != nil {
		return 0, err
	}

	if len(due) > 0 {
		d.logger.InfoContext(ctx, "Processing due jobs", "count", len(due))
	}

	for _, job := range due {
		err := d.dispatch(ctx, job, now)
		if err != nil {
			d.queue.metrics.jobsDispatched.WithLabelValues("failed").Inc()
			d.logger.ErrorContext(ctx, "Failed to dispatch job",
				"job_id", job.ID,
				"workflow_id", job.Descriptor.WorkflowID,
				"error", err)
		}
	}

	return len(due), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job *Job, now time.Time) error {
	descriptor := job.Descriptor

	record := models.ExecutionRecord{
		JobID:        job.ID,
		WorkflowID:   descriptor.WorkflowID,
		StepID:       descriptor.StepID,
		StepOrder:    descriptor.Metadata.StepOrder,
		PatientID:    descriptor.PatientID,
		DispatchedAt: now,
	}

	result := "dispatched"

	if descriptor.Condition.HasDependency() {
		history, err := d.queue.jobs.History(ctx, descriptor.WorkflowID)
		if err != nil {
			return d.retry(ctx, job, now, err)
		}

		prerequisite := *descriptor.Condition.DependsOn

		settled, ok := latestResult(history, prerequisite, descriptor.PatientID)
		if !ok {
			// the prerequisite has not produced an outcome yet
			job.DueAt = now.Add(d.interval)

			return d.queue.jobs.Enqueue(ctx, job)
		}

		switch {
		case settled.Outcome == "":
			result = "skipped"
			record.Error = fmt.Sprintf("skipped: prerequisite step %d was skipped", prerequisite)
		case !descriptor.Condition.Satisfied(settled.Outcome):
			result = "skipped"
			record.Error = fmt.Sprintf("skipped: step %d outcome is %s, step requires %s",
				prerequisite, settled.Outcome, descriptor.Condition.Outcome)
		}
	}

	if result == "dispatched" {
		record.Outcome = dispatchOutcome(descriptor)
	}

	err := d.queue.jobs.AppendRecord(ctx, record)
	if err != nil {
		return d.retry(ctx, job, now, err)
	}

	d.queue.metrics.jobsDispatched.WithLabelValues(result).Inc()
	d.queue.metrics.dispatchLag.Observe(now.Sub(job.DueAt).Seconds())

	d.logger.InfoContext(ctx, "Job dispatched",
		"job_id", job.ID,
		"workflow_id", descriptor.WorkflowID,
		"step_order", descriptor.Metadata.StepOrder,
		"patient_id", descriptor.PatientID,
		"result", result)

	d.queue.publish(ctx, descriptor.WorkflowID, events.JobDispatched{
		BaseEvent: events.NewBaseEvent(events.JobDispatchedEvent, descriptor.WorkflowID),
		JobID:     job.ID,
		StepOrder: descriptor.Metadata.StepOrder,
		PatientID: descriptor.PatientID,
		Action:    descriptor.Action,
		Outcome:   record.Outcome,
		Error:     record.Error,
	})

	if job.Recurring() {
		next, err := nextRun(descriptor, now)
		if err != nil {
			return err
		}

		job.DueAt = next

		return d.queue.jobs.Enqueue(ctx, job)
	}

	return nil
}

// retry puts a claimed job back so a store failure does not lose it.
func (d *Dispatcher) retry(ctx context.Context, job *Job, now time.Time, cause error) error {
	job.DueAt = now.Add(d.interval)

	err := d.queue.jobs.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("%w (requeue failed: %w)", cause, err)
	}

	return cause
}

// dispatchOutcome is the outcome recorded on dispatch. Steps waiting for a
// lab value get theirs when the result is reported.
func dispatchOutcome(descriptor models.JobDescriptor) models.Outcome {
	if descriptor.Action.RequiresResult || descriptor.Condition.TestResult != nil {
		return ""
	}

	return models.OutcomeCompleted
}

func sortRecords(records []models.ExecutionRecord, ascending bool) []models.ExecutionRecord {
	sorted := slices.Clone(records)

	slices.SortStableFunc(sorted, func(a, b models.ExecutionRecord) int {
		if ascending {
			return a.DispatchedAt.Compare(b.DispatchedAt)
		}

		return b.DispatchedAt.Compare(a.DispatchedAt)
	})

	return sorted
}
