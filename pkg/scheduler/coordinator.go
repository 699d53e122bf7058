package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/otelhelper"
	"github.com/dukex/careflow/pkg/timing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 4

var (
	// ErrWorkflowRequired is returned when no workflow is given.
	ErrWorkflowRequired = errors.New("workflow is required")
	// ErrHistoryConsumed is returned when a history sequence is ranged over twice.
	ErrHistoryConsumed = errors.New("workflow history already consumed")
	// ErrHistoryOutOfOrder is returned when the queue yields records out of dispatch order.
	ErrHistoryOutOfOrder = errors.New("workflow history is not ordered by dispatch time")
	// ErrWorkflowNotActive is returned when a paused or completed workflow is rescheduled.
	ErrWorkflowNotActive = errors.New("only active workflows are scheduled")
)

// Coordinator builds one job per (step, patient) and submits them to the queue.
type Coordinator struct {
	queue       Queue
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	concurrency int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source used as "now" for timing resolution.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithConcurrency bounds how many job submissions are in flight at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = int64(n)
		}
	}
}

// WithTracer sets the tracer used for coordinator spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// NewCoordinator creates a coordinator over the given queue.
func NewCoordinator(queue Queue, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:       queue,
		logger:      logger.With("module", "scheduler"),
		tracer:      otelhelper.Tracer("github.com/dukex/careflow/pkg/scheduler"),
		now:         time.Now,
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BuildJobs validates the workflow and builds its job descriptors in
// ascending step order, one per patient. Nothing is submitted.
func (c *Coordinator) BuildJobs(workflow *models.Workflow) ([]*models.JobDescriptor, error) {
	if workflow == nil {
		return nil, ErrWorkflowRequired
	}

	normalized := models.NormalizeWorkflow(cloneWorkflow(workflow))

	errs := models.ValidateWorkflow(normalized)
	if normalized.ID == "" {
		errs = append(errs, models.ValidationError{
			Field:   "id",
			Code:    models.CodeIDRequired,
			Message: "workflow must be persisted before its jobs are submitted",
		})
	}

	patientIDs := models.PatientIDs(normalized)
	if len(patientIDs) == 0 {
		errs = append(errs, models.ValidationError{
			Field:   "patients_ids",
			Code:    models.CodePatientsRequired,
			Message: "workflow has no patients",
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	now := c.now()
	jobs := make([]*models.JobDescriptor, 0, len(normalized.Steps)*len(patientIDs))
	built := make(map[int]bool, len(normalized.Steps))

	for i, step := range normalized.Steps {
		delay, err := timing.ResolveDelay(step.Condition.Timing, now)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step.Order, err)
		}

		if step.Condition.HasDependency() && !built[*step.Condition.DependsOn] {
			return nil, models.ValidationErrors{{
				Field:   fmt.Sprintf("steps[%d].condition.dependsOn", i),
				Code:    models.CodeDanglingDependency,
				Message: fmt.Sprintf("step %d depends on step %d which has no job", step.Order, *step.Condition.DependsOn),
			}}
		}

		for _, patientID := range patientIDs {
			jobs = append(jobs, newJobDescriptor(normalized.ID, models.StepKey(step, i), patientID, step, delay))
		}

		built[step.Order] = true
	}

	return jobs, nil
}

func newJobDescriptor(
	workflowID, stepID, patientID string,
	step *models.WorkflowStep,
	delay timing.Delay,
) *models.JobDescriptor {
	// each job owns its copy so concurrent submissions share nothing
	own := step.Clone()

	return &models.JobDescriptor{
		WorkflowID: workflowID,
		StepID:     stepID,
		PatientID:  patientID,
		Action:     *own.Action,
		Condition:  *own.Condition,
		Metadata: models.JobMetadata{
			StepName:  step.Name,
			StepType:  step.Type,
			StepOrder: step.Order,
		},
		Delay:    delay.Milliseconds(),
		StepType: step.Type,
	}
}

// SubmitWorkflow submits one job per (step, patient). Validation, timing
// and credential failures abort before anything is sent. Remote failures
// are recorded per job and never stop the remaining submissions; results
// come back in step order then patient order.
func (c *Coordinator) SubmitWorkflow(ctx context.Context, workflow *models.Workflow) (SubmissionResults, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "scheduler.SubmitWorkflow")
	defer span.End()

	jobs, err := c.BuildJobs(workflow)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.Int(otelhelper.JobCountKey, len(jobs)),
	)

	err = c.queue.CheckCredentials(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	results := c.submitJobs(ctx, jobs)
	failed := len(results.Failed())
	span.SetAttributes(attribute.Int(otelhelper.FailedJobsKey, failed))

	c.logger.InfoContext(ctx, "Workflow jobs submitted",
		"workflow_id", workflow.ID,
		"jobs", len(jobs),
		"failed", failed)

	return results, nil
}

func (c *Coordinator) submitJobs(ctx context.Context, jobs []*models.JobDescriptor) SubmissionResults {
	results := make(SubmissionResults, len(jobs))
	sem := semaphore.NewWeighted(c.concurrency)

	var wg sync.WaitGroup

	for i, job := range jobs {
		results[i] = SubmissionResult{
			StepID:    job.StepID,
			StepOrder: job.Metadata.StepOrder,
			PatientID: job.PatientID,
			Job:       job,
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Status = StatusFailed
			results[i].Err = c.jobError(job, err)

			continue
		}

		wg.Add(1)

		go func(i int, job *models.JobDescriptor) {
			defer func() {
				sem.Release(1)
				wg.Done()
			}()

			results[i] = c.submitJob(ctx, results[i], job)
		}(i, job)
	}

	wg.Wait()

	return results
}

func (c *Coordinator) submitJob(ctx context.Context, result SubmissionResult, job *models.JobDescriptor) SubmissionResult {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "scheduler.SubmitJob",
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.StepIDKey, job.StepID),
		attribute.Int(otelhelper.StepOrderKey, job.Metadata.StepOrder),
		attribute.String(otelhelper.StepTypeKey, string(job.StepType)),
		attribute.String(otelhelper.PatientIDKey, job.PatientID),
	)
	defer span.End()

	err := c.queue.SubmitJob(ctx, job)
	if err != nil {
		otelhelper.SetError(span, err)
		c.logger.WarnContext(ctx, "Job submission failed",
			"workflow_id", job.WorkflowID,
			"step_order", job.Metadata.StepOrder,
			"patient_id", job.PatientID,
			"error", err)

		result.Status = StatusFailed
		result.Err = c.jobError(job, err)

		return result
	}

	result.Status = StatusSubmitted

	return result
}

func (c *Coordinator) jobError(job *models.JobDescriptor, err error) error {
	return &JobError{
		WorkflowID: job.WorkflowID,
		StepID:     job.StepID,
		StepOrder:  job.Metadata.StepOrder,
		PatientID:  job.PatientID,
		Err:        err,
	}
}

// CancelWorkflow asks the queue to drop every pending job of the workflow.
// Cancelling a workflow without pending jobs succeeds.
func (c *Coordinator) CancelWorkflow(ctx context.Context, workflowID string) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "scheduler.CancelWorkflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	err := c.queue.CheckCredentials(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err = c.queue.CancelWorkflow(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to cancel workflow %s: %w", workflowID, err)
	}

	c.logger.InfoContext(ctx, "Workflow jobs cancelled", "workflow_id", workflowID)

	return nil
}

// ScheduleWorkflow cancels the workflow's pending jobs, then resolves and
// resubmits all of them. Resubmission starts only after the cancel call has
// returned; a failed cancel does not stop it but is reported in the result
// so the caller can warn about duplicate jobs. Paused and completed
// workflows are left cancelled and ErrWorkflowNotActive is returned.
func (c *Coordinator) ScheduleWorkflow(ctx context.Context, workflowID string) (*ScheduleResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "scheduler.ScheduleWorkflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	err := c.queue.CheckCredentials(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result := &ScheduleResult{WorkflowID: workflowID, CancellationSucceeded: true}

	cancelErr := c.queue.CancelWorkflow(ctx, workflowID)
	if cancelErr != nil {
		if auth.IsAuthenticationRequired(cancelErr) {
			otelhelper.SetError(span, cancelErr)

			return nil, cancelErr
		}

		c.logger.WarnContext(ctx, "Cancel before reschedule failed, resubmitting anyway",
			"workflow_id", workflowID,
			"error", cancelErr)

		result.CancellationSucceeded = false
		result.CancelErr = cancelErr
	}

	workflow, err := c.queue.FetchWorkflow(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	if workflow.Status != "" && workflow.Status != models.WorkflowStatusActive {
		err = fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotActive, workflowID, workflow.Status)
		otelhelper.SetError(span, err)

		return result, err
	}

	submissions, err := c.SubmitWorkflow(ctx, workflow)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, err
	}

	result.Submissions = submissions

	return result, nil
}

// WorkflowHistory returns the queue's execution records for the workflow,
// oldest dispatch first. Records are read lazily; the sequence can be
// ranged over once, later iterations yield ErrHistoryConsumed.
func (c *Coordinator) WorkflowHistory(ctx context.Context, workflowID string) iter.Seq2[models.ExecutionRecord, error] {
	var consumed atomic.Bool

	return func(yield func(models.ExecutionRecord, error) bool) {
		if consumed.Swap(true) {
			yield(models.ExecutionRecord{}, ErrHistoryConsumed)

			return
		}

		err := c.queue.CheckCredentials(ctx)
		if err != nil {
			yield(models.ExecutionRecord{}, err)

			return
		}

		stream, err := c.queue.WorkflowHistory(ctx, workflowID)
		if err != nil {
			yield(models.ExecutionRecord{}, fmt.Errorf("failed to read history of workflow %s: %w", workflowID, err))

			return
		}

		defer func() {
			if err := stream.Close(); err != nil {
				c.logger.WarnContext(ctx, "Failed to close history stream", "workflow_id", workflowID, "error", err)
			}
		}()

		var last time.Time

		for {
			record, ok, err := stream.Next()
			if err != nil {
				yield(models.ExecutionRecord{}, err)

				return
			}

			if !ok {
				return
			}

			if record.DispatchedAt.Before(last) {
				yield(models.ExecutionRecord{}, fmt.Errorf("%w: job %s", ErrHistoryOutOfOrder, record.JobID))

				return
			}

			last = record.DispatchedAt

			if !yield(record, nil) {
				return
			}
		}
	}
}

func cloneWorkflow(w *models.Workflow) *models.Workflow {
	clone := *w
	clone.PatientsIDs = append([]string(nil), w.PatientsIDs...)
	clone.PatientIDs = append([]string(nil), w.PatientIDs...)
	clone.Steps = make([]*models.WorkflowStep, len(w.Steps))

	for i, step := range w.Steps {
		clone.Steps[i] = step.Clone()
	}

	return &clone
}
