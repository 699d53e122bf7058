package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
)

// WorkflowAPI is the workflow record store behind the REST API.
type WorkflowAPI interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow, mode models.TemplateMode) ([]*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error)
	UpdateStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
	AssignPatients(ctx context.Context, workflowID string, patientIDs []string) (*models.Workflow, error)
	FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// Scheduler submits and cancels the jobs of persisted workflows.
type Scheduler interface {
	SubmitWorkflow(ctx context.Context, workflow *models.Workflow) (scheduler.SubmissionResults, error)
	ScheduleWorkflow(ctx context.Context, workflowID string) (*scheduler.ScheduleResult, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
}

// Workflow drives the workflow lifecycle: every change to a persisted
// workflow is followed by the queue operation that keeps its jobs in step.
type Workflow struct {
	api       WorkflowAPI
	scheduler Scheduler
	logger    *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(api WorkflowAPI, scheduler Scheduler, logger *slog.Logger) *Workflow {
	return &Workflow{
		api:       api,
		scheduler: scheduler,
		logger:    logger.With("module", "workflow_service"),
	}
}

// Created is a persisted workflow and the jobs submitted for it.
type Created struct {
	Workflow    *models.Workflow            `json:"workflow"`
	Submissions scheduler.SubmissionResults `json:"submissions"`
}

// Create persists a workflow and submits its jobs. Templates are stored as
// one shared record unless mode is per_patient, in which case the API
// returns one record per patient and each is submitted on its own.
// Paused workflows are stored without submitting anything.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow, mode models.TemplateMode) ([]Created, error) {
	const op = "Create"

	if workflow == nil {
		return nil, &ServiceError{Op: op, Code: "WORKFLOW_NIL", Err: ErrWorkflowNil}
	}

	if workflow.IsTemplate {
		if mode == "" {
			mode = models.TemplateModeShared
		}

		if !models.IsValidTemplateMode(mode) {
			return nil, NewValidationError(op, "INVALID_TEMPLATE_MODE", fmt.Sprintf("unknown template mode %q", mode), ErrInvalidTemplateMode)
		}
	}

	err := validate(op, workflow)
	if err != nil {
		return nil, err
	}

	records, err := w.api.CreateWorkflow(ctx, workflow, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	created := make([]Created, 0, len(records))

	for _, record := range records {
		entry := Created{Workflow: record}

		if isScheduled(record) {
			entry.Submissions, err = w.scheduler.SubmitWorkflow(ctx, record)
			if err != nil {
				return created, fmt.Errorf("failed to submit workflow %s: %w", record.ID, err)
			}

			w.logSubmissions(ctx, record.ID, entry.Submissions)
		}

		created = append(created, entry)
	}

	return created, nil
}

// Update replaces a workflow and reschedules its jobs.
func (w *Workflow) Update(ctx context.Context, workflow *models.Workflow) (*models.Workflow, *scheduler.ScheduleResult, error) {
	const op = "Update"

	if workflow == nil {
		return nil, nil, &ServiceError{Op: op, Code: "WORKFLOW_NIL", Err: ErrWorkflowNil}
	}

	if strings.TrimSpace(workflow.ID) == "" {
		return nil, nil, &ServiceError{Op: op, Code: "ID_REQUIRED", Err: ErrWorkflowIDRequired}
	}

	if workflow.Status == models.WorkflowStatusCompleted {
		return nil, nil, &ServiceError{Op: op, Code: "WORKFLOW_COMPLETED", Err: ErrWorkflowCompleted}
	}

	err := validate(op, workflow)
	if err != nil {
		return nil, nil, err
	}

	updated, err := w.api.UpdateWorkflow(ctx, workflow)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update workflow %s: %w", workflow.ID, err)
	}

	if !isScheduled(updated) {
		return updated, nil, nil
	}

	result, err := w.scheduler.ScheduleWorkflow(ctx, updated.ID)
	if err != nil {
		return updated, nil, fmt.Errorf("failed to reschedule workflow %s: %w", updated.ID, err)
	}

	return updated, result, nil
}

// StatusChange is the outcome of a status transition and the queue
// operation it triggered.
type StatusChange struct {
	Workflow *models.Workflow          `json:"workflow"`
	Schedule *scheduler.ScheduleResult `json:"schedule,omitempty"`
}

// ChangeStatus moves a workflow to another status. Pausing or completing
// cancels its jobs, resuming reschedules them. Re-applying the current
// status is a no-op.
func (w *Workflow) ChangeStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*StatusChange, error) {
	const op = "ChangeStatus"

	if strings.TrimSpace(workflowID) == "" {
		return nil, &ServiceError{Op: op, Code: "ID_REQUIRED", Err: ErrWorkflowIDRequired}
	}

	if !models.IsValidStatus(status) {
		return nil, NewValidationError(op, "INVALID_STATUS", fmt.Sprintf("unknown status %q", status), ErrInvalidStatus)
	}

	current, err := w.api.FetchWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	from := current.Status
	if from == "" {
		from = models.WorkflowStatusActive
	}

	if from == status {
		return &StatusChange{Workflow: current}, nil
	}

	err = current.TransitionTo(status)
	if err != nil {
		return nil, &ServiceError{Op: op, Code: "INVALID_TRANSITION", Message: err.Error(), Err: err}
	}

	updated, err := w.api.UpdateStatus(ctx, workflowID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update status of workflow %s: %w", workflowID, err)
	}

	change := &StatusChange{Workflow: updated}

	switch status {
	case models.WorkflowStatusPaused, models.WorkflowStatusCompleted:
		err = w.scheduler.CancelWorkflow(ctx, workflowID)
		if err != nil {
			return change, fmt.Errorf("failed to cancel jobs of workflow %s: %w", workflowID, err)
		}
	case models.WorkflowStatusActive:
		change.Schedule, err = w.scheduler.ScheduleWorkflow(ctx, workflowID)
		if err != nil {
			return change, fmt.Errorf("failed to reschedule workflow %s: %w", workflowID, err)
		}
	}

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflowID, "from", from, "to", status)

	return change, nil
}

// Delete cancels a workflow's pending jobs and deletes its record. A failed
// cancellation is logged and does not keep the record; missing credentials
// abort before anything is deleted.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	const op = "Delete"

	if strings.TrimSpace(workflowID) == "" {
		return &ServiceError{Op: op, Code: "ID_REQUIRED", Err: ErrWorkflowIDRequired}
	}

	err := w.scheduler.CancelWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationRequired) {
			return err
		}

		w.logger.WarnContext(ctx, "Failed to cancel jobs before delete", "workflow_id", workflowID, "error", err)
	}

	err = w.api.DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	return nil
}

// Assign attaches more patients to a workflow and reschedules it so the
// new patients get their jobs.
func (w *Workflow) Assign(
	ctx context.Context,
	workflowID string,
	patientIDs []string,
) (*models.Workflow, *scheduler.ScheduleResult, error) {
	const op = "Assign"

	if strings.TrimSpace(workflowID) == "" {
		return nil, nil, &ServiceError{Op: op, Code: "ID_REQUIRED", Err: ErrWorkflowIDRequired}
	}

	patientIDs = slices.DeleteFunc(slices.Clone(patientIDs), func(id string) bool {
		return strings.TrimSpace(id) == ""
	})
	if len(patientIDs) == 0 {
		return nil, nil, &ServiceError{Op: op, Code: "PATIENTS_REQUIRED", Err: ErrPatientsRequired}
	}

	updated, err := w.api.AssignPatients(ctx, workflowID, patientIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assign patients to workflow %s: %w", workflowID, err)
	}

	if !isScheduled(updated) {
		return updated, nil, nil
	}

	result, err := w.scheduler.ScheduleWorkflow(ctx, workflowID)
	if err != nil {
		return updated, nil, fmt.Errorf("failed to reschedule workflow %s: %w", workflowID, err)
	}

	return updated, result, nil
}

// MoveStep moves the step at fromIndex to toIndex, renumbers every step
// and saves the workflow.
func (w *Workflow) MoveStep(
	ctx context.Context,
	workflowID string,
	fromIndex, toIndex int,
) (*models.Workflow, *scheduler.ScheduleResult, error) {
	return w.editSteps(ctx, "MoveStep", workflowID, func(steps []*models.WorkflowStep) ([]*models.WorkflowStep, error) {
		return models.ReorderSteps(steps, fromIndex, toIndex)
	})
}

// AddStep inserts a step at index and saves the workflow.
func (w *Workflow) AddStep(
	ctx context.Context,
	workflowID string,
	step *models.WorkflowStep,
	index int,
) (*models.Workflow, *scheduler.ScheduleResult, error) {
	return w.editSteps(ctx, "AddStep", workflowID, func(steps []*models.WorkflowStep) ([]*models.WorkflowStep, error) {
		return models.InsertStep(steps, step, index)
	})
}

// RemoveStep deletes the step at index, closes the gap and saves the workflow.
func (w *Workflow) RemoveStep(
	ctx context.Context,
	workflowID string,
	index int,
) (*models.Workflow, *scheduler.ScheduleResult, error) {
	return w.editSteps(ctx, "RemoveStep", workflowID, func(steps []*models.WorkflowStep) ([]*models.WorkflowStep, error) {
		return models.RemoveStep(steps, index)
	})
}

func (w *Workflow) editSteps(
	ctx context.Context,
	op, workflowID string,
	edit func([]*models.WorkflowStep) ([]*models.WorkflowStep, error),
) (*models.Workflow, *scheduler.ScheduleResult, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, nil, &ServiceError{Op: op, Code: "ID_REQUIRED", Err: ErrWorkflowIDRequired}
	}

	workflow, err := w.api.FetchWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	steps, err := edit(workflow.Steps)
	if err != nil {
		return nil, nil, &ServiceError{Op: op, Code: "INVALID_STEP_INDEX", Message: err.Error(), Err: err}
	}

	workflow.Steps = steps

	return w.Update(ctx, workflow)
}

func validate(op string, workflow *models.Workflow) error {
	validationErrs := models.ValidateWorkflow(workflow)
	if len(validationErrs) > 0 {
		return newInvalidWorkflowError(op, validationErrs)
	}

	return nil
}

func isScheduled(workflow *models.Workflow) bool {
	return workflow != nil && (workflow.Status == "" || workflow.Status == models.WorkflowStatusActive)
}

func (w *Workflow) logSubmissions(ctx context.Context, workflowID string, results scheduler.SubmissionResults) {
	failed := results.Failed()
	if len(failed) == 0 {
		w.logger.InfoContext(ctx, "Workflow jobs submitted", "workflow_id", workflowID, "jobs", len(results))

		return
	}

	for _, result := range failed {
		w.logger.WarnContext(ctx, "Job submission failed",
			"workflow_id", workflowID,
			"step_order", result.StepOrder,
			"patient_id", result.PatientID,
			"error", result.Reason())
	}
}
