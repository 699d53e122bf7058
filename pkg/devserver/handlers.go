package devserver

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/careflow/pkg/events"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

func (s *Server) ListWorkflows(c fiber.Ctx) error {
	opts := persistence.ListOptions{
		DoctorID:  c.Query("doctor_id"),
		PatientID: c.Query("patient_id"),
		Status:    models.WorkflowStatus(c.Query("status")),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if opts.Status != "" && !models.IsValidStatus(opts.Status) {
		return badRequest(c, "Invalid status filter: "+string(opts.Status))
	}

	workflows, err := s.store.Workflows(c.Context(), opts)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflows)
}

func (s *Server) GetWorkflow(c fiber.Ctx) error {
	workflow, err := s.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// CreateWorkflow stores one workflow, or one per patient when a template
// is created with template_mode per_patient; the latter answers with a list.
func (s *Server) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.workflow()

	if err := models.ValidateWorkflow(workflow).Err(); err != nil {
		return handleError(c, err)
	}

	if !workflow.IsTemplate || req.TemplateMode != models.TemplateModePerPatient {
		if err := s.store.SaveWorkflow(c.Context(), workflow); err != nil {
			return handleError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(workflow)
	}

	created := make([]*models.Workflow, 0, len(workflow.PatientsIDs))

	for _, patientID := range workflow.PatientsIDs {
		record := *workflow
		record.PatientsIDs = []string{patientID}
		record.Steps = models.NormalizeSteps(workflow.Steps)

		if err := s.store.SaveWorkflow(c.Context(), &record); err != nil {
			return handleError(c, err)
		}

		created = append(created, &record)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces a workflow's definition. A status in the body must
// be reachable from the stored one.
func (s *Server) UpdateWorkflow(c fiber.Ctx) error {
	existing, err := s.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if existing.Status == models.WorkflowStatusCompleted {
		return conflict(c, "completed workflows cannot be changed")
	}

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.workflow()
	workflow.ID = existing.ID
	workflow.CreatedAt = existing.CreatedAt

	if req.Status == "" {
		workflow.Status = existing.Status
	}

	if err := models.ValidateWorkflow(workflow).Err(); err != nil {
		return handleError(c, err)
	}

	if workflow.Status != existing.Status {
		if err := existing.TransitionTo(workflow.Status); err != nil {
			return handleError(c, err)
		}
	}

	if err := s.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// UpdateStatus moves a workflow to a new status. Pausing or completing a
// workflow drops its pending jobs.
func (s *Server) UpdateStatus(c fiber.Ctx) error {
	var req StatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := s.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if err := workflow.TransitionTo(req.Status); err != nil {
		return handleError(c, err)
	}

	if err := s.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return handleError(c, err)
	}

	if req.Status != models.WorkflowStatusActive {
		if _, err := s.queue.Cancel(c.Context(), workflow.ID); err != nil {
			return handleError(c, err)
		}
	}

	return c.JSON(workflow)
}

func (s *Server) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if err := s.store.DeleteWorkflow(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	if _, err := s.queue.Cancel(c.Context(), id); err != nil {
		s.logger.WarnContext(c.Context(), "Failed to cancel jobs of deleted workflow", "workflow_id", id, "error", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AssignPatients adds patients to a workflow, ignoring ones already assigned.
func (s *Server) AssignPatients(c fiber.Ctx) error {
	var req AssignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := s.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	for _, patientID := range req.PatientsIDs {
		patientID = strings.TrimSpace(patientID)
		if patientID != "" && !slices.Contains(workflow.PatientsIDs, patientID) {
			workflow.PatientsIDs = append(workflow.PatientsIDs, patientID)
		}
	}

	if err := s.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// SubmitJob queues one job descriptor for a stored workflow.
func (s *Server) SubmitJob(c fiber.Ctx) error {
	var descriptor models.JobDescriptor
	if err := c.Bind().JSON(&descriptor); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if descriptor.Delay == nil && descriptor.Condition.Timing.Type != models.TimingTypeCron {
		return badRequest(c, "delay is required unless the step runs on a cron expression")
	}

	if _, err := s.store.WorkflowByID(c.Context(), descriptor.WorkflowID); err != nil {
		return handleError(c, err)
	}

	job, err := s.queue.Enqueue(c.Context(), &descriptor)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newJobResponse(job))
}

func (s *Server) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	count, err := s.queue.Cancel(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(CancelResponse{WorkflowID: id, Cancelled: count})
}

// ScheduleWorkflow cancels and resubmits an active workflow's jobs server side.
func (s *Server) ScheduleWorkflow(c fiber.Ctx) error {
	workflow, err := s.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if workflow.Status != models.WorkflowStatusActive {
		return conflict(c, fmt.Sprintf("workflow is %s, only active workflows are scheduled", workflow.Status))
	}

	result, err := s.coordinator.ScheduleWorkflow(c.Context(), workflow.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(result)
}

// History returns the workflow's execution records, oldest first unless
// order=desc.
func (s *Server) History(c fiber.Ctx) error {
	order := c.Query("order", "asc")
	if order != "asc" && order != "desc" {
		return badRequest(c, "order must be asc or desc")
	}

	workflowID := c.Params("id")

	if _, err := s.store.WorkflowByID(c.Context(), workflowID); err != nil {
		return handleError(c, err)
	}

	records, err := s.jobs.History(c.Context(), workflowID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(sortRecords(records, order == "asc"))
}

// RecordStepResult evaluates a lab value against the step's threshold and
// records the outcome, which releases steps depending on it.
func (s *Server) RecordStepResult(c fiber.Ctx) error {
	order, err := strconv.Atoi(c.Params("order"))
	if err != nil || order < 1 {
		return badRequest(c, "step order must be a positive integer")
	}

	var req StepResultRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := s.recordStepResult(c.Context(), c.Params("id"), order, req.PatientID, *req.Value)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(record)
}

func (s *Server) recordStepResult(
	ctx context.Context,
	workflowID string,
	order int,
	patientID string,
	value float64,
) (*models.ExecutionRecord, error) {
	workflow, err := s.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	step := workflow.StepByOrder(order)
	if step == nil {
		return nil, fmt.Errorf("%w: workflow %s has no step %d", ErrStepNotFound, workflowID, order)
	}

	if step.Condition == nil || step.Condition.TestResult == nil {
		return nil, models.ValidationErrors{{
			Field:   "order",
			Code:    models.CodeInvalidField,
			Message: fmt.Sprintf("step %d has no test result threshold", order),
		}}
	}

	if !slices.Contains(workflow.PatientsIDs, patientID) {
		return nil, models.ValidationErrors{{
			Field:   "patient_id",
			Code:    models.CodeInvalidField,
			Message: fmt.Sprintf("patient %s is not assigned to workflow %s", patientID, workflowID),
		}}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record ID: %w", err)
	}

	outcome := step.Condition.TestResult.Outcome(value)

	record := models.ExecutionRecord{
		JobID:        id.String(),
		WorkflowID:   workflow.ID,
		StepID:       models.StepKey(step, order-1),
		StepOrder:    order,
		PatientID:    patientID,
		DispatchedAt: s.queue.now().UTC(),
		Outcome:      outcome,
	}

	err = s.jobs.AppendRecord(ctx, record)
	if err != nil {
		return nil, err
	}

	s.queue.metrics.stepResults.WithLabelValues(string(outcome)).Inc()

	s.logger.InfoContext(ctx, "Step result recorded",
		"workflow_id", workflow.ID,
		"step_order", order,
		"patient_id", patientID,
		"outcome", outcome)

	s.queue.publish(ctx, workflow.ID, events.StepResultRecorded{
		BaseEvent: events.NewBaseEvent(events.StepResultRecordedEvent, workflow.ID),
		StepOrder: order,
		PatientID: patientID,
		Value:     value,
		Outcome:   outcome,
	})

	return &record, nil
}

func (s *Server) HealthCheck(c fiber.Ctx) error {
	checkers := fiber.Map{"workflows": "ok", "jobs": "ok"}
	healthy := true

	if err := s.store.HealthCheck(c.Context()); err != nil {
		checkers["workflows"] = err.Error()
		healthy = false
	}

	if err := s.jobs.Ping(c.Context()); err != nil {
		checkers["jobs"] = err.Error()
		healthy = false
	}

	status := "unhealthy"
	message := "Careflow dev server is unhealthy"
	httpStatus := http.StatusInternalServerError

	if healthy {
		status = "healthy"
		message = "Careflow dev server is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}
