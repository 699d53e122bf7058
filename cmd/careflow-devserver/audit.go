package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/careflow/pkg/eventbus"
	"github.com/dukex/careflow/pkg/events"
)

// subscribeAudit logs every job lifecycle event the queue publishes, read
// back through the subscriber side of the bus.
func subscribeAudit(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	logger = logger.With("component", "audit")

	err := errors.Join(
		eventbus.On(bus, events.JobScheduledEvent, func(ctx context.Context, e *events.JobScheduled) error {
			logger.InfoContext(ctx, "Job scheduled",
				"workflow_id", e.WorkflowID, "job_id", e.JobID, "step_order", e.StepOrder,
				"patient_id", e.PatientID, "due_at", e.DueAt)

			return nil
		}),
		eventbus.On(bus, events.JobDispatchedEvent, func(ctx context.Context, e *events.JobDispatched) error {
			if e.Error != "" {
				logger.WarnContext(ctx, "Job dispatched without running",
					"workflow_id", e.WorkflowID, "job_id", e.JobID, "reason", e.Error)

				return nil
			}

			logger.InfoContext(ctx, "Job dispatched",
				"workflow_id", e.WorkflowID, "job_id", e.JobID, "step_order", e.StepOrder,
				"patient_id", e.PatientID, "action", e.Action.Type, "outcome", e.Outcome)

			return nil
		}),
		eventbus.On(bus, events.JobsCancelledEvent, func(ctx context.Context, e *events.JobsCancelled) error {
			logger.InfoContext(ctx, "Workflow jobs cancelled", "workflow_id", e.WorkflowID, "count", e.Count)

			return nil
		}),
		eventbus.On(bus, events.StepResultRecordedEvent, func(ctx context.Context, e *events.StepResultRecorded) error {
			logger.InfoContext(ctx, "Step result recorded",
				"workflow_id", e.WorkflowID, "step_order", e.StepOrder, "patient_id", e.PatientID,
				"value", e.Value, "outcome", e.Outcome)

			return nil
		}),
	)
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
