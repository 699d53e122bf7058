// Package models defines the clinical workflow definition model: workflows,
// their ordered steps, step conditions and actions, and the job descriptors
// built from them for the external scheduling queue.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"    // Jobs are scheduled
	WorkflowStatusPaused    WorkflowStatus = "paused"    // Jobs are cancelled, can be resumed
	WorkflowStatusCompleted WorkflowStatus = "completed" // Terminal
)

var (
	// ErrInvalidStatusTransition is returned when a status change is not allowed.
	ErrInvalidStatusTransition = errors.New("invalid workflow status transition")
	// ErrUnknownStatus is returned for a status outside active, paused and completed.
	ErrUnknownStatus = errors.New("unknown workflow status")
)

// Workflow is a doctor-owned sequence of timed, conditional clinical steps
// applied to one or many patients.
//
// PatientID and PatientIDs are legacy boundary representations; they are
// folded into PatientsIDs by NormalizePatientAssociation and must not be
// read anywhere else.
type Workflow struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"                  validate:"required"`
	Description string          `json:"description"`
	DoctorID    string          `json:"doctor_id,omitempty"`
	Status      WorkflowStatus  `json:"status,omitempty"      validate:"omitempty,oneof=active paused completed"`
	IsTemplate  bool            `json:"is_template"`
	PatientsIDs []string        `json:"patients_ids"`
	PatientIDs  []string        `json:"patient_ids,omitempty"`
	PatientID   string          `json:"patient_id,omitempty"`
	Steps       []*WorkflowStep `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsValidStatus reports whether s is one of the known workflow statuses.
func IsValidStatus(s WorkflowStatus) bool {
	switch s {
	case WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a workflow may move from one status to another.
// Allowed: active <-> paused, active|paused -> completed. Nothing leaves completed.
func CanTransition(from, to WorkflowStatus) bool {
	if from == "" {
		from = WorkflowStatusActive
	}

	switch from {
	case WorkflowStatusActive:
		return to == WorkflowStatusPaused || to == WorkflowStatusCompleted
	case WorkflowStatusPaused:
		return to == WorkflowStatusActive || to == WorkflowStatusCompleted
	default:
		return false
	}
}

// TransitionTo moves the workflow to the given status. Re-applying the
// current status is a no-op.
func (w *Workflow) TransitionTo(to WorkflowStatus) error {
	if !IsValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	current := w.Status
	if current == "" {
		current = WorkflowStatusActive
	}

	if current == to {
		w.Status = to

		return nil
	}

	if !CanTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current, to)
	}

	w.Status = to
	w.UpdatedAt = time.Now().UTC()

	return nil
}

// StepByOrder returns the step with the given 1-based order, or nil.
func (w *Workflow) StepByOrder(order int) *WorkflowStep {
	for _, step := range w.Steps {
		if step != nil && step.Order == order {
			return step
		}
	}

	return nil
}

// TemplateMode selects how a template workflow applied to many patients is stored.
type TemplateMode string

const (
	TemplateModeShared     TemplateMode = "shared"      // One record referencing every patient
	TemplateModePerPatient TemplateMode = "per_patient" // One record per patient
)

// IsValidTemplateMode reports whether m is a known template mode.
func IsValidTemplateMode(m TemplateMode) bool {
	return m == TemplateModeShared || m == TemplateModePerPatient
}
