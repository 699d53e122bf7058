package devserver

import (
	"time"

	"github.com/dukex/careflow/pkg/models"
)

// WorkflowRequest is the body of POST and PUT /workflows. Steps arrive as
// stepsData; the legacy patient fields are folded into patients_ids.
type WorkflowRequest struct {
	Name         string                 `json:"name"                    validate:"required"`
	Description  string                 `json:"description"`
	DoctorID     string                 `json:"doctor_id,omitempty"`
	Status       models.WorkflowStatus  `json:"status,omitempty"        validate:"omitempty,oneof=active paused completed"`
	IsTemplate   bool                   `json:"is_template"`
	TemplateMode models.TemplateMode    `json:"template_mode,omitempty" validate:"omitempty,oneof=shared per_patient"`
	PatientsIDs  []string               `json:"patients_ids"`
	PatientIDs   []string               `json:"patient_ids,omitempty"`
	PatientID    string                 `json:"patient_id,omitempty"`
	StepsData    []*models.WorkflowStep `json:"stepsData"`
}

func (r WorkflowRequest) workflow() *models.Workflow {
	workflow := &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		DoctorID:    r.DoctorID,
		Status:      r.Status,
		IsTemplate:  r.IsTemplate,
		PatientsIDs: r.PatientsIDs,
		PatientIDs:  r.PatientIDs,
		PatientID:   r.PatientID,
		Steps:       r.StepsData,
	}

	return models.NormalizeWorkflow(workflow)
}

// StatusRequest is the body of PATCH /workflows/:id/status.
type StatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required,oneof=active paused completed"`
}

// AssignRequest is the body of POST /workflows/:id/assign.
type AssignRequest struct {
	PatientsIDs []string `json:"patients_ids" validate:"required,min=1,dive,required"`
}

// StepResultRequest is the body of POST /workflows/:id/steps/:order/result.
type StepResultRequest struct {
	PatientID string   `json:"patient_id" validate:"required"`
	Value     *float64 `json:"value"      validate:"required"`
}

// JobResponse is returned for an accepted job.
type JobResponse struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StepID     string    `json:"step_id"`
	PatientID  string    `json:"patient_id"`
	DueAt      time.Time `json:"due_at"`
}

func newJobResponse(job *Job) JobResponse {
	return JobResponse{
		ID:         job.ID,
		WorkflowID: job.Descriptor.WorkflowID,
		StepID:     job.Descriptor.StepID,
		PatientID:  job.Descriptor.PatientID,
		DueAt:      job.DueAt,
	}
}

// CancelResponse is returned by POST /workflows/:id/cancel.
type CancelResponse struct {
	WorkflowID string `json:"workflow_id"`
	Cancelled  int    `json:"cancelled"`
}
