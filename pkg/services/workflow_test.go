package services_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/mocks"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/dukex/careflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*services.Workflow, *mocks.MockWorkflowAPI, *mocks.MockScheduler) {
	t.Helper()

	api := &mocks.MockWorkflowAPI{}
	sched := &mocks.MockScheduler{}

	t.Cleanup(func() {
		api.AssertExpectations(t)
		sched.AssertExpectations(t)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return services.NewWorkflow(api, sched, logger), api, sched
}

func checkupWorkflow(patients ...string) *models.Workflow {
	return &models.Workflow{
		Name:        "Bilan rénal",
		PatientsIDs: patients,
		Steps: []*models.WorkflowStep{
			{Order: 1, Type: models.StepTypeAnalysisTest, Condition: &models.StepCondition{
				Timing: models.Timing{Type: models.TimingTypeDelay, Value: "7d"},
			}},
			{Order: 2, Type: models.StepTypeAppointment},
		},
	}
}

func persisted(id string, status models.WorkflowStatus, patients ...string) *models.Workflow {
	workflow := checkupWorkflow(patients...)
	workflow.ID = id
	workflow.Status = status

	return workflow
}

func TestWorkflow_Create(t *testing.T) {
	service, api, sched := newTestService(t)

	workflow := checkupWorkflow("p1")
	record := persisted("wf-1", models.WorkflowStatusActive, "p1")
	submissions := scheduler.SubmissionResults{{StepOrder: 1, PatientID: "p1", Status: scheduler.StatusSubmitted}}

	api.On("CreateWorkflow", mock.Anything, workflow, models.TemplateMode("")).Return([]*models.Workflow{record}, nil)
	sched.On("SubmitWorkflow", mock.Anything, record).Return(submissions, nil)

	created, err := service.Create(t.Context(), workflow, "")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "wf-1", created[0].Workflow.ID)
	assert.Equal(t, submissions, created[0].Submissions)
}

func TestWorkflow_Create_PerPatientTemplate(t *testing.T) {
	service, api, sched := newTestService(t)

	workflow := checkupWorkflow("p1", "p2")
	workflow.IsTemplate = true

	records := []*models.Workflow{
		persisted("wf-1", models.WorkflowStatusActive, "p1"),
		persisted("wf-2", models.WorkflowStatusActive, "p2"),
	}

	api.On("CreateWorkflow", mock.Anything, workflow, models.TemplateModePerPatient).Return(records, nil)
	sched.On("SubmitWorkflow", mock.Anything, records[0]).Return(scheduler.SubmissionResults{}, nil).Once()
	sched.On("SubmitWorkflow", mock.Anything, records[1]).Return(scheduler.SubmissionResults{}, nil).Once()

	created, err := service.Create(t.Context(), workflow, models.TemplateModePerPatient)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "wf-2", created[1].Workflow.ID)
}

func TestWorkflow_Create_TemplateDefaultsToShared(t *testing.T) {
	service, api, sched := newTestService(t)

	workflow := checkupWorkflow("p1", "p2")
	workflow.IsTemplate = true
	record := persisted("wf-1", models.WorkflowStatusActive, "p1", "p2")

	api.On("CreateWorkflow", mock.Anything, workflow, models.TemplateModeShared).Return([]*models.Workflow{record}, nil)
	sched.On("SubmitWorkflow", mock.Anything, record).Return(scheduler.SubmissionResults{}, nil)

	_, err := service.Create(t.Context(), workflow, "")
	require.NoError(t, err)
}

func TestWorkflow_Create_PausedIsNotSubmitted(t *testing.T) {
	service, api, _ := newTestService(t)

	workflow := checkupWorkflow("p1")
	workflow.Status = models.WorkflowStatusPaused
	record := persisted("wf-1", models.WorkflowStatusPaused, "p1")

	api.On("CreateWorkflow", mock.Anything, workflow, models.TemplateMode("")).Return([]*models.Workflow{record}, nil)

	created, err := service.Create(t.Context(), workflow, "")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Nil(t, created[0].Submissions)
}

func TestWorkflow_Create_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		workflow *models.Workflow
		mode     models.TemplateMode
		target   error
	}{
		{name: "nil workflow", workflow: nil, target: services.ErrWorkflowNil},
		{name: "no steps", workflow: &models.Workflow{Name: "empty"}, target: services.ErrInvalidWorkflow},
		{name: "no name", workflow: &models.Workflow{Steps: checkupWorkflow().Steps}, target: models.ErrValidation},
		{
			name:     "unknown template mode",
			workflow: &models.Workflow{Name: "t", IsTemplate: true, Steps: checkupWorkflow().Steps},
			mode:     "every_other_patient",
			target:   services.ErrInvalidTemplateMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newTestService(t)

			_, err := service.Create(t.Context(), tt.workflow, tt.mode)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, services.IsValidationError(err))

			var serviceErr *services.ServiceError
			assert.ErrorAs(t, err, &serviceErr)
		})
	}
}

func TestWorkflow_Create_SubmitError(t *testing.T) {
	service, api, sched := newTestService(t)

	workflow := checkupWorkflow("p1")
	record := persisted("wf-1", models.WorkflowStatusActive, "p1")

	api.On("CreateWorkflow", mock.Anything, workflow, models.TemplateMode("")).Return([]*models.Workflow{record}, nil)
	sched.On("SubmitWorkflow", mock.Anything, record).Return(nil, auth.ErrAuthenticationRequired)

	_, err := service.Create(t.Context(), workflow, "")
	require.ErrorIs(t, err, auth.ErrAuthenticationRequired)
}

func TestWorkflow_Update_Reschedules(t *testing.T) {
	service, api, sched := newTestService(t)

	workflow := persisted("wf-1", models.WorkflowStatusActive, "p1")
	result := &scheduler.ScheduleResult{WorkflowID: "wf-1", CancellationSucceeded: true}

	api.On("UpdateWorkflow", mock.Anything, workflow).Return(workflow, nil)
	sched.On("ScheduleWorkflow", mock.Anything, "wf-1").Return(result, nil)

	updated, schedule, err := service.Update(t.Context(), workflow)
	require.NoError(t, err)
	assert.Equal(t, workflow, updated)
	assert.Equal(t, result, schedule)
}

func TestWorkflow_Update_Paused(t *testing.T) {
	service, api, _ := newTestService(t)

	workflow := persisted("wf-1", models.WorkflowStatusPaused, "p1")
	api.On("UpdateWorkflow", mock.Anything, workflow).Return(workflow, nil)

	_, schedule, err := service.Update(t.Context(), workflow)
	require.NoError(t, err)
	assert.Nil(t, schedule)
}

func TestWorkflow_Update_Rejected(t *testing.T) {
	service, _, _ := newTestService(t)

	_, _, err := service.Update(t.Context(), checkupWorkflow("p1"))
	require.ErrorIs(t, err, services.ErrWorkflowIDRequired)

	_, _, err = service.Update(t.Context(), persisted("wf-1", models.WorkflowStatusCompleted, "p1"))
	require.ErrorIs(t, err, services.ErrWorkflowCompleted)
	assert.True(t, services.IsConflictError(err))
}

func TestWorkflow_ChangeStatus(t *testing.T) {
	t.Run("pause cancels jobs", func(t *testing.T) {
		service, api, sched := newTestService(t)

		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusActive), nil)
		api.On("UpdateStatus", mock.Anything, "wf-1", models.WorkflowStatusPaused).
			Return(persisted("wf-1", models.WorkflowStatusPaused), nil)
		sched.On("CancelWorkflow", mock.Anything, "wf-1").Return(nil)

		change, err := service.ChangeStatus(t.Context(), "wf-1", models.WorkflowStatusPaused)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusPaused, change.Workflow.Status)
		assert.Nil(t, change.Schedule)
	})

	t.Run("resume reschedules", func(t *testing.T) {
		service, api, sched := newTestService(t)
		result := &scheduler.ScheduleResult{WorkflowID: "wf-1", CancellationSucceeded: true}

		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusPaused), nil)
		api.On("UpdateStatus", mock.Anything, "wf-1", models.WorkflowStatusActive).
			Return(persisted("wf-1", models.WorkflowStatusActive), nil)
		sched.On("ScheduleWorkflow", mock.Anything, "wf-1").Return(result, nil)

		change, err := service.ChangeStatus(t.Context(), "wf-1", models.WorkflowStatusActive)
		require.NoError(t, err)
		assert.Equal(t, result, change.Schedule)
	})

	t.Run("complete cancels jobs", func(t *testing.T) {
		service, api, sched := newTestService(t)

		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusPaused), nil)
		api.On("UpdateStatus", mock.Anything, "wf-1", models.WorkflowStatusCompleted).
			Return(persisted("wf-1", models.WorkflowStatusCompleted), nil)
		sched.On("CancelWorkflow", mock.Anything, "wf-1").Return(nil)

		_, err := service.ChangeStatus(t.Context(), "wf-1", models.WorkflowStatusCompleted)
		require.NoError(t, err)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		service, api, _ := newTestService(t)

		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", ""), nil)

		change, err := service.ChangeStatus(t.Context(), "wf-1", models.WorkflowStatusActive)
		require.NoError(t, err)
		assert.Equal(t, "wf-1", change.Workflow.ID)
	})

	t.Run("completed cannot be resumed", func(t *testing.T) {
		service, api, _ := newTestService(t)

		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusCompleted), nil)

		_, err := service.ChangeStatus(t.Context(), "wf-1", models.WorkflowStatusActive)
		require.ErrorIs(t, err, services.ErrInvalidStatusTransition)
		assert.True(t, services.IsConflictError(err))
	})

	t.Run("unknown status", func(t *testing.T) {
		service, _, _ := newTestService(t)

		_, err := service.ChangeStatus(t.Context(), "wf-1", "archived")
		require.ErrorIs(t, err, services.ErrInvalidStatus)
		assert.True(t, services.IsValidationError(err))
	})
}

func TestWorkflow_Delete(t *testing.T) {
	t.Run("cancels then deletes", func(t *testing.T) {
		service, api, sched := newTestService(t)

		sched.On("CancelWorkflow", mock.Anything, "wf-1").Return(nil).Once()
		api.On("DeleteWorkflow", mock.Anything, "wf-1").Return(nil).Once()

		require.NoError(t, service.Delete(t.Context(), "wf-1"))

		require.Len(t, sched.Calls, 1)
		require.Len(t, api.Calls, 1)
	})

	t.Run("cancel failure still deletes", func(t *testing.T) {
		service, api, sched := newTestService(t)

		sched.On("CancelWorkflow", mock.Anything, "wf-1").Return(errors.New("queue down"))
		api.On("DeleteWorkflow", mock.Anything, "wf-1").Return(nil)

		require.NoError(t, service.Delete(t.Context(), "wf-1"))
	})

	t.Run("missing credentials abort", func(t *testing.T) {
		service, _, sched := newTestService(t)

		sched.On("CancelWorkflow", mock.Anything, "wf-1").Return(auth.ErrAuthenticationRequired)

		err := service.Delete(t.Context(), "wf-1")
		require.ErrorIs(t, err, auth.ErrAuthenticationRequired)
	})

	t.Run("empty id", func(t *testing.T) {
		service, _, _ := newTestService(t)

		err := service.Delete(t.Context(), " ")
		require.ErrorIs(t, err, services.ErrWorkflowIDRequired)
	})
}

func TestWorkflow_Assign(t *testing.T) {
	service, api, sched := newTestService(t)

	updated := persisted("wf-1", models.WorkflowStatusActive, "p1", "p2")
	result := &scheduler.ScheduleResult{WorkflowID: "wf-1", CancellationSucceeded: true}

	api.On("AssignPatients", mock.Anything, "wf-1", []string{"p2"}).Return(updated, nil)
	sched.On("ScheduleWorkflow", mock.Anything, "wf-1").Return(result, nil)

	workflow, schedule, err := service.Assign(t.Context(), "wf-1", []string{"", "p2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, workflow.PatientsIDs)
	assert.Equal(t, result, schedule)

	_, _, err = service.Assign(t.Context(), "wf-1", []string{" "})
	require.ErrorIs(t, err, services.ErrPatientsRequired)
}

func TestWorkflow_MoveStep(t *testing.T) {
	service, api, sched := newTestService(t)

	api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusActive, "p1"), nil)
	api.On("UpdateWorkflow", mock.Anything, mock.MatchedBy(func(w *models.Workflow) bool {
		return w.Steps[0].Type == models.StepTypeAppointment &&
			w.Steps[0].Order == 1 &&
			w.Steps[1].Type == models.StepTypeAnalysisTest &&
			w.Steps[1].Order == 2
	})).Return(persisted("wf-1", models.WorkflowStatusActive, "p1"), nil)
	sched.On("ScheduleWorkflow", mock.Anything, "wf-1").Return(&scheduler.ScheduleResult{WorkflowID: "wf-1"}, nil)

	_, _, err := service.MoveStep(t.Context(), "wf-1", 1, 0)
	require.NoError(t, err)
}

func TestWorkflow_AddAndRemoveStep(t *testing.T) {
	service, api, sched := newTestService(t)

	for range 3 {
		api.On("FetchWorkflow", mock.Anything, "wf-1").Return(persisted("wf-1", models.WorkflowStatusPaused, "p1"), nil).Once()
	}

	api.On("UpdateWorkflow", mock.Anything, mock.MatchedBy(func(w *models.Workflow) bool {
		return len(w.Steps) == 3 && w.Steps[1].Type == models.StepTypeReminder && w.Steps[2].Order == 3
	})).Return(persisted("wf-1", models.WorkflowStatusPaused, "p1"), nil).Once()
	api.On("UpdateWorkflow", mock.Anything, mock.MatchedBy(func(w *models.Workflow) bool {
		return len(w.Steps) == 1 && w.Steps[0].Order == 1
	})).Return(persisted("wf-1", models.WorkflowStatusPaused, "p1"), nil).Once()

	_, _, err := service.AddStep(t.Context(), "wf-1", &models.WorkflowStep{Type: models.StepTypeReminder}, 1)
	require.NoError(t, err)

	_, _, err = service.RemoveStep(t.Context(), "wf-1", 0)
	require.NoError(t, err)

	_, _, err = service.RemoveStep(t.Context(), "wf-1", 9)
	require.ErrorIs(t, err, models.ErrStepIndexOutOfRange)
	assert.True(t, services.IsValidationError(err))

	sched.AssertNotCalled(t, "ScheduleWorkflow", mock.Anything, mock.Anything)
}
