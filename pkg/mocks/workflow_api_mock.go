package mocks

import (
	"context"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowAPI is a mock implementation of services.WorkflowAPI interface.
type MockWorkflowAPI struct {
	mock.Mock
}

func (m *MockWorkflowAPI) CreateWorkflow(
	ctx context.Context,
	workflow *models.Workflow,
	mode models.TemplateMode,
) ([]*models.Workflow, error) {
	args := m.Called(ctx, workflow, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowAPI) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	args := m.Called(ctx, workflow)

	return workflowArg(args)
}

func (m *MockWorkflowAPI) UpdateStatus(
	ctx context.Context,
	workflowID string,
	status models.WorkflowStatus,
) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID, status)

	return workflowArg(args)
}

func (m *MockWorkflowAPI) DeleteWorkflow(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

func (m *MockWorkflowAPI) AssignPatients(ctx context.Context, workflowID string, patientIDs []string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID, patientIDs)

	return workflowArg(args)
}

func (m *MockWorkflowAPI) FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID)

	return workflowArg(args)
}

// MockScheduler is a mock implementation of services.Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) SubmitWorkflow(ctx context.Context, workflow *models.Workflow) (scheduler.SubmissionResults, error) {
	args := m.Called(ctx, workflow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(scheduler.SubmissionResults), args.Error(1)
}

func (m *MockScheduler) ScheduleWorkflow(ctx context.Context, workflowID string) (*scheduler.ScheduleResult, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*scheduler.ScheduleResult), args.Error(1)
}

func (m *MockScheduler) CancelWorkflow(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

func workflowArg(args mock.Arguments) (*models.Workflow, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}
