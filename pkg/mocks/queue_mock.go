package mocks

import (
	"context"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of scheduler.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) CheckCredentials(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockQueue) SubmitJob(ctx context.Context, job *models.JobDescriptor) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockQueue) CancelWorkflow(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

func (m *MockQueue) FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockQueue) WorkflowHistory(ctx context.Context, workflowID string) (scheduler.RecordStream, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(scheduler.RecordStream), args.Error(1)
}

// RecordSlice is a scheduler.RecordStream over a fixed list of records.
type RecordSlice struct {
	Records []models.ExecutionRecord
	Err     error
	Closed  bool
	Reads   int
}

func (s *RecordSlice) Next() (models.ExecutionRecord, bool, error) {
	if s.Reads >= len(s.Records) {
		return models.ExecutionRecord{}, false, s.Err
	}

	record := s.Records[s.Reads]
	s.Reads++

	return record, true, nil
}

func (s *RecordSlice) Close() error {
	s.Closed = true

	return nil
}
