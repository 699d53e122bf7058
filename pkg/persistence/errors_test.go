package persistence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.False(t, persistence.IsInvalidSortField(workflowErr))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Delete", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})
}

func TestListOptions_WithDefaults(t *testing.T) {
	opts, err := persistence.ListOptions{}.WithDefaults()
	require.NoError(t, err)
	assert.Equal(t, "created_at", opts.SortBy)
	assert.Equal(t, "asc", opts.SortOrder)

	tests := []struct {
		name string
		opts persistence.ListOptions
	}{
		{name: "unknown field", opts: persistence.ListOptions{SortBy: "invalid_field"}},
		{name: "sql injection attempt", opts: persistence.ListOptions{SortBy: "name; DROP TABLE workflows; --"}},
		{name: "unknown order", opts: persistence.ListOptions{SortOrder: "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.WithDefaults()
			require.Error(t, err)
			assert.True(t, persistence.IsInvalidSortField(err))
		})
	}
}

func TestListOptions_Matches(t *testing.T) {
	workflow := &models.Workflow{
		DoctorID:  "doc-1",
		Status:    models.WorkflowStatusActive,
		PatientID: "p1",
	}

	assert.True(t, persistence.ListOptions{}.Matches(workflow))
	assert.True(t, persistence.ListOptions{DoctorID: "doc-1", PatientID: "p1"}.Matches(workflow))
	assert.False(t, persistence.ListOptions{DoctorID: "doc-2"}.Matches(workflow))
	assert.False(t, persistence.ListOptions{Status: models.WorkflowStatusPaused}.Matches(workflow))
	assert.False(t, persistence.ListOptions{PatientID: "p2"}.Matches(workflow))
}

func TestListOptions_SortWorkflows(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	workflows := []*models.Workflow{
		{Name: "b", CreatedAt: base.Add(time.Hour)},
		{Name: "c", CreatedAt: base},
		{Name: "a", CreatedAt: base.Add(2 * time.Hour)},
	}

	persistence.ListOptions{SortBy: "name", SortOrder: "asc"}.SortWorkflows(workflows)
	assert.Equal(t, "a", workflows[0].Name)

	persistence.ListOptions{SortBy: "created_at", SortOrder: "desc"}.SortWorkflows(workflows)
	assert.Equal(t, "a", workflows[0].Name)
	assert.Equal(t, "c", workflows[2].Name)
}
