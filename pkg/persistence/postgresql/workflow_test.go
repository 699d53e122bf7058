package postgresql

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_buildListQuery(t *testing.T) {
	repo := NewWorkflowRepository(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	query, args, err := repo.buildListQuery(persistence.ListOptions{
		DoctorID:  "doc-1",
		Status:    models.WorkflowStatusActive,
		PatientID: "p1",
		SortBy:    "name",
		SortOrder: "desc",
	})
	require.NoError(t, err)

	assert.Contains(t, query, "deleted_at IS NULL AND doctor_id = $1 AND status = $2 AND $3 = ANY(patients_ids)")
	assert.Contains(t, query, "ORDER BY name DESC, id")
	assert.Equal(t, []any{"doc-1", "active", "p1"}, args)

	query, args, err = repo.buildListQuery(persistence.ListOptions{})
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE deleted_at IS NULL\n")
	assert.Contains(t, query, "ORDER BY created_at ASC, id")
	assert.Empty(t, args)
}

func TestWorkflowRepository_buildListQuery_InvalidSortField(t *testing.T) {
	repo := NewWorkflowRepository(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name    string
		sortBy  string
		wantErr error
	}{
		{
			name:    "invalid sort field should return ErrInvalidSortField",
			sortBy:  "invalid_field",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "sql injection attempt should return ErrInvalidSortField",
			sortBy:  "name; DROP TABLE workflows; --",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "valid sort field should not return error",
			sortBy:  "updated_at",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := repo.buildListQuery(persistence.ListOptions{SortBy: tt.sortBy, SortOrder: "asc"})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, persistence.IsInvalidSortField(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
