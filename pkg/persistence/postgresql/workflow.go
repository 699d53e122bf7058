package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const workflowColumns = `
			id
		  , name
		  , description
		  , doctor_id
		  , status
		  , is_template
		  , patients_ids
		  , steps
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// List returns the non-deleted workflows passing opts.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListOptions) ([]*models.Workflow, error) {
	query, args, err := r.buildListQuery(opts)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) buildListQuery(opts persistence.ListOptions) (string, []any, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return "", nil, err
	}

	var (
		conditions = []string{"deleted_at IS NULL"}
		args       []any
	)

	addCondition := func(format string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, "$"+strconv.Itoa(len(args))))
	}

	if opts.DoctorID != "" {
		addCondition("doctor_id = %s", opts.DoctorID)
	}

	if opts.Status != "" {
		addCondition("status = %s", string(opts.Status))
	}

	if opts.PatientID != "" {
		addCondition("%s = ANY(patients_ids)", opts.PatientID)
	}

	// SortBy and SortOrder are allowlisted by WithDefaults
	query := "SELECT" + workflowColumns + `
		FROM workflows
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY ` + opts.SortBy + " " + strings.ToUpper(opts.SortOrder) + ", id"

	return query, args, nil
}

// GetByID returns a non-deleted workflow or persistence.ErrWorkflowNotFound.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := "SELECT" + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save upserts a workflow, assigning an ID and timestamps when missing.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	models.NormalizePatientAssociation(workflow)

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusActive
	}

	steps := workflow.Steps
	if steps == nil {
		steps = []*models.WorkflowStep{}
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, doctor_id, status, is_template,
patients_ids, steps, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			doctor_id = EXCLUDED.doctor_id,
			status = EXCLUDED.status,
			is_template = EXCLUDED.is_template,
			patients_ids = EXCLUDED.patients_ids,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.DoctorID,
		workflow.Status,
		workflow.IsTemplate,
		pq.Array(workflow.PatientsIDs),
		stepsJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(scanner interface {
	Scan(dest ...any) error
},
) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		patientsIDs pq.StringArray
		stepsJSON   []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.DoctorID,
		&workflow.Status,
		&workflow.IsTemplate,
		&patientsIDs,
		&stepsJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.PatientsIDs = []string(patientsIDs)
	if workflow.PatientsIDs == nil {
		workflow.PatientsIDs = []string{}
	}

	if len(stepsJSON) > 0 {
		err = json.Unmarshal(stepsJSON, &workflow.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps of workflow %s: %w", workflow.ID, err)
		}
	}

	return &workflow, nil
}
