// Package persistence provides the workflow record store behind the development API server.
package persistence

import (
	"context"

	"github.com/dukex/careflow/pkg/models"
)

// Persistence stores workflow records. WorkflowByID and DeleteWorkflow fail
// with ErrWorkflowNotFound for unknown or deleted ids.
type Persistence interface {
	Workflows(ctx context.Context, opts ListOptions) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
