// Package file provides file-based persistence implementation for workflows.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence"
	"github.com/google/uuid"
)

// Persistence implements the persistence.Persistence interface using the
// file system: one JSON document per workflow under <root>/workflows.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) workflowsDir() string {
	return path.Join(fp.root, "workflows")
}

func (fp *Persistence) workflowPath(id string) string {
	return filepath.Clean(path.Join(fp.workflowsDir(), id+".json"))
}

// Workflows returns the workflows passing opts, sorted by opts.
func (fp *Persistence) Workflows(_ context.Context, opts persistence.ListOptions) ([]*models.Workflow, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return nil, err
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	jsonFiles, err := fs.Glob(os.DirFS(fp.workflowsDir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := strings.TrimSuffix(file, ".json")

		workflow, err := fp.read(workflowID)
		if err != nil {
			return nil, err
		}

		if opts.Matches(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	opts.SortWorkflows(workflows)

	return workflows, nil
}

// WorkflowByID retrieves a workflow by its ID from the file system.
func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.read(id)
}

func (fp *Persistence) read(id string) (*models.Workflow, error) {
	if !validID(id) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	body, err := os.ReadFile(fp.workflowPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return models.NormalizePatientAssociation(&workflow), nil
}

// SaveWorkflow writes a workflow, assigning an ID and timestamps when missing.
func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if !validID(workflow.ID) {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("invalid workflow ID"))
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.MkdirAll(fp.workflowsDir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(models.NormalizePatientAssociation(workflow), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	return os.WriteFile(fp.workflowPath(workflow.ID), data, 0600)
}

// DeleteWorkflow removes a workflow by its ID.
func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	if !validID(id) {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(fp.workflowPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// validID keeps ids from escaping the workflows directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
