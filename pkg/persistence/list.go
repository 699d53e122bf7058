package persistence

import (
	"fmt"
	"slices"
	"sort"

	"github.com/dukex/careflow/pkg/models"
)

// ListOptions filters and sorts a workflow listing. Empty filters match everything.
type ListOptions struct {
	DoctorID  string
	PatientID string
	Status    models.WorkflowStatus

	SortBy    string
	SortOrder string
}

var allowedSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// WithDefaults fills the sort fields and rejects unknown ones.
func (o ListOptions) WithDefaults() (ListOptions, error) {
	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "asc"
	}

	if !allowedSorts[o.SortBy] {
		return o, fmt.Errorf("%w: %s", ErrInvalidSortField, o.SortBy)
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return o, fmt.Errorf("%w: %s", ErrInvalidSortOrder, o.SortOrder)
	}

	return o, nil
}

// Matches reports whether a workflow passes the filters.
func (o ListOptions) Matches(workflow *models.Workflow) bool {
	if o.DoctorID != "" && workflow.DoctorID != o.DoctorID {
		return false
	}

	if o.Status != "" && workflow.Status != o.Status {
		return false
	}

	if o.PatientID != "" && !slices.Contains(models.PatientIDs(workflow), o.PatientID) {
		return false
	}

	return true
}

// SortWorkflows sorts workflows in place by the options' field and order.
func (o ListOptions) SortWorkflows(workflows []*models.Workflow) {
	sort.SliceStable(workflows, func(i, j int) bool {
		var less bool

		switch o.SortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if o.SortOrder == "desc" {
			return !less
		}

		return less
	})
}
