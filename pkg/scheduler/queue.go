// Package scheduler turns validated workflows into job descriptors and
// submits them to the external queue. It keeps no state between calls: the
// queue owns every pending job and its execution history.
package scheduler

import (
	"context"

	"github.com/dukex/careflow/pkg/models"
)

// Queue is the external job queue and workflow API as the coordinator sees it.
type Queue interface {
	// CheckCredentials fails with auth.ErrAuthenticationRequired, without
	// any network call, when no token is available.
	CheckCredentials(ctx context.Context) error
	SubmitJob(ctx context.Context, job *models.JobDescriptor) error
	CancelWorkflow(ctx context.Context, workflowID string) error
	FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	WorkflowHistory(ctx context.Context, workflowID string) (RecordStream, error)
}

// RecordStream reads execution records one at a time, oldest dispatch first.
type RecordStream interface {
	// Next returns the next record; ok is false once the stream is exhausted.
	Next() (record models.ExecutionRecord, ok bool, err error)
	Close() error
}
