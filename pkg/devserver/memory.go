package devserver

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dukex/careflow/pkg/models"
)

// MemoryJobStore keeps jobs and history in process memory.
type MemoryJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	history map[string][]models.ExecutionRecord
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*Job),
		history: make(map[string][]models.ExecutionRecord),
	}
}

func (m *MemoryJobStore) Enqueue(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *job
	m.jobs[job.ID] = &stored

	return nil
}

func (m *MemoryJobStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*Job, 0)

	for _, job := range m.jobs {
		if !job.DueAt.After(now) {
			due = append(due, job)
		}
	}

	sortByDueAt(due)

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for _, job := range due {
		delete(m.jobs, job.ID)
	}

	return due, nil
}

func (m *MemoryJobStore) CancelWorkflow(_ context.Context, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancelled := 0

	for id, job := range m.jobs {
		if job.Descriptor.WorkflowID == workflowID {
			delete(m.jobs, id)

			cancelled++
		}
	}

	return cancelled, nil
}

func (m *MemoryJobStore) Pending(_ context.Context, workflowID string) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]*Job, 0)

	for _, job := range m.jobs {
		if job.Descriptor.WorkflowID == workflowID {
			copied := *job
			pending = append(pending, &copied)
		}
	}

	sortByDueAt(pending)

	return pending, nil
}

func (m *MemoryJobStore) AppendRecord(_ context.Context, record models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[record.WorkflowID] = append(m.history[record.WorkflowID], record)

	return nil
}

func (m *MemoryJobStore) History(_ context.Context, workflowID string) ([]models.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.history[workflowID]), nil
}

func (m *MemoryJobStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryJobStore) Close() error {
	return nil
}

func sortByDueAt(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}
