package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/careflow/pkg/devserver"
)

// NewJobStore opens the dev server job store named by jobsURL: redis:// or
// rediss:// for Redis, memory:// or empty for process memory.
func NewJobStore(ctx context.Context, logger *slog.Logger, jobsURL string) (devserver.JobStore, error) {
	switch provider := parsePersistenceProvider(jobsURL); provider {
	case "redis", "rediss":
		store, err := devserver.OpenRedisJobStore(ctx, jobsURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open Redis job store: %w", err)
		}

		return store, nil
	case "memory", "file":
		return devserver.NewMemoryJobStore(), nil
	default:
		return nil, fmt.Errorf("unsupported job store: %s", provider)
	}
}
