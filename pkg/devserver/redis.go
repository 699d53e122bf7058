package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/careflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "careflow"
	redisPingTimeout   = 5 * time.Second
)

// RedisJobStore keeps pending jobs in a sorted set scored by due time
// (unix milliseconds). Job bodies live in a hash, each workflow indexes its
// pending job ids in a set, and history is a list per workflow.
type RedisJobStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisJobStore creates a job store over an existing client.
func NewRedisJobStore(client redis.UniversalClient, logger *slog.Logger) *RedisJobStore {
	return &RedisJobStore{
		client: client,
		prefix: defaultRedisPrefix,
		logger: logger.With("module", "redis_job_store"),
	}
}

// OpenRedisJobStore connects to the redis:// URL and checks the connection.
func OpenRedisJobStore(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisJobStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisJobStore(client, logger), nil
}

func (r *RedisJobStore) dueKey() string {
	return r.prefix + ":jobs:due"
}

func (r *RedisJobStore) dataKey() string {
	return r.prefix + ":jobs:data"
}

func (r *RedisJobStore) workflowJobsKey(workflowID string) string {
	return r.prefix + ":workflow:" + workflowID + ":jobs"
}

func (r *RedisJobStore) historyKey(workflowID string) string {
	return r.prefix + ":workflow:" + workflowID + ":history"
}

func (r *RedisJobStore) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.dataKey(), job.ID, data)
	pipe.SAdd(ctx, r.workflowJobsKey(job.Descriptor.WorkflowID), job.ID)
	pipe.ZAdd(ctx, r.dueKey(), redis.Z{Score: float64(job.DueAt.UnixMilli()), Member: job.ID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return nil
}

func (r *RedisJobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	claimed := make([]*Job, 0, len(ids))

	for _, id := range ids {
		// ZREM succeeds for exactly one claimer
		removed, err := r.client.ZRem(ctx, r.dueKey(), id).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", id, err)
		}

		if removed == 0 {
			continue
		}

		job, err := r.takeJob(ctx, id)
		if err != nil {
			r.logger.ErrorContext(ctx, "Dropping unreadable job", "job_id", id, "error", err)

			continue
		}

		claimed = append(claimed, job)
	}

	return claimed, nil
}

func (r *RedisJobStore) takeJob(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.HGet(ctx, r.dataKey(), id).Bytes()
	if err != nil {
		return nil, err
	}

	var job Job

	err = json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.dataKey(), id)
	pipe.SRem(ctx, r.workflowJobsKey(job.Descriptor.WorkflowID), id)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (r *RedisJobStore) CancelWorkflow(ctx context.Context, workflowID string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.workflowJobsKey(workflowID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read jobs of workflow %s: %w", workflowID, err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := r.client.TxPipeline()
	removed := pipe.ZRem(ctx, r.dueKey(), members...)
	pipe.HDel(ctx, r.dataKey(), ids...)
	pipe.Del(ctx, r.workflowJobsKey(workflowID))

	_, err = pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs of workflow %s: %w", workflowID, err)
	}

	return int(removed.Val()), nil
}

func (r *RedisJobStore) Pending(ctx context.Context, workflowID string) ([]*Job, error) {
	ids, err := r.client.SMembers(ctx, r.workflowJobsKey(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs of workflow %s: %w", workflowID, err)
	}

	pending := make([]*Job, 0, len(ids))

	if len(ids) == 0 {
		return pending, nil
	}

	values, err := r.client.HMGet(ctx, r.dataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs of workflow %s: %w", workflowID, err)
	}

	for _, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}

		var job Job

		err = json.Unmarshal([]byte(data), &job)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		pending = append(pending, &job)
	}

	sortByDueAt(pending)

	return pending, nil
}

func (r *RedisJobStore) AppendRecord(ctx context.Context, record models.ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	err = r.client.RPush(ctx, r.historyKey(record.WorkflowID), data).Err()
	if err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}

	return nil
}

func (r *RedisJobStore) History(ctx context.Context, workflowID string) ([]models.ExecutionRecord, error) {
	values, err := r.client.LRange(ctx, r.historyKey(workflowID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read history of workflow %s: %w", workflowID, err)
	}

	records := make([]models.ExecutionRecord, 0, len(values))

	for _, value := range values {
		var record models.ExecutionRecord

		err = json.Unmarshal([]byte(value), &record)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *RedisJobStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisJobStore) Close() error {
	return r.client.Close()
}
