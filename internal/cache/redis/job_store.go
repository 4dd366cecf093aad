package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avasile/sharescan/internal/domain"
)

// JobStore implements domain.JobStore using JSON-serialized job records and
// a params-hash index for coalescing lookups.
//
// Key schema:
//
//	job:{id}          - JSON-serialized ScanJob
//	job:params:{hash} - string value of the job id
type JobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewJobStore creates a JobStore backed by the given Client. Records expire
// after ttl.
func NewJobStore(c *Client, ttl time.Duration) *JobStore {
	return &JobStore{rdb: c.Underlying(), ttl: ttl}
}

func jobKey(id string) string         { return "job:" + id }
func jobParamsKey(hash string) string { return "job:params:" + hash }

// Put stores a job record and refreshes its params-hash index entry.
func (js *JobStore) Put(ctx context.Context, job domain.ScanJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.ID, err)
	}

	pipe := js.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, js.ttl)
	pipe.Set(ctx, jobParamsKey(job.ParamsHash), job.ID, js.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by id. Returns domain.ErrJobNotFound when absent.
func (js *JobStore) Get(ctx context.Context, id string) (domain.ScanJob, error) {
	data, err := js.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ScanJob{}, domain.ErrJobNotFound
		}
		return domain.ScanJob{}, fmt.Errorf("redis: get job %s: %w", id, err)
	}

	var job domain.ScanJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.ScanJob{}, fmt.Errorf("redis: unmarshal job %s: %w", id, err)
	}
	return job, nil
}

// GetByParamsHash looks a job up through the coalescing index. Returns
// domain.ErrJobNotFound when no job exists for the hash.
func (js *JobStore) GetByParamsHash(ctx context.Context, hash string) (domain.ScanJob, error) {
	id, err := js.rdb.Get(ctx, jobParamsKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ScanJob{}, domain.ErrJobNotFound
		}
		return domain.ScanJob{}, fmt.Errorf("redis: get job by params %s: %w", hash, err)
	}
	return js.Get(ctx, id)
}

// Compile-time interface check.
var _ domain.JobStore = (*JobStore)(nil)
