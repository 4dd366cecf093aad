package domain

import "time"

// JobStatus is the lifecycle state of an asynchronous scan job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScanJob tracks one asynchronous full scan. Jobs are keyed by the hash of
// all scan parameters so identical concurrent requests attach to the same
// job instead of re-running the work. A job record is mutated only by the
// manager that owns it. There is no explicit cancellation: an abandoned job
// runs to completion and its result stays retrievable from the cache.
type ScanJob struct {
	ID             string     `json:"id"`
	ParamsHash     string     `json:"paramsHash"`
	Wallet         string     `json:"wallet"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
	ResultCacheKey string     `json:"resultCacheKey,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j ScanJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
