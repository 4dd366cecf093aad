package domain

import (
	"context"
	"time"
)

// KVCache is the best-effort key/value cache used for scan payloads. Write
// failures are logged and swallowed by callers; a cache outage must never
// fail a scan.
type KVCache interface {
	GetJSON(ctx context.Context, key string, v any) error // ErrNotFound when absent
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error
}

// JobStore persists scan job records, indexed both by job id and by the
// params hash used for coalescing.
type JobStore interface {
	Put(ctx context.Context, job ScanJob) error
	Get(ctx context.Context, id string) (ScanJob, error)
	GetByParamsHash(ctx context.Context, hash string) (ScanJob, error)
}

// LockManager provides distributed locking, used to coalesce identical full
// scans across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter enforces a per-key sliding-window request limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub for job lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MetadataResolver fetches display metadata for a token URI. Best-effort:
// errors leave the metadata absent, never fail a scan.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string, tokenID string) (*TokenMetadata, error)
}

// ScanArchive persists completed scan summaries for wallet history queries.
type ScanArchive interface {
	SaveSummary(ctx context.Context, s ScanSummary) error
	History(ctx context.Context, wallet string, limit int) ([]ScanSummary, error)
}

// BlobWriter stores a raw object in cold storage (full-scan payload
// archive). Best-effort.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
