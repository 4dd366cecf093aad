// Package jobs runs full portfolio scans asynchronously with coalescing:
// identical concurrent requests attach to one running job instead of
// repeating the work.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avasile/sharescan/internal/domain"
)

// EventsChannel is the pub/sub channel carrying job lifecycle events.
const EventsChannel = "jobs:events"

// Scanner runs one portfolio scan. Satisfied by *scan.Orchestrator.
type Scanner interface {
	Scan(ctx context.Context, params domain.ScanParams) (*domain.ScanResult, error)
}

// Event is one job lifecycle notification published on the signal bus.
type Event struct {
	JobID  string           `json:"jobId"`
	Wallet string           `json:"wallet"`
	Status domain.JobStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Config holds the manager's timing knobs.
type Config struct {
	// JobTimeout bounds one full scan's execution. Full scans have no soft
	// budget, so this is the only backstop against a hung provider.
	JobTimeout time.Duration

	// LockTTL bounds the cross-process coalescing lock.
	LockTTL time.Duration

	// ResultTTL is how long completed results stay in the cache.
	ResultTTL time.Duration
}

// Manager owns the scan job lifecycle. Coalescing happens at two levels: an
// in-process map of running jobs, and a distributed lock keyed by the params
// hash so separate processes also converge on one job.
type Manager struct {
	scanner Scanner
	store   domain.JobStore
	cache   domain.KVCache
	locks   domain.LockManager
	bus     domain.SignalBus
	archive domain.ScanArchive
	blobs   domain.BlobWriter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]string // params hash -> job id
}

// NewManager creates a Manager. archive, blobs, and bus are optional
// enrichments; passing nil disables them.
func NewManager(
	scanner Scanner,
	store domain.JobStore,
	cache domain.KVCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	archive domain.ScanArchive,
	blobs domain.BlobWriter,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.JobTimeout
	}
	return &Manager{
		scanner: scanner,
		store:   store,
		cache:   cache,
		locks:   locks,
		bus:     bus,
		archive: archive,
		blobs:   blobs,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "job_manager")),
		running: make(map[string]string),
	}
}

// Submit starts a full scan job for the given parameters, or returns the
// existing job when an identical scan is already pending or running. The
// second return value reports whether the job was newly created.
func (m *Manager) Submit(ctx context.Context, params domain.ScanParams) (domain.ScanJob, bool, error) {
	params.Normalize()
	params.Mode = domain.ScanModeFull
	hash := params.CacheKey()

	// In-process coalescing first: if this process already runs the job,
	// return it without touching Redis.
	m.mu.Lock()
	if id, ok := m.running[hash]; ok {
		m.mu.Unlock()
		if job, err := m.store.Get(ctx, id); err == nil && !job.Terminal() {
			return job, false, nil
		}
	} else {
		m.mu.Unlock()
	}

	// Cross-process coalescing: a live non-terminal job for the same params
	// hash absorbs this request.
	if job, err := m.store.GetByParamsHash(ctx, hash); err == nil && !job.Terminal() {
		return job, false, nil
	}

	unlock, err := m.locks.Acquire(ctx, "job:"+hash, m.cfg.LockTTL)
	if err != nil {
		if err == domain.ErrLockHeld {
			// Lost the race: the winner's job record should appear shortly.
			if job, lookupErr := m.store.GetByParamsHash(ctx, hash); lookupErr == nil && !job.Terminal() {
				return job, false, nil
			}
			return domain.ScanJob{}, false, domain.ErrLockHeld
		}
		return domain.ScanJob{}, false, fmt.Errorf("jobs: acquire lock: %w", err)
	}

	job := domain.ScanJob{
		ID:         uuid.New().String(),
		ParamsHash: hash,
		Wallet:     params.Wallet,
		Status:     domain.JobPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Put(ctx, job); err != nil {
		unlock()
		return domain.ScanJob{}, false, fmt.Errorf("jobs: store job: %w", err)
	}

	m.mu.Lock()
	m.running[hash] = job.ID
	m.mu.Unlock()

	m.publish(job)

	// Detach from the request context: the job outlives the HTTP request
	// that created it.
	go m.run(context.Background(), job, params, unlock)

	return job, true, nil
}

// Get returns the current state of a job.
func (m *Manager) Get(ctx context.Context, id string) (domain.ScanJob, error) {
	return m.store.Get(ctx, id)
}

// Result loads a completed job's scan result from the cache.
func (m *Manager) Result(ctx context.Context, job domain.ScanJob) (*domain.ScanResult, error) {
	if job.Status != domain.JobCompleted || job.ResultCacheKey == "" {
		return nil, domain.ErrNotFound
	}
	var result domain.ScanResult
	if err := m.cache.GetJSON(ctx, job.ResultCacheKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *Manager) run(ctx context.Context, job domain.ScanJob, params domain.ScanParams, unlock func()) {
	defer unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, job.ParamsHash)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	now := time.Now().UTC()
	job.Status = domain.JobRunning
	job.StartedAt = &now
	m.update(ctx, job)

	m.logger.Info("job started",
		slog.String("job_id", job.ID),
		slog.String("wallet", job.Wallet),
	)

	result, err := m.scanner.Scan(ctx, params)
	finished := time.Now().UTC()
	job.FinishedAt = &finished

	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		m.update(ctx, job)
		m.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	cacheKey := "scan:full:" + job.ParamsHash
	if err := m.cache.SetJSON(ctx, cacheKey, result, m.cfg.ResultTTL); err != nil {
		// The result cannot be handed to the caller without the cache, so a
		// write failure fails the job.
		job.Status = domain.JobFailed
		job.Error = fmt.Sprintf("store result: %v", err)
		m.update(ctx, job)
		m.logger.Error("job result write failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	job.Status = domain.JobCompleted
	job.ResultCacheKey = cacheKey
	m.update(ctx, job)

	m.archiveResult(ctx, job, result)

	m.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("wallet", job.Wallet),
		slog.Int("holdings", len(result.Holdings)),
		slog.Duration("took", finished.Sub(now)),
	)
}

// update persists the job record and publishes its new status. Persistence
// failures are logged; the in-memory copy keeps progressing.
func (m *Manager) update(ctx context.Context, job domain.ScanJob) {
	if err := m.store.Put(ctx, job); err != nil {
		m.logger.Warn("job store update failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	m.publish(job)
}

func (m *Manager) publish(job domain.ScanJob) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(Event{
		JobID:  job.ID,
		Wallet: job.Wallet,
		Status: job.Status,
		Error:  job.Error,
	})
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.bus.Publish(pubCtx, EventsChannel, payload); err != nil {
		m.logger.Warn("job event publish failed", slog.String("error", err.Error()))
	}
}

// archiveResult writes the compact summary to Postgres and the full payload
// to blob storage. Both are best-effort.
func (m *Manager) archiveResult(ctx context.Context, job domain.ScanJob, result *domain.ScanResult) {
	if m.archive != nil {
		summary := domain.ScanSummary{
			JobID:         job.ID,
			Wallet:        job.Wallet,
			FinishedAt:    *job.FinishedAt,
			TokensHeld:    len(result.Holdings),
			RealizedPnL:   bigString(result.Totals.RealizedPnL),
			CostBasis:     bigString(result.Totals.CostBasis),
			UnrealizedPnL: bigString(result.Totals.UnrealizedPnL),
			Mismatches:    result.Completeness.Mismatches,
		}
		if err := m.archive.SaveSummary(ctx, summary); err != nil {
			m.logger.Warn("scan summary archive failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.blobs != nil {
		payload, err := json.Marshal(result)
		if err == nil {
			key := fmt.Sprintf("scans/%s/%s.json", job.Wallet, job.ID)
			if err := m.blobs.Write(ctx, key, payload, "application/json"); err != nil {
				m.logger.Warn("scan payload archive failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
