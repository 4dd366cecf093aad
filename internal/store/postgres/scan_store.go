package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avasile/sharescan/internal/domain"
)

// ScanStore implements domain.ScanArchive using PostgreSQL. Amounts are
// stored as NUMERIC and round-tripped through decimal strings because the
// domain uses big integers end to end.
type ScanStore struct {
	pool *pgxpool.Pool
}

// NewScanStore creates a new ScanStore backed by the given connection pool.
func NewScanStore(pool *pgxpool.Pool) *ScanStore {
	return &ScanStore{pool: pool}
}

const scanSummaryCols = `job_id, wallet, finished_at, tokens_held,
	realized_pnl::TEXT, cost_basis::TEXT, unrealized_pnl::TEXT, mismatches`

func scanSummaryRows(rows pgx.Rows) ([]domain.ScanSummary, error) {
	var summaries []domain.ScanSummary
	for rows.Next() {
		var s domain.ScanSummary
		if err := rows.Scan(
			&s.JobID, &s.Wallet, &s.FinishedAt, &s.TokensHeld,
			&s.RealizedPnL, &s.CostBasis, &s.UnrealizedPnL, &s.Mismatches,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// SaveSummary upserts one scan summary keyed by job id.
func (s *ScanStore) SaveSummary(ctx context.Context, sum domain.ScanSummary) error {
	const query = `
		INSERT INTO scan_summaries (
			job_id, wallet, finished_at, tokens_held,
			realized_pnl, cost_basis, unrealized_pnl, mismatches
		) VALUES (
			$1, $2, $3, $4,
			$5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8
		)
		ON CONFLICT (job_id) DO UPDATE SET
			finished_at    = EXCLUDED.finished_at,
			tokens_held    = EXCLUDED.tokens_held,
			realized_pnl   = EXCLUDED.realized_pnl,
			cost_basis     = EXCLUDED.cost_basis,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			mismatches     = EXCLUDED.mismatches`

	_, err := s.pool.Exec(ctx, query,
		sum.JobID, sum.Wallet, sum.FinishedAt, sum.TokensHeld,
		sum.RealizedPnL, sum.CostBasis, sum.UnrealizedPnL, sum.Mismatches,
	)
	if err != nil {
		return fmt.Errorf("postgres: save scan summary %s: %w", sum.JobID, err)
	}
	return nil
}

// History returns the most recent scan summaries for a wallet, newest first.
func (s *ScanStore) History(ctx context.Context, wallet string, limit int) ([]domain.ScanSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+scanSummaryCols+` FROM scan_summaries
		 WHERE wallet = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history rows: %w", err)
	}
	return summaries, nil
}

// Compile-time interface check.
var _ domain.ScanArchive = (*ScanStore)(nil)
