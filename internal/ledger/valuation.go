package ledger

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/avasile/sharescan/internal/domain"
)

// Valuer annotates token reports with current prices and unrealized P&L
// using batched price reads. Price failures for one batch leave valuation
// undefined for those tokens and never fail the scan.
type Valuer struct {
	reader    domain.PriceReader
	batchSize int
	logger    *slog.Logger
}

// NewValuer creates a Valuer. batchSize is capped at 100 ids per call.
func NewValuer(reader domain.PriceReader, batchSize int, logger *slog.Logger) *Valuer {
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}
	return &Valuer{reader: reader, batchSize: batchSize, logger: logger}
}

// Value fills Price, Value, and UnrealizedPnL on each report: value is the
// mark of the full on-chain balance, while unrealized P&L is measured only
// over ledger-tracked shares against their cost basis. Returns the number of
// failed price batches.
func (v *Valuer) Value(ctx context.Context, pair string, reports []*domain.TokenReport) int {
	if len(reports) == 0 {
		return 0
	}

	errors := 0
	for start := 0; start < len(reports); start += v.batchSize {
		end := min(start+v.batchSize, len(reports))
		batch := reports[start:end]

		ids := make([]*big.Int, 0, len(batch))
		for _, r := range batch {
			ids = append(ids, r.Token.TokenIDInt())
		}

		prices, err := v.reader.Prices(ctx, pair, ids)
		if err != nil {
			errors++
			v.logger.Warn("price batch failed",
				slog.String("pair", pair),
				slog.Int("batch_size", len(ids)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, r := range batch {
			price, ok := prices[r.Token.TokenID]
			if !ok {
				continue
			}
			r.Price = price

			value := new(big.Int).Mul(price, r.Balance)
			r.Value = value.Quo(value, domain.SharesWad)

			if r.TrackedShares != nil && r.CostBasis != nil {
				tracked := new(big.Int).Mul(price, r.TrackedShares)
				tracked.Quo(tracked, domain.SharesWad)
				r.UnrealizedPnL = tracked.Sub(tracked, r.CostBasis)
			}
		}
	}
	return errors
}
