// Package ledger replays a wallet's chronological event ledger into
// per-token positions with moving-average cost basis and realized P&L.
package ledger

import (
	"math/big"
	"strings"

	"github.com/avasile/sharescan/internal/domain"
)

// ReplayResult is the outcome of one full ledger replay.
type ReplayResult struct {
	Positions map[domain.TokenKey]*domain.Position
	Totals    domain.PortfolioTotals
}

// Replay sorts the entries chronologically and replays them one at a time
// into a fresh position map. Replay is pure: the same ledger always produces
// the same result, and positions exist only for tokens the ledger touched.
func Replay(wallet string, entries []domain.LedgerEntry) ReplayResult {
	wallet = strings.ToLower(wallet)

	sorted := make([]domain.LedgerEntry, len(entries))
	copy(sorted, entries)
	domain.SortLedger(sorted)

	res := ReplayResult{
		Positions: make(map[domain.TokenKey]*domain.Position),
		Totals: domain.PortfolioTotals{
			RealizedPnL: new(big.Int),
			CostBasis:   new(big.Int),
		},
	}

	for _, entry := range sorted {
		pos := res.Positions[entry.Token]
		if pos == nil {
			pos = &domain.Position{
				Token:      entry.Token,
				Shares:     new(big.Int),
				CostBasis:  new(big.Int),
				FreeShares: new(big.Int),
			}
			res.Positions[entry.Token] = pos
		}

		switch entry.Kind {
		case domain.EntryPromotion, domain.EntryReconciledTransfer:
			applyFree(pos, &res.Totals, entry)
		case domain.EntryTrade, domain.EntryInferredTrade:
			applyTrade(wallet, pos, &res.Totals, entry)
		}
	}

	for _, pos := range res.Positions {
		res.Totals.CostBasis.Add(res.Totals.CostBasis, pos.CostBasis)
	}
	return res
}

// applyFree handles promotions and reconciled transfers: positive deltas add
// shares at zero cost; negative deltas (unexpected polarity, but transfers
// out are routine) remove shares at the current average cost.
func applyFree(pos *domain.Position, totals *domain.PortfolioTotals, entry domain.LedgerEntry) {
	delta := entry.ShareDelta
	if delta.Sign() >= 0 {
		pos.Shares.Add(pos.Shares, delta)
		pos.FreeShares.Add(pos.FreeShares, delta)
		totals.FreeShareGrants++
		return
	}

	removed := new(big.Int).Neg(delta)
	costRemoved := costAtAverage(pos, removed)
	pos.Shares.Sub(pos.Shares, removed)
	pos.CostBasis.Sub(pos.CostBasis, costRemoved)
	if pos.Shares.Sign() < 0 {
		pos.WentNegative = true
	}
}

// applyTrade handles trade and inferred-trade entries in both directions.
func applyTrade(wallet string, pos *domain.Position, totals *domain.PortfolioTotals, entry domain.LedgerEntry) {
	delta := entry.ShareDelta
	currency := entry.CurrencyDelta
	if currency == nil {
		currency = new(big.Int)
	}

	if delta.Sign() > 0 {
		// Buy side: cost is added only when the wallet actually paid.
		pos.Shares.Add(pos.Shares, delta)
		if currency.Sign() < 0 {
			paid := new(big.Int).Neg(currency)
			pos.CostBasis.Add(pos.CostBasis, paid)
			return
		}
		if isGift(wallet, entry.Trade) {
			totals.GiftBuys++
		} else {
			totals.UnknownCostBuys++
		}
		return
	}

	if delta.Sign() < 0 {
		// Sell side: remove shares at average cost; realize P&L only when
		// the proceeds actually reached the wallet.
		removed := new(big.Int).Neg(delta)
		costRemoved := costAtAverage(pos, removed)
		pos.Shares.Sub(pos.Shares, removed)
		pos.CostBasis.Sub(pos.CostBasis, costRemoved)
		if pos.Shares.Sign() < 0 {
			pos.WentNegative = true
		}

		if currency.Sign() > 0 {
			pnl := new(big.Int).Sub(currency, costRemoved)
			totals.RealizedPnL.Add(totals.RealizedPnL, pnl)
		} else {
			totals.RedirectedSells++
		}
	}
}

// costAtAverage returns the cost to remove for the given share amount at the
// position's current average cost. With no shares held the average is
// undefined and the removed cost is zero.
func costAtAverage(pos *domain.Position, removed *big.Int) *big.Int {
	if pos.Shares.Sign() <= 0 || pos.CostBasis.Sign() <= 0 {
		return new(big.Int)
	}
	// avgCost = costBasis * 1e18 / shares; costRemoved = avgCost * removed / 1e18.
	avg := new(big.Int).Mul(pos.CostBasis, domain.SharesWad)
	avg.Quo(avg, pos.Shares)
	cost := avg.Mul(avg, removed)
	return cost.Quo(cost, domain.SharesWad)
}

// isGift reports whether a zero-cost buy was a gift: shares delivered to the
// wallet by a trade someone else initiated and paid for.
func isGift(wallet string, trade *domain.TradeEvent) bool {
	if trade == nil {
		return false
	}
	return strings.ToLower(trade.Recipient) == wallet && strings.ToLower(trade.Initiator) != wallet
}
