package domain

import "math/big"

// Position is the replayed state of one token: shares tracked by the ledger
// and the moving-average cost basis of those shares. Positions are created
// by the first ledger entry that references their token and mutated only by
// replay, one entry at a time.
type Position struct {
	Token     TokenKey `json:"token"`
	Shares    *big.Int `json:"shares"`    // 18-dec share units
	CostBasis *big.Int `json:"costBasis"` // 6-dec stablecoin units

	FreeShares *big.Int `json:"freeShares"` // shares acquired at zero cost

	// WentNegative flags that replay transiently drove shares below zero
	// (malformed input). The balance is not clamped; the flag is surfaced.
	WentNegative bool `json:"wentNegative,omitempty"`
}

// AvgCostPerShare returns the average cost of one whole share (scaled by
// SharesWad) in stablecoin units, or nil when no shares are held.
func (p *Position) AvgCostPerShare() *big.Int {
	if p.Shares == nil || p.Shares.Sign() <= 0 {
		return nil
	}
	n := new(big.Int).Mul(p.CostBasis, SharesWad)
	return n.Quo(n, p.Shares)
}

// TokenReport is the per-token output of a scan: on-chain balance, ledger
// position, valuation, and optional display metadata.
type TokenReport struct {
	Token         TokenKey       `json:"token"`
	Balance       *big.Int       `json:"balance"`       // on-chain holdings (ground truth)
	TrackedShares *big.Int       `json:"trackedShares"` // ledger-derived shares
	CostBasis     *big.Int       `json:"costBasis"`
	AvgCost       *big.Int       `json:"avgCost,omitempty"` // per share, 6-dec
	Price         *big.Int       `json:"price,omitempty"`   // current per-share price, 6-dec
	Value         *big.Int       `json:"value,omitempty"`   // price * balance / 1e18
	UnrealizedPnL *big.Int       `json:"unrealizedPnl,omitempty"`
	Metadata      *TokenMetadata `json:"metadata,omitempty"`
}

// PortfolioTotals aggregates wallet-level results of a ledger replay.
type PortfolioTotals struct {
	RealizedPnL   *big.Int `json:"realizedPnl"`
	CostBasis     *big.Int `json:"costBasis"`
	Value         *big.Int `json:"value,omitempty"`
	UnrealizedPnL *big.Int `json:"unrealizedPnl,omitempty"`

	// Classification counters for edge-case buys and sells.
	GiftBuys        int `json:"giftBuys"`
	UnknownCostBuys int `json:"unknownCostBuys"`
	RedirectedSells int `json:"redirectedSells"`
	FreeShareGrants int `json:"freeShareGrants"`
}
