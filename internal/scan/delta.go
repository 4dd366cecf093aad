// Package scan implements the portfolio reconstruction engine: raw transfer
// delta aggregation, protocol event decoding, reconciliation against
// on-chain ground truth, and the orchestrator that ties them together under
// request-time budgets.
package scan

import (
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/avasile/sharescan/internal/domain"
)

// txMeta remembers block position and timestamp per transaction so later
// stages can order ledger entries without refetching.
type txMeta struct {
	blockNum  uint64
	timestamp time.Time
}

// DeltaAggregator turns bulk transfer records into per-transaction,
// per-token signed deltas and running balances for one wallet. Records are
// de-duplicated by provider id and filtered to the configured contract
// allow-lists; everything else is ignored.
type DeltaAggregator struct {
	wallet     string
	allowed    map[string]domain.TransferCategory
	seen       map[string]bool
	holdings   map[domain.TokenKey]*big.Int
	cash       *big.Int
	shareByTx  map[string]map[domain.TokenKey]*big.Int
	cashByTx   map[string]*big.Int
	meta       map[string]txMeta
	parseSkips int
	logger     *slog.Logger
}

// NewDeltaAggregator creates an aggregator for the given (lower-cased)
// wallet. shareContracts and stablecoinContracts are the allow-lists; any
// record from another contract is dropped.
func NewDeltaAggregator(wallet string, shareContracts, stablecoinContracts []string, logger *slog.Logger) *DeltaAggregator {
	allowed := make(map[string]domain.TransferCategory, len(shareContracts)+len(stablecoinContracts))
	for _, c := range shareContracts {
		allowed[strings.ToLower(c)] = domain.CategoryShare
	}
	for _, c := range stablecoinContracts {
		allowed[strings.ToLower(c)] = domain.CategoryStablecoin
	}
	return &DeltaAggregator{
		wallet:    strings.ToLower(wallet),
		allowed:   allowed,
		seen:      make(map[string]bool),
		holdings:  make(map[domain.TokenKey]*big.Int),
		cash:      new(big.Int),
		shareByTx: make(map[string]map[domain.TokenKey]*big.Int),
		cashByTx:  make(map[string]*big.Int),
		meta:      make(map[string]txMeta),
		logger:    logger,
	}
}

// Add folds a batch of transfer records into the aggregate state. Pages from
// different streams may overlap; duplicates are dropped. A malformed amount
// skips that single record and continues.
func (a *DeltaAggregator) Add(records []domain.TransferRecord) {
	for _, rec := range records {
		a.addOne(rec)
	}
}

func (a *DeltaAggregator) addOne(rec domain.TransferRecord) {
	contract := strings.ToLower(rec.Contract)
	category, ok := a.allowed[contract]
	if !ok {
		return
	}

	key := rec.DedupKey()
	if a.seen[key] {
		return
	}
	a.seen[key] = true

	amount, err := domain.ParseAmount("amount", rec.Amount)
	if err != nil {
		a.parseSkips++
		a.logger.Warn("skipping malformed transfer record",
			slog.String("tx", rec.TxHash),
			slog.String("error", err.Error()),
		)
		return
	}

	// Signed delta: +amount when the wallet receives, -amount when it
	// sends. A self-transfer applies both and nets to zero.
	delta := new(big.Int)
	if strings.ToLower(rec.To) == a.wallet {
		delta.Add(delta, amount)
	}
	if strings.ToLower(rec.From) == a.wallet {
		delta.Sub(delta, amount)
	}
	if delta.Sign() == 0 {
		return
	}

	if m, ok := a.meta[rec.TxHash]; !ok || (m.timestamp.IsZero() && !rec.Timestamp.IsZero()) {
		a.meta[rec.TxHash] = txMeta{blockNum: rec.BlockNum, timestamp: rec.Timestamp}
	}

	switch category {
	case domain.CategoryShare:
		tokenID, err := domain.ParseAmount("tokenId", rec.TokenID)
		if err != nil {
			a.parseSkips++
			a.logger.Warn("skipping share transfer with malformed token id",
				slog.String("tx", rec.TxHash),
				slog.String("error", err.Error()),
			)
			return
		}
		token := domain.NewTokenKey(contract, tokenID)

		addInto(a.holdings, token, delta)

		perTx, ok := a.shareByTx[rec.TxHash]
		if !ok {
			perTx = make(map[domain.TokenKey]*big.Int)
			a.shareByTx[rec.TxHash] = perTx
		}
		addInto(perTx, token, delta)

	case domain.CategoryStablecoin:
		a.cash.Add(a.cash, delta)
		if cur, ok := a.cashByTx[rec.TxHash]; ok {
			cur.Add(cur, delta)
		} else {
			a.cashByTx[rec.TxHash] = new(big.Int).Set(delta)
		}
	}
}

// Holdings returns the wallet's net balance per token, with zero-balance
// entries dropped. The returned map is a copy.
func (a *DeltaAggregator) Holdings() map[domain.TokenKey]*big.Int {
	out := make(map[domain.TokenKey]*big.Int, len(a.holdings))
	for token, bal := range a.holdings {
		if bal.Sign() == 0 {
			continue
		}
		out[token] = new(big.Int).Set(bal)
	}
	return out
}

// CashBalance returns the wallet's net stablecoin balance across indexed
// transfers.
func (a *DeltaAggregator) CashBalance() *big.Int {
	return new(big.Int).Set(a.cash)
}

// ShareDeltas returns the per-transaction share deltas: ground truth for
// reconciliation. Zero-net tokens within a transaction are pruned.
func (a *DeltaAggregator) ShareDeltas() map[string]map[domain.TokenKey]*big.Int {
	out := make(map[string]map[domain.TokenKey]*big.Int, len(a.shareByTx))
	for tx, perTx := range a.shareByTx {
		cp := make(map[domain.TokenKey]*big.Int, len(perTx))
		for token, d := range perTx {
			if d.Sign() == 0 {
				continue
			}
			cp[token] = new(big.Int).Set(d)
		}
		if len(cp) > 0 {
			out[tx] = cp
		}
	}
	return out
}

// CashDelta returns the wallet's net stablecoin delta for one transaction
// (zero when none was observed).
func (a *DeltaAggregator) CashDelta(txHash string) *big.Int {
	if d, ok := a.cashByTx[txHash]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// TxMeta returns the block number and timestamp observed for a transaction.
func (a *DeltaAggregator) TxMeta(txHash string) (uint64, time.Time) {
	m := a.meta[txHash]
	return m.blockNum, m.timestamp
}

// ParseSkips reports how many records were dropped for malformed numerics.
func (a *DeltaAggregator) ParseSkips() int {
	return a.parseSkips
}

func addInto(m map[domain.TokenKey]*big.Int, key domain.TokenKey, delta *big.Int) {
	if cur, ok := m[key]; ok {
		cur.Add(cur, delta)
	} else {
		m[key] = new(big.Int).Set(delta)
	}
}
