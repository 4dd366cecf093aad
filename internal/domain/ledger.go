package domain

import (
	"math/big"
	"sort"
	"time"
)

// EntryKind tags the variant of a ledger entry.
type EntryKind string

const (
	EntryTrade              EntryKind = "trade"
	EntryPromotion          EntryKind = "promotion"
	EntryReconciledTransfer EntryKind = "reconciled_transfer"

	// EntryInferredTrade is the legacy fallback used when receipt decoding
	// was not requested: a transaction with a single-token share delta is
	// treated as a trade of unknown price.
	EntryInferredTrade EntryKind = "inferred_trade"
)

// LedgerEntry is one chronological event in a wallet's per-token history.
// It is a tagged union: Trade is populated only for EntryTrade entries.
type LedgerEntry struct {
	Kind          EntryKind `json:"kind"`
	TxHash        string    `json:"txHash"`
	Timestamp     time.Time `json:"timestamp"`
	BlockNum      uint64    `json:"blockNum"`
	LogIndex      uint      `json:"logIndex"`
	Token         TokenKey  `json:"token"`
	ShareDelta    *big.Int  `json:"shareDelta"`
	CurrencyDelta *big.Int  `json:"currencyDelta"`

	Trade *TradeEvent `json:"trade,omitempty"`
}

// SortLedger orders entries by timestamp ascending, breaking ties by block
// number and then log index so replay is deterministic for transactions that
// share a block timestamp.
func SortLedger(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.BlockNum != b.BlockNum {
			return a.BlockNum < b.BlockNum
		}
		return a.LogIndex < b.LogIndex
	})
}
