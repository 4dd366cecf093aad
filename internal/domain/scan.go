package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ScanMode selects between the bounded synchronous scan and the unbounded
// asynchronous job-backed scan.
type ScanMode string

const (
	// ScanModeDefault runs on the request path under a soft wall-clock
	// deadline; work remaining when the deadline passes is skipped and
	// flagged, never errored.
	ScanModeDefault ScanMode = "default"

	// ScanModeFull has no deadline and must run off the request path via a
	// ScanJob.
	ScanModeFull ScanMode = "full"
)

// ScanParams are the caller-supplied inputs of one portfolio scan. The zero
// values of the caps mean "use configured defaults"; the orchestrator
// normalizes them before use.
type ScanParams struct {
	Wallet          string        `json:"wallet"`
	Mode            ScanMode      `json:"mode"`
	MaxPages        int           `json:"maxPages"`    // per transfer category
	MaxActivity     int           `json:"maxActivity"` // receipts to decode
	DecodeReceipts  bool          `json:"decodeReceipts"`
	IncludePrices   bool          `json:"includePrices"`
	IncludeMetadata bool          `json:"includeMetadata"`
	Budget          time.Duration `json:"budget"`

	// Cursors resume pagination from a previous incomplete scan, keyed by
	// stream name (see StreamNames).
	Cursors map[string]string `json:"cursors,omitempty"`
}

// Normalize lower-cases the wallet and applies defaults.
func (p *ScanParams) Normalize() {
	p.Wallet = strings.ToLower(strings.TrimSpace(p.Wallet))
	if p.Mode == "" {
		p.Mode = ScanModeDefault
	}
}

// CacheKey derives the scan identity: a hash over every parameter that can
// change the result. Identical concurrent full scans share this key and
// therefore share one job.
func (p ScanParams) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%t|%t|%t", p.Wallet, p.Mode, p.MaxPages, p.MaxActivity,
		p.DecodeReceipts, p.IncludePrices, p.IncludeMetadata)
	for _, name := range StreamNames {
		fmt.Fprintf(h, "|%s=%s", name, p.Cursors[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StreamNames enumerates the four concurrent transfer fetch streams.
var StreamNames = []string{
	"share_in", "share_out", "stablecoin_in", "stablecoin_out",
}

// Completeness describes which parts of a scan were skipped or degraded.
// A scan always returns its best-effort payload plus these flags rather than
// an all-or-nothing error.
type Completeness struct {
	ScanIncomplete    bool              `json:"scanIncomplete"`
	TruncatedByBudget map[string]bool   `json:"truncatedByBudget,omitempty"` // per stream
	Cursors           map[string]string `json:"cursors,omitempty"`           // resume keys per stream
	ReceiptsSkipped   int               `json:"receiptsSkipped,omitempty"`
	ReceiptErrors     int               `json:"receiptErrors,omitempty"`
	PriceErrors       int               `json:"priceErrors,omitempty"`
	MetadataErrors    int               `json:"metadataErrors,omitempty"`

	// Reconciliation observability.
	Mismatches      int              `json:"mismatches,omitempty"`
	MismatchTxs     int              `json:"mismatchTxs,omitempty"`
	MismatchSamples []MismatchSample `json:"mismatchSamples,omitempty"`
}

// MismatchSample is one bounded debug sample of a reconciliation residual.
type MismatchSample struct {
	TxHash   string   `json:"txHash"`
	Token    TokenKey `json:"token"`
	Expected *big.Int `json:"expected"`
	Decoded  *big.Int `json:"decoded"`
	Residual *big.Int `json:"residual"`
}

// TxActivity is one transaction of wallet activity with its decoded
// classification.
type TxActivity struct {
	TxHash     string               `json:"txHash"`
	Timestamp  time.Time            `json:"timestamp"`
	BlockNum   uint64               `json:"blockNum"`
	Trades     []TradeEvent         `json:"trades,omitempty"`
	Promotions []PromotionEvent     `json:"promotions,omitempty"`
	Transfers  []ReconciledTransfer `json:"transfers,omitempty"`
	Unknown    []UnknownLog         `json:"unknown,omitempty"`
}

// ScanResult is the full payload a scan promises its caller: holdings,
// classified activity, per-token positions with P&L, and completeness
// metadata. It is deterministic given its inputs.
type ScanResult struct {
	Wallet       string          `json:"wallet"`
	GeneratedAt  time.Time       `json:"generatedAt"`
	Holdings     []TokenReport   `json:"holdings"`
	Activity     []TxActivity    `json:"activity"`
	Totals       PortfolioTotals `json:"totals"`
	Completeness Completeness    `json:"completeness"`
}

// ScanSummary is the compact per-scan record archived to Postgres for
// wallet history queries.
type ScanSummary struct {
	JobID         string    `json:"jobId"`
	Wallet        string    `json:"wallet"`
	FinishedAt    time.Time `json:"finishedAt"`
	TokensHeld    int       `json:"tokensHeld"`
	RealizedPnL   string    `json:"realizedPnl"`
	CostBasis     string    `json:"costBasis"`
	UnrealizedPnL string    `json:"unrealizedPnl"`
	Mismatches    int       `json:"mismatches"`
}
