package domain

import (
	"math/big"
	"time"
)

// TradeDirection is the side of an AMM trade event.
type TradeDirection string

const (
	TradeBuy  TradeDirection = "buy"
	TradeSell TradeDirection = "sell"
)

// TradeEvent is one decoded AMM trade leg. Pair contracts emit batch events
// covering many token ids; the decoder fans each array index out into one
// TradeEvent. WalletShareDelta / WalletCurrencyDelta are signed from the
// scanned wallet's point of view and are zero when the wallet was not a
// party to the trade (such events are filtered out before reconciliation).
type TradeEvent struct {
	Direction      TradeDirection `json:"direction"`
	Pair           string         `json:"pair"`
	Token          TokenKey       `json:"token"`
	ShareAmount    *big.Int       `json:"shareAmount"`
	CurrencyAmount *big.Int       `json:"currencyAmount"`
	FeeAmount      *big.Int       `json:"feeAmount"`

	// Initiator is the buyer (buy) or seller (sell); Recipient is where
	// shares (buy) or proceeds (sell) were sent.
	Initiator string `json:"initiator"`
	Recipient string `json:"recipient"`

	WalletShareDelta    *big.Int `json:"walletShareDelta"`
	WalletCurrencyDelta *big.Int `json:"walletCurrencyDelta"`

	// Per-share prices in stablecoin units, scaled by SharesWad. Nil when
	// the share amount is zero (price undefined, not an error).
	PriceExclFee *big.Int `json:"priceExclFee,omitempty"`
	PriceInclFee *big.Int `json:"priceInclFee,omitempty"`

	TxHash    string    `json:"txHash"`
	BlockNum  uint64    `json:"blockNum"`
	LogIndex  uint      `json:"logIndex"`
	Timestamp time.Time `json:"timestamp"`
}

// PromotionEvent is a protocol-issued free share grant decoded from a
// promotion-issuer contract log.
type PromotionEvent struct {
	Source           string    `json:"source"`
	Token            TokenKey  `json:"token"`
	ShareAmount      *big.Int  `json:"shareAmount"`
	WalletShareDelta *big.Int  `json:"walletShareDelta"`
	TxHash           string    `json:"txHash"`
	BlockNum         uint64    `json:"blockNum"`
	LogIndex         uint      `json:"logIndex"`
	Timestamp        time.Time `json:"timestamp"`
}

// TransferReason explains why a synthetic reconciled transfer exists.
type TransferReason string

// ReasonUnexplainedDelta marks residual balance movement that no decoded
// event accounts for (pack openings, direct transfers, undecodable logs).
const ReasonUnexplainedDelta TransferReason = "unexplained_delta"

// ReconciledTransfer is a synthetic zero-cost ledger event emitted by the
// reconciliation engine to absorb the residual between raw transfer deltas
// and decoded event deltas, guaranteeing that replayed holdings always match
// on-chain truth.
type ReconciledTransfer struct {
	Token     TokenKey       `json:"token"`
	Direction string         `json:"direction"` // "in" or "out"
	Amount    *big.Int       `json:"amount"`    // always positive
	Reason    TransferReason `json:"reason"`
	TxHash    string         `json:"txHash"`
	BlockNum  uint64         `json:"blockNum"`
	Timestamp time.Time      `json:"timestamp"`
}

// ShareDelta returns the signed wallet share delta implied by the transfer.
func (t ReconciledTransfer) ShareDelta() *big.Int {
	if t.Direction == "out" {
		return new(big.Int).Neg(t.Amount)
	}
	return new(big.Int).Set(t.Amount)
}

// UnknownLog records a log emitted by an allow-listed contract that failed
// ABI decoding (corrupt data or upgraded ABI). It carries enough raw detail
// for later inspection; the reconciliation engine covers its balance effect
// with a synthetic transfer.
type UnknownLog struct {
	Contract string `json:"contract"`
	Topic0   string `json:"topic0"`
	LogIndex uint   `json:"logIndex"`
	Reason   string `json:"reason"`
}

// DecodedReceipt is the decoder's output for one transaction receipt.
type DecodedReceipt struct {
	TxHash     string           `json:"txHash"`
	Trades     []TradeEvent     `json:"trades"`
	Promotions []PromotionEvent `json:"promotions"`
	Unknown    []UnknownLog     `json:"unknown,omitempty"`
}
