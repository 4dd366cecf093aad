package domain

import (
	"math/big"
	"strings"
	"time"
)

// TransferCategory distinguishes the two asset classes the scanner indexes.
type TransferCategory string

const (
	CategoryShare      TransferCategory = "share"
	CategoryStablecoin TransferCategory = "stablecoin"
)

// TransferDirection is the direction of a transfer stream relative to the
// scanned wallet.
type TransferDirection string

const (
	DirectionIncoming TransferDirection = "incoming"
	DirectionOutgoing TransferDirection = "outgoing"
)

// TransferRecord is one bulk transfer record as returned by the chain data
// provider. Amounts and token ids are kept as the provider's raw strings
// (decimal or 0x-prefixed hex); the delta aggregator parses them and skips
// individual malformed records. TokenID is empty for stablecoin (ERC-20)
// transfers.
type TransferRecord struct {
	UID       string
	TxHash    string
	From      string
	To        string
	Contract  string
	TokenID   string
	Amount    string
	BlockNum  uint64
	Timestamp time.Time
	Category  TransferCategory
}

// DedupKey returns the provider-assigned unique id, falling back to a
// composite of hash, endpoints, and category when the provider did not
// assign one.
func (r TransferRecord) DedupKey() string {
	if r.UID != "" {
		return r.UID
	}
	return r.TxHash + "|" + r.From + "|" + r.To + "|" + string(r.Category)
}

// ParseAmount interprets a raw numeric string as a big integer. Accepts
// decimal and 0x-prefixed hex. Returns a ParseError for malformed input.
func ParseAmount(field, raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &ParseError{Field: field, Value: raw}
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, &ParseError{Field: field, Value: raw}
	}
	return n, nil
}

// RawDelta is the signed net change of one token for the wallet within one
// transaction, derived purely from transfer records. The sum of all RawDeltas
// for a TokenKey equals the wallet's on-chain balance: this is ground truth
// that decoded events are reconciled against.
type RawDelta struct {
	TxHash    string
	Token     TokenKey
	Amount    *big.Int
	BlockNum  uint64
	Timestamp time.Time
}
