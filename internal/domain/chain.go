package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// TransferFilter selects one page of bulk transfer records from the chain
// data provider.
type TransferFilter struct {
	Wallet    string
	Direction TransferDirection
	Category  TransferCategory
	Contracts []string // allow-list; provider filters server-side
	PageKey   string   // empty for the first page
	MaxCount  int      // page size
}

// StreamName returns the orchestrator's stream identifier for this filter.
func (f TransferFilter) StreamName() string {
	suffix := "_in"
	if f.Direction == DirectionOutgoing {
		suffix = "_out"
	}
	return string(f.Category) + suffix
}

// TransferPage is one page of transfer records plus the cursor for the next
// page (empty when exhausted).
type TransferPage struct {
	Records []TransferRecord
	PageKey string
}

// ChainProvider is the third-party RPC/indexing provider. Implementations
// must tolerate concurrent calls and classify failures as TransientError
// (retryable) or PermanentError.
type ChainProvider interface {
	LatestBlock(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNum uint64) (time.Time, error)
	TransactionReceipt(ctx context.Context, txHash string) ([]types.Log, error)
	AssetTransfers(ctx context.Context, filter TransferFilter) (TransferPage, error)
	CallContract(ctx context.Context, to string, data []byte) ([]byte, error)
}

// PriceReader returns current per-share prices (6-dec stablecoin units) for
// a batch of token ids on one pair contract. Implementations batch at most
// 100 ids per call.
type PriceReader interface {
	Prices(ctx context.Context, pair string, tokenIDs []*big.Int) (map[string]*big.Int, error)
}
