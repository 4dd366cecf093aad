// Package pricing reads current per-share prices from pair contracts via
// batched eth_call.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/avasile/sharescan/internal/domain"
)

func mustArrayType() abi.Type {
	t, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	uint256Array = mustArrayType()
	priceArgs    = abi.Arguments{{Name: "tokenIds", Type: uint256Array}}
	priceRets    = abi.Arguments{{Name: "prices", Type: uint256Array}}

	// getSharePrices(uint256[]) -> uint256[]
	priceSelector = crypto.Keccak256([]byte("getSharePrices(uint256[])"))[:4]
)

// Reader implements domain.PriceReader against a pair contract's batch
// price getter. Calls for one contract are issued by a single caller at a
// time (the orchestrator serializes per-contract batches), so no internal
// locking is needed.
type Reader struct {
	provider domain.ChainProvider
	logger   *slog.Logger
}

// NewReader creates a price Reader on top of the chain provider.
func NewReader(provider domain.ChainProvider, logger *slog.Logger) *Reader {
	return &Reader{provider: provider, logger: logger}
}

// Prices returns per-share prices (6-dec stablecoin units) keyed by decimal
// token id. The caller is responsible for batching at most 100 ids.
func (r *Reader) Prices(ctx context.Context, pair string, tokenIDs []*big.Int) (map[string]*big.Int, error) {
	if len(tokenIDs) == 0 {
		return map[string]*big.Int{}, nil
	}
	if len(tokenIDs) > 100 {
		return nil, fmt.Errorf("pricing: batch of %d exceeds 100 ids", len(tokenIDs))
	}

	packed, err := priceArgs.Pack(tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("pricing: pack calldata: %w", err)
	}
	data := append(append([]byte{}, priceSelector...), packed...)

	raw, err := r.provider.CallContract(ctx, pair, data)
	if err != nil {
		return nil, fmt.Errorf("pricing: call %s: %w", pair, err)
	}

	vals, err := priceRets.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("pricing: unpack result: %w", err)
	}
	prices, ok := vals[0].([]*big.Int)
	if !ok || len(prices) != len(tokenIDs) {
		return nil, fmt.Errorf("pricing: unexpected result shape")
	}

	out := make(map[string]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		out[id.String()] = prices[i]
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PriceReader = (*Reader)(nil)
