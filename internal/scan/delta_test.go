package scan

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasile/sharescan/internal/domain"
)

const (
	aggWallet     = "0x1111111111111111111111111111111111111111"
	shareContract = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	usdcContract  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	otherAddr     = "0x2222222222222222222222222222222222222222"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator() *DeltaAggregator {
	return NewDeltaAggregator(aggWallet, []string{shareContract}, []string{usdcContract}, discardLogger())
}

func shareRecord(uid, tx, from, to, tokenID, amount string) domain.TransferRecord {
	return domain.TransferRecord{
		UID:       uid,
		TxHash:    tx,
		From:      from,
		To:        to,
		Contract:  shareContract,
		TokenID:   tokenID,
		Amount:    amount,
		BlockNum:  100,
		Timestamp: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Category:  domain.CategoryShare,
	}
}

func TestDeltaAggregator_DedupAcrossOverlappingPages(t *testing.T) {
	agg := newTestAggregator()

	rec := shareRecord("uid-1", "0xtx1", otherAddr, aggWallet, "7", "1000")

	// Same record appears on both the incoming and a later overlapping page.
	agg.Add([]domain.TransferRecord{rec})
	agg.Add([]domain.TransferRecord{rec})

	holdings := agg.Holdings()
	token := domain.NewTokenKey(shareContract, big.NewInt(7))
	require.Contains(t, holdings, token)
	assert.Equal(t, big.NewInt(1000), holdings[token])
}

func TestDeltaAggregator_IgnoresUnlistedContracts(t *testing.T) {
	agg := newTestAggregator()

	rec := shareRecord("uid-1", "0xtx1", otherAddr, aggWallet, "7", "1000")
	rec.Contract = "0xcccccccccccccccccccccccccccccccccccccccc"

	agg.Add([]domain.TransferRecord{rec})

	assert.Empty(t, agg.Holdings())
	assert.Zero(t, agg.ParseSkips())
}

func TestDeltaAggregator_SelfTransferNetsToZero(t *testing.T) {
	agg := newTestAggregator()

	agg.Add([]domain.TransferRecord{
		shareRecord("uid-1", "0xtx1", aggWallet, aggWallet, "7", "1000"),
	})

	assert.Empty(t, agg.Holdings())
	assert.Empty(t, agg.ShareDeltas())
}

func TestDeltaAggregator_MalformedAmountSkipsRecord(t *testing.T) {
	agg := newTestAggregator()

	agg.Add([]domain.TransferRecord{
		shareRecord("uid-1", "0xtx1", otherAddr, aggWallet, "7", "not-a-number"),
		shareRecord("uid-2", "0xtx1", otherAddr, aggWallet, "7", "500"),
	})

	assert.Equal(t, 1, agg.ParseSkips())
	token := domain.NewTokenKey(shareContract, big.NewInt(7))
	assert.Equal(t, big.NewInt(500), agg.Holdings()[token])
}

func TestDeltaAggregator_HexAmountsAndCaseInsensitiveAddresses(t *testing.T) {
	agg := newTestAggregator()

	rec := shareRecord("uid-1", "0xtx1", otherAddr, "0x1111111111111111111111111111111111111111", "0x7", "0x10")
	rec.Contract = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	agg.Add([]domain.TransferRecord{rec})

	token := domain.NewTokenKey(shareContract, big.NewInt(7))
	assert.Equal(t, big.NewInt(16), agg.Holdings()[token])
}

func TestDeltaAggregator_ZeroNetHoldingsPruned(t *testing.T) {
	agg := newTestAggregator()

	agg.Add([]domain.TransferRecord{
		shareRecord("uid-1", "0xtx1", otherAddr, aggWallet, "7", "1000"),
		shareRecord("uid-2", "0xtx2", aggWallet, otherAddr, "7", "1000"),
	})

	assert.Empty(t, agg.Holdings())

	// Per-transaction deltas survive: reconciliation needs both legs.
	deltas := agg.ShareDeltas()
	require.Len(t, deltas, 2)
	token := domain.NewTokenKey(shareContract, big.NewInt(7))
	assert.Equal(t, big.NewInt(1000), deltas["0xtx1"][token])
	assert.Equal(t, big.NewInt(-1000), deltas["0xtx2"][token])
}

func TestDeltaAggregator_CashDeltaPerTransaction(t *testing.T) {
	agg := newTestAggregator()

	pay := domain.TransferRecord{
		UID:      "uid-1",
		TxHash:   "0xtx1",
		From:     aggWallet,
		To:       otherAddr,
		Contract: usdcContract,
		Amount:   "50000000",
		BlockNum: 100,
		Category: domain.CategoryStablecoin,
	}
	receive := domain.TransferRecord{
		UID:      "uid-2",
		TxHash:   "0xtx1",
		From:     otherAddr,
		To:       aggWallet,
		Contract: usdcContract,
		Amount:   "8000000",
		BlockNum: 100,
		Category: domain.CategoryStablecoin,
	}

	agg.Add([]domain.TransferRecord{pay, receive})

	assert.Equal(t, big.NewInt(-42_000_000), agg.CashDelta("0xtx1"))
	assert.Equal(t, big.NewInt(-42_000_000), agg.CashBalance())
	assert.Equal(t, big.NewInt(0), agg.CashDelta("0xother"))
}

func TestDeltaAggregator_TxMetaRecorded(t *testing.T) {
	agg := newTestAggregator()

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := shareRecord("uid-1", "0xtx1", otherAddr, aggWallet, "7", "1000")
	rec.BlockNum = 4242
	rec.Timestamp = ts

	agg.Add([]domain.TransferRecord{rec})

	block, when := agg.TxMeta("0xtx1")
	assert.Equal(t, uint64(4242), block)
	assert.Equal(t, ts, when)
}
