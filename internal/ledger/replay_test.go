package ledger

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasile/sharescan/internal/domain"
)

const testWallet = "0x1111111111111111111111111111111111111111"

var testToken = domain.NewTokenKey("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", big.NewInt(7))

// wad returns n whole shares in 18-decimal units.
func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), domain.SharesWad)
}

// usdc returns n whole stablecoin units at 6 decimals.
func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func tradeEntry(ts time.Time, block uint64, logIdx uint, shares, currency *big.Int) domain.LedgerEntry {
	return domain.LedgerEntry{
		Kind:          domain.EntryTrade,
		TxHash:        "0xtx",
		Timestamp:     ts,
		BlockNum:      block,
		LogIndex:      logIdx,
		Token:         testToken,
		ShareDelta:    shares,
		CurrencyDelta: currency,
	}
}

func TestReplay_BuyThenSellRealizesAverageCostPnL(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Buy 100 shares for 50 USDC, then sell 40 for 22 USDC. Average cost is
	// 0.5 USDC/share, so the sell removes 20 USDC of basis and realizes +2.
	entries := []domain.LedgerEntry{
		tradeEntry(ts, 100, 0, wad(100), new(big.Int).Neg(usdc(50))),
		tradeEntry(ts.Add(time.Hour), 200, 0, new(big.Int).Neg(wad(40)), usdc(22)),
	}

	res := Replay(testWallet, entries)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.Equal(t, wad(60), pos.Shares)
	assert.Equal(t, usdc(30), pos.CostBasis)
	assert.False(t, pos.WentNegative)

	assert.Equal(t, usdc(2), res.Totals.RealizedPnL)
	assert.Equal(t, usdc(30), res.Totals.CostBasis)
}

func TestReplay_PromotionThenSellRealizesFullProceeds(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := []domain.LedgerEntry{
		{
			Kind:       domain.EntryPromotion,
			Timestamp:  ts,
			BlockNum:   100,
			Token:      testToken,
			ShareDelta: wad(10),
		},
		tradeEntry(ts.Add(time.Hour), 200, 0, new(big.Int).Neg(wad(10)), usdc(6)),
	}

	res := Replay(testWallet, entries)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.Equal(t, 0, pos.Shares.Sign())
	assert.Equal(t, 0, pos.CostBasis.Sign())
	assert.Equal(t, wad(10), pos.FreeShares)

	// Zero cost basis means the entire proceeds are profit.
	assert.Equal(t, usdc(6), res.Totals.RealizedPnL)
	assert.Equal(t, 1, res.Totals.FreeShareGrants)
}

func TestReplay_ZeroCostBuyClassification(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	gift := tradeEntry(ts, 100, 0, wad(5), new(big.Int))
	gift.Trade = &domain.TradeEvent{
		Initiator: "0x2222222222222222222222222222222222222222",
		Recipient: testWallet,
	}

	unknown := tradeEntry(ts.Add(time.Minute), 101, 0, wad(5), new(big.Int))

	res := Replay(testWallet, []domain.LedgerEntry{gift, unknown})

	assert.Equal(t, 1, res.Totals.GiftBuys)
	assert.Equal(t, 1, res.Totals.UnknownCostBuys)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.Equal(t, wad(10), pos.Shares)
	assert.Equal(t, 0, pos.CostBasis.Sign())
}

func TestReplay_RedirectedSellSkipsRealization(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Proceeds went elsewhere: shares leave at average cost but no P&L is
	// realized for this wallet.
	entries := []domain.LedgerEntry{
		tradeEntry(ts, 100, 0, wad(100), new(big.Int).Neg(usdc(50))),
		tradeEntry(ts.Add(time.Hour), 200, 0, new(big.Int).Neg(wad(40)), new(big.Int)),
	}

	res := Replay(testWallet, entries)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.Equal(t, wad(60), pos.Shares)
	assert.Equal(t, usdc(30), pos.CostBasis)
	assert.Equal(t, 0, res.Totals.RealizedPnL.Sign())
	assert.Equal(t, 1, res.Totals.RedirectedSells)
}

func TestReplay_OversellFlagsWentNegative(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := []domain.LedgerEntry{
		tradeEntry(ts, 100, 0, wad(10), new(big.Int).Neg(usdc(5))),
		tradeEntry(ts.Add(time.Hour), 200, 0, new(big.Int).Neg(wad(15)), usdc(8)),
	}

	res := Replay(testWallet, entries)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.True(t, pos.WentNegative)
	// Balance is not clamped.
	assert.Equal(t, new(big.Int).Neg(wad(5)), pos.Shares)
}

func TestReplay_ReconciledTransferOutRemovesAtAverageCost(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := []domain.LedgerEntry{
		tradeEntry(ts, 100, 0, wad(100), new(big.Int).Neg(usdc(50))),
		{
			Kind:       domain.EntryReconciledTransfer,
			Timestamp:  ts.Add(time.Hour),
			BlockNum:   200,
			Token:      testToken,
			ShareDelta: new(big.Int).Neg(wad(20)),
		},
	}

	res := Replay(testWallet, entries)

	pos := res.Positions[testToken]
	require.NotNil(t, pos)
	assert.Equal(t, wad(80), pos.Shares)
	assert.Equal(t, usdc(40), pos.CostBasis)
	// Transfers out never realize P&L.
	assert.Equal(t, 0, res.Totals.RealizedPnL.Sign())
}

func TestReplay_DeterministicUnderShuffledInput(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := make([]domain.LedgerEntry, 0, 20)
	for i := 0; i < 10; i++ {
		entries = append(entries, tradeEntry(ts.Add(time.Duration(i)*time.Minute), uint64(100+i), 0, wad(10), new(big.Int).Neg(usdc(5))))
	}
	for i := 0; i < 10; i++ {
		entries = append(entries, tradeEntry(ts.Add(time.Duration(100+i)*time.Minute), uint64(300+i), 0, new(big.Int).Neg(wad(5)), usdc(4)))
	}

	base := Replay(testWallet, entries)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]domain.LedgerEntry, len(entries))
		copy(shuffled, entries)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Replay(testWallet, shuffled)
		require.Equal(t, base.Totals.RealizedPnL, got.Totals.RealizedPnL)
		require.Equal(t, base.Totals.CostBasis, got.Totals.CostBasis)
		require.Equal(t, base.Positions[testToken].Shares, got.Positions[testToken].Shares)
	}
}
