package scan

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasile/sharescan/internal/domain"
)

func TestReconciler_FullyExplainedTransactionEmitsNothing(t *testing.T) {
	rec := NewReconciler(10)
	token := domain.NewTokenKey(shareContract, big.NewInt(7))

	transfers := rec.Reconcile("0xtx1",
		map[domain.TokenKey]*big.Int{token: big.NewInt(1000)},
		domain.DecodedReceipt{Trades: []domain.TradeEvent{
			{Token: token, WalletShareDelta: big.NewInt(1000)},
		}},
		100, time.Now(),
	)

	assert.Empty(t, transfers)
	mismatches, mismatchTxs, samples := rec.Stats()
	assert.Zero(t, mismatches)
	assert.Zero(t, mismatchTxs)
	assert.Empty(t, samples)
}

func TestReconciler_ResidualInAndOut(t *testing.T) {
	rec := NewReconciler(10)
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	gained := domain.NewTokenKey(shareContract, big.NewInt(1))
	lost := domain.NewTokenKey(shareContract, big.NewInt(2))

	transfers := rec.Reconcile("0xtx1",
		map[domain.TokenKey]*big.Int{
			gained: big.NewInt(500), // nothing decoded: pack opening
			lost:   big.NewInt(-300),
		},
		domain.DecodedReceipt{},
		100, ts,
	)

	require.Len(t, transfers, 2)
	// Output is sorted by token key string, so token id 1 comes first.
	assert.Equal(t, gained, transfers[0].Token)
	assert.Equal(t, "in", transfers[0].Direction)
	assert.Equal(t, big.NewInt(500), transfers[0].Amount)
	assert.Equal(t, domain.ReasonUnexplainedDelta, transfers[0].Reason)
	assert.Equal(t, ts, transfers[0].Timestamp)

	assert.Equal(t, lost, transfers[1].Token)
	assert.Equal(t, "out", transfers[1].Direction)
	assert.Equal(t, big.NewInt(300), transfers[1].Amount)

	mismatches, mismatchTxs, _ := rec.Stats()
	assert.Equal(t, 2, mismatches)
	assert.Equal(t, 1, mismatchTxs)
}

func TestReconciler_PartialDecodeEmitsResidualOnly(t *testing.T) {
	rec := NewReconciler(10)
	token := domain.NewTokenKey(shareContract, big.NewInt(7))

	// Ground truth says +1000 but decoded events explain only +600.
	transfers := rec.Reconcile("0xtx1",
		map[domain.TokenKey]*big.Int{token: big.NewInt(1000)},
		domain.DecodedReceipt{Promotions: []domain.PromotionEvent{
			{Token: token, WalletShareDelta: big.NewInt(600)},
		}},
		100, time.Now(),
	)

	require.Len(t, transfers, 1)
	assert.Equal(t, "in", transfers[0].Direction)
	assert.Equal(t, big.NewInt(400), transfers[0].Amount)
}

func TestReconciler_SampleBoundKeepsLargestResiduals(t *testing.T) {
	rec := NewReconciler(2)
	ts := time.Now()

	residuals := []int64{10, 5, 500, 20}
	for i, r := range residuals {
		token := domain.NewTokenKey(shareContract, big.NewInt(int64(i)))
		rec.Reconcile("0xtx",
			map[domain.TokenKey]*big.Int{token: big.NewInt(r)},
			domain.DecodedReceipt{},
			100, ts,
		)
	}

	mismatches, _, samples := rec.Stats()
	assert.Equal(t, 4, mismatches)
	require.Len(t, samples, 2)

	kept := map[string]bool{}
	for _, s := range samples {
		kept[s.Residual.String()] = true
	}
	assert.True(t, kept["500"])
	assert.True(t, kept["20"])
}

// Whatever the decoder managed to explain, decoded deltas plus reconciled
// transfers must sum back to the raw per-token deltas.
func TestReconciler_BalanceConservationRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for txn := 0; txn < 50; txn++ {
		rec := NewReconciler(5)

		expected := make(map[domain.TokenKey]*big.Int)
		var receipt domain.DecodedReceipt
		decodedSum := make(map[domain.TokenKey]*big.Int)

		for i := 0; i < 1+rng.Intn(5); i++ {
			token := domain.NewTokenKey(shareContract, big.NewInt(int64(rng.Intn(8))))
			raw := big.NewInt(rng.Int63n(2000) - 1000)
			if prev, ok := expected[token]; ok {
				raw.Add(raw, prev)
			}
			expected[token] = raw

			// Decode an arbitrary fraction of the delta, sometimes none,
			// sometimes an overshoot.
			decoded := big.NewInt(rng.Int63n(2000) - 1000)
			switch rng.Intn(3) {
			case 0:
				// leave this token entirely unexplained
			case 1:
				receipt.Trades = append(receipt.Trades, domain.TradeEvent{Token: token, WalletShareDelta: decoded})
				addInto(decodedSum, token, decoded)
			case 2:
				receipt.Promotions = append(receipt.Promotions, domain.PromotionEvent{Token: token, WalletShareDelta: decoded})
				addInto(decodedSum, token, decoded)
			}
		}

		transfers := rec.Reconcile("0xtx", expected, receipt, 100, time.Now())

		replayed := make(map[domain.TokenKey]*big.Int)
		for token, sum := range decodedSum {
			replayed[token] = new(big.Int).Set(sum)
		}
		for _, tr := range transfers {
			addInto(replayed, tr.Token, tr.ShareDelta())
		}

		for token, want := range expected {
			got, ok := replayed[token]
			if !ok {
				got = new(big.Int)
			}
			require.Zero(t, want.Cmp(got), "token %s: expected %s, replayed %s", token, want, got)
		}
	}
}

func TestReconciler_DeterministicTokenOrder(t *testing.T) {
	rec := NewReconciler(10)
	expected := map[domain.TokenKey]*big.Int{
		domain.NewTokenKey(shareContract, big.NewInt(9)): big.NewInt(1),
		domain.NewTokenKey(shareContract, big.NewInt(3)): big.NewInt(1),
		domain.NewTokenKey(shareContract, big.NewInt(5)): big.NewInt(1),
	}

	first := rec.Reconcile("0xtx1", expected, domain.DecodedReceipt{}, 100, time.Now())
	second := NewReconciler(10).Reconcile("0xtx1", expected, domain.DecodedReceipt{}, 100, time.Now())

	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].Token, second[i].Token)
	}
}
