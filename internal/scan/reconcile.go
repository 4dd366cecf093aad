package scan

import (
	"math/big"
	"sort"
	"time"

	"github.com/avasile/sharescan/internal/domain"
)

// Reconciler compares decoded event deltas against raw transfer deltas per
// transaction and emits synthetic zero-cost transfers for any residual. This
// is what makes final holdings structurally correct: pack openings, contract
// renewals, direct transfers, scams, and undecodable logs all collapse into
// reconciled transfers without needing a decoder for every source.
type Reconciler struct {
	mismatches  int
	mismatchTxs int
	samples     []domain.MismatchSample
	maxSamples  int
}

// NewReconciler creates a Reconciler keeping at most maxSamples debug
// samples of the largest residuals.
func NewReconciler(maxSamples int) *Reconciler {
	return &Reconciler{maxSamples: maxSamples}
}

// Reconcile computes, for every token with a raw delta in this transaction,
// the residual between ground truth and the decoded events' wallet share
// deltas, and emits one transfer per non-zero residual.
func (r *Reconciler) Reconcile(txHash string, expected map[domain.TokenKey]*big.Int, decoded domain.DecodedReceipt, blockNum uint64, ts time.Time) []domain.ReconciledTransfer {
	decodedSum := make(map[domain.TokenKey]*big.Int)
	for _, t := range decoded.Trades {
		addInto(decodedSum, t.Token, t.WalletShareDelta)
	}
	for _, p := range decoded.Promotions {
		addInto(decodedSum, p.Token, p.WalletShareDelta)
	}

	// Deterministic output order for a deterministic payload.
	tokens := make([]domain.TokenKey, 0, len(expected))
	for token := range expected {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].String() < tokens[j].String() })

	var transfers []domain.ReconciledTransfer
	txHadMismatch := false

	for _, token := range tokens {
		want := expected[token]
		got, ok := decodedSum[token]
		if !ok {
			got = new(big.Int)
		}

		residual := new(big.Int).Sub(want, got)
		if residual.Sign() == 0 {
			continue
		}

		txHadMismatch = true
		r.mismatches++
		r.recordSample(txHash, token, want, got, residual)

		direction := "in"
		magnitude := new(big.Int).Set(residual)
		if residual.Sign() < 0 {
			direction = "out"
			magnitude.Neg(magnitude)
		}

		transfers = append(transfers, domain.ReconciledTransfer{
			Token:     token,
			Direction: direction,
			Amount:    magnitude,
			Reason:    domain.ReasonUnexplainedDelta,
			TxHash:    txHash,
			BlockNum:  blockNum,
			Timestamp: ts,
		})
	}

	if txHadMismatch {
		r.mismatchTxs++
	}
	return transfers
}

// recordSample keeps the first maxSamples residuals, then replaces the
// smallest kept sample when a larger residual arrives.
func (r *Reconciler) recordSample(txHash string, token domain.TokenKey, want, got, residual *big.Int) {
	sample := domain.MismatchSample{
		TxHash:   txHash,
		Token:    token,
		Expected: new(big.Int).Set(want),
		Decoded:  new(big.Int).Set(got),
		Residual: new(big.Int).Set(residual),
	}

	if len(r.samples) < r.maxSamples {
		r.samples = append(r.samples, sample)
		return
	}

	smallest := -1
	for i, s := range r.samples {
		if smallest == -1 || absCmp(s.Residual, r.samples[smallest].Residual) < 0 {
			smallest = i
		}
	}
	if smallest >= 0 && absCmp(sample.Residual, r.samples[smallest].Residual) > 0 {
		r.samples[smallest] = sample
	}
}

// absCmp compares |a| against |b|.
func absCmp(a, b *big.Int) int {
	return new(big.Int).Abs(a).Cmp(new(big.Int).Abs(b))
}

// Stats returns the aggregate mismatch counters and debug samples.
func (r *Reconciler) Stats() (mismatches, mismatchTxs int, samples []domain.MismatchSample) {
	return r.mismatches, r.mismatchTxs, r.samples
}
