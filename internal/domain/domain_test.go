package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenKey_LowercasesContract(t *testing.T) {
	key := NewTokenKey("0xABCDEF0123456789abcdef0123456789ABCDEF01", big.NewInt(42))

	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", key.Contract)
	assert.Equal(t, "42", key.TokenID)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01:42", key.String())
	assert.Equal(t, int64(42), key.TokenIDInt().Int64())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "decimal", raw: "1000000", want: 1000000},
		{name: "hex", raw: "0x10", want: 16},
		{name: "hex uppercase prefix", raw: "0X10", want: 16},
		{name: "whitespace trimmed", raw: "  42  ", want: 42},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "not-a-number", wantErr: true},
		{name: "bare 0x", raw: "0x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseAmount("amount", tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var pe *ParseError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "amount", pe.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Int64())
		})
	}
}

func TestTransferRecord_DedupKey(t *testing.T) {
	withUID := TransferRecord{UID: "0xabc:log:1", TxHash: "0xabc"}
	assert.Equal(t, "0xabc:log:1", withUID.DedupKey())

	withoutUID := TransferRecord{TxHash: "0xabc", From: "0x1", To: "0x2", Category: CategoryShare}
	assert.Equal(t, "0xabc|0x1|0x2|share", withoutUID.DedupKey())
}

func TestSortLedger_TieBreaksByBlockThenLogIndex(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []LedgerEntry{
		{TxHash: "c", Timestamp: ts, BlockNum: 10, LogIndex: 5},
		{TxHash: "a", Timestamp: ts, BlockNum: 9, LogIndex: 7},
		{TxHash: "d", Timestamp: ts.Add(time.Second), BlockNum: 1, LogIndex: 0},
		{TxHash: "b", Timestamp: ts, BlockNum: 10, LogIndex: 2},
	}

	SortLedger(entries)

	order := make([]string, 0, len(entries))
	for _, e := range entries {
		order = append(order, e.TxHash)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestScanParams_CacheKey(t *testing.T) {
	base := ScanParams{Wallet: "0xwallet", Mode: ScanModeDefault, MaxPages: 10}

	assert.Equal(t, base.CacheKey(), base.CacheKey(), "identical params share a key")

	other := base
	other.MaxPages = 11
	assert.NotEqual(t, base.CacheKey(), other.CacheKey())

	withCursor := base
	withCursor.Cursors = map[string]string{"share_in": "page-2"}
	assert.NotEqual(t, base.CacheKey(), withCursor.CacheKey())
}

func TestScanParams_Normalize(t *testing.T) {
	p := ScanParams{Wallet: "  0xABCdef  "}
	p.Normalize()

	assert.Equal(t, "0xabcdef", p.Wallet)
	assert.Equal(t, ScanModeDefault, p.Mode)
}

func TestReconciledTransfer_ShareDelta(t *testing.T) {
	in := ReconciledTransfer{Direction: "in", Amount: big.NewInt(5)}
	assert.Equal(t, int64(5), in.ShareDelta().Int64())

	out := ReconciledTransfer{Direction: "out", Amount: big.NewInt(5)}
	assert.Equal(t, int64(-5), out.ShareDelta().Int64())
}

func TestPosition_AvgCostPerShare(t *testing.T) {
	wad := new(big.Int).Set(SharesWad)

	pos := Position{
		Shares:    new(big.Int).Mul(big.NewInt(100), wad),
		CostBasis: big.NewInt(50_000_000), // 50 USDC at 6 decimals
	}
	// 0.5 USDC per whole share.
	assert.Equal(t, int64(500_000), pos.AvgCostPerShare().Int64())

	empty := Position{Shares: new(big.Int), CostBasis: new(big.Int)}
	assert.Nil(t, empty.AvgCostPerShare())
}
