package alchemy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasile/sharescan/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, maxRetries int) *Client {
	return New(Config{
		RPCURL:         url,
		MaxRetries:     maxRetries,
		RetryBaseDelay: time.Millisecond,
		HTTPTimeout:    5 * time.Second,
	}, testLogger())
}

func rpcResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + string(raw) + `}`))
}

func TestClient_LatestBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_blockNumber", req.Method)
		rpcResult(t, w, "0x10")
	}))
	defer srv.Close()

	block, err := newTestClient(srv.URL, 0).LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)
}

func TestClient_AssetTransfersFansOutERC1155Metadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alchemy_getAssetTransfers", req.Method)

		rpcResult(t, w, map[string]any{
			"transfers": []map[string]any{
				{
					"uniqueId": "0xabc:log:5",
					"hash":     "0xABC",
					"from":     "0xF1",
					"to":       "0xF2",
					"blockNum": "0x64",
					"rawContract": map[string]any{
						"address": "0xShareToken",
					},
					"erc1155Metadata": []map[string]any{
						{"tokenId": "0x7", "value": "0x64"},
						{"tokenId": "0x8", "value": "0xc8"},
					},
					"metadata": map[string]any{
						"blockTimestamp": "2025-05-01T12:00:00Z",
					},
				},
			},
			"pageKey": "next-page",
		})
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, 0).AssetTransfers(context.Background(), domain.TransferFilter{
		Wallet:    "0xf2",
		Direction: domain.DirectionIncoming,
		Category:  domain.CategoryShare,
		Contracts: []string{"0xsharetoken"},
	})
	require.NoError(t, err)

	assert.Equal(t, "next-page", page.PageKey)
	// One provider record with two token ids becomes two transfer records
	// with distinct UIDs.
	require.Len(t, page.Records, 2)
	assert.Equal(t, "0xabc:log:5:0", page.Records[0].UID)
	assert.Equal(t, "0xabc:log:5:1", page.Records[1].UID)
	assert.Equal(t, "0x7", page.Records[0].TokenID)
	assert.Equal(t, "0x64", page.Records[0].Amount)
	assert.Equal(t, "0xabc", page.Records[0].TxHash)
	assert.Equal(t, uint64(100), page.Records[0].BlockNum)
	assert.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), page.Records[0].Timestamp)
	assert.Equal(t, domain.CategoryShare, page.Records[0].Category)
}

func TestClient_AssetTransfersPassesPageKeyAndDirection(t *testing.T) {
	var gotParams map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params []map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Params, 1)
		gotParams = req.Params[0]
		rpcResult(t, w, map[string]any{"transfers": []any{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).AssetTransfers(context.Background(), domain.TransferFilter{
		Wallet:    "0xwallet",
		Direction: domain.DirectionOutgoing,
		Category:  domain.CategoryStablecoin,
		Contracts: []string{"0xusdc"},
		PageKey:   "resume-here",
	})
	require.NoError(t, err)

	assert.Equal(t, "resume-here", gotParams["pageKey"])
	assert.Equal(t, "0xwallet", gotParams["fromAddress"])
	assert.Nil(t, gotParams["toAddress"])
	assert.Equal(t, []any{"erc20"}, gotParams["category"])
}

func TestClient_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		rpcResult(t, w, "0x10")
	}))
	defer srv.Close()

	block, err := newTestClient(srv.URL, 3).LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RPCRateLimitCodeIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"capacity exceeded"}}`))
			return
		}
		rpcResult(t, w, "0x10")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).LatestBlock(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ExhaustedRetriesReturnLastError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).LatestBlock(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_UnknownCategoryIsPermanent(t *testing.T) {
	_, err := newTestClient("http://unused.invalid", 0).AssetTransfers(context.Background(), domain.TransferFilter{
		Wallet:   "0xwallet",
		Category: "nft",
	})
	require.Error(t, err)
	var pe *domain.PermanentError
	assert.ErrorAs(t, err, &pe)
}
