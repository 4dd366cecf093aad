// Package alchemy implements domain.ChainProvider against an Alchemy-style
// JSON-RPC endpoint: standard eth_* methods plus the enhanced
// alchemy_getAssetTransfers bulk transfer index.
package alchemy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/avasile/sharescan/internal/domain"
)

// Config holds connection and retry parameters for the provider client.
type Config struct {
	RPCURL         string
	PageSize       int
	MaxRetries     int
	RetryBaseDelay time.Duration
	HTTPTimeout    time.Duration
}

// Client is an HTTP JSON-RPC client with exponential-backoff retries. Safe
// for concurrent use.
type Client struct {
	rpcURL     string
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a provider client from the given configuration.
func New(cfg Config, logger *slog.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return &Client{
		rpcURL:     cfg.RPCURL,
		pageSize:   pageSize,
		maxRetries: cfg.MaxRetries,
		baseDelay:  baseDelay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// rpcRequest is the standard JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcResponse is the standard JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, fmt.Errorf("alchemy: latest block: %w", err)
	}
	return uint64(result), nil
}

// BlockTimestamp returns the timestamp of the given block.
func (c *Client) BlockTimestamp(ctx context.Context, blockNum uint64) (time.Time, error) {
	var result struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	params := []any{hexutil.EncodeUint64(blockNum), false}
	if err := c.call(ctx, "eth_getBlockByNumber", params, &result); err != nil {
		return time.Time{}, fmt.Errorf("alchemy: block %d timestamp: %w", blockNum, err)
	}
	return time.Unix(int64(result.Timestamp), 0).UTC(), nil
}

// TransactionReceipt returns the logs of the given transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) ([]types.Log, error) {
	var result struct {
		Logs []types.Log `json:"logs"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &result); err != nil {
		return nil, fmt.Errorf("alchemy: receipt %s: %w", txHash, err)
	}
	return result.Logs, nil
}

// CallContract executes a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	params := []any{
		map[string]string{"to": to, "data": hexutil.Encode(data)},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, fmt.Errorf("alchemy: eth_call %s: %w", to, err)
	}
	return result, nil
}

// assetTransfersResult mirrors the alchemy_getAssetTransfers response.
type assetTransfersResult struct {
	Transfers []struct {
		UniqueID    string `json:"uniqueId"`
		Hash        string `json:"hash"`
		From        string `json:"from"`
		To          string `json:"to"`
		BlockNum    string `json:"blockNum"`
		RawContract struct {
			Address string `json:"address"`
			Value   string `json:"value"`
		} `json:"rawContract"`
		ERC1155Metadata []struct {
			TokenID string `json:"tokenId"`
			Value   string `json:"value"`
		} `json:"erc1155Metadata"`
		Metadata struct {
			BlockTimestamp string `json:"blockTimestamp"`
		} `json:"metadata"`
	} `json:"transfers"`
	PageKey string `json:"pageKey"`
}

// AssetTransfers fetches one page of bulk transfer records matching the
// filter. Amount and token-id fields are passed through as the provider's
// raw strings; the delta aggregator owns numeric parsing.
func (c *Client) AssetTransfers(ctx context.Context, filter domain.TransferFilter) (domain.TransferPage, error) {
	req := map[string]any{
		"withMetadata":      true,
		"maxCount":          hexutil.EncodeUint64(uint64(c.pageSize)),
		"contractAddresses": filter.Contracts,
		"order":             "asc",
	}
	if filter.MaxCount > 0 && filter.MaxCount < c.pageSize {
		req["maxCount"] = hexutil.EncodeUint64(uint64(filter.MaxCount))
	}
	switch filter.Category {
	case domain.CategoryShare:
		req["category"] = []string{"erc1155"}
	case domain.CategoryStablecoin:
		req["category"] = []string{"erc20"}
	default:
		return domain.TransferPage{}, &domain.PermanentError{
			Op:  "alchemy.AssetTransfers",
			Err: fmt.Errorf("unknown category %q", filter.Category),
		}
	}
	if filter.Direction == domain.DirectionIncoming {
		req["toAddress"] = filter.Wallet
	} else {
		req["fromAddress"] = filter.Wallet
	}
	if filter.PageKey != "" {
		req["pageKey"] = filter.PageKey
	}

	var result assetTransfersResult
	if err := c.call(ctx, "alchemy_getAssetTransfers", []any{req}, &result); err != nil {
		return domain.TransferPage{}, fmt.Errorf("alchemy: asset transfers %s: %w", filter.StreamName(), err)
	}

	page := domain.TransferPage{PageKey: result.PageKey}
	for _, t := range result.Transfers {
		blockNum, _ := hexutil.DecodeUint64(t.BlockNum)
		var ts time.Time
		if t.Metadata.BlockTimestamp != "" {
			ts, _ = time.Parse(time.RFC3339, t.Metadata.BlockTimestamp)
		}

		base := domain.TransferRecord{
			TxHash:    strings.ToLower(t.Hash),
			From:      strings.ToLower(t.From),
			To:        strings.ToLower(t.To),
			Contract:  strings.ToLower(t.RawContract.Address),
			BlockNum:  blockNum,
			Timestamp: ts,
			Category:  filter.Category,
		}

		if filter.Category == domain.CategoryShare {
			// One ERC-1155 record can carry several token ids.
			for i, meta := range t.ERC1155Metadata {
				rec := base
				rec.UID = fmt.Sprintf("%s:%d", t.UniqueID, i)
				rec.TokenID = meta.TokenID
				rec.Amount = meta.Value
				page.Records = append(page.Records, rec)
			}
			continue
		}

		rec := base
		rec.UID = t.UniqueID
		rec.Amount = t.RawContract.Value
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// call executes one JSON-RPC method with retries. Transient failures are
// retried with exponential backoff (base delay doubling per attempt) up to
// the configured budget; the final error is surfaced to the caller of this
// operation only.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug("retrying provider call",
				slog.String("method", method),
				slog.Int("attempt", attempt),
			)
		}

		lastErr = c.callOnce(ctx, method, params, result)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return &domain.PermanentError{Op: method, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return &domain.PermanentError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are worth retrying.
		return &domain.TransientError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Op: method, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &domain.TransientError{Op: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &domain.PermanentError{Op: method, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return &domain.TransientError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		// -32005 is the provider's rate-limit code.
		if rpcResp.Error.Code == -32005 {
			return &domain.TransientError{Op: method, Err: fmt.Errorf("rpc %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
		}
		return &domain.PermanentError{Op: method, Err: fmt.Errorf("rpc %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return &domain.PermanentError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.ChainProvider = (*Client)(nil)
