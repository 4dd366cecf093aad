package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/ledger"
)

// Contracts bundles the protocol contract allow-lists the orchestrator
// scans.
type Contracts struct {
	ShareTokens      []string
	Stablecoins      []string
	Pairs            []string
	PromotionIssuers []string
}

// Options holds the orchestrator's default budgets, caps, and concurrency
// limits. Caller-supplied ScanParams override the caps per request.
type Options struct {
	DefaultBudget       time.Duration
	MaxPages            int
	MaxActivity         int
	ReceiptConcurrency  int
	MetadataConcurrency int
	PriceBatchSize      int
	ResultTTL           time.Duration
	MetadataURITemplate string
}

// Orchestrator coordinates a full portfolio scan: concurrent paginated
// transfer fetches, bounded receipt decoding, reconciliation, ledger replay,
// and best-effort valuation and metadata enrichment. Deadlines are checked
// cooperatively before each unit of work; in-flight units finish.
type Orchestrator struct {
	provider  domain.ChainProvider
	prices    domain.PriceReader
	metadata  domain.MetadataResolver
	cache     domain.KVCache
	contracts Contracts
	opts      Options
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. prices, metadata, and cache are
// optional enrichments; passing nil disables them.
func NewOrchestrator(
	provider domain.ChainProvider,
	prices domain.PriceReader,
	metadata domain.MetadataResolver,
	cache domain.KVCache,
	contracts Contracts,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		provider:  provider,
		prices:    prices,
		metadata:  metadata,
		cache:     cache,
		contracts: contracts,
		opts:      opts,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// budget is a soft wall-clock deadline. The zero budget never expires.
type budget struct {
	deadline time.Time
}

func newBudget(d time.Duration) budget {
	if d <= 0 {
		return budget{}
	}
	return budget{deadline: time.Now().Add(d)}
}

func (b budget) exceeded() bool {
	return !b.deadline.IsZero() && time.Now().After(b.deadline)
}

// Scan runs one portfolio scan and returns the best-effort payload it could
// assemble plus completeness flags for everything skipped. Only failures on
// the mandatory path (transfer aggregation) return an error.
func (o *Orchestrator) Scan(ctx context.Context, params domain.ScanParams) (*domain.ScanResult, error) {
	params.Normalize()
	o.applyDefaults(&params)

	// Result cache: identical default-mode scans within the TTL are served
	// from cache. Full-mode results are cached by the job manager instead.
	cacheKey := "scan:" + params.CacheKey()
	if o.cache != nil && params.Mode == domain.ScanModeDefault {
		var cached domain.ScanResult
		if err := o.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			o.logger.Debug("scan served from cache", slog.String("wallet", params.Wallet))
			return &cached, nil
		}
	}

	var b budget
	if params.Mode == domain.ScanModeDefault {
		b = newBudget(params.Budget)
	}

	result := &domain.ScanResult{
		Wallet:      params.Wallet,
		GeneratedAt: time.Now().UTC(),
		Completeness: domain.Completeness{
			TruncatedByBudget: make(map[string]bool),
			Cursors:           make(map[string]string),
		},
	}

	// Phase 1: transfer streams. Mandatory; an error here fails the scan.
	agg := NewDeltaAggregator(params.Wallet, o.contracts.ShareTokens, o.contracts.Stablecoins, o.logger)
	if err := o.fetchTransfers(ctx, params, b, agg, &result.Completeness); err != nil {
		return nil, fmt.Errorf("scan: fetch transfers: %w", err)
	}

	// Phase 2: receipt decoding and reconciliation.
	shareDeltas := agg.ShareDeltas()
	txs := orderedTxs(shareDeltas, agg)
	if len(txs) > params.MaxActivity {
		result.Completeness.ScanIncomplete = true
		txs = txs[:params.MaxActivity]
	}

	decodedByTx := o.decodeReceipts(ctx, params, b, txs, agg, &result.Completeness)

	reconciler := NewReconciler(10)
	entries, activity := o.assemble(params, txs, shareDeltas, decodedByTx, agg, reconciler)
	result.Activity = activity

	mismatches, mismatchTxs, samples := reconciler.Stats()
	result.Completeness.Mismatches = mismatches
	result.Completeness.MismatchTxs = mismatchTxs
	result.Completeness.MismatchSamples = samples

	// Phase 3: ledger replay.
	replayed := ledger.Replay(params.Wallet, entries)
	result.Totals = replayed.Totals

	// Phase 4: reports plus optional enrichment.
	reports := buildReports(agg.Holdings(), replayed.Positions)
	if params.IncludePrices && o.prices != nil && len(o.contracts.Pairs) > 0 && !b.exceeded() {
		valuer := ledger.NewValuer(o.prices, o.opts.PriceBatchSize, o.logger)
		result.Completeness.PriceErrors = valuer.Value(ctx, strings.ToLower(o.contracts.Pairs[0]), reports)
		sumValuation(result, reports)
	}
	if params.IncludeMetadata && o.metadata != nil && !b.exceeded() {
		result.Completeness.MetadataErrors = o.resolveMetadata(ctx, reports)
	}

	result.Holdings = make([]domain.TokenReport, 0, len(reports))
	for _, r := range reports {
		result.Holdings = append(result.Holdings, *r)
	}
	sort.Slice(result.Holdings, func(i, j int) bool {
		return result.Holdings[i].Token.String() < result.Holdings[j].Token.String()
	})

	for _, truncated := range result.Completeness.TruncatedByBudget {
		if truncated {
			result.Completeness.ScanIncomplete = true
		}
	}

	// Best-effort cache write; failures are logged, never surfaced.
	if o.cache != nil && params.Mode == domain.ScanModeDefault {
		if err := o.cache.SetJSON(ctx, cacheKey, result, o.opts.ResultTTL); err != nil {
			o.logger.Warn("scan cache write failed", slog.String("error", err.Error()))
		}
	}

	return result, nil
}

func (o *Orchestrator) applyDefaults(params *domain.ScanParams) {
	if params.MaxPages <= 0 {
		params.MaxPages = o.opts.MaxPages
	}
	if params.MaxActivity <= 0 {
		params.MaxActivity = o.opts.MaxActivity
	}
	if params.Budget <= 0 {
		params.Budget = o.opts.DefaultBudget
	}
}

// fetchTransfers runs the four independent transfer streams concurrently.
// Pagination within a stream is sequential because each page's cursor
// depends on the previous response.
func (o *Orchestrator) fetchTransfers(ctx context.Context, params domain.ScanParams, b budget, agg *DeltaAggregator, comp *domain.Completeness) error {
	filters := []domain.TransferFilter{
		{Wallet: params.Wallet, Direction: domain.DirectionIncoming, Category: domain.CategoryShare, Contracts: o.contracts.ShareTokens},
		{Wallet: params.Wallet, Direction: domain.DirectionOutgoing, Category: domain.CategoryShare, Contracts: o.contracts.ShareTokens},
		{Wallet: params.Wallet, Direction: domain.DirectionIncoming, Category: domain.CategoryStablecoin, Contracts: o.contracts.Stablecoins},
		{Wallet: params.Wallet, Direction: domain.DirectionOutgoing, Category: domain.CategoryStablecoin, Contracts: o.contracts.Stablecoins},
	}

	type streamOutcome struct {
		name      string
		records   []domain.TransferRecord
		cursor    string
		truncated bool
	}
	outcomes := make([]streamOutcome, len(filters))

	g, gctx := errgroup.WithContext(ctx)
	for i, filter := range filters {
		g.Go(func() error {
			name := filter.StreamName()
			outcome := streamOutcome{name: name, cursor: params.Cursors[name]}

			for page := 0; page < params.MaxPages; page++ {
				if b.exceeded() {
					outcome.truncated = true
					break
				}

				filter.PageKey = outcome.cursor
				tp, err := o.provider.AssetTransfers(gctx, filter)
				if err != nil {
					return fmt.Errorf("stream %s: %w", name, err)
				}
				outcome.records = append(outcome.records, tp.Records...)
				outcome.cursor = tp.PageKey
				if tp.PageKey == "" {
					break
				}
				if page == params.MaxPages-1 {
					outcome.truncated = true
				}
			}

			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, outcome := range outcomes {
		agg.Add(outcome.records)
		comp.TruncatedByBudget[outcome.name] = outcome.truncated
		if outcome.cursor != "" {
			comp.Cursors[outcome.name] = outcome.cursor
		}
	}
	return nil
}

// txRef orders transactions for receipt decoding and activity output.
type txRef struct {
	hash      string
	blockNum  uint64
	timestamp time.Time
}

func orderedTxs(shareDeltas map[string]map[domain.TokenKey]*big.Int, agg *DeltaAggregator) []txRef {
	txs := make([]txRef, 0, len(shareDeltas))
	for hash := range shareDeltas {
		blockNum, ts := agg.TxMeta(hash)
		txs = append(txs, txRef{hash: hash, blockNum: blockNum, timestamp: ts})
	}
	// Newest first: when the activity cap bites, recent history wins.
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].blockNum != txs[j].blockNum {
			return txs[i].blockNum > txs[j].blockNum
		}
		return txs[i].hash < txs[j].hash
	})
	return txs
}

// decodeReceipts fetches and decodes receipts for the activity set through a
// bounded worker pool. Failures and budget-skipped receipts degrade to empty
// decodings: reconciliation then covers their balance effects with synthetic
// transfers.
func (o *Orchestrator) decodeReceipts(ctx context.Context, params domain.ScanParams, b budget, txs []txRef, agg *DeltaAggregator, comp *domain.Completeness) map[string]domain.DecodedReceipt {
	decoded := make(map[string]domain.DecodedReceipt, len(txs))
	if !params.DecodeReceipts || len(txs) == 0 {
		return decoded
	}

	shareToken := ""
	if len(o.contracts.ShareTokens) > 0 {
		shareToken = o.contracts.ShareTokens[0]
	}
	decoder := NewEventDecoder(params.Wallet, shareToken, o.contracts.Pairs, o.contracts.PromotionIssuers, o.logger)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ReceiptConcurrency)

	for _, tx := range txs {
		if b.exceeded() {
			mu.Lock()
			comp.ReceiptsSkipped++
			comp.ScanIncomplete = true
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			logs, err := o.provider.TransactionReceipt(gctx, tx.hash)
			if err != nil {
				o.logger.Warn("receipt fetch failed",
					slog.String("tx", tx.hash),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				comp.ReceiptErrors++
				mu.Unlock()
				return nil
			}

			ts := tx.timestamp
			if ts.IsZero() {
				if fetched, err := o.provider.BlockTimestamp(gctx, tx.blockNum); err == nil {
					ts = fetched
				}
			}

			dr := decoder.DecodeReceipt(tx.hash, logs, tx.blockNum, ts)
			mu.Lock()
			decoded[tx.hash] = dr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return decoded
}

// assemble merges decoded events, reconciliation transfers, and the legacy
// inferred-trade fallback into ledger entries and per-transaction activity.
func (o *Orchestrator) assemble(
	params domain.ScanParams,
	txs []txRef,
	shareDeltas map[string]map[domain.TokenKey]*big.Int,
	decodedByTx map[string]domain.DecodedReceipt,
	agg *DeltaAggregator,
	reconciler *Reconciler,
) ([]domain.LedgerEntry, []domain.TxActivity) {
	var entries []domain.LedgerEntry
	activity := make([]domain.TxActivity, 0, len(txs))

	for _, tx := range txs {
		expected := shareDeltas[tx.hash]
		dr, wasDecoded := decodedByTx[tx.hash]
		act := domain.TxActivity{TxHash: tx.hash, Timestamp: tx.timestamp, BlockNum: tx.blockNum}

		if !params.DecodeReceipts && len(expected) == 1 {
			// Legacy fallback: a single-token delta with no receipt decode
			// becomes an inferred trade priced by the transaction's net
			// currency movement.
			for token, delta := range expected {
				entry := domain.LedgerEntry{
					Kind:          domain.EntryInferredTrade,
					TxHash:        tx.hash,
					Timestamp:     tx.timestamp,
					BlockNum:      tx.blockNum,
					Token:         token,
					ShareDelta:    delta,
					CurrencyDelta: agg.CashDelta(tx.hash),
				}
				entries = append(entries, entry)
			}
			activity = append(activity, act)
			continue
		}

		for i := range dr.Trades {
			trade := dr.Trades[i]
			entries = append(entries, domain.LedgerEntry{
				Kind:          domain.EntryTrade,
				TxHash:        tx.hash,
				Timestamp:     trade.Timestamp,
				BlockNum:      tx.blockNum,
				LogIndex:      trade.LogIndex,
				Token:         trade.Token,
				ShareDelta:    trade.WalletShareDelta,
				CurrencyDelta: trade.WalletCurrencyDelta,
				Trade:         &trade,
			})
			act.Timestamp = trade.Timestamp
		}
		for _, promo := range dr.Promotions {
			entries = append(entries, domain.LedgerEntry{
				Kind:          domain.EntryPromotion,
				TxHash:        tx.hash,
				Timestamp:     promo.Timestamp,
				BlockNum:      tx.blockNum,
				LogIndex:      promo.LogIndex,
				Token:         promo.Token,
				ShareDelta:    promo.WalletShareDelta,
				CurrencyDelta: new(big.Int),
			})
			act.Timestamp = promo.Timestamp
		}

		transfers := reconciler.Reconcile(tx.hash, expected, dr, tx.blockNum, act.Timestamp)
		for _, tr := range transfers {
			entries = append(entries, domain.LedgerEntry{
				Kind:          domain.EntryReconciledTransfer,
				TxHash:        tx.hash,
				Timestamp:     tr.Timestamp,
				BlockNum:      tx.blockNum,
				Token:         tr.Token,
				ShareDelta:    tr.ShareDelta(),
				CurrencyDelta: new(big.Int),
			})
		}

		act.Trades = dr.Trades
		act.Promotions = dr.Promotions
		act.Transfers = transfers
		if wasDecoded {
			act.Unknown = dr.Unknown
		}
		activity = append(activity, act)
	}

	return entries, activity
}

// buildReports joins on-chain holdings (ground truth) with replayed
// positions. Zero-balance tokens are omitted.
func buildReports(holdings map[domain.TokenKey]*big.Int, positions map[domain.TokenKey]*domain.Position) []*domain.TokenReport {
	reports := make([]*domain.TokenReport, 0, len(holdings))
	for token, balance := range holdings {
		report := &domain.TokenReport{Token: token, Balance: balance}
		if pos, ok := positions[token]; ok {
			report.TrackedShares = pos.Shares
			report.CostBasis = pos.CostBasis
			report.AvgCost = pos.AvgCostPerShare()
		}
		reports = append(reports, report)
	}
	return reports
}

func sumValuation(result *domain.ScanResult, reports []*domain.TokenReport) {
	value := new(big.Int)
	unrealized := new(big.Int)
	for _, r := range reports {
		if r.Value != nil {
			value.Add(value, r.Value)
		}
		if r.UnrealizedPnL != nil {
			unrealized.Add(unrealized, r.UnrealizedPnL)
		}
	}
	result.Totals.Value = value
	result.Totals.UnrealizedPnL = unrealized
}

// resolveMetadata enriches reports with display metadata through a bounded
// pool. Best-effort; returns the error count.
func (o *Orchestrator) resolveMetadata(ctx context.Context, reports []*domain.TokenReport) int {
	if o.opts.MetadataURITemplate == "" || len(reports) == 0 {
		return 0
	}

	var mu sync.Mutex
	errors := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MetadataConcurrency)
	for _, report := range reports {
		g.Go(func() error {
			uri := strings.ReplaceAll(o.opts.MetadataURITemplate, "{id}", report.Token.TokenID)
			meta, err := o.metadata.Resolve(gctx, uri, report.Token.TokenID)
			if err != nil {
				mu.Lock()
				errors++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Metadata = meta
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errors
}
