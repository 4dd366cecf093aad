package scan

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/avasile/sharescan/internal/domain"
)

// Event signatures emitted by the protocol contracts. Pair events are batch
// events: one log covers many token ids through parallel arrays.
var (
	sharesBoughtTopic = crypto.Keccak256Hash(
		[]byte("SharesBought(address,address,uint256[],uint256[],uint256[],uint256[])"),
	)
	sharesSoldTopic = crypto.Keccak256Hash(
		[]byte("SharesSold(address,address,uint256[],uint256[],uint256[],uint256[])"),
	)
	sharesGrantedTopic = crypto.Keccak256Hash(
		[]byte("SharesGranted(address,uint256[],uint256[])"),
	)
)

func mustArrayType() abi.Type {
	t, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var uint256Array = mustArrayType()

// Non-indexed data layouts for the two event shapes.
var (
	tradeDataArgs = abi.Arguments{
		{Name: "tokenIds", Type: uint256Array},
		{Name: "shareAmounts", Type: uint256Array},
		{Name: "currencyAmounts", Type: uint256Array},
		{Name: "feeAmounts", Type: uint256Array},
	}
	grantDataArgs = abi.Arguments{
		{Name: "tokenIds", Type: uint256Array},
		{Name: "amounts", Type: uint256Array},
	}
)

// EventDecoder recognizes known contract/topic combinations in a
// transaction's logs and decodes them into typed trade and promotion events.
// A log from an allow-listed contract that fails decoding degrades to an
// UnknownLog record; one bad log never aborts the rest of the receipt.
type EventDecoder struct {
	wallet     string
	shareToken string
	pairs      map[string]bool
	issuers    map[string]bool
	logger     *slog.Logger
}

// NewEventDecoder creates a decoder for one wallet. shareToken is the
// ERC-1155 contract whose token ids the pair events reference; pairs and
// issuers are the disjoint contract allow-lists.
func NewEventDecoder(wallet, shareToken string, pairs, issuers []string, logger *slog.Logger) *EventDecoder {
	return &EventDecoder{
		wallet:     strings.ToLower(wallet),
		shareToken: strings.ToLower(shareToken),
		pairs:      lowerSet(pairs),
		issuers:    lowerSet(issuers),
		logger:     logger,
	}
}

func lowerSet(addrs []string) map[string]bool {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[strings.ToLower(a)] = true
	}
	return m
}

// DecodeReceipt walks one receipt's logs and returns the wallet-relevant
// trades and promotions plus any unknown records. Events where the wallet is
// neither party are discarded, not errored.
func (d *EventDecoder) DecodeReceipt(txHash string, logs []types.Log, blockNum uint64, ts time.Time) domain.DecodedReceipt {
	out := domain.DecodedReceipt{TxHash: txHash}

	for _, lg := range logs {
		addr := strings.ToLower(lg.Address.Hex())

		switch {
		case d.pairs[addr]:
			trades, err := d.decodeTradeLog(addr, lg, txHash, blockNum, ts)
			if err != nil {
				out.Unknown = append(out.Unknown, unknownFromLog(addr, lg, err))
				d.logger.Debug("undecodable pair log",
					slog.String("tx", txHash),
					slog.String("contract", addr),
					slog.String("error", err.Error()),
				)
				continue
			}
			out.Trades = append(out.Trades, trades...)

		case d.issuers[addr]:
			promos, err := d.decodeGrantLog(addr, lg, txHash, blockNum, ts)
			if err != nil {
				out.Unknown = append(out.Unknown, unknownFromLog(addr, lg, err))
				d.logger.Debug("undecodable promotion log",
					slog.String("tx", txHash),
					slog.String("contract", addr),
					slog.String("error", err.Error()),
				)
				continue
			}
			out.Promotions = append(out.Promotions, promos...)
		}
	}

	return out
}

// decodeTradeLog decodes one pair-contract log. Logs with a topic0 outside
// the two known trade signatures are reported as decode errors so they end
// up in the unknown record set.
func (d *EventDecoder) decodeTradeLog(addr string, lg types.Log, txHash string, blockNum uint64, ts time.Time) ([]domain.TradeEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, &domain.DecodeError{Contract: addr, Topic: "", Err: fmt.Errorf("log has no topics")}
	}

	var direction domain.TradeDirection
	switch lg.Topics[0] {
	case sharesBoughtTopic:
		direction = domain.TradeBuy
	case sharesSoldTopic:
		direction = domain.TradeSell
	default:
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("unrecognized topic0"),
		}
	}

	if len(lg.Topics) < 3 {
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("expected 2 indexed addresses, got %d topics", len(lg.Topics)-1),
		}
	}
	initiator := strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())
	recipient := strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())

	vals, err := tradeDataArgs.Unpack(lg.Data)
	if err != nil {
		return nil, &domain.DecodeError{Contract: addr, Topic: lg.Topics[0].Hex(), Err: err}
	}
	tokenIDs, err1 := asBigSlice(vals, 0)
	shareAmounts, err2 := asBigSlice(vals, 1)
	currencyAmounts, err3 := asBigSlice(vals, 2)
	feeAmounts, err4 := asBigSlice(vals, 3)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, &domain.DecodeError{Contract: addr, Topic: lg.Topics[0].Hex(), Err: err}
	}
	if len(shareAmounts) != len(tokenIDs) || len(currencyAmounts) != len(tokenIDs) || len(feeAmounts) != len(tokenIDs) {
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("parallel array length mismatch"),
		}
	}

	var events []domain.TradeEvent
	for i := range tokenIDs {
		ev := domain.TradeEvent{
			Direction:      direction,
			Pair:           addr,
			Token:          domain.NewTokenKey(d.shareToken, tokenIDs[i]),
			ShareAmount:    shareAmounts[i],
			CurrencyAmount: currencyAmounts[i],
			FeeAmount:      feeAmounts[i],
			Initiator:      initiator,
			Recipient:      recipient,
			TxHash:         txHash,
			BlockNum:       blockNum,
			LogIndex:       lg.Index,
			Timestamp:      ts,
		}

		ev.WalletShareDelta = d.walletShareDelta(direction, initiator, recipient, shareAmounts[i])
		if ev.WalletShareDelta.Sign() == 0 {
			// Trade between two other parties. Not an error; just not ours.
			continue
		}
		ev.WalletCurrencyDelta = d.walletCurrencyDelta(direction, initiator, recipient, currencyAmounts[i], feeAmounts[i])
		ev.PriceExclFee, ev.PriceInclFee = perSharePrices(shareAmounts[i], currencyAmounts[i], feeAmounts[i])

		events = append(events, ev)
	}
	return events, nil
}

// walletShareDelta computes the signed share movement for the wallet: shares
// arrive at the recipient on a buy and leave the seller on a sell.
func (d *EventDecoder) walletShareDelta(direction domain.TradeDirection, initiator, recipient string, shares *big.Int) *big.Int {
	switch direction {
	case domain.TradeBuy:
		if recipient == d.wallet {
			return new(big.Int).Set(shares)
		}
	case domain.TradeSell:
		if initiator == d.wallet {
			return new(big.Int).Neg(shares)
		}
	}
	return new(big.Int)
}

// walletCurrencyDelta computes the signed stablecoin movement for the
// wallet. On a buy the initiator pays currency plus fee; on a sell the
// recipient receives currency net of fee. Proceeds redirected to another
// address yield a zero delta for the wallet.
func (d *EventDecoder) walletCurrencyDelta(direction domain.TradeDirection, initiator, recipient string, currency, fee *big.Int) *big.Int {
	switch direction {
	case domain.TradeBuy:
		if initiator == d.wallet {
			total := new(big.Int).Add(currency, fee)
			return total.Neg(total)
		}
	case domain.TradeSell:
		if recipient == d.wallet {
			return new(big.Int).Sub(currency, fee)
		}
	}
	return new(big.Int)
}

// perSharePrices returns the trade's per-share price excluding and including
// fee, scaled by SharesWad. Zero shares yield nil prices (undefined, not an
// error).
func perSharePrices(shares, currency, fee *big.Int) (excl, incl *big.Int) {
	if shares.Sign() == 0 {
		return nil, nil
	}
	excl = new(big.Int).Mul(currency, domain.SharesWad)
	excl.Quo(excl, shares)

	incl = new(big.Int).Add(currency, fee)
	incl.Mul(incl, domain.SharesWad)
	incl.Quo(incl, shares)
	return excl, incl
}

func (d *EventDecoder) decodeGrantLog(addr string, lg types.Log, txHash string, blockNum uint64, ts time.Time) ([]domain.PromotionEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, &domain.DecodeError{Contract: addr, Topic: "", Err: fmt.Errorf("log has no topics")}
	}
	if lg.Topics[0] != sharesGrantedTopic {
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("unrecognized topic0"),
		}
	}
	if len(lg.Topics) < 2 {
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("missing indexed account"),
		}
	}
	account := strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())

	vals, err := grantDataArgs.Unpack(lg.Data)
	if err != nil {
		return nil, &domain.DecodeError{Contract: addr, Topic: lg.Topics[0].Hex(), Err: err}
	}
	tokenIDs, err1 := asBigSlice(vals, 0)
	amounts, err2 := asBigSlice(vals, 1)
	if err := firstErr(err1, err2); err != nil {
		return nil, &domain.DecodeError{Contract: addr, Topic: lg.Topics[0].Hex(), Err: err}
	}
	if len(amounts) != len(tokenIDs) {
		return nil, &domain.DecodeError{
			Contract: addr,
			Topic:    lg.Topics[0].Hex(),
			Err:      fmt.Errorf("parallel array length mismatch"),
		}
	}

	if account != d.wallet {
		// Grant to someone else; discard.
		return nil, nil
	}

	events := make([]domain.PromotionEvent, 0, len(tokenIDs))
	for i := range tokenIDs {
		events = append(events, domain.PromotionEvent{
			Source:           addr,
			Token:            domain.NewTokenKey(d.shareToken, tokenIDs[i]),
			ShareAmount:      amounts[i],
			WalletShareDelta: new(big.Int).Set(amounts[i]),
			TxHash:           txHash,
			BlockNum:         blockNum,
			LogIndex:         lg.Index,
			Timestamp:        ts,
		})
	}
	return events, nil
}

func unknownFromLog(addr string, lg types.Log, err error) domain.UnknownLog {
	topic0 := ""
	if len(lg.Topics) > 0 {
		topic0 = lg.Topics[0].Hex()
	}
	return domain.UnknownLog{
		Contract: addr,
		Topic0:   topic0,
		LogIndex: lg.Index,
		Reason:   err.Error(),
	}
}

func asBigSlice(vals []any, idx int) ([]*big.Int, error) {
	if idx >= len(vals) {
		return nil, fmt.Errorf("missing data field %d", idx)
	}
	s, ok := vals[idx].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("data field %d is not uint256[]", idx)
	}
	return s, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
