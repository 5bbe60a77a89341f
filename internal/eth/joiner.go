package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	receiptCacheSize   = 4096
	blockTimeCacheSize = 4096
	shareCacheSize     = 1024
)

// SaleContext is the price and royalty of the sale that triggered a distribution.
// Both are minor-unit integer strings, "0" when no sale was found.
type SaleContext struct {
	SalePrice string
	Royalty   string
}

var noSale = SaleContext{SalePrice: "0", Royalty: "0"}

// ShareTable maps splitter recipients to basis points.
type ShareTable map[common.Address]uint64

// Joiner correlates events across the NFT, router and splitter contracts and
// answers the point lookups (block time, receipt status) records need.
type Joiner struct {
	fetcher    *Fetcher
	decoder    *Decoder
	nft        common.Address
	router     common.Address
	blockTimes BlockTimeDb

	receipts *lru.Cache[common.Hash, *types.Receipt]
	timeMemo *lru.Cache[uint64, uint64]

	headMu  sync.Mutex
	maxHead uint64
}

// NewJoiner builds a joiner. blockTimes may be nil.
func NewJoiner(fetcher *Fetcher, nft, router common.Address, blockTimes BlockTimeDb) *Joiner {
	receipts, _ := lru.New[common.Hash, *types.Receipt](receiptCacheSize)
	timeMemo, _ := lru.New[uint64, uint64](blockTimeCacheSize)
	return &Joiner{
		fetcher:    fetcher,
		decoder:    NewDecoder(Sale),
		nft:        nft,
		router:     router,
		blockTimes: blockTimes,
		receipts:   receipts,
		timeMemo:   timeMemo,
	}
}

// ObserveHead records the head a build runs against. A head below one seen
// before means a reorg or a lagging node: block times and receipts above it
// are dropped.
func (j *Joiner) ObserveHead(head uint64) {
	j.headMu.Lock()
	defer j.headMu.Unlock()

	if head >= j.maxHead {
		j.maxHead = head
		return
	}
	zap.L().Info("Chain head moved back, dropping cached block data above it",
		zap.Uint64("head", head),
		zap.Uint64("previousHead", j.maxHead),
	)
	j.maxHead = head
	for _, block := range j.timeMemo.Keys() {
		if block > head {
			j.timeMemo.Remove(block)
		}
	}
	j.receipts.Purge()
	if j.blockTimes != nil {
		if err := j.blockTimes.RevertFromBlock(head + 1); err != nil {
			zap.L().Warn("Could not drop block times", zap.Uint64("fromBlock", head+1), zap.Error(err))
		}
	}
}

// SaleAt finds the router Sale for tokenID in exactly the given block.
func (j *Joiner) SaleAt(ctx context.Context, head uint64, tokenID *big.Int, block uint64) SaleContext {
	if tokenID == nil {
		return noSale
	}
	logs, err := j.fetcher.Fetch(ctx, head, LogQuery{
		Contracts: []common.Address{j.router},
		Event:     Sale,
		Topics:    [][]common.Hash{{Uint256Topic(tokenID)}},
		FromBlock: &block,
		ToBlock:   &block,
	})
	if err != nil {
		zap.L().Debug("Sale lookup failed",
			zap.String("tokenId", tokenID.String()),
			zap.Uint64("block", block),
			zap.Error(err),
		)
		return noSale
	}
	for _, lg := range logs {
		ev, err := j.decoder.Decode(lg)
		if err != nil {
			continue
		}
		price, perr := ev.BigInt("price")
		royalty, rerr := ev.BigInt("royalty")
		if perr != nil || rerr != nil {
			continue
		}
		return SaleContext{SalePrice: price.String(), Royalty: royalty.String()}
	}
	return noSale
}

// Shares reads the splitter's current share table.
func (j *Joiner) Shares(ctx context.Context, splitter common.Address) (ShareTable, error) {
	data, err := splitterABI.Pack("getShares")
	if err != nil {
		return nil, fmt.Errorf("pack getShares: %w", err)
	}
	out, err := j.fetcher.Client().CallContract(ctx, ethereum.CallMsg{To: &splitter, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getShares on %s: %w", splitter.Hex(), err)
	}
	values, err := splitterABI.Unpack("getShares", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getShares: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unpack getShares: expected 2 outputs, got %d", len(values))
	}
	recipients, ok := values[0].([]common.Address)
	if !ok {
		return nil, errors.New("unpack getShares: recipients is not an address list")
	}
	bps, ok := values[1].([]*big.Int)
	if !ok {
		return nil, errors.New("unpack getShares: bps is not an integer list")
	}
	if len(recipients) != len(bps) {
		return nil, fmt.Errorf("getShares: %d recipients but %d shares", len(recipients), len(bps))
	}

	table := make(ShareTable, len(recipients))
	for i, r := range recipients {
		table[r] += bps[i].Uint64()
	}
	return table, nil
}

// ShareMemo remembers the share tables read during one build, so every
// payout of a splitter in that build sees the same table.
type ShareMemo struct {
	joiner *Joiner
	tables *lru.Cache[common.Address, ShareTable]
}

func (j *Joiner) NewShareMemo() *ShareMemo {
	tables, _ := lru.New[common.Address, ShareTable](shareCacheSize)
	return &ShareMemo{joiner: j, tables: tables}
}

// ShareOf returns the recipient's share in percent (bps / 100), 0 on any failure.
// Failed reads are not remembered.
func (m *ShareMemo) ShareOf(ctx context.Context, splitter, recipient common.Address) float64 {
	table, ok := m.tables.Get(splitter)
	if !ok {
		var err error
		table, err = m.joiner.Shares(ctx, splitter)
		if err != nil {
			zap.L().Debug("Share lookup failed", zap.String("splitter", splitter.Hex()), zap.Error(err))
			return 0
		}
		m.tables.Add(splitter, table)
	}
	for addr, bps := range table {
		if strings.EqualFold(addr.Hex(), recipient.Hex()) {
			return float64(bps) / 100
		}
	}
	return 0
}

// BlockTime returns the block's unix timestamp in seconds.
func (j *Joiner) BlockTime(ctx context.Context, block uint64) (uint64, error) {
	if ts, ok := j.timeMemo.Get(block); ok {
		return ts, nil
	}
	if j.blockTimes != nil {
		if ts, ok := j.blockTimes.GetTime(block); ok {
			j.timeMemo.Add(block, ts)
			return ts, nil
		}
	}

	header, err := j.fetcher.Client().HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", block, err)
	}
	if header == nil {
		return 0, fmt.Errorf("header %d: %w", block, ethereum.NotFound)
	}
	ts := header.Time
	j.timeMemo.Add(block, ts)
	if j.blockTimes != nil {
		if err := j.blockTimes.SetTime(block, ts); err != nil {
			zap.L().Warn("Could not persist block time", zap.Uint64("block", block), zap.Error(err))
		}
	}
	return ts, nil
}

// Receipt returns the transaction receipt, or nil when the node has none yet.
func (j *Joiner) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if rcp, ok := j.receipts.Get(txHash); ok {
		return rcp, nil
	}
	receipt, err := j.fetcher.Client().TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
	}
	if receipt != nil {
		j.receipts.Add(txHash, receipt)
	}
	return receipt, nil
}

func (j *Joiner) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := j.callNFT(ctx, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", errors.New("tokenURI: unexpected output type")
	}
	return uri, nil
}

func (j *Joiner) SplitterOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := j.callNFT(ctx, "splitterOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("splitterOf: unexpected output type")
	}
	return addr, nil
}

func (j *Joiner) callNFT(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := nftABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := j.fetcher.Client().CallContract(ctx, ethereum.CallMsg{To: &j.nft, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	values, err := nftABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 output, got %d", method, len(values))
	}
	return values, nil
}
