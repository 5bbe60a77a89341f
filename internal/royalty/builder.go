package royalty

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/internal/metadata"
	"github.com/6529-Collections/royaltynode/internal/metrics"
	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	ErrAllSourcesFailed = errors.New("all event sources failed")
	ErrInvalidAddress   = errors.New("invalid address")
)

// Contracts are the fixed marketplace deployments the node reads from.
type Contracts struct {
	NFT          common.Address
	Router       common.Address
	PaymentToken common.Address
}

// NameResolver gives a display name for a token. It must not fail.
type NameResolver interface {
	Name(ctx context.Context, tokenID *big.Int) string
}

// Result is one freshly derived view for one address.
type Result[R any] struct {
	Records      []R
	Summary      Summary[R]
	ScannedBlock uint64
	// SourceErrors names the sources that failed in an otherwise usable build.
	SourceErrors map[string]string
}

// Builder holds what every derivation needs: the log fetcher, the joiner
// and a bounded pool for per-record enrichment.
type Builder struct {
	fetcher   *eth.Fetcher
	joiner    *eth.Joiner
	names     NameResolver
	contracts Contracts
	pool      pond.Pool
	decoder   *eth.Decoder
}

// NewBuilder wires a builder. A nil names resolver falls back to placeholder names.
func NewBuilder(fetcher *eth.Fetcher, joiner *eth.Joiner, names NameResolver, contracts Contracts, pool pond.Pool) *Builder {
	if names == nil {
		names = placeholderNames{}
	}
	return &Builder{
		fetcher:   fetcher,
		joiner:    joiner,
		names:     names,
		contracts: contracts,
		pool:      pool,
		decoder:   eth.NewDecoder(),
	}
}

type placeholderNames struct{}

func (placeholderNames) Name(_ context.Context, tokenID *big.Int) string {
	if tokenID == nil {
		return metadata.PlaceholderName("0")
	}
	return metadata.PlaceholderName(tokenID.String())
}

func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return common.HexToAddress(address), nil
}

func (b *Builder) head(ctx context.Context) (uint64, error) {
	head, err := b.fetcher.Head(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAllSourcesFailed, err)
	}
	b.joiner.ObserveHead(head)
	return head, nil
}

// fetch runs the sources and fails only if every one of them failed.
func (b *Builder) fetch(ctx context.Context, sources []eth.Source) (map[string][]types.Log, map[string]string, error) {
	res := eth.FetchSources(ctx, len(sources), sources)
	if res.AllFailed() {
		errs := make([]error, 0, len(res.Errors))
		for _, name := range sortedKeys(res.Errors) {
			errs = append(errs, fmt.Errorf("%s: %w", name, res.Errors[name]))
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	var failed map[string]string
	if len(res.Errors) > 0 {
		failed = make(map[string]string, len(res.Errors))
		for name, err := range res.Errors {
			failed[name] = err.Error()
		}
	}
	return res.Logs, failed, nil
}

// fromKnownSplitters keeps the payouts emitted by the splitter the NFT
// contract names for the paid token. Payouts whose splitter cannot be
// confirmed are dropped.
func (b *Builder) fromKnownSplitters(ctx context.Context, logs []types.Log) []types.Log {
	events := b.decoder.DecodeAll(logs)
	index := make(map[string]int)
	var ids []*big.Int
	for _, ev := range events {
		if ev.Schema.Name != eth.RoyaltyDistributed.Name {
			continue
		}
		id, err := ev.BigInt("tokenId")
		if err != nil {
			continue
		}
		if _, ok := index[id.String()]; !ok {
			index[id.String()] = len(ids)
			ids = append(ids, id)
		}
	}

	splitters := make([]common.Address, len(ids))
	b.forEach(ctx, len(ids), func(ctx context.Context, i int) {
		splitter, err := b.joiner.SplitterOf(ctx, ids[i])
		if err != nil {
			zap.L().Debug("Splitter lookup failed", zap.String("tokenId", ids[i].String()), zap.Error(err))
			return
		}
		splitters[i] = splitter
	})

	out := make([]types.Log, 0, len(events))
	for _, ev := range events {
		if ev.Schema.Name != eth.RoyaltyDistributed.Name {
			continue
		}
		id, err := ev.BigInt("tokenId")
		if err != nil {
			continue
		}
		splitter := splitters[index[id.String()]]
		if splitter == eth.ZeroAddress || splitter != ev.Log.Address {
			metrics.IgnoredEventsTotal.WithLabelValues("unknown_splitter").Inc()
			zap.L().Debug("Ignoring payout from unknown splitter",
				zap.String("emitter", ev.Log.Address.Hex()),
				zap.String("tokenId", id.String()),
			)
			continue
		}
		out = append(out, ev.Log)
	}
	return out
}

func (b *Builder) source(name string, head uint64, q eth.LogQuery) eth.Source {
	return eth.Source{
		Name: name,
		Run: func(ctx context.Context) ([]types.Log, error) {
			return b.fetcher.Fetch(ctx, head, q)
		},
	}
}

// forEach runs fn for every index on the enrichment pool and waits.
func (b *Builder) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	group := b.pool.NewGroup()
	for i := 0; i < n; i++ {
		group.Submit(func() {
			fn(ctx, i)
		})
	}
	if err := group.Wait(); err != nil {
		zap.L().Warn("Enrichment group failed", zap.Error(err))
	}
}

func (b *Builder) blockTime(ctx context.Context, block uint64) uint64 {
	ts, err := b.joiner.BlockTime(ctx, block)
	if err != nil {
		metrics.EnrichmentDefaultsTotal.WithLabelValues("timestamp").Inc()
		zap.L().Debug("Block time unavailable", zap.Uint64("block", block), zap.Error(err))
		return 0
	}
	return ts
}

func (b *Builder) status(ctx context.Context, txHash string) Status {
	receipt, err := b.joiner.Receipt(ctx, common.HexToHash(txHash))
	if err != nil {
		metrics.EnrichmentDefaultsTotal.WithLabelValues("status").Inc()
		zap.L().Debug("Receipt unavailable", zap.String("txHash", txHash), zap.Error(err))
		return StatusSuccess
	}
	return StatusFromReceipt(receipt)
}

// StatusFromReceipt maps a receipt to a status. No receipt yet means pending.
func StatusFromReceipt(receipt *types.Receipt) Status {
	switch {
	case receipt == nil:
		return StatusPending
	case receipt.Status == types.ReceiptStatusSuccessful:
		return StatusSuccess
	default:
		return StatusFailed
	}
}

func addressTopics(positions ...*common.Address) [][]common.Hash {
	topics := make([][]common.Hash, len(positions))
	for i, p := range positions {
		if p != nil {
			topics[i] = []common.Hash{eth.AddressTopic(*p)}
		}
	}
	return topics
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
