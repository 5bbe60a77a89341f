package eth

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/6529-Collections/royaltynode/internal/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LogQuery selects logs of one event emitted by any of Contracts. Topics are
// the indexed-argument filters after topic0; a nil position matches anything.
type LogQuery struct {
	Contracts []common.Address
	Event     EventSchema
	Topics    [][]common.Hash
	FromBlock *uint64
	ToBlock   *uint64
}

// Fetcher reads event logs from a bounded trailing window of blocks.
type Fetcher struct {
	client EthClient
	window uint64
}

func NewFetcher(client EthClient, window uint64) *Fetcher {
	return &Fetcher{client: client, window: window}
}

func (f *Fetcher) Client() EthClient {
	return f.client
}

func (f *Fetcher) Head(ctx context.Context) (uint64, error) {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read chain head: %w", err)
	}
	return head, nil
}

// WindowStart is the lowest block a query may reach for the given head.
func (f *Fetcher) WindowStart(head uint64) uint64 {
	if head < f.window {
		return 0
	}
	return head - f.window
}

// Fetch runs the query against [max(from, head-window), to]. Nothing is cached.
func (f *Fetcher) Fetch(ctx context.Context, head uint64, q LogQuery) ([]types.Log, error) {
	from := f.WindowStart(head)
	if q.FromBlock != nil && *q.FromBlock > from {
		from = *q.FromBlock
	}
	to := head
	if q.ToBlock != nil && *q.ToBlock < to {
		to = *q.ToBlock
	}
	if from > to {
		return []types.Log{}, nil
	}

	topics := append([][]common.Hash{{q.Event.ID()}}, q.Topics...)
	logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: q.Contracts,
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s logs in [%d, %d]: %w", q.Event.Name, from, to, err)
	}
	return logs, nil
}

// Source is one independently failing log query.
type Source struct {
	Name string
	Run  func(ctx context.Context) ([]types.Log, error)
}

type SourceResult struct {
	Logs   map[string][]types.Log
	Errors map[string]error
}

func (r SourceResult) AllFailed() bool {
	return len(r.Errors) > 0 && len(r.Logs) == 0
}

// FetchSources runs every source concurrently. A failing source is recorded
// and never cancels its siblings.
func FetchSources(ctx context.Context, limit int, sources []Source) SourceResult {
	res := SourceResult{
		Logs:   make(map[string][]types.Log, len(sources)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, src := range sources {
		g.Go(func() error {
			logs, err := src.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.SourceFailuresTotal.WithLabelValues(src.Name).Inc()
				zap.L().Warn("Log source failed", zap.String("source", src.Name), zap.Error(err))
				res.Errors[src.Name] = err
				return nil
			}
			res.Logs[src.Name] = logs
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func Uint256Topic(n *big.Int) common.Hash {
	return common.BigToHash(n)
}
