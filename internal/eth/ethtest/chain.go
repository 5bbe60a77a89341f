// Package ethtest provides an in-memory chain that answers the eth.EthClient
// calls the royalty builders make, with filter semantics matching a real node.
package ethtest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const GenesisTime = uint64(1_700_000_000)

type CallHandler func(data []byte) ([]byte, error)

type Chain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	times    map[uint64]uint64
	calls    map[common.Address]CallHandler

	// FailFilter, when set, can reject a FilterLogs query before it is served.
	FailFilter func(q ethereum.FilterQuery) error
	// FailHeaders makes every HeaderByNumber call fail.
	FailHeaders bool
	// FailReceipts makes every TransactionReceipt call fail.
	FailReceipts bool

	FilterCalls atomic.Int64
	HeaderCalls atomic.Int64
}

var _ eth.EthClient = (*Chain)(nil)

func NewChain(head uint64) *Chain {
	return &Chain{
		head:     head,
		receipts: make(map[common.Hash]*types.Receipt),
		times:    make(map[uint64]uint64),
		calls:    make(map[common.Address]CallHandler),
	}
}

func (c *Chain) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *Chain) AddLog(lg types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, lg)
}

func (c *Chain) SetBlockTime(block, ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[block] = ts
}

// SetReceipt overrides the receipt for a transaction. A nil receipt makes the
// transaction look pending.
func (c *Chain) SetReceipt(txHash common.Hash, receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txHash] = receipt
}

func (c *Chain) HandleCalls(contract common.Address, h CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[contract] = h
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.HeaderCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailHeaders {
		return nil, fmt.Errorf("header unavailable")
	}
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	if n > c.head {
		return nil, ethereum.NotFound
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: c.blockTime(n)}, nil
}

func (c *Chain) blockTime(n uint64) uint64 {
	if ts, ok := c.times[n]; ok {
		return ts
	}
	return GenesisTime + n*12
}

func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.FilterCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.FailFilter != nil {
		if err := c.FailFilter(q); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	from, to := uint64(0), c.head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	out := []types.Log{}
	for _, lg := range c.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if !matchAddress(q.Addresses, lg.Address) || !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func matchAddress(filter []common.Address, addr common.Address) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range filter {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, h := range alternatives {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	var h CallHandler
	if msg.To != nil {
		h = c.calls[*msg.To]
	}
	c.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("execution reverted")
	}
	return h(msg.Data)
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailReceipts {
		return nil, fmt.Errorf("receipt unavailable")
	}
	if rcp, ok := c.receipts[txHash]; ok {
		if rcp == nil {
			return nil, ethereum.NotFound
		}
		return rcp, nil
	}
	for _, lg := range c.logs {
		if lg.TxHash == txHash {
			return &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				TxHash:      txHash,
				BlockNumber: new(big.Int).SetUint64(lg.BlockNumber),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (c *Chain) Close() {}

// EventLog builds a log for schema. indexed holds the indexed argument values
// in declaration order (common.Address or *big.Int); data the non-indexed ones.
func EventLog(contract common.Address, schema eth.EventSchema, block uint64, txHash common.Hash, index uint, indexed []interface{}, data ...interface{}) types.Log {
	topics := []common.Hash{schema.ID()}
	for _, v := range indexed {
		switch x := v.(type) {
		case common.Address:
			topics = append(topics, eth.AddressTopic(x))
		case *big.Int:
			topics = append(topics, eth.Uint256Topic(x))
		default:
			panic(fmt.Sprintf("unsupported indexed value %T", v))
		}
	}
	packed, err := schema.Event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("pack %s data: %v", schema.Name, err))
	}
	return types.Log{
		Address:     contract,
		Topics:      topics,
		Data:        packed,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}

// SharesHandler answers getShares() with a fixed table.
func SharesHandler(recipients []common.Address, bps []*big.Int) CallHandler {
	return func(data []byte) ([]byte, error) {
		method, err := methodFor(eth.SplitterABI(), data)
		if err != nil {
			return nil, err
		}
		if method.Name != "getShares" {
			return nil, fmt.Errorf("execution reverted")
		}
		return method.Outputs.Pack(recipients, bps)
	}
}

// NFTHandler answers tokenURI(uint256) and splitterOf(uint256).
func NFTHandler(uris map[string]string, splitters map[string]common.Address) CallHandler {
	return func(data []byte) ([]byte, error) {
		method, err := methodFor(eth.NFTABI(), data)
		if err != nil {
			return nil, err
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		tokenID := args[0].(*big.Int).String()
		switch method.Name {
		case "tokenURI":
			uri, ok := uris[tokenID]
			if !ok {
				return nil, fmt.Errorf("execution reverted")
			}
			return method.Outputs.Pack(uri)
		case "splitterOf":
			addr, ok := splitters[tokenID]
			if !ok {
				return nil, fmt.Errorf("execution reverted")
			}
			return method.Outputs.Pack(addr)
		}
		return nil, fmt.Errorf("execution reverted")
	}
}

func methodFor(parsed abi.ABI, data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("execution reverted")
	}
	return parsed.MethodById(data[:4])
}
