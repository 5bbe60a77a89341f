package mocks

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// EthClient is a testify mock of eth.EthClient.
type EthClient struct {
	mock.Mock
}

func (m *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *EthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	var header *types.Header
	if h := args.Get(0); h != nil {
		header = h.(*types.Header)
	}
	return header, args.Error(1)
}

func (m *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	var logs []types.Log
	if l := args.Get(0); l != nil {
		logs = l.([]types.Log)
	}
	return logs, args.Error(1)
}

func (m *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	var out []byte
	if b := args.Get(0); b != nil {
		out = b.([]byte)
	}
	return out, args.Error(1)
}

func (m *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	var receipt *types.Receipt
	if r := args.Get(0); r != nil {
		receipt = r.(*types.Receipt)
	}
	return receipt, args.Error(1)
}

func (m *EthClient) Close() {
	m.Called()
}
