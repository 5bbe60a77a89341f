package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var CreateEthClient = createEthClient

type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

func createEthClient() (EthClient, error) {
	cfg := config.Get()
	nodeUrl := cfg.EthereumNodeUrl
	if nodeUrl == "" {
		return nil, errors.New("failed to configure Ethereum client - EthereumNodeUrl is not set")
	}
	client, err := ethclient.Dial(nodeUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to configure Ethereum client - %w", err)
	}
	return NewRetryingEthClient(client, cfg.RPCTimeout(), cfg.MaxRetries()), nil
}

// RetryingEthClient puts a per-call deadline and a bounded retry budget on every RPC.
// Nothing above this layer retries.
type RetryingEthClient struct {
	inner      EthClient
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
}

func NewRetryingEthClient(inner EthClient, timeout time.Duration, maxRetries int) *RetryingEthClient {
	return &RetryingEthClient{
		inner:      inner,
		timeout:    timeout,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

func withRetry[T any](ctx context.Context, c *RetryingEthClient, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	operation := func() error {
		metrics.RPCCallsTotal.WithLabelValues(method).Inc()
		start := time.Now()

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		r, err := fn(callCtx)
		metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
			if ctx.Err() != nil || errors.Is(err, ethereum.NotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		zap.L().Debug("Retrying RPC call",
			zap.String("method", method),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return result, err
	}
	return result, nil
}

func (c *RetryingEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return withRetry(ctx, c, "eth_blockNumber", c.inner.BlockNumber)
}

func (c *RetryingEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return withRetry(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.inner.HeaderByNumber(ctx, number)
	})
}

func (c *RetryingEthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return withRetry(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.inner.FilterLogs(ctx, q)
	})
}

func (c *RetryingEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.inner.CallContract(ctx, msg, blockNumber)
	})
}

func (c *RetryingEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return withRetry(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.inner.TransactionReceipt(ctx, txHash)
	})
}

func (c *RetryingEthClient) Close() {
	c.inner.Close()
}
