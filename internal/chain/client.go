// Package chain reads blocks and contract logs from an EVM node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/metrics"
	"github.com/litup/indexer/pkg/config"
	"github.com/litup/indexer/pkg/logging"
	"github.com/litup/indexer/pkg/telemetry"
)

// LogSource is the subset of node calls the sync loop needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// backend is implemented by *ethclient.Client.
type backend interface {
	LogSource
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Client wraps an ethclient connection with tracing and bounded retries
type Client struct {
	rpc           backend
	maxRetries    int
	retryInterval time.Duration
	logger        *zap.Logger
}

var _ LogSource = (*Client)(nil)

// New dials the configured node
func New(ctx context.Context, cfg *config.ChainConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required")
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	client := newClient(rpc, cfg.MaxRetries, cfg.RetryInterval)
	client.logger.Info("Chain client initialized",
		zap.String("url", cfg.RPCURL),
		zap.String("chain", cfg.ChainName))

	return client, nil
}

func newClient(rpc backend, maxRetries int, retryInterval time.Duration) *Client {
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	return &Client{
		rpc:           rpc,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		logger:        logging.WithComponent("chain-client"),
	}
}

// withRetry runs fn up to maxRetries+1 times. Context errors are not retried.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.retryInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		metrics.RPCErrors.WithLabelValues(method).Inc()
		c.logger.Warn("RPC call failed",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.maxRetries+1, lastErr)
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.block_number")
	defer span.End()

	var num uint64
	err := c.withRetry(ctx, "eth_blockNumber", func() error {
		var err error
		num, err = c.rpc.BlockNumber(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return num, err
}

// FilterLogs returns the logs matching query
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.filter_logs")
	defer span.End()
	if query.FromBlock != nil && query.ToBlock != nil {
		span.SetAttributes(
			attribute.Int64("from", query.FromBlock.Int64()),
			attribute.Int64("to", query.ToBlock.Int64()),
		)
	}

	var logs []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = c.rpc.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return logs, err
}

// HeaderByNumber returns the header of a block; nil number means latest
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.header_by_number")
	defer span.End()

	var header *types.Header
	err := c.withRetry(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.rpc.HeaderByNumber(ctx, number)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return header, err
}

// CodeAt returns the contract code at account, for bind.ContractCaller.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.withRetry(ctx, "eth_getCode", func() error {
		var err error
		code, err = c.rpc.CodeAt(ctx, account, blockNumber)
		return err
	})
	return code, err
}

// CallContract executes a read-only call, for bind.ContractCaller.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.call_contract")
	defer span.End()

	var out []byte
	err := c.withRetry(ctx, "eth_call", func() error {
		var err error
		out, err = c.rpc.CallContract(ctx, msg, blockNumber)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// Close closes the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}
