// Package client is a typed JSON-RPC client for a multisend node.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"multisend/internal/events"
	"multisend/internal/jsonrpc"
	"multisend/internal/rpc"
)

// RetryConfig holds retry configuration for read-only calls
type RetryConfig struct {
	Enabled     bool
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig retries reads three times with a short pause
var DefaultRetryConfig = RetryConfig{
	Enabled:     true,
	MaxAttempts: 3,
	Backoff:     200 * time.Millisecond,
}

// Client talks to a multisend node over HTTP or WebSocket
type Client struct {
	rpc    *gethrpc.Client
	retry  RetryConfig
	logger zerolog.Logger
}

// Dial connects to the node at url (http, https, ws or wss)
func Dial(ctx context.Context, url string, retry RetryConfig, logger zerolog.Logger) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Client{
		rpc:    c,
		retry:  retry,
		logger: logger.With().Str("component", "client").Logger(),
	}, nil
}

// Close closes the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

// read performs a read-only call, retrying failures that may be transient
func (c *Client) read(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	maxAttempts := 1
	if c.retry.Enabled && c.retry.MaxAttempts > 0 {
		maxAttempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.Backoff):
			}
		}

		lastErr = c.rpc.CallContext(ctx, result, method, args...)
		if lastErr == nil || !isRetryable(ctx, lastErr) {
			return lastErr
		}

		c.logger.Debug().
			Err(lastErr).
			Str("method", method).
			Int("attempt", attempt+1).
			Msg("retrying call")
	}
	return lastErr
}

// write performs a state changing call exactly once
func (c *Client) write(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return jsonrpc.IsRetryable(rpcErr.ErrorCode(), rpcErr.Error())
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return true
}

// RevertReason returns the reason of a reverted call, if err is one
func RevertReason(err error) (string, bool) {
	var rpcErr gethrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != jsonrpc.CodeExecutionReverted {
		return "", false
	}
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := dataErr.ErrorData().(string); ok {
			return reason, true
		}
	}
	return rpcErr.Error(), true
}

func toUint256(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return nil, errors.New("missing amount in response")
	}
	out, overflow := uint256.FromBig((*big.Int)(v))
	if overflow {
		return nil, errors.New("amount overflows uint256")
	}
	return out, nil
}

func hexAmount(v *uint256.Int) *hexutil.Big {
	return (*hexutil.Big)(v.ToBig())
}

// MaxCount returns the node's recipient limit
func (c *Client) MaxCount(ctx context.Context) (int, error) {
	var n int
	err := c.read(ctx, &n, "multisend_maxCount")
	return n, err
}

// DistributorAddress returns the spender address callers must approve
func (c *Client) DistributorAddress(ctx context.Context) (common.Address, error) {
	var addr common.Address
	err := c.read(ctx, &addr, "multisend_address")
	return addr, err
}

// BlockNumber returns the last committed block
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	err := c.read(ctx, &n, "eth_blockNumber")
	return uint64(n), err
}

// TokenInfo returns token metadata
func (c *Client) TokenInfo(ctx context.Context, token common.Address) (*rpc.TokenInfo, error) {
	var info rpc.TokenInfo
	if err := c.read(ctx, &info, "token_info", token); err != nil {
		return nil, err
	}
	return &info, nil
}

// BalanceOf returns the token balance of account
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	var v hexutil.Big
	if err := c.read(ctx, &v, "token_balanceOf", token, account); err != nil {
		return nil, err
	}
	return toUint256(&v)
}

// Allowance returns what owner allowed spender to pull
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	var v hexutil.Big
	if err := c.read(ctx, &v, "token_allowance", token, owner, spender); err != nil {
		return nil, err
	}
	return toUint256(&v)
}

// Approve sets the allowance from grants to spender
func (c *Client) Approve(ctx context.Context, from, token, spender common.Address, amount *uint256.Int) (*rpc.Commit, error) {
	var commit rpc.Commit
	err := c.write(ctx, &commit, "token_approve", rpc.ApproveArgs{
		From:    from,
		Token:   token,
		Spender: spender,
		Amount:  hexAmount(amount),
	})
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// Transfer moves amount from one account to another
func (c *Client) Transfer(ctx context.Context, from, token, to common.Address, amount *uint256.Int) (*rpc.Commit, error) {
	var commit rpc.Commit
	err := c.write(ctx, &commit, "token_transfer", rpc.TransferArgs{
		From:   from,
		Token:  token,
		To:     to,
		Amount: hexAmount(amount),
	})
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// PushDistribute sends amount of token from sender to each recipient
func (c *Client) PushDistribute(ctx context.Context, from, token common.Address, amount *uint256.Int, recipients []common.Address) (*rpc.Receipt, error) {
	var receipt rpc.Receipt
	err := c.write(ctx, &receipt, "multisend_pushDistribute", rpc.DistributeArgs{
		From:       from,
		Token:      token,
		Amount:     hexAmount(amount),
		Recipients: recipients,
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Receipt returns a stored distribution receipt, or nil when the node does not have it
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error) {
	var receipt *rpc.Receipt
	if err := c.read(ctx, &receipt, "multisend_getReceipt", txHash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// SubscribeTransfers streams matching Transfer logs into ch. It requires a WebSocket connection.
func (c *Client) SubscribeTransfers(ctx context.Context, filter events.Filter, ch chan<- *jsonrpc.Log) (*gethrpc.ClientSubscription, error) {
	return c.rpc.EthSubscribe(ctx, ch, string(events.SubTypeTransfers), filter)
}
