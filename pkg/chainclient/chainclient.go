// Package chainclient wraps JSON-RPC access to an Ethereum-compatible node
// for the enrichment stages: block timestamps by hash, transaction receipts,
// and read-only contract calls.
//
// Lookups are LRU-memoized per client instance so each pipeline keeps its
// own small cache. Receipt misses are never cached: a missing receipt only
// means the node hasn't indexed the transaction yet.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// ErrReceiptNotFound indicates the node returned null for the receipt,
// meaning the transaction isn't indexed yet.
var ErrReceiptNotFound = errors.New("transaction receipt not found")

const cacheSize = 16

// Receipt carries the two gas numbers the recorder consumes.
type Receipt struct {
	GasUsed           *hexutil.Big `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big `json:"effectiveGasPrice"`
}

type blockHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// Config contains configuration attributes of the client.
type Config struct {
	BlockRetryInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{BlockRetryInterval: time.Second * 2}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithBlockRetryInterval overrides the sleep between retries when a block
// isn't available yet.
func WithBlockRetryInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("block retry interval %v must be positive", d)
		}
		c.BlockRetryInterval = d
		return nil
	}
}

// Client is a JSON-RPC client over HTTP.
type Client struct {
	log    zerolog.Logger
	rpc    *rpc.Client
	http   *http.Client
	config *Config

	blockTsCache *lru.Cache
	receiptCache *lru.Cache
}

// Dial connects to the node's HTTP JSON-RPC endpoint.
func Dial(rpcURI string, opts ...Option) (*Client, error) {
	httpClient := &http.Client{}
	rpcClient, err := rpc.DialHTTPWithClient(rpcURI, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %s", err)
	}

	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}

	blockTsCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating block timestamp cache: %s", err)
	}
	receiptCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating receipt cache: %s", err)
	}

	log := logger.With().Str("component", "chainclient").Logger()
	return &Client{
		log:          log,
		rpc:          rpcClient,
		http:         httpClient,
		config:       config,
		blockTsCache: blockTsCache,
		receiptCache: receiptCache,
	}, nil
}

// BlockTimestamp returns the timestamp in seconds of the block with the
// given hash. A null result means the block hasn't propagated or finalized
// yet, so the lookup retries until the block appears or ctx is canceled.
func (c *Client) BlockTimestamp(ctx context.Context, blockHash string) (int64, error) {
	if ts, ok := c.blockTsCache.Get(blockHash); ok {
		return ts.(int64), nil
	}

	for {
		var header *blockHeader
		if err := c.rpc.CallContext(ctx, &header, "eth_getBlockByHash", blockHash, false); err != nil {
			return 0, fmt.Errorf("eth_getBlockByHash: %w", err)
		}
		if header == nil {
			c.log.Info().Str("block_hash", blockHash).Msg("got an empty block response, retrying")
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.config.BlockRetryInterval):
			}
			continue
		}
		ts := int64(header.Timestamp)
		c.blockTsCache.Add(blockHash, ts)
		return ts, nil
	}
}

// TransactionReceipt returns the receipt for the transaction hash, or
// ErrReceiptNotFound when the node hasn't indexed it yet.
func (c *Client) TransactionReceipt(ctx context.Context, txnHash string) (Receipt, error) {
	if r, ok := c.receiptCache.Get(txnHash); ok {
		return r.(Receipt), nil
	}

	var receipt *Receipt
	if err := c.rpc.CallContext(ctx, &receipt, "eth_getTransactionReceipt", txnHash); err != nil {
		return Receipt{}, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	if receipt == nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptNotFound, txnHash)
	}
	c.receiptCache.Add(txnHash, *receipt)
	return *receipt, nil
}

// CallContract issues a read-only eth_call against the contract at `to`.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	arg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	if err := c.rpc.CallContext(ctx, &result, "eth_call", arg, "latest"); err != nil {
		return nil, fmt.Errorf("eth_call to %s: %w", to, err)
	}
	return result, nil
}

// ResetConnections drops idle HTTP connections so the next request opens a
// fresh one. Used by the processor after transport-level failures.
func (c *Client) ResetConnections() {
	c.http.CloseIdleConnections()
}

// Close releases the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}
