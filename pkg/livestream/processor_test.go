package livestream

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/chainscribe/chainscribe/pkg/chainclient"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

type fakeChain struct {
	mu         sync.Mutex
	timestamps map[string]int64
	receipts   map[string]chainclient.Receipt
	resets     int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		timestamps: map[string]int64{},
		receipts:   map[string]chainclient.Receipt{},
	}
}

func (c *fakeChain) BlockTimestamp(_ context.Context, blockHash string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.timestamps[blockHash]
	if !ok {
		return 0, fmt.Errorf("unknown block %s", blockHash)
	}
	return ts, nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, txnHash string) (chainclient.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txnHash]
	if !ok {
		return chainclient.Receipt{}, fmt.Errorf("%w: %s", chainclient.ErrReceiptNotFound, txnHash)
	}
	return receipt, nil
}

func (c *fakeChain) ResetConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

func (c *fakeChain) setReceipt(txnHash string, gasUsed, gasPriceWei int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txnHash] = chainclient.Receipt{
		GasUsed:           (*hexutil.Big)(big.NewInt(gasUsed)),
		EffectiveGasPrice: (*hexutil.Big)(big.NewInt(gasPriceWei)),
	}
}

func (c *fakeChain) setTimestamp(blockHash string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamps[blockHash] = ts
}

type fakeOracle struct {
	price priceoracle.Price
}

func (o *fakeOracle) ClosePriceAt(context.Context, string, string, int64) (priceoracle.Price, error) {
	return o.price, nil
}

func (o *fakeOracle) ResetConnections() {}

func rawLog(txnHash, blockHash string, logIndex uint64) RawLog {
	return RawLog{
		LogIndex:         hexutil.EncodeUint64(logIndex),
		TransactionIndex: "0x1",
		TransactionHash:  txnHash,
		BlockHash:        blockHash,
		BlockNumber:      "0xb71b00",
		Address:          "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8",
		Data:             "0x00",
		Topics:           []string{"0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"},
	}
}

func startProcessor(t *testing.T, p *Processor) (chan<- ListenerOutput, <-chan ProcessorOutput) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan ListenerOutput, 16)
	out := make(chan ProcessorOutput, 16)
	done := make(chan error, 1)
	go func() { done <- p.ProcessForever(ctx, in, out) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return in, out
}

func receiveRecord(t *testing.T, out <-chan ProcessorOutput) ProcessorOutput {
	t.Helper()
	select {
	case po := <-out:
		return po
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for a record")
		return ProcessorOutput{}
	}
}

func requireNoRecord(t *testing.T, out <-chan ProcessorOutput) {
	t.Helper()
	select {
	case po := <-out:
		t.Fatalf("unexpected record for txn %s", po.Record.TransactionHash)
	case <-time.After(time.Millisecond * 200):
	}
}

func newTestProcessor(t *testing.T, chain ChainClient, opts ...ProcessorOption) *Processor {
	t.Helper()
	p, err := NewProcessor(chain, &fakeOracle{
		price: priceoracle.Price{Units: big.NewInt(123456), Decimals: 2},
	}, "ETH", "USDT", opts...)
	require.NoError(t, err)
	p.RegisterEventID(0, "uniswap-v3-pool-swap")
	p.RegisterHandler(0, nil)
	return p
}

func TestProcessEnrichesRecord(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.setTimestamp("0xblockT", 1672531260)
	chain.setReceipt("0xtxnT", 21000, 1000000000)
	p := newTestProcessor(t, chain)
	in, out := startProcessor(t, p)

	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnT", "0xblockT", 5)}

	po := receiveRecord(t, out)
	require.Equal(t, 0, po.SubscriptionID)
	require.Equal(t, "uniswap-v3-pool-swap", po.Record.EventID)
	require.Equal(t, "0xtxnT", po.Record.TransactionHash)
	require.Equal(t, uint64(5), po.Record.LogIndex)
	require.Equal(t, uint64(0xb71b00), po.Record.BlockNumber)
	require.Equal(t, int64(1672531260), po.Record.Timestamp)
	require.Equal(t, "21000", po.Record.GasUsed)
	require.Equal(t, "1000000000", po.Record.GasPriceWei)
	require.Equal(t, "USDT", po.Record.GasPriceQuote.Currency)
	require.Equal(t, "25925760000000000", po.Record.GasPriceQuote.Value)
	require.Empty(t, po.Record.Data)
}

func TestPostponedLogEmittedAfterNextEvent(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.setTimestamp("0xblockT", 1672531260)
	chain.setTimestamp("0xblockU", 1672531272)
	chain.setReceipt("0xtxnU", 30000, 2000000000)
	p := newTestProcessor(t, chain)
	in, out := startProcessor(t, p)

	// T's receipt isn't indexed yet, so it gets parked.
	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnT", "0xblockT", 1)}
	requireNoRecord(t, out)
	require.Equal(t, int64(1), p.mPostponed.Load())

	// Once the receipt shows up, the next processed event flushes T right
	// after U.
	chain.setReceipt("0xtxnT", 21000, 1000000000)
	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnU", "0xblockU", 2)}

	first := receiveRecord(t, out)
	second := receiveRecord(t, out)
	require.Equal(t, "0xtxnU", first.Record.TransactionHash)
	require.Equal(t, "0xtxnT", second.Record.TransactionHash)
	require.Equal(t, int64(0), p.mRetrySize.Load())
}

func TestRemovedLogEvictsRetryBucket(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.setTimestamp("0xblockT", 1672531260)
	chain.setTimestamp("0xblockU", 1672531272)
	chain.setReceipt("0xtxnU", 30000, 2000000000)
	p := newTestProcessor(t, chain)
	in, out := startProcessor(t, p)

	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnT", "0xblockT", 1)}
	requireNoRecord(t, out)

	// The transaction was reorged out: its parked logs must never surface,
	// even after the receipt becomes available.
	removed := rawLog("0xtxnT", "0xblockT", 1)
	removed.Removed = true
	in <- ListenerOutput{SubscriptionID: 0, Log: removed}

	chain.setReceipt("0xtxnT", 21000, 1000000000)
	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnU", "0xblockU", 2)}

	po := receiveRecord(t, out)
	require.Equal(t, "0xtxnU", po.Record.TransactionHash)
	requireNoRecord(t, out)
}

func TestRetryBucketExpires(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.setTimestamp("0xblockT", 1672531260)
	chain.setTimestamp("0xblockU", 1672531272)
	chain.setReceipt("0xtxnU", 30000, 2000000000)
	p := newTestProcessor(t, chain, WithRetryTTL(time.Millisecond*50))
	in, out := startProcessor(t, p)

	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnT", "0xblockT", 1)}
	requireNoRecord(t, out)
	time.Sleep(time.Millisecond * 80)

	in <- ListenerOutput{SubscriptionID: 0, Log: rawLog("0xtxnU", "0xblockU", 2)}
	po := receiveRecord(t, out)
	require.Equal(t, "0xtxnU", po.Record.TransactionHash)
	requireNoRecord(t, out)
	require.Equal(t, int64(1), p.mDropped.Load())
	require.Equal(t, int64(0), p.mRetrySize.Load())
}
