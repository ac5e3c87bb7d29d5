package livestream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/chainscribe/chainscribe/pkg/chainclient"
	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/events"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

// ChainClient provides the node lookups the processor enriches with.
// *chainclient.Client satisfies it.
type ChainClient interface {
	BlockTimestamp(ctx context.Context, blockHash string) (int64, error)
	TransactionReceipt(ctx context.Context, txnHash string) (chainclient.Receipt, error)
	ResetConnections()
}

// PriceOracle provides gas-currency close prices. *priceoracle.Client
// satisfies it.
type PriceOracle interface {
	ClosePriceAt(ctx context.Context, gasCurrency, quoteCurrency string, timestamp int64) (priceoracle.Price, error)
	ResetConnections()
}

// ProcessorConfig contains configuration attributes of a Processor.
type ProcessorConfig struct {
	RetryTTL          time.Duration
	FetchRetryBackoff time.Duration
}

// DefaultProcessorConfig returns the default processor configuration.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		RetryTTL:          time.Minute * 10,
		FetchRetryBackoff: time.Second,
	}
}

// ProcessorOption modifies a processor configuration attribute.
type ProcessorOption func(*ProcessorConfig) error

// WithRetryTTL overrides how long logs with a pending receipt are kept
// before being dropped.
func WithRetryTTL(d time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) error {
		if d <= 0 {
			return fmt.Errorf("retry ttl %v must be positive", d)
		}
		c.RetryTTL = d
		return nil
	}
}

// WithFetchRetryBackoff overrides the sleep after a transport-level
// enrichment failure.
func WithFetchRetryBackoff(d time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) error {
		if d <= 0 {
			return fmt.Errorf("fetch retry backoff %v must be positive", d)
		}
		c.FetchRetryBackoff = d
		return nil
	}
}

// retryBucket groups the logs of one transaction whose receipt the node
// hasn't indexed yet.
type retryBucket struct {
	createdAt time.Time
	entries   []ListenerOutput
}

// Processor enriches raw logs with block timestamps, receipt gas numbers, a
// gas price quote, and handler-decoded fields.
//
// Logs whose receipt isn't indexed yet are parked in an insertion-ordered
// retry queue keyed by transaction hash. The queue is walked after every
// processed log; buckets older than the TTL are dropped, and buckets of
// reorged-out transactions are evicted when a removed log arrives.
type Processor struct {
	log    zerolog.Logger
	chain  ChainClient
	oracle PriceOracle
	config *ProcessorConfig

	gasCurrency   string
	quoteCurrency string

	eventIDs map[int]string
	handlers map[int]events.Handler

	retryOrder   []string
	retryBuckets map[string]*retryBucket

	mProcessed *atomic.Int64
	mPostponed *atomic.Int64
	mDropped   *atomic.Int64
	mRetrySize *atomic.Int64
}

// NewProcessor returns a processor that quotes gas costs as
// gasCurrency/quoteCurrency.
func NewProcessor(
	chain ChainClient,
	oracle PriceOracle,
	gasCurrency, quoteCurrency string,
	opts ...ProcessorOption,
) (*Processor, error) {
	config := DefaultProcessorConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}
	return &Processor{
		log:           logger.With().Str("component", "processor").Logger(),
		chain:         chain,
		oracle:        oracle,
		config:        config,
		gasCurrency:   gasCurrency,
		quoteCurrency: quoteCurrency,
		eventIDs:      map[int]string{},
		handlers:      map[int]events.Handler{},
		retryBuckets:  map[string]*retryBucket{},
		mProcessed:    atomic.NewInt64(0),
		mPostponed:    atomic.NewInt64(0),
		mDropped:      atomic.NewInt64(0),
		mRetrySize:    atomic.NewInt64(0),
	}, nil
}

// RegisterEventID binds a subscription id to its event id. Must be called
// before ProcessForever.
func (p *Processor) RegisterEventID(subscriptionID int, eventID string) {
	p.eventIDs[subscriptionID] = eventID
}

// RegisterHandler binds a subscription id to its decoding handler, which may
// be nil for events without decoding logic. Must be called before
// ProcessForever.
func (p *Processor) RegisterHandler(subscriptionID int, handler events.Handler) {
	p.handlers[subscriptionID] = handler
}

// ProcessForever consumes raw logs from in and pushes enriched records into
// out until ctx is canceled.
func (p *Processor) ProcessForever(
	ctx context.Context, in <-chan ListenerOutput, out chan<- ProcessorOutput,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case lo := <-in:
			if err := p.processOne(ctx, lo, out); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("processing log of txn %s: %s", lo.Log.TransactionHash, err)
			}
			if err := p.walkRetryQueue(ctx, out); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("walking retry queue: %s", err)
			}
		}
	}
}

func (p *Processor) processOne(ctx context.Context, lo ListenerOutput, out chan<- ProcessorOutput) error {
	if lo.Log.Removed {
		if _, ok := p.retryBuckets[lo.Log.TransactionHash]; ok {
			p.log.Info().
				Str("txn_hash", lo.Log.TransactionHash).
				Msg("transaction reorged out, evicting retry bucket")
			p.evictBucket(lo.Log.TransactionHash)
		}
		return nil
	}

	tsCh := make(chan int64, 1)
	receiptCh := make(chan chainclient.Receipt, 1)
	errCh := make(chan error, 2)
	go func() {
		ts, err := p.fetchBlockTimestamp(ctx, lo.Log.BlockHash)
		if err != nil {
			errCh <- err
			return
		}
		tsCh <- ts
	}()
	go func() {
		receipt, err := p.fetchReceipt(ctx, lo.Log.TransactionHash)
		if err != nil {
			errCh <- err
			return
		}
		receiptCh <- receipt
	}()

	var (
		ts      int64
		receipt chainclient.Receipt
	)
	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts = <-tsCh:
		case receipt = <-receiptCh:
		case err := <-errCh:
			if errors.Is(err, chainclient.ErrReceiptNotFound) {
				p.postpone(lo)
				return nil
			}
			return err
		}
	}

	price, err := p.fetchPrice(ctx, ts)
	if err != nil {
		return err
	}
	record, err := p.buildRecord(lo.SubscriptionID, lo.Log, ts, receipt, price)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ProcessorOutput{SubscriptionID: lo.SubscriptionID, Record: record}:
	}
	p.mProcessed.Inc()
	return nil
}

// walkRetryQueue makes one pass over the retry buckets in insertion order.
// Buckets past the TTL are dropped; buckets whose receipt is now indexed are
// enriched and emitted; the rest stay put.
func (p *Processor) walkRetryQueue(ctx context.Context, out chan<- ProcessorOutput) error {
	order := make([]string, len(p.retryOrder))
	copy(order, p.retryOrder)
	for _, txnHash := range order {
		bucket, ok := p.retryBuckets[txnHash]
		if !ok {
			continue
		}
		if time.Since(bucket.createdAt) > p.config.RetryTTL {
			p.log.Warn().
				Str("txn_hash", txnHash).
				Int("num_logs", len(bucket.entries)).
				Msg("receipt never showed up, dropping retry bucket")
			p.mDropped.Add(int64(len(bucket.entries)))
			p.evictBucket(txnHash)
			continue
		}

		receipt, err := p.chain.TransactionReceipt(ctx, txnHash)
		if errors.Is(err, chainclient.ErrReceiptNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Msg("retrying receipt lookup failed, resetting connections")
			p.chain.ResetConnections()
			continue
		}

		for _, lo := range bucket.entries {
			ts, err := p.fetchBlockTimestamp(ctx, lo.Log.BlockHash)
			if err != nil {
				return err
			}
			price, err := p.fetchPrice(ctx, ts)
			if err != nil {
				return err
			}
			record, err := p.buildRecord(lo.SubscriptionID, lo.Log, ts, receipt, price)
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- ProcessorOutput{SubscriptionID: lo.SubscriptionID, Record: record}:
			}
			p.mProcessed.Inc()
		}
		p.evictBucket(txnHash)
	}
	return nil
}

func (p *Processor) postpone(lo ListenerOutput) {
	bucket, ok := p.retryBuckets[lo.Log.TransactionHash]
	if !ok {
		bucket = &retryBucket{createdAt: time.Now()}
		p.retryBuckets[lo.Log.TransactionHash] = bucket
		p.retryOrder = append(p.retryOrder, lo.Log.TransactionHash)
		p.mRetrySize.Inc()
	}
	bucket.entries = append(bucket.entries, lo)
	p.mPostponed.Inc()
	p.log.Info().
		Str("txn_hash", lo.Log.TransactionHash).
		Msg("receipt not indexed yet, postponing log")
}

func (p *Processor) evictBucket(txnHash string) {
	if _, ok := p.retryBuckets[txnHash]; !ok {
		return
	}
	delete(p.retryBuckets, txnHash)
	for i, h := range p.retryOrder {
		if h == txnHash {
			p.retryOrder = append(p.retryOrder[:i], p.retryOrder[i+1:]...)
			break
		}
	}
	p.mRetrySize.Dec()
}

// fetchBlockTimestamp retries transport-level failures forever with a reset
// and a backoff, since a live pipeline has nothing better to do without it.
func (p *Processor) fetchBlockTimestamp(ctx context.Context, blockHash string) (int64, error) {
	for {
		ts, err := p.chain.BlockTimestamp(ctx, blockHash)
		if err == nil {
			return ts, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.log.Warn().Err(err).Msg("block timestamp lookup failed, resetting connections")
		p.chain.ResetConnections()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(p.config.FetchRetryBackoff):
		}
	}
}

// fetchReceipt retries transport-level failures; a not-found receipt is
// returned as-is so the caller can park the log.
func (p *Processor) fetchReceipt(ctx context.Context, txnHash string) (chainclient.Receipt, error) {
	for {
		receipt, err := p.chain.TransactionReceipt(ctx, txnHash)
		if err == nil || errors.Is(err, chainclient.ErrReceiptNotFound) {
			return receipt, err
		}
		if ctx.Err() != nil {
			return chainclient.Receipt{}, ctx.Err()
		}
		p.log.Warn().Err(err).Msg("receipt lookup failed, resetting connections")
		p.chain.ResetConnections()
		select {
		case <-ctx.Done():
			return chainclient.Receipt{}, ctx.Err()
		case <-time.After(p.config.FetchRetryBackoff):
		}
	}
}

func (p *Processor) fetchPrice(ctx context.Context, timestamp int64) (priceoracle.Price, error) {
	for {
		price, err := p.oracle.ClosePriceAt(ctx, p.gasCurrency, p.quoteCurrency, timestamp)
		if err == nil {
			return price, nil
		}
		if ctx.Err() != nil {
			return priceoracle.Price{}, ctx.Err()
		}
		p.log.Warn().Err(err).Msg("price lookup failed, resetting connections")
		p.oracle.ResetConnections()
		select {
		case <-ctx.Done():
			return priceoracle.Price{}, ctx.Err()
		case <-time.After(p.config.FetchRetryBackoff):
		}
	}
}

func (p *Processor) buildRecord(
	subscriptionID int,
	rawLog RawLog,
	timestamp int64,
	receipt chainclient.Receipt,
	price priceoracle.Price,
) (eventrecord.Record, error) {
	blockNumber, err := hexutil.DecodeUint64(rawLog.BlockNumber)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing block number %q: %s", rawLog.BlockNumber, err)
	}
	logIndex, err := hexutil.DecodeUint64(rawLog.LogIndex)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing log index %q: %s", rawLog.LogIndex, err)
	}
	if receipt.GasUsed == nil || receipt.EffectiveGasPrice == nil {
		return eventrecord.Record{}, fmt.Errorf("receipt of %s misses gas fields", rawLog.TransactionHash)
	}
	gasUsed := receipt.GasUsed.ToInt()
	gasPriceWei := receipt.EffectiveGasPrice.ToInt()

	data := map[string]string{}
	if handler := p.handlers[subscriptionID]; handler != nil {
		if data, err = handler.Decode(rawLog.Data, rawLog.Topics); err != nil {
			return eventrecord.Record{}, fmt.Errorf("decoding log data: %s", err)
		}
	}

	return eventrecord.Record{
		EventID:         p.eventIDs[subscriptionID],
		TransactionHash: rawLog.TransactionHash,
		LogIndex:        logIndex,
		BlockNumber:     blockNumber,
		Timestamp:       timestamp,
		GasUsed:         gasUsed.String(),
		GasPriceWei:     gasPriceWei.String(),
		GasPriceQuote: eventrecord.GasPriceQuote{
			Currency: p.quoteCurrency,
			Value:    price.GasCost(gasUsed, gasPriceWei).String(),
		},
		Address: rawLog.Address,
		Topics:  rawLog.Topics,
		RawData: rawLog.Data,
		Data:    data,
	}, nil
}
