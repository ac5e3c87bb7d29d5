// Package backfill records historical event logs over a block range. It
// chains a loader pulling logs from the indexer, a processor enriching them
// in batches, and a writer bulk-persisting the results.
package backfill

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/events"
	"github.com/chainscribe/chainscribe/pkg/events/registry"
	"github.com/chainscribe/chainscribe/pkg/indexer"
)

const pipelineDepth = 8

// Recorder wires the backfill stages for one run.
type Recorder struct {
	idx    Indexer
	oracle RangeOracle
	store  BulkRecordStore

	gasCurrency   string
	quoteCurrency string
	loaderOpts    []LoaderOption
}

// NewRecorder returns a recorder quoting gas costs as
// gasCurrency/quoteCurrency.
func NewRecorder(
	idx Indexer,
	oracle RangeOracle,
	store BulkRecordStore,
	gasCurrency, quoteCurrency string,
	loaderOpts ...LoaderOption,
) *Recorder {
	return &Recorder{
		idx:           idx,
		oracle:        oracle,
		store:         store,
		gasCurrency:   gasCurrency,
		quoteCurrency: quoteCurrency,
		loaderOpts:    loaderOpts,
	}
}

// Run records every log the contract emitted for the event id between
// fromBlock and toBlock inclusive. It returns once the whole range is
// persisted or a stage fails.
func (r *Recorder) Run(
	ctx context.Context,
	eventID, contractAddress string,
	fromBlock, toBlock int64,
	caller events.ContractCaller,
) error {
	topic, err := registry.Topic(eventID)
	if err != nil {
		return fmt.Errorf("resolving event topic: %s", err)
	}
	category, err := registry.Category(eventID)
	if err != nil {
		return fmt.Errorf("resolving event category: %s", err)
	}
	handler, err := registry.NewHandler(eventID, common.HexToAddress(contractAddress))
	if err != nil {
		return fmt.Errorf("creating event handler: %s", err)
	}
	if handler != nil {
		if err := handler.ResolveContext(ctx, caller); err != nil {
			return fmt.Errorf("resolving handler context: %s", err)
		}
	}

	loader, err := NewLoader(r.idx, r.loaderOpts...)
	if err != nil {
		return fmt.Errorf("creating loader: %s", err)
	}
	processor := NewProcessor(r.oracle, r.gasCurrency, r.quoteCurrency, eventID, handler)
	writer := NewWriter(r.store, category)

	logger.Info().
		Str("event_id", eventID).
		Str("contract_address", contractAddress).
		Int64("from_block", fromBlock).
		Int64("to_block", toBlock).
		Msg("backfill started")

	batches := make(chan []indexer.Log, pipelineDepth)
	records := make(chan []eventrecord.Record, pipelineDepth)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loader.Load(ctx, batches, contractAddress, topic.Hex(), fromBlock, toBlock) })
	g.Go(func() error { return processor.Process(ctx, batches, records) })
	g.Go(func() error { return writer.Write(ctx, records) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running backfill: %s", err)
	}
	return nil
}
