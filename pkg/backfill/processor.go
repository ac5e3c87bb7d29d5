package backfill

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/events"
	"github.com/chainscribe/chainscribe/pkg/indexer"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

// RangeOracle serves close prices over a timestamp range. *priceoracle.Client
// satisfies it.
type RangeOracle interface {
	ClosePriceRange(
		ctx context.Context, gasCurrency, quoteCurrency string, minTimestamp, maxTimestamp int64,
	) ([]priceoracle.PricePoint, error)
}

// Processor enriches batches of historical logs into records. Indexer logs
// already carry their timestamp and gas numbers, so unlike the live path the
// only lookups left are one price-range query per batch and the decoding
// handler.
type Processor struct {
	log    zerolog.Logger
	oracle RangeOracle

	gasCurrency   string
	quoteCurrency string
	eventID       string
	handler       events.Handler
}

// NewProcessor returns a processor for one event id. handler may be nil for
// events without decoding logic.
func NewProcessor(
	oracle RangeOracle, gasCurrency, quoteCurrency, eventID string, handler events.Handler,
) *Processor {
	return &Processor{
		log:           logger.With().Str("component", "processor").Logger(),
		oracle:        oracle,
		gasCurrency:   gasCurrency,
		quoteCurrency: quoteCurrency,
		eventID:       eventID,
		handler:       handler,
	}
}

// Process consumes log batches from in and pushes record batches into out.
// The loader's empty termination batch is forwarded and ends the stage.
func (p *Processor) Process(
	ctx context.Context, in <-chan []indexer.Log, out chan<- []eventrecord.Record,
) error {
	for {
		var batch []indexer.Log
		select {
		case <-ctx.Done():
			return nil
		case batch = <-in:
		}
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case out <- []eventrecord.Record{}:
			}
			return nil
		}

		records, err := p.processBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("processing batch of %d logs: %s", len(batch), err)
		}
		select {
		case <-ctx.Done():
			return nil
		case out <- records:
		}
	}
}

// timedLog pairs an indexer log with its decoded timestamp and log index so
// the batch can be ordered without reparsing hex fields in the comparator.
type timedLog struct {
	log       indexer.Log
	timestamp int64
	logIndex  uint64
}

func (p *Processor) processBatch(ctx context.Context, batch []indexer.Log) ([]eventrecord.Record, error) {
	timed := make([]timedLog, len(batch))
	for i, rawLog := range batch {
		ts, err := parseHexInt64(rawLog.TimeStamp)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp of txn %s: %s", rawLog.TransactionHash, err)
		}
		logIndex, err := parseHexUint64(rawLog.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("parsing log index of txn %s: %s", rawLog.TransactionHash, err)
		}
		timed[i] = timedLog{log: rawLog, timestamp: ts, logIndex: logIndex}
	}

	// The cursor walk below depends on both sequences being time-ascending.
	if !sort.SliceIsSorted(timed, func(i, j int) bool { return timed[i].timestamp < timed[j].timestamp }) {
		p.log.Warn().Msg("logs arrived out of order, sorting")
		sort.SliceStable(timed, func(i, j int) bool {
			if timed[i].timestamp != timed[j].timestamp {
				return timed[i].timestamp < timed[j].timestamp
			}
			return timed[i].logIndex < timed[j].logIndex
		})
	}
	minTs, maxTs := timed[0].timestamp, timed[len(timed)-1].timestamp

	points, err := p.oracle.ClosePriceRange(ctx, p.gasCurrency, p.quoteCurrency, minTs, maxTs)
	if err != nil {
		return nil, fmt.Errorf("fetching close prices for [%d, %d]: %s", minTs, maxTs, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no close prices cover [%d, %d]", minTs, maxTs)
	}
	if !sort.SliceIsSorted(points, func(i, j int) bool { return points[i].CloseTime < points[j].CloseTime }) {
		p.log.Warn().Msg("close prices arrived out of order, sorting")
		sort.SliceStable(points, func(i, j int) bool { return points[i].CloseTime < points[j].CloseTime })
	}

	records := make([]eventrecord.Record, 0, len(timed))
	cursor := 0
	for _, tl := range timed {
		for cursor < len(points) && points[cursor].CloseTime < tl.timestamp {
			cursor++
		}
		if cursor == len(points) {
			return nil, fmt.Errorf("no close price covers timestamp %d", tl.timestamp)
		}
		record, err := p.buildRecord(tl.log, tl.timestamp, points[cursor].Price)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (p *Processor) buildRecord(
	rawLog indexer.Log, timestamp int64, price priceoracle.Price,
) (eventrecord.Record, error) {
	blockNumber, err := parseHexUint64(rawLog.BlockNumber)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing block number %q: %s", rawLog.BlockNumber, err)
	}
	logIndex, err := parseHexUint64(rawLog.LogIndex)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing log index %q: %s", rawLog.LogIndex, err)
	}
	gasUsed, err := parseHexBig(rawLog.GasUsed)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing gas used %q: %s", rawLog.GasUsed, err)
	}
	gasPriceWei, err := parseHexBig(rawLog.GasPrice)
	if err != nil {
		return eventrecord.Record{}, fmt.Errorf("parsing gas price %q: %s", rawLog.GasPrice, err)
	}

	data := map[string]string{}
	if p.handler != nil {
		if data, err = p.handler.Decode(rawLog.Data, rawLog.Topics); err != nil {
			return eventrecord.Record{}, fmt.Errorf("decoding log data: %s", err)
		}
	}

	return eventrecord.Record{
		EventID:         p.eventID,
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

// The indexer encodes zero-valued fields as a bare "0x".
func parseHexUint64(s string) (uint64, error) {
	if s == "" || s == "0x" {
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

func parseHexInt64(s string) (int64, error) {
	v, err := parseHexUint64(s)
	return int64(v), err
}

func parseHexBig(s string) (*big.Int, error) {
	if s == "" || s == "0x" {
		return big.NewInt(0), nil
	}
	return hexutil.DecodeBig(s)
}
