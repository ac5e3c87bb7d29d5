package backfill

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/indexer"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

type fakeRangeOracle struct {
	points []priceoracle.PricePoint
	ranges [][2]int64
}

func (o *fakeRangeOracle) ClosePriceRange(
	_ context.Context, _, _ string, minTimestamp, maxTimestamp int64,
) ([]priceoracle.PricePoint, error) {
	o.ranges = append(o.ranges, [2]int64{minTimestamp, maxTimestamp})
	return o.points, nil
}

func pricePoint(closeTime, units int64) priceoracle.PricePoint {
	return priceoracle.PricePoint{
		CloseTime: closeTime,
		Price:     priceoracle.Price{Units: big.NewInt(units), Decimals: 2},
	}
}

func indexedLog(txnHash string, timestamp int64, gasUsed, gasPriceWei uint64) indexer.Log {
	return indexer.Log{
		Address:         "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8",
		Topics:          []string{"0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"},
		Data:            "0x00",
		BlockNumber:     "0xb71b00",
		TimeStamp:       hexutil.EncodeUint64(uint64(timestamp)),
		GasPrice:        hexutil.EncodeUint64(gasPriceWei),
		GasUsed:         hexutil.EncodeUint64(gasUsed),
		LogIndex:        "0x",
		TransactionHash: txnHash,
	}
}

func runProcessor(t *testing.T, p *Processor, batches ...[]indexer.Log) [][]eventrecord.Record {
	t.Helper()
	in := make(chan []indexer.Log, len(batches)+1)
	for _, batch := range batches {
		in <- batch
	}
	in <- []indexer.Log{}
	out := make(chan []eventrecord.Record, len(batches)+1)
	require.NoError(t, p.Process(context.Background(), in, out))

	var got [][]eventrecord.Record
	for batch := range out {
		got = append(got, batch)
		if len(batch) == 0 {
			break
		}
	}
	return got
}

func TestProcessMatchesLogsToClosePrices(t *testing.T) {
	t.Parallel()

	oracle := &fakeRangeOracle{points: []priceoracle.PricePoint{
		pricePoint(100, 123456),
		pricePoint(160, 200000),
	}}
	p := NewProcessor(oracle, "ETH", "USDT", "uniswap-v3-pool-swap", nil)

	batches := runProcessor(t, p, []indexer.Log{
		indexedLog("0xtxn1", 90, 21000, 1000000000),
		indexedLog("0xtxn2", 100, 21000, 1000000000),
		indexedLog("0xtxn3", 120, 30000, 2000000000),
	})
	require.Len(t, batches, 2)
	require.Empty(t, batches[1])

	records := batches[0]
	require.Len(t, records, 3)

	// The batch shares one price-range query.
	require.Equal(t, [][2]int64{{90, 120}}, oracle.ranges)

	// txn1 and txn2 land in the kline closing at 100, txn3 in the next one.
	require.Equal(t, "25925760000000000", records[0].GasPriceQuote.Value)
	require.Equal(t, int64(90), records[0].Timestamp)
	require.Equal(t, "25925760000000000", records[1].GasPriceQuote.Value)
	require.Equal(t, "120000000000000000", records[2].GasPriceQuote.Value)
	require.Equal(t, "uniswap-v3-pool-swap", records[0].EventID)
	require.Equal(t, uint64(0), records[0].LogIndex)
	require.Equal(t, "21000", records[0].GasUsed)
	require.Equal(t, "1000000000", records[0].GasPriceWei)
}

func TestProcessSortsUnorderedBatch(t *testing.T) {
	t.Parallel()

	oracle := &fakeRangeOracle{points: []priceoracle.PricePoint{
		pricePoint(100, 100000),
		pricePoint(160, 200000),
	}}
	p := NewProcessor(oracle, "ETH", "USDT", "uniswap-v3-pool-swap", nil)

	batches := runProcessor(t, p, []indexer.Log{
		indexedLog("0xtxn2", 120, 21000, 1000000000),
		indexedLog("0xtxn1", 90, 21000, 1000000000),
	})
	records := batches[0]
	require.Len(t, records, 2)

	// Records come back time-ascending and each one lands in its own kline.
	require.Equal(t, "0xtxn1", records[0].TransactionHash)
	require.Equal(t, "21000000000000000", records[0].GasPriceQuote.Value)
	require.Equal(t, "0xtxn2", records[1].TransactionHash)
	require.Equal(t, "42000000000000000", records[1].GasPriceQuote.Value)
	require.Equal(t, [][2]int64{{90, 120}}, oracle.ranges)
}

func TestProcessNoCoveringPrice(t *testing.T) {
	t.Parallel()

	oracle := &fakeRangeOracle{points: []priceoracle.PricePoint{pricePoint(100, 123456)}}
	p := NewProcessor(oracle, "ETH", "USDT", "uniswap-v3-pool-swap", nil)

	in := make(chan []indexer.Log, 1)
	in <- []indexer.Log{indexedLog("0xtxn1", 150, 21000, 1000000000)}
	out := make(chan []eventrecord.Record, 1)
	err := p.Process(context.Background(), in, out)
	require.ErrorContains(t, err, "no close price covers")
}

func TestParseHexZeroValues(t *testing.T) {
	t.Parallel()

	v, err := parseHexUint64("0x")
	require.NoError(t, err)
	require.Zero(t, v)

	b, err := parseHexBig("0x")
	require.NoError(t, err)
	require.Zero(t, b.Sign())
}
