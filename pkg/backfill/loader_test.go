package backfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainscribe/chainscribe/pkg/indexer"
)

type fakeIndexer struct {
	mu      sync.Mutex
	windows [][2]int64
	logs    map[int64][]indexer.Log // keyed by window start block
}

func (f *fakeIndexer) GetLogs(
	_ context.Context, _, _ string, fromBlock, toBlock int64,
) ([]indexer.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]int64{fromBlock, toBlock})
	return f.logs[fromBlock], nil
}

func TestLoadWindowsTheRange(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{logs: map[int64][]indexer.Log{
		100: {{TransactionHash: "0xtxn1"}},
		160: {{TransactionHash: "0xtxn2"}, {TransactionHash: "0xtxn3"}},
	}}
	loader, err := NewLoader(idx, WithBlocksPerBatch(30), WithBatchGap(time.Millisecond))
	require.NoError(t, err)

	out := make(chan []indexer.Log, 8)
	require.NoError(t, loader.Load(context.Background(), out, "0xpool", "0xtopic", 100, 164))

	require.Equal(t, [][2]int64{{100, 129}, {130, 159}, {160, 164}}, idx.windows)

	// Empty batches are skipped; the trailing empty batch is the
	// termination marker.
	require.Len(t, <-out, 1)
	require.Len(t, <-out, 2)
	require.Empty(t, <-out)
}

func TestLoadInvertedRange(t *testing.T) {
	t.Parallel()

	loader, err := NewLoader(&fakeIndexer{})
	require.NoError(t, err)
	require.Error(t, loader.Load(context.Background(), nil, "0xpool", "0xtopic", 10, 5))
}

func TestLoadHonorsContext(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{logs: map[int64][]indexer.Log{0: {{TransactionHash: "0xtxn1"}}}}
	loader, err := NewLoader(idx, WithBlocksPerBatch(1), WithBatchGap(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []indexer.Log, 1)
	done := make(chan error, 1)
	go func() { done <- loader.Load(ctx, out, "0xpool", "0xtopic", 0, 10) }()

	require.Len(t, <-out, 1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
