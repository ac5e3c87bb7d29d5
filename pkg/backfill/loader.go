package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/pkg/indexer"
)

// Indexer serves historical logs over block ranges. *indexer.Client
// satisfies it.
type Indexer interface {
	GetLogs(ctx context.Context, contractAddress, topic string, fromBlock, toBlock int64) ([]indexer.Log, error)
}

// LoaderConfig contains configuration attributes of a Loader.
type LoaderConfig struct {
	BlocksPerBatch int64
	BatchGap       time.Duration
}

// DefaultLoaderConfig returns the default loader configuration.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		BlocksPerBatch: 30,
		BatchGap:       time.Millisecond * 500,
	}
}

// LoaderOption modifies a loader configuration attribute.
type LoaderOption func(*LoaderConfig) error

// WithBlocksPerBatch overrides the block-range width of each indexer query.
// Widths much beyond the default risk the indexer silently truncating the
// response.
func WithBlocksPerBatch(n int64) LoaderOption {
	return func(c *LoaderConfig) error {
		if n <= 0 {
			return fmt.Errorf("blocks per batch %d must be positive", n)
		}
		c.BlocksPerBatch = n
		return nil
	}
}

// WithBatchGap overrides the pause between indexer queries.
func WithBatchGap(d time.Duration) LoaderOption {
	return func(c *LoaderConfig) error {
		if d < 0 {
			return fmt.Errorf("batch gap %v must be non-negative", d)
		}
		c.BatchGap = d
		return nil
	}
}

// Loader pulls historical logs from the indexer in fixed-width block windows
// and feeds non-empty batches downstream. The indexer rate-limits free keys,
// so queries are spaced out by a configurable gap.
type Loader struct {
	log    zerolog.Logger
	idx    Indexer
	config *LoaderConfig
}

// NewLoader returns a loader over the given indexer.
func NewLoader(idx Indexer, opts ...LoaderOption) (*Loader, error) {
	config := DefaultLoaderConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}
	return &Loader{
		log:    logger.With().Str("component", "loader").Logger(),
		idx:    idx,
		config: config,
	}, nil
}

// Load walks [fromBlock, toBlock] in windows, pushing each non-empty batch
// of logs into out. An empty batch is pushed at the end as a termination
// marker for the downstream stages.
func (l *Loader) Load(
	ctx context.Context,
	out chan<- []indexer.Log,
	contractAddress, topic string,
	fromBlock, toBlock int64,
) error {
	if fromBlock > toBlock {
		return fmt.Errorf("block range [%d, %d] is inverted", fromBlock, toBlock)
	}
	for start := fromBlock; start <= toBlock; start += l.config.BlocksPerBatch {
		end := start + l.config.BlocksPerBatch - 1
		if end > toBlock {
			end = toBlock
		}
		logs, err := l.idx.GetLogs(ctx, contractAddress, topic, start, end)
		if err != nil {
			return fmt.Errorf("loading logs for blocks [%d, %d]: %s", start, end, err)
		}
		l.log.Info().
			Int64("from_block", start).
			Int64("to_block", end).
			Int("num_logs", len(logs)).
			Msg("batch loaded")
		if len(logs) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- logs:
			}
		}

		if end < toBlock {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.config.BatchGap):
			}
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- []indexer.Log{}:
	}
	return nil
}
