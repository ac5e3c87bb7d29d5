package backfill

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
)

// BulkRecordStore persists record batches. *eventstore.Store satisfies it.
type BulkRecordStore interface {
	InsertRecords(ctx context.Context, category string, records []eventrecord.Record) error
}

// Writer persists record batches into one category's collection.
type Writer struct {
	log      zerolog.Logger
	store    BulkRecordStore
	category string
}

// NewWriter returns a writer persisting into category.
func NewWriter(store BulkRecordStore, category string) *Writer {
	return &Writer{
		log:      logger.With().Str("component", "writer").Logger(),
		store:    store,
		category: category,
	}
}

// Write persists every batch arriving on in. The processor's empty
// termination batch ends the stage.
func (w *Writer) Write(ctx context.Context, in <-chan []eventrecord.Record) error {
	for {
		var batch []eventrecord.Record
		select {
		case <-ctx.Done():
			return nil
		case batch = <-in:
		}
		if len(batch) == 0 {
			w.log.Info().Msg("all batches persisted")
			return nil
		}
		if err := w.store.InsertRecords(ctx, w.category, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("persisting batch of %d records: %s", len(batch), err)
		}
		w.log.Info().
			Str("category", w.category).
			Int("num_records", len(batch)).
			Msg("batch persisted")
	}
}
