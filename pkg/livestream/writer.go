package livestream

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
)

// RecordStore persists enriched records. *eventstore.Store satisfies it.
type RecordStore interface {
	InsertRecord(ctx context.Context, category string, record eventrecord.Record) error
}

// Writer routes enriched records to the collection of the subscription that
// produced them.
type Writer struct {
	log        zerolog.Logger
	store      RecordStore
	categories map[int]string
}

// NewWriter returns a writer backed by the given store.
func NewWriter(store RecordStore) *Writer {
	return &Writer{
		log:        logger.With().Str("component", "writer").Logger(),
		store:      store,
		categories: map[int]string{},
	}
}

// RegisterCategory binds a subscription id to its persistence category. Must
// be called before WriteForever.
func (w *Writer) RegisterCategory(subscriptionID int, category string) {
	w.categories[subscriptionID] = category
}

// WriteForever persists every record arriving on in until ctx is canceled.
// Persistence failures are fatal: losing records silently defeats the point
// of recording them.
func (w *Writer) WriteForever(ctx context.Context, in <-chan ProcessorOutput) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case po := <-in:
			category, ok := w.categories[po.SubscriptionID]
			if !ok {
				return fmt.Errorf("no category registered for subscription %d", po.SubscriptionID)
			}
			if err := w.store.InsertRecord(ctx, category, po.Record); err != nil {
				return fmt.Errorf("inserting record of txn %s: %s", po.Record.TransactionHash, err)
			}
			w.log.Debug().
				Str("category", category).
				Str("txn_hash", po.Record.TransactionHash).
				Uint64("log_index", po.Record.LogIndex).
				Msg("record persisted")
		}
	}
}
