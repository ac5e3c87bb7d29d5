// Package gateway implements the read side of the service: queries over the
// records the pipelines persisted.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/events/registry"
	"github.com/chainscribe/chainscribe/pkg/eventstore"
)

// ErrRecordNotFound indicates a lookup matched no persisted record.
var ErrRecordNotFound = errors.New("record not found")

// DefaultListLimit caps listings when the client doesn't send a limit.
const DefaultListLimit = 200

// RecordStore is the read surface of the event store the gateway serves
// from. *eventstore.Store satisfies it.
type RecordStore interface {
	GetRecordByTxnHash(ctx context.Context, category, txnHash string) (eventrecord.Record, error)
	ListRecords(ctx context.Context, category string, filter eventstore.RecordsFilter) ([]eventrecord.Record, int64, error)
}

// Gateway serves record queries.
type Gateway struct {
	store RecordStore
}

// New returns a gateway over the given store.
func New(store RecordStore) *Gateway {
	return &Gateway{store: store}
}

// ListRecords returns the records of one category matching the filter, plus
// the total match count. A zero limit gets the default.
func (g *Gateway) ListRecords(
	ctx context.Context, category string, filter eventstore.RecordsFilter,
) ([]eventrecord.Record, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	records, total, err := g.store.ListRecords(ctx, category, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s records: %s", category, err)
	}
	return records, total, nil
}

// GasQuote returns the recorded gas numbers of the transaction, searching
// every category since the caller only knows the hash.
func (g *Gateway) GasQuote(ctx context.Context, txnHash string) (eventrecord.Record, error) {
	for _, category := range registry.Categories() {
		record, err := g.store.GetRecordByTxnHash(ctx, category, txnHash)
		if errors.Is(err, eventstore.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return eventrecord.Record{}, fmt.Errorf("looking up txn %s in %s: %s", txnHash, category, err)
		}
		return record, nil
	}
	return eventrecord.Record{}, ErrRecordNotFound
}
