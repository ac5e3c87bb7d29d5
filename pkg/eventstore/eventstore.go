// Package eventstore persists enriched records to MongoDB, one collection
// per event category, and exposes the read queries the gateway serves.
package eventstore

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/chainscribe/chainscribe/pkg/eventrecord"
)

// ErrRecordNotFound indicates a lookup matched no persisted record.
var ErrRecordNotFound = errors.New("record not found")

// Store is a MongoDB-backed record store. It is safe for concurrent use;
// connection pooling is delegated to the driver.
type Store struct {
	log    zerolog.Logger
	client *mongo.Client
	db     *mongo.Database
}

// ConnURI builds a MongoDB connection string out of its parts.
func ConnURI(user, password, host, port string) string {
	return fmt.Sprintf("mongodb://%s:%s@%s:%s", user, password, host, port)
}

// New connects to the document store and pings it to fail fast on
// misconfiguration.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to document store")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "pinging document store")
	}
	return &Store{
		log:    logger.With().Str("component", "eventstore").Logger(),
		client: client,
		db:     client.Database(database),
	}, nil
}

// InsertRecord inserts one record into the category's collection.
func (s *Store) InsertRecord(ctx context.Context, category string, record eventrecord.Record) error {
	if _, err := s.db.Collection(category).InsertOne(ctx, record); err != nil {
		return errors.Wrapf(err, "inserting record into %s", category)
	}
	return nil
}

// InsertRecords bulk-inserts a batch of records into the category's
// collection.
func (s *Store) InsertRecords(ctx context.Context, category string, records []eventrecord.Record) error {
	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	if _, err := s.db.Collection(category).InsertMany(ctx, docs); err != nil {
		return errors.Wrapf(err, "bulk inserting %d records into %s", len(records), category)
	}
	return nil
}

// GetRecordByTxnHash returns the first record in the category with the given
// transaction hash, or ErrRecordNotFound.
func (s *Store) GetRecordByTxnHash(
	ctx context.Context, category, txnHash string,
) (eventrecord.Record, error) {
	var record eventrecord.Record
	err := s.db.Collection(category).FindOne(ctx, bson.M{"transaction_hash": txnHash}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return eventrecord.Record{}, ErrRecordNotFound
	}
	if err != nil {
		return eventrecord.Record{}, errors.Wrapf(err, "finding record in %s", category)
	}
	return record, nil
}

// RecordsFilter narrows a ListRecords query. A non-empty TransactionHash
// takes priority over the range filters.
type RecordsFilter struct {
	EventID         string
	TransactionHash string
	FromBlock       int64
	ToBlock         int64
	ContractAddress string
	Limit           int64
	Offset          int64
}

// ListRecords returns matching records ordered by block number and log
// index, plus the total match count for pagination.
func (s *Store) ListRecords(
	ctx context.Context, category string, filter RecordsFilter,
) ([]eventrecord.Record, int64, error) {
	query := bson.M{}
	if filter.EventID != "" {
		query["event_id"] = filter.EventID
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "block_number", Value: 1}, {Key: "log_index", Value: 1}})

	if filter.TransactionHash != "" {
		query["transaction_hash"] = filter.TransactionHash
	} else {
		query["block_number"] = bson.M{"$gte": filter.FromBlock, "$lte": filter.ToBlock}
		if filter.ContractAddress != "" {
			query["address"] = filter.ContractAddress
		}
		if filter.Limit > 0 {
			findOpts.SetLimit(filter.Limit)
		}
		if filter.Offset > 0 {
			findOpts.SetSkip(filter.Offset)
		}
	}

	coll := s.db.Collection(category)
	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "counting records in %s", category)
	}

	cursor, err := coll.Find(ctx, query, findOpts)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "finding records in %s", category)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var records []eventrecord.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, errors.Wrapf(err, "decoding records from %s", category)
	}
	return records, total, nil
}

// Close releases the underlying client and its connection pool.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "disconnecting document store client")
	}
	return nil
}
