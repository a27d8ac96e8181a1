package progress

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// cursorDoc mirrors the persisted cursor format:
// {contract_address, block_number}, directly grounded in
// original_source/event_filter.py's mongo.lastScannedBlock collection.
type cursorDoc struct {
	ContractAddress string `bson:"contract_address"`
	BlockNumber     uint64 `bson:"block_number"`
}

// eventDoc mirrors original_source's mongo.transferEvents collection,
// generalised from the Transfer-only shape to any configured event schema.
type eventDoc struct {
	EventName       string            `bson:"event_name"`
	ContractAddress string            `bson:"contract_address"`
	BlockHeight     uint64            `bson:"block_height"`
	TxHash          string            `bson:"tx_hash"`
	TxIndex         uint              `bson:"tx_index"`
	LogIndex        uint              `bson:"log_index"`
	Args            map[string]string `bson:"args"`
	BlockTime       bson.DateTime     `bson:"block_time"`
}

// MongoStore is the canonical durable ProgressStore backend.
type MongoStore struct {
	client  *mongo.Client
	cursors *mongo.Collection
	events  *mongo.Collection
}

// NewMongoStore connects to uri and ensures the unique indexes that make
// PersistEvents idempotent and InitCursor exclusive.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("progress: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("progress: mongo ping: %w", err)
	}

	db := client.Database(database)
	cursors := db.Collection("scan_cursors")
	events := db.Collection("decoded_events")

	if _, err := cursors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "contract_address", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("progress: cursor index: %w", err)
	}

	if _, err := events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "contract_address", Value: 1},
			{Key: "block_height", Value: 1},
			{Key: "tx_hash", Value: 1},
			{Key: "log_index", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("progress: event index: %w", err)
	}

	return &MongoStore{client: client, cursors: cursors, events: events}, nil
}

func (s *MongoStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	var doc cursorDoc
	err := s.cursors.FindOne(ctx, bson.M{"contract_address": contract}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return doc.BlockNumber, true, nil
}

func (s *MongoStore) InitCursor(ctx context.Context, contract string, height uint64) error {
	_, err := s.cursors.InsertOne(ctx, cursorDoc{ContractAddress: contract, BlockNumber: height})
	if mongo.IsDuplicateKeyError(err) {
		return ErrCursorExists
	}
	return err
}

func (s *MongoStore) AdvanceCursor(ctx context.Context, contract string, height uint64) error {
	_, err := s.cursors.UpdateOne(ctx,
		bson.M{"contract_address": contract},
		bson.M{"$set": bson.M{"block_number": height}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) PersistEvents(ctx context.Context, batch []DecodedEvent) error {
	if len(batch) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(batch))
	for _, e := range batch {
		docs = append(docs, eventDoc{
			EventName:       e.EventName,
			ContractAddress: e.ContractAddress,
			BlockHeight:     e.BlockHeight,
			TxHash:          e.TxHash,
			TxIndex:         e.TxIndex,
			LogIndex:        e.LogIndex,
			Args:            e.Args,
			BlockTime:       bson.NewDateTimeFromTime(e.BlockTime),
		})
	}

	// Unordered so one duplicate (a re-scanned, already-persisted event
	// from the reorg-safety rescan window) doesn't abort the rest of the
	// batch.
	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code != 11000 { // duplicate key
				return err
			}
		}
		return nil
	}
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
