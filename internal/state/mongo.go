package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/feedwrap/feedwrap/internal/types"
)

// MongoStore persists state in a MongoDB collection, one document per storage
// key (upserted in place).
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoStore connects to MongoDB and returns a store over the given
// database and collection.
func NewMongoStore(uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_store"),
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) LoadState(ctx context.Context) (*types.ScrapeState, error) {
	var doc struct {
		Value types.ScrapeState `bson:"value"`
	}
	ok, err := s.load(ctx, KeyScrapeState, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNoState
	}
	return &doc.Value, nil
}

func (s *MongoStore) SaveState(ctx context.Context, st *types.ScrapeState) error {
	return s.save(ctx, KeyScrapeState, st)
}

func (s *MongoStore) LoadResults(ctx context.Context) (*types.FinalResult, error) {
	var doc struct {
		Value types.FinalResult `bson:"value"`
	}
	ok, err := s.load(ctx, KeyLatestResults, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNoResults
	}
	return &doc.Value, nil
}

func (s *MongoStore) SaveResults(ctx context.Context, r *types.FinalResult) error {
	if err := s.save(ctx, KeyLatestResults, r); err != nil {
		return err
	}
	return s.save(ctx, KeyLastSync, time.Now().UTC())
}

func (s *MongoStore) LoadIdentity(ctx context.Context) (*types.Identity, error) {
	var doc struct {
		Value types.Identity `bson:"value"`
	}
	ok, err := s.load(ctx, KeyIdentity, &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc.Value, nil
}

func (s *MongoStore) SaveIdentity(ctx context.Context, id *types.Identity) error {
	if id == nil {
		if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": KeyIdentity}); err != nil {
			return &types.StoreError{Backend: "mongodb", Key: KeyIdentity, Err: err}
		}
		return nil
	}
	return s.save(ctx, KeyIdentity, id)
}

func (s *MongoStore) LastSync(ctx context.Context) (time.Time, error) {
	var doc struct {
		Value time.Time `bson:"value"`
	}
	ok, err := s.load(ctx, KeyLastSync, &doc)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return doc.Value, nil
}

func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return &types.StoreError{Backend: "mongodb", Err: err}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return &types.StoreError{Backend: "mongodb", Err: err}
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) save(ctx context.Context, key string, value any) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &types.StoreError{Backend: "mongodb", Key: key, Err: err}
	}
	return nil
}

// load decodes the document at key into out, reporting whether it existed.
func (s *MongoStore) load(ctx context.Context, key string, out any) (bool, error) {
	res := s.collection.FindOne(ctx, bson.M{"_id": key})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, &types.StoreError{Backend: "mongodb", Key: key, Err: err}
	}
	if err := res.Decode(out); err != nil {
		return false, &types.StoreError{Backend: "mongodb", Key: key, Err: err}
	}
	return true, nil
}
