// Package mongodb persists memory stores in a MongoDB collection, one
// document per entity keyed by entity id.
package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
)

// record is the stored shape. The memory store document is kept as its
// exact JSON text so that exports round-trip byte-for-byte.
type record struct {
	EntityID  string    `bson:"_id"`
	Document  string    `bson:"document"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store implements storage.Persistence using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects to uri and uses the given database and collection.
func New(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, goerr.Wrap(err, "mongodb: failed to connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, goerr.Wrap(err, "mongodb: failed to ping server")
	}

	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Read returns the document for key or storage.ErrNotFound.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var rec record
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, goerr.Wrap(err, "mongodb: failed to read memory store", goerr.V("key", key))
	}
	return []byte(rec.Document), nil
}

// Write replaces (or inserts) the document for key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	rec := record{EntityID: key, Document: string(data), UpdatedAt: time.Now().UTC()}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return goerr.Wrap(err, "mongodb: failed to write memory store", goerr.V("key", key))
	}
	return nil
}

// Keys lists the stored entity ids in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "mongodb: failed to list memory stores")
	}
	defer func() { _ = cur.Close(ctx) }()

	var keys []string
	for cur.Next(ctx) {
		var rec struct {
			EntityID string `bson:"_id"`
		}
		if err := cur.Decode(&rec); err != nil {
			return nil, goerr.Wrap(err, "mongodb: failed to decode entity id")
		}
		keys = append(keys, rec.EntityID)
	}
	return keys, cur.Err()
}

// DropForTest removes the collection. It is exported for the integration tests.
func (s *Store) DropForTest(ctx context.Context) error {
	return s.collection.Drop(ctx)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Compile-time assertions.
var (
	_ storage.Persistence = (*Store)(nil)
	_ storage.Keyer       = (*Store)(nil)
)
