package consecutive

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists counter documents in a MongoDB collection. The
// document embeds a `revision` field; Update filters on (id, revision) and
// increments it, so a lost race surfaces as matchedCount == 0 → ErrConflict.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps a collection (conventionally "counters").
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = "counters"
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// versionedCounter is the stored shape: the counter plus its revision.
type versionedCounter struct {
	Counter  `bson:",inline"`
	Revision int64 `bson:"revision"`
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Counter, int64, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetByName(ctx context.Context, name string) (*Counter, int64, error) {
	return s.findOne(ctx, bson.M{"name": name})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Counter, int64, error) {
	var vc versionedCounter
	err := s.coll.FindOne(ctx, filter).Decode(&vc)
	if err == mongo.ErrNoDocuments {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("consecutive: mongo get: %w", err)
	}
	c := vc.Counter
	return &c, vc.Revision, nil
}

func (s *MongoStore) Create(ctx context.Context, c *Counter) error {
	_, err := s.coll.InsertOne(ctx, versionedCounter{Counter: *c, Revision: 1})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("consecutive: mongo create: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, c *Counter, revision int64) error {
	res, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": c.ID, "revision": revision},
		versionedCounter{Counter: *c, Revision: revision + 1})
	if err != nil {
		return fmt.Errorf("consecutive: mongo update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]*Counter, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("consecutive: mongo list: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Counter
	for cur.Next(ctx) {
		var vc versionedCounter
		if err := cur.Decode(&vc); err != nil {
			return nil, fmt.Errorf("consecutive: mongo decode: %w", err)
		}
		c := vc.Counter
		out = append(out, &c)
	}
	return out, cur.Err()
}
