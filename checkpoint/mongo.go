package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/graphrepair/graph"
)

// MongoConfig contains MongoDB-specific configuration
type MongoConfig struct {
	URI        string        `json:"uri" yaml:"uri"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultMongoConfig returns defaults for a local server.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "graphrepair",
		Collection: "workflow_version",
		Timeout:    10 * time.Second,
	}
}

const mongoCounterID = "workflow_version"

// mongoDoc is the stored document. Payloads are JSON strings so that literal
// values keep their exact encoding.
type mongoDoc struct {
	ID         int64     `bson:"_id"`
	SessionID  string    `bson:"session_id"`
	Graph      string    `bson:"graph"`
	Mirror     string    `bson:"mirror,omitempty"`
	Attributes string    `bson:"attributes"`
	CreatedAt  time.Time `bson:"created_at"`
}

func docFromRecord(rec *record) mongoDoc {
	return mongoDoc{
		ID:         int64(rec.ID),
		SessionID:  rec.SessionID,
		Graph:      string(rec.Graph),
		Mirror:     string(rec.Mirror),
		Attributes: string(rec.Attributes),
		CreatedAt:  rec.CreatedAt,
	}
}

func (d *mongoDoc) record() *record {
	rec := &record{
		ID:         uint64(d.ID),
		SessionID:  d.SessionID,
		Graph:      json.RawMessage(d.Graph),
		Attributes: json.RawMessage(d.Attributes),
		CreatedAt:  d.CreatedAt,
	}
	if d.Mirror != "" {
		rec.Mirror = json.RawMessage(d.Mirror)
	}
	return rec
}

// MongoStore is a MongoDB implementation of Store. Ids come from a counter
// document incremented with findOneAndUpdate.
type MongoStore struct {
	client   *mongo.Client
	coll     *mongo.Collection
	counters *mongo.Collection
	owned    bool
	now      func() time.Time
}

// NewMongoStore connects, pings and ensures the session index.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", ErrInvalidInput)
	}
	def := DefaultMongoConfig()
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := NewMongoStoreFromClient(client, cfg.Database, cfg.Collection)
	s.owned = true
	if err := s.EnsureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStoreFromClient wraps an existing client. The client is not
// disconnected by Close.
func NewMongoStoreFromClient(client *mongo.Client, database, collection string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		coll:     db.Collection(collection),
		counters: db.Collection("counters"),
		now:      time.Now,
	}
}

// EnsureIndexes creates the (session_id, _id desc) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	return nil
}

func (s *MongoStore) nextID(ctx context.Context) (uint64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": mongoCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return uint64(counter.Seq), nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return 0, unavailable("allocate id", err)
	}
	rec.ID = id

	if _, err := s.coll.InsertOne(ctx, docFromRecord(rec)); err != nil {
		return 0, unavailable("insert checkpoint", err)
	}
	return id, nil
}

// GetLatest implements Store.
func (s *MongoStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *MongoStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx,
		bson.M{"session_id": sessionID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return doc.record().checkpoint()
}

// GetByID implements Store.
func (s *MongoStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	var doc mongoDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc); err != nil {
		return nil, mapMongoError(err)
	}
	return doc.record().checkpoint()
}

// UpdateMirror implements Store.
func (s *MongoStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	update := bson.M{"$set": bson.M{"mirror": string(mirror)}}
	if len(mirror) == 0 {
		update = bson.M{"$unset": bson.M{"mirror": ""}}
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": int64(id)}, update)
	if err != nil {
		return false, unavailable("update mirror", err)
	}
	return res.MatchedCount > 0, nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable("list checkpoints", err)
	}
	defer cur.Close(ctx)

	out := []Meta{}
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode checkpoint document: %w", err)
		}
		out = append(out, doc.record().meta())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("list checkpoints", err)
	}
	return out, nil
}

// Ping implements Store.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements Store.
func (s *MongoStore) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func mapMongoError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return unavailable("query checkpoint", err)
}
