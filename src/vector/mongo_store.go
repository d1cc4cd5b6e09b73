package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quiethours/contextmem/src/model"
)

// MongoStore keeps memories in a MongoDB collection and searches them with
// the Atlas $vectorSearch stage over a cosine index named "vector_index".
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	dim        int
}

var _ MemoryStore = (*MongoStore)(nil)

const mongoCloseTimeout = 5 * time.Second

// NewMongoStore connects and pings the deployment.
func NewMongoStore(ctx context.Context, uri, database, collection string, dim int) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" || collection == "" {
		return nil, errors.New("mongo database and collection names are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: mongo ping: %v", model.ErrBackendUnavailable, err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		dim:        dim,
	}, nil
}

type mongoMemoryDocument struct {
	ID           string         `bson:"_id"`
	UserID       string         `bson:"user_id"`
	Type         string         `bson:"type,omitempty"`
	Content      string         `bson:"content"`
	Embedding    []float64      `bson:"embedding"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	Importance   float64        `bson:"importance"`
	CreatedAt    time.Time      `bson:"created_at"`
	LastAccessed *time.Time     `bson:"last_accessed,omitempty"`
	AccessCount  int            `bson:"access_count"`
	Expiry       *time.Time     `bson:"expiry,omitempty"`
}

func (d mongoMemoryDocument) toItem() model.MemoryItem {
	item := model.MemoryItem{
		ID:           d.ID,
		Text:         d.Content,
		Embedding:    float32Embedding(d.Embedding),
		Metadata:     d.Metadata,
		Importance:   d.Importance,
		CreatedAt:    d.CreatedAt,
		LastAccessed: d.LastAccessed,
		AccessCount:  d.AccessCount,
		Expiry:       d.Expiry,
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["user_id"] = d.UserID
	return item
}

func (s *MongoStore) Store(ctx context.Context, userID string, item model.MemoryItem) (string, error) {
	item = item.Clone()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["user_id"] = userID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := item.Validate(s.dim); err != nil {
		return "", err
	}
	doc := mongoMemoryDocument{
		ID:           item.ID,
		UserID:       userID,
		Type:         item.ItemType(),
		Content:      item.Text,
		Embedding:    float64Embedding(item.Embedding),
		Metadata:     item.Metadata,
		Importance:   item.Importance,
		CreatedAt:    item.CreatedAt,
		LastAccessed: item.LastAccessed,
		AccessCount:  item.AccessCount,
		Expiry:       item.Expiry,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": item.ID}, doc, opts); err != nil {
		return "", fmt.Errorf("%w: mongo upsert: %v", model.ErrProvider, err)
	}
	return item.ID, nil
}

func (s *MongoStore) Search(ctx context.Context, userID string, queryEmbedding []float32, limit int, filters *Filters) ([]ScoredItem, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: "vector_index"},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: float64Embedding(queryEmbedding)},
			{Key: "numCandidates", Value: int64(limit * 10)},
			{Key: "limit", Value: int64(limit * 4)},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo search: %w", err)
	}
	defer cursor.Close(ctx)

	now := time.Now().UTC()
	var scored []ScoredItem
	for cursor.Next(ctx) {
		if len(scored) >= limit {
			break
		}
		var doc struct {
			mongoMemoryDocument `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		item := doc.toItem()
		if !matches(item, filters, now) {
			continue
		}
		// Best-effort bookkeeping on returned items only.
		_, _ = s.collection.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{
			"$set": bson.M{"last_accessed": now},
			"$inc": bson.M{"access_count": 1},
		})
		ts := now
		item.LastAccessed = &ts
		item.AccessCount++
		scored = append(scored, ScoredItem{Item: item, Score: doc.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo search: %w", err)
	}
	return scored, nil
}

func (s *MongoStore) Get(ctx context.Context, userID, id string) (model.MemoryItem, error) {
	var doc mongoMemoryDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.MemoryItem{}, fmt.Errorf("memory %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.MemoryItem{}, fmt.Errorf("mongo get: %w", err)
	}
	item := doc.toItem()
	// Access bookkeeping is a best-effort hint.
	now := time.Now().UTC()
	_, _ = s.collection.UpdateOne(ctx, bson.M{"_id": id, "user_id": userID}, bson.M{
		"$set": bson.M{"last_accessed": now},
		"$inc": bson.M{"access_count": 1},
	})
	item.LastAccessed = &now
	item.AccessCount++
	return item, nil
}

// UpdateMetadata applies the patch as field-level $set/$unset operations so
// concurrent patches to different keys do not clobber each other.
func (s *MongoStore) UpdateMetadata(ctx context.Context, userID, id string, patch map[string]any) (bool, error) {
	set := bson.M{}
	unset := bson.M{}
	for k, v := range patch {
		if k == "user_id" {
			continue
		}
		if v == nil {
			unset["metadata."+k] = ""
			continue
		}
		set["metadata."+k] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		_, err := s.Get(ctx, userID, id)
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "user_id": userID}, update)
	if err != nil {
		return false, fmt.Errorf("mongo metadata update: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) Delete(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"_id":     bson.M{"$in": ids},
		"user_id": userID,
	})
	if err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	return nil
}

func (s *MongoStore) Iterate(ctx context.Context, userID string, fn func(model.MemoryItem) bool) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return fmt.Errorf("mongo iterate: %w", err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if !fn(doc.toItem()) {
			return nil
		}
	}
	return cursor.Err()
}

func (s *MongoStore) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("mongo count: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoCloseTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func float64Embedding(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
