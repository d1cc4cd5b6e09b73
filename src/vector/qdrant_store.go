package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sdk "github.com/qdrant/go-client/qdrant"

	"github.com/quiethours/contextmem/src/model"
)

// QdrantStore keeps memories in a Qdrant collection with cosine distance.
// The tenant tag lives in the point payload and every query carries a
// server-side user_id filter.
type QdrantStore struct {
	client     *sdk.Client
	collection string
	dim        int
}

var _ MemoryStore = (*QdrantStore)(nil)

// QdrantConfig is the connection configuration for NewQdrantStore.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dim        int
}

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := sdk.NewClient(&sdk.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection, dim: cfg.Dim}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("%w: qdrant collection: %v", model.ErrBackendUnavailable, err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}
	return s.client.CreateCollection(ctx, &sdk.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: sdk.NewVectorsConfig(&sdk.VectorParams{
			Size:     uint64(s.dim),
			Distance: sdk.Distance_Cosine,
		}),
	})
}

func (s *QdrantStore) Store(ctx context.Context, userID string, item model.MemoryItem) (string, error) {
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
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"user_id":      userID,
		"type":         item.ItemType(),
		"content":      item.Text,
		"metadata":     string(metadata),
		"importance":   item.Importance,
		"created_at":   item.CreatedAt.Format(time.RFC3339Nano),
		"access_count": item.AccessCount,
	}
	if item.Expiry != nil {
		payload["expiry"] = item.Expiry.Format(time.RFC3339Nano)
	}
	wait := true
	_, err = s.client.Upsert(ctx, &sdk.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*sdk.PointStruct{{
			Id:      sdk.NewID(item.ID),
			Vectors: sdk.NewVectors(item.Embedding...),
			Payload: sdk.NewValueMap(payload),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: qdrant upsert: %v", model.ErrProvider, err)
	}
	return item.ID, nil
}

func (s *QdrantStore) tenantFilter(userID string, filters *Filters) *sdk.Filter {
	must := []*sdk.Condition{sdk.NewMatch("user_id", userID)}
	if filters != nil {
		if filters.Type != "" {
			must = append(must, sdk.NewMatch("type", filters.Type))
		}
		if filters.MinImportance > 0 {
			gte := filters.MinImportance
			must = append(must, sdk.NewRange("importance", &sdk.Range{Gte: &gte}))
		}
	}
	return &sdk.Filter{Must: must}
}

func (s *QdrantStore) Search(ctx context.Context, userID string, queryEmbedding []float32, limit int, filters *Filters) ([]ScoredItem, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	// Time bounds and expiry live in string payload fields, so oversample
	// and finish the filtering here.
	fetch := uint64(limit * 4)
	points, err := s.client.Query(ctx, &sdk.QueryPoints{
		CollectionName: s.collection,
		Query:          sdk.NewQuery(queryEmbedding...),
		Filter:         s.tenantFilter(userID, filters),
		Limit:          &fetch,
		WithPayload:    sdk.NewWithPayload(true),
		WithVectors:    sdk.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	now := time.Now().UTC()
	scored := make([]ScoredItem, 0, limit)
	for _, point := range points {
		if len(scored) >= limit {
			break
		}
		item := itemFromPayload(point.GetId().GetUuid(), point.GetPayload())
		item.Embedding = point.GetVectors().GetVector().GetData()
		if !matches(item, filters, now) {
			continue
		}
		s.bumpAccess(ctx, &item, now)
		scored = append(scored, ScoredItem{Item: item, Score: float64(point.GetScore())})
	}
	return scored, nil
}

// bumpAccess refreshes the access bookkeeping payload, best-effort.
func (s *QdrantStore) bumpAccess(ctx context.Context, item *model.MemoryItem, now time.Time) {
	item.AccessCount++
	ts := now
	item.LastAccessed = &ts
	wait := false
	_, _ = s.client.SetPayload(ctx, &sdk.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Payload: sdk.NewValueMap(map[string]any{
			"access_count":  item.AccessCount,
			"last_accessed": now.Format(time.RFC3339Nano),
		}),
		PointsSelector: sdk.NewPointsSelector(sdk.NewID(item.ID)),
	})
}

func (s *QdrantStore) Get(ctx context.Context, userID, id string) (model.MemoryItem, error) {
	points, err := s.client.Get(ctx, &sdk.GetPoints{
		CollectionName: s.collection,
		Ids:            []*sdk.PointId{sdk.NewID(id)},
		WithPayload:    sdk.NewWithPayload(true),
		WithVectors:    sdk.NewWithVectors(true),
	})
	if err != nil {
		return model.MemoryItem{}, fmt.Errorf("qdrant get: %w", err)
	}
	if len(points) == 0 {
		return model.MemoryItem{}, fmt.Errorf("memory %q: %w", id, model.ErrNotFound)
	}
	item := itemFromPayload(id, points[0].GetPayload())
	item.Embedding = points[0].GetVectors().GetVector().GetData()
	if item.UserID() != userID {
		return model.MemoryItem{}, fmt.Errorf("memory %q: %w", id, model.ErrNotFound)
	}
	s.bumpAccess(ctx, &item, time.Now().UTC())
	return item, nil
}

// UpdateMetadata re-sets the point's serialized metadata payload field after
// merging the patch. Qdrant cannot merge inside the JSON string itself, so
// this is read-merge-write.
func (s *QdrantStore) UpdateMetadata(ctx context.Context, userID, id string, patch map[string]any) (bool, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	merged, err := json.Marshal(applyPatch(item.Metadata, patch))
	if err != nil {
		return false, err
	}
	wait := true
	_, err = s.client.SetPayload(ctx, &sdk.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Payload:        sdk.NewValueMap(map[string]any{"metadata": string(merged)}),
		PointsSelector: sdk.NewPointsSelector(sdk.NewID(id)),
	})
	if err != nil {
		return false, fmt.Errorf("qdrant metadata update: %w", err)
	}
	return true, nil
}

func (s *QdrantStore) Delete(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*sdk.PointId, 0, len(ids))
	for _, id := range ids {
		if item, err := s.Get(ctx, userID, id); err != nil || item.UserID() != userID {
			continue
		}
		pointIDs = append(pointIDs, sdk.NewID(id))
	}
	if len(pointIDs) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &sdk.DeletePoints{
		CollectionName: s.collection,
		Points:         sdk.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (s *QdrantStore) Iterate(ctx context.Context, userID string, fn func(model.MemoryItem) bool) error {
	const page = uint32(128)
	limit := page
	var offset *sdk.PointId
	lastID := ""
	filter := s.tenantFilter(userID, nil)
	for {
		points, err := s.client.Scroll(ctx, &sdk.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    sdk.NewWithPayload(true),
			WithVectors:    sdk.NewWithVectors(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant scroll: %w", err)
		}
		delivered := 0
		for _, point := range points {
			id := point.GetId().GetUuid()
			// the scroll offset is inclusive, skip the cursor point
			if id == lastID {
				continue
			}
			delivered++
			item := itemFromPayload(id, point.GetPayload())
			item.Embedding = point.GetVectors().GetVector().GetData()
			if !fn(item) {
				return nil
			}
		}
		if uint32(len(points)) < page || delivered == 0 {
			return nil
		}
		offset = points[len(points)-1].GetId()
		lastID = points[len(points)-1].GetId().GetUuid()
	}
}

func (s *QdrantStore) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.client.Count(ctx, &sdk.CountPoints{
		CollectionName: s.collection,
		Filter:         s.tenantFilter(userID, nil),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Close(context.Context) error {
	return s.client.Close()
}

func itemFromPayload(id string, payload map[string]*sdk.Value) model.MemoryItem {
	item := model.MemoryItem{ID: id, Metadata: map[string]any{}}
	if payload == nil {
		return item
	}
	item.Text = payload["content"].GetStringValue()
	item.Importance = payload["importance"].GetDoubleValue()
	item.AccessCount = int(payload["access_count"].GetIntegerValue())
	item.CreatedAt = model.TimeFromAny(payload["created_at"].GetStringValue())
	if raw := payload["expiry"].GetStringValue(); raw != "" {
		ts := model.TimeFromAny(raw)
		item.Expiry = &ts
	}
	if raw := payload["metadata"].GetStringValue(); raw != "" {
		_ = json.Unmarshal([]byte(raw), &item.Metadata)
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	if userID := payload["user_id"].GetStringValue(); userID != "" {
		item.Metadata["user_id"] = userID
	}
	return item
}
