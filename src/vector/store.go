// Package vector holds the long-term memory stores: embedded snapshots for
// development and tests, plus Postgres, Qdrant and MongoDB backends for
// production deployments.
package vector

import (
	"context"
	"time"

	"github.com/quiethours/contextmem/src/model"
)

// Filters narrows a similarity search. Zero values mean "no constraint".
type Filters struct {
	Type          string
	MinImportance float64
	After         time.Time
	Before        time.Time
}

// ScoredItem pairs a stored item with its cosine similarity to the query.
type ScoredItem struct {
	Item  model.MemoryItem
	Score float64
}

// MemoryStore is the contract for long-term memory backends. Every operation
// takes the tenant id and backends apply it server-side; results never cross
// tenants regardless of what the caller does with them.
type MemoryStore interface {
	Store(ctx context.Context, userID string, item model.MemoryItem) (string, error)
	Search(ctx context.Context, userID string, queryEmbedding []float32, limit int, filters *Filters) ([]ScoredItem, error)
	Get(ctx context.Context, userID, id string) (model.MemoryItem, error)
	UpdateMetadata(ctx context.Context, userID, id string, patch map[string]any) (bool, error)
	Delete(ctx context.Context, userID string, ids []string) error
	Iterate(ctx context.Context, userID string, fn func(model.MemoryItem) bool) error
	Count(ctx context.Context, userID string) (int, error)
	Close(ctx context.Context) error
}

// DefaultSearchLimit applies when a caller passes limit <= 0.
const DefaultSearchLimit = 10

// applyPatch merges a metadata patch into meta. A nil value removes the key;
// the tenant tag cannot be patched.
func applyPatch(meta map[string]any, patch map[string]any) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	for k, v := range patch {
		if k == "user_id" {
			continue
		}
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	return meta
}

// matches reports whether an item passes the filters at the given instant.
// Expired items never match.
func matches(item model.MemoryItem, filters *Filters, now time.Time) bool {
	if item.Expiry != nil && !item.Expiry.After(now) {
		return false
	}
	if filters == nil {
		return true
	}
	if filters.Type != "" && item.ItemType() != filters.Type {
		return false
	}
	if item.Importance < filters.MinImportance {
		return false
	}
	if !filters.After.IsZero() && item.CreatedAt.Before(filters.After) {
		return false
	}
	if !filters.Before.IsZero() && item.CreatedAt.After(filters.Before) {
		return false
	}
	return true
}
