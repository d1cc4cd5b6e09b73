package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/quiethours/contextmem/src/model"
)

const itemKeyPrefix = "item/"

// LocalStore keeps memories in process with an optional Badger snapshot on
// disk. Every write goes to Badger before it becomes visible in memory, so a
// restart through OpenLocalStore reloads the exact same state. Reads take the
// shared lock only.
type LocalStore struct {
	dim   int
	nowFn func() time.Time

	mu    sync.RWMutex
	items map[string]model.MemoryItem
	db    *badger.DB
}

var _ MemoryStore = (*LocalStore)(nil)

// NewLocalStore builds a purely in-memory store. dim <= 0 disables dimension
// enforcement.
func NewLocalStore(dim int) *LocalStore {
	return &LocalStore{
		dim:   dim,
		nowFn: time.Now,
		items: make(map[string]model.MemoryItem),
	}
}

// OpenLocalStore opens (or creates) a snapshot-backed store at dir and loads
// every persisted item.
func OpenLocalStore(dir string, dim int) (*LocalStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	s := NewLocalStore(dim)
	s.db = db
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(itemKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var item model.MemoryItem
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("decode snapshot item: %w", err)
				}
				s.items[item.ID] = item
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func itemKey(userID, id string) []byte {
	return []byte(itemKeyPrefix + userID + "/" + id)
}

// Store validates and persists one item. The tenant tag in the metadata is
// forced to userID. On a snapshot write failure nothing becomes visible and
// the error wraps model.ErrProvider.
func (s *LocalStore) Store(ctx context.Context, userID string, item model.MemoryItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	item = item.Clone()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["user_id"] = userID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.nowFn().UTC()
	}
	if err := item.Validate(s.dim); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		payload, err := json.Marshal(item)
		if err != nil {
			return "", err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(itemKey(userID, item.ID), payload)
		})
		if err != nil {
			return "", fmt.Errorf("%w: snapshot write: %v", model.ErrProvider, err)
		}
	}
	s.items[item.ID] = item
	return item.ID, nil
}

// Search ranks the tenant's items by cosine similarity to the query, newest
// first among ties. Returned items carry refreshed access bookkeeping.
func (s *LocalStore) Search(ctx context.Context, userID string, queryEmbedding []float32, limit int, filters *Filters) ([]ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	now := s.nowFn().UTC()

	s.mu.RLock()
	scored := make([]ScoredItem, 0, limit)
	for _, item := range s.items {
		if item.UserID() != userID || !matches(item, filters, now) {
			continue
		}
		scored = append(scored, ScoredItem{
			Item:  item.Clone(),
			Score: model.CosineSimilarity(queryEmbedding, item.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Item.CreatedAt.Equal(scored[j].Item.CreatedAt) {
			return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	s.mu.Lock()
	for i := range scored {
		id := scored[i].Item.ID
		stored, ok := s.items[id]
		if !ok {
			continue
		}
		ts := now
		stored.LastAccessed = &ts
		stored.AccessCount++
		s.items[id] = stored
		scored[i].Item.LastAccessed = &ts
		scored[i].Item.AccessCount = stored.AccessCount
	}
	s.mu.Unlock()
	return scored, nil
}

// Get returns one item or model.ErrNotFound; a foreign tenant's item is
// indistinguishable from a missing one. Access bookkeeping is refreshed in
// memory only, it is a hint and not worth a snapshot write.
func (s *LocalStore) Get(ctx context.Context, userID, id string) (model.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return model.MemoryItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.UserID() != userID {
		return model.MemoryItem{}, fmt.Errorf("memory %q: %w", id, model.ErrNotFound)
	}
	ts := s.nowFn().UTC()
	item.LastAccessed = &ts
	item.AccessCount++
	s.items[id] = item
	return item.Clone(), nil
}

// UpdateMetadata merges a patch into the item's metadata. A nil patch value
// removes the key. Reports whether the item existed for the tenant.
func (s *LocalStore) UpdateMetadata(ctx context.Context, userID, id string, patch map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.UserID() != userID {
		return false, nil
	}
	item = item.Clone()
	item.Metadata = applyPatch(item.Metadata, patch)
	if s.db != nil {
		payload, err := json.Marshal(item)
		if err != nil {
			return false, err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(itemKey(userID, id), payload)
		})
		if err != nil {
			return false, fmt.Errorf("%w: snapshot write: %v", model.ErrProvider, err)
		}
	}
	s.items[id] = item
	return true, nil
}

// Delete removes the tenant's items by id. Unknown ids are ignored.
func (s *LocalStore) Delete(ctx context.Context, userID string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok || item.UserID() != userID {
			continue
		}
		if s.db != nil {
			err := s.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(itemKey(userID, id))
			})
			if err != nil {
				return fmt.Errorf("%w: snapshot delete: %v", model.ErrProvider, err)
			}
		}
		delete(s.items, id)
	}
	return nil
}

// Iterate visits the tenant's items in id order until fn returns false.
func (s *LocalStore) Iterate(ctx context.Context, userID string, fn func(model.MemoryItem) bool) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.items))
	for id, item := range s.items {
		if item.UserID() == userID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		item, ok := s.items[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn(item.Clone()) {
			return nil
		}
	}
	return nil
}

// Count reports how many items the tenant holds.
func (s *LocalStore) Count(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.UserID() == userID {
			n++
		}
	}
	return n, nil
}

// Close releases the snapshot database, if any.
func (s *LocalStore) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil && !strings.Contains(err.Error(), "already closed") {
		return err
	}
	return nil
}
