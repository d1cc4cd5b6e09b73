package vector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quiethours/contextmem/src/model"
)

func storeItem(t *testing.T, s MemoryStore, userID string, item model.MemoryItem) string {
	t.Helper()
	id, err := s.Store(context.Background(), userID, item)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return id
}

func TestLocalStoreSearchRanksByCosine(t *testing.T) {
	s := NewLocalStore(3)
	ctx := context.Background()
	storeItem(t, s, "alice", model.MemoryItem{ID: "exact", Text: "budget review", Embedding: []float32{1, 0, 0}})
	storeItem(t, s, "alice", model.MemoryItem{ID: "close", Text: "budget meeting", Embedding: []float32{0.9, 0.1, 0}})
	storeItem(t, s, "alice", model.MemoryItem{ID: "far", Text: "gardening", Embedding: []float32{0, 0, 1}})

	results, err := s.Search(ctx, "alice", []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Item.ID != "exact" || results[1].Item.ID != "close" {
		t.Fatalf("order = [%s %s], want [exact close]", results[0].Item.ID, results[1].Item.ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("scores not descending: %v < %v", results[0].Score, results[1].Score)
	}
}

func TestLocalStoreTenantIsolation(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	aliceID := storeItem(t, s, "alice", model.MemoryItem{Text: "private note", Embedding: []float32{1, 0}})
	storeItem(t, s, "bob", model.MemoryItem{Text: "bob note", Embedding: []float32{1, 0}})

	results, err := s.Search(ctx, "bob", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Item.UserID() != "bob" {
			t.Fatalf("tenant leak: got item owned by %q", r.Item.UserID())
		}
	}
	if _, err := s.Get(ctx, "bob", aliceID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("cross-tenant Get err = %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(ctx, "bob"); n != 1 {
		t.Fatalf("bob count = %d, want 1", n)
	}
}

func TestLocalStoreDimensionEnforced(t *testing.T) {
	s := NewLocalStore(3)
	_, err := s.Store(context.Background(), "alice", model.MemoryItem{Text: "short", Embedding: []float32{1, 0}})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestLocalStoreFilters(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	storeItem(t, s, "alice", model.MemoryItem{
		ID: "email", Text: "mail", Embedding: []float32{1, 0},
		Metadata: map[string]any{"type": "email"}, Importance: 0.9,
	})
	storeItem(t, s, "alice", model.MemoryItem{
		ID: "task", Text: "todo", Embedding: []float32{1, 0},
		Metadata: map[string]any{"type": "task"}, Importance: 0.2, CreatedAt: old,
	})

	results, err := s.Search(ctx, "alice", []float32{1, 0}, 10, &Filters{Type: "email"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Item.ID != "email" {
		t.Fatalf("type filter returned %d results", len(results))
	}

	results, _ = s.Search(ctx, "alice", []float32{1, 0}, 10, &Filters{MinImportance: 0.5})
	if len(results) != 1 || results[0].Item.ID != "email" {
		t.Fatalf("importance filter returned %d results", len(results))
	}

	results, _ = s.Search(ctx, "alice", []float32{1, 0}, 10, &Filters{After: old.Add(time.Hour)})
	if len(results) != 1 || results[0].Item.ID != "email" {
		t.Fatalf("after filter returned %d results", len(results))
	}
}

func TestLocalStoreSkipsExpired(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	storeItem(t, s, "alice", model.MemoryItem{ID: "gone", Text: "stale", Embedding: []float32{1, 0}, Expiry: &past})
	storeItem(t, s, "alice", model.MemoryItem{ID: "live", Text: "fresh", Embedding: []float32{1, 0}})

	results, err := s.Search(ctx, "alice", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Item.ID != "live" {
		t.Fatalf("expired item surfaced: %d results", len(results))
	}
	// Expiry is passive: the item is invisible but not evicted.
	if _, err := s.Get(ctx, "alice", "gone"); err != nil {
		t.Fatalf("expired item should still be readable: %v", err)
	}
}

func TestLocalStoreAccessBookkeeping(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	id := storeItem(t, s, "alice", model.MemoryItem{Text: "note", Embedding: []float32{1, 0}})

	for i := 1; i <= 3; i++ {
		results, err := s.Search(ctx, "alice", []float32{1, 0}, 1, nil)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if results[0].Item.AccessCount != i {
			t.Fatalf("access count = %d after %d searches", results[0].Item.AccessCount, i)
		}
		if results[0].Item.LastAccessed == nil {
			t.Fatal("last accessed not set")
		}
	}
	// Get is an access too.
	item, err := s.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.AccessCount != 4 {
		t.Fatalf("stored access count = %d, want 4", item.AccessCount)
	}
}

func TestLocalStoreDelete(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	id := storeItem(t, s, "alice", model.MemoryItem{Text: "note", Embedding: []float32{1, 0}})

	if err := s.Delete(ctx, "bob", []string{id}); err != nil {
		t.Fatalf("cross-tenant Delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice", id); err != nil {
		t.Fatal("cross-tenant delete removed the item")
	}
	if err := s.Delete(ctx, "alice", []string{id, "unknown"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice", id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestLocalStoreSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenLocalStore(dir, 2)
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	id := storeItem(t, s, "alice", model.MemoryItem{
		Text:      "persisted",
		Embedding: []float32{0.5, 0.5},
		Metadata:  map[string]any{"type": "email"},
	})
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenLocalStore(dir, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)

	item, err := reopened.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if item.Text != "persisted" || item.ItemType() != "email" {
		t.Fatalf("reloaded item = %+v", item)
	}
	if len(item.Embedding) != 2 || item.Embedding[0] != 0.5 {
		t.Fatalf("embedding did not survive: %v", item.Embedding)
	}
}

func TestLocalStoreIterateStopsEarly(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		storeItem(t, s, "alice", model.MemoryItem{Text: "note", Embedding: []float32{1, 0}})
	}
	visited := 0
	err := s.Iterate(ctx, "alice", func(model.MemoryItem) bool {
		visited++
		return visited < 2
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if visited != 2 {
		t.Fatalf("visited %d items, want 2", visited)
	}
}

func TestLocalStoreUpdateMetadata(t *testing.T) {
	s := NewLocalStore(2)
	ctx := context.Background()
	id := storeItem(t, s, "alice", model.MemoryItem{
		Text:      "note",
		Embedding: []float32{1, 0},
		Metadata:  map[string]any{"label": "old", "stale": true},
	})

	ok, err := s.UpdateMetadata(ctx, "alice", id, map[string]any{
		"label":   "new",
		"stale":   nil,
		"user_id": "mallory",
	})
	if err != nil || !ok {
		t.Fatalf("UpdateMetadata: ok=%v err=%v", ok, err)
	}
	item, err := s.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if model.StringFromAny(item.Metadata["label"]) != "new" {
		t.Fatalf("label = %v, want new", item.Metadata["label"])
	}
	if _, present := item.Metadata["stale"]; present {
		t.Fatal("nil patch value should remove the key")
	}
	if item.UserID() != "alice" {
		t.Fatalf("tenant tag changed to %q", item.UserID())
	}

	if ok, err := s.UpdateMetadata(ctx, "bob", id, map[string]any{"x": 1}); err != nil || ok {
		t.Fatalf("cross-tenant patch: ok=%v err=%v, want false/nil", ok, err)
	}
	if ok, err := s.UpdateMetadata(ctx, "alice", "ghost", map[string]any{"x": 1}); err != nil || ok {
		t.Fatalf("unknown id patch: ok=%v err=%v, want false/nil", ok, err)
	}
}
