package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/quiethours/contextmem/src/model"
)

func TestIngestBatchKeepsTenantCountsConsistent(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	entities := make([]Entity, 6)
	for i := range entities {
		entities[i] = Entity{
			Kind:    KindEmail,
			Subject: fmt.Sprintf("update %d", i),
			Sender:  "bob@example.com",
			Text:    fmt.Sprintf("status update number %d", i),
		}
	}

	results, err := e.IngestBatch(ctx, "alice", entities, 4)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(results) != len(entities) {
		t.Fatalf("results = %d, want %d", len(results), len(entities))
	}
	for i, result := range results {
		if result.NodeID == "" {
			t.Fatalf("entity %d produced no node", i)
		}
	}

	rel, err := e.graph.GetNode(ctx, RelationshipID("alice", "bob@example.com"))
	if err != nil {
		t.Fatalf("relationship node: %v", err)
	}
	attrs := model.RelationshipAttrsFromProperties(rel.Properties)
	if attrs.InteractionCount != len(entities) {
		t.Fatalf("interaction count = %d, want %d", attrs.InteractionCount, len(entities))
	}

	emotion, err := e.EmotionState(ctx, "alice")
	if err != nil {
		t.Fatalf("EmotionState: %v", err)
	}
	if len(emotion.RecentStress) != len(entities) {
		t.Fatalf("stress window = %d entries, want %d", len(emotion.RecentStress), len(entities))
	}

	count, err := e.memories.Count(ctx, "alice")
	if err != nil || count != len(entities) {
		t.Fatalf("memories = %d err=%v, want %d", count, err, len(entities))
	}
}
