package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quiethours/contextmem/src/analyze"
	"github.com/quiethours/contextmem/src/embed"
	"github.com/quiethours/contextmem/src/graph"
	"github.com/quiethours/contextmem/src/model"
	"github.com/quiethours/contextmem/src/vector"
)

type stubAnalyzer struct {
	analysis analyze.Analysis
	err      error
	calls    int
}

func (s *stubAnalyzer) Analyze(context.Context, string, map[string]any) (analyze.Analysis, error) {
	s.calls++
	return s.analysis, s.err
}

func newTestEngine(t *testing.T, analyzer analyze.Analyzer) *Engine {
	t.Helper()
	opts := Options{
		Graph:    graph.NewStore(graph.NewMemoryBackend(), nil),
		Memories: vector.NewLocalStore(0),
		Embedder: embed.NewDeterministic(64),
		Analyzer: analyzer,
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestIngestEmailCreatesGraphAndMemory(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{
		Kind:    KindEmail,
		Subject: "Budget numbers",
		Sender:  "bob@example.com",
		Text:    "Hi,\nPlease reply by Friday with the budget numbers.\nThanks",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	node, err := e.graph.GetNode(ctx, result.NodeID)
	if err != nil {
		t.Fatalf("email node: %v", err)
	}
	if node.Type != model.NodeEmail {
		t.Fatalf("node type = %s", node.Type)
	}
	attrs := model.EmailAttrsFromProperties(node.Properties)
	if attrs.Subject != "Budget numbers" || attrs.Sender != "bob@example.com" {
		t.Fatalf("email attrs = %+v", attrs)
	}

	if len(result.TaskIDs) != 1 {
		t.Fatalf("tasks = %v, want 1", result.TaskIDs)
	}
	task, err := e.graph.GetNode(ctx, result.TaskIDs[0])
	if err != nil {
		t.Fatalf("task node: %v", err)
	}
	taskAttrs := model.TaskAttrsFromProperties(task.Properties)
	if !strings.Contains(strings.ToLower(taskAttrs.Description), "reply by friday") {
		t.Fatalf("task description = %q", taskAttrs.Description)
	}
	if taskAttrs.SourceID != result.NodeID {
		t.Fatalf("task source = %q, want %q", taskAttrs.SourceID, result.NodeID)
	}
	related, err := e.graph.RelatedNodes(ctx, "alice", result.TaskIDs[0], []model.EdgeType{model.EdgePartOf}, 0, 0)
	if err != nil || len(related) != 1 || related[0].ID != result.NodeID {
		t.Fatalf("task PartOf edge missing: related=%v err=%v", related, err)
	}

	if len(result.RelationshipIDs) != 1 {
		t.Fatalf("relationships = %v, want 1", result.RelationshipIDs)
	}
	rel, err := e.graph.GetNode(ctx, result.RelationshipIDs[0])
	if err != nil || rel.Type != model.NodeRelationship {
		t.Fatalf("relationship node: %v %v", rel.Type, err)
	}

	hits, err := e.Search(ctx, "alice", "reply by Friday", 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, hit := range hits {
		if strings.Contains(hit.Item.Text, "reply by Friday") {
			found = true
		}
	}
	if !found {
		t.Fatal("ingested text not among top search results")
	}
}

func TestIngestDedupesRelationshipPerSender(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "a", Sender: "bob@example.com", Text: "hello"})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "b", Sender: "Bob@Example.com ", Text: "again"})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if first.RelationshipIDs[0] != second.RelationshipIDs[0] {
		t.Fatalf("same sender produced two relationship nodes: %v vs %v",
			first.RelationshipIDs, second.RelationshipIDs)
	}
	rel, _ := e.graph.GetNode(ctx, first.RelationshipIDs[0])
	attrs := model.RelationshipAttrsFromProperties(rel.Properties)
	if attrs.InteractionCount != 2 {
		t.Fatalf("interaction count = %d, want 2", attrs.InteractionCount)
	}
}

func TestIngestAnalyzerFailureDegradesToDefaults(t *testing.T) {
	stub := &stubAnalyzer{err: errors.New("provider down")}
	e := newTestEngine(t, stub)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "body"})
	if err != nil {
		t.Fatalf("Ingest should not fail on analyzer error: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("analyzer called %d times, want exactly once", stub.calls)
	}
	if result.Analysis.StressLevel != model.LevelMedium || result.Analysis.Priority != model.LevelMedium {
		t.Fatalf("degraded analysis = %+v, want medium/medium", result.Analysis)
	}
	if len(result.TaskIDs) != 0 {
		t.Fatalf("degraded ingest created tasks: %v", result.TaskIDs)
	}
}

func TestThreeHighStressIngestsRaiseEmotionState(t *testing.T) {
	stub := &stubAnalyzer{analysis: analyze.Analysis{
		StressLevel: model.LevelHigh,
		Priority:    model.LevelMedium,
	}}
	e := newTestEngine(t, stub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "t"}); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		emotion, _ := e.EmotionState(ctx, "alice")
		if emotion.OverallStress != model.LevelMedium || emotion.NeedsSupport {
			t.Fatalf("after %d high ingests: %+v, want medium without support flag", i+1, emotion)
		}
	}

	if _, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "t"}); err != nil {
		t.Fatalf("third Ingest: %v", err)
	}
	emotion, err := e.EmotionState(ctx, "alice")
	if err != nil {
		t.Fatalf("EmotionState: %v", err)
	}
	if emotion.OverallStress != model.LevelHigh || !emotion.NeedsSupport {
		t.Fatalf("after third high ingest: %+v, want high with needs_support", emotion)
	}
	if len(emotion.RecentStress) != 3 {
		t.Fatalf("recent window = %v, want 3 entries", emotion.RecentStress)
	}
}

func TestEmotionStateIsolatedPerTenant(t *testing.T) {
	stub := &stubAnalyzer{analysis: analyze.Analysis{StressLevel: model.LevelHigh, Priority: model.LevelLow}}
	e := newTestEngine(t, stub)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "t"}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	emotion, _ := e.EmotionState(ctx, "bob")
	if emotion.OverallStress != model.LevelLow {
		t.Fatalf("bob's emotion state leaked: %+v", emotion)
	}
}

func TestRecallBlendsBothStores(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{
		Kind:    KindEmail,
		Subject: "Quarterly review",
		Sender:  "bob@example.com",
		Text:    "Please review the quarterly figures before Monday.",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	recall, err := e.Recall(ctx, "alice", "quarterly figures", RecallOptions{EntityID: result.NodeID})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recall.Entity == nil || recall.Entity.ID != result.NodeID {
		t.Fatalf("recall entity = %+v", recall.Entity)
	}
	if len(recall.Related) == 0 {
		t.Fatal("recall returned no related nodes")
	}
	if len(recall.Memories) == 0 {
		t.Fatal("recall returned no memories")
	}
	if recall.Emotion.OverallStress == "" {
		t.Fatal("recall carried no emotion snapshot")
	}
}

func TestRecallUnknownEntitySurfacesNotFound(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Recall(context.Background(), "alice", "anything", RecallOptions{EntityID: "ghost"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestForgetRemovesNodeAndMirroredMemories(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "sensitive"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	deleted, err := e.Forget(ctx, "alice", result.NodeID)
	if err != nil || !deleted {
		t.Fatalf("Forget: deleted=%v err=%v", deleted, err)
	}
	if _, err := e.graph.GetNode(ctx, result.NodeID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("node survived forget: %v", err)
	}
	hits, _ := e.Search(ctx, "alice", "sensitive", 5, nil)
	for _, hit := range hits {
		if model.StringFromAny(hit.Item.Metadata["node_id"]) == result.NodeID {
			t.Fatal("mirrored memory survived forget")
		}
	}
}

func TestMockModeKeepsIngestAndRecallAlive(t *testing.T) {
	opts := Options{
		Graph:    graph.NewStore(graph.NullBackend{}, nil),
		Memories: vector.NewLocalStore(0),
		Embedder: embed.NewDeterministic(64),
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{
		Kind: KindEmail, Subject: "offline", Sender: "x@y.z",
		Text: "Please reply by Friday about the offline plan.",
	})
	if err != nil {
		t.Fatalf("Ingest in mock mode: %v", err)
	}
	if result.NodeID == "" {
		t.Fatal("mock mode ingest returned no node id")
	}

	recall, err := e.Recall(ctx, "alice", "offline plan", RecallOptions{})
	if err != nil {
		t.Fatalf("Recall in mock mode: %v", err)
	}
	if len(recall.Memories) == 0 {
		t.Fatal("vector side should still answer in mock mode")
	}
	if len(recall.Related) != 0 {
		t.Fatalf("graph side should be empty in mock mode, got %v", recall.Related)
	}

	stats, err := e.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.Degraded {
		t.Fatal("stats should report degraded graph")
	}
	if stats.Memories == 0 {
		t.Fatal("memories should still be counted")
	}
}

func TestRecallWithoutQuerySeedsFromAnchorText(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{
		Kind:    KindEmail,
		Subject: "Vendor invoice",
		Sender:  "billing@example.com",
		Text:    "The vendor invoice is attached.",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	recall, err := e.Recall(ctx, "alice", "", RecallOptions{EntityID: result.NodeID})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(recall.Memories) == 0 {
		t.Fatal("recall without a query should seed search from the anchor node")
	}
}

func TestIngestCarriesAnalyzerExtrasOntoNode(t *testing.T) {
	stub := &stubAnalyzer{analysis: analyze.Analysis{
		StressLevel: model.LevelLow,
		Priority:    model.LevelLow,
		Extra: map[string]any{
			"deadline_hint": "friday",
			"subject":       "spoofed",
		},
	}}
	e := newTestEngine(t, stub)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{
		Kind: KindEmail, Subject: "Real subject", Sender: "x@y.z", Text: "body",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	node, err := e.graph.GetNode(ctx, result.NodeID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got := model.StringFromAny(node.Properties["deadline_hint"]); got != "friday" {
		t.Fatalf("analyzer extra dropped: deadline_hint = %q", got)
	}
	// Typed attrs win when an extra collides with a schema key.
	if got := model.StringFromAny(node.Properties["subject"]); got != "Real subject" {
		t.Fatalf("subject = %q, want Real subject", got)
	}
}

type unreliableReads struct {
	graph.Backend
}

func (unreliableReads) GetNode(context.Context, string) (model.Node, bool, error) {
	return model.Node{}, false, errors.New("backend timeout")
}

func TestForgetRefusesToDeleteWhenOwnershipUnverifiable(t *testing.T) {
	inner := graph.NewMemoryBackend()
	seed := graph.NewStore(inner, nil)
	ctx := context.Background()
	nodeID, err := seed.UpsertNode(ctx, model.Node{
		Type: model.NodeEmail, UserID: "alice", Confidence: 1,
	})
	if err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	e, err := New(Options{
		Graph:    graph.NewStore(unreliableReads{Backend: inner}, nil),
		Memories: vector.NewLocalStore(0),
		Embedder: embed.NewDeterministic(8),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	deleted, err := e.Forget(ctx, "bob", nodeID)
	if err == nil {
		t.Fatal("Forget should surface the lookup failure")
	}
	if deleted {
		t.Fatal("Forget reported a delete despite unverifiable ownership")
	}
	if _, err := seed.GetNode(ctx, nodeID); err != nil {
		t.Fatalf("node was deleted through a failing pre-read: %v", err)
	}
}

func TestForgetCrossTenantAndMissingAreNoOps(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := e.Ingest(ctx, "alice", Entity{Kind: KindEmail, Subject: "s", Sender: "x@y.z", Text: "t"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deleted, err := e.Forget(ctx, "bob", result.NodeID)
	if err != nil || deleted {
		t.Fatalf("cross-tenant Forget: deleted=%v err=%v, want false/nil", deleted, err)
	}
	if _, err := e.graph.GetNode(ctx, result.NodeID); err != nil {
		t.Fatalf("cross-tenant Forget removed the node: %v", err)
	}

	deleted, err = e.Forget(ctx, "alice", "ghost")
	if err != nil || deleted {
		t.Fatalf("missing-node Forget: deleted=%v err=%v, want false/nil", deleted, err)
	}
}
