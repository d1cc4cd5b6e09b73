package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestComputeStrengthMonotonicInFrequency(t *testing.T) {
	prev := 0.0
	for freq := 1; freq <= 50; freq++ {
		s := ComputeStrength(freq, 1.0)
		if s < prev {
			t.Fatalf("strength decreased at frequency %d: %v -> %v", freq, prev, s)
		}
		if s < 0 || s > 1 {
			t.Fatalf("strength %v outside [0,1] at frequency %d", s, freq)
		}
		prev = s
	}
}

func TestComputeStrengthClampsRecency(t *testing.T) {
	if got := ComputeStrength(1, -3); got != ComputeStrength(1, 0) {
		t.Fatalf("negative recency not clamped: %v", got)
	}
	if got := ComputeStrength(1, 7); got != ComputeStrength(1, 1) {
		t.Fatalf("oversized recency not clamped: %v", got)
	}
	want := 0.3 + 0.5 + 0.2*0.5
	if got := ComputeStrength(1, 1); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v for fresh edge, got %v", want, got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity(nil, nil); sim != 0 {
		t.Fatalf("expected zero similarity for empty vectors, got %v", sim)
	}
	a := []float32{0.3, 0.4, 0.5}
	if sim := CosineSimilarity(a, a); math.Abs(sim-1) > 1e-6 {
		t.Fatalf("expected self-similarity of 1, got %v", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(sim) > 1e-9 {
		t.Fatalf("expected orthogonal vectors to score 0, got %v", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); math.Abs(sim+1) > 1e-9 {
		t.Fatalf("expected opposite vectors to score -1, got %v", sim)
	}
	if sim := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); sim != 0 {
		t.Fatalf("expected zero-norm vector to score 0, got %v", sim)
	}
	if sim := CosineSimilarity([]float32{1}, []float32{1, 0}); sim != 0 {
		t.Fatalf("expected mismatched lengths to score 0, got %v", sim)
	}
}

func TestParseLevelNormalizesCasing(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"LOW", LevelLow},
		{"Low", LevelLow},
		{" medium ", LevelMedium},
		{"HIGH", LevelHigh},
		{"urgent", LevelHigh},
		{"", LevelMedium},
		{"nonsense", LevelMedium},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, LevelMedium); got != tc.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if LevelLow.Rank() >= LevelMedium.Rank() || LevelMedium.Rank() >= LevelHigh.Rank() {
		t.Fatal("level ranks are not ordered")
	}
}

func TestNodeValidate(t *testing.T) {
	node := Node{Type: NodeEmail, UserID: "alice", Confidence: 0.9}
	if err := node.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := Node{Type: "Banana", UserID: "alice"}
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad type, got %v", err)
	}
	noTenant := Node{Type: NodeEmail}
	if err := noTenant.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing tenant, got %v", err)
	}
}

func TestEdgeKeyAndValidate(t *testing.T) {
	e := Edge{Type: EdgePartOf, SourceID: "a", TargetID: "b"}
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Key() != EdgeKey("a", "b", EdgePartOf) {
		t.Fatalf("edge key mismatch: %q", e.Key())
	}
	if err := (Edge{Type: "Nope", SourceID: "a", TargetID: "b"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatal("expected ErrValidation for unknown edge type")
	}
}

func TestEmailAttrsRoundTrip(t *testing.T) {
	attrs := EmailAttrs{
		Subject:        "Quarterly review",
		Sender:         "bob@example.com",
		Summary:        "review scheduled",
		StressLevel:    LevelHigh,
		Priority:       LevelMedium,
		SentimentScore: -0.25,
		EmotionalTone:  "anxious",
		ReceivedAt:     time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC),
	}
	props := attrs.ToProperties(map[string]any{"x-extra": "kept"})
	got := EmailAttrsFromProperties(props)
	if got.Subject != attrs.Subject || got.Sender != attrs.Sender || got.StressLevel != LevelHigh {
		t.Fatalf("round trip lost fields: %#v", got)
	}
	if !got.ReceivedAt.Equal(attrs.ReceivedAt) {
		t.Fatalf("timestamp mismatch: %v", got.ReceivedAt)
	}
	if props["x-extra"] != "kept" {
		t.Fatal("unknown property key was dropped")
	}
}

func TestEmotionAttrsRoundTrip(t *testing.T) {
	attrs := EmotionAttrs{
		OverallStress: LevelHigh,
		NeedsSupport:  true,
		RecentStress:  []Level{LevelMedium, LevelHigh, LevelHigh},
	}
	got := EmotionAttrsFromProperties(attrs.ToProperties(nil))
	if got.OverallStress != LevelHigh || !got.NeedsSupport {
		t.Fatalf("unexpected emotion attrs: %#v", got)
	}
	if len(got.RecentStress) != 3 || got.RecentStress[2] != LevelHigh {
		t.Fatalf("recent window lost: %#v", got.RecentStress)
	}
}

func TestCloneProperties(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{1, 2},
	}
	cloned := CloneProperties(original)
	cloned["nested"].(map[string]any)["k"] = "mutated"
	if original["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("expected nested map to be copied")
	}
}

func TestCoercionHelpers(t *testing.T) {
	if got := FloatFromAny("4.5"); math.Abs(got-4.5) > 1e-9 {
		t.Fatalf("FloatFromAny: %v", got)
	}
	if got := IntFromAny(float64(7)); got != 7 {
		t.Fatalf("IntFromAny: %v", got)
	}
	if got := StringFromAny(nil); got != "" {
		t.Fatalf("StringFromAny(nil): %q", got)
	}
	if got := StringSliceFromAny([]any{"a", "", "b"}); len(got) != 2 {
		t.Fatalf("StringSliceFromAny: %#v", got)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if got := TimeFromAny(now.Format(time.RFC3339Nano)); !got.Equal(now) {
		t.Fatalf("TimeFromAny: %v", got)
	}
	if got := TimeFromAny("invalid"); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}
