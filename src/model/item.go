package model

import (
	"fmt"
	"math"
	"time"
)

// MemoryItem is a text+embedding record in the vector store, scoped to one
// tenant through Metadata["user_id"]. Importance and Expiry are passive hints;
// the store never evicts on them.
type MemoryItem struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Embedding    []float32      `json:"embedding"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Importance   float64        `json:"importance"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
	AccessCount  int            `json:"access_count"`
	Expiry       *time.Time     `json:"expiry,omitempty"`
}

// UserID reads the tenant tag out of the metadata map.
func (m MemoryItem) UserID() string {
	return StringFromAny(m.Metadata["user_id"])
}

// ItemType reads the item type tag out of the metadata map.
func (m MemoryItem) ItemType() string {
	return StringFromAny(m.Metadata["type"])
}

// Clone returns a copy with its own embedding and metadata.
func (m MemoryItem) Clone() MemoryItem {
	out := m
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Metadata = CloneProperties(m.Metadata)
	if m.LastAccessed != nil {
		ts := *m.LastAccessed
		out.LastAccessed = &ts
	}
	if m.Expiry != nil {
		ts := *m.Expiry
		out.Expiry = &ts
	}
	return out
}

// Validate checks the item against the store's embedding dimension.
func (m MemoryItem) Validate(dim int) error {
	if m.UserID() == "" {
		return fmt.Errorf("%w: memory item is missing metadata.user_id", ErrValidation)
	}
	if dim > 0 && len(m.Embedding) != dim {
		return fmt.Errorf("%w: embedding has %d dimensions, store expects %d", ErrValidation, len(m.Embedding), dim)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("%w: importance %v outside [0,1]", ErrValidation, m.Importance)
	}
	return nil
}

// CosineSimilarity computes dot(a,b)/(|a||b|), defined as 0 when either norm
// is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
