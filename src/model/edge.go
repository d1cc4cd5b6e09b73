package model

import (
	"fmt"
	"math"
	"time"
)

// EdgeType enumerates supported relationships between context nodes.
type EdgeType string

const (
	EdgeCauses       EdgeType = "Causes"
	EdgeRelatedTo    EdgeType = "RelatedTo"
	EdgePartOf       EdgeType = "PartOf"
	EdgeScheduledFor EdgeType = "ScheduledFor"
	EdgeCreatedBy    EdgeType = "CreatedBy"
	EdgeSentTo       EdgeType = "SentTo"
	EdgeRespondedTo  EdgeType = "RespondedTo"
	EdgeImproves     EdgeType = "Improves"
	EdgeWorsens      EdgeType = "Worsens"
	EdgeHasPreference EdgeType = "HasPreference"
	EdgeWorkingOn    EdgeType = "WorkingOn"
	EdgeRecurring    EdgeType = "Recurring"
	EdgeDependsOn    EdgeType = "DependsOn"
	EdgePriorityOver EdgeType = "PriorityOver"
)

var validEdgeTypes = map[EdgeType]struct{}{
	EdgeCauses:        {},
	EdgeRelatedTo:     {},
	EdgePartOf:        {},
	EdgeScheduledFor:  {},
	EdgeCreatedBy:     {},
	EdgeSentTo:        {},
	EdgeRespondedTo:   {},
	EdgeImproves:      {},
	EdgeWorsens:       {},
	EdgeHasPreference: {},
	EdgeWorkingOn:     {},
	EdgeRecurring:     {},
	EdgeDependsOn:     {},
	EdgePriorityOver:  {},
}

// Strength blend weights. Strength is derived from frequency and recency, so a
// recomputation after a frequency bump can only keep or raise the value.
const (
	strengthFrequencyWeight = 0.3
	strengthRecencyWeight   = 0.5
	strengthBaseWeight      = 0.2
	baseStrength            = 0.5
)

// Edge is a typed, weighted relationship between two nodes. Strength is a
// derived property recomputed on every frequency bump; Recency is aged by the
// external maintenance caller, not by the store itself.
type Edge struct {
	ID            string         `json:"id"`
	Type          EdgeType       `json:"type"`
	SourceID      string         `json:"source_id"`
	TargetID      string         `json:"target_id"`
	Properties    map[string]any `json:"properties,omitempty"`
	Confidence    float64        `json:"confidence"`
	Weight        float64        `json:"weight"`
	Bidirectional bool           `json:"bidirectional,omitempty"`
	Strength      float64        `json:"strength"`
	Frequency     int            `json:"frequency"`
	Recency       float64        `json:"recency"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate ensures the edge definition is usable.
func (e Edge) Validate() error {
	if _, ok := validEdgeTypes[e.Type]; !ok {
		return fmt.Errorf("%w: unsupported edge type %q", ErrValidation, e.Type)
	}
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("%w: edge endpoints must be set", ErrValidation)
	}
	return nil
}

// Key identifies the logical edge for dedup and write serialization.
func (e Edge) Key() string {
	return EdgeKey(e.SourceID, e.TargetID, e.Type)
}

// EdgeKey builds the (source, target, type) identity of an edge.
func EdgeKey(sourceID, targetID string, edgeType EdgeType) string {
	return sourceID + "|" + targetID + "|" + string(edgeType)
}

// Clone returns a copy with its own properties map.
func (e Edge) Clone() Edge {
	out := e
	out.Properties = CloneProperties(e.Properties)
	return out
}

// ComputeStrength derives the [0,1] strength score from the edge frequency and
// recency. Frequency is normalized on a dampened scale that saturates quickly;
// recency is clamped into [0,1].
func ComputeStrength(frequency int, recency float64) float64 {
	normFreq := 1.0
	if frequency > 1 {
		normFreq = math.Min(1, 1+0.1*float64(frequency-1))
	}
	if recency < 0 {
		recency = 0
	} else if recency > 1 {
		recency = 1
	}
	strength := strengthFrequencyWeight*normFreq + strengthRecencyWeight*recency + strengthBaseWeight*baseStrength
	if strength > 1 {
		strength = 1
	} else if strength < 0 {
		strength = 0
	}
	return strength
}

// Recompute refreshes the derived strength in place.
func (e *Edge) Recompute() {
	e.Strength = ComputeStrength(e.Frequency, e.Recency)
}
