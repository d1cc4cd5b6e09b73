package model

import (
	"fmt"
	"time"
)

// NodeType enumerates the entity kinds tracked in the context graph.
type NodeType string

const (
	NodeUserProfile     NodeType = "UserProfile"
	NodeEmail           NodeType = "Email"
	NodeCalendarEvent   NodeType = "CalendarEvent"
	NodeTask            NodeType = "Task"
	NodeEmotionState    NodeType = "EmotionState"
	NodeRelationship    NodeType = "Relationship"
	NodePreference      NodeType = "Preference"
	NodeHabit           NodeType = "Habit"
	NodeGoal            NodeType = "Goal"
	NodeStressFactor    NodeType = "StressFactor"
	NodeWellbeingMetric NodeType = "WellbeingMetric"
)

var validNodeTypes = map[NodeType]struct{}{
	NodeUserProfile:     {},
	NodeEmail:           {},
	NodeCalendarEvent:   {},
	NodeTask:            {},
	NodeEmotionState:    {},
	NodeRelationship:    {},
	NodePreference:      {},
	NodeHabit:           {},
	NodeGoal:            {},
	NodeStressFactor:    {},
	NodeWellbeingMetric: {},
}

// Node is a typed entity in the context graph. The ID is immutable once the
// node has been stored; UserID scopes the node to a single tenant and is
// mirrored into Properties["user_id"] at every persistence boundary.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
	Hidden     bool           `json:"hidden,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks the invariants a node must satisfy before it is stored.
func (n Node) Validate() error {
	if _, ok := validNodeTypes[n.Type]; !ok {
		return fmt.Errorf("%w: unsupported node type %q", ErrValidation, n.Type)
	}
	if n.UserID == "" {
		return fmt.Errorf("%w: node is missing a tenant id", ErrValidation)
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, n.Confidence)
	}
	return nil
}

// Clone returns a deep-enough copy so callers cannot mutate stored state.
func (n Node) Clone() Node {
	out := n
	out.Properties = CloneProperties(n.Properties)
	return out
}

// Property reads a single property value, preferring the open map.
func (n Node) Property(key string) any {
	if n.Properties == nil {
		return nil
	}
	return n.Properties[key]
}
