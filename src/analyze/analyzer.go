// Package analyze extracts structured triage labels from raw text. The
// heuristic analyzer works offline and deterministically; the Claude analyzer
// delegates to Anthropic's API.
package analyze

import (
	"context"

	"github.com/quiethours/contextmem/src/model"
)

// Analysis is the structured output of a content analyzer. Optional fields
// may stay zero; consumers must tolerate that.
type Analysis struct {
	Summary              string      `json:"summary"`
	StressLevel          model.Level `json:"stress_level"`
	Priority             model.Level `json:"priority"`
	ActionItems          []string    `json:"action_items"`
	SentimentScore       float64     `json:"sentiment_score"`
	EmotionalTone        string      `json:"emotional_tone,omitempty"`
	ExplicitExpectations []string    `json:"explicit_expectations,omitempty"`
	ImplicitExpectations []string    `json:"implicit_expectations,omitempty"`

	// Extra carries analyzer-supplied keys outside the fixed schema. They are
	// preserved as-is onto the stored node's properties; typed fields win on
	// collision.
	Extra map[string]any `json:"-"`
}

// DefaultAnalysis is what ingestion proceeds with when the analyzer fails.
func DefaultAnalysis() Analysis {
	return Analysis{
		StressLevel: model.LevelMedium,
		Priority:    model.LevelMedium,
		ActionItems: []string{},
	}
}

// Normalize canonicalizes the level fields, defaulting unparseable values to
// medium. Analyzer output is an external boundary; casing is not trusted.
func (a *Analysis) Normalize() {
	a.StressLevel = model.ParseLevel(string(a.StressLevel), model.LevelMedium)
	a.Priority = model.ParseLevel(string(a.Priority), model.LevelMedium)
	if a.ActionItems == nil {
		a.ActionItems = []string{}
	}
}

// Analyzer is the external content-analysis collaborator. hints carries
// optional caller context (sender, subject, entity kind).
type Analyzer interface {
	Analyze(ctx context.Context, text string, hints map[string]any) (Analysis, error)
}
