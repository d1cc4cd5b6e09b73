package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiethours/contextmem/src/model"
)

// emotionWindow bounds the recent-stress history kept on the singleton node.
const emotionWindow = 10

// updateEmotionState appends the latest stress reading to the tenant's
// singleton EmotionState node and re-derives the overall verdict: three or
// more recent high readings mean high stress with needs_support set, a single
// one means medium, none means low.
func (e *Engine) updateEmotionState(ctx context.Context, userID string, stress model.Level) error {
	stateID := EmotionStateID(userID)
	attrs := model.EmotionAttrs{OverallStress: model.LevelLow}
	if existing, err := e.graph.GetNode(ctx, stateID); err == nil {
		attrs = model.EmotionAttrsFromProperties(existing.Properties)
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	attrs.RecentStress = append(attrs.RecentStress, stress)
	if len(attrs.RecentStress) > emotionWindow {
		attrs.RecentStress = attrs.RecentStress[len(attrs.RecentStress)-emotionWindow:]
	}

	highs := 0
	for _, lvl := range attrs.RecentStress {
		if lvl == model.LevelHigh {
			highs++
		}
	}
	switch {
	case highs >= 3:
		attrs.OverallStress = model.LevelHigh
		attrs.NeedsSupport = true
	case highs >= 1:
		attrs.OverallStress = model.LevelMedium
		attrs.NeedsSupport = false
	default:
		attrs.OverallStress = model.LevelLow
		attrs.NeedsSupport = false
	}

	_, err := e.graph.UpsertNode(ctx, model.Node{
		ID:         stateID,
		Type:       model.NodeEmotionState,
		UserID:     userID,
		Confidence: 1.0,
		Source:     "engine",
		Properties: attrs.ToProperties(nil),
	})
	if err != nil {
		return fmt.Errorf("emotion state upsert: %w", err)
	}
	return nil
}

// EmotionState reads the tenant's current emotion snapshot. A tenant with no
// ingests yet gets the calm default rather than an error.
func (e *Engine) EmotionState(ctx context.Context, userID string) (model.EmotionAttrs, error) {
	node, err := e.graph.GetNode(ctx, EmotionStateID(userID))
	if errors.Is(err, model.ErrNotFound) {
		return model.EmotionAttrs{OverallStress: model.LevelLow, RecentStress: []model.Level{}}, nil
	}
	if err != nil {
		return model.EmotionAttrs{}, err
	}
	return model.EmotionAttrsFromProperties(node.Properties), nil
}
