package analyze

import (
	"context"
	"strings"
	"unicode"

	"github.com/quiethours/contextmem/src/model"
)

// HeuristicAnalyzer labels text with keyword rules. It is deterministic,
// needs no network, and backs tests and offline deployments.
type HeuristicAnalyzer struct{}

var _ Analyzer = HeuristicAnalyzer{}

var (
	stressWords = []string{
		"urgent", "asap", "immediately", "overdue", "overwhelmed", "stressed",
		"anxious", "worried", "panic", "emergency", "final notice", "last chance",
	}
	priorityWords = []string{
		"deadline", "due", "important", "priority", "critical", "required",
		"must", "urgent", "asap",
	}
	actionCues = []string{
		"reply", "respond", "send", "schedule", "review", "confirm", "submit",
		"call", "complete", "finish", "prepare", "book", "pay",
	}
	negativeWords = []string{
		"sorry", "problem", "issue", "failed", "late", "missed", "unfortunately",
		"cancel", "wrong", "complaint",
	}
	positiveWords = []string{
		"thanks", "thank you", "great", "good news", "congratulations",
		"appreciate", "well done", "happy",
	}
)

func countMatches(lower string, words []string) int {
	n := 0
	for _, w := range words {
		n += strings.Count(lower, w)
	}
	return n
}

func levelFromCount(n int) model.Level {
	switch {
	case n >= 3:
		return model.LevelHigh
	case n >= 1:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func (HeuristicAnalyzer) Analyze(_ context.Context, text string, _ map[string]any) (Analysis, error) {
	lower := strings.ToLower(text)

	analysis := Analysis{
		Summary:     summarize(text),
		StressLevel: levelFromCount(countMatches(lower, stressWords)),
		Priority:    levelFromCount(countMatches(lower, priorityWords)),
		ActionItems: extractActionItems(text),
	}

	pos := countMatches(lower, positiveWords)
	neg := countMatches(lower, negativeWords)
	if pos+neg > 0 {
		analysis.SentimentScore = float64(pos-neg) / float64(pos+neg)
	}
	switch {
	case analysis.SentimentScore < -0.3:
		analysis.EmotionalTone = "negative"
	case analysis.SentimentScore > 0.3:
		analysis.EmotionalTone = "positive"
	default:
		analysis.EmotionalTone = "neutral"
	}
	analysis.Normalize()
	return analysis, nil
}

// summarize keeps the first sentence, capped at 140 characters.
func summarize(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.IndexAny(trimmed, ".!?\n"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	if len(trimmed) > 140 {
		trimmed = strings.TrimRightFunc(trimmed[:140], unicode.IsSpace)
	}
	return trimmed
}

// extractActionItems collects sentences and bullet lines that open with, or
// lead into, an action cue.
func extractActionItems(text string) []string {
	items := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cut, ok := strings.CutPrefix(line, "- "); ok {
			items = append(items, cut)
			continue
		}
		for _, sentence := range splitSentences(line) {
			lower := strings.ToLower(sentence)
			for _, cue := range actionCues {
				if strings.HasPrefix(lower, cue+" ") || strings.HasPrefix(lower, "please "+cue) {
					items = append(items, sentence)
					break
				}
			}
		}
	}
	return items
}

func splitSentences(line string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(line, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
