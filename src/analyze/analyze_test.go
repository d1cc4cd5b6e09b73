package analyze

import (
	"context"
	"testing"

	"github.com/quiethours/contextmem/src/model"
)

func TestHeuristicStressAndPriority(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		stress     model.Level
		priority   model.Level
	}{
		{
			name:     "calm note",
			text:     "Lunch next week sometime, no rush at all.",
			stress:   model.LevelLow,
			priority: model.LevelLow,
		},
		{
			name:     "single stress cue",
			text:     "This is urgent, the report needs attention.",
			stress:   model.LevelMedium,
			priority: model.LevelMedium,
		},
		{
			name:     "piled up pressure",
			text:     "URGENT: the deadline is overdue and I am overwhelmed, please respond ASAP.",
			stress:   model.LevelHigh,
			priority: model.LevelHigh,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analysis, err := HeuristicAnalyzer{}.Analyze(context.Background(), tc.text, nil)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if analysis.StressLevel != tc.stress {
				t.Errorf("stress = %s, want %s", analysis.StressLevel, tc.stress)
			}
			if analysis.Priority != tc.priority {
				t.Errorf("priority = %s, want %s", analysis.Priority, tc.priority)
			}
		})
	}
}

func TestHeuristicActionItems(t *testing.T) {
	text := "Hi there.\nPlease reply by Friday with your numbers.\n- book the meeting room\nThanks!"
	analysis, err := HeuristicAnalyzer{}.Analyze(context.Background(), text, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.ActionItems) != 2 {
		t.Fatalf("action items = %v, want 2", analysis.ActionItems)
	}
	if analysis.ActionItems[1] != "book the meeting room" {
		t.Fatalf("bullet item = %q", analysis.ActionItems[1])
	}
}

func TestHeuristicDeterministic(t *testing.T) {
	text := "Urgent: submit the overdue report, I am worried."
	first, _ := HeuristicAnalyzer{}.Analyze(context.Background(), text, nil)
	for i := 0; i < 3; i++ {
		again, _ := HeuristicAnalyzer{}.Analyze(context.Background(), text, nil)
		if again.StressLevel != first.StressLevel || again.Summary != first.Summary ||
			len(again.ActionItems) != len(first.ActionItems) {
			t.Fatalf("run %d differed: %+v vs %+v", i, again, first)
		}
	}
}

func TestHeuristicSentiment(t *testing.T) {
	analysis, _ := HeuristicAnalyzer{}.Analyze(context.Background(),
		"Thanks so much, great work, really appreciate it!", nil)
	if analysis.SentimentScore <= 0 || analysis.EmotionalTone != "positive" {
		t.Fatalf("sentiment = %v tone = %s", analysis.SentimentScore, analysis.EmotionalTone)
	}
	analysis, _ = HeuristicAnalyzer{}.Analyze(context.Background(),
		"Sorry, there is a problem: the delivery failed and we missed the window.", nil)
	if analysis.SentimentScore >= 0 || analysis.EmotionalTone != "negative" {
		t.Fatalf("sentiment = %v tone = %s", analysis.SentimentScore, analysis.EmotionalTone)
	}
}

func TestParseAnalysisJSONNormalizesLevels(t *testing.T) {
	reply := "Here you go:\n" + `{"summary":"s","stress_level":"HIGH","priority":"Low","action_items":null,"sentiment_score":-0.5}` + "\ndone"
	analysis, err := parseAnalysisJSON(reply)
	if err != nil {
		t.Fatalf("parseAnalysisJSON: %v", err)
	}
	if analysis.StressLevel != model.LevelHigh || analysis.Priority != model.LevelLow {
		t.Fatalf("levels = %s/%s, want high/low", analysis.StressLevel, analysis.Priority)
	}
	if analysis.ActionItems == nil {
		t.Fatal("action items should be normalized to empty slice")
	}
}

func TestParseAnalysisJSONRejectsGarbage(t *testing.T) {
	if _, err := parseAnalysisJSON("no json here"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestDefaultAnalysis(t *testing.T) {
	d := DefaultAnalysis()
	if d.StressLevel != model.LevelMedium || d.Priority != model.LevelMedium {
		t.Fatalf("defaults = %s/%s, want medium/medium", d.StressLevel, d.Priority)
	}
	if d.ActionItems == nil || len(d.ActionItems) != 0 {
		t.Fatalf("action items = %v, want empty", d.ActionItems)
	}
}

func TestParseAnalysisJSONPreservesUnknownKeys(t *testing.T) {
	analysis, err := parseAnalysisJSON(`{
		"summary": "s",
		"stress_level": "high",
		"priority": "low",
		"deadline_hint": "friday",
		"custom_flag": true
	}`)
	if err != nil {
		t.Fatalf("parseAnalysisJSON: %v", err)
	}
	if got := analysis.Extra["deadline_hint"]; got != "friday" {
		t.Fatalf("deadline_hint = %v, want friday", got)
	}
	if flag, ok := analysis.Extra["custom_flag"].(bool); !ok || !flag {
		t.Fatalf("custom_flag = %v, want true", analysis.Extra["custom_flag"])
	}
	for _, key := range []string{"summary", "stress_level", "priority"} {
		if _, present := analysis.Extra[key]; present {
			t.Fatalf("schema key %q duplicated into Extra", key)
		}
	}
}

func TestParseAnalysisJSONNoExtrasLeavesMapNil(t *testing.T) {
	analysis, err := parseAnalysisJSON(`{"summary":"s","stress_level":"low","priority":"low"}`)
	if err != nil {
		t.Fatalf("parseAnalysisJSON: %v", err)
	}
	if analysis.Extra != nil {
		t.Fatalf("Extra = %v, want nil", analysis.Extra)
	}
}
