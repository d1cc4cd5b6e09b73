package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quiethours/contextmem/src/model"
)

const claudeSystemPrompt = `You analyze messages for an email-management
assistant serving neurodivergent users. Reply with a single JSON object, no
prose, with keys: summary (string), stress_level (low|medium|high), priority
(low|medium|high), action_items (array of strings), sentiment_score (float in
[-1,1]), emotional_tone (string), explicit_expectations (array of strings),
implicit_expectations (array of strings).`

// ClaudeAnalyzer asks Anthropic's Messages API for structured labels. It
// reads ANTHROPIC_API_KEY from the env.
type ClaudeAnalyzer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

var _ Analyzer = (*ClaudeAnalyzer)(nil)

func NewClaudeAnalyzer(modelName string) *ClaudeAnalyzer {
	key := os.Getenv("ANTHROPIC_API_KEY")
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(key),
	)
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}
	return &ClaudeAnalyzer{
		client:    &cl,
		model:     modelName,
		maxTokens: 1024,
	}
}

func (c *ClaudeAnalyzer) Analyze(ctx context.Context, text string, hints map[string]any) (Analysis, error) {
	prompt := text
	if len(hints) > 0 {
		if encoded, err := json.Marshal(hints); err == nil {
			prompt = fmt.Sprintf("Context: %s\n\nMessage:\n%s", encoded, text)
		}
	}
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: claudeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: claude analyze: %v", model.ErrProvider, err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	analysis, err := parseAnalysisJSON(b.String())
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: claude analyze: %v", model.ErrProvider, err)
	}
	return analysis, nil
}

// analysisSchemaKeys are the keys the fixed Analysis fields already consume.
var analysisSchemaKeys = map[string]struct{}{
	"summary":               {},
	"stress_level":          {},
	"priority":              {},
	"action_items":          {},
	"sentiment_score":       {},
	"emotional_tone":        {},
	"explicit_expectations": {},
	"implicit_expectations": {},
}

// parseAnalysisJSON decodes the model's reply, tolerating text around the
// JSON object. Keys outside the fixed schema are kept in Extra rather than
// dropped.
func parseAnalysisJSON(reply string) (Analysis, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("no JSON object in reply %q", reply)
	}
	raw := []byte(reply[start : end+1])
	var analysis Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	for key, value := range fields {
		if _, known := analysisSchemaKeys[key]; known {
			continue
		}
		if analysis.Extra == nil {
			analysis.Extra = map[string]any{}
		}
		analysis.Extra[key] = value
	}
	analysis.Normalize()
	return analysis, nil
}
