package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// DefaultAnthropicModel is used when LLM_MODEL is unset.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicSummarizer generates summaries through the Anthropic
// messages API.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  string
}

var _ Summarizer = (*AnthropicSummarizer)(nil)

// NewAnthropicSummarizer creates an Anthropic-backed summarizer.
func NewAnthropicSummarizer(apiKey, model string) (*AnthropicSummarizer, error) {
	if apiKey == "" {
		return nil, lserrors.InvalidArgument("ANTHROPIC_API_KEY is required for LLM_PROVIDER=anthropic")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicSummarizer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// ChunkContext returns a short string situating the chunk in its document.
func (s *AnthropicSummarizer) ChunkContext(ctx context.Context, fullDocument, chunk string) (string, error) {
	return s.complete(ctx, chunkContextSystem, chunkContextPrompt(fullDocument, chunk), 200)
}

// CodeSummary describes what a code example demonstrates.
func (s *AnthropicSummarizer) CodeSummary(ctx context.Context, code, surrounding string) (string, error) {
	return s.complete(ctx, codeSummarySystem, codeSummaryPrompt(code, surrounding), 300)
}

// SourceSummary summarizes a source from a sample of its content.
func (s *AnthropicSummarizer) SourceSummary(ctx context.Context, sourceID, content string) (string, error) {
	return s.complete(ctx, sourceSummarySystem, sourceSummaryPrompt(sourceID, content), 300)
}

// Name identifies the provider.
func (s *AnthropicSummarizer) Name() string {
	return "anthropic/" + s.model
}

func (s *AnthropicSummarizer) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", lserrors.Unavailable("anthropic completion failed", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", lserrors.Rejected("anthropic returned no text content", nil)
	}
	return strings.TrimSpace(out.String()), nil
}
