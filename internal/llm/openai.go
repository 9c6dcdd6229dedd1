package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// DefaultOpenAIModel is used when LLM_MODEL is unset.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAISummarizer generates summaries through the OpenAI chat API.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

var _ Summarizer = (*OpenAISummarizer)(nil)

// NewOpenAISummarizer creates an OpenAI-backed summarizer.
func NewOpenAISummarizer(apiKey, model string) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, lserrors.InvalidArgument("OPENAI_API_KEY is required for LLM_PROVIDER=openai")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAISummarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// ChunkContext returns a short string situating the chunk in its document.
func (s *OpenAISummarizer) ChunkContext(ctx context.Context, fullDocument, chunk string) (string, error) {
	return s.complete(ctx, chunkContextSystem, chunkContextPrompt(fullDocument, chunk), 200)
}

// CodeSummary describes what a code example demonstrates.
func (s *OpenAISummarizer) CodeSummary(ctx context.Context, code, surrounding string) (string, error) {
	return s.complete(ctx, codeSummarySystem, codeSummaryPrompt(code, surrounding), 300)
}

// SourceSummary summarizes a source from a sample of its content.
func (s *OpenAISummarizer) SourceSummary(ctx context.Context, sourceID, content string) (string, error) {
	return s.complete(ctx, sourceSummarySystem, sourceSummaryPrompt(sourceID, content), 300)
}

// Name identifies the provider.
func (s *OpenAISummarizer) Name() string {
	return "openai/" + s.model
}

func (s *OpenAISummarizer) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", lserrors.Unavailable("openai completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", lserrors.Rejected("openai returned no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
