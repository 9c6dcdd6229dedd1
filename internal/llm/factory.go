package llm

import (
	"strings"

	"github.com/lodestone-mcp/lodestone/internal/config"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// New builds the configured summarizer. Provider "none" yields the
// heuristic summarizer.
func New(cfg *config.Config) (Summarizer, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		return NewOpenAISummarizer(cfg.LLM.OpenAIKey, cfg.LLM.Model)
	case "anthropic":
		return NewAnthropicSummarizer(cfg.LLM.AnthropicKey, cfg.LLM.Model)
	case "none":
		return NewHeuristicSummarizer(), nil
	default:
		return nil, lserrors.InvalidArgumentf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}
