package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lodestone-mcp/lodestone/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration as YAML after applying defaults,
the LODESTONE_CONFIG file, .env, and the environment. Secrets are
redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			redact(cfg)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}
}

func redact(cfg *config.Config) {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cfg.VectorDB.QdrantAPIKey = mask(cfg.VectorDB.QdrantAPIKey)
	cfg.VectorDB.DatabaseURL = mask(cfg.VectorDB.DatabaseURL)
	cfg.Embeddings.APIKey = mask(cfg.Embeddings.APIKey)
	cfg.LLM.OpenAIKey = mask(cfg.LLM.OpenAIKey)
	cfg.LLM.AnthropicKey = mask(cfg.LLM.AnthropicKey)
	cfg.Graph.Password = mask(cfg.Graph.Password)
	cfg.Retrieval.RedisURL = mask(cfg.Retrieval.RedisURL)
}
