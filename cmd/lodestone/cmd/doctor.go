package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestone-mcp/lodestone/internal/config"
	"github.com/lodestone-mcp/lodestone/internal/embed"
	"github.com/lodestone-mcp/lodestone/internal/graph"
	"github.com/lodestone-mcp/lodestone/internal/retrieve"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
	"github.com/lodestone-mcp/lodestone/internal/websearch"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check backend connectivity and diagnose issues",
		Long: `Probe every configured backend and report its status.

Checks:
  - Vector store (Qdrant or pgvector)
  - Embedding provider
  - Reranker service (when USE_RERANKING is set)
  - Redis query cache (when REDIS_URL is set)
  - Neo4j knowledge graph (when USE_KNOWLEDGE_GRAPH is set)
  - SearXNG metasearch (when SEARXNG_URL is set)

The vector store and the embedding provider are required; the rest
degrade gracefully, so their failures are warnings.`,
		Example: `  # Human-readable report
  lodestone doctor

  # JSON for scripting
  lodestone doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// Check statuses. Skipped means the backend is not configured.
const (
	checkPass = "pass"
	checkWarn = "warn"
	checkFail = "fail"
	checkSkip = "skipped"
)

// CheckResult is one backend probe outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
}

// DoctorReport is the full diagnostic output.
type DoctorReport struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	report := DoctorReport{Status: "ok"}
	for _, check := range []CheckResult{
		checkVectorStore(probeCtx, cfg),
		checkEmbeddings(probeCtx, cfg),
		checkReranker(probeCtx, cfg),
		checkRedis(cfg),
		checkGraph(probeCtx, cfg),
		checkSearxng(probeCtx, cfg),
		checkServer(probeCtx, cfg),
	} {
		report.Checks = append(report.Checks, check)
		if check.Status == checkFail && check.Required {
			report.Status = "fail"
		} else if check.Status != checkPass && check.Status != checkSkip && report.Status == "ok" {
			report.Status = "degraded"
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(cmd, report)
	}

	if report.Status == "fail" {
		return fmt.Errorf("backend check failed")
	}
	return nil
}

func printReport(cmd *cobra.Command, report DoctorReport) {
	marks := map[string]string{
		checkPass: "✓",
		checkWarn: "!",
		checkFail: "✗",
		checkSkip: "-",
	}
	for _, check := range report.Checks {
		cmd.Printf("%s %-16s %s\n", marks[check.Status], check.Name, check.Message)
	}
	cmd.Printf("\nOverall: %s\n", report.Status)
}

func checkVectorStore(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "vector store", Required: true}

	store, err := vectorstore.New(ctx, cfg)
	if err != nil {
		result.Status = checkFail
		result.Message = err.Error()
		return result
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		result.Status = checkFail
		result.Message = fmt.Sprintf("%s unreachable: %v", cfg.VectorDB.Backend, err)
		return result
	}
	result.Status = checkPass
	result.Message = cfg.VectorDB.Backend + " reachable"
	return result
}

func checkEmbeddings(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "embeddings", Required: true}

	embedder, err := embed.New(cfg)
	if err != nil {
		result.Status = checkFail
		result.Message = err.Error()
		return result
	}
	defer embedder.Close()

	if !embedder.Available(ctx) {
		result.Status = checkFail
		result.Message = fmt.Sprintf("provider %s (%s) not responding", cfg.Embeddings.Provider, embedder.ModelName())
		return result
	}
	result.Status = checkPass
	result.Message = fmt.Sprintf("%s, %d dimensions", embedder.ModelName(), embedder.Dimensions())
	return result
}

func checkReranker(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "reranker"}
	if !cfg.Flags.Reranking || cfg.Retrieval.RerankerURL == "" {
		result.Status = checkSkip
		result.Message = "not configured"
		return result
	}

	reranker := retrieve.NewHTTPReranker(cfg.Retrieval.RerankerURL, cfg.Crawl.RequestTimeout)
	if !reranker.Available(ctx) {
		result.Status = checkWarn
		result.Message = cfg.Retrieval.RerankerURL + " not responding; queries fall back to unreranked results"
		return result
	}
	result.Status = checkPass
	result.Message = cfg.Retrieval.RerankerURL
	return result
}

func checkRedis(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "query cache"}
	if cfg.Retrieval.RedisURL == "" {
		result.Status = checkSkip
		result.Message = "not configured"
		return result
	}

	cache, err := retrieve.NewQueryCache(cfg.Retrieval.RedisURL)
	if err != nil {
		result.Status = checkWarn
		result.Message = fmt.Sprintf("redis unavailable: %v; queries run uncached", err)
		return result
	}
	defer cache.Close()
	result.Status = checkPass
	result.Message = "redis reachable"
	return result
}

func checkGraph(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "knowledge graph"}
	if !cfg.Flags.KnowledgeGraph {
		result.Status = checkSkip
		result.Message = "not configured"
		return result
	}

	store, err := graph.NewStore(ctx, cfg.Graph, slog.Default())
	if err != nil {
		result.Status = checkFail
		result.Message = err.Error()
		result.Required = true
		return result
	}
	defer store.Close(ctx)

	if err := store.Init(ctx); err != nil {
		result.Status = checkFail
		result.Message = fmt.Sprintf("neo4j unreachable: %v", err)
		result.Required = true
		return result
	}
	result.Status = checkPass
	result.Message = "neo4j reachable"
	return result
}

// checkServer probes a running http-transport server and summarizes its
// tool metrics. Stdio servers have no endpoint to probe.
func checkServer(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "mcp server"}
	if cfg.Server.IsStdio() {
		result.Status = checkSkip
		result.Message = "stdio transport has no health endpoint"
		return result
	}

	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/healthz", host, cfg.Server.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = checkWarn
		result.Message = err.Error()
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = checkWarn
		result.Message = "not running at " + url
		return result
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Metrics struct {
			TotalCalls  int64 `json:"total_calls"`
			TotalErrors int64 `json:"total_errors"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		result.Status = checkWarn
		result.Message = "unreadable health response: " + err.Error()
		return result
	}
	result.Status = checkPass
	result.Message = fmt.Sprintf("version %s, %d tool calls (%d errors)",
		health.Version, health.Metrics.TotalCalls, health.Metrics.TotalErrors)
	return result
}

func checkSearxng(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "metasearch"}

	client := websearch.NewClient(cfg.Search.SearxngURL, cfg.Crawl.UserAgent, cfg.Crawl.RequestTimeout)
	if !client.Configured() {
		result.Status = checkSkip
		result.Message = "not configured"
		return result
	}

	if _, err := client.Search(ctx, "connectivity probe", 1); err != nil {
		result.Status = checkWarn
		result.Message = fmt.Sprintf("%s not responding: %v", cfg.Search.SearxngURL, err)
		return result
	}
	result.Status = checkPass
	result.Message = cfg.Search.SearxngURL
	return result
}
