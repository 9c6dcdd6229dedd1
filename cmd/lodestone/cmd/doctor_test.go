package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lodestone-mcp/lodestone/internal/config"
)

func TestCheckReranker_SkippedWhenUnconfigured(t *testing.T) {
	cfg := config.New()
	result := checkReranker(context.Background(), cfg)
	assert.Equal(t, checkSkip, result.Status)
}

func TestCheckReranker_WarnsWhenUnreachable(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	stub.Close() // probe hits a dead address

	cfg := config.New()
	cfg.Flags.Reranking = true
	cfg.Retrieval.RerankerURL = stub.URL

	result := checkReranker(context.Background(), cfg)
	assert.Equal(t, checkWarn, result.Status)
	assert.False(t, result.Required, "reranker failures degrade, not fail")
}

func TestCheckRedis_SkippedWhenUnconfigured(t *testing.T) {
	result := checkRedis(config.New())
	assert.Equal(t, checkSkip, result.Status)
}

func TestCheckGraph_SkippedWhenDisabled(t *testing.T) {
	result := checkGraph(context.Background(), config.New())
	assert.Equal(t, checkSkip, result.Status)
}

func TestCheckServer_SkippedOnStdio(t *testing.T) {
	result := checkServer(context.Background(), config.New())
	assert.Equal(t, checkSkip, result.Status)
}

func TestCheckSearxng_SkippedWhenUnconfigured(t *testing.T) {
	result := checkSearxng(context.Background(), config.New())
	assert.Equal(t, checkSkip, result.Status)
}

func TestCheckSearxng_PassWhenReachable(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"url":"https://example.test","title":"x"}]}`))
	}))
	defer stub.Close()

	cfg := config.New()
	cfg.Search.SearxngURL = stub.URL

	result := checkSearxng(context.Background(), cfg)
	assert.Equal(t, checkPass, result.Status)
}
