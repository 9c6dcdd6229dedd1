package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lodestone-mcp/lodestone/internal/config"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/pkg/version"
)

const serverName = "Lodestone"

// Server is the MCP server for Lodestone. It bridges AI clients with
// the ingestion pipeline, the RAG engine, and the knowledge graph.
type Server struct {
	app *AppContext
	srv *mcp.Server
	log *slog.Logger

	tools    []ToolInfo
	dispatch map[string]rawHandler
}

// rawHandler runs one tool from an untyped argument map. Always
// produces a result envelope, never an error.
type rawHandler func(ctx context.Context, args map[string]any) *mcp.CallToolResult

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer wires the MCP server over an initialized AppContext.
// Feature-gated tools are only registered when their flag is set.
func NewServer(app *AppContext) *Server {
	s := &Server{
		app:      app,
		log:      app.Log,
		dispatch: make(map[string]rawHandler),
	}
	s.srv = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// MCPServer exposes the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.srv }

// ListTools returns the registered tools in registration order.
func (s *Server) ListTools() []ToolInfo { return s.tools }

// registerTools declares the tool surface. Order here is the order
// clients see in tools/list.
func (s *Server) registerTools() {
	flags := s.app.Config.Flags

	// scrape_urls takes a raw argument map: its url field is a
	// string-or-array union the inferred schema cannot express.
	addTool(s, &mcp.Tool{
		Name:        "scrape_urls",
		Description: "Scrape one URL or a list of URLs, convert each page to markdown, and store chunked content for retrieval. Set return_raw_markdown to get the markdown back without storing.",
		InputSchema: scrapeInputSchema(),
	}, s.scrapeURLs)

	addTool(s, &mcp.Tool{
		Name:        "smart_crawl_url",
		Description: "Crawl a site starting from one URL. Sitemaps and llms.txt files fan out automatically; regular pages are followed recursively within the same site up to max_depth.",
	}, s.smartCrawl)

	addTool(s, &mcp.Tool{
		Name:        "get_available_sources",
		Description: "List every source host with stored content, including its summary and word count. Use this to find valid values for the source filter of the query tools.",
	}, s.availableSources)

	addTool(s, &mcp.Tool{
		Name:        "perform_rag_query",
		Description: "Semantic search over stored page content. Supports an optional source filter and returns ranked chunks with scores.",
	}, s.performRAGQuery)

	addTool(s, &mcp.Tool{
		Name:        "search",
		Description: "Web search via the configured metasearch backend, crawl the result pages, store them, and answer the query against the fresh content. Set return_raw_markdown to skip storage and retrieval.",
	}, s.webSearch)

	if flags.AgenticRAG {
		addTool(s, &mcp.Tool{
			Name:        "search_code_examples",
			Description: "Semantic search over extracted code examples and their summaries. Same shape as perform_rag_query.",
		}, s.searchCodeExamples)
	}

	if flags.KnowledgeGraph {
		addTool(s, &mcp.Tool{
			Name:        "parse_github_repository",
			Description: "Clone a repository, extract its Python class and function structure, and store it in the knowledge graph for hallucination checks.",
		}, s.parseRepository)

		addTool(s, &mcp.Tool{
			Name:        "check_ai_script_hallucinations",
			Description: "Validate a Python script against the knowledge graph and stored code examples. Reports per-symbol confidence, suspected hallucinations, and suggestions.",
		}, s.checkScript)

		addTool(s, &mcp.Tool{
			Name:        "query_knowledge_graph",
			Description: "Explore the knowledge graph: repos, classes <repo>, class <name>, method <class>.<method>, or a read-only Cypher query.",
		}, s.queryKnowledgeGraph)
	}

	s.log.Info("MCP tools registered", "count", len(s.tools))
}

// addTool registers one tool with the shared result envelope: handler
// failures and panics become {success:false,...} result content, never
// JSON-RPC errors; every call is recorded in the metrics ring.
func addTool[In any](s *Server, tool *mcp.Tool, fn func(context.Context, In) (any, error)) {
	s.tools = append(s.tools, ToolInfo{Name: tool.Name, Description: tool.Description})

	s.dispatch[tool.Name] = func(ctx context.Context, args map[string]any) *mcp.CallToolResult {
		return s.runTool(ctx, tool.Name, func(ctx context.Context) (any, error) {
			var in In
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		})
	}

	mcp.AddTool(s.srv, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		result := s.runTool(ctx, tool.Name, func(ctx context.Context) (any, error) {
			return fn(ctx, in)
		})
		return result, nil, nil
	})
}

// CallTool invokes a registered tool by name. Used by tests and the
// doctor probe; the transports go through the SDK handlers.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	handler, ok := s.dispatch[name]
	if !ok {
		return nil, lserrors.InvalidArgumentf("unknown tool %q", name)
	}
	return handler(ctx, args), nil
}

// runTool is the shared call envelope: panic recovery, metrics, and
// error-to-result conversion.
func (s *Server) runTool(ctx context.Context, name string, invoke func(context.Context) (any, error)) (result *mcp.CallToolResult) {
	start := time.Now()
	var callErr error
	defer func() {
		if r := recover(); r != nil {
			callErr = lserrors.Internal("tool handler panicked", fmt.Errorf("%v", r))
			result = s.failureResult(name, callErr)
		}
		s.app.Metrics.Record(name, time.Since(start), callErr)
		if callErr != nil {
			s.log.Error("tool call failed",
				"tool", name,
				"duration", time.Since(start),
				"error", callErr)
		} else {
			s.log.Info("tool call completed",
				"tool", name,
				"duration", time.Since(start))
		}
	}()

	payload, err := invoke(ctx)
	if err != nil {
		callErr = err
		return s.failureResult(name, err)
	}
	return s.jsonResult(name, payload)
}

// jsonResult renders a payload as the call's text content.
func (s *Server) jsonResult(tool string, payload any) *mcp.CallToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return s.failureResult(tool, lserrors.Internal("tool result is not representable as JSON", err))
	}
	return textResult(string(data))
}

// failureResult renders the structured failure envelope.
func (s *Server) failureResult(tool string, err error) *mcp.CallToolResult {
	body := failureBody(err)
	if body.CorrelationID != "" {
		s.log.Error("internal tool failure",
			"tool", tool,
			"correlation_id", body.CorrelationID,
			"error", err)
	}
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		data = []byte(`{"success":false,"error":"internal error","error_kind":"Internal"}`)
	}
	return textResult(string(data))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// scrapeInputSchema expresses the string-or-array url union.
func scrapeInputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"url": {
				Description: "single URL or array of URLs to scrape",
				AnyOf: []*jsonschema.Schema{
					{Type: "string"},
					{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				},
			},
			"return_raw_markdown": {Type: "boolean", Description: "return markdown instead of storing"},
			"max_concurrent":      {Type: "integer", Description: "parallel fetch cap"},
			"batch_size":          {Type: "integer", Description: "URLs processed per ingestion batch"},
		},
		Required: []string{"url"},
	}
}

// Serve runs the server on the configured transport until the context
// is canceled.
func (s *Server) Serve(ctx context.Context) error {
	cfg := s.app.Config.Server
	s.log.Info("starting MCP server",
		"transport", cfg.Transport,
		"addr", cfg.Addr(),
		"version", version.Version)

	switch cfg.Transport {
	case config.TransportStdio:
		err := s.srv.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	case config.TransportHTTP:
		return s.serveHTTP(ctx)
	default:
		return lserrors.InvalidArgumentf("unknown transport %q", cfg.Transport)
	}
}

// serveHTTP mounts the streamable MCP handler at /mcp behind request-ID
// and logging middleware.
func (s *Server) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.srv
	}, nil)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogging(s.log))
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.healthHandler)
	router.Mount("/mcp", handler)

	httpServer := &http.Server{
		Addr:         s.app.Config.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("MCP server stopped")
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// healthHandler reports liveness plus the in-process tool metrics.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": version.Version,
		"metrics": s.app.Metrics.Snapshot(),
	})
}

// requestLogging logs each HTTP request with its chi request ID.
func requestLogging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
