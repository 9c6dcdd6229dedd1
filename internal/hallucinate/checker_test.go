package hallucinate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-mcp/lodestone/internal/embed"
	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/internal/graph"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore"
	"github.com/lodestone-mcp/lodestone/internal/vectorstore/storetest"
)

// fakeGraph serves a fixed ApiClient class.
type fakeGraph struct {
	lookups int
}

func (f *fakeGraph) HasModule(_ context.Context, module string) (bool, error) {
	f.lookups++
	return module == "mypkg.client" || module == "mypkg" || module == "agents", nil
}

func (f *fakeGraph) FindClass(_ context.Context, name string) (*graph.ClassRecord, error) {
	f.lookups++
	if name == "ApiClient" || name == "mypkg.client.ApiClient" {
		return &graph.ClassRecord{
			FullName: "mypkg.client.ApiClient",
			Methods:  []string{"__init__", "fetch_data", "close"},
		}, nil
	}
	if name == "Agent" || name == "agents.Agent" {
		return &graph.ClassRecord{
			FullName: "agents.Agent",
			Methods:  []string{"run", "run_sync"},
		}, nil
	}
	return nil, nil
}

func (f *fakeGraph) FindMethod(_ context.Context, className, methodName string) (*graph.MethodRecord, error) {
	f.lookups++
	if className != "" && className != "ApiClient" && className != "mypkg.client.ApiClient" {
		return nil, nil
	}
	switch methodName {
	case "__init__":
		return &graph.MethodRecord{ClassFullName: "mypkg.client.ApiClient", Name: "__init__", Params: []string{"token", "timeout"}}, nil
	case "fetch_data":
		return &graph.MethodRecord{ClassFullName: "mypkg.client.ApiClient", Name: "fetch_data", Params: []string{"resource"}}, nil
	case "close":
		return &graph.MethodRecord{ClassFullName: "mypkg.client.ApiClient", Name: "close"}, nil
	}
	return nil, nil
}

func (f *fakeGraph) FindFunction(_ context.Context, name string) (*graph.FunctionRecord, error) {
	f.lookups++
	if name == "helper_function" {
		return &graph.FunctionRecord{FullName: "mypkg.util.helper_function", Params: []string{"value"}}, nil
	}
	return nil, nil
}

func (f *fakeGraph) HasAttribute(_ context.Context, className, attrName string) (bool, error) {
	f.lookups++
	return attrName == "base_url", nil
}

func (f *fakeGraph) MethodOwners(_ context.Context, methodName string) ([]string, error) {
	f.lookups++
	if methodName == "fetch_data" {
		return []string{"mypkg.client.ApiClient"}, nil
	}
	return nil, nil
}

func (f *fakeGraph) ClassMemberNames(_ context.Context, className string) ([]string, error) {
	f.lookups++
	if className == "ApiClient" || className == "mypkg.client.ApiClient" {
		return []string{"fetch_data", "close", "base_url"}, nil
	}
	if className == "Agent" || className == "agents.Agent" {
		return []string{"run", "run_sync"}, nil
	}
	return nil, nil
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestChecker(t *testing.T, g GraphLookup) *Checker {
	t.Helper()
	embedder, err := embed.NewStaticEmbedder(64)
	require.NoError(t, err)

	store := storetest.NewFake()
	vec, err := embedder.Embed(context.Background(), "client.fetch_data(\"users\") fetches a resource")
	require.NoError(t, err)
	require.NoError(t, store.UpsertCodeExamples(context.Background(), []vectorstore.CodeExample{{
		URL:          "https://docs.example.com/api",
		ExampleIndex: 0,
		Code:         "client = ApiClient(token)\ndata = client.fetch_data(\"users\")",
		Summary:      "Fetching a resource with ApiClient",
		SourceID:     "docs.example.com",
		Embedding:    vec,
	}}))

	c := NewChecker(g, store, embedder, nil)
	t.Cleanup(c.Close)
	return c
}

const validScript = `from mypkg.client import ApiClient

client = ApiClient("token", 30)
data = client.fetch_data("users")
url = client.base_url
client.close()
`

const hallucinatedScript = `from mypkg.client import ApiClient

client = ApiClient("token", 30)
data = client.fetch_datas("users")
magic = client.magic_field
`

func TestCheckScriptValidUsage(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})

	// Fast mode: every symbol the graph fully confirms scores 1.0.
	report, err := c.CheckScript(context.Background(), writeScript(t, validScript), ModeFast)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Critical, "findings: %+v", report.Findings)
	assert.Equal(t, len(report.Findings), report.Validated)
	assert.Zero(t, report.Risk)
}

func TestCheckScriptBalancedNeverCritical(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})

	// With full structural confirmation, fused confidence stays at or
	// above the warning threshold whatever the semantic channel says.
	report, err := c.CheckScript(context.Background(), writeScript(t, validScript), ModeBalanced)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Critical, "findings: %+v", report.Findings)
	assert.LessOrEqual(t, report.Risk, 0.4)
}

func TestCheckScriptFlagsHallucinations(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})
	report, err := c.CheckScript(context.Background(), writeScript(t, hallucinatedScript), ModeFast)
	require.NoError(t, err)

	var flagged []Finding
	for _, f := range report.Findings {
		if f.Category != CategoryValidated {
			flagged = append(flagged, f)
		}
	}
	require.NotEmpty(t, flagged, "invented method and attribute must be flagged")

	var foundMethod bool
	for _, f := range flagged {
		if f.Name == "ApiClient.fetch_datas" {
			foundMethod = true
			assert.Contains(t, f.Suggestions, "ApiClient.fetch_data", "real member suggested for the typo")
		}
	}
	assert.True(t, foundMethod, "flagged: %+v", flagged)
	assert.Greater(t, report.Risk, 0.0)
}

func TestCheckScriptSuggestsNearestMembersForDistantName(t *testing.T) {
	script := `from agents import Agent

agent = Agent()
result = agent.run_with_custom_validation("payload")
`
	c := newTestChecker(t, &fakeGraph{})
	report, err := c.CheckScript(context.Background(), writeScript(t, script), ModeFast)
	require.NoError(t, err)

	var call *Finding
	for i, f := range report.Findings {
		if f.Name == "Agent.run_with_custom_validation" {
			call = &report.Findings[i]
		}
	}
	require.NotNil(t, call, "findings: %+v", report.Findings)
	assert.NotEqual(t, CategoryValidated, call.Category)

	// The invented name is far from every real member by edit distance;
	// the real members still come back as suggestions.
	assert.ElementsMatch(t, []string{"Agent.run", "Agent.run_sync"}, call.Suggestions)
}

func TestSuggestMembersIgnoresDistance(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})
	got := c.suggestMembers(context.Background(), "Agent", "run_with_custom_validation")
	assert.ElementsMatch(t, []string{"Agent.run", "Agent.run_sync"}, got)
}

func TestCheckScriptArgCountMismatch(t *testing.T) {
	script := `from mypkg.client import ApiClient

client = ApiClient("token", 30, "extra", "way-too-many")
`
	c := newTestChecker(t, &fakeGraph{})
	report, err := c.CheckScript(context.Background(), writeScript(t, script), ModeThorough)
	require.NoError(t, err)

	var construct *Finding
	for i, f := range report.Findings {
		if f.Kind == KindClassConstruct {
			construct = &report.Findings[i]
		}
	}
	require.NotNil(t, construct)
	assert.NotEqual(t, CategoryValidated, construct.Category, "4 args against a 2-param constructor")
	assert.Contains(t, construct.ActualSignature, "token, timeout")
}

func TestCheckScriptEmptySymbolUse(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})
	report, err := c.CheckScript(context.Background(), writeScript(t, "x = 1 + 2\n"), ModeBalanced)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
	assert.Zero(t, report.Risk)
}

func TestCheckScriptValidation(t *testing.T) {
	c := newTestChecker(t, &fakeGraph{})
	ctx := context.Background()

	_, err := c.CheckScript(ctx, "/does/not/exist.py", ModeBalanced)
	assert.True(t, lserrors.IsKind(err, lserrors.KindNotFound))

	_, err = c.CheckScript(ctx, writeScript(t, "x = 1\n")+".txt", ModeBalanced)
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))

	_, err = c.CheckScript(ctx, writeScript(t, validScript), Mode("turbo"))
	assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
}

func TestStructuralCheckCaching(t *testing.T) {
	g := &fakeGraph{}
	c := newTestChecker(t, g)
	ctx := context.Background()

	use := SymbolUse{Kind: KindMethodCall, Name: "ApiClient.fetch_data", Receiver: "ApiClient", Member: "fetch_data", ArgCount: 1}
	first := c.structuralCheck(ctx, use)
	lookupsAfterFirst := g.lookups
	second := c.structuralCheck(ctx, use)

	assert.Equal(t, first, second)
	assert.Equal(t, lookupsAfterFirst, g.lookups, "second check served from cache")
	assert.Equal(t, 1.0, first.score)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryValidated, classify(0.95))
	assert.Equal(t, CategoryValidated, classify(0.8))
	assert.Equal(t, CategoryWarning, classify(0.79))
	assert.Equal(t, CategoryWarning, classify(0.6))
	assert.Equal(t, CategoryCritical, classify(0.59))
	assert.Equal(t, CategoryCritical, classify(0))
}
