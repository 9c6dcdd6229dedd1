package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"repos", "repos", Command{Kind: CmdRepos}},
		{"repos padded", "  repos  ", Command{Kind: CmdRepos}},
		{"classes", "classes my-repo", Command{Kind: CmdClasses, Arg: "my-repo"}},
		{"class", "class HttpClient", Command{Kind: CmdClass, Arg: "HttpClient"}},
		{"class qualified", "class pkg.http.HttpClient", Command{Kind: CmdClass, Arg: "pkg.http.HttpClient"}},
		{"method dotted", "method HttpClient.request", Command{Kind: CmdMethod, Arg: "HttpClient", Method: "request"}},
		{"method qualified dotted", "method pkg.HttpClient.request", Command{Kind: CmdMethod, Arg: "pkg.HttpClient", Method: "request"}},
		{"method two args", "method HttpClient request", Command{Kind: CmdMethod, Arg: "HttpClient", Method: "request"}},
		{"cypher match", "MATCH (n:Class) RETURN n.name LIMIT 5", Command{Kind: CmdCypher, Arg: "MATCH (n:Class) RETURN n.name LIMIT 5"}},
		{"cypher lowercase", "match (n) return count(n)", Command{Kind: CmdCypher, Arg: "match (n) return count(n)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"repos extra",
		"classes",
		"class",
		"method",
		"method justonename",
		"method trailing.",
		"frobnicate everything",
	} {
		_, err := ParseCommand(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument), "input %q", in)
	}
}

func TestRejectWriteCypher(t *testing.T) {
	assert.NoError(t, rejectWriteCypher("MATCH (n) RETURN n LIMIT 1"))
	assert.NoError(t, rejectWriteCypher("MATCH (c:Class) WHERE c.name = 'Settings' RETURN c"))

	for _, cypher := range []string{
		"CREATE (n:Evil)",
		"MATCH (n) DELETE n",
		"MATCH (n) SET n.x = 1",
		"MERGE (n:Sneaky {id: 1})",
		"MATCH (n) REMOVE n.prop",
		"DROP CONSTRAINT whatever",
	} {
		err := rejectWriteCypher(cypher)
		require.Error(t, err, cypher)
		assert.True(t, lserrors.IsKind(err, lserrors.KindInvalidArgument))
	}
}

func TestAsStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, asStringSlice([]any{"a", "b"}))
	assert.Equal(t, []string{"a"}, asStringSlice([]any{"a", nil, ""}))
	assert.Nil(t, asStringSlice("not a slice"))
	assert.Empty(t, asStringSlice([]any{}))
}
