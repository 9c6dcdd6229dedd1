package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigCmd_PrintsYAML(t *testing.T) {
	cmd := newConfigCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Contains(t, parsed, "server")
	assert.Contains(t, parsed, "embeddings")
}

func TestConfigCmd_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-super-secret")
	t.Setenv("NEO4J_PASSWORD", "hunter2")

	cmd := newConfigCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.NotContains(t, output, "sk-super-secret")
	assert.NotContains(t, output, "hunter2")
	assert.Contains(t, output, "********")
}
