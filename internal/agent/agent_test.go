package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefinitionsMissingFile(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "adapters.yaml"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadDefinitionsParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adapters.yaml")
	content := `
adapters:
  - name: aider
    command: aider
    args: ["--session", "{{session_id}}"]
    env:
      AIDER_MODE: quiet
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "aider", defs[0].Name)
	assert.Equal(t, []string{"--session", "{{session_id}}"}, defs[0].Args)
	assert.Equal(t, "quiet", defs[0].Env["AIDER_MODE"])
}

func TestCustomAdapterSubstitutesSessionID(t *testing.T) {
	def := Definition{Name: "aider", Command: "aider", Args: []string{"--session", "{{session_id}}"}}
	a := NewCustom(def, "")
	args := a.Args("/tmp/work", "sess-123")
	assert.Equal(t, []string{"--session", "sess-123"}, args)
	assert.True(t, a.SupportsCallbacks())
}

func TestShellAdapterHasNoCallbacks(t *testing.T) {
	a := NewShell("")
	assert.False(t, a.SupportsCallbacks())
	assert.NotEmpty(t, a.Command())
}

func TestEnvMergesFileUnderOSThenOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env")
	require.NoError(t, os.WriteFile(envPath, []byte("FOO=from-file\nBAR=from-file\n"), 0o644))

	def := Definition{Name: "custom", Command: "true", Env: map[string]string{"BAR": "from-adapter"}}
	a := NewCustom(def, envPath)

	env, err := a.Env()
	require.NoError(t, err)

	m := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	assert.Equal(t, "from-file", m["FOO"])
	assert.Equal(t, "from-adapter", m["BAR"])
}

func TestCallbackScriptIsExecutable(t *testing.T) {
	dir := t.TempDir()
	path, err := CallbackScript(dir, "sess-1", 9999)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
}
