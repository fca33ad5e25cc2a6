package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsSettingsFile(t *testing.T) {
	paths, err := NewAgentPaths(t.TempDir())
	require.NoError(t, err)

	settingsJSON := `{"apiKey":"key-1","apiUrl":"https://example.test","agentId":"agent-1","agentToken":"tok-1"}`
	require.NoError(t, os.WriteFile(paths.SettingsFile(), []byte(settingsJSON), 0o644))

	s, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, "key-1", s.APIKey)
	assert.Equal(t, "https://example.test", s.APIURL)
	assert.Equal(t, "agent-1", s.AgentID)
	assert.Equal(t, "tok-1", s.AgentToken)
}

func TestLoadDefaultsAPIURLWhenUnset(t *testing.T) {
	paths, err := NewAgentPaths(t.TempDir())
	require.NoError(t, err)

	s, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, "https://app.datatorch.io", s.APIURL)
}

func TestEnvVarsOverrideSettingsFile(t *testing.T) {
	paths, err := NewAgentPaths(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(paths.SettingsFile(), []byte(`{"apiKey":"from-file"}`), 0o644))
	t.Setenv("DATATORCH_API_KEY", "from-env")

	s, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.APIKey)
}

func TestAgentPathsCreatesExpectedDirectories(t *testing.T) {
	root := t.TempDir()
	paths, err := NewAgentPaths(root)
	require.NoError(t, err)

	assert.DirExists(t, paths.RunsDir())
	assert.DirExists(t, paths.ActionsDir())
	assert.DirExists(t, paths.ArtifactsDir())
	assert.Equal(t, filepath.Join(root, "agent", "runs", "job-1"), paths.RunDir("job-1"))
	assert.DirExists(t, paths.RunDir("job-1"))
}
