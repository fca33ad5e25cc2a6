// Package config resolves the agent's on-disk layout and connection
// settings, following the same viper-backed, XDG-aware loading
// convention the rest of the toolchain uses for its own admin config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const envPrefix = "DATATORCH"

// Settings holds the agent's control-plane identity, loaded from a
// settings file and overridable by environment variables.
type Settings struct {
	APIKey     string `mapstructure:"apiKey"`
	APIURL     string `mapstructure:"apiUrl"`
	AgentID    string `mapstructure:"agentId"`
	AgentToken string `mapstructure:"agentToken"`
}

// AgentPaths is the typed view over the agent's app-directory layout,
// mirroring the source's AgentDirectory: each accessor creates its
// directory on first use so callers never have to remember to MkdirAll.
type AgentPaths struct {
	root string
}

// NewAgentPaths resolves the root application directory. If root is
// empty, it defaults to the XDG data home joined with "datatorch".
func NewAgentPaths(root string) (*AgentPaths, error) {
	if root == "" {
		root = filepath.Join(xdg.DataHome, "datatorch")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create app dir %s: %w", root, err)
	}
	return &AgentPaths{root: root}, nil
}

func (p *AgentPaths) ensure(elem ...string) string {
	dir := filepath.Join(append([]string{p.root}, elem...)...)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// Root is the app's top-level directory, e.g. ~/.local/share/datatorch.
func (p *AgentPaths) Root() string { return p.root }

// SettingsFile is the per-agent settings.json path.
func (p *AgentPaths) SettingsFile() string {
	return filepath.Join(p.ensure("agent"), "settings.json")
}

// DBDir holds the agent's local state database.
func (p *AgentPaths) DBDir() string { return p.ensure("agent", "db") }

// LogsDir holds process-level log files.
func (p *AgentPaths) LogsDir() string { return p.ensure("agent", "logs") }

// TempDir holds scratch files for in-flight runner executions.
func (p *AgentPaths) TempDir() string { return p.ensure("agent", "temp") }

// RunsDir is the parent of every per-job run directory.
func (p *AgentPaths) RunsDir() string { return p.ensure("agent", "runs") }

// RunDir is the working/materialization directory for a single job run.
func (p *AgentPaths) RunDir(jobID string) string {
	return p.ensure("agent", "runs", jobID)
}

// ActionsDir is the parent of every fetched action's local clone.
func (p *AgentPaths) ActionsDir() string { return p.ensure("agent", "actions") }

// ActionDir is the local clone directory for a single name@version action.
func (p *AgentPaths) ActionDir(name, version string) string {
	return p.ensure("agent", "actions", name, version)
}

// ProjectsDir holds per-project scratch state.
func (p *AgentPaths) ProjectsDir() string { return p.ensure("agent", "projects") }

// ArtifactsDir is the root of the artifact engine's local storage.
func (p *AgentPaths) ArtifactsDir() string { return p.ensure("artifacts") }

// CommitDir is the local directory holding a commit's manifest and
// migration records before/during upload.
func (p *AgentPaths) CommitDir(commitID string) string {
	return p.ensure("artifacts", "commits", commitID)
}

// Load reads Settings from the given app directory's settings file,
// applying DATATORCH_-prefixed environment variable overrides.
func Load(paths *AgentPaths) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(paths.SettingsFile())
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if _, err := os.Stat(paths.SettingsFile()); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}

	bindEnv(v, "apiKey", "API_KEY")
	bindEnv(v, "apiUrl", "API_URL")
	bindEnv(v, "agentId", "AGENT_ID")
	bindEnv(v, "agentToken", "AGENT_TOKEN")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if s.APIURL == "" {
		s.APIURL = "https://app.datatorch.io"
	}
	return &s, nil
}

func bindEnv(v *viper.Viper, key, envSuffix string) {
	_ = v.BindEnv(key, fmt.Sprintf("%s_%s", envPrefix, envSuffix))
}

// AgentPathFromEnv resolves the app-directory root honoring
// DATATORCH_AGENT_PATH the way the source's AgentSettings does.
func AgentPathFromEnv() string {
	return os.Getenv(envPrefix + "_AGENT_PATH")
}
