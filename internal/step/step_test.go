package step

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatorch/agent/internal/actionspec"
	"github.com/datatorch/agent/internal/cache"
	"github.com/datatorch/agent/internal/catalog"
	"github.com/datatorch/agent/internal/config"
	"github.com/datatorch/agent/internal/variables"
)

// fakeReporter records every call a Step makes to its control-plane
// surface, so tests can assert on the reported sequence of states.
type fakeReporter struct {
	mu       sync.Mutex
	statuses []string
	outputs  map[string]any
}

func (f *fakeReporter) UpdateStep(ctx context.Context, stepID, status string, inputs, outputs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	if outputs != nil {
		f.outputs = outputs
	}
	return nil
}

func (f *fakeReporter) UploadStepLogs(ctx context.Context, stepID string, logs []LogLine) error {
	return nil
}

// newFixture pre-populates an action's local catalog directory (so
// Resolve never needs to clone) with the given manifest YAML and returns
// a Catalog rooted there plus the pinned Identifier to use in a Config.
func newFixture(t *testing.T, name, manifestYAML string) (*catalog.Catalog, actionspec.Identifier) {
	t.Helper()
	paths, err := config.NewAgentPaths(t.TempDir())
	require.NoError(t, err)

	dir := paths.ActionDir(name, "v1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, actionspec.DefaultManifestFile), []byte(manifestYAML), 0o644))

	cat := catalog.New(paths, nil)
	id := actionspec.Identifier{Name: name, Version: "v1", Git: "https://example.invalid/" + name + ".git", File: ""}
	return cat, id
}

func TestEchoActionSucceedsWithParsedOutput(t *testing.T) {
	manifest := `
name: echo-action
inputs: {}
outputs:
  msg: {}
runs:
  using: cmd
  command: "echo '::msg::\"hi\"'"
cache: false
`
	cat, id := newFixture(t, "echo-action", manifest)
	reporter := &fakeReporter{}

	cfg := Config{ID: "step-1", Name: "echo", Action: id}
	s := New(cfg, reporter, cat, cache.New(), nil)

	outputs, err := s.Run(context.Background(), variables.New())
	require.NoError(t, err)
	assert.Equal(t, "hi", outputs["msg"])

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	assert.Equal(t, []string{StatusRunning, StatusSuccess}, reporter.statuses)
}

func TestMissingRequiredInputFailsStepWithoutRunningAction(t *testing.T) {
	manifest := `
name: needs-x
inputs:
  x:
    type: string
    required: true
runs:
  using: cmd
  command: "touch ran.marker"
cache: false
`
	cat, id := newFixture(t, "needs-x", manifest)
	reporter := &fakeReporter{}

	cfg := Config{ID: "step-2", Name: "needs-x-step", Action: id}
	s := New(cfg, reporter, cat, cache.New(), nil)

	_, err := s.Run(context.Background(), variables.New())
	require.Error(t, err)

	var inputErr *InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "x", inputErr.Key)

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	assert.Equal(t, []string{StatusRunning, StatusFailed}, reporter.statuses)
}

func TestCacheHitSkipsSecondRunnerInvocation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran.count")

	manifest := `
name: counts-runs
inputs: {}
outputs:
  n: {}
runs:
  using: cmd
  command: "echo x >> ` + marker + ` && echo '::n::1'"
cache: true
`
	cat, id := newFixture(t, "counts-runs", manifest)
	c := cache.New()

	run := func() map[string]any {
		reporter := &fakeReporter{}
		cfg := Config{ID: "step-3", Name: "counts-runs-step", Action: id}
		s := New(cfg, reporter, cat, c, nil)
		outputs, err := s.Run(context.Background(), variables.New())
		require.NoError(t, err)
		return outputs
	}

	first := run()
	assert.Equal(t, float64(1), first["n"])

	second := run()
	assert.Equal(t, float64(1), second["n"])

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data), "the runner must execute exactly once across both calls")
}

func TestCoerceFloatIntegerBooleanArray(t *testing.T) {
	f, err := coerce("float", "3")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	i, err := coerce("integer", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, i)

	b, err := coerce("boolean", "non-empty")
	require.NoError(t, err)
	assert.Equal(t, true, b)

	arr, err := coerce("array", "[1,2]")
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, arr)
}
