// Package runner executes an action's body — subprocess, shell script,
// interpreter-hosted script, or container — and parses its stdout for the
// structured output sentinel and plain log lines.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/datatorch/agent/internal/template"
	"github.com/datatorch/agent/internal/variables"
)

// ProcessFailure wraps a runner's non-zero exit status.
type ProcessFailure struct {
	Using    string
	ExitCode int
}

func (e *ProcessFailure) Error() string {
	return fmt.Sprintf("%s runner: process exited with code %d", e.Using, e.ExitCode)
}

// ConfigError signals a malformed runs section for the selected kind.
type ConfigError struct {
	Using  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s runner: %s", e.Using, e.Reason)
}

// LogSink receives one line of a runner's merged stdout/stderr.
type LogSink func(line string)

// Runner executes one action body and returns its declared outputs.
type Runner interface {
	Run(ctx context.Context, vars *variables.Store) (map[string]any, error)
}

// New constructs the Runner registered for config["using"], mirroring the
// source's RunnerFactory._use_map. actionDir is the local clone directory
// the runner resolves relative paths (script, main) against.
func New(config map[string]any, actionDir string, logSink LogSink) (Runner, error) {
	using, _ := config["using"].(string)
	base := base{config: config, actionDir: actionDir, logSink: logSink, using: using}

	switch using {
	case "cmd", "commandline":
		return &cmdRunner{base: base}, nil
	case "shell", "script":
		return &shellRunner{base: base}, nil
	case "python":
		return &interpreterRunner{base: base, interpreter: pythonInterpreter()}, nil
	case "node":
		return &interpreterRunner{base: base, interpreter: "node"}, nil
	case "docker":
		return &dockerRunner{base: base}, nil
	case "":
		return nil, &ConfigError{Using: using, Reason: "action 'using' property not specified"}
	default:
		return nil, &ConfigError{Using: using, Reason: "the 'using' type entered is invalid"}
	}
}

func pythonInterpreter() string {
	if p := os.Getenv("DATATORCH_PYTHON"); p != "" {
		return p
	}
	return "python3"
}

type base struct {
	config    map[string]any
	actionDir string
	logSink   LogSink
	using     string
}

// render reads a string field from config, rendered against vars, the
// way the source's Runner.get() does.
func (b *base) render(key string, vars *variables.Store) string {
	v, _ := b.config[key].(string)
	return template.Render(v, vars)
}

// monitor runs command through the host shell in b.actionDir, forwarding
// merged stdout/stderr to the log sink and collecting sentinel outputs.
// When ctx is canceled the child receives os.Interrupt; if it has not
// exited within WaitDelay (5s) it is killed, and Wait stops waiting on
// its output after that same delay. The line scanner is then drained to
// EOF before outputs are returned, so no output is lost on a clean exit.
func (b *base) monitor(ctx context.Context, command string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = b.actionDir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	outputs := map[string]any{}
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if key, value, ok := parseSentinel(line); ok {
				outputs[key] = value
			}
			if b.logSink != nil {
				b.logSink(line)
			}
		}
		done <- scanner.Err()
	}()

	runErr := cmd.Start()
	if runErr == nil {
		runErr = cmd.Wait()
	}
	_ = pw.Close()
	<-done

	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			return outputs, &ProcessFailure{Using: b.using, ExitCode: ee.ExitCode()}
		}
		return outputs, fmt.Errorf("%s runner: %w", b.using, runErr)
	}
	return outputs, nil
}

type cmdRunner struct{ base }

func (r *cmdRunner) Run(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	command := r.render("command", vars)
	if command == "" {
		return nil, &ConfigError{Using: r.using, Reason: "'command' was not provided"}
	}
	return r.monitor(ctx, command)
}

type shellRunner struct{ base }

func (r *shellRunner) Run(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	script := r.render("script", vars)
	if script == "" {
		return nil, &ConfigError{Using: r.using, Reason: "a script was not provided"}
	}
	scriptPath := filepath.Join(r.actionDir, strings.Trim(script, "/"))
	if _, err := r.monitor(ctx, fmt.Sprintf("chmod +x %q", scriptPath)); err != nil {
		return nil, err
	}
	return r.monitor(ctx, scriptPath)
}

type interpreterRunner struct {
	base
	interpreter string
}

func (r *interpreterRunner) Run(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	main := r.render("main", vars)
	if main == "" {
		return nil, &ConfigError{Using: r.using, Reason: "a main path was not provided"}
	}
	mainPath := filepath.Join(r.actionDir, strings.Trim(main, "/"))
	jsonInput, err := jsonInputs(vars)
	if err != nil {
		return nil, fmt.Errorf("%s runner: encode inputs: %w", r.using, err)
	}
	command := fmt.Sprintf("%s %s '%s'", r.interpreter, mainPath, jsonInput)
	return r.monitor(ctx, command)
}

// jsonInputs serializes the current input scope as a single-quoted JSON
// argv element; embedded single quotes are escaped as the source's
// shell-escape pattern does, which this format must preserve for
// compatibility with existing interpreter-hosted actions.
func jsonInputs(vars *variables.Store) (string, error) {
	data, err := json.Marshal(vars.Inputs())
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "'", `\"`), nil
}
