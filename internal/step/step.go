// Package step implements the per-step execution pipeline: render inputs,
// report RUNNING, resolve and run the action (consulting the cache),
// coerce and merge outputs, report the terminal state, and flush logs.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/datatorch/agent/internal/actionspec"
	"github.com/datatorch/agent/internal/cache"
	"github.com/datatorch/agent/internal/catalog"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/runner"
	"github.com/datatorch/agent/internal/template"
	"github.com/datatorch/agent/internal/variables"
)

// uploadLogsEvery mirrors the source's UPLOAD_LOGS_EVERY_SECONDS.
const uploadLogsEvery = 10 * time.Second

// Status values a step can report.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// LogLine is one accumulated log entry pending upload.
type LogLine struct {
	CreatedAt time.Time
	Message   string
}

// Reporter is the control-plane surface a step needs: state transitions
// and periodic log flushes. internal/client implements this over the
// REST control-plane client.
type Reporter interface {
	UpdateStep(ctx context.Context, stepID string, status string, inputs, outputs map[string]any) error
	UploadStepLogs(ctx context.Context, stepID string, logs []LogLine) error
}

// InputValidationError signals a missing required input or a failed
// type coercion.
type InputValidationError struct {
	Key    string
	Reason string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("input %q: %s", e.Key, e.Reason)
}

// Config is the one step's static definition from the pipeline config,
// already zipped with its server-assigned ID (internal/job does the
// zipping before building a Step).
type Config struct {
	ID        string
	Name      string
	Action    actionspec.Identifier
	Inputs    map[string]any
	Cacheable *bool // nil means "defer to the action manifest"
}

// Step runs one action invocation within a job.
type Step struct {
	cfg      Config
	reporter Reporter
	catalog  *catalog.Catalog
	cache    *cache.Cache
	log      logger.Logger

	logsMu sync.Mutex
	logs   []LogLine
}

// New builds a Step from its zipped config.
func New(cfg Config, reporter Reporter, cat *catalog.Catalog, c *cache.Cache, log logger.Logger) *Step {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Step{
		cfg:      cfg,
		reporter: reporter,
		catalog:  cat,
		cache:    c,
		log:      log.With("step", cfg.Name, "action", cfg.Action.FullName()),
	}
}

// appendLog records one log line, mirroring the source's Step.log: it is
// visible both through the process logger and through the next periodic
// flush to the control plane.
func (s *Step) appendLog(message string) {
	s.log.Info(message)
	s.logsMu.Lock()
	s.logs = append(s.logs, LogLine{CreatedAt: time.Now().UTC(), Message: message})
	s.logsMu.Unlock()
}

// flushLogs uploads and clears any accumulated log lines. A failed flush
// is logged and left for the next periodic tick or the final flush on
// terminal state — never silently dropped.
func (s *Step) flushLogs(ctx context.Context) {
	s.logsMu.Lock()
	pending := s.logs
	s.logs = nil
	s.logsMu.Unlock()

	if len(pending) == 0 {
		return
	}
	if err := s.reporter.UploadStepLogs(ctx, s.cfg.ID, pending); err != nil {
		s.log.Warnf("upload step logs: %v", err)
		s.logsMu.Lock()
		s.logs = append(pending, s.logs...)
		s.logsMu.Unlock()
	}
}

// backgroundUploader flushes accumulated logs every uploadLogsEvery until
// ctx is canceled, replacing the source's asyncio background task.
func (s *Step) backgroundUploader(ctx context.Context) {
	ticker := time.NewTicker(uploadLogsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flushLogs(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Run executes the step: render declared inputs into vars, resolve and
// run the action (through the cache), merge outputs back into vars for
// the next step, and report RUNNING/terminal state throughout.
func (s *Step) Run(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	uploaderCtx, stopUploader := context.WithCancel(ctx)
	defer stopUploader()
	go s.backgroundUploader(uploaderCtx)

	vars.Set(variables.SectionStep, map[string]any{"id": s.cfg.ID, "name": s.cfg.Name})
	for k, v := range s.cfg.Inputs {
		vars.AddOutput(k, template.RenderAny(v, vars))
	}

	if err := s.reporter.UpdateStep(ctx, s.cfg.ID, StatusRunning, vars.Inputs(), nil); err != nil {
		s.log.Warnf("report RUNNING: %v", err)
	}

	outputs, err := s.runAction(ctx, vars)

	stopUploader()
	if err != nil {
		s.appendLog(fmt.Sprintf("step failed: %v", err))
		s.flushLogs(ctx)
		if uerr := s.reporter.UpdateStep(ctx, s.cfg.ID, StatusFailed, nil, nil); uerr != nil {
			s.log.Warnf("report FAILED: %v", uerr)
		}
		return nil, err
	}

	for k, v := range outputs {
		vars.AddOutput(k, v)
	}

	if err := s.reporter.UpdateStep(ctx, s.cfg.ID, StatusSuccess, nil, outputs); err != nil {
		s.log.Warnf("report SUCCESS: %v", err)
	}
	s.flushLogs(ctx)
	return outputs, nil
}

func (s *Step) runAction(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	dir, err := s.catalog.Resolve(ctx, s.cfg.Action)
	if err != nil {
		return nil, err
	}

	manifest, err := loadManifest(dir, s.cfg.Action.File)
	if err != nil {
		return nil, err
	}

	if err := s.applyInputDefaultsAndCoercion(vars, manifest); err != nil {
		return nil, err
	}

	cacheEnabled := manifest.Cache
	if s.cfg.Cacheable != nil {
		cacheEnabled = *s.cfg.Cacheable
	}

	var key string
	if cacheEnabled {
		declared := make([]string, 0, len(manifest.Inputs))
		for k := range manifest.Inputs {
			declared = append(declared, k)
		}
		key, err = cache.Key(s.cfg.Action.Git, s.cfg.Action.Version, declared, vars.Inputs())
		if err != nil {
			return nil, err
		}
		if cached, ok := s.cache.Get(key); ok {
			s.appendLog("Results found in cache.")
			return cached, nil
		}
	}

	r, err := runner.New(manifest.Runs, dir, s.appendLog)
	if err != nil {
		return nil, err
	}

	outputs, err := r.Run(ctx, vars)
	if err != nil {
		return nil, err
	}
	if outputs == nil {
		outputs = map[string]any{}
	}

	if cacheEnabled {
		s.cache.Set(key, outputs)
	}
	return outputs, nil
}

// applyInputDefaultsAndCoercion mirrors Action.run's input validation
// loop: fill declared defaults, fail on missing required inputs, and
// coerce present values to their declared type.
func (s *Step) applyInputDefaultsAndCoercion(vars *variables.Store, manifest *actionspec.Manifest) error {
	for key, spec := range manifest.Inputs {
		current, ok := vars.Get(variables.SectionInput, key)
		if !ok || current == nil {
			if spec.Default != nil {
				vars.AddOutput(key, spec.Default)
				current = spec.Default
			}
		}

		if current == nil {
			if spec.Required {
				return &InputValidationError{Key: key, Reason: "required input is missing"}
			}
			continue
		}

		coerced, err := coerce(spec.Type, current)
		if err != nil {
			return &InputValidationError{Key: key, Reason: err.Error()}
		}
		vars.AddOutput(key, coerced)
	}
	return nil
}

func coerce(kind string, v any) (any, error) {
	switch kind {
	case "":
		return v, nil
	case "float":
		switch t := v.(type) {
		case float64:
			return t, nil
		case string:
			f, err := strconv.ParseFloat(t, 64)
			return f, err
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", v)
		}
	case "integer":
		switch t := v.(type) {
		case float64:
			return int(t), nil
		case string:
			i, err := strconv.Atoi(t)
			return i, err
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", v)
		}
	case "string":
		return fmt.Sprintf("%v", v), nil
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return t != "", nil
		default:
			return t != nil, nil
		}
	case "array", "list":
		if s, ok := v.(string); ok {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return nil, fmt.Errorf("parse array input: %w", err)
			}
			return arr, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

func loadManifest(dir, file string) (*actionspec.Manifest, error) {
	if file == "" {
		file = actionspec.DefaultManifestFile
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("load action manifest: %w", err)
	}
	return actionspec.Parse(data)
}
