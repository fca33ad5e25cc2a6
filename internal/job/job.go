// Package job executes the ordered steps of one dispatched job, zipping
// server-assigned step IDs onto the pipeline's authoritative step list
// before running them strictly sequentially.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/datatorch/agent/internal/actionspec"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/step"
	"github.com/datatorch/agent/internal/variables"
)

// Status values a job can report.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// StepIdentificationError is raised when a config step cannot be matched
// to a server-assigned ID before any step runs.
type StepIdentificationError struct {
	StepName string
}

func (e *StepIdentificationError) Error() string {
	return fmt.Sprintf("could not identify server step id for step %q", e.StepName)
}

// Reporter is the control-plane surface a job needs.
type Reporter interface {
	UpdateJob(ctx context.Context, jobID, status string) error
}

// ConfigStep is one step entry from the pipeline's authoritative config
// (run.config.steps), before server IDs are zipped on.
type ConfigStep struct {
	Name   string
	Action json.RawMessage // string ("owner/name@version") or a mapping
	Inputs map[string]any
	Cache  *bool
}

// ServerStep is one step entry from the dispatch envelope's steps list.
type ServerStep struct {
	ID     string
	Name   string
	Index  int
	Action json.RawMessage
}

// Spec is the job spec received from dispatch: the run config's step
// list plus the server's step ID assignments, not yet zipped together.
type Spec struct {
	ID          string
	Name        string
	ConfigSteps []ConfigStep
	ServerSteps []ServerStep
}

// Job runs one dispatched job's steps sequentially.
type Job struct {
	spec     Spec
	reporter Reporter
	log      logger.Logger
	newStep  func(step.Config) *step.Step
}

// New builds a Job. newStep constructs a ready-to-run *step.Step for one
// zipped step config; the caller closes over the catalog/cache/reporter
// dependencies so this package stays decoupled from their construction.
func New(spec Spec, reporter Reporter, log logger.Logger, newStep func(step.Config) *step.Step) *Job {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Job{spec: spec, reporter: reporter, log: log.With("job", spec.ID), newStep: newStep}
}

// zipStepIDs assigns each config step the first not-yet-consumed server
// step with the same (name, action) pair, per spec.md §4.6.
func zipStepIDs(configSteps []ConfigStep, serverSteps []ServerStep) ([]step.Config, error) {
	consumed := make([]bool, len(serverSteps))
	zipped := make([]step.Config, len(configSteps))

	for i, cs := range configSteps {
		matched := false
		for j, ss := range serverSteps {
			if consumed[j] {
				continue
			}
			if ss.Name != cs.Name {
				continue
			}
			if !actionEqual(cs.Action, ss.Action) {
				continue
			}
			consumed[j] = true
			matched = true

			id, err := parseActionIdentifier(cs.Action)
			if err != nil {
				return nil, err
			}
			zipped[i] = step.Config{
				ID:        ss.ID,
				Name:      cs.Name,
				Action:    id,
				Inputs:    cs.Inputs,
				Cacheable: cs.Cache,
			}
			break
		}
		if !matched {
			return nil, &StepIdentificationError{StepName: cs.Name}
		}
	}
	return zipped, nil
}

// actionEqual compares two action references as raw JSON-equal when
// either side is structured (a mapping), and as string-equal otherwise.
func actionEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	aCanon, _ := json.Marshal(av)
	bCanon, _ := json.Marshal(bv)
	return string(aCanon) == string(bCanon)
}

func parseActionIdentifier(raw json.RawMessage) (actionspec.Identifier, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return actionspec.ParseShortForm(s)
	}
	var cfg actionspec.LongFormConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return actionspec.Identifier{}, fmt.Errorf("parse action identifier: %w", err)
	}
	return actionspec.ParseLongForm(cfg)
}

// writeJobManifest materializes the resolved job config as job.yaml in
// the job's run directory for post-mortem inspection, a supplemented
// feature from the source's Job.__init__.
func writeJobManifest(runDir string, spec Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal job manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, "job.yaml"), data, 0o644)
}

// Run zips step IDs, then executes steps strictly sequentially, stopping
// at the first failure.
func (j *Job) Run(ctx context.Context, vars *variables.Store, runDir string) error {
	zipped, err := zipStepIDs(j.spec.ConfigSteps, j.spec.ServerSteps)
	if err != nil {
		return err
	}

	if runDir != "" {
		if err := writeJobManifest(runDir, j.spec); err != nil {
			j.log.Warnf("write job manifest: %v", err)
		}
	}

	if err := j.reporter.UpdateJob(ctx, j.spec.ID, StatusRunning); err != nil {
		j.log.Warnf("report RUNNING: %v", err)
	}

	vars.Set(variables.SectionJob, map[string]any{"id": j.spec.ID, "name": j.spec.Name})

	allSucceeded := true
	for _, cfg := range zipped {
		s := j.newStep(cfg)
		if _, err := s.Run(ctx, vars); err != nil {
			j.log.Errorf("job %s step %q failed: %v", j.spec.ID, cfg.Name, err)
			allSucceeded = false
			break
		}
	}

	status := StatusSuccess
	if !allSucceeded {
		status = StatusFailed
	}
	if err := j.reporter.UpdateJob(ctx, j.spec.ID, status); err != nil {
		j.log.Warnf("report %s: %v", status, err)
	}
	if !allSucceeded {
		return fmt.Errorf("job %s failed", j.spec.ID)
	}
	return nil
}
