// Package dispatch maintains the active-job set and spawns one
// independent concurrent task per job envelope received from the
// transport, never blocking on job completion.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/datatorch/agent/internal/job"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/transport"
)

// dispatchEnvelope is the "job" envelope's payload shape from spec.md §6.
type dispatchEnvelope struct {
	Job struct {
		ID  string `json:"id"`
		Name string `json:"name"`
		Run struct {
			ID     string          `json:"id"`
			Name   string          `json:"name"`
			Config json.RawMessage `json:"config"`
		} `json:"run"`
		Steps []job.ServerStep `json:"steps"`
	} `json:"job"`
}

type pipelineConfig struct {
	Steps []job.ConfigStep `json:"steps"`
}

// JobRunner builds and runs a job.Job for one zipped spec, with its own
// fresh variables store and run directory.
type JobRunner func(ctx context.Context, spec job.Spec) error

// Loop owns the set of currently active jobs and dispatches new ones as
// they arrive on the transport.
type Loop struct {
	runJob JobRunner
	log    logger.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New builds a Loop. runJob is invoked once per received job envelope.
func New(runJob JobRunner, log logger.Logger) *Loop {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Loop{runJob: runJob, log: log, active: map[string]context.CancelFunc{}}
}

// Run reads envelopes from sess until it errors or ctx is canceled,
// spawning one goroutine per job and tracking it in the active-job set.
// When Recv fails (including after ctx cancellation from the supervisor)
// every in-flight job is canceled, and Run waits for them to return.
func (l *Loop) Run(ctx context.Context, sess *transport.Transport) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		env, err := sess.Recv(ctx)
		if err != nil {
			l.cancelAll()
			return err
		}
		if env.Type != "job" {
			continue
		}

		spec, err := parseEnvelope(env.Payload)
		if err != nil {
			l.log.Errorf("dispatch: invalid job envelope: %v", err)
			continue
		}

		jobCtx, cancel := context.WithCancel(ctx)
		l.track(spec.ID, cancel)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.untrack(spec.ID)
			defer cancel()
			if err := l.runJob(jobCtx, spec); err != nil {
				l.log.Errorf("job %s finished with error: %v", spec.ID, err)
			}
		}()
	}
}

func parseEnvelope(payload json.RawMessage) (job.Spec, error) {
	var env dispatchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return job.Spec{}, fmt.Errorf("decode dispatch envelope: %w", err)
	}

	var cfg pipelineConfig
	if err := json.Unmarshal(env.Job.Run.Config, &cfg); err != nil {
		return job.Spec{}, fmt.Errorf("decode run config: %w", err)
	}

	return job.Spec{
		ID:          env.Job.ID,
		Name:        env.Job.Name,
		ConfigSteps: cfg.Steps,
		ServerSteps: env.Job.Steps,
	}, nil
}

func (l *Loop) track(jobID string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[jobID] = cancel
}

func (l *Loop) untrack(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, jobID)
}

// cancelAll cancels every currently active job, on disconnect or
// shutdown.
func (l *Loop) cancelAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Infof("exiting %d active jobs", len(l.active))
	for _, cancel := range l.active {
		cancel()
	}
}

// NewRunID generates a fresh run identifier for jobs dispatched without
// a server-assigned ID (e.g. local/CLI-triggered pipeline runs).
func NewRunID() string {
	return uuid.NewString()
}
