// Package supervisor owns the transport lifecycle: connect, hand the
// session to the dispatch loop, and on any transport error cancel every
// in-flight job and reconnect with exponential backoff. It is the
// process's lifecycle owner, reacting to SIGINT/SIGTERM for graceful
// shutdown.
package supervisor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datatorch/agent/internal/backoff"
	"github.com/datatorch/agent/internal/logger"
	"github.com/datatorch/agent/internal/transport"
)

// initialBackoff, backoffFactor, and maxBackoff reproduce the source's
// reconnect constants verbatim (backoff_wait=2, backoff_factor=1.5,
// backoff_max=900).
const (
	initialBackoff = 2 * time.Second
	backoffFactor  = 1.5
	maxBackoff     = 900 * time.Second
)

// State is the supervisor's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
)

// DispatchFunc runs the dispatch loop over one live session until the
// session errors or ctx is canceled. It must spawn each received job as
// an independent task and never block on job completion.
type DispatchFunc func(ctx context.Context, sess *transport.Transport) error

// Supervisor drives the connect/dispatch/reconnect state machine.
type Supervisor struct {
	apiURL     string
	agentToken string
	dispatch   DispatchFunc
	log        logger.Logger

	policy  *backoff.ExponentialBackoffPolicy
	retrier backoff.Retrier

	// dial is a seam over transport.Dial so tests can drive the state
	// machine without a live websocket endpoint.
	dial func(ctx context.Context, apiURL, agentToken string) (*transport.Transport, error)

	mu    chan struct{} // binary semaphore guarding state
	state State
}

// New builds a Supervisor that dials apiURL and runs dispatch over each
// session.
func New(apiURL, agentToken string, dispatch DispatchFunc, log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NopLogger()
	}
	policy := backoff.NewExponentialBackoffPolicy(initialBackoff)
	policy.BackoffFactor = backoffFactor
	policy.MaxInterval = maxBackoff

	return &Supervisor{
		apiURL:     apiURL,
		agentToken: agentToken,
		dispatch:   dispatch,
		log:        log,
		policy:     policy,
		retrier:    backoff.NewRetrier(policy),
		dial:       transport.Dial,
		mu:         make(chan struct{}, 1),
		state:      Disconnected,
	}
}

// Run drives the connect -> dispatch -> (on error) reconnect loop until
// ctx is canceled (e.g. by SIGINT/SIGTERM in the caller).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(Connecting)
		sess, err := s.dial(ctx, s.apiURL, s.agentToken)
		if err != nil {
			var fatal *transport.Fatal
			if errors.As(err, &fatal) {
				s.log.Errorf("fatal transport error, stopping: %v", err)
				return err
			}
			s.log.Warnf("connect failed: %v", err)
			if waitErr := s.retrier.Next(ctx, err); waitErr != nil {
				return nil
			}
			continue
		}

		s.setState(Connected)
		s.retrier.Reset()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.dispatch(gctx, sess) })

		runErr := g.Wait()

		s.setState(Draining)
		_ = sess.Close()

		if runErr == nil || ctx.Err() != nil {
			s.setState(Disconnected)
			return nil
		}

		s.log.Warnf("session ended, reconnecting: %v", runErr)
		if waitErr := s.retrier.Next(ctx, runErr); waitErr != nil {
			s.setState(Disconnected)
			return nil
		}
		s.setState(Disconnected)
	}
}

func (s *Supervisor) setState(state State) {
	s.mu <- struct{}{}
	s.state = state
	<-s.mu
}

// CurrentState returns the supervisor's current connection state.
func (s *Supervisor) CurrentState() State {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()
	return s.state
}
