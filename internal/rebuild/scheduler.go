// Package rebuild runs index rebuilds in the background without blocking the
// requests that asked for them.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRebuildFailed is matched by the error Flush returns when the rebuild
// serving its requests failed.
var ErrRebuildFailed = errors.New("scheduled rebuild failed")

// Rebuilder is the target of scheduled rebuilds.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Scheduler coalesces rebuild requests. While a rebuild runs, any number of
// new requests collapse into one pending rebuild. A rate limiter spaces
// rebuilds at least MinInterval apart so that adds batch up between them.
type Scheduler struct {
	target  Rebuilder
	limiter *rate.Limiter
	logger  *zap.Logger
	pending chan struct{}

	mu        sync.Mutex
	requested uint64
	completed uint64 // highest generation served by a finished rebuild
	succeeded uint64 // highest generation served by a successful rebuild
	lastErr   error
	changed   chan struct{}
	runs      uint64
	failures  uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Rebuild failures are logged at error level.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMinInterval sets the minimum time between two rebuilds. Zero disables pacing.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// NewScheduler creates a scheduler for target. Call Run to start processing.
func NewScheduler(target Rebuilder, opts ...Option) *Scheduler {
	s := &Scheduler{
		target:  target,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
		pending: make(chan struct{}, 1),
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Request asks for a rebuild and returns immediately.
func (s *Scheduler) Request() {
	s.mu.Lock()
	s.requested++
	s.mu.Unlock()
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// Run processes requests until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.pending:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		s.mu.Lock()
		gen := s.requested
		s.mu.Unlock()

		start := time.Now()
		err := s.target.Rebuild(ctx)
		if err != nil {
			s.logger.Error("scheduled rebuild failed", zap.Error(err))
		} else {
			s.logger.Debug("scheduled rebuild done", zap.Duration("duration", time.Since(start)))
		}

		s.mu.Lock()
		s.runs++
		if err != nil {
			s.failures++
			s.lastErr = err
		} else if gen > s.succeeded {
			s.succeeded = gen
		}
		if gen > s.completed {
			s.completed = gen
		}
		close(s.changed)
		s.changed = make(chan struct{})
		s.mu.Unlock()
	}
}

// Flush blocks until every request made before the call has been served by
// a finished rebuild, or ctx is done. If no successful rebuild covers those
// requests it returns an error matching ErrRebuildFailed. Run must be active
// for Flush to return without ctx.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.requested
	for s.completed < target {
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			s.mu.Lock()
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.succeeded < target {
		return fmt.Errorf("%w: %w", ErrRebuildFailed, s.lastErr)
	}
	return nil
}

// Stats reports how many rebuilds ran and how many of them failed.
type Stats struct {
	Requested uint64 `json:"requested"`
	Runs      uint64 `json:"runs"`
	Failures  uint64 `json:"failures"`
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Requested: s.requested, Runs: s.runs, Failures: s.failures}
}
