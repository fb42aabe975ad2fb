package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"session-registry/internal/shared/clock"
	"session-registry/internal/shared/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper states.
const (
	sweepIdle int32 = iota
	sweepRunning
)

// Sweeper purges expired records on a cron schedule. At most one sweep runs at
// a time; overlapping requests are dropped.
type Sweeper struct {
	store    SessionStoreInterface
	clock    clock.Clock
	logger   logger.Logger
	schedule string

	state atomic.Int32

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper for store. schedule uses cron syntax with a
// leading seconds field.
func NewSweeper(store SessionStoreInterface, clk clock.Clock, log logger.Logger, schedule string) *Sweeper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{
		store:    store,
		clock:    clk,
		logger:   log.WithComponent("session-sweeper"),
		schedule: schedule,
	}
}

// Sweep runs one purge and returns the number of cache records removed.
// It returns ErrSweepInProgress when another sweep holds the guard.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.state.CompareAndSwap(sweepIdle, sweepRunning) {
		s.logger.Debug("Sweep skipped, previous sweep still running")
		return 0, ErrSweepInProgress
	}
	defer s.state.Store(sweepIdle)

	removed, err := s.store.PurgeExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Errorf("Session sweep failed, retrying on next tick: %v", err)
		return 0, err
	}

	if removed > 0 {
		s.logger.Infof("Session sweep removed %d expired records", removed)
	} else {
		s.logger.Debug("Session sweep found no expired records")
	}
	return removed, nil
}

// Running reports whether a sweep is in progress.
func (s *Sweeper) Running() bool {
	return s.state.Load() == sweepRunning
}

// Start schedules periodic sweeps. Calling Start twice is an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New(cron.WithSeconds())
	// Sweep logs its own failures; the next tick retries.
	if _, err := c.AddFunc(s.schedule, func() { _, _ = s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Infof("Session sweeper scheduled with %q", s.schedule)
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for running sweep to finish")
	}
}
