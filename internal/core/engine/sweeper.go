package engine

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper runs the periodic hash and handler sweeps.
type Sweeper struct {
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *zap.Logger
	running bool
	jobs    map[string]cron.EntryID
}

func newSweeper(logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

// schedule registers job to run every interval. Zero and SweepInfinite leave
// the job unscheduled.
func (s *Sweeper) schedule(name string, interval time.Duration, job func()) bool {
	if interval <= 0 || interval == SweepInfinite {
		s.logger.Debug("sweeper disabled", zap.String("sweeper", name))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = s.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
	return true
}

// Start begins running scheduled sweeps.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.jobs) == 0 {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}

// Running reports whether the scheduler is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Scheduled reports whether the named sweep is registered.
func (s *Sweeper) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// NextRun returns the next run time of the named sweep.
func (s *Sweeper) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}
