package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunFunc executes one batch; ctx expires after the batch's max duration
type RunFunc func(ctx context.Context, cfg BatchConfig) error

// Scheduler manages scheduled batch runs
type Scheduler struct {
	configs map[string]BatchConfig
	lastRun map[string]time.Time
	running map[string]bool
	mu      sync.RWMutex
	now     func() time.Time
	tick    time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewScheduler creates a new batch scheduler
func NewScheduler(configs []BatchConfig) (*Scheduler, error) {
	s := &Scheduler{
		configs: make(map[string]BatchConfig),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		now:     time.Now,
		tick:    time.Minute,
		log:     slog.Default().With("component", "batch"),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.configs[cfg.Name] = cfg
		// a freshly started scheduler waits for the next slot
		s.lastRun[cfg.Name] = s.now()
	}

	return s, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if a batch is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return false
	}

	return !s.now().Before(sched.Next(s.lastRun[name]))
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (BatchConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDue starts every batch that is due and returns their names
func (s *Scheduler) RunDue(ctx context.Context, run RunFunc) []string {
	var started []string
	for _, name := range s.ListBatches() {
		if !s.ShouldRun(name) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.MarkRunning(name)
		started = append(started, name)

		s.wg.Add(1)
		go func(c BatchConfig) {
			defer s.wg.Done()
			defer s.MarkComplete(c.Name)

			runCtx, cancel := context.WithTimeout(ctx, c.MaxDuration())
			defer cancel()
			s.log.Info("batch started", "batch", c.Name, "strategy", c.Strategy)
			if err := run(runCtx, c); err != nil {
				s.log.Error("batch failed", "batch", c.Name, "error", err)
				return
			}
			s.log.Info("batch finished", "batch", c.Name)
		}(cfg)
	}
	return started
}

// Start runs the scheduler loop until ctx is done, then waits for running batches
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.RunDue(ctx, run)
		}
	}
}

// Wait blocks until all started batches have finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
