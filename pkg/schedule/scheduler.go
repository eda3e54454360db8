// Package schedule triggers one pipeline run per day at a fixed UTC time.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelops/retrainflow/pkg/config"
)

// RunFunc executes one pipeline run with the configuration current at
// trigger time.
type RunFunc func(ctx context.Context, cfg *config.Config) error

// Scheduler fires Run once per day at the configured HH:MM UTC. Missed
// trigger times are not caught up: the scheduler always waits for the next
// future occurrence.
type Scheduler struct {
	Logger *slog.Logger
	Run    RunFunc

	mu  sync.Mutex
	cfg *config.Config

	now func() time.Time // injectable for tests
}

// New creates a scheduler around the given initial configuration.
func New(logger *slog.Logger, cfg *config.Config, run RunFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Logger: logger,
		Run:    run,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled, triggering a run each day. When
// configPath is non-empty the file is watched and edits take effect from
// the next trigger onward. A failed run is logged; the schedule keeps going.
func (s *Scheduler) Start(ctx context.Context, configPath string) error {
	if configPath != "" {
		go func() {
			if err := s.watch(ctx, configPath); err != nil {
				s.Logger.Error("config watcher stopped", "err", err)
			}
		}()
	}

	for {
		cfg := s.current()
		hour, minute, err := cfg.ScheduleTime()
		if err != nil {
			return err
		}

		next := NextRun(s.now().UTC(), hour, minute)
		s.Logger.Info("next run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.Run(ctx, s.current()); err != nil {
			s.Logger.Error("scheduled run failed", "err", err)
		}
	}
}

// NextRun returns the first occurrence of hour:minute UTC strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) current() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) swap(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
