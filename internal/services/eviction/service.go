// -----------------------------------------------------------------------
// Idle Eviction - Scheduled removal of stalled session buffers
// -----------------------------------------------------------------------

package eviction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Evictor drops session buffers that have been idle for too long
type Evictor interface {
	EvictIdle(ctx context.Context, olderThan time.Duration) int
}

// Service runs idle eviction on a cron schedule
type Service struct {
	evictor  Evictor
	schedule string
	idle     time.Duration
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	total   int
}

// NewService creates an eviction service. An empty schedule disables it.
func NewService(evictor Evictor, schedule string, idle time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		evictor:  evictor,
		schedule: schedule,
		idle:     idle,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Enabled reports whether a schedule is configured
func (s *Service) Enabled() bool {
	return s.schedule != ""
}

// Start registers the eviction job and starts the scheduler
func (s *Service) Start() error {
	if !s.Enabled() {
		s.logger.Debug().Msg("Idle session eviction disabled (no buffer.eviction_schedule)")
		return nil
	}
	if s.idle <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", s.idle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("eviction service already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("failed to add eviction job: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("idle_timeout", s.idle).
		Msg("Idle session eviction started")
	return nil
}

// Stop stops the scheduler and waits for a running eviction to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Debug().Msg("Idle session eviction stopped")
}

// RunOnce evicts idle sessions now and returns how many were evicted
func (s *Service) RunOnce(ctx context.Context) int {
	evicted := s.evictor.EvictIdle(ctx, s.idle)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.total += evicted
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Dur("idle_timeout", s.idle).Msg("Evicted idle sessions")
	}
	return evicted
}

// Status returns the last run time and the total sessions evicted
func (s *Service) Status() (lastRun time.Time, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.total
}
