package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StaleSweeper removes leftover staging files
type StaleSweeper interface {
	SweepStale(olderThan time.Duration) (int, error)
}

// Sweeper periodically deletes temp and backup files abandoned by crashed writes
type Sweeper struct {
	store      StaleSweeper
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *zerolog.Logger
}

// NewSweeper schedules sweeps of store on a cron schedule such as "@every 15m"
func NewSweeper(store StaleSweeper, schedule string, staleAfter time.Duration, logger *zerolog.Logger) (*Sweeper, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}

	s := &Sweeper{
		store:      store,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce() (int, error) {
	removed, err := s.store.SweepStale(s.staleAfter)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("Stale file sweep failed")
		return removed, err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Removed stale staging files")
	}
	return removed, nil
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
