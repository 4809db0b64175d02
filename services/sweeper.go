package services

import (
	"context"
	"time"

	"salefeed-relay/storage"
	"salefeed-relay/utils"
)

// Sweeper clears the store on a fixed interval. Retention is a global reset:
// every row is deleted regardless of age. Inserts racing a sweep may or may
// not survive it, depending on how the store interleaves them.
type Sweeper struct {
	store    storage.Store
	interval time.Duration
	logger   *utils.Logger
}

// NewSweeper creates a Sweeper that clears st every interval.
func NewSweeper(st storage.Store, interval time.Duration, logger *utils.Logger) *Sweeper {
	return &Sweeper{store: st, interval: interval, logger: logger}
}

// Run sleeps for the interval, clears the store, and repeats until ctx is
// cancelled. The next sleep starts only after a sweep finishes, so two
// clears are always at least one interval apart. Errors never stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("[sweeper] Started, clearing all listings every %s", s.interval)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sweeper] Stopped")
			return
		case <-timer.C:
			_, _ = s.Sweep(ctx)
			timer.Reset(s.interval)
		}
	}
}

// Sweep performs one unconditional clear and logs the outcome.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.store.Clear(ctx)
	if err != nil {
		s.logger.Error("[sweeper] Error deleting data: %v", err)
		return 0, err
	}
	s.logger.Info("[sweeper] All data deleted from database (%d listings, %v)",
		n, time.Since(start).Round(time.Millisecond))
	return n, nil
}
