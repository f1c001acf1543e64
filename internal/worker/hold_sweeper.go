package worker

import (
	"context"
	"time"

	"classbook/internal/domain"

	"github.com/rs/zerolog"
)

// HoldSweeper periodically expires waitlist holds nobody accepted in time.
type HoldSweeper struct {
	waitlist domain.WaitlistService
	interval time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewHoldSweeper(waitlist domain.WaitlistService, interval time.Duration, logger *zerolog.Logger) *HoldSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HoldSweeper{
		waitlist: waitlist,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *HoldSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Hold sweeper started")
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Hold sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and reports how many holds it expired.
func (s *HoldSweeper) Sweep(ctx context.Context) int {
	res, err := s.waitlist.ExpireHolds(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Hold sweep finished with errors")
	}
	if res == nil {
		return 0
	}
	if len(res.Expired) > 0 {
		s.logger.Info().Int("expired", len(res.Expired)).Int("promoted", len(res.Promoted)).Msg("Hold sweep")
	}
	return len(res.Expired)
}
