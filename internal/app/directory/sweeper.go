package directory

import (
	"context"
	"time"

	"meetline/internal/pkg/logx"
)

// Sweeper periodically ends expired meetings.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper returns a Sweeper running svc.ExpireDue every interval.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	log := logx.Component("directory_sweeper")
	log.Info().Dur("interval", sw.interval).Msg("Expiry sweeper started")

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sw.interval)
			n, err := sw.svc.ExpireDue(sweepCtx)
			cancel()

			if err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("expired", n).Msg("Expiry sweep completed")
			}
		}
	}
}
