// Package sweeper runs the clock-driven lifecycle sweep.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/auction"
)

// Sweeper periodically asks the engine to advance every due auction. The
// interval is a tuning knob, not a correctness parameter: transitions are
// idempotent-guarded in the engine, so overlapping sweeps (including from
// other replicas) are harmless and a failed sweep is simply retried on the
// next tick.
type Sweeper struct {
	engine   *auction.Engine
	interval time.Duration
	log      zerolog.Logger
}

// New creates a sweeper ticking at the given interval.
func New(engine *auction.Engine, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{engine: engine, interval: interval, log: log}
}

// Run blocks, sweeping once immediately and then on every tick, until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.engine.Sweep(ctx, time.Now().UTC())
	if err != nil {
		// Partial sweeps are fine; whatever failed stays due.
		s.log.Error().Err(err).Msg("sweep finished with errors")
	}
	if n > 0 {
		s.log.Info().Int("transitions", n).Msg("sweep applied transitions")
	}
}
