package app

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/util"
)

// Scheduler triggers diagnostic runs at a jittered interval in [min, max].
type Scheduler struct {
	min    time.Duration
	max    time.Duration
	run    func(ctx context.Context) error
	logger util.Logger
	rng    *rand.Rand
}

func NewScheduler(min, max time.Duration, run func(ctx context.Context) error, logger util.Logger, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{min: min, max: max, run: run, logger: logger, rng: rng}
}

// RunLoop waits one interval before each run until ctx is cancelled.
// A run still in progress when the timer fires is skipped.
func (s *Scheduler) RunLoop(ctx context.Context) {
	for {
		wait := s.nextInterval()
		s.logger.Debug("next scheduled run", "in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		err := s.run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, diag.ErrRunInProgress):
			s.logger.Info("scheduled run skipped", "reason", err)
		case ctx.Err() != nil:
			return
		default:
			s.logger.Warn("scheduled run failed", "error", err)
		}
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	if s.max <= s.min {
		return s.min
	}
	delta := s.max - s.min
	jitter := time.Duration(s.rng.Int63n(int64(delta)))
	return s.min + jitter
}
