package odometry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const degradedLogInterval = time.Second

type Stats struct {
	Ticks           uint64
	RefreshFailures uint64
	Panics          uint64
}

type realSampler struct {
	registry  *signal.Registry
	refresher Refresher
	clock     clock.Clock
	logger    golog.Logger
	interval  time.Duration
	timeout   time.Duration

	cancel context.CancelFunc
	done   sync.WaitGroup

	degraded        atomic.Bool
	ticks           atomic.Uint64
	refreshFailures atomic.Uint64
	panics          atomic.Uint64

	// Only touched from the sampling goroutine.
	lastWarn time.Time
}

func newRealSampler(registry *signal.Registry, opts Options, logger golog.Logger) *realSampler {
	return &realSampler{
		registry:  registry,
		refresher: opts.Refresher,
		clock:     opts.Clock,
		logger:    logger,
		interval:  time.Duration(float64(time.Second) / opts.Frequency),
		timeout:   opts.RefreshTimeout,
	}
}

func (s *realSampler) start(ctx context.Context) {
	var loopCtx context.Context
	loopCtx, s.cancel = context.WithCancel(ctx)
	// The ticker exists before start returns, so a mock clock advanced
	// straight after Start always drives it.
	ticker := s.clock.Ticker(s.interval)
	s.done.Add(1)
	go s.loop(loopCtx, ticker)
}

func (s *realSampler) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.done.Wait()
	s.cancel = nil
}

func (s *realSampler) loop(ctx context.Context, ticker *clock.Ticker) {
	defer s.done.Done()
	defer s.logger.Info("odometry sampling loop exited")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick is one sampling pass.  Nothing in here may take the loop down: a
// failed refresh leaves the cached values in place and flags the batch.
func (s *realSampler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.degraded.Store(true)
			s.logger.Errorw("odometry sampling pass panicked", "panic", r)
		}
	}()

	if s.refresher != nil {
		if err := s.refresher.RefreshAll(s.timeout); err != nil {
			s.refreshFailures.Add(1)
			s.degraded.Store(true)
			if now := s.clock.Now(); now.Sub(s.lastWarn) >= degradedLogInterval {
				s.logger.Warnw("bulk signal refresh failed; using last known values",
					"error", err, "failures", s.refreshFailures.Load())
				s.lastWarn = now
			}
		}
	}
	s.registry.Sample(Timestamp(s.clock.Now()))
	s.ticks.Add(1)
}

func (s *realSampler) update() Batch {
	return Batch{
		Timestamps: s.registry.Timestamps().Drain(),
		Degraded:   s.degraded.Swap(false),
	}
}

func (s *realSampler) stats() Stats {
	return Stats{
		Ticks:           s.ticks.Load(),
		RefreshFailures: s.refreshFailures.Load(),
		Panics:          s.panics.Load(),
	}
}
