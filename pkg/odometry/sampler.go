// Package odometry samples the registered drivetrain signals.
//
// A Sampler is one of three variants fixed at construction by the runtime
// mode:
//
//	REAL    a dedicated goroutine polls every signal at a high, fixed rate,
//	        after a bulk refresh of the hardware signals.
//	SIM     no goroutine; each control period yields evenly spaced sub-tick
//	        timestamps and the simulation backend fills the queues in
//	        lockstep.
//	REPLAY  no sampling; batches come from a recorded log.
//
// Consumers bracket each drain with LockOdometry/UnlockOdometry and call
// Update inside the critical section.
package odometry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const (
	DefaultFrequency         = 250
	DefaultRefreshTimeout    = 20 * time.Millisecond
	DefaultPeriod            = 20 * time.Millisecond
	DefaultSimTicksPerPeriod = 5
)

// Batch is the set of sampling times gathered since the previous Update.
type Batch struct {
	Timestamps []float64 `yaml:"timestamps"`
	// Degraded is set when at least one bulk refresh in the batch failed or
	// timed out; the affected signals carry their last known values.
	Degraded bool `yaml:"degraded,omitempty"`
}

// Refresher performs the synchronized bulk refresh of hardware signals.
type Refresher interface {
	RefreshAll(timeout time.Duration) error
}

// ReplaySource yields previously recorded batches.
type ReplaySource interface {
	NextBatch() (Batch, bool)
}

type Options struct {
	Clock clock.Clock

	// REAL
	Frequency      float64
	RefreshTimeout time.Duration
	Refresher      Refresher

	// SIM
	Period            time.Duration
	SimTicksPerPeriod int

	// REPLAY
	Replay ReplaySource
}

type Sampler struct {
	kind     Mode
	registry *signal.Registry
	logger   golog.Logger

	real   *realSampler
	sim    *simSampler
	replay *replaySampler
}

func New(mode Mode, registry *signal.Registry, opts Options, logger golog.Logger) (*Sampler, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	s := &Sampler{
		kind:     mode,
		registry: registry,
		logger:   logger,
	}
	switch mode {
	case ModeReal:
		if opts.Frequency <= 0 {
			opts.Frequency = DefaultFrequency
		}
		if opts.RefreshTimeout <= 0 {
			opts.RefreshTimeout = DefaultRefreshTimeout
		}
		s.real = newRealSampler(registry, opts, logger)
	case ModeSim:
		if opts.Period <= 0 {
			opts.Period = DefaultPeriod
		}
		if opts.SimTicksPerPeriod <= 0 {
			opts.SimTicksPerPeriod = DefaultSimTicksPerPeriod
		}
		s.sim = &simSampler{
			clock:          opts.Clock,
			period:         opts.Period,
			ticksPerPeriod: opts.SimTicksPerPeriod,
		}
	case ModeReplay:
		if opts.Replay == nil {
			return nil, errors.New("replay mode needs a replay source")
		}
		s.replay = &replaySampler{source: opts.Replay, logger: logger}
	default:
		return nil, errors.Errorf("unknown runtime mode %v", mode)
	}
	return s, nil
}

func (s *Sampler) Mode() Mode {
	return s.kind
}

// Start seals the registry and, in REAL mode, starts the sampling goroutine.
func (s *Sampler) Start(ctx context.Context) {
	s.registry.Seal()
	s.logger.Infow("odometry sampler starting", "mode", s.kind, "signals", len(s.registry.Names()))
	if s.real != nil {
		s.real.start(ctx)
	}
}

// Stop waits for the sampling goroutine, if any, to exit.
func (s *Sampler) Stop() {
	if s.real != nil {
		s.real.stop()
	}
}

// Update returns the batch for the current control period.  Must be called
// with the odometry lock held.
func (s *Sampler) Update() Batch {
	switch s.kind {
	case ModeReal:
		return s.real.update()
	case ModeSim:
		return s.sim.update()
	default:
		return s.replay.update()
	}
}

// Exhausted reports whether a REPLAY sampler has run out of recorded
// batches.  A recorded batch may itself be empty, so an empty Update is not
// the end of the log.  Always false in the other modes.
func (s *Sampler) Exhausted() bool {
	return s.replay != nil && s.replay.exhausted
}

func (s *Sampler) LockOdometry() {
	s.registry.LockOdometry()
}

func (s *Sampler) UnlockOdometry() {
	s.registry.UnlockOdometry()
}

// Stats reports REAL-mode sampling counters; zero in other modes.
func (s *Sampler) Stats() Stats {
	if s.real == nil {
		return Stats{}
	}
	return s.real.stats()
}

// Timestamp converts a clock reading to the seconds used in batches.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
