package odometry

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
)

type simSampler struct {
	clock          clock.Clock
	period         time.Duration
	ticksPerPeriod int
}

// update spreads ticksPerPeriod timestamps evenly across one control period,
// starting now.  The simulation backend steps its physics the same number of
// times per period, so sample i in every queue belongs to timestamp i.
func (s *simSampler) update() Batch {
	start := Timestamp(s.clock.Now())
	step := s.period.Seconds() / float64(s.ticksPerPeriod)
	ts := make([]float64, s.ticksPerPeriod)
	for i := range ts {
		ts[i] = start + float64(i)*step
	}
	return Batch{Timestamps: ts}
}

type replaySampler struct {
	source    ReplaySource
	logger    golog.Logger
	exhausted bool
}

func (s *replaySampler) update() Batch {
	b, ok := s.source.NextBatch()
	if !ok {
		if !s.exhausted {
			s.logger.Info("replay log exhausted; returning empty batches")
			s.exhausted = true
		}
		return Batch{}
	}
	return b
}
