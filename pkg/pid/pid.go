// Package pid is a stateless proportional controller with a deceleration
// band, a minimum-correction floor, a tolerance band and a lookahead term.
//
// It keeps no integral or derivative memory: the only state carried between
// calls is the setpoint, which the caller sets explicitly before evaluating.
package pid

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
)

// Config is immutable once a Controller has been built from it.
type Config struct {
	// MaxOutput bounds the magnitude of every output.
	MaxOutput float64 `yaml:"max_output"`
	// DecelerationBand is the error magnitude below which the output is
	// scaled down proportionally.
	DecelerationBand float64 `yaml:"deceleration_band"`
	// MinimumCorrection is the smallest non-zero correction magnitude.
	MinimumCorrection float64 `yaml:"minimum_correction"`
	// Tolerance is the error magnitude treated as "on target".
	Tolerance float64 `yaml:"tolerance"`
	// Lookahead projects the measured position forward by the measured
	// velocity for this long before computing the error.
	Lookahead time.Duration `yaml:"lookahead"`
	// Wrap treats positions as angles in radians and wraps the error into
	// (-pi, pi].
	Wrap bool `yaml:"wrap"`
	// FeedForward is added to the correction before clamping.
	FeedForward float64 `yaml:"feed_forward"`
}

func (c Config) Validate() error {
	if c.MaxOutput <= 0 {
		return errors.Errorf("max_output must be positive, got %v", c.MaxOutput)
	}
	if c.DecelerationBand <= 0 {
		return errors.Errorf("deceleration_band must be positive, got %v", c.DecelerationBand)
	}
	if c.MinimumCorrection < 0 || c.MinimumCorrection > c.MaxOutput {
		return errors.Errorf("minimum_correction must be in [0, %v], got %v", c.MaxOutput, c.MinimumCorrection)
	}
	if c.Tolerance < 0 {
		return errors.Errorf("tolerance must not be negative, got %v", c.Tolerance)
	}
	if c.Lookahead < 0 {
		return errors.Errorf("lookahead must not be negative, got %v", c.Lookahead)
	}
	return nil
}

type Controller struct {
	cfg Config

	setpoint    float64
	hasSetpoint bool
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// NewWithSetpoint returns a controller that already targets setpoint.
func NewWithSetpoint(cfg Config, setpoint float64) *Controller {
	c := New(cfg)
	c.SetSetpoint(setpoint)
	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) SetSetpoint(setpoint float64) {
	c.setpoint = setpoint
	c.hasSetpoint = true
}

func (c *Controller) ClearSetpoint() {
	c.setpoint = 0
	c.hasSetpoint = false
}

// Setpoint returns the current setpoint and whether one is set.
func (c *Controller) Setpoint() (float64, bool) {
	return c.setpoint, c.hasSetpoint
}

// Error returns the signed error between the setpoint and the measured
// position projected forward by the lookahead time.
func (c *Controller) Error(measuredVelocity, measuredPosition float64) float64 {
	projected := measuredPosition + measuredVelocity*c.cfg.Lookahead.Seconds()
	e := c.setpoint - projected
	if c.cfg.Wrap {
		e = angle.Wrap(e)
	}
	return e
}

// Output computes the bounded control output for the given measurement.
// Without a setpoint only the feed-forward term is emitted.
func (c *Controller) Output(measuredVelocity, measuredPosition float64) float64 {
	if !c.hasSetpoint {
		return clamp(c.cfg.FeedForward, c.cfg.MaxOutput)
	}
	return clamp(c.correction(c.Error(measuredVelocity, measuredPosition))+c.cfg.FeedForward, c.cfg.MaxOutput)
}

func (c *Controller) correction(e float64) float64 {
	mag := math.Abs(e)
	if mag <= c.cfg.Tolerance || mag == 0 {
		return 0
	}
	scaled := c.cfg.MaxOutput * math.Min(1, mag/c.cfg.DecelerationBand)
	return math.Copysign(math.Max(c.cfg.MinimumCorrection, scaled), e)
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
