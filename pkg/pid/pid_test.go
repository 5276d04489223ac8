package pid

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func rotationConfig() Config {
	return Config{
		MaxOutput:         400 * math.Pi / 180,
		DecelerationBand:  90 * math.Pi / 180,
		MinimumCorrection: 0.03,
		Tolerance:         3 * math.Pi / 180,
		Lookahead:         40 * time.Millisecond,
		Wrap:              true,
	}
}

func TestValidate(t *testing.T) {
	test.That(t, rotationConfig().Validate(), test.ShouldBeNil)

	for _, c := range []struct {
		mutate func(*Config)
		err    string
	}{
		{func(c *Config) { c.MaxOutput = 0 }, "max_output"},
		{func(c *Config) { c.DecelerationBand = -1 }, "deceleration_band"},
		{func(c *Config) { c.MinimumCorrection = 100 }, "minimum_correction"},
		{func(c *Config) { c.Tolerance = -0.1 }, "tolerance"},
		{func(c *Config) { c.Lookahead = -time.Second }, "lookahead"},
	} {
		cfg := rotationConfig()
		c.mutate(&cfg)
		err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, c.err)
	}
}

func TestOnSetpointEmitsFeedForwardOnly(t *testing.T) {
	cfg := rotationConfig()
	cfg.FeedForward = 0.2
	c := NewWithSetpoint(cfg, 1.0)
	test.That(t, c.Output(0, 1.0), test.ShouldEqual, 0.2)

	cfg.FeedForward = 0
	c = NewWithSetpoint(cfg, 1.0)
	test.That(t, c.Output(0, 1.0), test.ShouldEqual, 0)
}

func TestNoSetpoint(t *testing.T) {
	cfg := rotationConfig()
	cfg.FeedForward = 0.5
	c := New(cfg)
	_, ok := c.Setpoint()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, c.Output(3, 2), test.ShouldEqual, 0.5)

	c.SetSetpoint(2)
	c.ClearSetpoint()
	test.That(t, c.Output(0, 0), test.ShouldEqual, 0.5)
}

func TestToleranceBand(t *testing.T) {
	c := NewWithSetpoint(rotationConfig(), 0)
	test.That(t, c.Output(0, 2*math.Pi/180), test.ShouldEqual, 0)
	test.That(t, c.Output(0, -2*math.Pi/180), test.ShouldEqual, 0)
}

func TestDecelerationBandIsMonotonicAndFloored(t *testing.T) {
	cfg := rotationConfig()
	cfg.Lookahead = 0
	c := NewWithSetpoint(cfg, 0)

	last := 0.0
	for deg := 3.5; deg <= 90; deg += 0.5 {
		out := math.Abs(c.Output(0, -deg*math.Pi/180))
		test.That(t, out, test.ShouldBeGreaterThanOrEqualTo, last)
		test.That(t, out, test.ShouldBeGreaterThanOrEqualTo, cfg.MinimumCorrection)
		test.That(t, out, test.ShouldBeLessThanOrEqualTo, cfg.MaxOutput)
		last = out
	}
}

func TestMinimumCorrectionFloor(t *testing.T) {
	cfg := Config{
		MaxOutput:         1,
		DecelerationBand:  10,
		MinimumCorrection: 0.3,
		Tolerance:         0.1,
	}
	c := NewWithSetpoint(cfg, 0)
	// 0.5/10 = 0.05 scaled, floored to 0.3
	test.That(t, c.Output(0, 0.5), test.ShouldAlmostEqual, -0.3)
	test.That(t, c.Output(0, -0.5), test.ShouldAlmostEqual, 0.3)
	// 5/10 of max output exceeds the floor
	test.That(t, c.Output(0, -5), test.ShouldAlmostEqual, 0.5)
}

func TestClampedOutsideBand(t *testing.T) {
	cfg := rotationConfig()
	cfg.Wrap = false
	cfg.FeedForward = 1
	c := NewWithSetpoint(cfg, 100)
	test.That(t, c.Output(0, 0), test.ShouldEqual, cfg.MaxOutput)
	test.That(t, c.Output(0, 200), test.ShouldAlmostEqual, -cfg.MaxOutput+1)
	c.SetSetpoint(-100)
	test.That(t, c.Output(0, 0), test.ShouldAlmostEqual, -cfg.MaxOutput+1)
}

func TestWrappedError(t *testing.T) {
	cfg := rotationConfig()
	cfg.Lookahead = 0
	c := NewWithSetpoint(cfg, -170*math.Pi/180)
	e := c.Error(0, 170*math.Pi/180)
	test.That(t, e*180/math.Pi, test.ShouldAlmostEqual, 20, 1e-9)
	// The short way round is positive, so the correction is too.
	test.That(t, c.Output(0, 170*math.Pi/180), test.ShouldBeGreaterThan, 0)

	cfg.Wrap = false
	c = NewWithSetpoint(cfg, -170*math.Pi/180)
	test.That(t, c.Error(0, 170*math.Pi/180)*180/math.Pi, test.ShouldAlmostEqual, -340, 1e-9)
}

func TestLookahead(t *testing.T) {
	cfg := Config{
		MaxOutput:        10,
		DecelerationBand: 10,
		Lookahead:        500 * time.Millisecond,
	}
	c := NewWithSetpoint(cfg, 1)
	// Moving towards the setpoint at 2/s reaches it within the lookahead.
	test.That(t, c.Error(2, 0), test.ShouldAlmostEqual, 0)
	test.That(t, c.Output(2, 0), test.ShouldEqual, 0)
	test.That(t, c.Error(-2, 0), test.ShouldAlmostEqual, 2)
}
