package main

import (
	"context"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drive"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drivetrain"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/sim"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

// Segment holds the sticks still for Duration.  Axes are fractions of full
// deflection.
type Segment struct {
	Duration time.Duration `yaml:"duration"`
	VX       float64       `yaml:"vx"`
	VY       float64       `yaml:"vy"`
	Omega    float64       `yaml:"omega"`
}

type Profile struct {
	Segments []Segment `yaml:"segments"`
	// Tail keeps the simulation running with the sticks centred.
	Tail time.Duration `yaml:"tail"`
}

// DefaultProfile drives forward, spins, drives on so heading hold engages,
// then leaves the sticks alone long enough for the inactivity stop.
func DefaultProfile() Profile {
	return Profile{
		Segments: []Segment{
			{Duration: time.Second, VX: 0.5},
			{Duration: time.Second, VX: 0.5, Omega: 0.3},
			{Duration: 1500 * time.Millisecond, VX: 0.5},
			{Duration: 500 * time.Millisecond, VY: -0.4},
		},
		Tail: 6 * time.Second,
	}
}

func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "reading profile")
	}
	var p Profile
	if err := yaml.UnmarshalStrict(raw, &p); err != nil {
		return Profile{}, errors.Wrapf(err, "parsing profile %s", path)
	}
	return p, p.Validate()
}

func (p Profile) Validate() error {
	if len(p.Segments) == 0 {
		return errors.New("profile has no segments")
	}
	for i, s := range p.Segments {
		if s.Duration <= 0 {
			return errors.Errorf("segment %d: duration must be positive", i)
		}
	}
	return nil
}

func (p Profile) Length() time.Duration {
	d := p.Tail
	for _, s := range p.Segments {
		d += s.Duration
	}
	return d
}

// At returns the stick positions elapsed into the profile.
func (p Profile) At(elapsed time.Duration) Segment {
	for _, s := range p.Segments {
		if elapsed < s.Duration {
			return s
		}
		elapsed -= s.Duration
	}
	return Segment{}
}

type scriptedInput struct {
	profile Profile
	clock   clock.Clock
	start   time.Time
}

func (s *scriptedInput) Intent(maxLinear, maxAngular float64) chassis.Speeds {
	seg := s.profile.At(s.clock.Since(s.start))
	return chassis.Speeds{VX: seg.VX * maxLinear, VY: seg.VY * maxLinear, Omega: seg.Omega * maxAngular}
}

// Sample is one control period of the trace.
type Sample struct {
	T        float64
	Intent   chassis.Speeds
	Result   drive.Result
	Measured chassis.Speeds
	Facing   float64
}

// Run plays profile through the shaper and the simulated drivetrain on a mock
// clock.
func Run(cfg config.Config, profile Profile, logger golog.Logger) ([]Sample, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	mock := clock.NewMock()

	backend, err := sim.New(cfg.Sim, cfg.Drivetrain.Modules, logger.Named("sim"))
	if err != nil {
		return nil, err
	}
	registry := signal.NewRegistry(cfg.RegistryOptions(), logger.Named("signals"))
	backend.RegisterSignals(registry)
	opts := cfg.SamplerOptions()
	opts.Clock = mock
	sampler, err := odometry.New(odometry.ModeSim, registry, opts, logger.Named("odometry"))
	if err != nil {
		return nil, err
	}
	dt, err := drivetrain.New(cfg.Drivetrain, backend, registry, sampler, drivetrain.Options{}, logger.Named("drivetrain"))
	if err != nil {
		return nil, err
	}
	if err := dt.Start(context.Background()); err != nil {
		return nil, err
	}
	defer dt.Close()

	input := &scriptedInput{profile: profile, clock: mock, start: mock.Now()}
	shaper := drive.New(cfg.Drive, input, dt, nil, mock, logger.Named("drive"))
	lim := cfg.Drive.Limits

	var samples []Sample
	for elapsed := time.Duration(0); elapsed < profile.Length(); elapsed += cfg.Loop.Period {
		mock.Add(cfg.Loop.Period)
		dt.Periodic()
		res := shaper.Tick()
		measured, err := dt.MeasuredSpeeds()
		if err != nil {
			return nil, err
		}
		facing, _ := dt.Facing()
		samples = append(samples, Sample{
			T:        (elapsed + cfg.Loop.Period).Seconds(),
			Intent:   input.Intent(lim.MaxLinearVelocity, lim.MaxAngularVelocity),
			Result:   res,
			Measured: measured,
			Facing:   facing,
		})
	}
	return samples, nil
}
