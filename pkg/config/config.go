// Package config loads the controller's YAML configuration over the built-in
// defaults.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drive"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drivetrain"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/sim"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/screen"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const (
	DefaultPath = "/cfg/swerve.yaml"

	EnvConfig   = "SWERVE_CONFIG"
	EnvMode     = "SWERVE_MODE"
	EnvJoystick = "JOYSTICK_DEVICE"
)

type LoopConfig struct {
	// Period is the control loop period.  It overrides the drive and sim
	// periods so the three always agree.
	Period time.Duration `yaml:"period"`
}

type OdometryConfig struct {
	Frequency         float64       `yaml:"frequency"`
	Capacity          int           `yaml:"capacity"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	SimTicksPerPeriod int           `yaml:"sim_ticks_per_period"`
}

type LogConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	Mode       odometry.Mode        `yaml:"mode"`
	Loop       LoopConfig           `yaml:"loop"`
	Odometry   OdometryConfig       `yaml:"odometry"`
	Drive      drive.Config         `yaml:"drive"`
	Drivetrain drivetrain.Config    `yaml:"drivetrain"`
	Hardware   hardware.Config      `yaml:"hardware"`
	Sim        sim.Config           `yaml:"sim"`
	Joystick   joystick.InputConfig `yaml:"joystick"`
	Replay     LogConfig            `yaml:"replay"`
	Record     LogConfig            `yaml:"record"`
	Screen     screen.Config        `yaml:"screen"`
	Debug      bool                 `yaml:"debug"`
}

func Default() Config {
	return Config{
		Mode: odometry.ModeReal,
		Loop: LoopConfig{Period: odometry.DefaultPeriod},
		Odometry: OdometryConfig{
			Frequency:         odometry.DefaultFrequency,
			Capacity:          signal.DefaultCapacity,
			RefreshTimeout:    odometry.DefaultRefreshTimeout,
			SimTicksPerPeriod: odometry.DefaultSimTicksPerPeriod,
		},
		Drive:      drive.DefaultConfig(),
		Drivetrain: drivetrain.DefaultConfig(),
		Hardware:   hardware.DefaultConfig(),
		Sim:        sim.DefaultConfig(),
		Joystick:   joystick.DefaultInputConfig(),
		Screen:     screen.DefaultConfig(),
	}
}

// Path is the config file named by SWERVE_CONFIG, or DefaultPath.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults, applies the environment overrides and
// validates the result.  A missing file means all defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	default:
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyLoopPeriod()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if m := os.Getenv(EnvMode); m != "" {
		mode, err := odometry.ParseMode(m)
		if err != nil {
			return errors.Wrap(err, EnvMode)
		}
		c.Mode = mode
	}
	if dev := os.Getenv(EnvJoystick); dev != "" {
		c.Joystick.Device = dev
	}
	return nil
}

func (c *Config) applyLoopPeriod() {
	c.Drive.Period = c.Loop.Period
	c.Sim.Period = c.Loop.Period
	c.Sim.TicksPerPeriod = c.Odometry.SimTicksPerPeriod
}

func (c Config) Validate() error {
	var err error
	if c.Loop.Period <= 0 {
		err = multierr.Append(err, errors.Errorf("loop.period must be positive, got %v", c.Loop.Period))
	}
	if c.Odometry.Frequency <= 0 {
		err = multierr.Append(err, errors.Errorf("odometry.frequency must be positive, got %v", c.Odometry.Frequency))
	}
	if c.Odometry.Capacity <= 0 {
		err = multierr.Append(err, errors.Errorf("odometry.capacity must be positive, got %d", c.Odometry.Capacity))
	}
	if c.Odometry.SimTicksPerPeriod <= 0 {
		err = multierr.Append(err, errors.Errorf("odometry.sim_ticks_per_period must be positive, got %d",
			c.Odometry.SimTicksPerPeriod))
	}
	err = multierr.Append(err, errors.Wrap(c.Drive.Validate(), "drive"))
	err = multierr.Append(err, errors.Wrap(c.Drivetrain.Validate(), "drivetrain"))
	err = multierr.Append(err, errors.Wrap(c.Joystick.Validate(), "joystick"))
	err = multierr.Append(err, errors.Wrap(c.Screen.Validate(), "screen"))

	switch c.Mode {
	case odometry.ModeReal:
		err = multierr.Append(err, errors.Wrap(c.Hardware.Validate(), "hardware"))
		err = multierr.Append(err, c.checkModuleNames())
	case odometry.ModeSim:
		err = multierr.Append(err, errors.Wrap(c.Sim.Validate(), "sim"))
		// Each period queues one sample per sub-tick; more than the queues
		// hold would drop samples the timestamps still describe.
		if c.Odometry.SimTicksPerPeriod > c.Odometry.Capacity {
			err = multierr.Append(err, errors.Errorf(
				"odometry.sim_ticks_per_period (%d) must not exceed odometry.capacity (%d)",
				c.Odometry.SimTicksPerPeriod, c.Odometry.Capacity))
		}
	case odometry.ModeReplay:
		if c.Replay.Path == "" {
			err = multierr.Append(err, errors.New("replay.path is required in REPLAY mode"))
		}
		if c.Record.Path != "" && c.Record.Path == c.Replay.Path {
			err = multierr.Append(err, errors.New("record.path must differ from replay.path"))
		}
	}
	return err
}

// checkModuleNames makes sure every drivetrain module has CAN hardware.
func (c Config) checkModuleNames() error {
	have := map[string]bool{}
	for _, m := range c.Hardware.Modules {
		have[m.Name] = true
	}
	var err error
	for _, m := range c.Drivetrain.Modules {
		if !have[m.Name] {
			err = multierr.Append(err, errors.Errorf("drivetrain module %q has no hardware entry", m.Name))
		}
	}
	return err
}

// WriteInUse records the effective configuration next to the input so it
// can be inspected after a run.
func (c Config) WriteInUse(path string) error {
	out, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	return errors.Wrapf(os.WriteFile(path, out, 0o666), "writing %s", path)
}

// RegistryOptions maps the odometry section onto the signal registry.
func (c Config) RegistryOptions() signal.Options {
	return signal.Options{
		Capacity:       c.Odometry.Capacity,
		UpdateRate:     c.Odometry.Frequency,
		RefreshTimeout: c.Odometry.RefreshTimeout,
	}
}

// SamplerOptions maps the loop and odometry sections onto the sampler.
func (c Config) SamplerOptions() odometry.Options {
	return odometry.Options{
		Frequency:         c.Odometry.Frequency,
		RefreshTimeout:    c.Odometry.RefreshTimeout,
		Period:            c.Loop.Period,
		SimTicksPerPeriod: c.Odometry.SimTicksPerPeriod,
	}
}
