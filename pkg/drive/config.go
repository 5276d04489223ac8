package drive

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/pid"
)

// HeadingLatch chooses when the heading-hold setpoint stops following the
// robot's facing.
type HeadingLatch uint8

const (
	// LatchOnRelease freezes the setpoint at the facing seen on the last tick
	// that carried rotational input, so rotation that continues after the
	// stick is released is corrected back.
	LatchOnRelease HeadingLatch = iota
	// LatchOnEngage keeps following the facing until heading hold engages.
	LatchOnEngage
)

func (l HeadingLatch) String() string {
	if l == LatchOnEngage {
		return "engage"
	}
	return "release"
}

func (l *HeadingLatch) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "release", "":
		*l = LatchOnRelease
	case "engage":
		*l = LatchOnEngage
	default:
		return errors.Errorf("unknown heading latch %q (want release or engage)", s)
	}
	return nil
}

func (l HeadingLatch) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

type Config struct {
	// Period is the control loop period the acceleration limit is applied
	// over.
	Period time.Duration  `yaml:"period"`
	Limits chassis.Limits `yaml:"limits"`

	// InactivityTimeout stops the drivetrain after this long with no linear
	// or rotational command.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	// RotationMaintenanceDelay engages heading hold after this long with no
	// rotational command.
	RotationMaintenanceDelay time.Duration `yaml:"rotation_maintenance_delay"`

	LinearZeroThreshold    float64 `yaml:"linear_zero_threshold"`
	AngularZeroThreshold   float64 `yaml:"angular_zero_threshold"`
	RotationInputThreshold float64 `yaml:"rotation_input_threshold"`

	HeadingLatch HeadingLatch `yaml:"heading_latch"`
	// RelatchWhenIdle moves the hold setpoint to the robot's facing on every
	// inactivity stop, so a robot pushed while parked holds its new heading.
	RelatchWhenIdle bool       `yaml:"relatch_when_idle"`
	HeadingPID      pid.Config `yaml:"heading_pid"`
}

// DefaultConfig is tuned for a 45kg swerve chassis with Kraken drive motors.
func DefaultConfig() Config {
	return Config{
		Period: 20 * time.Millisecond,
		Limits: chassis.Limits{
			MaxLinearVelocity:      4.5,
			MaxAngularVelocity:     4.5 / 0.39,
			MaxLinearAcceleration:  10,
			MaxAngularAcceleration: 10 / 0.39 * 2,
		},
		InactivityTimeout:        5 * time.Second,
		RotationMaintenanceDelay: 500 * time.Millisecond,
		LinearZeroThreshold:      0.01,
		AngularZeroThreshold:     0.01,
		RotationInputThreshold:   0.05,
		HeadingLatch:             LatchOnRelease,
		HeadingPID: pid.Config{
			MaxOutput:         400 * math.Pi / 180,
			DecelerationBand:  90 * math.Pi / 180,
			MinimumCorrection: 0.03,
			Tolerance:         3 * math.Pi / 180,
			Lookahead:         40 * time.Millisecond,
			Wrap:              true,
		},
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.Errorf("period must be positive, got %v", c.Period)
	}
	l := c.Limits
	if l.MaxLinearVelocity <= 0 || l.MaxAngularVelocity <= 0 {
		return errors.New("max linear and angular velocity must be positive")
	}
	if l.MaxLinearAcceleration <= 0 || l.MaxAngularAcceleration <= 0 {
		return errors.New("max linear and angular acceleration must be positive")
	}
	if c.InactivityTimeout <= 0 {
		return errors.Errorf("inactivity_timeout must be positive, got %v", c.InactivityTimeout)
	}
	if c.RotationMaintenanceDelay < 0 {
		return errors.Errorf("rotation_maintenance_delay must not be negative, got %v", c.RotationMaintenanceDelay)
	}
	if c.LinearZeroThreshold < 0 || c.AngularZeroThreshold < 0 || c.RotationInputThreshold < 0 {
		return errors.New("zero thresholds must not be negative")
	}
	if !c.HeadingPID.Wrap {
		return errors.New("heading_pid must wrap: headings are angles")
	}
	return errors.Wrap(c.HeadingPID.Validate(), "heading_pid")
}
