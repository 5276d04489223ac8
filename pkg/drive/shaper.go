// Package drive turns operator velocity intent into acceleration-limited
// chassis commands, with automatic heading hold once rotational input stops.
//
// A Shaper is owned by the control loop goroutine; none of its methods are
// safe for concurrent use.
package drive

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/pid"
)

// Input supplies the raw velocity intent, already scaled to the given
// bounds.
type Input interface {
	Intent(maxLinear, maxAngular float64) chassis.Speeds
}

// Drivetrain is the kinematics/module-control layer the shaper drives.
type Drivetrain interface {
	// Facing returns the robot heading in radians; ok is false when no pose
	// reading is available.
	Facing() (heading float64, ok bool)
	// MeasuredAngularVelocity is the field-relative yaw rate in rad/s.
	MeasuredAngularVelocity() float64
	Stop()
	RunFieldRelative(chassis.Speeds)
	RunRobotRelative(chassis.Speeds)
}

// Result describes what one Tick emitted.
type Result struct {
	// Command is what was sent to the drivetrain.  With heading hold engaged
	// its Omega is the hold controller's output rather than the shaped input.
	Command chassis.Speeds
	// Shaped is the acceleration-limited operator command.
	Shaped        chassis.Speeds
	Stopped       bool
	HeadingHold   bool
	Setpoint      float64
	FieldRelative bool
}

type Shaper struct {
	cfg          Config
	input        Input
	drivetrain   Drivetrain
	fieldCentric func() bool
	clock        clock.Clock
	logger       golog.Logger

	rotation *pid.Controller

	current      chassis.Speeds
	lastUsage    time.Time
	lastRotation time.Time
	setpoint     float64
	facing       float64
}

// New builds a shaper.  fieldCentric is polled every tick to choose the
// command frame; nil means robot-relative.
func New(
	cfg Config,
	input Input,
	drivetrain Drivetrain,
	fieldCentric func() bool,
	clk clock.Clock,
	logger golog.Logger,
) *Shaper {
	if clk == nil {
		clk = clock.New()
	}
	if fieldCentric == nil {
		fieldCentric = func() bool { return false }
	}
	s := &Shaper{
		cfg:          cfg,
		input:        input,
		drivetrain:   drivetrain,
		fieldCentric: fieldCentric,
		clock:        clk,
		logger:       logger,
		rotation:     pid.New(cfg.HeadingPID),
	}
	s.Reset()
	return s
}

// Reset restarts both activity timers and re-targets the current facing.
func (s *Shaper) Reset() {
	now := s.clock.Now()
	s.lastUsage = now
	s.lastRotation = now
	s.current = chassis.Speeds{}
	if f, ok := s.drivetrain.Facing(); ok {
		s.facing = f
	}
	s.setpoint = s.facing
	s.rotation.SetSetpoint(s.setpoint)
}

// SetHeadingPID swaps the hold controller's tuning.  The setpoint is kept.
func (s *Shaper) SetHeadingPID(cfg pid.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg.HeadingPID = cfg
	s.rotation = pid.NewWithSetpoint(cfg, s.setpoint)
	return nil
}

// HeadingPID is the hold controller's current tuning.
func (s *Shaper) HeadingPID() pid.Config {
	return s.cfg.HeadingPID
}

// Setpoint is the heading the hold controller targets, in radians.
func (s *Shaper) Setpoint() float64 {
	return s.setpoint
}

// Tick runs one control period.
func (s *Shaper) Tick() Result {
	now := s.clock.Now()
	lim := s.cfg.Limits

	intent := s.input.Intent(lim.MaxLinearVelocity, lim.MaxAngularVelocity)
	s.current = chassis.ConstrainAcceleration(s.current, intent, s.cfg.Period.Seconds(),
		lim.MaxLinearAcceleration, lim.MaxAngularAcceleration)

	idle := s.current.LinearMagnitude() < s.cfg.LinearZeroThreshold &&
		math.Abs(s.current.Omega) < s.cfg.AngularZeroThreshold
	rotating := math.Abs(s.current.Omega) > s.cfg.RotationInputThreshold
	if !idle {
		s.lastUsage = now
	}
	if rotating {
		s.lastRotation = now
	}

	if f, ok := s.drivetrain.Facing(); ok {
		s.facing = f
	}

	if now.Sub(s.lastUsage) > s.cfg.InactivityTimeout {
		if s.cfg.RelatchWhenIdle {
			s.setpoint = s.facing
		}
		s.drivetrain.Stop()
		return Result{Stopped: true, Shaped: s.current, Setpoint: s.setpoint}
	}

	if idle {
		s.current = chassis.Speeds{}
	}

	res := Result{Command: s.current, Shaped: s.current, FieldRelative: s.fieldCentric()}
	if now.Sub(s.lastRotation) > s.cfg.RotationMaintenanceDelay {
		s.rotation.SetSetpoint(s.setpoint)
		res.Command.Omega = s.rotation.Output(s.drivetrain.MeasuredAngularVelocity(), s.facing)
		res.HeadingHold = true
	} else if rotating || s.cfg.HeadingLatch == LatchOnEngage {
		s.setpoint = s.facing
	}
	res.Setpoint = s.setpoint

	s.logger.Debugw("drive tick",
		"input", s.current, "command", res.Command, "hold", res.HeadingHold,
		"setpoint_deg", s.setpoint*180/math.Pi, "since_rotation", now.Sub(s.lastRotation))

	if res.FieldRelative {
		s.drivetrain.RunFieldRelative(res.Command)
	} else {
		s.drivetrain.RunRobotRelative(res.Command)
	}
	return res
}
