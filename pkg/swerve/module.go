package swerve

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/pid"
)

// FeedForward is the open-loop part of the drive velocity loop:
// Static*sign(v) + Velocity*v.
type FeedForward struct {
	Static   float64 `yaml:"static"`
	Velocity float64 `yaml:"velocity"`
}

func (f FeedForward) Calculate(v float64) float64 {
	if v == 0 {
		return 0
	}
	return math.Copysign(f.Static, v) + f.Velocity*v
}

type ModuleConfig struct {
	Name string `yaml:"name"`
	// X and Y locate the module relative to the robot centre in metres.
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`

	SteerPID         pid.Config  `yaml:"steer_pid"`
	DrivePID         pid.Config  `yaml:"drive_pid"`
	DriveFeedForward FeedForward `yaml:"drive_feed_forward"`
}

func (c ModuleConfig) Position() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

func (c ModuleConfig) Validate() error {
	if c.Name == "" {
		return errors.New("module needs a name")
	}
	if !c.SteerPID.Wrap {
		return errors.Errorf("module %s: steer_pid must wrap", c.Name)
	}
	if err := c.SteerPID.Validate(); err != nil {
		return errors.Wrapf(err, "module %s: steer_pid", c.Name)
	}
	if c.DrivePID.Wrap {
		return errors.Errorf("module %s: drive_pid must not wrap", c.Name)
	}
	return errors.Wrapf(c.DrivePID.Validate(), "module %s: drive_pid", c.Name)
}

// Measurement is the latest sensed state of one module.
type Measurement struct {
	SteerAngle    float64
	SteerVelocity float64
	DriveVelocity float64
	DrivePosition float64
}

func (m Measurement) State() ModuleState {
	return ModuleState{Speed: m.DriveVelocity, Angle: angle.Wrap(m.SteerAngle)}
}

// Output is the actuator demand for one module, in the motor controller's
// units (volts for the default tuning).
type Output struct {
	Steer float64
	Drive float64
}

// Module closes the steer position loop and the drive velocity loop of one
// swerve module.
type Module struct {
	cfg   ModuleConfig
	steer *pid.Controller

	target ModuleState
}

func NewModule(cfg ModuleConfig) *Module {
	return &Module{cfg: cfg, steer: pid.New(cfg.SteerPID)}
}

func (m *Module) Name() string {
	return m.cfg.Name
}

// Target is the last optimized state passed to Run.
func (m *Module) Target() ModuleState {
	return m.target
}

// Run drives the module towards target given the latest measurement.
func (m *Module) Run(target ModuleState, meas Measurement) Output {
	target = Optimize(target, meas.SteerAngle)
	// Scale the wheel speed down while the module is still turning towards
	// the target so it doesn't drive sideways.
	target.Speed *= math.Max(0, math.Cos(angle.Wrap(target.Angle-meas.SteerAngle)))
	m.target = target

	m.steer.SetSetpoint(target.Angle)
	steer := m.steer.Output(meas.SteerVelocity, meas.SteerAngle)

	driveCfg := m.cfg.DrivePID
	driveCfg.FeedForward = m.cfg.DriveFeedForward.Calculate(target.Speed)
	drive := pid.NewWithSetpoint(driveCfg, target.Speed).Output(0, meas.DriveVelocity)

	return Output{Steer: steer, Drive: drive}
}

// Stop clears the loops and returns a zero demand.
func (m *Module) Stop(meas Measurement) Output {
	m.target = ModuleState{Angle: meas.SteerAngle}
	m.steer.ClearSetpoint()
	return Output{}
}

// DefaultModules is a square 0.58m wheelbase with the default loop tuning.
// Outputs are volts.
func DefaultModules() []ModuleConfig {
	steer := pid.Config{
		MaxOutput:        6,
		DecelerationBand: math.Pi / 2,
		Tolerance:        1.5 * math.Pi / 180,
		Wrap:             true,
	}
	drive := pid.Config{
		MaxOutput:        12,
		DecelerationBand: 2,
	}
	ff := FeedForward{Static: 0.15, Velocity: 2.2}

	var mods []ModuleConfig
	for _, m := range []struct {
		name string
		x, y float64
	}{
		{"front_left", 0.29, 0.29},
		{"front_right", 0.29, -0.29},
		{"back_left", -0.29, 0.29},
		{"back_right", -0.29, -0.29},
	} {
		mods = append(mods, ModuleConfig{
			Name:             m.name,
			X:                m.x,
			Y:                m.y,
			SteerPID:         steer,
			DrivePID:         drive,
			DriveFeedForward: ff,
		})
	}
	return mods
}
