package joystick

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
)

type InputConfig struct {
	Device string `yaml:"device"`
	// Deadband is the fraction of stick travel ignored around centre.
	Deadband       float64 `yaml:"deadband"`
	LinearExpo     float64 `yaml:"linear_expo"`
	RotationalExpo float64 `yaml:"rotational_expo"`
	// FieldCentric is the frame used until the operator toggles it.
	FieldCentric bool `yaml:"field_centric"`
}

func DefaultInputConfig() InputConfig {
	return InputConfig{
		Device:         DefaultDevice,
		Deadband:       0.08,
		LinearExpo:     1.6,
		RotationalExpo: 2.5,
		FieldCentric:   true,
	}
}

func (c InputConfig) Validate() error {
	if c.Deadband < 0 || c.Deadband >= 1 {
		return errors.Errorf("deadband must be in [0, 1), got %v", c.Deadband)
	}
	if c.LinearExpo < 1 || c.RotationalExpo < 1 {
		return errors.New("expo must be at least 1")
	}
	return nil
}

// DriveInput turns stick positions into velocity intent.  The left stick
// translates and the right stick's X axis rotates.  Triangle toggles field
// centric driving and Share asks for a heading reset.
//
// Events arrive on the joystick goroutine while the control loop polls, so
// everything is behind a lock.
type DriveInput struct {
	cfg InputConfig

	lock         sync.Mutex
	leftX, leftY int16
	rightX       int16
	fieldCentric bool
	resetHeading bool
}

func NewDriveInput(cfg InputConfig) *DriveInput {
	return &DriveInput{cfg: cfg, fieldCentric: cfg.FieldCentric}
}

func (d *DriveInput) OnJoystickEvent(event *Event) {
	d.lock.Lock()
	defer d.lock.Unlock()
	switch event.Type {
	case EventTypeAxis:
		switch event.Number {
		case AxisLStickX:
			d.leftX = event.Value
		case AxisLStickY:
			d.leftY = event.Value
		case AxisRStickX:
			d.rightX = event.Value
		}
	case EventTypeButton:
		if event.Value != 1 || event.Initial {
			return
		}
		switch event.Number {
		case ButtonTriangle:
			d.fieldCentric = !d.fieldCentric
		case ButtonShare:
			d.resetHeading = true
		}
	}
}

// Intent maps the sticks to robot speeds: +X forward, +Y left, +Omega
// anticlockwise.
func (d *DriveInput) Intent(maxLinear, maxAngular float64) chassis.Speeds {
	d.lock.Lock()
	lx, ly, rx := d.leftX, d.leftY, d.rightX
	d.lock.Unlock()

	forward := d.shape(-axisValue(ly), d.cfg.LinearExpo)
	left := d.shape(-axisValue(lx), d.cfg.LinearExpo)
	// Diagonals would otherwise exceed full speed.
	if mag := math.Hypot(forward, left); mag > 1 {
		forward /= mag
		left /= mag
	}
	return chassis.Speeds{
		VX:    forward * maxLinear,
		VY:    left * maxLinear,
		Omega: d.shape(-axisValue(rx), d.cfg.RotationalExpo) * maxAngular,
	}
}

// FieldCentric reports the frame the operator selected.
func (d *DriveInput) FieldCentric() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.fieldCentric
}

// TakeHeadingReset reports and clears a pending heading reset request.
func (d *DriveInput) TakeHeadingReset() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	r := d.resetHeading
	d.resetHeading = false
	return r
}

func (d *DriveInput) shape(v, expo float64) float64 {
	return applyExpo(applyDeadband(v, d.cfg.Deadband), expo)
}

func axisValue(v int16) float64 {
	return math.Max(-1, math.Min(1, float64(v)/AxisMax))
}

// applyDeadband zeroes the centre of travel and rescales the rest so full
// deflection still reaches 1.
func applyDeadband(value, deadband float64) float64 {
	abs := math.Abs(value)
	if abs <= deadband {
		return 0
	}
	return math.Copysign((abs-deadband)/(1-deadband), value)
}

func applyExpo(value float64, expo float64) float64 {
	absVal := math.Abs(value)
	absExpo := math.Pow(absVal, expo)
	signedExpo := math.Copysign(absExpo, value)
	return signedExpo
}
