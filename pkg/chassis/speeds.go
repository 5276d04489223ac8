package chassis

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Speeds is a chassis velocity command.  VX is forward, VY is left and Omega
// is anti-clockwise positive, in m/s and rad/s.
type Speeds struct {
	VX    float64 `yaml:"vx"`
	VY    float64 `yaml:"vy"`
	Omega float64 `yaml:"omega"`
}

func (s Speeds) String() string {
	return fmt.Sprintf("(vx=%.3f vy=%.3f omega=%.3f)", s.VX, s.VY, s.Omega)
}

func (s Speeds) Linear() r2.Point {
	return r2.Point{X: s.VX, Y: s.VY}
}

// LinearMagnitude is the magnitude of the translation component.
func (s Speeds) LinearMagnitude() float64 {
	return s.Linear().Norm()
}

// IsZero reports whether the command is exactly the stop command.
func (s Speeds) IsZero() bool {
	return s.VX == 0 && s.VY == 0 && s.Omega == 0
}

// Limits are the physical capabilities of the chassis.
type Limits struct {
	MaxLinearVelocity      float64 `yaml:"max_linear_velocity"`
	MaxAngularVelocity     float64 `yaml:"max_angular_velocity"`
	MaxLinearAcceleration  float64 `yaml:"max_linear_acceleration"`
	MaxAngularAcceleration float64 `yaml:"max_angular_acceleration"`
}

// ConstrainAcceleration returns the command closest to next that can be
// reached from prev within dtSecs.  The translation change is limited as a
// vector, so each axis is bounded by maxLinearAccel*dtSecs as well.
func ConstrainAcceleration(prev, next Speeds, dtSecs, maxLinearAccel, maxAngularAccel float64) Speeds {
	maxLinearDelta := maxLinearAccel * dtSecs
	maxAngularDelta := maxAngularAccel * dtSecs

	delta := next.Linear().Sub(prev.Linear())
	if n := delta.Norm(); n > maxLinearDelta {
		if maxLinearDelta <= 0 {
			delta = r2.Point{}
		} else {
			delta = delta.Mul(maxLinearDelta / n)
		}
	}
	linear := prev.Linear().Add(delta)

	omegaDelta := next.Omega - prev.Omega
	if omegaDelta > maxAngularDelta {
		omegaDelta = maxAngularDelta
	} else if omegaDelta < -maxAngularDelta {
		omegaDelta = -maxAngularDelta
	}

	return Speeds{VX: linear.X, VY: linear.Y, Omega: prev.Omega + omegaDelta}
}

// FieldToRobot rotates a field-relative command into the robot frame given
// the robot's facing in radians.
func FieldToRobot(s Speeds, facing float64) Speeds {
	v := rotate(s.Linear(), -facing)
	return Speeds{VX: v.X, VY: v.Y, Omega: s.Omega}
}

// RobotToField is the inverse of FieldToRobot.
func RobotToField(s Speeds, facing float64) Speeds {
	v := rotate(s.Linear(), facing)
	return Speeds{VX: v.X, VY: v.Y, Omega: s.Omega}
}

func rotate(p r2.Point, theta float64) r2.Point {
	sin, cos := math.Sincos(theta)
	return r2.Point{X: p.X*cos - p.Y*sin, Y: p.X*sin + p.Y*cos}
}
