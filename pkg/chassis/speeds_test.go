package chassis

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestConstrainAccelerationPassesSmallChanges(t *testing.T) {
	prev := Speeds{VX: 1, VY: 0, Omega: 0.5}
	next := Speeds{VX: 1.05, VY: 0.02, Omega: 0.45}
	out := ConstrainAcceleration(prev, next, 0.02, 10, 10)
	test.That(t, out.VX, test.ShouldAlmostEqual, next.VX)
	test.That(t, out.VY, test.ShouldAlmostEqual, next.VY)
	test.That(t, out.Omega, test.ShouldAlmostEqual, next.Omega)
}

func TestConstrainAccelerationClampsJumps(t *testing.T) {
	out := ConstrainAcceleration(Speeds{}, Speeds{VX: 4, VY: 3, Omega: -6}, 0.02, 5, 10)
	// Linear step is 5*0.02 = 0.1 along the (4,3) direction.
	test.That(t, out.LinearMagnitude(), test.ShouldAlmostEqual, 0.1)
	test.That(t, out.VX, test.ShouldAlmostEqual, 0.08)
	test.That(t, out.VY, test.ShouldAlmostEqual, 0.06)
	test.That(t, out.Omega, test.ShouldAlmostEqual, -0.2)
}

func TestConstrainAccelerationPerAxisBound(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const dt, maxLin, maxAng = 0.02, 6.0, 12.0
	prev := Speeds{}
	for i := 0; i < 1000; i++ {
		next := Speeds{VX: r.Float64()*8 - 4, VY: r.Float64()*8 - 4, Omega: r.Float64()*20 - 10}
		out := ConstrainAcceleration(prev, next, dt, maxLin, maxAng)
		test.That(t, math.Abs(out.VX-prev.VX), test.ShouldBeLessThanOrEqualTo, maxLin*dt+1e-12)
		test.That(t, math.Abs(out.VY-prev.VY), test.ShouldBeLessThanOrEqualTo, maxLin*dt+1e-12)
		test.That(t, math.Abs(out.Omega-prev.Omega), test.ShouldBeLessThanOrEqualTo, maxAng*dt+1e-12)
		prev = out
	}
}

func TestConstrainAccelerationZeroLimit(t *testing.T) {
	prev := Speeds{VX: 1}
	out := ConstrainAcceleration(prev, Speeds{VX: 3}, 0.02, 0, 0)
	test.That(t, out, test.ShouldResemble, prev)
}

func TestFieldRobotRoundTrip(t *testing.T) {
	field := Speeds{VX: 1, VY: 0, Omega: 0.3}
	robot := FieldToRobot(field, math.Pi/2)
	// Facing field +Y, field +X is to the robot's right.
	test.That(t, robot.VX, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, robot.VY, test.ShouldAlmostEqual, -1, 1e-12)
	test.That(t, robot.Omega, test.ShouldEqual, 0.3)

	back := RobotToField(robot, math.Pi/2)
	test.That(t, back.VX, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, back.VY, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestIsZero(t *testing.T) {
	test.That(t, Speeds{}.IsZero(), test.ShouldBeTrue)
	test.That(t, Speeds{Omega: 1e-9}.IsZero(), test.ShouldBeFalse)
}
