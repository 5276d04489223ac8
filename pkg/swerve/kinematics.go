// Package swerve converts chassis commands to per-module wheel states and back.
package swerve

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
)

// ModuleState is a wheel speed in m/s and a steer angle in radians.
type ModuleState struct {
	Speed float64 `yaml:"speed"`
	Angle float64 `yaml:"angle"`
}

func (s ModuleState) String() string {
	return fmt.Sprintf("(%.3fm/s @ %.1f°)", s.Speed, s.Angle*180/math.Pi)
}

type Kinematics struct {
	translations []r2.Point
	// inverse maps (vx, vy, omega) onto the interleaved (vx_i, vy_i) of
	// every module.
	inverse *mat.Dense

	lastAngles []float64
}

// NewKinematics takes each module's position relative to the robot centre,
// in metres, x forward and y left.
func NewKinematics(translations ...r2.Point) (*Kinematics, error) {
	if len(translations) < 2 {
		return nil, errors.Errorf("need at least two modules, got %d", len(translations))
	}
	// With every module in the same place rotation is indistinguishable from
	// translation.
	distinct := false
	for _, t := range translations[1:] {
		if t != translations[0] {
			distinct = true
		}
	}
	if !distinct {
		return nil, errors.New("module translations must not all coincide")
	}
	inverse := mat.NewDense(2*len(translations), 3, nil)
	for i, t := range translations {
		inverse.SetRow(2*i, []float64{1, 0, -t.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, t.X})
	}
	return &Kinematics{
		translations: translations,
		inverse:      inverse,
		lastAngles:   make([]float64, len(translations)),
	}, nil
}

func (k *Kinematics) NumModules() int {
	return len(k.translations)
}

// ToModuleStates returns one state per module.  A zero command keeps every
// module at its previous angle so the wheels don't snap to zero when idle.
func (k *Kinematics) ToModuleStates(s chassis.Speeds) []ModuleState {
	states := make([]ModuleState, len(k.translations))
	if s.IsZero() {
		for i := range states {
			states[i].Angle = k.lastAngles[i]
		}
		return states
	}

	var out mat.VecDense
	out.MulVec(k.inverse, mat.NewVecDense(3, []float64{s.VX, s.VY, s.Omega}))
	for i := range states {
		v := r2.Point{X: out.AtVec(2 * i), Y: out.AtVec(2*i + 1)}
		states[i] = ModuleState{Speed: v.Norm(), Angle: math.Atan2(v.Y, v.X)}
		k.lastAngles[i] = states[i].Angle
	}
	return states
}

// ToChassisSpeeds is the least-squares chassis motion that best explains the
// measured module states.
func (k *Kinematics) ToChassisSpeeds(states []ModuleState) (chassis.Speeds, error) {
	if len(states) != len(k.translations) {
		return chassis.Speeds{}, errors.Errorf("expected %d module states, got %d", len(k.translations), len(states))
	}
	measured := mat.NewVecDense(2*len(states), nil)
	for i, st := range states {
		sin, cos := math.Sincos(st.Angle)
		measured.SetVec(2*i, st.Speed*cos)
		measured.SetVec(2*i+1, st.Speed*sin)
	}
	var x mat.VecDense
	if err := x.SolveVec(k.inverse, measured); err != nil {
		return chassis.Speeds{}, errors.Wrap(err, "solving forward kinematics")
	}
	return chassis.Speeds{VX: x.AtVec(0), VY: x.AtVec(1), Omega: x.AtVec(2)}, nil
}

// Desaturate scales all wheel speeds down together so none exceeds
// maxSpeed, preserving the commanded direction of motion.
func Desaturate(states []ModuleState, maxSpeed float64) {
	var fastest float64
	for _, s := range states {
		fastest = math.Max(fastest, math.Abs(s.Speed))
	}
	if fastest <= maxSpeed || fastest == 0 {
		return
	}
	scale := maxSpeed / fastest
	for i := range states {
		states[i].Speed *= scale
	}
}

// Optimize flips the target by half a turn and reverses the wheel when that
// needs less than a quarter turn of steering from currentAngle.
func Optimize(target ModuleState, currentAngle float64) ModuleState {
	delta := angle.Wrap(target.Angle - currentAngle)
	if math.Abs(delta) <= math.Pi/2 {
		return target
	}
	return ModuleState{
		Speed: -target.Speed,
		Angle: angle.Wrap(target.Angle + math.Pi),
	}
}
