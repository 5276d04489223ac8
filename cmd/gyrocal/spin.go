package main

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
)

// spinner is the part of the drivetrain a spin test drives.
type spinner interface {
	Periodic()
	RunRobotRelative(chassis.Speeds)
	Stop()
	MeasuredAngularVelocity() float64
	MeasuredSpeeds() (chassis.Speeds, error)
}

// Result compares the gyro's yaw rate with the one the wheels report over
// the settled part of a spin.
type Result struct {
	Commanded float64
	Gyro      float64
	Wheels    float64
	Samples   int
}

// Ratio is the gyro rate over the wheel rate; 1 for a calibrated gyro.
func (r Result) Ratio() float64 {
	if r.Wheels == 0 {
		return math.NaN()
	}
	return r.Gyro / r.Wheels
}

// Spin turns on the spot at omega for d, calling wait once per control
// period, and averages the readings from the second half of the spin.
func Spin(dt spinner, omega float64, d, period time.Duration, wait func()) (Result, error) {
	if period <= 0 || d < 2*period {
		return Result{}, errors.Errorf("spin of %v is too short for period %v", d, period)
	}
	res := Result{Commanded: omega}
	ticks := int(d / period)
	for i := 0; i < ticks; i++ {
		wait()
		dt.Periodic()
		dt.RunRobotRelative(chassis.Speeds{Omega: omega})
		if i < ticks/2 {
			continue
		}
		measured, err := dt.MeasuredSpeeds()
		if err != nil {
			dt.Stop()
			return Result{}, err
		}
		res.Gyro += dt.MeasuredAngularVelocity()
		res.Wheels += measured.Omega
		res.Samples++
	}
	dt.Stop()
	res.Gyro /= float64(res.Samples)
	res.Wheels /= float64(res.Samples)
	return res, nil
}
