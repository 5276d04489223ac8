package hardware

import (
	"context"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

// ModuleIO is the motor pair of one swerve module.
type ModuleIO interface {
	Name() string
	// RegisterSignals adds the signal.SteerAngle, SteerVelocity,
	// DriveVelocity and DrivePosition signals, named with
	// signal.ModuleSignal.
	RegisterSignals(reg *signal.Registry)
	SetOutput(swerve.Output) error
}

// GyroIO registers signal.GyroYaw (radians, anti-clockwise positive) and
// signal.GyroYawRate (rad/s).
type GyroIO interface {
	RegisterSignals(reg *signal.Registry)
}

// Backend is a complete set of drivetrain hardware, real or simulated.
type Backend interface {
	Modules() []ModuleIO
	Gyro() GyroIO
	// Refresher is nil when the backend has nothing to refresh in bulk.
	Refresher() odometry.Refresher
	// RegisterSignals registers every device's signals.  It must run before
	// the sampler starts.
	RegisterSignals(reg *signal.Registry)
	Start(ctx context.Context) error
	Close() error
}

// Stepper is implemented by simulated backends, which advance their model
// and queue its samples once per control period instead of being sampled by
// a background loop.
type Stepper interface {
	Step()
}
