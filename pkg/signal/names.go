package signal

// Per-module signal kinds, combined with a module name by ModuleSignal.
const (
	SteerAngle    = "steer_angle"
	SteerVelocity = "steer_velocity"
	DriveVelocity = "drive_velocity"
	DrivePosition = "drive_position"
)

// Chassis-wide signals.
const (
	GyroYaw        = "gyro/yaw"
	GyroYawRate    = "gyro/yaw_rate"
	BatteryVoltage = "battery/voltage"
	BatteryCurrent = "battery/current"
)

func ModuleSignal(module, kind string) string {
	return module + "/" + kind
}
