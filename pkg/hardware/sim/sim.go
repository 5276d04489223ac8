// Package sim is a hardware backend with first-order motor models, for
// running the control stack without a robot.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

type Config struct {
	Period         time.Duration `yaml:"period"`
	TicksPerPeriod int           `yaml:"ticks_per_period"`

	// Steady-state speed per volt and time constant of each motor.
	SteerGain         float64       `yaml:"steer_gain"`
	SteerTimeConstant time.Duration `yaml:"steer_time_constant"`
	DriveGain         float64       `yaml:"drive_gain"`
	DriveTimeConstant time.Duration `yaml:"drive_time_constant"`

	BatteryVoltage    float64 `yaml:"battery_voltage"`
	BatteryResistance float64 `yaml:"battery_resistance"`
}

func DefaultConfig() Config {
	return Config{
		Period:            odometry.DefaultPeriod,
		TicksPerPeriod:    odometry.DefaultSimTicksPerPeriod,
		SteerGain:         3,
		SteerTimeConstant: 20 * time.Millisecond,
		DriveGain:         0.45,
		DriveTimeConstant: 60 * time.Millisecond,
		BatteryVoltage:    12.6,
		BatteryResistance: 0.02,
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 || c.TicksPerPeriod <= 0 {
		return errors.New("sim period and ticks_per_period must be positive")
	}
	if c.SteerTimeConstant <= 0 || c.DriveTimeConstant <= 0 {
		return errors.New("sim time constants must be positive")
	}
	return nil
}

// Backend simulates the modules and derives the gyro from their motion.
type Backend struct {
	cfg    Config
	logger golog.Logger

	kin     *swerve.Kinematics
	modules []*Module
	gyro    *Gyro

	lock     sync.Mutex
	registry *signal.Registry
	battery  float64
}

var (
	_ hardware.Backend = (*Backend)(nil)
	_ hardware.Stepper = (*Backend)(nil)
)

func New(cfg Config, modules []swerve.ModuleConfig, logger golog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var pos []r2.Point
	b := &Backend{cfg: cfg, logger: logger, gyro: &Gyro{}, battery: cfg.BatteryVoltage}
	for _, m := range modules {
		pos = append(pos, m.Position())
		b.modules = append(b.modules, &Module{name: m.Name, cfg: cfg})
	}
	kin, err := swerve.NewKinematics(pos...)
	if err != nil {
		return nil, err
	}
	b.kin = kin
	return b, nil
}

func (b *Backend) Modules() []hardware.ModuleIO {
	out := make([]hardware.ModuleIO, len(b.modules))
	for i, m := range b.modules {
		out[i] = m
	}
	return out
}

func (b *Backend) SimModules() []*Module {
	return b.modules
}

func (b *Backend) Gyro() hardware.GyroIO {
	return b.gyro
}

func (b *Backend) Refresher() odometry.Refresher {
	return nil
}

func (b *Backend) RegisterSignals(reg *signal.Registry) {
	b.lock.Lock()
	b.registry = reg
	b.lock.Unlock()
	for _, m := range b.modules {
		m.RegisterSignals(reg)
	}
	b.gyro.RegisterSignals(reg)
	reg.Register(signal.BatteryVoltage, b.Battery)
}

func (b *Backend) Battery() float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.battery
}

func (b *Backend) Start(ctx context.Context) error {
	b.logger.Infow("simulated hardware started", "modules", len(b.modules),
		"ticks_per_period", b.cfg.TicksPerPeriod)
	return nil
}

func (b *Backend) Close() error {
	for _, m := range b.modules {
		_ = m.SetOutput(swerve.Output{})
	}
	return nil
}

// Step advances the model by one control period in TicksPerPeriod sub-ticks,
// queueing one sample of every signal per sub-tick so the queues line up
// with the SIM sampler's timestamps.
func (b *Backend) Step() {
	b.lock.Lock()
	reg := b.registry
	b.lock.Unlock()
	if reg == nil {
		return
	}

	dt := b.cfg.Period.Seconds() / float64(b.cfg.TicksPerPeriod)
	reg.LockOdometry()
	defer reg.UnlockOdometry()
	for i := 0; i < b.cfg.TicksPerPeriod; i++ {
		states := make([]swerve.ModuleState, len(b.modules))
		var load float64
		for j, m := range b.modules {
			states[j] = m.step(dt)
			load += math.Abs(m.driveVolts())
		}
		speeds, err := b.kin.ToChassisSpeeds(states)
		if err != nil {
			b.logger.Errorw("sim kinematics failed", "error", err)
			return
		}
		b.gyro.step(speeds.Omega, dt)
		b.lock.Lock()
		b.battery = b.cfg.BatteryVoltage - b.cfg.BatteryResistance*load
		b.lock.Unlock()
		reg.SampleSignalsLocked()
	}
}

// Module is one simulated swerve module.
type Module struct {
	name string
	cfg  Config

	lock          sync.Mutex
	steerVolts    float64
	driveVoltsCmd float64
	steerAngle    float64
	steerVelocity float64
	driveVelocity float64
	drivePosition float64
}

func (m *Module) Name() string {
	return m.name
}

func (m *Module) RegisterSignals(reg *signal.Registry) {
	get := func(f func() float64) signal.Producer {
		return func() float64 {
			m.lock.Lock()
			defer m.lock.Unlock()
			return f()
		}
	}
	reg.Register(signal.ModuleSignal(m.name, signal.SteerAngle), get(func() float64 { return m.steerAngle }))
	reg.Register(signal.ModuleSignal(m.name, signal.SteerVelocity), get(func() float64 { return m.steerVelocity }))
	reg.Register(signal.ModuleSignal(m.name, signal.DriveVelocity), get(func() float64 { return m.driveVelocity }))
	reg.Register(signal.ModuleSignal(m.name, signal.DrivePosition), get(func() float64 { return m.drivePosition }))
}

func (m *Module) SetOutput(out swerve.Output) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.steerVolts = out.Steer
	m.driveVoltsCmd = out.Drive
	return nil
}

// SetSteerAngle places the module, for tests and scripted starts.
func (m *Module) SetSteerAngle(a float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.steerAngle = a
}

func (m *Module) driveVolts() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.driveVoltsCmd
}

func (m *Module) step(dt float64) swerve.ModuleState {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.steerVelocity = firstOrder(m.steerVelocity, m.steerVolts*m.cfg.SteerGain, dt, m.cfg.SteerTimeConstant)
	m.steerAngle += m.steerVelocity * dt
	m.driveVelocity = firstOrder(m.driveVelocity, m.driveVoltsCmd*m.cfg.DriveGain, dt, m.cfg.DriveTimeConstant)
	m.drivePosition += m.driveVelocity * dt
	return swerve.ModuleState{Speed: m.driveVelocity, Angle: m.steerAngle}
}

func firstOrder(current, target, dt float64, tau time.Duration) float64 {
	alpha := 1 - math.Exp(-dt/tau.Seconds())
	return current + (target-current)*alpha
}

// Gyro integrates the chassis yaw rate recovered from the module states.
type Gyro struct {
	lock    sync.Mutex
	yaw     float64
	yawRate float64
}

func (g *Gyro) RegisterSignals(reg *signal.Registry) {
	reg.Register(signal.GyroYaw, g.Yaw)
	reg.Register(signal.GyroYawRate, g.YawRate)
}

func (g *Gyro) Yaw() float64 {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.yaw
}

func (g *Gyro) YawRate() float64 {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.yawRate
}

func (g *Gyro) step(omega, dt float64) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.yawRate = omega
	g.yaw += omega * dt
}
