// Package drivetrain ties the hardware backend, the odometry sampler and the
// swerve modules together behind the interface the velocity shaper drives.
//
// Drivetrain is owned by the control loop goroutine.  Only the sampler's
// background loop runs concurrently with it, and the two meet solely at the
// odometry lock.
package drivetrain

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drive"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

// OdometryFrame is everything sampled since the previous control period.
// Signals[name][i] was sampled at Timestamps[i].
type OdometryFrame struct {
	Timestamps []float64            `yaml:"timestamps"`
	Degraded   bool                 `yaml:"degraded,omitempty"`
	Signals    map[string][]float64 `yaml:"signals"`
}

// PoseEstimator consumes odometry frames; the fusion itself lives elsewhere.
type PoseEstimator interface {
	AddOdometry(OdometryFrame)
}

// Recorder persists frames for later replay.
type Recorder interface {
	Write(OdometryFrame) error
}

// SignalReplay supplies the recorded signal values that go with the batch the
// sampler just returned in REPLAY mode.
type SignalReplay interface {
	ReplayedSignals() map[string][]float64
}

type Config struct {
	// MaxModuleSpeed caps every wheel, in m/s.
	MaxModuleSpeed float64               `yaml:"max_module_speed"`
	Modules        []swerve.ModuleConfig `yaml:"modules"`
}

func DefaultConfig() Config {
	return Config{
		MaxModuleSpeed: 4.5,
		Modules:        swerve.DefaultModules(),
	}
}

func (c Config) Validate() error {
	if c.MaxModuleSpeed <= 0 {
		return errors.Errorf("max_module_speed must be positive, got %v", c.MaxModuleSpeed)
	}
	if len(c.Modules) < 2 {
		return errors.Errorf("need at least two modules, got %d", len(c.Modules))
	}
	var err error
	for _, m := range c.Modules {
		err = multierr.Append(err, m.Validate())
	}
	return err
}

type Options struct {
	Estimator PoseEstimator
	Recorder  Recorder
	Replay    SignalReplay
}

type Drivetrain struct {
	cfg      Config
	logger   golog.Logger
	backend  hardware.Backend
	registry *signal.Registry
	sampler  *odometry.Sampler
	opts     Options

	kin     *swerve.Kinematics
	modules []*swerve.Module
	io      []hardware.ModuleIO

	latest        map[string]float64
	haveYaw       bool
	headingOffset float64
	frames        uint64
	degraded      uint64
}

var _ drive.Drivetrain = (*Drivetrain)(nil)

// New wires modules to the backend's module IO by name.  The backend's
// signals must already be registered in registry.
func New(
	cfg Config,
	backend hardware.Backend,
	registry *signal.Registry,
	sampler *odometry.Sampler,
	opts Options,
	logger golog.Logger,
) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid drivetrain config")
	}
	byName := map[string]hardware.ModuleIO{}
	for _, io := range backend.Modules() {
		byName[io.Name()] = io
	}

	d := &Drivetrain{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		registry: registry,
		sampler:  sampler,
		opts:     opts,
		latest:   map[string]float64{},
	}
	var pos []r2.Point
	for _, m := range cfg.Modules {
		io, ok := byName[m.Name]
		if !ok {
			return nil, errors.Errorf("backend has no module named %q", m.Name)
		}
		d.io = append(d.io, io)
		d.modules = append(d.modules, swerve.NewModule(m))
		pos = append(pos, m.Position())
	}
	kin, err := swerve.NewKinematics(pos...)
	if err != nil {
		return nil, err
	}
	d.kin = kin
	return d, nil
}

// Start starts the hardware and then the sampler, which ends signal
// registration.
func (d *Drivetrain) Start(ctx context.Context) error {
	if err := d.backend.Start(ctx); err != nil {
		return errors.Wrap(err, "starting hardware")
	}
	d.sampler.Start(ctx)
	return nil
}

// Close stops the sampler, then zeroes and releases the hardware.
func (d *Drivetrain) Close() error {
	d.sampler.Stop()
	d.Stop()
	return d.backend.Close()
}

// Periodic collects the odometry gathered since the last call and hands it
// to the estimator and recorder.  Call it once per control period before
// running the shaper.
func (d *Drivetrain) Periodic() OdometryFrame {
	if stepper, ok := d.backend.(hardware.Stepper); ok && d.opts.Replay == nil {
		stepper.Step()
	}

	d.sampler.LockOdometry()
	batch := d.sampler.Update()
	var signals map[string][]float64
	if d.opts.Replay != nil {
		signals = d.opts.Replay.ReplayedSignals()
	} else {
		signals = d.registry.DrainSignalsLocked()
	}
	d.sampler.UnlockOdometry()

	frame := OdometryFrame{Timestamps: batch.Timestamps, Degraded: batch.Degraded, Signals: signals}
	d.absorb(frame)

	if d.opts.Estimator != nil {
		d.opts.Estimator.AddOdometry(frame)
	}
	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.Write(frame); err != nil {
			d.logger.Warnw("failed to record odometry frame", "error", err)
		}
	}
	return frame
}

func (d *Drivetrain) absorb(frame OdometryFrame) {
	d.frames++
	if frame.Degraded {
		d.degraded++
		d.logger.Debugw("degraded odometry frame", "samples", len(frame.Timestamps))
	}
	for name, values := range frame.Signals {
		if len(values) == 0 {
			continue
		}
		d.latest[name] = values[len(values)-1]
		if name == signal.GyroYaw {
			d.haveYaw = true
		}
	}
}

// Stats returns how many frames have been collected and how many of them
// were degraded.
func (d *Drivetrain) Stats() (frames, degraded uint64) {
	return d.frames, d.degraded
}

// Latest is the most recent sample of a signal.
func (d *Drivetrain) Latest(name string) (float64, bool) {
	v, ok := d.latest[name]
	return v, ok
}

// Facing is the gyro heading, wrapped to (-pi, pi], relative to the last
// ResetHeading.
func (d *Drivetrain) Facing() (float64, bool) {
	if !d.haveYaw {
		return 0, false
	}
	return angle.Wrap(d.latest[signal.GyroYaw] - d.headingOffset), true
}

// ResetHeading makes the current facing read as heading.
func (d *Drivetrain) ResetHeading(heading float64) {
	d.headingOffset = d.latest[signal.GyroYaw] - heading
}

func (d *Drivetrain) MeasuredAngularVelocity() float64 {
	return d.latest[signal.GyroYawRate]
}

// MeasuredSpeeds is the robot-relative chassis motion the module sensors
// report.
func (d *Drivetrain) MeasuredSpeeds() (chassis.Speeds, error) {
	states := make([]swerve.ModuleState, len(d.modules))
	for i := range d.modules {
		states[i] = d.measurement(i).State()
	}
	return d.kin.ToChassisSpeeds(states)
}

func (d *Drivetrain) measurement(i int) swerve.Measurement {
	name := d.cfg.Modules[i].Name
	get := func(kind string) float64 { return d.latest[signal.ModuleSignal(name, kind)] }
	return swerve.Measurement{
		SteerAngle:    get(signal.SteerAngle),
		SteerVelocity: get(signal.SteerVelocity),
		DriveVelocity: get(signal.DriveVelocity),
		DrivePosition: get(signal.DrivePosition),
	}
}

func (d *Drivetrain) Stop() {
	for i, m := range d.modules {
		d.setOutput(i, m.Stop(d.measurement(i)))
	}
}

func (d *Drivetrain) RunRobotRelative(s chassis.Speeds) {
	states := d.kin.ToModuleStates(s)
	swerve.Desaturate(states, d.cfg.MaxModuleSpeed)
	for i, m := range d.modules {
		d.setOutput(i, m.Run(states[i], d.measurement(i)))
	}
}

// RunFieldRelative rotates s into the robot frame using the current facing,
// or the last known one when the gyro has not reported.
func (d *Drivetrain) RunFieldRelative(s chassis.Speeds) {
	facing, _ := d.Facing()
	d.RunRobotRelative(chassis.FieldToRobot(s, facing))
}

// Targets are the optimized module states last commanded.
func (d *Drivetrain) Targets() []swerve.ModuleState {
	out := make([]swerve.ModuleState, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.Target()
	}
	return out
}

func (d *Drivetrain) setOutput(i int, out swerve.Output) {
	if math.IsNaN(out.Steer) || math.IsNaN(out.Drive) {
		d.logger.Errorw("refusing NaN module output", "module", d.modules[i].Name())
		out = swerve.Output{}
	}
	if err := d.io[i].SetOutput(out); err != nil {
		d.logger.Warnw("failed to set module output", "module", d.modules[i].Name(), "error", err)
	}
}
