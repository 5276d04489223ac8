package drivetrain

import (
	"context"
	"math"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/sim"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

type captureEstimator struct {
	frames []OdometryFrame
}

func (c *captureEstimator) AddOdometry(f OdometryFrame) {
	c.frames = append(c.frames, f)
}

type failingRecorder struct {
	writes int
}

func (f *failingRecorder) Write(OdometryFrame) error {
	f.writes++
	return errors.New("disk full")
}

type harness struct {
	mock *clock.Mock
	d    *Drivetrain
}

func newSimDrivetrain(t *testing.T, opts Options) harness {
	t.Helper()
	logger := golog.NewTestLogger(t)
	mock := clock.NewMock()

	backend, err := sim.New(sim.DefaultConfig(), swerve.DefaultModules(), logger)
	test.That(t, err, test.ShouldBeNil)
	reg := signal.NewRegistry(signal.Options{}, logger)
	backend.RegisterSignals(reg)
	sampler, err := odometry.New(odometry.ModeSim, reg, odometry.Options{Clock: mock}, logger)
	test.That(t, err, test.ShouldBeNil)

	d, err := New(DefaultConfig(), backend, reg, sampler, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, d.Close(), test.ShouldBeNil) })
	return harness{mock: mock, d: d}
}

func (h harness) period() OdometryFrame {
	h.mock.Add(odometry.DefaultPeriod)
	return h.d.Periodic()
}

func TestPeriodicCollectsSubTicks(t *testing.T) {
	est := &captureEstimator{}
	h := newSimDrivetrain(t, Options{Estimator: est})

	_, ok := h.d.Facing()
	test.That(t, ok, test.ShouldBeFalse)

	frame := h.period()
	test.That(t, frame.Timestamps, test.ShouldHaveLength, odometry.DefaultSimTicksPerPeriod)
	test.That(t, frame.Degraded, test.ShouldBeFalse)
	for name, values := range frame.Signals {
		test.That(t, name, test.ShouldNotBeEmpty)
		test.That(t, values, test.ShouldHaveLength, len(frame.Timestamps))
	}
	test.That(t, est.frames, test.ShouldHaveLength, 1)

	facing, ok := h.d.Facing()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, facing, test.ShouldEqual, 0)
	v, ok := h.d.Latest(signal.BatteryVoltage)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 12.6)

	frames, degraded := h.d.Stats()
	test.That(t, frames, test.ShouldEqual, uint64(1))
	test.That(t, degraded, test.ShouldEqual, uint64(0))
}

func TestDriveForward(t *testing.T) {
	h := newSimDrivetrain(t, Options{})
	for i := 0; i < 50; i++ {
		h.period()
		h.d.RunRobotRelative(chassis.Speeds{VX: 1})
	}
	h.period()

	measured, err := h.d.MeasuredSpeeds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, measured.VX, test.ShouldBeBetweenOrEqual, 0.9, 1.1)
	test.That(t, measured.VY, test.ShouldAlmostEqual, 0, 1e-6)
	facing, _ := h.d.Facing()
	test.That(t, facing, test.ShouldAlmostEqual, 0, 1e-6)
	for _, target := range h.d.Targets() {
		test.That(t, target.Angle, test.ShouldAlmostEqual, 0)
		test.That(t, target.Speed, test.ShouldAlmostEqual, 1)
	}
}

func TestDesaturatesModuleSpeeds(t *testing.T) {
	h := newSimDrivetrain(t, Options{})
	h.period()
	h.d.RunRobotRelative(chassis.Speeds{VX: 4, Omega: 8})
	for _, target := range h.d.Targets() {
		test.That(t, math.Abs(target.Speed), test.ShouldBeLessThanOrEqualTo, DefaultConfig().MaxModuleSpeed+1e-9)
	}
}

func TestSpinAndResetHeading(t *testing.T) {
	h := newSimDrivetrain(t, Options{})
	for i := 0; i < 100; i++ {
		h.period()
		h.d.RunRobotRelative(chassis.Speeds{Omega: 1})
	}
	h.period()

	test.That(t, h.d.MeasuredAngularVelocity(), test.ShouldBeBetweenOrEqual, 0.7, 1.3)
	facing, ok := h.d.Facing()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, facing, test.ShouldNotAlmostEqual, 0)

	h.d.ResetHeading(0.5)
	facing, _ = h.d.Facing()
	test.That(t, facing, test.ShouldAlmostEqual, 0.5)
}

func TestFieldRelativeUsesFacing(t *testing.T) {
	h := newSimDrivetrain(t, Options{})
	h.period()
	h.d.ResetHeading(math.Pi)

	// Facing backwards, field +X is robot -X.
	h.d.RunFieldRelative(chassis.Speeds{VX: 1})
	for _, target := range h.d.Targets() {
		test.That(t, target.Speed*math.Cos(target.Angle), test.ShouldAlmostEqual, -1, 1e-9)
		test.That(t, target.Speed*math.Sin(target.Angle), test.ShouldAlmostEqual, 0, 1e-9)
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	rec := &failingRecorder{}
	h := newSimDrivetrain(t, Options{Recorder: rec})
	h.period()
	h.period()
	test.That(t, rec.writes, test.ShouldEqual, 2)
}

type fakeReplay struct {
	batches []odometry.Batch
	signals []map[string][]float64
	served  int
}

func (f *fakeReplay) NextBatch() (odometry.Batch, bool) {
	if f.served >= len(f.batches) {
		return odometry.Batch{}, false
	}
	return f.batches[f.served], true
}

func (f *fakeReplay) ReplayedSignals() map[string][]float64 {
	if f.served >= len(f.signals) {
		return nil
	}
	s := f.signals[f.served]
	f.served++
	return s
}

func TestReplayBypassesBackend(t *testing.T) {
	logger := golog.NewTestLogger(t)
	backend, err := sim.New(sim.DefaultConfig(), swerve.DefaultModules(), logger)
	test.That(t, err, test.ShouldBeNil)
	reg := signal.NewRegistry(signal.Options{}, logger)
	backend.RegisterSignals(reg)

	replay := &fakeReplay{
		batches: []odometry.Batch{{Timestamps: []float64{1, 1.01}, Degraded: true}},
		signals: []map[string][]float64{{signal.GyroYaw: {0.1, 0.2}}},
	}
	sampler, err := odometry.New(odometry.ModeReplay, reg, odometry.Options{Replay: replay}, logger)
	test.That(t, err, test.ShouldBeNil)
	d, err := New(DefaultConfig(), backend, reg, sampler, Options{Replay: replay}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Start(context.Background()), test.ShouldBeNil)
	defer func() { test.That(t, d.Close(), test.ShouldBeNil) }()

	frame := d.Periodic()
	test.That(t, frame.Timestamps, test.ShouldResemble, []float64{1, 1.01})
	test.That(t, frame.Degraded, test.ShouldBeTrue)
	test.That(t, frame.Signals, test.ShouldHaveLength, 1)
	facing, ok := d.Facing()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, facing, test.ShouldAlmostEqual, 0.2)
	_, degraded := d.Stats()
	test.That(t, degraded, test.ShouldEqual, uint64(1))

	// The simulation was never stepped.
	reg.LockOdometry()
	test.That(t, reg.DrainSignalsLocked()[signal.GyroYaw], test.ShouldBeEmpty)
	reg.UnlockOdometry()

	frame = d.Periodic()
	test.That(t, frame.Timestamps, test.ShouldBeEmpty)
}

func TestNewRejectsUnknownModule(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := DefaultConfig()
	backend, err := sim.New(sim.DefaultConfig(), cfg.Modules[:2], logger)
	test.That(t, err, test.ShouldBeNil)
	reg := signal.NewRegistry(signal.Options{}, logger)
	sampler, err := odometry.New(odometry.ModeSim, reg, odometry.Options{}, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = New(cfg, backend, reg, sampler, Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "back_left")

	cfg.MaxModuleSpeed = 0
	_, err = New(cfg, backend, reg, sampler, Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
