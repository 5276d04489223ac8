package hardware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/canmodule"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

type loopbackSocket struct {
	mu     sync.Mutex
	sent   []canbus.Frame
	closed chan struct{}
	once   sync.Once
}

func newLoopbackSocket() *loopbackSocket {
	return &loopbackSocket{closed: make(chan struct{})}
}

func (s *loopbackSocket) Send(f canbus.Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, f)
	return len(f.Data), nil
}

func (s *loopbackSocket) Recv() (canbus.Frame, error) {
	<-s.closed
	return canbus.Frame{}, errors.New("closed")
}

func (s *loopbackSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *loopbackSocket) commands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.sent {
		if f.ID&0x780 == canmodule.CommandBase {
			n++
		}
	}
	return n
}

func TestDefaultConfigValid(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Modules[1].SteerID = cfg.Modules[0].DriveID
	cfg.Gyro.Type = "compass"
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "node ID 2")
	test.That(t, err.Error(), test.ShouldContainSubstring, "compass")

	cfg = DefaultConfig()
	cfg.Modules = nil
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestHardwareLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := golog.NewTestLogger(t)
	cfg := DefaultConfig()
	cfg.Gyro.Type = GyroNone
	sock := newLoopbackSocket()
	h, err := newWithSocket(cfg, sock, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Modules(), test.ShouldHaveLength, 4)
	test.That(t, h.Refresher(), test.ShouldNotBeNil)

	reg := signal.NewRegistry(signal.Options{}, logger)
	h.RegisterSignals(reg)
	names := reg.Names()
	test.That(t, names, test.ShouldHaveLength, 4*4+2)
	test.That(t, names, test.ShouldContain, "back_right/drive_velocity")
	test.That(t, names, test.ShouldContain, signal.GyroYaw)

	test.That(t, h.Start(context.Background()), test.ShouldBeNil)
	test.That(t, h.Close(), test.ShouldBeNil)
	// Every motor was zeroed on the way out.
	test.That(t, sock.commands(), test.ShouldEqual, 8)
}

type fakePowerSensor struct {
	mu      sync.Mutex
	voltage float64
	fail    bool
}

func (f *fakePowerSensor) Configure(shuntOhms, maxCurrent float64) error { return nil }
func (f *fakePowerSensor) ReadPower() (float64, error)                   { return 0, nil }
func (f *fakePowerSensor) ReadCurrent() (float64, error)                 { return 1.5, nil }
func (f *fakePowerSensor) Close() error                                  { return nil }

func (f *fakePowerSensor) ReadBusVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("nack")
	}
	return f.voltage, nil
}

func TestPowerMonitorRecovers(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	cfg := DefaultPowerConfig()
	p := NewPowerMonitor(cfg, mock, golog.NewTestLogger(t))
	sensor := &fakePowerSensor{voltage: 12.4, fail: true}
	var opens int
	var openMu sync.Mutex
	p.open = func(PowerConfig) (ina219.Interface, func() error, error) {
		openMu.Lock()
		defer openMu.Unlock()
		opens++
		return sensor, func() error { return nil }, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var initDone sync.WaitGroup
	initDone.Add(1)
	done := make(chan struct{})
	go func() {
		p.Loop(ctx, &initDone)
		close(done)
	}()
	initDone.Wait()

	// The first read fails; the loop reopens the sensor and carries on.
	deadline := time.Now().Add(2 * time.Second)
	for p.LastReading().IsZero() {
		mock.Add(cfg.Interval)
		sensor.mu.Lock()
		sensor.fail = false
		sensor.mu.Unlock()
		mock.Add(time.Second)
		test.That(t, time.Now().Before(deadline), test.ShouldBeTrue)
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	test.That(t, p.Voltage(), test.ShouldEqual, 12.4)
	test.That(t, p.Current(), test.ShouldEqual, 1.5)
	openMu.Lock()
	test.That(t, opens, test.ShouldBeGreaterThanOrEqualTo, 1)
	openMu.Unlock()
}
