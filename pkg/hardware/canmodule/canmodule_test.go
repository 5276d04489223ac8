package canmodule

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

var errClosed = errors.New("socket closed")

// fakeSocket answers every SYNC with a status frame from each node in
// respond.
type fakeSocket struct {
	mu      sync.Mutex
	sent    []canbus.Frame
	respond map[uint8][2]float32
	rx      chan canbus.Frame
	closed  chan struct{}
	once    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		respond: map[uint8][2]float32{},
		rx:      make(chan canbus.Frame, 64),
		closed:  make(chan struct{}),
	}
}

func statusFrame(id uint8, pos, vel float32) canbus.Frame {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(pos))
	binary.LittleEndian.PutUint32(data[4:8], math.Float32bits(vel))
	return canbus.Frame{ID: StatusBase | uint32(id), Data: data, Kind: canbus.SFF}
}

func (f *fakeSocket) Send(frame canbus.Frame) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	if frame.ID == SyncID {
		for id, pv := range f.respond {
			f.rx <- statusFrame(id, pv[0], pv[1])
		}
	}
	return len(frame.Data), nil
}

func (f *fakeSocket) Recv() (canbus.Frame, error) {
	select {
	case frame := <-f.rx:
		return frame, nil
	case <-f.closed:
		return canbus.Frame{}, errClosed
	}
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) sentWithID(id uint32) []canbus.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []canbus.Frame
	for _, frame := range f.sent {
		if frame.ID == id {
			out = append(out, frame)
		}
	}
	return out
}

func testModuleConfig() ModuleConfig {
	return ModuleConfig{
		Name:        "front_left",
		SteerID:     1,
		DriveID:     2,
		SteerRatio:  12.8,
		DriveRatio:  6.75,
		WheelRadius: 0.05,
		SteerOffset: 0.1,
	}
}

func TestRefreshAllWaitsForEveryMotor(t *testing.T) {
	defer goleak.VerifyNone(t)

	sock := newFakeSocket()
	bus := NewBus(sock, nil, golog.NewTestLogger(t))
	mod := NewModule(bus, testModuleConfig())
	test.That(t, mod.Name(), test.ShouldEqual, "front_left")
	bus.Start(context.Background())
	defer func() { test.That(t, bus.Close(), test.ShouldBeNil) }()

	sock.respond[1] = [2]float32{6.4, 12.8}
	sock.respond[2] = [2]float32{6.75, -6.75}
	test.That(t, bus.RefreshAll(time.Second), test.ShouldBeNil)
	test.That(t, sock.sentWithID(SyncID), test.ShouldHaveLength, 1)

	reg := signal.NewRegistry(signal.Options{UpdateRate: 250, RefreshTimeout: 20 * time.Millisecond}, golog.NewTestLogger(t))
	mod.RegisterSignals(reg)
	test.That(t, reg.Names(), test.ShouldHaveLength, 4)
	reg.Sample(1)

	reg.LockOdometry()
	values := reg.DrainSignalsLocked()
	reg.UnlockOdometry()
	test.That(t, values["front_left/steer_angle"][0], test.ShouldAlmostEqual, math.Pi-0.1, 1e-5)
	test.That(t, values["front_left/steer_velocity"][0], test.ShouldAlmostEqual, 2*math.Pi, 1e-5)
	test.That(t, values["front_left/drive_position"][0], test.ShouldAlmostEqual, 2*math.Pi*0.05, 1e-5)
	test.That(t, values["front_left/drive_velocity"][0], test.ShouldAlmostEqual, -2*math.Pi*0.05, 1e-5)

	// Each controller is configured once even though it backs two signals.
	test.That(t, sock.sentWithID(ConfigBase|1), test.ShouldHaveLength, 1)
	test.That(t, sock.sentWithID(ConfigBase|2), test.ShouldHaveLength, 1)
	cfg := sock.sentWithID(ConfigBase | 1)[0].Data
	test.That(t, binary.LittleEndian.Uint16(cfg[1:3]), test.ShouldEqual, 4)
	test.That(t, binary.LittleEndian.Uint16(cfg[3:5]), test.ShouldEqual, 20)
}

func TestRefreshAllTimesOutNamingSilentMotors(t *testing.T) {
	defer goleak.VerifyNone(t)

	sock := newFakeSocket()
	bus := NewBus(sock, nil, golog.NewTestLogger(t))
	NewModule(bus, testModuleConfig())
	bus.Start(context.Background())
	defer bus.Close()

	sock.respond[1] = [2]float32{1, 0}
	err := bus.RefreshAll(20 * time.Millisecond)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "front_left drive")
	test.That(t, err.Error(), test.ShouldNotContainSubstring, "front_left steer")
	test.That(t, bus.Motor(1, "").Position(), test.ShouldEqual, 1)
	test.That(t, bus.Motor(1, "").LastUpdate().IsZero(), test.ShouldBeFalse)
	test.That(t, bus.Motor(2, "").LastUpdate().IsZero(), test.ShouldBeTrue)
}

func TestSetOutput(t *testing.T) {
	sock := newFakeSocket()
	bus := NewBus(sock, nil, golog.NewTestLogger(t))
	mod := NewModule(bus, testModuleConfig())

	test.That(t, mod.SetOutput(swerve.Output{Steer: 1.5, Drive: -12}), test.ShouldBeNil)
	steer := sock.sentWithID(CommandBase | 1)
	drive := sock.sentWithID(CommandBase | 2)
	test.That(t, steer, test.ShouldHaveLength, 1)
	test.That(t, drive, test.ShouldHaveLength, 1)
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(steer[0].Data)), test.ShouldEqual, float32(1.5))
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(drive[0].Data)), test.ShouldEqual, float32(-12))
}

func TestIgnoresForeignFrames(t *testing.T) {
	bus := NewBus(newFakeSocket(), nil, golog.NewTestLogger(t))
	m := bus.Motor(3, "m")
	bus.handleFrame(statusFrame(4, 9, 9))
	bus.handleFrame(canbus.Frame{ID: StatusBase | 3, Data: []byte{1, 2}, Kind: canbus.SFF})
	bus.handleFrame(canbus.Frame{ID: CommandBase | 3, Data: make([]byte, 8), Kind: canbus.SFF})
	test.That(t, m.LastUpdate().IsZero(), test.ShouldBeTrue)

	bus.handleFrame(statusFrame(3, 2, -1))
	test.That(t, m.Position(), test.ShouldEqual, 2)
	test.That(t, m.Velocity(), test.ShouldEqual, -1)
	test.That(t, m.ID(), test.ShouldEqual, uint8(3))
}

func TestModuleConfigValidate(t *testing.T) {
	test.That(t, testModuleConfig().Validate(), test.ShouldBeNil)
	cfg := testModuleConfig()
	cfg.DriveID = cfg.SteerID
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg = testModuleConfig()
	cfg.SteerID = 200
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg = testModuleConfig()
	cfg.WheelRadius = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}
