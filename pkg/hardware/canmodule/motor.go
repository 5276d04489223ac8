package canmodule

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

// Motor is one motor controller on the bus.  Positions are in rotor
// rotations and velocities in rotations per second.
type Motor struct {
	bus  *Bus
	id   uint8
	name string

	// Guarded by bus.lock.
	position   float64
	velocity   float64
	epoch      uint64
	lastUpdate time.Time
	statusHz   float64
}

func (m *Motor) ID() uint8 {
	return m.id
}

func (m *Motor) Position() float64 {
	m.bus.lock.Lock()
	defer m.bus.lock.Unlock()
	return m.position
}

func (m *Motor) Velocity() float64 {
	m.bus.lock.Lock()
	defer m.bus.lock.Unlock()
	return m.velocity
}

// LastUpdate is when the last status frame arrived; zero if none has.
func (m *Motor) LastUpdate() time.Time {
	m.bus.lock.Lock()
	defer m.bus.lock.Unlock()
	return m.lastUpdate
}

func (m *Motor) SetVoltage(volts float64) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, math.Float32bits(float32(volts)))
	err := m.bus.send(canbus.Frame{ID: CommandBase | uint32(m.id), Data: data, Kind: canbus.SFF})
	return errors.Wrapf(err, "setting %s voltage", m.name)
}

// SetStatusFrequency asks the controller to stream status frames at hz on
// top of answering SYNCs.  timeout is sent as the controller's stale-status
// threshold.
func (m *Motor) SetStatusFrequency(hz float64, timeout time.Duration) error {
	if hz <= 0 {
		return errors.Errorf("%s: status frequency must be positive, got %v", m.name, hz)
	}
	m.bus.lock.Lock()
	already := m.statusHz == hz
	m.bus.lock.Unlock()
	if already {
		return nil
	}

	data := make([]byte, 5)
	data[0] = configStatusPeriod
	binary.LittleEndian.PutUint16(data[1:3], uint16(math.Round(1000/hz)))
	binary.LittleEndian.PutUint16(data[3:5], uint16(timeout.Milliseconds()))
	if err := m.bus.send(canbus.Frame{ID: ConfigBase | uint32(m.id), Data: data, Kind: canbus.SFF}); err != nil {
		return errors.Wrapf(err, "configuring %s status frequency", m.name)
	}
	m.bus.lock.Lock()
	m.statusHz = hz
	m.bus.lock.Unlock()
	return nil
}

// PositionSignal reports position*scale - offset.
func (m *Motor) PositionSignal(name string, scale, offset float64) signal.StatusSignal {
	return &statusSignal{motor: m, name: name, scale: scale, offset: offset}
}

// VelocitySignal reports velocity*scale.
func (m *Motor) VelocitySignal(name string, scale float64) signal.StatusSignal {
	return &statusSignal{motor: m, name: name, scale: scale, velocity: true}
}

type statusSignal struct {
	motor    *Motor
	name     string
	scale    float64
	offset   float64
	velocity bool
}

func (s *statusSignal) Name() string {
	return s.name
}

func (s *statusSignal) Value() float64 {
	if s.velocity {
		return s.motor.Velocity() * s.scale
	}
	return s.motor.Position()*s.scale - s.offset
}

func (s *statusSignal) SetUpdateFrequency(hz float64, timeout time.Duration) error {
	return s.motor.SetStatusFrequency(hz, timeout)
}
