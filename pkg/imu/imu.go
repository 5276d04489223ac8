// Package imu drives an MPU-6000 class gyro over SPI (or I2C) and integrates
// its yaw rate into a heading.
package imu

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const (
	IMUAddr = 0x68

	RegSampleRateDiv = 25
	RegConfig        = 26
	RegGyroConf      = 27
	RegGyroZOffset   = 23 // 16 bits
	RegFIFOEnable    = 35
	RegGyroZ         = 71 // 16 bits
	RegUserCtl       = 106
	RegFIFOCount     = 114 // 16 bits
	RegFIFORW        = 116 // n-bytes

	GyroRange = 2 // 1000 dps

	// 1kHz DLPF output divided by 1+SampleRateDiv.
	SampleRateDiv = 9
	SampleRate    = 1000 / (1 + SampleRateDiv)
)

type Interface interface {
	Configure() error
	Calibrate() error
	ReadGyroZ() (int16, error)
	ReadFIFO() ([]int16, error)
	ResetFIFO() error
	DegreesPerLSB() float64
}

type port interface {
	// ReadReg reads len(buf) bytes from the device.
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) (err error)
}

type IMU struct {
	dev        port
	disableI2C bool
	logger     golog.Logger
}

func NewI2C(deviceFile string, logger golog.Logger) (*IMU, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, IMUAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening gyro on %s", deviceFile)
	}
	return &IMU{
		dev:    dev,
		logger: logger,
	}, nil
}

func NewSPI(deviceFile string, logger golog.Logger) (*IMU, error) {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initialising periph")
	}

	// Use spireg SPI port registry to find the SPI bus.
	p, err := spireg.Open(deviceFile)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI port %s", deviceFile)
	}

	// Convert the spi.Port into a spi.Conn so it can be used for communication.
	c, err := p.Connect(physic.KiloHertz*1000, spi.Mode3, 8)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to SPI port %s", deviceFile)
	}

	return &IMU{
		dev:        &SPIAdapter{c: c},
		disableI2C: true,
		logger:     logger,
	}, nil
}

type SPIAdapter struct {
	c spi.Conn

	r, w []byte
}

const W = 0x00
const R = 0x80

func (s *SPIAdapter) ReadReg(reg byte, buf []byte) error {
	// The read and write buffers need to be as long as the whole transaction.
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	// We write the address byte, then read back the response.
	s.w[0] = R | reg
	if err := s.c.Tx(s.w[:bufLen], s.r[:bufLen]); err != nil {
		return err
	}
	// The response will come back only after the first byte is sent, ignore the first byte that we read.
	copy(buf, s.r[1:bufLen])
	return nil
}

func (s *SPIAdapter) WriteReg(reg byte, buf []byte) error {
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	s.w[0] = W | reg
	copy(s.w[1:], buf)
	return s.c.Tx(s.w[:bufLen], s.r[:bufLen])
}

func (s *SPIAdapter) ensureBuf(l int) {
	if len(s.r) < l {
		s.w = make([]byte, l)
		s.r = make([]byte, l)
		return
	}
	for i := 0; i < l; i++ {
		s.w[i] = 0
		s.r[i] = 0
	}
}

func (m *IMU) Configure() error {
	if m.disableI2C {
		if err := m.dev.WriteReg(RegUserCtl, []byte{0x10}); err != nil {
			return errors.Wrap(err, "disabling I2C")
		}
	}
	for _, w := range []struct {
		reg  byte
		val  byte
		what string
	}{
		{RegGyroConf, GyroRange << 3, "gyro range"},
		{RegConfig, 1, "DLPF"},
		{RegSampleRateDiv, SampleRateDiv, "sample rate"},
		{RegFIFOEnable, 1 << 4, "gyro Z FIFO"},
	} {
		if err := m.dev.WriteReg(w.reg, []byte{w.val}); err != nil {
			return errors.Wrapf(err, "setting %s", w.what)
		}
	}
	return nil
}

func (m *IMU) DegreesPerLSB() float64 {
	return 1000.0 / math.MaxInt16
}

// Calibrate measures the resting bias and writes it to the offset register.
// The robot must be still.
func (m *IMU) Calibrate() error {
	if err := m.dev.WriteReg(RegGyroZOffset, []byte{0, 0}); err != nil {
		return errors.Wrap(err, "clearing gyro offset")
	}
	for i := 0; i < 100; i++ {
		if _, err := m.ReadGyroZ(); err != nil {
			return err
		}
	}

	var sum float64
	const n = 1000
	for i := 0; i < n; i++ {
		z, err := m.ReadGyroZ()
		if err != nil {
			return err
		}
		sum -= float64(z)
	}
	offset := sum / n
	// Offset register LSB is fixed at the 1000dps scale / 4.
	scaled := int16(offset / 4 * math.Pow(2, GyroRange))
	m.logger.Infow("gyro calibrated", "offset", offset, "register", scaled)
	return errors.Wrap(m.dev.WriteReg(RegGyroZOffset, []byte{byte(scaled >> 8), byte(scaled)}), "writing gyro offset")
}

func (m *IMU) ReadGyroZ() (int16, error) {
	return m.Read16(RegGyroZ)
}

func (m *IMU) ResetFIFO() error {
	return m.dev.WriteReg(RegUserCtl, []byte{1<<6 | 1<<2})
}

// ReadFIFO returns the queued gyro Z samples, oldest first; possibly none.
func (m *IMU) ReadFIFO() ([]int16, error) {
	count, err := m.Read16(RegFIFOCount)
	if err != nil {
		return nil, err
	}
	count &= 0xfff
	var buf [512]byte
	if int(count) > len(buf) {
		// Overflowed; the samples are no longer trustworthy.
		return nil, errors.Errorf("gyro FIFO overflow (%d bytes)", count)
	}
	n := int(count) / 2 * 2
	if n == 0 {
		return nil, nil
	}
	if err := m.dev.ReadReg(RegFIFORW, buf[:n]); err != nil {
		return nil, errors.Wrap(err, "reading gyro FIFO")
	}
	result := make([]int16, n/2)
	for i := range result {
		result[i] = int16(buf[i*2])<<8 | int16(buf[i*2+1])
	}
	return result, nil
}

func (m *IMU) Read16(reg byte) (int16, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "reading register %d", reg)
	}
	return int16(buf[0])<<8 | int16(buf[1]), nil
}

// Gyro integrates the FIFO samples of an Interface into a heading.
type Gyro struct {
	dev    Interface
	clock  clock.Clock
	logger golog.Logger

	lock    sync.Mutex
	yaw     float64
	yawRate float64
}

func NewGyro(dev Interface, clk clock.Clock, logger golog.Logger) *Gyro {
	if clk == nil {
		clk = clock.New()
	}
	return &Gyro{dev: dev, clock: clk, logger: logger}
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

func (g *Gyro) RegisterSignals(reg *signal.Registry) {
	reg.Register(signal.GyroYaw, g.Yaw)
	reg.Register(signal.GyroYawRate, g.YawRate)
}

// Start configures the device; the robot must be still for the calibration.
func (g *Gyro) Start() error {
	if err := g.dev.Configure(); err != nil {
		return err
	}
	if err := g.dev.Calibrate(); err != nil {
		return err
	}
	return g.dev.ResetFIFO()
}

// Loop polls the FIFO until ctx is done.
func (g *Gyro) Loop(ctx context.Context) {
	ticker := g.clock.Ticker(5 * time.Second / SampleRate)
	defer ticker.Stop()
	var lastWarning time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := g.poll(); err != nil {
			if g.clock.Since(lastWarning) > time.Second {
				g.logger.Warnw("gyro read failed; resetting FIFO", "error", err)
				lastWarning = g.clock.Now()
			}
			_ = g.dev.ResetFIFO()
		}
	}
}

func (g *Gyro) poll() error {
	samples, err := g.dev.ReadFIFO()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	scale := g.dev.DegreesPerLSB() * math.Pi / 180
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, s := range samples {
		g.yawRate = float64(s) * scale
		g.yaw += g.yawRate / SampleRate
	}
	return nil
}
