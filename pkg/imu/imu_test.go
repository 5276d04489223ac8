package imu

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"
)

type fakePort struct {
	regs   map[byte][]byte
	writes map[byte][]byte
}

func (p *fakePort) ReadReg(reg byte, buf []byte) error {
	v, ok := p.regs[reg]
	if !ok {
		return errors.Errorf("no register %d", reg)
	}
	copy(buf, v)
	return nil
}

func (p *fakePort) WriteReg(reg byte, buf []byte) error {
	p.writes[reg] = append([]byte(nil), buf...)
	return nil
}

func TestReadFIFO(t *testing.T) {
	p := &fakePort{
		regs: map[byte][]byte{
			RegFIFOCount: {0xf0, 5}, // upper bits masked off; odd byte dropped
			RegFIFORW:    {0x01, 0x00, 0xff, 0xfe, 0x00},
		},
		writes: map[byte][]byte{},
	}
	m := &IMU{dev: p, logger: golog.NewTestLogger(t)}
	samples, err := m.ReadFIFO()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldResemble, []int16{256, -2})

	p.regs[RegFIFOCount] = []byte{0x04, 0x00}
	_, err = m.ReadFIFO()
	test.That(t, err, test.ShouldNotBeNil)

	p.regs[RegFIFOCount] = []byte{0, 0}
	samples, err = m.ReadFIFO()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldBeEmpty)
}

func TestConfigure(t *testing.T) {
	p := &fakePort{regs: map[byte][]byte{}, writes: map[byte][]byte{}}
	m := &IMU{dev: p, disableI2C: true, logger: golog.NewTestLogger(t)}
	test.That(t, m.Configure(), test.ShouldBeNil)
	test.That(t, p.writes[RegUserCtl], test.ShouldResemble, []byte{0x10})
	test.That(t, p.writes[RegGyroConf], test.ShouldResemble, []byte{GyroRange << 3})
	test.That(t, p.writes[RegSampleRateDiv], test.ShouldResemble, []byte{SampleRateDiv})
}

type fakeIMU struct {
	mu      sync.Mutex
	samples []int16
	resets  int
}

func (f *fakeIMU) Configure() error          { return nil }
func (f *fakeIMU) Calibrate() error          { return nil }
func (f *fakeIMU) ReadGyroZ() (int16, error) { return 0, nil }
func (f *fakeIMU) DegreesPerLSB() float64    { return 0.1 }

func (f *fakeIMU) ReadFIFO() ([]int16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.samples
	f.samples = nil
	return s, nil
}

func (f *fakeIMU) ResetFIFO() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeIMU) push(s ...int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s...)
}

func TestGyroIntegrates(t *testing.T) {
	dev := &fakeIMU{}
	g := NewGyro(dev, clock.NewMock(), golog.NewTestLogger(t))
	test.That(t, g.Start(), test.ShouldBeNil)
	test.That(t, dev.resets, test.ShouldEqual, 1)

	// 100 samples of 90 deg/s is 90 degrees.
	for i := 0; i < SampleRate; i++ {
		dev.push(900)
	}
	test.That(t, g.poll(), test.ShouldBeNil)
	test.That(t, g.Yaw(), test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	test.That(t, g.YawRate(), test.ShouldAlmostEqual, math.Pi/2, 1e-9)

	dev.push(-900)
	test.That(t, g.poll(), test.ShouldBeNil)
	test.That(t, g.YawRate(), test.ShouldAlmostEqual, -math.Pi/2, 1e-9)
}

func TestGyroLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeIMU{}
	mock := clock.NewMock()
	g := NewGyro(dev, mock, golog.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Loop(ctx)
		close(done)
	}()

	dev.push(100, 100)
	deadline := time.Now().Add(2 * time.Second)
	for g.YawRate() == 0 {
		mock.Add(50 * time.Millisecond)
		test.That(t, time.Now().Before(deadline), test.ShouldBeTrue)
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	test.That(t, g.Yaw(), test.ShouldAlmostEqual, 2*10*math.Pi/180/SampleRate, 1e-9)
}
