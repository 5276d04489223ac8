package screen

import (
	"context"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/goleak"
	"go.viam.com/test"
)

type fakeFramebuffer struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	writes int
	closed bool
}

func (f *fakeFramebuffer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos+len(p) > len(f.data) {
		f.data = append(f.data, make([]byte, f.pos+len(p)-len(f.data))...)
	}
	copy(f.data[f.pos:], p)
	f.pos += len(p)
	f.writes++
	return len(p), nil
}

func (f *fakeFramebuffer) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = int(offset)
	return offset, nil
}

func (f *fakeFramebuffer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFramebuffer) snapshot() ([]byte, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...), f.writes, f.closed
}

func TestCharge(t *testing.T) {
	b := Battery{EmptyVolts: 11.5, FullVolts: 12.5}
	test.That(t, b.Charge(12.5), test.ShouldAlmostEqual, 1)
	test.That(t, b.Charge(11.5), test.ShouldAlmostEqual, 0)
	test.That(t, b.Charge(12), test.ShouldAlmostEqual, 0.5)
	test.That(t, b.Charge(13.4), test.ShouldEqual, 1)
	test.That(t, b.Charge(6), test.ShouldEqual, 0)

	// The simulated chassis battery reads as nearly full.
	test.That(t, DefaultBattery().Charge(12.6), test.ShouldBeGreaterThan, 0.9)
}

func TestBatteryValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	cfg := DefaultConfig()
	cfg.Battery.FullVolts = cfg.Battery.EmptyVolts
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg.Battery = Battery{EmptyVolts: -1, FullVolts: 12}
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestEncodeRotatesAndPacks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, S, S))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(S-1, S-1, color.RGBA{B: 255, A: 255})
	buf := Encode(img)
	test.That(t, buf, test.ShouldHaveLength, S*S*2)

	// (0, 0) lands at the end of the first column.
	test.That(t, buf[(S-1)*2+1], test.ShouldEqual, byte(0xf8))
	test.That(t, buf[(S-1)*2], test.ShouldEqual, byte(0))
	// (S-1, S-1) lands at the start of the last column.
	test.That(t, buf[(S-1)*S*2], test.ShouldEqual, byte(0x1f))
}

func TestRender(t *testing.T) {
	for _, st := range []Status{
		{},
		{Mode: "SIM", BatteryVolts: 15.2, Facing: 1, FacingKnown: true, HeadingHold: true, FieldCentric: true},
		{Mode: "REAL", BatteryVolts: 6.1, Degraded: true},
	} {
		img := Render(st, DefaultBattery())
		test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, S, S))
	}
}

func TestLoopDrawsAndBlanks(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	fb := &fakeFramebuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- loop(ctx, fb, mock, DefaultBattery(), func() Status { return Status{Mode: "SIM", BatteryVolts: 16} })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mock.Add(UpdateInterval)
		if _, writes, _ := fb.snapshot(); writes >= S {
			break
		}
		test.That(t, time.Now().Before(deadline), test.ShouldBeTrue)
		time.Sleep(time.Millisecond)
	}
	data, _, _ := fb.snapshot()
	test.That(t, data, test.ShouldHaveLength, S*S*2)
	var lit bool
	for _, b := range data {
		lit = lit || b != 0
	}
	test.That(t, lit, test.ShouldBeTrue)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	data, _, closed := fb.snapshot()
	test.That(t, closed, test.ShouldBeTrue)
	for _, b := range data {
		test.That(t, b, test.ShouldEqual, byte(0))
	}
}

func TestMissingDeviceIsIgnored(t *testing.T) {
	Loop(context.Background(), Config{Device: "/nonexistent/fb"}, clock.NewMock(), nil, golog.NewTestLogger(t))
}

var _ io.WriteSeeker = (*fakeFramebuffer)(nil)
