package bno08x

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

func packet(index uint8, yawCentiDeg int16) []byte {
	buf := make([]byte, packetLen)
	copy(buf, header)
	buf[2] = index
	binary.LittleEndian.PutUint16(buf[3:5], uint16(yawCentiDeg))
	binary.LittleEndian.PutUint16(buf[13:15], uint16(981))
	var checksum uint8
	for _, b := range buf[2 : packetLen-1] {
		checksum += b
	}
	buf[packetLen-1] = checksum
	return buf
}

func TestParsePacket(t *testing.T) {
	r, err := parsePacket(packet(7, -4500))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Index, test.ShouldEqual, uint8(7))
	test.That(t, r.YawDegrees(), test.ShouldAlmostEqual, -45)
	test.That(t, r.ZAccel, test.ShouldEqual, int16(981))

	bad := packet(7, 100)
	bad[packetLen-1]++
	_, err = parsePacket(bad)
	test.That(t, errors.Is(err, errChecksum), test.ShouldBeTrue)
}

func TestReadReportsResyncs(t *testing.T) {
	b := New(Config{}, clock.NewMock(), golog.NewTestLogger(t))

	corrupt := packet(2, 9000)
	corrupt[5] ^= 0xff
	var stream bytes.Buffer
	stream.Write([]byte{0x01, 0xaa, 0x13})
	stream.Write(packet(1, 1000))
	stream.Write(corrupt)
	stream.Write(packet(3, 2000))

	err := b.readReports(context.Background(), &stream)
	test.That(t, errors.Is(err, io.EOF), test.ShouldBeTrue)
	test.That(t, b.CurrentReport().Index, test.ShouldEqual, uint8(3))
	test.That(t, b.Yaw(), test.ShouldAlmostEqual, 20*math.Pi/180)
}

func TestYawUnwrapsAndRates(t *testing.T) {
	mock := clock.NewMock()
	b := New(Config{Inverted: true}, mock, golog.NewTestLogger(t))

	// Inverted: a sensor reading of -179 degrees is +179 anti-clockwise.
	b.setReport(IMUReport{Time: mock.Now(), Yaw: -17900})
	mock.Add(ReportInterval)
	b.setReport(IMUReport{Time: mock.Now(), Yaw: 17900})
	test.That(t, b.Yaw(), test.ShouldAlmostEqual, 181*math.Pi/180, 1e-9)
	test.That(t, b.YawRate(), test.ShouldAlmostEqual, 2*math.Pi/180/ReportInterval.Seconds(), 1e-9)

	reg := signal.NewRegistry(signal.Options{}, golog.NewTestLogger(t))
	b.RegisterSignals(reg)
	reg.Sample(0)
	reg.LockOdometry()
	values := reg.DrainSignalsLocked()
	reg.UnlockOdometry()
	test.That(t, values[signal.GyroYaw], test.ShouldResemble, []float64{b.Yaw()})
	test.That(t, values[signal.GyroYawRate], test.ShouldHaveLength, 1)
}

func TestLoopStopsWithContext(t *testing.T) {
	b := New(Config{Device: "/dev/does-not-exist"}, clock.New(), golog.NewTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.LoopReadingReports(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop didn't stop")
	}
}
