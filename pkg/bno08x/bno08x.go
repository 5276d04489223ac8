// Package bno08x reads the UART-RVC report stream of a BNO08x IMU.
package bno08x

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const DefaultDevice = "/dev/ttyAMA0"

const ReportFrequency = 100
const ReportInterval = time.Second / ReportFrequency

const packetLen = 19

var header = []byte{0xaa, 0xaa}

var errChecksum = errors.New("bad checksum")

type IMUReport struct {
	Time   time.Time
	Index  uint8
	Yaw    int16
	Pitch  int16
	Roll   int16
	XAccel int16
	YAccel int16
	ZAccel int16
}

func (i IMUReport) String() string {
	return fmt.Sprintf("[%02x] Y:%7.2f P:%7.2f R:%7.2f X:%7.2f Y:%7.2f Z:%7.2f",
		i.Index, float64(i.Yaw)/100.0, float64(i.Pitch)/100.0, float64(i.Roll)/100.0,
		float64(i.XAccel)/100.0, float64(i.YAccel)/100.0, float64(i.ZAccel)/100.0)
}

func (i IMUReport) YawDegrees() float64 {
	return (float64(i.Yaw)) / 100.0
}

// parsePacket decodes one packet, header included.
func parsePacket(buf []byte) (IMUReport, error) {
	var report IMUReport
	if len(buf) < packetLen || !bytes.Equal(buf[:2], header) {
		return report, errors.New("lost sync")
	}
	var checksum uint8
	for _, b := range buf[2 : packetLen-1] {
		checksum += b
	}
	if buf[packetLen-1] != checksum {
		return report, errors.Wrapf(errChecksum, "%x != %x", buf[packetLen-1], checksum)
	}
	report.Index = buf[2]
	report.Yaw = int16(binary.LittleEndian.Uint16(buf[3:5]))
	report.Pitch = int16(binary.LittleEndian.Uint16(buf[5:7]))
	report.Roll = int16(binary.LittleEndian.Uint16(buf[7:9]))
	report.XAccel = int16(binary.LittleEndian.Uint16(buf[9:11]))
	report.YAccel = int16(binary.LittleEndian.Uint16(buf[11:13]))
	report.ZAccel = int16(binary.LittleEndian.Uint16(buf[13:15]))
	return report, nil
}

type Config struct {
	Device string `yaml:"device"`
	// Inverted flips the yaw sign for a sensor mounted upside down.
	Inverted bool `yaml:"inverted"`
}

type BNO08X struct {
	cfg    Config
	clock  clock.Clock
	logger golog.Logger

	lock       sync.Mutex
	lastReport IMUReport
	// Unwrapped yaw in radians and its rate, derived from successive reports.
	yaw     float64
	yawRate float64
	primed  bool
}

func New(cfg Config, clk clock.Clock, logger golog.Logger) *BNO08X {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if clk == nil {
		clk = clock.New()
	}
	return &BNO08X{cfg: cfg, clock: clk, logger: logger}
}

func (b *BNO08X) CurrentReport() IMUReport {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.lastReport
}

// Yaw is the accumulated heading in radians, anti-clockwise positive.  It
// isn't wrapped, so it stays continuous across the +-pi seam.
func (b *BNO08X) Yaw() float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.yaw
}

func (b *BNO08X) YawRate() float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.yawRate
}

func (b *BNO08X) RegisterSignals(reg *signal.Registry) {
	reg.Register(signal.GyroYaw, b.Yaw)
	reg.Register(signal.GyroYawRate, b.YawRate)
}

func (b *BNO08X) LoopReadingReports(ctx context.Context) {
	for ctx.Err() == nil {
		err := b.openAndLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		b.logger.Warnw("BNO08X loop stopped; will retry", "error", err)
		b.clock.Sleep(100 * time.Millisecond)
	}
}

func (b *BNO08X) openAndLoop(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: 115200,
	}
	s, err := serial.Open(b.cfg.Device, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", b.cfg.Device)
	}
	defer s.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		// Unblock the read when we're asked to stop.
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()
	return b.readReports(ctx, s)
}

func (b *BNO08X) readReports(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
resync:
	b.logger.Debug("BNO08X resync")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		buf, err := br.Peek(2)
		if err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
		if bytes.Equal(buf, header) {
			break
		}
		if _, err := br.Discard(1); err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
	}

	buf := make([]byte, packetLen)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			return errors.Wrap(err, "failed to read from serial")
		}
		report, err := parsePacket(buf)
		if err != nil {
			b.logger.Debugw("BNO08X bad packet", "error", err)
			goto resync
		}
		report.Time = b.clock.Now()
		b.setReport(report)
	}
}

func (b *BNO08X) setReport(report IMUReport) {
	b.lock.Lock()
	defer b.lock.Unlock()
	yaw := report.YawDegrees() * math.Pi / 180
	if b.cfg.Inverted {
		yaw = -yaw
	}
	if !b.primed {
		b.yaw = yaw
		b.primed = true
	} else {
		delta := angle.Wrap(yaw - angle.Wrap(b.yaw))
		b.yaw += delta
		if dt := report.Time.Sub(b.lastReport.Time).Seconds(); dt > 0 {
			b.yawRate = delta / dt
		}
	}
	b.lastReport = report
}
