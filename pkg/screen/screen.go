// Package screen draws the robot status on the 128x128 RGB565 framebuffer
// display.
package screen

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

const (
	DefaultDevice  = "/dev/fb1"
	UpdateInterval = 500 * time.Millisecond

	S = 128
)

type Config struct {
	Enabled bool    `yaml:"enabled"`
	Device  string  `yaml:"device"`
	Battery Battery `yaml:"battery"`
}

func DefaultConfig() Config {
	return Config{Device: DefaultDevice, Battery: DefaultBattery()}
}

func (c Config) Validate() error {
	return errors.Wrap(c.Battery.Validate(), "battery")
}

// Battery is the resting voltage range of the drive battery.
type Battery struct {
	EmptyVolts float64 `yaml:"empty_volts"`
	FullVolts  float64 `yaml:"full_volts"`
}

// DefaultBattery is a 12V sealed lead-acid pack.
func DefaultBattery() Battery {
	return Battery{EmptyVolts: 11.5, FullVolts: 12.7}
}

func (b Battery) Validate() error {
	if b.EmptyVolts <= 0 || b.FullVolts <= b.EmptyVolts {
		return errors.Errorf("need 0 < empty_volts < full_volts, got %v and %v", b.EmptyVolts, b.FullVolts)
	}
	return nil
}

// Charge estimates the state of charge from the pack voltage, in [0, 1].
func (b Battery) Charge(voltage float64) float64 {
	c := (voltage - b.EmptyVolts) / (b.FullVolts - b.EmptyVolts)
	return math.Max(0, math.Min(1, c))
}

// Status is what the screen shows.
type Status struct {
	Mode         string
	BatteryVolts float64
	// Facing is in radians.
	Facing       float64
	FacingKnown  bool
	HeadingHold  bool
	FieldCentric bool
	Degraded     bool
}

type framebuffer interface {
	io.WriteSeeker
	io.Closer
}

// Loop redraws the screen from status until ctx is done, then blanks it.
// A missing display is not an error.
func Loop(ctx context.Context, cfg Config, clk clock.Clock, status func() Status, logger golog.Logger) {
	f, err := os.OpenFile(cfg.Device, os.O_RDWR, 0o666)
	if err != nil {
		logger.Infow("Failed to open screen, ignoring", "device", cfg.Device, "error", err)
		return
	}
	if err := loop(ctx, f, clk, cfg.Battery, status); err != nil {
		logger.Warnw("Screen failure", "error", err)
	}
}

func loop(ctx context.Context, f framebuffer, clk clock.Clock, battery Battery, status func() Status) error {
	defer f.Close()
	ticker := clk.Ticker(UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var buf [S * S * 2]byte
			return writeFrame(f, buf[:])
		case <-ticker.C:
			if err := writeFrame(f, Encode(Render(status(), battery))); err != nil {
				return err
			}
		}
	}
}

func writeFrame(f framebuffer, buf []byte) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking framebuffer")
	}
	for i := 0; i < S; i++ {
		if _, err := f.Write(buf[i*S*2 : (i+1)*S*2]); err != nil {
			return errors.Wrap(err, "writing framebuffer")
		}
	}
	return nil
}

// Render draws the status screen.
func Render(st Status, battery Battery) image.Image {
	dc := gg.NewContext(S, S)
	dc.SetRGBA(1, 0.9, 0, 1)

	dc.DrawString(st.Mode, 4, 12)
	if st.Degraded {
		dc.Push()
		dc.Translate(S-12, 10)
		DrawWarning(dc)
		dc.Pop()
	}

	dc.Push()
	dc.Translate(4, 5)
	drawCompass(dc, st)
	dc.Pop()

	dc.Push()
	dc.Translate(94, 5)
	dc.SetRGBA(1, 0.9, 0, 1)
	drawPowerBar(dc, st.BatteryVolts, battery.Charge(st.BatteryVolts))
	dc.Pop()

	frame := "ROBOT"
	if st.FieldCentric {
		frame = "FIELD"
	}
	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(frame, 4, S-4)
	return dc.Image()
}

// Encode packs an S x S image into the display's rotated RGB565 layout.
func Encode(img image.Image) []byte {
	buf := make([]byte, S*S*2)
	for y := 0; y < S; y++ {
		for x := 0; x < S; x++ {
			c := img.At(x, y)
			r, g, b, _ := c.RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(S-1-y)*2+(x)*S*2+1] = (rb << 3) | (gb >> 3)
			buf[(S-1-y)*2+(x)*S*2] = bb | (gb << 5)
		}
	}
	return buf
}

func drawCompass(dc *gg.Context, st Status) {
	const r = 30
	cx, cy := float64(40), float64(55)
	dc.SetLineWidth(2)
	dc.DrawCircle(cx, cy, r)
	dc.Stroke()
	if !st.FacingKnown {
		dc.DrawStringAnchored("?", cx, cy, 0.5, 0.5)
		return
	}
	if st.HeadingHold {
		dc.SetRGBA(0.2, 0.8, 1, 1)
	}
	// Up the screen is field forward; anticlockwise is positive.
	dc.DrawLine(cx, cy, cx-r*math.Sin(st.Facing), cy-r*math.Cos(st.Facing))
	dc.Stroke()
	dc.DrawStringAnchored(fmt.Sprintf("%.0f", st.Facing*180/math.Pi), cx, cy+r+12, 0.5, 0.5)
}

func drawPowerBar(dc *gg.Context, voltage, charge float64) {

	// Draw the larger power bar at the bottom. Colour depends on charge level.
	if charge < 0.1 {
		dc.SetRGBA(1, 0.2, 0, 1)
	}
	dc.DrawRectangle(0, 70, 30, 10)
	for n := 2; n < 13; n++ {
		if charge >= (float64(n) / 13) {
			dc.DrawRectangle(2, 75-float64(n)*5, 26, 3)
		}
	}
	dc.Fill()
	dc.DrawString(fmt.Sprintf("%.1fv", voltage), -2, 93)
}

func DrawWarning(dc *gg.Context) {
	dc.SetRGB(1, 0.2, 0)
	dc.DrawRegularPolygon(3, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}
