package joystick

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Button and pad mappings for a DualShock 4 on the Linux joydev driver:
//
// Buttons
//
//    Cross     = 0
//    Circle    = 1
//    Triangle  = 2
//    Square    = 3
//    L1        = 4
//    R1        = 5
//    L2        = 6 (also an axis)
//    R2        = 7 (also an axis)
//    Share     = 8
//    Options   = 9
//    PS        = 10
//    L stick   = 11
//    R stick   = 12
//
// Axes
//
//    D-pad   u/d = 7 (up = -32767; down = +32767)
//            l/r = 6 (left = -32767; right = +32767)
//    L stick u/d = 1 (up = -32767; down = +32767)
//            l/r = 0 (left = -32767; right = +32767)
//    R stick u/d = 4 (up = -32767; down = +32767)
//            l/r = 3 (left = -32767; right = +32767)
//    L2          = 2 (unpressed = -32767; fully-pressed = 32767)
//    R2          = 5 (unpressed = -32767; fully-pressed = 32767)

const DefaultDevice = "/dev/input/js0"

type EventType uint8

const (
	EventTypeButton EventType = 1
	EventTypeAxis   EventType = 2

	// eventTypeInit is or-ed into the synthetic events the driver sends on
	// open to report the initial state.
	eventTypeInit = 0x80
)

const (
	ButtonCross    = 0
	ButtonCircle   = 1
	ButtonTriangle = 2
	ButtonSquare   = 3
	ButtonL1       = 4
	ButtonR1       = 5
	ButtonL2       = 6
	ButtonR2       = 7
	ButtonShare    = 8
	ButtonOptions  = 9
	ButtonPS       = 10
	ButtonLStick   = 11
	ButtonRStick   = 12

	AxisLStickX = 0
	AxisLStickY = 1
	AxisL2      = 2
	AxisRStickX = 3
	AxisRStickY = 4
	AxisR2      = 5
	AxisDPadX   = 6
	AxisDPadY   = 7

	AxisMax = 32767
)

func (e EventType) String() string {
	switch e {
	case EventTypeAxis:
		return "axis"
	case EventTypeButton:
		return "button"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

type Joystick struct {
	device io.ReadCloser
	clock  clock.Clock

	deviceEpoch    uint32
	wallclockEpoch time.Time
	haveEpoch      bool
}

type rawEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

type Event struct {
	Time   time.Time
	Value  int16
	Type   EventType
	Number uint8
	// Initial marks the synthetic state report sent when the device opens.
	Initial bool
}

func (e *Event) String() string {
	return fmt.Sprintf("%v(%v)=%v", e.Type, e.Number, e.Value)
}

// Open opens a joydev device such as /dev/input/js0.
func Open(device string, clk clock.Clock) (*Joystick, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Wrapf(err, "opening joystick %s", device)
	}
	return New(f, clk), nil
}

// New reads joydev events from r.
func New(r io.ReadCloser, clk clock.Clock) *Joystick {
	if clk == nil {
		clk = clock.New()
	}
	return &Joystick{device: r, clock: clk}
}

func (j *Joystick) ReadEvent() (*Event, error) {
	var raw rawEvent
	err := binary.Read(j.device, binary.LittleEndian, &raw)
	if err != nil {
		return nil, err
	}

	if !j.haveEpoch {
		j.deviceEpoch = raw.Time
		j.wallclockEpoch = j.clock.Now()
		j.haveEpoch = true
	}

	return &Event{
		Time:    j.wallclockEpoch.Add(time.Duration(raw.Time-j.deviceEpoch) * time.Millisecond),
		Value:   raw.Value,
		Type:    EventType(raw.Type & 0x7f),
		Number:  raw.Number,
		Initial: raw.Type&eventTypeInit != 0,
	}, nil
}

// Loop forwards events to the channel until the device fails or ctx is
// done.  It closes events and the device on the way out.
func (j *Joystick) Loop(ctx context.Context, events chan<- *Event, logger golog.Logger) error {
	defer close(events)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		// Unblocks the pending read.
		_ = j.device.Close()
	}()

	for ctx.Err() == nil {
		event, err := j.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "reading joystick")
		}
		logger.Debugw("joystick event", "event", event.String())
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (j *Joystick) Close() error {
	return j.device.Close()
}
