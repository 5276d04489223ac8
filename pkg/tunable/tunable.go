// Package tunable holds values that can be nudged from the joystick while
// the robot is running.  L1 and R1 cycle through the tunables and the D-pad
// steps the selected one up or down.
package tunable

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/joystick"
)

type Tunable struct {
	Name string
	Step float64
	Min  float64

	bits uint64
}

// Add moves the value by steps increments, stopping at Min.
func (t *Tunable) Add(steps int) float64 {
	for {
		old := atomic.LoadUint64(&t.bits)
		v := math.Max(t.Min, math.Float64frombits(old)+float64(steps)*t.Step)
		if atomic.CompareAndSwapUint64(&t.bits, old, math.Float64bits(v)) {
			return v
		}
	}
}

func (t *Tunable) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&t.bits))
}

func (t *Tunable) Set(v float64) {
	atomic.StoreUint64(&t.bits, math.Float64bits(v))
}

type Tunables struct {
	logger golog.Logger

	lock     sync.Mutex
	all      []*Tunable
	selected int
	version  uint64
}

func New(logger golog.Logger) *Tunables {
	return &Tunables{logger: logger}
}

// Create adds a tunable; values are never stepped below zero.
func (t *Tunables) Create(name string, value, step float64) *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	newTunable := &Tunable{Name: name, Step: step}
	newTunable.Set(value)
	t.all = append(t.all, newTunable)
	return newTunable
}

func (t *Tunables) SelectNext() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return
	}
	t.selected = (t.selected + 1) % len(t.all)
	t.logSelected()
}

func (t *Tunables) SelectPrev() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return
	}
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.all) - 1
	}
	t.logSelected()
}

func (t *Tunables) logSelected() {
	c := t.all[t.selected]
	t.logger.Infow("Tunable selected", "name", c.Name, "value", c.Get())
}

// Current is the selected tunable, or nil if there are none.
func (t *Tunables) Current() *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return nil
	}
	return t.all[t.selected]
}

// Version increases every time a value changes.
func (t *Tunables) Version() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.version
}

func (t *Tunables) adjust(steps int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return
	}
	c := t.all[t.selected]
	v := c.Add(steps)
	t.version++
	t.logger.Infow("Tunable", "name", c.Name, "value", v)
}

func (t *Tunables) OnJoystickEvent(event *joystick.Event) {
	if event.Initial {
		return
	}
	switch event.Type {
	case joystick.EventTypeButton:
		if event.Value != 1 {
			return
		}
		switch event.Number {
		case joystick.ButtonL1:
			t.SelectPrev()
		case joystick.ButtonR1:
			t.SelectNext()
		}
	case joystick.EventTypeAxis:
		if event.Number != joystick.AxisDPadY {
			return
		}
		// The D-pad reports up as negative.
		switch {
		case event.Value < 0:
			t.adjust(1)
		case event.Value > 0:
			t.adjust(-1)
		}
	}
}
