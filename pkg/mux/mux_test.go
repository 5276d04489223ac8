package mux

import (
	"testing"

	"go.viam.com/test"
)

type fakeDevice struct {
	written [][]byte
}

func (d *fakeDevice) Write(buf []byte) error {
	d.written = append(d.written, append([]byte(nil), buf...))
	return nil
}

func (d *fakeDevice) Close() error { return nil }

func TestSelect(t *testing.T) {
	d := &fakeDevice{}
	m := &Mux{dev: d}
	test.That(t, m.SelectSinglePort(6), test.ShouldBeNil)
	test.That(t, m.SelectMultiplePorts(0x3f), test.ShouldBeNil)
	test.That(t, m.DisableAllPorts(), test.ShouldBeNil)
	test.That(t, d.written, test.ShouldResemble, [][]byte{{0x40}, {0x3f}, {0}})

	test.That(t, m.SelectSinglePort(8), test.ShouldNotBeNil)
	test.That(t, m.SelectSinglePort(NoPort), test.ShouldNotBeNil)
	test.That(t, m.Close(), test.ShouldBeNil)
}
