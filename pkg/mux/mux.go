// Package mux selects downstream ports on a TCA9548A I2C multiplexer.
package mux

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	MuxAddr = 0x70

	// NoPort means the device sits directly on the bus.
	NoPort   = -1
	NumPorts = 8
)

type Interface interface {
	DisableAllPorts() error
	SelectSinglePort(num int) error
	SelectMultiplePorts(mask byte) error
	Close() error
}

type device interface {
	Write(buf []byte) error
	Close() error
}

type Mux struct {
	dev device
}

func New(deviceFile string) (*Mux, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, MuxAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening I2C mux on %s", deviceFile)
	}
	return &Mux{
		dev: dev,
	}, nil
}

func (p *Mux) SelectSinglePort(num int) error {
	if num < 0 || num >= NumPorts {
		return errors.Errorf("mux port %d out of range", num)
	}
	return p.SelectMultiplePorts(1 << uint(num))
}

func (p *Mux) SelectMultiplePorts(mask byte) error {
	return errors.Wrap(p.dev.Write([]byte{mask}), "selecting mux ports")
}

func (p *Mux) DisableAllPorts() error {
	return p.SelectMultiplePorts(0)
}

func (p *Mux) Close() error {
	return p.dev.Close()
}
