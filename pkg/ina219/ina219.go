// Package ina219 reads bus voltage and current from an INA219 power monitor.
package ina219

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x41

	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5

	BusVoltageLSB = 0.004
)

type Interface interface {
	Configure(shuntOhms float64, maxCurrent float64) error
	ReadBusVoltage() (float64, error)
	ReadCurrent() (float64, error)
	ReadPower() (float64, error)
	Close() error
}

type port interface {
	// ReadReg reads len(buf) bytes from the device.
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) (err error)
	Close() error
}

type INA219 struct {
	currentLSB float64
	dev        port
}

func NewI2C(deviceFile string, addr int) (*INA219, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening INA219 at %#x on %s", addr, deviceFile)
	}
	return &INA219{
		dev: dev,
	}, nil
}

func (m *INA219) Configure(shuntOhms float64, maxCurrent float64) error {
	if shuntOhms <= 0 || maxCurrent <= 0 {
		return errors.Errorf("shunt resistance and max current must be positive, got %v and %v", shuntOhms, maxCurrent)
	}
	m.currentLSB = maxCurrent / (1 << 15)
	cval := CalculateCalibrationValue(m.currentLSB, shuntOhms)
	return errors.Wrap(m.dev.WriteReg(RegCalibration, []byte{byte(cval >> 8), byte(cval)}), "writing INA219 calibration")
}

func (m *INA219) ReadBusVoltage() (float64, error) {
	raw, err := m.Read16(RegBusV)
	if err != nil {
		return 0, err
	}
	return float64(raw>>3) * BusVoltageLSB, nil
}

func (m *INA219) ReadCurrent() (float64, error) {
	raw, err := m.Read16(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * m.currentLSB, nil
}

func (m *INA219) ReadPower() (float64, error) {
	raw, err := m.Read16(RegPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.currentLSB * 20, nil
}

func (m *INA219) Read16(reg byte) (uint16, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "reading INA219 register %d", reg)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (m *INA219) Close() error {
	return m.dev.Close()
}

func CalculateCalibrationValue(currentLSB float64, shuntOhms float64) int16 {
	return int16(0.04096 / (currentLSB * shuntOhms))
}
