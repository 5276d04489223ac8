package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/mux"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

type PowerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
	// MuxPort is the multiplexer port the monitor sits behind, or -1.
	MuxPort    int           `yaml:"mux_port"`
	Addr       int           `yaml:"addr"`
	ShuntOhms  float64       `yaml:"shunt_ohms"`
	MaxCurrent float64       `yaml:"max_current"`
	Interval   time.Duration `yaml:"interval"`
}

func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		Device:     "/dev/i2c-1",
		MuxPort:    6,
		Addr:       ina219.DefaultAddr,
		ShuntOhms:  0.01,
		MaxCurrent: 100,
		Interval:   100 * time.Millisecond,
	}
}

// powerOpener opens the monitor, selecting its mux port first.  The returned
// func closes everything that was opened.
type powerOpener func(cfg PowerConfig) (ina219.Interface, func() error, error)

// PowerMonitor polls the battery monitor on the I2C bus and caches the
// latest reading for the sampler.  The sampler never touches the bus.
type PowerMonitor struct {
	cfg    PowerConfig
	clock  clock.Clock
	logger golog.Logger
	open   powerOpener

	lock        sync.Mutex
	voltage     float64
	current     float64
	lastReading time.Time
}

func NewPowerMonitor(cfg PowerConfig, clk clock.Clock, logger golog.Logger) *PowerMonitor {
	if clk == nil {
		clk = clock.New()
	}
	return &PowerMonitor{cfg: cfg, clock: clk, logger: logger, open: openPowerDevices}
}

func openPowerDevices(cfg PowerConfig) (ina219.Interface, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		return err
	}
	if cfg.MuxPort != mux.NoPort {
		mx, err := mux.New(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, mx.Close)
		if err := mx.SelectSinglePort(cfg.MuxPort); err != nil {
			return nil, nil, multierr.Combine(err, closeAll())
		}
	}
	ps, err := ina219.NewI2C(cfg.Device, cfg.Addr)
	if err != nil {
		return nil, nil, multierr.Combine(err, closeAll())
	}
	closers = append(closers, ps.Close)
	return ps, closeAll, nil
}

func (p *PowerMonitor) Voltage() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.voltage
}

func (p *PowerMonitor) Current() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current
}

// LastReading is when the cached values were read; zero before the first.
func (p *PowerMonitor) LastReading() time.Time {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.lastReading
}

func (p *PowerMonitor) RegisterSignals(reg *signal.Registry) {
	reg.Register(signal.BatteryVoltage, p.Voltage)
	reg.Register(signal.BatteryCurrent, p.Current)
}

// Loop polls until ctx is done, reopening the devices after any failure.
// initDone, if not nil, is released after the first attempt to open them.
func (p *PowerMonitor) Loop(ctx context.Context, initDone *sync.WaitGroup) {
	p.logger.Info("I2C power loop started")
	for {
		p.loopUntilSomethingBadHappens(ctx, initDone)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("I2C failure; trying to recover")
		initDone = nil
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(time.Second):
		}
	}
}

func (p *PowerMonitor) loopUntilSomethingBadHappens(ctx context.Context, initDone *sync.WaitGroup) {
	defer func() {
		if initDone != nil {
			initDone.Done()
		}
	}()

	ps, closeAll, err := p.open(p.cfg)
	if err != nil {
		p.logger.Warnw("failed to open power sensor", "error", err)
		return
	}
	defer func() {
		if err := closeAll(); err != nil {
			p.logger.Debugw("closing power sensor", "error", err)
		}
	}()
	if err := ps.Configure(p.cfg.ShuntOhms, p.cfg.MaxCurrent); err != nil {
		p.logger.Warnw("failed to configure power sensor", "error", err)
		return
	}

	if initDone != nil {
		initDone.Done()
		initDone = nil
	}

	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		v, err := ps.ReadBusVoltage()
		if err != nil {
			p.logger.Warnw("failed to read bus voltage", "error", err)
			return
		}
		c, err := ps.ReadCurrent()
		if err != nil {
			p.logger.Warnw("failed to read current", "error", err)
			return
		}
		p.lock.Lock()
		p.voltage, p.current = v, c
		p.lastReading = p.clock.Now()
		p.lock.Unlock()
	}
}
