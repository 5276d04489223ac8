package hardware

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/bno08x"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/canmodule"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/imu"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

const (
	GyroBNO08X = "bno08x"
	GyroSPI    = "spi"
	GyroNone   = "none"
)

type GyroConfig struct {
	Type     string `yaml:"type"`
	Device   string `yaml:"device"`
	Inverted bool   `yaml:"inverted"`
}

type Config struct {
	CANChannel string                   `yaml:"can_channel"`
	Modules    []canmodule.ModuleConfig `yaml:"modules"`
	Gyro       GyroConfig               `yaml:"gyro"`
	Power      PowerConfig              `yaml:"power"`
}

// DefaultConfig matches swerve.DefaultModules: steer controllers on odd
// node IDs, drive controllers on even.
func DefaultConfig() Config {
	cfg := Config{
		CANChannel: "can0",
		Gyro:       GyroConfig{Type: GyroBNO08X, Device: bno08x.DefaultDevice},
		Power:      DefaultPowerConfig(),
	}
	for i, m := range swerve.DefaultModules() {
		cfg.Modules = append(cfg.Modules, canmodule.ModuleConfig{
			Name:        m.Name,
			SteerID:     uint8(2*i + 1),
			DriveID:     uint8(2*i + 2),
			SteerRatio:  150.0 / 7,
			DriveRatio:  6.75,
			WheelRadius: 0.0508,
		})
	}
	return cfg
}

func (c Config) Validate() error {
	if c.CANChannel == "" {
		return errors.New("can_channel is required")
	}
	if len(c.Modules) == 0 {
		return errors.New("no modules configured")
	}
	ids := map[uint8]string{}
	var err error
	for _, m := range c.Modules {
		if merr := m.Validate(); merr != nil {
			err = multierr.Append(err, merr)
			continue
		}
		for _, id := range []uint8{m.SteerID, m.DriveID} {
			if other, ok := ids[id]; ok {
				err = multierr.Append(err, errors.Errorf("node ID %d used by %s and %s", id, other, m.Name))
			}
			ids[id] = m.Name
		}
	}
	switch c.Gyro.Type {
	case GyroBNO08X, GyroSPI, GyroNone:
	default:
		err = multierr.Append(err, errors.Errorf("unknown gyro type %q", c.Gyro.Type))
	}
	return err
}

// Hardware is the real robot: swerve modules on CAN, a gyro on UART or SPI
// and a battery monitor on I2C.
type Hardware struct {
	cfg    Config
	clock  clock.Clock
	logger golog.Logger

	bus     *canmodule.Bus
	modules []ModuleIO
	gyro    GyroIO
	power   *PowerMonitor

	bno     *bno08x.BNO08X
	spiGyro *imu.Gyro

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Backend = (*Hardware)(nil)

func New(cfg Config, logger golog.Logger) (*Hardware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid hardware config")
	}
	sock, err := canmodule.Open(cfg.CANChannel)
	if err != nil {
		return nil, err
	}
	h, err := newWithSocket(cfg, sock, clock.New(), logger)
	if err != nil {
		return nil, multierr.Combine(err, sock.Close())
	}
	return h, nil
}

func newWithSocket(cfg Config, sock canmodule.Socket, clk clock.Clock, logger golog.Logger) (*Hardware, error) {
	h := &Hardware{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		bus:    canmodule.NewBus(sock, clk, logger.Named("can")),
	}
	for _, m := range cfg.Modules {
		h.modules = append(h.modules, canmodule.NewModule(h.bus, m))
	}

	switch cfg.Gyro.Type {
	case GyroBNO08X:
		h.bno = bno08x.New(bno08x.Config{Device: cfg.Gyro.Device, Inverted: cfg.Gyro.Inverted}, clk, logger.Named("bno08x"))
		h.gyro = h.bno
	case GyroSPI:
		dev, err := imu.NewSPI(cfg.Gyro.Device, logger.Named("imu"))
		if err != nil {
			return nil, err
		}
		h.spiGyro = imu.NewGyro(dev, clk, logger.Named("imu"))
		h.gyro = h.spiGyro
	default:
		h.gyro = nullGyro{}
	}

	if cfg.Power.Enabled {
		h.power = NewPowerMonitor(cfg.Power, clk, logger.Named("power"))
	}
	return h, nil
}

func (h *Hardware) Modules() []ModuleIO {
	return h.modules
}

func (h *Hardware) Gyro() GyroIO {
	return h.gyro
}

func (h *Hardware) Refresher() odometry.Refresher {
	return h.bus
}

func (h *Hardware) RegisterSignals(reg *signal.Registry) {
	for _, m := range h.modules {
		m.RegisterSignals(reg)
	}
	h.gyro.RegisterSignals(reg)
	if h.power != nil {
		h.power.RegisterSignals(reg)
	}
}

// Start runs the device loops.  It returns once every device has had its
// first chance to initialise.
func (h *Hardware) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)
	h.bus.Start(ctx)

	if h.spiGyro != nil {
		if err := h.spiGyro.Start(); err != nil {
			h.cancel()
			return errors.Wrap(err, "starting gyro")
		}
		h.goLoop(func() { h.spiGyro.Loop(ctx) })
	}
	if h.bno != nil {
		h.goLoop(func() { h.bno.LoopReadingReports(ctx) })
	}

	var initDone sync.WaitGroup
	if h.power != nil {
		initDone.Add(1)
		h.goLoop(func() { h.power.Loop(ctx, &initDone) })
	}
	initDone.Wait()
	h.logger.Infow("hardware started", "modules", len(h.modules), "gyro", h.cfg.Gyro.Type)
	return nil
}

func (h *Hardware) goLoop(f func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f()
	}()
}

// Close zeroes every motor and stops the device loops.
func (h *Hardware) Close() error {
	var err error
	for _, m := range h.modules {
		err = multierr.Append(err, m.SetOutput(swerve.Output{}))
	}
	if h.cancel != nil {
		h.cancel()
	}
	err = multierr.Append(err, h.bus.Close())
	h.wg.Wait()
	return err
}

type nullGyro struct{}

func (nullGyro) RegisterSignals(reg *signal.Registry) {
	reg.Register(signal.GyroYaw, func() float64 { return 0 })
	reg.Register(signal.GyroYawRate, func() float64 { return 0 })
}
