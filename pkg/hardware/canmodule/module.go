package canmodule

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/swerve"
)

type ModuleConfig struct {
	Name    string `yaml:"name"`
	SteerID uint8  `yaml:"steer_id"`
	DriveID uint8  `yaml:"drive_id"`
	// SteerRatio is steer rotor rotations per module turn.
	SteerRatio float64 `yaml:"steer_ratio"`
	// DriveRatio is drive rotor rotations per wheel rotation.
	DriveRatio  float64 `yaml:"drive_ratio"`
	WheelRadius float64 `yaml:"wheel_radius"`
	// SteerOffset is the steer angle, in radians, that the controller reports
	// with the wheel pointing forward.
	SteerOffset float64 `yaml:"steer_offset"`
}

func (c ModuleConfig) Validate() error {
	if c.Name == "" {
		return errors.New("module needs a name")
	}
	if c.SteerID == c.DriveID {
		return errors.Errorf("module %s: steer and drive share node ID %d", c.Name, c.SteerID)
	}
	if c.SteerID > nodeMask || c.DriveID > nodeMask {
		return errors.Errorf("module %s: node IDs must be below %d", c.Name, nodeMask+1)
	}
	if c.SteerRatio <= 0 || c.DriveRatio <= 0 || c.WheelRadius <= 0 {
		return errors.Errorf("module %s: ratios and wheel radius must be positive", c.Name)
	}
	return nil
}

// Module is a swerve module driven by two controllers on the bus.
type Module struct {
	cfg          ModuleConfig
	steer, drive *Motor
}

func NewModule(bus *Bus, cfg ModuleConfig) *Module {
	return &Module{
		cfg:   cfg,
		steer: bus.Motor(cfg.SteerID, cfg.Name+" steer"),
		drive: bus.Motor(cfg.DriveID, cfg.Name+" drive"),
	}
}

func (m *Module) Name() string {
	return m.cfg.Name
}

func (m *Module) RegisterSignals(reg *signal.Registry) {
	steerScale := 2 * math.Pi / m.cfg.SteerRatio
	driveScale := 2 * math.Pi * m.cfg.WheelRadius / m.cfg.DriveRatio
	name := func(kind string) string { return signal.ModuleSignal(m.cfg.Name, kind) }

	reg.RegisterStatusSignal(m.steer.PositionSignal(name(signal.SteerAngle), steerScale, m.cfg.SteerOffset))
	reg.RegisterStatusSignal(m.steer.VelocitySignal(name(signal.SteerVelocity), steerScale))
	reg.RegisterStatusSignal(m.drive.VelocitySignal(name(signal.DriveVelocity), driveScale))
	reg.RegisterStatusSignal(m.drive.PositionSignal(name(signal.DrivePosition), driveScale, 0))
}

func (m *Module) SetOutput(out swerve.Output) error {
	return multierr.Combine(
		m.steer.SetVoltage(out.Steer),
		m.drive.SetVoltage(out.Drive),
	)
}
