// Command gyrocal spins the robot on the spot each way and compares the
// gyro's yaw rate with the rate the wheel modules report.
package main

import (
	"context"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drivetrain"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/sim"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
)

const (
	spinRate     = 0.3
	spinDuration = 5 * time.Second
)

func main() {
	logger := golog.NewDevelopmentLogger("gyrocal")
	logger.Infow("---- Gyro calibration ----", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatalw("failed to load config", "error", err)
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	dt, err := openDrivetrain(ctx, cfg, clk, logger)
	if err != nil {
		logger.Fatalw("failed to start drivetrain", "error", err)
	}
	defer func() {
		logger.Info("Zeroing motors for shut down")
		if err := dt.Close(); err != nil {
			logger.Warnw("error shutting down drivetrain", "error", err)
		}
	}()

	ticker := clk.Ticker(cfg.Loop.Period)
	defer ticker.Stop()
	wait := func() { <-ticker.C }
	for _, omega := range []float64{spinRate, -spinRate} {
		res, err := Spin(periodic{dt}, omega, spinDuration, cfg.Loop.Period, wait)
		if err != nil {
			logger.Errorw("spin failed", "error", err)
			return
		}
		logger.Infow("spin", "commanded", res.Commanded, "gyro", res.Gyro, "wheels", res.Wheels,
			"ratio", res.Ratio(), "samples", res.Samples)
	}
}

// periodic drops the frame Periodic returns.
type periodic struct {
	*drivetrain.Drivetrain
}

func (p periodic) Periodic() { p.Drivetrain.Periodic() }

func openDrivetrain(ctx context.Context, cfg config.Config, clk clock.Clock, logger golog.Logger) (*drivetrain.Drivetrain, error) {
	var backend hardware.Backend
	var err error
	switch cfg.Mode {
	case odometry.ModeSim:
		backend, err = sim.New(cfg.Sim, cfg.Drivetrain.Modules, logger.Named("sim"))
	default:
		backend, err = hardware.New(cfg.Hardware, logger.Named("hardware"))
	}
	if err != nil {
		return nil, err
	}
	registry := signal.NewRegistry(cfg.RegistryOptions(), logger.Named("signals"))
	backend.RegisterSignals(registry)
	opts := cfg.SamplerOptions()
	opts.Clock = clk
	opts.Refresher = backend.Refresher()
	mode := cfg.Mode
	if mode == odometry.ModeReplay {
		mode = odometry.ModeReal
	}
	sampler, err := odometry.New(mode, registry, opts, logger.Named("odometry"))
	if err != nil {
		return nil, err
	}
	dt, err := drivetrain.New(cfg.Drivetrain, backend, registry, sampler, drivetrain.Options{}, logger.Named("drivetrain"))
	if err != nil {
		return nil, err
	}
	return dt, dt.Start(ctx)
}
