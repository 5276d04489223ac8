package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drive"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/drivetrain"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware/sim"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/pid"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/replaylog"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/screen"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/signal"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/tunable"
)

const watchdogInterval = 5 * time.Second

func main() {
	logger := golog.NewLogger("swerve")
	if err := run(logger); err != nil {
		logger.Errorw("controller failed", "error", err)
		os.Exit(1)
	}
}

func run(logger golog.Logger) error {
	path := config.Path()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Debug {
		logger = golog.NewDebugLogger("swerve")
	}
	logger.Infow("---- swerve controller ----", "mode", cfg.Mode, "config", path,
		"GOMAXPROCS", runtime.GOMAXPROCS(0))
	inUse := strings.TrimSuffix(path, ".yaml") + "-in-use.yaml"
	if err := cfg.WriteInUse(inUse); err != nil {
		logger.Warnw("failed to write config in use", "error", err)
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandlers(cancel, logger)

	clk := clock.New()
	registry := signal.NewRegistry(cfg.RegistryOptions(), logger.Named("signals"))

	backend, replay, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	backend.RegisterSignals(registry)

	samplerOpts := cfg.SamplerOptions()
	samplerOpts.Clock = clk
	samplerOpts.Refresher = backend.Refresher()
	dtOpts := drivetrain.Options{}
	if replay != nil {
		defer replay.Close()
		samplerOpts.Replay = replay
		dtOpts.Replay = replay
	}
	sampler, err := odometry.New(cfg.Mode, registry, samplerOpts, logger.Named("odometry"))
	if err != nil {
		return err
	}

	if cfg.Record.Path != "" {
		rec, err := replaylog.Create(cfg.Record.Path, replaylog.Header{
			Mode:    cfg.Mode.String(),
			Signals: registry.Names(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warnw("failed to close odometry log", "error", err)
			}
			logger.Infow("odometry log closed", "path", cfg.Record.Path, "frames", rec.Frames())
		}()
		dtOpts.Recorder = rec
	}

	dt, err := drivetrain.New(cfg.Drivetrain, backend, registry, sampler, dtOpts, logger.Named("drivetrain"))
	if err != nil {
		return err
	}
	if err := dt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		logger.Info("Zeroing motors for shut down")
		if err := dt.Close(); err != nil {
			logger.Warnw("error shutting down drivetrain", "error", err)
		}
	}()

	input := joystick.NewDriveInput(cfg.Joystick)
	tunables := tunable.New(logger.Named("tunables"))
	heading := newHeadingTunables(tunables, cfg.Drive.HeadingPID)
	go readJoystick(ctx, cancel, cfg.Joystick.Device, clk, logger.Named("joystick"),
		input.OnJoystickEvent, tunables.OnJoystickEvent)

	status := &statusBox{}
	if cfg.Screen.Enabled {
		var screenDone sync.WaitGroup
		screenDone.Add(1)
		go func() {
			defer screenDone.Done()
			screen.Loop(ctx, cfg.Screen, clk, status.get, logger.Named("screen"))
		}()
		defer screenDone.Wait()
		defer cancel()
	}

	shaper := drive.New(cfg.Drive, input, dt, input.FieldCentric, clk, logger.Named("drive"))
	return controlLoop(ctx, cfg, clk, dt, sampler, shaper, input, heading, status, logger)
}

// headingTunables expose the hold controller's gains to the joystick.
type headingTunables struct {
	tunables *tunable.Tunables
	version  uint64

	maxOutput, decelerationBand, minimumCorrection, tolerance *tunable.Tunable
}

func newHeadingTunables(t *tunable.Tunables, cfg pid.Config) *headingTunables {
	return &headingTunables{
		tunables:          t,
		maxOutput:         t.Create("heading.max_output", cfg.MaxOutput, 0.1),
		decelerationBand:  t.Create("heading.deceleration_band", cfg.DecelerationBand, 0.02),
		minimumCorrection: t.Create("heading.minimum_correction", cfg.MinimumCorrection, 0.01),
		tolerance:         t.Create("heading.tolerance", cfg.Tolerance, 0.005),
	}
}

// apply pushes any change made since the last call into the shaper.
func (h *headingTunables) apply(shaper *drive.Shaper, logger golog.Logger) {
	v := h.tunables.Version()
	if v == h.version {
		return
	}
	h.version = v
	cfg := shaper.HeadingPID()
	cfg.MaxOutput = h.maxOutput.Get()
	cfg.DecelerationBand = h.decelerationBand.Get()
	cfg.MinimumCorrection = h.minimumCorrection.Get()
	cfg.Tolerance = h.tolerance.Get()
	if err := shaper.SetHeadingPID(cfg); err != nil {
		logger.Warnw("rejected heading tuning", "error", err)
	}
}

// statusBox hands the control loop's view of the robot to the screen
// goroutine.
type statusBox struct {
	lock sync.Mutex
	st   screen.Status
}

func (b *statusBox) set(st screen.Status) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.st = st
}

func (b *statusBox) get() screen.Status {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.st
}

// openBackend returns the hardware for the mode.  REPLAY runs against the
// simulated backend so that the same signals are registered, but it is never
// stepped.
func openBackend(cfg config.Config, logger golog.Logger) (hardware.Backend, *replaylog.Reader, error) {
	switch cfg.Mode {
	case odometry.ModeReal:
		hw, err := hardware.New(cfg.Hardware, logger.Named("hardware"))
		return hw, nil, err
	case odometry.ModeSim:
		b, err := sim.New(cfg.Sim, cfg.Drivetrain.Modules, logger.Named("sim"))
		return b, nil, err
	case odometry.ModeReplay:
		r, err := replaylog.Open(cfg.Replay.Path, logger.Named("replay"))
		if err != nil {
			return nil, nil, err
		}
		b, err := sim.New(cfg.Sim, cfg.Drivetrain.Modules, logger.Named("sim"))
		if err != nil {
			return nil, nil, multierr.Combine(err, r.Close())
		}
		logger.Infow("replaying odometry log", "path", cfg.Replay.Path, "recorded_mode", r.Header().Mode)
		return b, r, nil
	}
	return nil, nil, errors.Errorf("unknown mode %v", cfg.Mode)
}

func controlLoop(
	ctx context.Context,
	cfg config.Config,
	clk clock.Clock,
	dt *drivetrain.Drivetrain,
	sampler *odometry.Sampler,
	shaper *drive.Shaper,
	input *joystick.DriveInput,
	heading *headingTunables,
	status *statusBox,
	logger golog.Logger,
) error {
	ticker := clk.Ticker(cfg.Loop.Period)
	defer ticker.Stop()
	watchdog := clk.Ticker(watchdogInterval)
	defer watchdog.Stop()

	var overruns int
	for {
		select {
		case <-ctx.Done():
			logger.Info("Context done, shutting down")
			return nil
		case <-watchdog.C:
			frames, degraded := dt.Stats()
			logger.Infow("Main loop still running", "frames", frames, "degraded", degraded,
				"overruns", overruns, "sampler", sampler.Stats())
		case <-ticker.C:
			start := clk.Now()
			if input.TakeHeadingReset() {
				dt.ResetHeading(0)
				shaper.Reset()
				logger.Info("heading reset")
			}
			heading.apply(shaper, logger)
			frame := dt.Periodic()
			if sampler.Exhausted() {
				logger.Info("replay finished")
				return nil
			}
			res := shaper.Tick()
			facing, facingKnown := dt.Facing()
			volts, _ := dt.Latest(signal.BatteryVoltage)
			status.set(screen.Status{
				Mode:         cfg.Mode.String(),
				BatteryVolts: volts,
				Facing:       facing,
				FacingKnown:  facingKnown,
				HeadingHold:  res.HeadingHold,
				FieldCentric: res.FieldRelative,
				Degraded:     frame.Degraded,
			})
			logger.Debugw("tick", "command", res.Command, "hold", res.HeadingHold,
				"setpoint", res.Setpoint, "stopped", res.Stopped, "samples", len(frame.Timestamps))
			if elapsed := clk.Since(start); elapsed > cfg.Loop.Period {
				overruns++
				logger.Debugw("control loop overran", "elapsed", elapsed)
			}
		}
	}
}

// readJoystick waits for the joystick to appear and feeds it to handlers.  Once
// a joystick has been opened, losing it shuts the controller down.
func readJoystick(
	ctx context.Context,
	cancel context.CancelFunc,
	device string,
	clk clock.Clock,
	logger golog.Logger,
	handlers ...func(*joystick.Event),
) {
	firstLog := true
	var j *joystick.Joystick
	for {
		var err error
		j, err = joystick.Open(device, clk)
		if err == nil {
			break
		}
		if firstLog {
			logger.Warnw("Waiting for joystick", "error", err)
			firstLog = false
		}
		select {
		case <-ctx.Done():
			return
		case <-clk.After(time.Second):
		}
	}

	logger.Infow("Opened joystick", "device", device)
	events := make(chan *joystick.Event, 1)
	errC := make(chan error, 1)
	go func() { errC <- j.Loop(ctx, events, logger) }()
	for event := range events {
		for _, h := range handlers {
			h(event)
		}
	}
	if err := <-errC; ctx.Err() == nil {
		logger.Errorw("Joystick failed", "error", err)
		cancel()
	}
}

func registerSignalHandlers(cancel context.CancelFunc, logger golog.Logger) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	ossignal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		logger.Infow("Signal", "signal", s)
		cancel()
	}()
}
