// Command joytests prints joystick events and the drive intent they map to.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/joystick"
)

func main() {
	logger := golog.NewDevelopmentLogger("joytests")

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandlers(cancel, logger)

	cfg := joystick.DefaultInputConfig()
	if dev := os.Getenv(config.EnvJoystick); dev != "" {
		cfg.Device = dev
	}
	j, err := joystick.Open(cfg.Device, clock.New())
	if err != nil {
		logger.Fatalw("Failed to open joystick", "device", cfg.Device, "error", err)
	}
	logger.Infow("Opened joystick", "device", cfg.Device)

	input := joystick.NewDriveInput(cfg)
	events := make(chan *joystick.Event)
	errC := make(chan error, 1)
	go func() { errC <- j.Loop(ctx, events, logger) }()
	for je := range events {
		input.OnJoystickEvent(je)
		logger.Infow("Event from joystick", "event", je,
			"intent", input.Intent(1, 1), "field_centric", input.FieldCentric())
	}
	if err := <-errC; ctx.Err() == nil {
		logger.Errorw("Joystick failed", "error", err)
	}
}

func registerSignalHandlers(cancel context.CancelFunc, logger golog.Logger) {
	signals := make(chan os.Signal, 2)
	ossignal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		logger.Infow("Signal", "signal", s)
		cancel()
	}()
}
