// Command shapertrace runs a scripted stick profile through the velocity
// shaper and the simulated drivetrain, and plots the result for tuning.
package main

import (
	"flag"
	"os"

	"github.com/edaniels/golog"
	"github.com/fogleman/gg"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/odometry"
)

func main() {
	configPath := flag.String("config", config.Path(), "controller config to take tuning from")
	profilePath := flag.String("profile", "", "YAML stick profile; empty for the built-in one")
	out := flag.String("out", "shapertrace.png", "PNG to write")
	flag.Parse()

	logger := golog.NewDevelopmentLogger("shapertrace")

	os.Setenv(config.EnvMode, odometry.ModeSim.String())
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalw("failed to load config", "error", err)
	}

	profile := DefaultProfile()
	if *profilePath != "" {
		if profile, err = LoadProfile(*profilePath); err != nil {
			logger.Fatalw("failed to load profile", "error", err)
		}
	}

	samples, err := Run(cfg, profile, logger)
	if err != nil {
		logger.Fatalw("trace failed", "error", err)
	}
	if err := gg.SavePNG(*out, Render(samples)); err != nil {
		logger.Fatalw("failed to write plot", "error", err)
	}
	logger.Infow("wrote trace", "path", *out, "samples", len(samples), "seconds", profile.Length().Seconds())
}
