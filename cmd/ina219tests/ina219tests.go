// Command ina219tests polls the battery monitor configured for the robot and
// prints its readings.
package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
)

func main() {
	logger := golog.NewDevelopmentLogger("ina219tests")
	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatalw("failed to load config", "error", err)
	}

	clk := clock.New()
	pm := hardware.NewPowerMonitor(cfg.Hardware.Power, clk, logger.Named("power"))
	var initDone sync.WaitGroup
	initDone.Add(1)
	go pm.Loop(context.Background(), &initDone)
	initDone.Wait()

	for range clk.Ticker(500 * time.Millisecond).C {
		logger.Infow("power",
			"volts", pm.Voltage(),
			"amps", pm.Current(),
			"charge", cfg.Screen.Battery.Charge(pm.Voltage()),
			"age", clk.Since(pm.LastReading()))
	}
}
