// Command imutests prints the heading from the configured gyro.
package main

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/angle"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/bno08x"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/imu"
)

type yawSource interface {
	Yaw() float64
	YawRate() float64
}

func main() {
	logger := golog.NewDevelopmentLogger("imutests")
	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatalw("failed to load config", "error", err)
	}
	ctx := context.Background()
	clk := clock.New()

	var gyro yawSource
	var report func() interface{}
	switch cfg.Hardware.Gyro.Type {
	case hardware.GyroBNO08X:
		b := bno08x.New(bno08x.Config{Device: cfg.Hardware.Gyro.Device, Inverted: cfg.Hardware.Gyro.Inverted}, clk, logger.Named("bno08x"))
		go b.LoopReadingReports(ctx)
		gyro = b
		report = func() interface{} { return b.CurrentReport() }
	case hardware.GyroSPI:
		dev, err := imu.NewSPI(cfg.Hardware.Gyro.Device, logger.Named("imu"))
		if err != nil {
			logger.Fatalw("failed to open gyro", "error", err)
		}
		g := imu.NewGyro(dev, clk, logger.Named("gyro"))
		logger.Info("Calibrating; keep the robot still")
		if err := g.Start(); err != nil {
			logger.Fatalw("failed to start gyro", "error", err)
		}
		go g.Loop(ctx)
		gyro = g
		report = func() interface{} { return nil }
	default:
		logger.Fatalw("no gyro configured", "type", cfg.Hardware.Gyro.Type)
	}

	offset := math.NaN()
	for range clk.Ticker(200 * time.Millisecond).C {
		yaw := gyro.Yaw()
		if math.IsNaN(offset) {
			offset = yaw
		}
		logger.Infow("gyro",
			"report", report(),
			"yaw_deg", angle.Wrap(yaw-offset)*180/math.Pi,
			"rate_dps", gyro.YawRate()*180/math.Pi)
	}
}
