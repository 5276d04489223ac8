// Command screentests drives the status screen by hand.  Each line read from
// stdin becomes the mode shown; with -png the screen is written to a file
// instead of the display.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/fogleman/gg"

	"github.com/tigerbot-team/tigerbot/swerve-controller/pkg/screen"
)

func main() {
	device := flag.String("device", screen.DefaultDevice, "framebuffer device")
	png := flag.String("png", "", "write the screen to this PNG instead")
	flag.Parse()

	logger := golog.NewDevelopmentLogger("screentests")

	var lock sync.Mutex
	st := screen.Status{
		Mode:         "TEST",
		BatteryVolts: 16.8,
		Facing:       0.5,
		FacingKnown:  true,
		FieldCentric: true,
	}
	status := func() screen.Status {
		lock.Lock()
		defer lock.Unlock()
		return st
	}

	if *png != "" {
		if err := gg.SavePNG(*png, screen.Render(st, screen.DefaultBattery())); err != nil {
			logger.Fatalw("failed to write PNG", "error", err)
		}
		return
	}

	ctx := context.Background()
	go screen.Loop(ctx, screen.Config{Enabled: true, Device: *device, Battery: screen.DefaultBattery()}, clock.New(), status, logger)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			logger.Infow("Failed to read stdin", "error", err)
			return
		}
		lock.Lock()
		st.Mode = strings.TrimSpace(line)
		st.Degraded = !st.Degraded
		st.BatteryVolts -= 0.4
		lock.Unlock()
	}
}
