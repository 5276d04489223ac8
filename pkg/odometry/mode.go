package odometry

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects the execution context for the whole process.  It is read once
// at startup.
type Mode uint8

const (
	ModeReal Mode = iota
	ModeSim
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeReal:
		return "REAL"
	case ModeSim:
		return "SIM"
	case ModeReplay:
		return "REPLAY"
	default:
		return "UNKNOWN"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REAL":
		return ModeReal, nil
	case "SIM", "SIMULATION":
		return ModeSim, nil
	case "REPLAY":
		return ModeReplay, nil
	}
	return 0, errors.Errorf("unknown runtime mode %q (want REAL, SIM or REPLAY)", s)
}

// UnmarshalYAML lets the mode be written as a string in config files.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}
