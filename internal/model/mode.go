package model

//
// Injector modes and configurations
//

import (
	"fmt"
	"strconv"
)

// Mode is the packet-loss injector mode.
type Mode string

const (
	// ModeOff means that no injector is running.
	ModeOff = Mode("off")

	// ModeFixed drops packets with a constant probability.
	ModeFixed = Mode("fixed")

	// ModeDynamic drops packets with a probability that scales
	// with the observed packet rate.
	ModeDynamic = Mode("dynamic")
)

// ParseMode converts a string to a [Mode].
func ParseMode(value string) (Mode, error) {
	switch m := Mode(value); m {
	case ModeOff, ModeFixed, ModeDynamic:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode: %q", value)
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}

// Level is the drop probability percentage used to tag trials.
type Level int

const (
	// LevelOff is the level of every trial run in [ModeOff].
	LevelOff = Level(0)

	// LevelDynamic is the sentinel level of every trial run in
	// [ModeDynamic]. It is outside the valid fixed range.
	LevelDynamic = Level(-1)

	// LevelMax is the maximum valid fixed level.
	LevelMax = Level(100)
)

// Valid returns whether the level is a valid fixed drop percentage.
func (l Level) Valid() bool {
	return l >= 0 && l <= LevelMax
}

// String implements fmt.Stringer.
func (l Level) String() string {
	return strconv.Itoa(int(l))
}

// DynamicParams contains the parameters of [ModeDynamic].
type DynamicParams struct {
	// MaxProb is the maximum drop probability percentage.
	MaxProb int64 `json:"max_prob"`

	// MinPPS is the packet rate at which dropping starts.
	MinPPS int64 `json:"min_pps"`

	// MaxPPS is the packet rate at which we reach MaxProb.
	MaxPPS int64 `json:"max_pps"`
}

// Validate returns an error if the parameters are inconsistent.
func (p *DynamicParams) Validate() error {
	if p.MaxProb < 0 || p.MaxProb > int64(LevelMax) {
		return fmt.Errorf("dynamic max probability out of range: %d", p.MaxProb)
	}
	if p.MinPPS < 0 || p.MaxPPS <= p.MinPPS {
		return fmt.Errorf("invalid dynamic packet rate range: [%d, %d]", p.MinPPS, p.MaxPPS)
	}
	return nil
}

// InjectorConfig is the configuration of the packet-loss injector.
//
// The zero value is a valid configuration meaning [ModeOff].
type InjectorConfig struct {
	// Mode is the injector mode.
	Mode Mode

	// Probability is the drop percentage used by [ModeFixed].
	Probability Level

	// Dynamic contains the parameters used by [ModeDynamic].
	Dynamic DynamicParams
}

// IsOff returns whether this configuration means no injector.
func (c *InjectorConfig) IsOff() bool {
	return c.Mode == "" || c.Mode == ModeOff
}

// String implements fmt.Stringer.
func (c *InjectorConfig) String() string {
	switch c.Mode {
	case ModeFixed:
		return fmt.Sprintf("fixed prob=%d%%", c.Probability)
	case ModeDynamic:
		return fmt.Sprintf("dynamic max-prob=%d%% rate=[%d, %d] pps",
			c.Dynamic.MaxProb, c.Dynamic.MinPPS, c.Dynamic.MaxPPS)
	default:
		return "off"
	}
}
