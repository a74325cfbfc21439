// Package config contains the experiment configuration file.
//
// The file is JSON with comments and trailing commas. Every field is
// optional: what the file does not set keeps its default, and command
// line flags override what the file sets.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
	"github.com/wfeval/wfeval/internal/model"
)

// Config is the experiment configuration.
type Config struct {
	// Comment is ignored and allows documenting the file.
	Comment string `json:"_"`

	// Namespace is the network namespace where the browser, the
	// capture and the loader run. Empty means the current one.
	Namespace string `json:"namespace"`

	// Interface is the interface inside the namespace. Empty
	// means autodetect.
	Interface string `json:"interface"`

	// URLsFile is the file containing the URLs to measure.
	URLsFile string `json:"urls_file"`

	// URLs contains URLs to measure in addition to URLsFile.
	URLs []string `json:"urls"`

	// Mode is the injector mode.
	Mode string `json:"mode"`

	// Levels contains the fixed drop levels.
	Levels []int `json:"levels"`

	// RunsPerLevel is the number of repetitions of each group.
	RunsPerLevel int `json:"runs_per_level"`

	// Dynamic contains the dynamic mode parameters.
	Dynamic model.DynamicParams `json:"dynamic"`

	// Seed seeds the URL shuffling.
	Seed int64 `json:"seed"`

	// OutDir is the directory containing the ledger and the captures.
	OutDir string `json:"out_dir"`

	// LoaderPath is the path of the packet-loss loader.
	LoaderPath string `json:"loader_path"`

	Browser Browser `json:"browser"`
	Network Network `json:"network"`
}

// Browser contains the browser settings.
type Browser struct {
	Chrome           string   `json:"chrome"`
	Chromedriver     string   `json:"chromedriver"`
	ExtraArgs        []string `json:"extra_args"`
	Headless         bool     `json:"headless"`
	PageLoadTimeoutS int64    `json:"page_load_timeout_s"`
	DrainDelayS      float64  `json:"drain_delay_s"`
}

// Network contains the environment settings.
type Network struct {
	QUICOnly       bool   `json:"quic_only"`
	TrafficControl bool   `json:"traffic_control"`
	Subnet         string `json:"subnet"`
	CaptureFilter  string `json:"capture_filter"`

	// ExecPrefix is the command line entering the namespace, which
	// defaults to "ip netns exec <namespace>".
	ExecPrefix string `json:"exec_prefix"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Namespace:    "wfns",
		Mode:         string(model.ModeFixed),
		Levels:       []int{0, 1, 2, 5, 10},
		RunsPerLevel: 10,
		Dynamic: model.DynamicParams{
			MaxProb: 50,
			MinPPS:  1000,
			MaxPPS:  100000,
		},
		Seed:       123,
		OutDir:     "results",
		LoaderPath: "./loader",
		Browser: Browser{
			Headless:         true,
			PageLoadTimeoutS: 60,
			DrainDelayS:      5,
		},
		Network: Network{
			QUICOnly:       true,
			TrafficControl: true,
			Subnet:         "10.200.0.0/24",
			CaptureFilter:  "udp and port 443",
		},
	}
}

// ReadConfig reads the configuration from the path.
func ReadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseConfig(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return c, nil
}

// ParseConfig returns the config from JSON-with-comments bytes
// applied on top of the defaults.
func ParseConfig(b []byte) (*Config, error) {
	b, err := hujson.Standardize(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing hujson")
	}
	c := New()
	if err := json.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "parsing json")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating")
	}
	return c, nil
}

// InjectorMode returns the parsed mode.
func (c *Config) InjectorMode() (model.Mode, error) {
	return model.ParseMode(c.Mode)
}

// InjectorLevels returns the fixed levels.
func (c *Config) InjectorLevels() []model.Level {
	var out []model.Level
	for _, level := range c.Levels {
		out = append(out, model.Level(level))
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	mode, err := c.InjectorMode()
	if err != nil {
		return err
	}
	if c.RunsPerLevel <= 0 {
		return fmt.Errorf("runs_per_level must be positive: %d", c.RunsPerLevel)
	}
	switch mode {
	case model.ModeFixed:
		if len(c.Levels) <= 0 {
			return errors.New("fixed mode needs at least one level")
		}
		for _, level := range c.InjectorLevels() {
			if !level.Valid() {
				return fmt.Errorf("level out of range: %d", level)
			}
		}
	case model.ModeDynamic:
		if err := c.Dynamic.Validate(); err != nil {
			return err
		}
	}
	if c.Browser.PageLoadTimeoutS <= 0 {
		return fmt.Errorf("page_load_timeout_s must be positive: %d", c.Browser.PageLoadTimeoutS)
	}
	if c.Browser.DrainDelayS < 0 {
		return fmt.Errorf("drain_delay_s cannot be negative: %v", c.Browser.DrainDelayS)
	}
	if c.OutDir == "" {
		return errors.New("out_dir cannot be empty")
	}
	return nil
}
