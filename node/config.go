package node

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
)

// Config wires a node to its board and sets the ranging timings. A
// YAML file loaded over the role defaults overrides any subset of it.
type Config struct {
	Serial struct {
		// Port is the telemetry UART; empty writes to stdout.
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`

	SPI struct {
		Port     string `yaml:"port"`
		SpeedMHz int    `yaml:"speedMHz"`
	} `yaml:"spi"`

	Pins struct {
		IRQ       string `yaml:"irq"`
		Reset     string `yaml:"reset"`
		MotorStep string `yaml:"motorStep"`
		MotorDir  string `yaml:"motorDir"`
	} `yaml:"pins"`

	Radio dw3000.Config `yaml:"radio"`

	Ranging struct {
		// ReplyDelayUS is the fixed turn-around of delayed
		// transmissions in microseconds.
		ReplyDelayUS uint64 `yaml:"replyDelayUS"`
		TimeoutMS    int    `yaml:"timeoutMS"`
		ErrorPauseMS int    `yaml:"errorPauseMS"`
		RoundPauseMS int    `yaml:"roundPauseMS"`
		// SettleMS delays the first sync after boot so the anchor is
		// listening before the tag starts.
		SettleMS int `yaml:"settleMS"`
	} `yaml:"ranging"`

	// Collect enables the full measurement stream (diagnostics, CIR
	// and round records) on the tag.
	Collect bool `yaml:"collect"`

	Rotate struct {
		Enabled bool `yaml:"enabled"`
		// RoundsPerDegree is the number of completed rounds between
		// one-degree steps.
		RoundsPerDegree int `yaml:"roundsPerDegree"`
		// Wrap rotates continuously instead of sweeping to 360
		// degrees and back.
		Wrap bool `yaml:"wrap"`
	} `yaml:"rotate"`
}

func baseConfig() Config {
	var c Config
	c.Serial.Baud = 921600
	c.SPI.SpeedMHz = 36
	c.Pins.IRQ = "GPIO25"
	c.Pins.Reset = "GPIO24"
	c.Pins.MotorStep = "GPIO17"
	c.Pins.MotorDir = "GPIO27"
	c.Radio = dw3000.DefaultConfig()
	c.Ranging.TimeoutMS = 1000
	c.Ranging.RoundPauseMS = 5
	c.Rotate.RoundsPerDegree = 5
	return c
}

// DataTagConfig is the data-collection tag: full telemetry and a reply
// delay long enough for the host to drain the CIR between frames.
func DataTagConfig() Config {
	c := baseConfig()
	c.Ranging.ReplyDelayUS = 100_000
	c.Ranging.ErrorPauseMS = 200
	c.Ranging.SettleMS = 3000
	c.Collect = true
	return c
}

// BareTagConfig is the minimal ranging tag without measurement
// collection.
func BareTagConfig() Config {
	c := baseConfig()
	c.Ranging.ReplyDelayUS = 10_000
	c.Ranging.TimeoutMS = 2000
	c.Ranging.ErrorPauseMS = 3000
	c.Ranging.RoundPauseMS = 500
	return c
}

// AnchorConfig is the single-antenna responder.
func AnchorConfig() Config {
	c := baseConfig()
	c.Ranging.ReplyDelayUS = 10_000
	c.Ranging.ErrorPauseMS = 500
	return c
}

// Load merges the YAML file at path into cfg.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("node: %s: %w", path, err)
	}
	return nil
}
