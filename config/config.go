// Package config holds the run configuration surface: the knobs that stay
// fixed across every block of one decoding run (format, geometry, parity,
// retry policy, track order). Grounded on its config/config.go
// TOML-backed drive profile, generalized from one fixed drive shape to the
// tape run surface.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sergev/tapedecode/tape"
)

// Config is the run-wide configuration.
type Config struct {
	Mode           tape.Format
	Ntrks          int
	BPI            float64
	IPS            float64
	ExpectedParity int
	AddParity      bool
	Deskew         bool
	MultiTry       bool
	SkipSamples    int
	Order          []int
}

// tomlConfig mirrors the on-disk shape (the run configuration
// surface), parsed the way its config.Config unmarshals its
// drive table.
type tomlConfig struct {
	Mode           string  `toml:"mode"`
	Ntrks          int     `toml:"ntrks"`
	BPI            float64 `toml:"bpi"`
	IPS            float64 `toml:"ips"`
	ExpectedParity int     `toml:"expected_parity"`
	AddParity      bool    `toml:"add_parity"`
	Deskew         bool    `toml:"deskew"`
	MultiTry       bool    `toml:"multi_try"`
	SkipSamples    int     `toml:"skip_samples"`
	Order          []int   `toml:"order"`
}

func parseMode(name string) (tape.Format, error) {
	return ParseMode(name)
}

// ParseMode converts a mode name ("pe", "nrzi", "gcr", any case) to a
// tape.Format, for callers that build a Config from individual flags
// instead of a TOML file (the cmd package's global flags).
func ParseMode(name string) (tape.Format, error) {
	switch strings.ToLower(name) {
	case "pe":
		return tape.PE, nil
	case "nrzi":
		return tape.NRZI, nil
	case "gcr":
		return tape.GCR, nil
	default:
		return 0, fmt.Errorf("config: unknown mode %q (want pe, nrzi, or gcr)", name)
	}
}

// Load parses a run configuration TOML file at path.
func Load(path string) (Config, error) {
	var t tomlConfig
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	mode, err := parseMode(t.Mode)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:           mode,
		Ntrks:          t.Ntrks,
		BPI:            t.BPI,
		IPS:            t.IPS,
		ExpectedParity: t.ExpectedParity,
		AddParity:      t.AddParity,
		Deskew:         t.Deskew,
		MultiTry:       t.MultiTry,
		SkipSamples:    t.SkipSamples,
		Order:          t.Order,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that orchestrate.Config assumes are sane.
func (c Config) Validate() error {
	if c.Ntrks <= 0 {
		return fmt.Errorf("config: ntrks must be positive, got %d", c.Ntrks)
	}
	if c.BPI <= 0 {
		return fmt.Errorf("config: bpi must be positive, got %g", c.BPI)
	}
	if c.IPS <= 0 {
		return fmt.Errorf("config: ips must be positive, got %g", c.IPS)
	}
	if len(c.Order) != 0 && len(c.Order) != c.Ntrks {
		return fmt.Errorf("config: order has %d entries, want %d (ntrks)", len(c.Order), c.Ntrks)
	}
	return nil
}

// TrackOrder returns the configured track order, or the standard default
// for Ntrks if none was given (the design, DefaultOrder9/DefaultOrder7).
func (c Config) TrackOrder() []int {
	if len(c.Order) != 0 {
		return c.Order
	}
	if c.Ntrks == 9 {
		return tape.DefaultOrder9
	}
	if c.Ntrks == 7 {
		return tape.DefaultOrder7
	}
	order := make([]int, c.Ntrks)
	for i := range order {
		order[i] = i
	}
	return order
}
