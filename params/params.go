// Package params implements the ParameterStore (the design, component
// C12): named, typed parameter sets with per-format compiled defaults,
// optionally overlaid from a user TOML file. Grounded on its design's
// config/config.go overlay-by-name pattern, generalized from one drive
// profile to an ordered list of named tunable bundles per format.
package params

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/sergev/tapedecode/tlog"
)

//go:embed defaults.toml
var embeddedDefaults []byte

// Set is one named bundle of decoding tunables (the design ParameterSet).
type Set struct {
	Name   string
	Active bool

	ClkWindow int     // 0 = use ClkAlpha exponential smoothing
	ClkAlpha  float64
	AGCWindow int     // 0 = use AGCAlpha exponential smoothing
	AGCAlpha  float64
	MinPeak   float64
	ClkFactor float64 // PE only
	PulseAdj  float64
	PkwwBitfrac float64
	PkwwRise    float64
	Midbit      float64 // NRZI only
	Z1pt        float64 // GCR only
	Z2pt        float64 // GCR only
}

// Store holds an ordered list of parameter sets for one format.
type Store struct {
	Sets []Set
}

// tomlFile mirrors the on-disk overlay shape: a table of named parameter
// sets, each optionally overriding any subset of fields by name.
type tomlFile struct {
	PE   []tomlSet `toml:"pe"`
	NRZI []tomlSet `toml:"nrzi"`
	GCR  []tomlSet `toml:"gcr"`
}

type tomlSet struct {
	Name        string   `toml:"name"`
	Active      *bool    `toml:"active"`
	ClkWindow   *int     `toml:"clk_window"`
	ClkAlpha    *float64 `toml:"clk_alpha"`
	AGCWindow   *int     `toml:"agc_window"`
	AGCAlpha    *float64 `toml:"agc_alpha"`
	MinPeak     *float64 `toml:"min_peak"`
	ClkFactor   *float64 `toml:"clk_factor"`
	PulseAdj    *float64 `toml:"pulse_adj"`
	PkwwBitfrac *float64 `toml:"pkww_bitfrac"`
	PkwwRise    *float64 `toml:"pkww_rise"`
	Midbit      *float64 `toml:"midbit"`
	Z1pt        *float64 `toml:"z1pt"`
	Z2pt        *float64 `toml:"z2pt"`
}

// DefaultsPE, DefaultsNRZI, DefaultsGCR are the compiled-in per-format
// default parameter sets (tuned empirically, the design), mirrored
// after the kind of small ordered retry ladder its orchestrator
// loop walks through (cmd/read.go retries across cylinders/heads).
func DefaultsPE() []Set {
	return []Set{
		{Name: "pe-default", Active: true, ClkWindow: 4, MinPeak: 0, ClkFactor: 1.0, PulseAdj: 0.5, PkwwBitfrac: 0.5, PkwwRise: 0.2},
		{Name: "pe-wide-window", Active: false, ClkWindow: 8, MinPeak: 0, ClkFactor: 1.2, PulseAdj: 0.4, PkwwBitfrac: 0.6, PkwwRise: 0.15},
		{Name: "pe-tight-clock", Active: false, ClkWindow: 3, MinPeak: 0, ClkFactor: 0.8, PulseAdj: 0.6, PkwwBitfrac: 0.4, PkwwRise: 0.25},
		{Name: "pe-alpha", Active: false, ClkAlpha: 0.3, MinPeak: 0, ClkFactor: 1.0, PulseAdj: 0.5, PkwwBitfrac: 0.5, PkwwRise: 0.2},
	}
}

func DefaultsNRZI() []Set {
	return []Set{
		{Name: "nrzi-default", Active: true, ClkWindow: 4, PulseAdj: 0.5, PkwwBitfrac: 0.4, PkwwRise: 0.2, Midbit: 0.3},
		{Name: "nrzi-low-midbit", Active: false, ClkWindow: 4, PulseAdj: 0.5, PkwwBitfrac: 0.4, PkwwRise: 0.2, Midbit: 0.15},
		{Name: "nrzi-alpha", Active: false, ClkAlpha: 0.25, PulseAdj: 0.5, PkwwBitfrac: 0.4, PkwwRise: 0.2, Midbit: 0.3},
	}
}

func DefaultsGCR() []Set {
	return []Set{
		{Name: "gcr-default", Active: true, ClkWindow: 4, PkwwBitfrac: 0.35, PkwwRise: 0.2, Z1pt: 1.5, Z2pt: 2.5},
		{Name: "gcr-wide-zero", Active: false, ClkWindow: 4, PkwwBitfrac: 0.35, PkwwRise: 0.2, Z1pt: 1.6, Z2pt: 2.7},
	}
}

// Load reads a TOML parameter file (format per §4.12: "missing names
// inherit default values from the first set, obsolete names are silently
// ignored with a warning") and overlays it onto the compiled defaults for
// the given format.
func Load(path string, defaults []Set) ([]Set, error) {
	var f tomlFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	// Keys present in the file but not mapped to any field above are
	// obsolete parameter names; warn and ignore, per the design
	for _, key := range meta.Undecoded() {
		tlog.Warnf("ignoring obsolete parameter %q in %s", key, path)
	}
	return overlay(defaults, toSets(f)), nil
}

// LoadOrCreate resolves the user parameter file at path, creating it from
// the embedded default content on first run (mirrors its design's
// config.Initialize, which does the same for ~/.floppy), then overlays it
// onto defaults.
func LoadOrCreate(path string, defaults []Set) ([]Set, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create parameter directory %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(path, embeddedDefaults, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default parameter file at %s: %w", path, err)
		}
	}
	return Load(path, defaults)
}

func toSets(f tomlFile) []tomlSet {
	all := make([]tomlSet, 0, len(f.PE)+len(f.NRZI)+len(f.GCR))
	all = append(all, f.PE...)
	all = append(all, f.NRZI...)
	all = append(all, f.GCR...)
	return all
}

// overlay merges named overrides onto the compiled defaults. A name not
// present among defaults is appended, seeded from the first default set
// (the rule: "missing names inherit default values from the first set").
func overlay(defaults []Set, overrides []tomlSet) []Set {
	if len(defaults) == 0 {
		return defaults
	}
	result := make([]Set, len(defaults))
	copy(result, defaults)
	byName := make(map[string]int, len(result))
	for i, s := range result {
		byName[s.Name] = i
	}

	for _, o := range overrides {
		if o.Name == "" {
			tlog.Warn("parameter set with empty name ignored")
			continue
		}
		idx, ok := byName[o.Name]
		if !ok {
			base := result[0]
			base.Name = o.Name
			result = append(result, base)
			idx = len(result) - 1
			byName[o.Name] = idx
		}
		applyOverride(&result[idx], o)
	}
	return result
}

func applyOverride(s *Set, o tomlSet) {
	if o.Active != nil {
		s.Active = *o.Active
	}
	if o.ClkWindow != nil {
		s.ClkWindow = *o.ClkWindow
	}
	if o.ClkAlpha != nil {
		s.ClkAlpha = *o.ClkAlpha
	}
	if o.AGCWindow != nil {
		s.AGCWindow = *o.AGCWindow
	}
	if o.AGCAlpha != nil {
		s.AGCAlpha = *o.AGCAlpha
	}
	if o.MinPeak != nil {
		s.MinPeak = *o.MinPeak
	}
	if o.ClkFactor != nil {
		s.ClkFactor = *o.ClkFactor
	}
	if o.PulseAdj != nil {
		s.PulseAdj = *o.PulseAdj
	}
	if o.PkwwBitfrac != nil {
		s.PkwwBitfrac = *o.PkwwBitfrac
	}
	if o.PkwwRise != nil {
		s.PkwwRise = *o.PkwwRise
	}
	if o.Midbit != nil {
		s.Midbit = *o.Midbit
	}
	if o.Z1pt != nil {
		s.Z1pt = *o.Z1pt
	}
	if o.Z2pt != nil {
		s.Z2pt = *o.Z2pt
	}
}
