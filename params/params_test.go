package params

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempToml(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "params.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write temp toml: %v", err)
	}
	return path
}

func TestLoadOverridesNamedSet(t *testing.T) {
	path := writeTempToml(t, `
[[pe]]
name = "pe-default"
clk_window = 9
`)
	sets, err := Load(path, DefaultsPE())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	found := false
	for _, s := range sets {
		if s.Name == "pe-default" {
			found = true
			if s.ClkWindow != 9 {
				t.Fatalf("ClkWindow = %d, want 9", s.ClkWindow)
			}
		}
	}
	if !found {
		t.Fatal("pe-default set missing after overlay")
	}
}

func TestLoadAddsNewSetSeededFromFirstDefault(t *testing.T) {
	path := writeTempToml(t, `
[[pe]]
name = "pe-custom"
pulse_adj = 0.9
`)
	defaults := DefaultsPE()
	sets, err := Load(path, defaults)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var custom *Set
	for i := range sets {
		if sets[i].Name == "pe-custom" {
			custom = &sets[i]
		}
	}
	if custom == nil {
		t.Fatal("pe-custom not added")
	}
	if custom.PulseAdj != 0.9 {
		t.Fatalf("PulseAdj = %v, want 0.9", custom.PulseAdj)
	}
	if custom.PkwwBitfrac != defaults[0].PkwwBitfrac {
		t.Fatalf("PkwwBitfrac = %v, want inherited %v from first default", custom.PkwwBitfrac, defaults[0].PkwwBitfrac)
	}
}

func TestLoadIgnoresObsoleteKeys(t *testing.T) {
	path := writeTempToml(t, `
[[pe]]
name = "pe-default"
no_longer_used = 42
`)
	// Must not error even though no_longer_used maps to no field.
	if _, err := Load(path, DefaultsPE()); err != nil {
		t.Fatalf("Load failed on obsolete key: %v", err)
	}
}

func TestLoadOrCreateWritesEmbeddedDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.toml")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("test setup: file should not exist yet")
	}
	if _, err := LoadOrCreate(path, DefaultsPE()); err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("LoadOrCreate did not create %s: %v", path, err)
	}
}

func TestDefaultsHaveExactlyOneActivePerFormat(t *testing.T) {
	for _, defaults := range [][]Set{DefaultsPE(), DefaultsNRZI(), DefaultsGCR()} {
		active := 0
		for _, s := range defaults {
			if s.Active {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("expected exactly 1 active default set, got %d", active)
		}
	}
}
