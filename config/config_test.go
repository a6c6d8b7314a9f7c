package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sergev/tapedecode/tape"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadParsesModeAndGeometry(t *testing.T) {
	path := writeTempConfig(t, `
mode = "nrzi"
ntrks = 9
bpi = 800
ips = 50
expected_parity = 1
multi_try = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != tape.NRZI {
		t.Fatalf("Mode = %v, want NRZI", cfg.Mode)
	}
	if cfg.Ntrks != 9 || cfg.BPI != 800 || cfg.IPS != 50 {
		t.Fatalf("geometry wrong: %+v", cfg)
	}
	if !cfg.MultiTry {
		t.Fatal("MultiTry should be true")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeTempConfig(t, `mode = "bogus"
ntrks = 9
bpi = 1600
ips = 50
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestLoadRejectsMismatchedOrderLength(t *testing.T) {
	path := writeTempConfig(t, `
mode = "pe"
ntrks = 9
bpi = 1600
ips = 50
order = [0, 1, 2]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an order slice of the wrong length")
	}
}

func TestTrackOrderDefaultsByNtrks(t *testing.T) {
	cfg := Config{Ntrks: 9}
	order := cfg.TrackOrder()
	if len(order) != 9 || order[8] != 8 {
		t.Fatalf("TrackOrder() = %v, want DefaultOrder9", order)
	}

	cfg7 := Config{Ntrks: 7}
	order7 := cfg7.TrackOrder()
	if len(order7) != 7 {
		t.Fatalf("TrackOrder() = %v, want 7 entries", order7)
	}
}
