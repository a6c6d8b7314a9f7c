package dump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sergev/tapedecode/tape"
)

func TestOnBlockWritesHeaderAndHexDump(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	meta := tape.Metadata{ErrCount: 1, WarnCount: 2, AvgBitSpacing: 1.25e-6}
	if err := w.OnBlock([]byte("HI"), tape.Block, meta); err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Block") {
		t.Fatalf("output missing kind: %s", out)
	}
	if !strings.Contains(out, "errs=1") || !strings.Contains(out, "warns=2") {
		t.Fatalf("output missing counts: %s", out)
	}
	if !strings.Contains(out, "48 49") {
		t.Fatalf("output missing hex bytes for \"HI\": %s", out)
	}
	if !strings.Contains(out, "|HI") {
		t.Fatalf("output missing ASCII column: %s", out)
	}
}

func TestOnTapemarkAndOnNoiseIncrementIndex(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.OnTapemark()
	w.OnNoise()
	out := buf.String()
	if !strings.Contains(out, "[   0] TAPEMARK") {
		t.Fatalf("missing tapemark line: %s", out)
	}
	if !strings.Contains(out, "[   1] NOISE") {
		t.Fatalf("missing noise line: %s", out)
	}
}

func TestOnBlockSkipsHexDumpForEmptyData(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.OnBlock(nil, tape.Block, tape.Metadata{}); err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected just the header line for empty data, got %d lines", len(lines))
	}
}
