package engine

import (
	"testing"

	"github.com/sergev/tapedecode/nrzi"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/pe"
	"github.com/sergev/tapedecode/tape"

	"github.com/sergev/tapedecode/density"
)

const (
	sampleDt        = 0.5e-6
	pulseHalfWidth  = 1e-6
	nrziBitspace    = 25e-6 // 800 BPI @ 50 ips
)

func runToBlock(t *testing.T, e *Engine, samples []tape.Sample) tape.Kind {
	t.Helper()
	var kind tape.Kind
	for _, s := range samples {
		kind = e.ProcessSample(s)
		if kind == tape.Block || kind == tape.Tapemark || kind == tape.BadBlock || kind == tape.Noise {
			return kind
		}
	}
	t.Fatal("sample stream exhausted before a block was decided")
	return tape.Noise
}

// TestScenarioNRZIHello decodes a 9-track NRZI block carrying the EBCDIC
// bytes for "HELLO" followed by its CRC and LRC bytes.
func TestScenarioNRZIHello(t *testing.T) {
	const ntrks = 9
	ebcdic := []byte{0xC8, 0xC5, 0xD3, 0xD3, 0xD6}
	crc := byte(0x13)
	lrc := byte(0xC8)
	bytes := append(append([]byte{}, ebcdic...), crc, lrc)

	const expectedParity = 1
	parityBits := make([]byte, len(bytes))
	for i, b := range bytes {
		parityBits[i] = byte(tape.Parity(b) ^ expectedParity)
	}

	events := nrziTickEvents(bytes, parityBits, ntrks, nrziBitspace)
	lastTick := len(bytes)
	tmax := float64(lastTick+9+9+2) * nrziBitspace

	samples := synthSamples(events, ntrks, sampleDt, pulseHalfWidth, tmax)

	ps := params.DefaultsNRZI()[0]
	d := nrzi.New(ntrks, ps, expectedParity, nrziBitspace)
	e := New(ntrks, d, ps, 800, 50, sampleDt, nil)

	kind := runToBlock(t, e, samples)
	if kind != tape.Block {
		t.Fatalf("Kind = %v, want Block", kind)
	}
	r := e.LastResult()
	if r == nil {
		t.Fatal("LastResult is nil")
	}
	if got := string(r.Bytes); got != string(bytes) {
		t.Fatalf("Bytes = %x, want %x", r.Bytes, bytes)
	}
	if r.ErrCount() != 0 {
		t.Fatalf("ErrCount = %d, want 0 (%+v)", r.ErrCount(), r.Errors)
	}
}

// TestScenarioNRZITapemark decodes the 9-track NRZI tapemark pattern.
func TestScenarioNRZITapemark(t *testing.T) {
	const ntrks = 9
	const expectedParity = 1
	bytes := []byte{0x26, 0x00, 0x26}
	parityBits := make([]byte, len(bytes))
	for i, b := range bytes {
		parityBits[i] = byte(tape.Parity(b) ^ expectedParity)
	}

	events := nrziTickEvents(bytes, parityBits, ntrks, nrziBitspace)
	lastTick := len(bytes)
	tmax := float64(lastTick+9+9+2) * nrziBitspace

	samples := synthSamples(events, ntrks, sampleDt, pulseHalfWidth, tmax)

	ps := params.DefaultsNRZI()[0]
	d := nrzi.New(ntrks, ps, expectedParity, nrziBitspace)
	e := New(ntrks, d, ps, 800, 50, sampleDt, nil)

	kind := runToBlock(t, e, samples)
	if kind != tape.Tapemark {
		t.Fatalf("Kind = %v, want Tapemark", kind)
	}
}

// peDropoutSamples builds the sample stream shared by the PE one-track
// dropout scenario and the orchestrator multi-try scenario: 9 tracks, a
// 35-peak preamble, then 20 bytes of varying content, with track 4 falling
// silent after the 10th byte while the other 8 tracks transmit all 20.
// Byte 10 (index 9) and byte 20 (index 19) are both 0x00, so every track's
// last transmitted bit before it either drops out or reaches the natural
// end is 0 -- AllIdle's dropoutCheck then backfills with that same value,
// keeping the reconstructed tail plausible instead of flipping parity on
// every faked cell.
func peDropoutSamples(bitspace float64) []tape.Sample {
	const ntrks = 9
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 11, 12, 13, 14, 15, 16, 17, 18, 19, 0}

	var events []fluxEvent
	finalT := 0.0
	for trk := 0; trk < ntrks; trk++ {
		pre, t := pePreambleEvents(trk, 35, 0, bitspace)
		events = append(events, pre...)

		n := len(data)
		if trk == 4 {
			n = 10
		}
		bits := make([]int, n)
		for i := 0; i < n; i++ {
			if trk < 8 {
				bits[i] = int((data[i] >> uint(7-trk)) & 1)
			} else {
				bits[i] = tape.Parity(data[i])
			}
		}
		trackEvents, tEnd := peTrackEvents(trk, bits, t, bitspace)
		events = append(events, trackEvents...)
		if tEnd > finalT {
			finalT = tEnd
		}
	}
	// Run well past the last real edge so every track's AllIdle/
	// dropoutCheck threshold (IdleFactor cells) is crossed.
	tmax := finalT + 20*bitspace
	return synthSamples(events, ntrks, 0.5e-6, 1e-6, tmax)
}

// TestScenarioPEOneTrackDropout exercises the fake-bit recovery path: one
// track's real signal ends several bytes before the rest, and the decoder
// must reach end-of-block via dropoutCheck rather than a clean AllIdle.
func TestScenarioPEOneTrackDropout(t *testing.T) {
	bitspace := 1.0 / (1600 * 50) // 1600 BPI @ 50 ips
	samples := peDropoutSamples(bitspace)

	ps := params.DefaultsPE()[0]
	d := pe.New(9, ps, 1, bitspace)
	e := New(9, d, ps, 1600, 50, 0.5e-6, nil)

	kind := runToBlock(t, e, samples)
	if kind != tape.Block {
		t.Fatalf("Kind = %v, want Block", kind)
	}
	r := e.LastResult()
	if r == nil {
		t.Fatal("LastResult is nil")
	}
	if r.Warnings.FakedBits == 0 {
		t.Fatal("expected FakedBits > 0 from the dropped track's recovery")
	}
}

// TestScenarioDensityAutodetect feeds enough single-track transitions at
// an 800 BPI / 50 ips spacing through the density pre-pass engine mode to
// clear density.CountNeeded, and checks the estimator recovers 800 from
// the standard BPI table.
func TestScenarioDensityAutodetect(t *testing.T) {
	const dt = 5e-6
	cellSamples := int(nrziBitspace / dt) // 5 samples/cell
	e := NewDensityPrepass(1, false, 3, dt)

	pulses := density.CountNeeded + 10
	tcur := 0.0
	for i := 0; i < pulses; i++ {
		for s := 0; s < cellSamples; s++ {
			v := float32(0)
			if s == 1 {
				v = 1.0
			}
			e.ProcessSample(tape.Sample{Time: tcur, Voltage: []float32{v}})
			tcur += dt
		}
	}

	est := e.DensityEstimator()
	if !est.Ready() {
		t.Fatal("expected enough observations for a density decision")
	}
	bpi, err := est.Estimate(50, tape.StandardBPI)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if bpi != 800 {
		t.Fatalf("bpi = %d, want 800", bpi)
	}
}
