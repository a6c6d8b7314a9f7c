package orchestrate

import (
	"testing"

	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/tape"
)

type fakeSource struct {
	samples  []tape.Sample
	cursor   int
	restores int
}

func (f *fakeSource) ReadSample() (tape.Sample, error) {
	if f.cursor >= len(f.samples) {
		return tape.Sample{}, tape.ErrEndOfStream
	}
	s := f.samples[f.cursor]
	f.cursor++
	return s, nil
}

func (f *fakeSource) SavePosition() (tape.Token, error) { return f.cursor, nil }
func (f *fakeSource) RestorePosition(tok tape.Token) error {
	f.restores++
	f.cursor = tok.(int)
	return nil
}

type fakeSink struct {
	tapemarks int
	noises    int
	blocks    [][]byte
	kinds     []tape.Kind
}

func (f *fakeSink) OnTapemark() error { f.tapemarks++; return nil }
func (f *fakeSink) OnNoise() error    { f.noises++; return nil }
func (f *fakeSink) OnBlock(data []byte, kind tape.Kind, meta tape.Metadata) error {
	f.blocks = append(f.blocks, data)
	f.kinds = append(f.kinds, kind)
	return nil
}

func flatSamples(n int, dt float64) []tape.Sample {
	s := make([]tape.Sample, n)
	for i := range s {
		s[i] = tape.Sample{Time: float64(i) * dt, Voltage: []float32{0}}
	}
	return s
}

func TestDecodeOneBlockEmitsNoiseForFlatSignal(t *testing.T) {
	src := &fakeSource{samples: flatSamples(10, 1e-6)}
	sink := &fakeSink{}
	cfg := Config{
		Mode:           tape.PE,
		Ntrks:          1,
		BPI:            1600,
		IPS:            50,
		SampleDt:       1e-6,
		ExpectedParity: 1,
		MultiTry:       false,
	}
	o := New(cfg, params.DefaultsPE(), src, sink)
	if err := o.DecodeOneBlock(); err != nil {
		t.Fatalf("DecodeOneBlock failed: %v", err)
	}
	if sink.noises != 1 {
		t.Fatalf("noises = %d, want 1", sink.noises)
	}
}

func TestTryOrderStartsWithActiveSet(t *testing.T) {
	sets := []params.Set{
		{Name: "a", Active: false},
		{Name: "b", Active: true},
		{Name: "c", Active: false},
	}
	order := tryOrder(sets)
	if order[0] != 1 {
		t.Fatalf("tryOrder[0] = %d, want 1 (the active set)", order[0])
	}
	if len(order) != 3 {
		t.Fatalf("tryOrder length = %d, want 3", len(order))
	}
}

func TestBestAttemptPrefersZeroErrorZeroWarning(t *testing.T) {
	attempts := []attempt{
		{result: &tape.Result{Kind: tape.Block, Errors: tape.ErrorCounts{CRCErrs: 1}}},
		{result: &tape.Result{Kind: tape.Block}},
		{result: &tape.Result{Kind: tape.Noise}},
	}
	got := bestAttempt(attempts)
	if got != 1 {
		t.Fatalf("bestAttempt = %d, want 1 (the clean Block)", got)
	}
}

func TestBestAttemptFallsBackToLeastTrackMismatch(t *testing.T) {
	attempts := []attempt{
		{result: &tape.Result{Kind: tape.BadBlock, Errors: tape.ErrorCounts{TrackMismatch: 5}}},
		{result: &tape.Result{Kind: tape.BadBlock, Errors: tape.ErrorCounts{TrackMismatch: 1}}},
		{result: &tape.Result{Kind: tape.Noise}},
	}
	got := bestAttempt(attempts)
	if got != 1 {
		t.Fatalf("bestAttempt = %d, want 1 (minimum track mismatch)", got)
	}
}

func TestBestAttemptFallsBackToFirstNoise(t *testing.T) {
	attempts := []attempt{
		{result: &tape.Result{Kind: tape.Noise}},
		{result: &tape.Result{Kind: tape.Noise}},
	}
	got := bestAttempt(attempts)
	if got != 0 {
		t.Fatalf("bestAttempt = %d, want 0 (first Noise)", got)
	}
}

// fluxEvent and synthSamples below are a local copy of the engine package's
// synthetic sample generator: orchestrate exercises the same one-track PE
// dropout scenario end-to-end through a real Config/Decoder/Engine stack,
// but the two packages can't share unexported test helpers across a package
// boundary.
type fluxEvent struct {
	trk int
	t   float64
	top bool
}

func synthSamples(events []fluxEvent, ntrks int, sampleDt, pulseHalfWidth, tmax float64) []tape.Sample {
	perTrack := make([][]fluxEvent, ntrks)
	for _, e := range events {
		perTrack[e.trk] = append(perTrack[e.trk], e)
	}
	idx := make([]int, ntrks)

	nsteps := int(tmax/sampleDt) + 1
	out := make([]tape.Sample, nsteps)
	for i := 0; i < nsteps; i++ {
		t := float64(i) * sampleDt
		v := make([]float32, ntrks)
		for trk := 0; trk < ntrks; trk++ {
			evs := perTrack[trk]
			for idx[trk] < len(evs) && evs[idx[trk]].t+pulseHalfWidth < t {
				idx[trk]++
			}
			if idx[trk] < len(evs) {
				e := evs[idx[trk]]
				d := t - e.t
				if d < 0 {
					d = -d
				}
				if d < pulseHalfWidth {
					amp := float32(1 - d/pulseHalfWidth)
					if e.top {
						v[trk] = amp
					} else {
						v[trk] = -amp
					}
				}
			}
		}
		out[i] = tape.Sample{Time: t, Voltage: v}
	}
	return out
}

func peTrackEvents(trk int, bits []int, start, bitspace float64) ([]fluxEvent, float64) {
	var events []fluxEvent
	t := start
	prevBit := 0
	for _, bit := range bits {
		if bit == prevBit {
			t += bitspace / 2
			events = append(events, fluxEvent{trk: trk, t: t, top: prevBit != 0})
		}
		t += bitspace / 2
		events = append(events, fluxEvent{trk: trk, t: t, top: bit == 1})
		prevBit = bit
	}
	return events, t
}

func pePreambleEvents(trk, n int, start, bitspace float64) ([]fluxEvent, float64) {
	var events []fluxEvent
	t := start
	for i := 0; i < n; i++ {
		t += bitspace
		events = append(events, fluxEvent{trk: trk, t: t, top: false})
	}
	return events, t
}

// peDropoutSamples builds the same one-track-dropout stream as the engine
// package's scenario test: 9 tracks, a 35-peak preamble, then 20 bytes with
// track 4 falling silent after the 10th. Every attempted parameter set sees
// faked bits on recovery, so none can ever reach the zero-error/zero-warning
// early-stop condition.
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
	tmax := finalT + 20*bitspace
	return synthSamples(events, ntrks, 0.5e-6, 1e-6, tmax)
}

// TestDecodeOneBlockRetriesEveryParmsetOnPersistentFakedBits exercises the
// multi-try path: a one-track PE dropout always leaves FakedBits > 0 on
// every attempt, so DecodeOneBlock can never early-stop on a clean result
// and must exhaust every parameter set in params.DefaultsPE() before
// bestAttempt picks a winner. tape.Metadata doesn't carry Tries, so the
// source's RestorePosition call count stands in as the external proxy for
// how many attempts actually ran.
func TestDecodeOneBlockRetriesEveryParmsetOnPersistentFakedBits(t *testing.T) {
	bitspace := 1.0 / (1600 * 50) // 1600 BPI @ 50 ips
	samples := peDropoutSamples(bitspace)

	src := &fakeSource{samples: samples}
	sink := &fakeSink{}
	sets := params.DefaultsPE()
	cfg := Config{
		Mode:           tape.PE,
		Ntrks:          9,
		BPI:            1600,
		IPS:            50,
		SampleDt:       0.5e-6,
		ExpectedParity: 1,
		MultiTry:       true,
	}
	o := New(cfg, sets, src, sink)
	if err := o.DecodeOneBlock(); err != nil {
		t.Fatalf("DecodeOneBlock failed: %v", err)
	}

	if src.restores < len(sets) {
		t.Fatalf("restores = %d, want at least %d (one per parameter set)", src.restores, len(sets))
	}
	if len(sink.kinds) != 1 || sink.kinds[0] != tape.Block {
		t.Fatalf("kinds = %v, want a single Block", sink.kinds)
	}
}
