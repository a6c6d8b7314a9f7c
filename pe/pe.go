// Package pe implements the phase-encoding decoder (the design,
// component C7): preamble -> data -> postamble state machine per track,
// with fake-bit synthesis on dropout. Grounded on its design's
// mfm.Reader/Writer symmetry (mfm/reader.go, mfm/writer.go) — PE is the
// tape-domain analogue of MFM: both are self-clocking two-level codes
// where a "1" and a "0" differ by transition phase rather than presence.
package pe

import (
	"math"

	"github.com/sergev/tapedecode/agc"
	"github.com/sergev/tapedecode/clock"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/tape"
)

// MinPreamble is the minimum peak count (≥35 zeros) before data can start.
const MinPreamble = 35

// IdleFactor: a track with no peak for IdleFactor*bitspace_avg seconds is
// considered idle.
const IdleFactor = 8.0

// MaxPostambleBits bounds the trailing-bit removal walk at end of block.
const MaxPostambleBits = 40

// IgnorePostamble: the postamble walk stops after this many ignored bits
// following the last "1".
const IgnorePostamble = 5

type phase int

const (
	phaseIdle phase = iota
	phasePreamble
	phaseData
)

type track struct {
	phase phase

	clockAvg *clock.Averager
	agc      *agc.Controller

	peakCount         int
	expectClockNext   bool
	idle              bool
	inDatablock       bool
	lastPeakTime      float64
	lastBitTime       float64
	firstBitTime      float64
	pulseAdj          float64
	consecutiveZeros  int

	lastTopV, lastBotV       float32
	haveLastTop, haveLastBot bool

	lastDataBit int
}

// Decoder is the PE state machine for one block attempt, covering ntrks
// tracks.
type Decoder struct {
	ntrks          int
	ps             params.Set
	expectedParity int
	tracks         []*track
	block          *tape.BlockData
	result         *tape.Result
	nominalBitspace float64
}

// New creates a PE Decoder. nominalBitspace seeds each track's
// ClockAverager (seconds per bit cell at the nominal BPI*IPS).
func New(ntrks int, ps params.Set, expectedParity int, nominalBitspace float64) *Decoder {
	d := &Decoder{
		ntrks:           ntrks,
		ps:              ps,
		expectedParity:  expectedParity,
		nominalBitspace: nominalBitspace,
	}
	d.tracks = make([]*track, ntrks)
	for i := range d.tracks {
		d.tracks[i] = newTrack(ps, nominalBitspace)
	}
	d.block = tape.NewBlockData(ntrks)
	d.result = &tape.Result{ParmsetName: ps.Name}
	return d
}

func newTrack(ps params.Set, nominalBitspace float64) *track {
	var ca *clock.Averager
	switch {
	case ps.ClkWindow > 0:
		ca = clock.NewWindowed(ps.ClkWindow, nominalBitspace)
	case ps.ClkAlpha > 0:
		ca = clock.NewExponential(ps.ClkAlpha, nominalBitspace)
	default:
		ca = clock.NewConstant(nominalBitspace)
	}
	var ac *agc.Controller
	if ps.AGCWindow > 0 {
		ac = agc.NewWindowed(ps.AGCWindow, 2, MinPreamble)
	} else {
		ac = agc.NewExponential(ps.AGCAlpha, 2, MinPreamble)
	}
	return &track{clockAvg: ca, agc: ac}
}

// Reset prepares the decoder for a fresh attempt.
func (d *Decoder) Reset() {
	for i := range d.tracks {
		d.tracks[i] = newTrack(d.ps, d.nominalBitspace)
	}
	d.block = tape.NewBlockData(d.ntrks)
	d.result = &tape.Result{ParmsetName: d.ps.Name}
}

// OnTop handles an upward flux transition on track trk.
func (d *Decoder) OnTop(trk int, t float64, v float32) { d.onEdge(trk, t, v, true) }

// OnBot handles a downward flux transition on track trk.
func (d *Decoder) OnBot(trk int, t float64, v float32) { d.onEdge(trk, t, v, false) }

// OnMidbit is a no-op for PE (clocking is self-contained per edge).
func (d *Decoder) OnMidbit(t float64) {}

func (d *Decoder) onEdge(trk int, t float64, v float32, top bool) {
	tr := d.tracks[trk]
	tr.idle = false

	var ppHeight float64
	if top {
		if tr.haveLastBot {
			ppHeight = float64(v - tr.lastBotV)
		}
		tr.lastTopV, tr.haveLastTop = v, true
	} else {
		if tr.haveLastTop {
			ppHeight = float64(tr.lastTopV - v)
		}
		tr.lastBotV, tr.haveLastBot = v, true
	}
	if ppHeight > 0 {
		tr.agc.OnPeak(ppHeight)
	}

	clkwindow := tr.clockAvg.Avg / 2 * nz(d.ps.ClkFactor, 1)
	gap := (t + tr.pulseAdj) - tr.lastPeakTime
	missed := tr.peakCount > 0 && gap > clkwindow
	tr.peakCount++

	switch tr.phase {
	case phaseIdle:
		tr.phase = phasePreamble

	case phasePreamble:
		tr.consecutiveZeros++
		if tr.peakCount >= MinPreamble && missed {
			tr.phase = phaseData
			tr.inDatablock = true
			tr.agc.FreezeBaseline()
			d.emitBit(trk, t, top, false)
			tr.expectClockNext = true
			tr.firstBitTime = t
		}

	case phaseData:
		expectDataEdge := !tr.expectClockNext || missed
		if expectDataEdge {
			d.emitBit(trk, t, top, false)
			tr.expectClockNext = true
		} else {
			tr.expectClockNext = false
		}
	}

	denom := 2.0
	if missed {
		denom = 1.0
	}
	tr.pulseAdj = (gap - tr.clockAvg.Avg/denom) * d.ps.PulseAdj
	if tr.phase != phaseIdle {
		tr.clockAvg.Update(gap)
	}
	tr.lastPeakTime = t
}

func nz(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func (d *Decoder) emitBit(trk int, t float64, top bool, faked bool) {
	tr := d.tracks[trk]
	bit := byte(0)
	if top {
		bit = 1
	}
	d.block.AppendBit(trk, bit, t, faked)
	tr.lastDataBit = int(bit)
	tr.lastBitTime = t
}

// AllIdle reports whether every track has been peakless long enough to
// end the block (the design, using PE_IDLE_FACTOR).
func (d *Decoder) AllIdle(now float64) bool {
	for _, tr := range d.tracks {
		if !tr.inDatablock {
			continue
		}
		threshold := IdleFactor * tr.clockAvg.Avg
		if now-tr.lastPeakTime <= threshold {
			return false
		}
		if !tr.idle {
			d.dropoutCheck(tr, now)
		}
	}
	return true
}

// dropoutCheck marks a track idle and inserts faked bits equal to the
// last real bit of that track, count chosen so that
// (now - lastBitTime)/bitspace_avg bits are synthesized (the design
// "strategy 1").
func (d *Decoder) dropoutCheck(tr *track, now float64) {
	tr.idle = true
	if tr.clockAvg.Avg <= 0 {
		return
	}
	n := int(math.Round((now - tr.lastBitTime) / tr.clockAvg.Avg))
	for i := 0; i < n; i++ {
		t := tr.lastBitTime + tr.clockAvg.Avg*float64(i+1)
		trkIdx := d.indexOf(tr)
		d.block.AppendBit(trkIdx, byte(tr.lastDataBit), t, true)
		tr.lastBitTime = t
	}
}

// Gain returns track trk's current AGC gain.
func (d *Decoder) Gain(trk int) float64 { return d.tracks[trk].agc.Gain }

func (d *Decoder) indexOf(tr *track) int {
	for i, t := range d.tracks {
		if t == tr {
			return i
		}
	}
	return -1
}

// EndOfBlock finalizes the Result: trims the postamble from every track,
// tallies error/warning counts, and applies the tapemark rule.
func (d *Decoder) EndOfBlock() *tape.Result {
	d.trimPostambles()

	r := d.result
	min, max := -1, -1
	for i := 0; i < d.ntrks; i++ {
		n := d.block.BitCount(i)
		if min < 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	r.MinBits, r.MaxBits = min, max

	if d.isTapemark() {
		r.Kind = tape.Tapemark
		return r
	}
	if max <= 0 {
		r.Kind = tape.Noise
		return r
	}

	if max-min > 2 {
		r.Errors.TrackMismatch++
	}

	r.Bytes = d.block.Bytes(d.ntrks)
	r.ParityBits = d.block.ParityBits(d.ntrks)
	for i := range r.Bytes {
		var got int
		if i < len(r.ParityBits) {
			got = int(r.ParityBits[i])
		}
		combined := tape.Parity(r.Bytes[i]) ^ got
		if combined != d.expectedParity {
			r.Errors.VerticalParityErrs++
		}
	}
	for trk := 0; trk < d.ntrks; trk++ {
		r.Warnings.FakedBits += d.block.FakedCount(trk)
	}

	avgSpacing := 0.0
	n := 0
	for _, tr := range d.tracks {
		if tr.clockAvg.Avg > 0 {
			avgSpacing += tr.clockAvg.Avg
			n++
		}
	}
	if n > 0 {
		avgSpacing /= float64(n)
	}
	r.AvgBitSpacing = avgSpacing

	maxGain := 1.0
	for _, tr := range d.tracks {
		if tr.agc.MaxGain > maxGain {
			maxGain = tr.agc.MaxGain
		}
	}
	r.MaxAGCGain = maxGain

	r.Kind = tape.Block
	return r
}

// trimPostambles walks back through each track's trailing bits, removing
// up to MaxPostambleBits, decrementing the faked-bit count for any faked
// bits removed, stopping after the last "1" following IgnorePostamble
// ignored bits.
func (d *Decoder) trimPostambles() {
	for trk := 0; trk < d.ntrks; trk++ {
		bits := d.block.TrackBits[trk]
		n := len(bits)
		removed := 0
		ignoredSinceOne := 0
		for i := n - 1; i >= 0 && removed < MaxPostambleBits; i-- {
			if bits[i] == 1 {
				ignoredSinceOne = 0
			} else {
				ignoredSinceOne++
			}
			removed++
			if ignoredSinceOne >= IgnorePostamble {
				break
			}
		}
		if removed > 0 {
			d.block.TruncateBits(trk, removed)
		}
	}
}

// tapemarkTracks75 and tapemarkTracksLE are the fixed track-index groups
// from the tapemark rule, expressed for a 9-track tape
// (P = index 8); 7-track callers should not invoke the tapemark check.
var tapemarkTracks75 = []int{0, 2, 5, 6, 7, 8}
var tapemarkTracksLE = []int{1, 3, 4}

func (d *Decoder) isTapemark() bool {
	if d.ntrks != 9 {
		return false
	}
	for _, t := range tapemarkTracks75 {
		if d.tracks[t].peakCount <= 75 {
			return false
		}
		if d.block.BitCount(t) > 2 {
			return false
		}
	}
	for _, t := range tapemarkTracksLE {
		if d.tracks[t].peakCount > 2 {
			return false
		}
	}
	return true
}
