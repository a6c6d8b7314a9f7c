// Package nrzi implements the non-return-to-zero-inverted decoder
// (component C8): one global clock shared by all tracks,
// midbit sampling, CRC/LRC per IBM A22-6862-4, and the NRZI tapemark
// rule. Grounded on its single shared-clock PLL (pll/pll.go),
// generalized from one channel to N channels voting on a common clock.
package nrzi

import (
	"github.com/sergev/tapedecode/agc"
	"github.com/sergev/tapedecode/clock"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/tape"
)

type trackState struct {
	agc         *agc.Controller
	transitioned bool
	posSum      float64
	posCount    int
	lastTopV, lastBotV       float32
	haveLastTop, haveLastBot bool
}

// Decoder is the NRZI state machine for one block attempt.
type Decoder struct {
	ntrks          int
	ps             params.Set
	expectedParity int

	clockAvg    *clock.Averager
	tLastClock  float64
	postCounter int
	inDatablock bool

	tracks []*trackState
	block  *tape.BlockData
	result *tape.Result

	nominalBitspace float64
	lastMidbitTime  float64
}

// New creates an NRZI Decoder. nominalBitspace seeds the shared
// ClockAverager at the nominal BPI*IPS bit-cell period.
func New(ntrks int, ps params.Set, expectedParity int, nominalBitspace float64) *Decoder {
	d := &Decoder{
		ntrks:           ntrks,
		ps:              ps,
		expectedParity:  expectedParity,
		nominalBitspace: nominalBitspace,
		inDatablock:     true,
	}
	d.clockAvg = newClockAvg(ps, nominalBitspace)
	d.tracks = make([]*trackState, ntrks)
	for i := range d.tracks {
		d.tracks[i] = &trackState{agc: newAGC(ps)}
	}
	d.block = tape.NewBlockData(ntrks)
	d.result = &tape.Result{ParmsetName: ps.Name}
	return d
}

func newClockAvg(ps params.Set, nominal float64) *clock.Averager {
	switch {
	case ps.ClkWindow > 0:
		return clock.NewWindowed(ps.ClkWindow, nominal)
	case ps.ClkAlpha > 0:
		return clock.NewExponential(ps.ClkAlpha, nominal)
	default:
		return clock.NewConstant(nominal)
	}
}

func newAGC(ps params.Set) *agc.Controller {
	if ps.AGCWindow > 0 {
		return agc.NewWindowed(ps.AGCWindow, 1, 8)
	}
	return agc.NewExponential(ps.AGCAlpha, 1, 8)
}

// Reset prepares the decoder for a fresh attempt.
func (d *Decoder) Reset() {
	d.clockAvg = newClockAvg(d.ps, d.nominalBitspace)
	d.tLastClock = 0
	d.postCounter = 0
	d.inDatablock = true
	d.lastMidbitTime = 0
	for i := range d.tracks {
		d.tracks[i] = &trackState{agc: newAGC(d.ps)}
	}
	d.block = tape.NewBlockData(d.ntrks)
	d.result = &tape.Result{ParmsetName: d.ps.Name}
}

// OnTop handles a flux transition ("1") on track trk.
func (d *Decoder) OnTop(trk int, t float64, v float32) { d.onTransition(trk, t, v, true) }

// OnBot handles a flux transition ("1") on track trk (NRZI treats both
// polarities as a transition event; polarity only matters for AGC
// peak-to-peak height).
func (d *Decoder) OnBot(trk int, t float64, v float32) { d.onTransition(trk, t, v, false) }

func (d *Decoder) onTransition(trk int, t float64, v float32, top bool) {
	tr := d.tracks[trk]
	tr.transitioned = true
	tr.posSum += t
	tr.posCount++

	var pp float64
	if top {
		if tr.haveLastBot {
			pp = float64(v - tr.lastBotV)
		}
		tr.lastTopV, tr.haveLastTop = v, true
	} else {
		if tr.haveLastTop {
			pp = float64(tr.lastTopV - v)
		}
		tr.lastBotV, tr.haveLastBot = v, true
	}
	if pp > 0 {
		tr.agc.OnPeak(pp)
	}

	expectedMidbit := d.tLastClock + (1+d.ps.Midbit)*d.clockAvg.Avg
	if t < expectedMidbit-d.ps.Midbit*d.clockAvg.Avg {
		d.result.Warnings.MissedMidbits++
	}
}

// Gain returns track trk's current AGC gain.
func (d *Decoder) Gain(trk int) float64 { return d.tracks[trk].agc.Gain }

// MidbitDeadline returns the next scheduled midbit time, for the engine
// to drive OnMidbit at the right moment.
func (d *Decoder) MidbitDeadline() float64 {
	return d.tLastClock + (1+d.ps.Midbit)*d.clockAvg.Avg
}

// OnMidbit runs the periodic midbit check.
func (d *Decoder) OnMidbit(now float64) {
	anyTransitioned := false
	for _, tr := range d.tracks {
		if tr.transitioned {
			anyTransitioned = true
			break
		}
	}

	if !anyTransitioned {
		d.postCounter++
		d.tLastClock += d.clockAvg.Avg
		d.lastMidbitTime = now
		return
	}

	expected := d.tLastClock + d.clockAvg.Avg
	inCRCorLRC := d.postCounter == 4 || d.postCounter == 8

	for trk, tr := range d.tracks {
		if tr.transitioned {
			avgPos := tr.posSum / float64(tr.posCount)
			var adjusted float64
			if inCRCorLRC {
				adjusted = avgPos
			} else {
				adjusted = expected + d.ps.PulseAdj*(avgPos-expected)
			}
			d.block.AppendBit(trk, 1, adjusted, false)
			if !inCRCorLRC {
				d.clockAvg.Update(adjusted - d.tLastClock)
			}
		} else {
			d.block.AppendBit(trk, 0, now-d.ps.Midbit*d.clockAvg.Avg, false)
		}
		tr.transitioned = false
		tr.posSum = 0
		tr.posCount = 0
	}

	d.tLastClock = expected
	d.lastMidbitTime = now
}

// AllIdle reports end-of-block once post_counter has passed the trailing
// CRC/LRC window (the design: "At post_counter > 8, end of block").
func (d *Decoder) AllIdle(now float64) bool {
	return d.postCounter > 8
}

// EndOfBlock finalizes the Result, computing CRC/LRC and applying the
// tapemark rule.
func (d *Decoder) EndOfBlock() *tape.Result {
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

	nTrailer := 1
	if d.ntrks == 9 {
		nTrailer = 2
	}
	dataLen := len(r.Bytes) - nTrailer
	if dataLen < 0 {
		dataLen = 0
	}
	dataBytes := r.Bytes[:dataLen]

	for i := range dataBytes {
		var got int
		if i < len(r.ParityBits) {
			got = int(r.ParityBits[i])
		}
		if tape.Parity(dataBytes[i])^got != d.expectedParity {
			r.Errors.VerticalParityErrs++
		}
	}

	if d.ntrks == 9 {
		crc := crc9(dataBytes)
		lrc := lrc9(dataBytes, crc)
		if dataLen+1 < len(r.Bytes) && r.Bytes[dataLen] != crc {
			r.Errors.CRCErrs++
		}
		if dataLen+1 < len(r.Bytes) && r.Bytes[dataLen+1] != lrc {
			r.Errors.LRCErrs++
		}
	} else {
		lrc := lrc7(dataBytes)
		if dataLen < len(r.Bytes) && r.Bytes[dataLen] != lrc {
			r.Errors.LRCErrs++
		}
	}

	r.Warnings.MissedMidbits = d.result.Warnings.MissedMidbits

	maxGain := 1.0
	for _, tr := range d.tracks {
		if tr.agc.MaxGain > maxGain {
			maxGain = tr.agc.MaxGain
		}
	}
	r.MaxAGCGain = maxGain
	r.AvgBitSpacing = d.clockAvg.Avg

	r.Kind = tape.Block
	return r
}

var tapemark9 = []byte{0x26, 0x00, 0x26}
var tapemark7 = []byte{0x1E, 0x1E}

func (d *Decoder) isTapemark() bool {
	if d.ntrks == 9 {
		if d.result.MinBits != 3 {
			return false
		}
		bytes := d.block.Bytes(d.ntrks)
		return bytesEqual(bytes, tapemark9)
	}
	if d.result.MinBits != 2 {
		return false
	}
	bytes := d.block.Bytes(d.ntrks)
	return bytesEqual(bytes, tapemark7)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
