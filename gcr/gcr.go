// Package gcr implements the group-coded-recording decoder (the design,
// component C9): self-clocking per-track zero inference from inter-peak
// gaps, the 5-of-4 group code, and the preamble/data/resync/residual/CRC
// block grammar. Grounded on its hfe/imd.go and hfe/bkd.go
// family of small fixed code-table decoders (pattern: lookup table maps a
// recorded symbol to a value, with an explicit "unmapped" sentinel).
package gcr

import (
	"github.com/sergev/tapedecode/agc"
	"github.com/sergev/tapedecode/clock"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/tape"
)

// IdleThresh: a track with no peak for IdleThresh*bitspace_avg seconds is
// considered idle (the design, GCR_IDLE_THRESH).
const IdleThresh = 20.0

// Control codes recognized in a track-0 storage group.
const (
	codeMark1   byte = 0b00111
	codeMark2   byte = 0b11100
	codeSync    byte = 0b11111
	codeTerml1  byte = 0b10101
	codeTerml0  byte = 0b10100
	codeSecond1 byte = 0b01111 // also data nibble 0xF
	codeSecond2 byte = 0b11110 // also data nibble 0xC
)

// codeToNibble is the 5-bit storage-group to 4-bit data nibble table,
// one entry for each of the 16 nibbles.
// codeSecond1/codeSecond2 double as data nibbles 0xF/0xC; the remaining
// control codes (mark1/mark2/sync/terml0/terml1) never appear as data.
var codeToNibble = map[byte]byte{
	0b00100: 0x0,
	0b00101: 0x1,
	0b00110: 0x2,
	0b01001: 0x3,
	0b11101: 0x4,
	0b01010: 0x5,
	0b01011: 0x6,
	0b01100: 0x7,
	0b01101: 0x8,
	0b01110: 0x9,
	0b10010: 0xA,
	0b10011: 0xB,
	codeSecond2: 0xC,
	0b10110: 0xD,
	0b10111: 0xE,
	codeSecond1: 0xF,
}

var nibbleToCode [16]byte

func init() {
	for code, nibble := range codeToNibble {
		nibbleToCode[nibble] = code
	}
}

type track struct {
	clockAvg *clock.Averager
	agc      *agc.Controller

	peakCount       int
	haveLastPeak    bool
	lastPeakTime    float64
	pulseAdj        float64
	consecutiveOnes int
	idle            bool
	inDatablock     bool

	lastTopV, lastBotV       float32
	haveLastTop, haveLastBot bool
}

// Decoder is the GCR state machine for one block attempt.
type Decoder struct {
	ntrks          int
	ps             params.Set
	expectedParity int

	tracks          []*track
	block           *tape.BlockData
	result          *tape.Result
	nominalBitspace float64
}

// New creates a GCR Decoder. nominalBitspace seeds each track's
// ClockAverager.
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

func newTrack(ps params.Set, nominal float64) *track {
	var ca *clock.Averager
	switch {
	case ps.ClkWindow > 0:
		ca = clock.NewWindowed(ps.ClkWindow, nominal)
	case ps.ClkAlpha > 0:
		ca = clock.NewExponential(ps.ClkAlpha, nominal)
	default:
		ca = clock.NewConstant(nominal)
	}
	var ac *agc.Controller
	if ps.AGCWindow > 0 {
		ac = agc.NewWindowed(ps.AGCWindow, 1, 8)
	} else {
		ac = agc.NewExponential(ps.AGCAlpha, 1, 8)
	}
	return &track{clockAvg: ca, agc: ac, inDatablock: true}
}

// Reset prepares the decoder for a fresh attempt.
func (d *Decoder) Reset() {
	for i := range d.tracks {
		d.tracks[i] = newTrack(d.ps, d.nominalBitspace)
	}
	d.block = tape.NewBlockData(d.ntrks)
	d.result = &tape.Result{ParmsetName: d.ps.Name}
}

// OnTop handles a flux transition ("1") on track trk.
func (d *Decoder) OnTop(trk int, t float64, v float32) { d.onPeak(trk, t, v, true) }

// OnBot handles a flux transition ("1") on track trk.
func (d *Decoder) OnBot(trk int, t float64, v float32) { d.onPeak(trk, t, v, false) }

// OnMidbit is a no-op: GCR is self-clocking per track, with no shared
// midbit schedule.
func (d *Decoder) OnMidbit(t float64) {}

func (d *Decoder) onPeak(trk int, t float64, v float32, top bool) {
	tr := d.tracks[trk]
	tr.idle = false
	tr.peakCount++

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

	if !tr.haveLastPeak {
		tr.haveLastPeak = true
		tr.lastPeakTime = t
		d.block.AppendBit(trk, 1, t, false)
		return
	}

	bitspaceAvg := tr.clockAvg.Avg
	delta := t - tr.lastPeakTime
	adjusted := delta - tr.pulseAdj

	var zeros int
	switch {
	case adjusted <= d.ps.Z1pt*bitspaceAvg:
		zeros = 0
	case adjusted <= d.ps.Z2pt*bitspaceAvg:
		zeros = 1
	default:
		zeros = 2
	}

	for k := 1; k <= zeros; k++ {
		zt := tr.lastPeakTime + float64(k)*bitspaceAvg
		d.block.AppendBit(trk, 0, zt, false)
	}
	d.block.AppendBit(trk, 1, t, false)

	if zeros == 0 {
		tr.consecutiveOnes++
		if tr.consecutiveOnes >= 2 {
			tr.clockAvg.Update(delta)
			tr.consecutiveOnes = 0
		}
	} else {
		tr.consecutiveOnes = 0
	}

	tr.pulseAdj = (delta - bitspaceAvg*float64(zeros+1)) * d.ps.PulseAdj
	tr.lastPeakTime = t
}

// Gain returns track trk's current AGC gain.
func (d *Decoder) Gain(trk int) float64 { return d.tracks[trk].agc.Gain }

// AllIdle reports end of block once every track has gone peakless for
// IdleThresh bit-cells.
func (d *Decoder) AllIdle(now float64) bool {
	for _, tr := range d.tracks {
		if !tr.inDatablock {
			continue
		}
		threshold := IdleThresh * tr.clockAvg.Avg
		if now-tr.lastPeakTime <= threshold {
			return false
		}
		tr.idle = true
	}
	return true
}

// groupState tracks position within the block grammar described in
// the design: preamble -> MARK1 -> (group A, group B) pairs -> optional
// resync bursts -> SYNC -> residual group -> CRC group -> postamble.
type groupState int

const (
	stateAwaitMark1 groupState = iota
	stateGroupA
	stateGroupB
	stateResyncBurst
	stateResidual
	stateCRC
	stateDone
)

// EndOfBlock walks the collected bit stream in 5-row storage groups,
// decodes the data/ECC bytes, and applies the tapemark rule.
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

	nrows := min
	ngroups := nrows / 5
	if ngroups == 0 {
		r.Kind = tape.BadBlock
		return r
	}

	state := stateAwaitMark1
	var dataBytes []byte
	var highNibbles [8]byte
	var residualBytes []byte
	var sawMark1, sawSync, sawResidual, sawCRC bool
	residualCount := 0

	for g := 0; g < ngroups; g++ {
		codes := make([]byte, d.ntrks)
		for trk := 0; trk < d.ntrks; trk++ {
			var code byte
			for i := 0; i < 5; i++ {
				code = code<<1 | d.block.TrackBits[trk][g*5+i]
			}
			codes[trk] = code
		}
		control := codes[0]

		switch control {
		case codeMark1:
			if state == stateAwaitMark1 {
				sawMark1 = true
			} else if state != stateResyncBurst {
				r.Errors.GCRBadSequence++
			}
			state = stateGroupA
			continue
		case codeMark2:
			if !sawMark1 || state == stateResyncBurst {
				r.Errors.GCRBadSequence++
			}
			state = stateResyncBurst
			continue
		case codeSync:
			if state == stateResyncBurst {
				continue // absorb the 14x SYNC resync burst rows
			}
			if !sawMark1 {
				r.Errors.GCRBadSequence++
			}
			if !sawSync {
				sawSync = true
				state = stateResidual
				continue
			}
		case codeTerml0, codeTerml1:
			state = stateDone
			continue
		}

		switch state {
		case stateGroupA:
			for trk := 1; trk < d.ntrks && trk-1 < 8; trk++ {
				nib, ok := codeToNibble[codes[trk]]
				if !ok {
					r.Errors.GCRBadDgroups++
					nib = 0
				}
				highNibbles[trk-1] = nib
			}
			state = stateGroupB
		case stateGroupB:
			for trk := 1; trk < d.ntrks && trk-1 < 8; trk++ {
				nib, ok := codeToNibble[codes[trk]]
				if !ok {
					r.Errors.GCRBadDgroups++
					nib = 0
				}
				b := highNibbles[trk-1]<<4 | nib
				dataBytes = append(dataBytes, b)
			}
			state = stateGroupA
		case stateResidual:
			// same 5-bit code per data track as group A/B, but folded
			// directly into bytes (nibble pairs) in a single row rather
			// than split across two rows.
			nibbles := make([]byte, 0, d.ntrks-1)
			for trk := 1; trk < d.ntrks; trk++ {
				nib, ok := codeToNibble[codes[trk]]
				if !ok {
					r.Errors.GCRBadDgroups++
					nib = 0
				}
				nibbles = append(nibbles, nib)
			}
			for i := 0; i+1 < len(nibbles); i += 2 {
				residualBytes = append(residualBytes, nibbles[i]<<4|nibbles[i+1])
			}
			sawResidual = true
			state = stateCRC
		case stateCRC:
			residualByte := codes[1] // high bits of the residual char give the trailing-byte count
			residualCount = int(residualByte>>4) & 0xF
			sawCRC = true
			state = stateDone
		case stateAwaitMark1, stateResyncBurst, stateDone:
			// preamble rows and absorbed resync rows carry no data
		}
	}

	if !sawResidual || !sawCRC {
		r.Kind = tape.BadBlock
		return r
	}
	if residualCount > len(residualBytes) {
		residualCount = len(residualBytes)
	}
	dataBytes = append(dataBytes, residualBytes[:residualCount]...)

	r.Bytes = dataBytes
	d.checkECC(r, dataBytes)

	for _, b := range dataBytes {
		if tape.Parity(b) != d.expectedParity {
			r.Errors.VerticalParityErrs++
		}
	}

	maxGain := 1.0
	avgSpacing := 0.0
	n := 0
	for _, tr := range d.tracks {
		if tr.agc.MaxGain > maxGain {
			maxGain = tr.agc.MaxGain
		}
		if tr.clockAvg.Avg > 0 {
			avgSpacing += tr.clockAvg.Avg
			n++
		}
	}
	r.MaxAGCGain = maxGain
	if n > 0 {
		r.AvgBitSpacing = avgSpacing / float64(n)
	}

	r.Kind = tape.Block
	return r
}

// checkECC verifies the per-column XOR of every 8-byte (7 data + 1 ECC)
// group, per the design: "compute like NRZI LRC over each group".
// Correction is not attempted, matching the Open Question decision
// recorded in the grounding ledger.
func (d *Decoder) checkECC(r *tape.Result, dataBytes []byte) {
	for i := 0; i+8 <= len(dataBytes); i += 8 {
		var ecc byte
		for j := 0; j < 7; j++ {
			ecc ^= dataBytes[i+j]
		}
		if ecc != dataBytes[i+7] {
			r.Errors.ECCErrs++
		}
	}
}

// isTapemark applies the rule: tracks {0,2,5,6,7,8} have
// 250-400 data bits and tracks {1,3,4} have <=2 peaks. Only meaningful
// for 9-track tapes.
var tapemarkTracksData = []int{0, 2, 5, 6, 7, 8}
var tapemarkTracksQuiet = []int{1, 3, 4}

func (d *Decoder) isTapemark() bool {
	if d.ntrks != 9 {
		return false
	}
	for _, t := range tapemarkTracksData {
		n := d.block.BitCount(t)
		if n < 250 || n > 400 {
			return false
		}
	}
	for _, t := range tapemarkTracksQuiet {
		if d.tracks[t].peakCount > 2 {
			return false
		}
	}
	return true
}
