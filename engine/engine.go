// Package engine implements the sample-driven decode loop (the design,
// component C10): one call per incoming sample, pushing each track
// through deskew and peak detection, dispatching emitted peaks to the
// active format decoder, and reporting end-of-block. Grounded on the
// teacher's greaseweazle/read.go ReadFlux loop, which also turns a raw
// sample/flux stream into calculate-and-dispatch calls one transition at
// a time.
package engine

import (
	"github.com/sergev/tapedecode/deskew"
	"github.com/sergev/tapedecode/density"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/peak"
	"github.com/sergev/tapedecode/skew"
	"github.com/sergev/tapedecode/tape"
)

// midbitScheduler is implemented only by nrzi.Decoder: PE and GCR are
// self-clocking and never need a shared midbit deadline.
type midbitScheduler interface {
	MidbitDeadline() float64
	OnMidbit(t float64)
}

type mode int

const (
	modeNormal mode = iota
	modeDensity
	modeSkew
)

// Engine drives decoding one sample at a time.
type Engine struct {
	ntrks   int
	decoder tape.Decoder
	deskew  *deskew.Buffer
	peaks   []*peak.Detector
	ps      params.Set

	interblockGapUntil float64
	interblockGapHold   float64

	mode         mode
	densityEst   *density.Estimator
	skewEst      *skew.Estimator
	lastPeakTime []float64
	havePeak     []bool

	lastResult *tape.Result
}

// New creates an Engine for normal decoding against decoder, with one
// PeakDetector per track sized from ps and the nominal bit-cell duration.
// deskewDelays may be nil to disable deskew.
func New(ntrks int, decoder tape.Decoder, ps params.Set, bpi, ips, sampleDt float64, deskewDelays []int) *Engine {
	e := &Engine{
		ntrks:             ntrks,
		decoder:           decoder,
		ps:                ps,
		interblockGapHold: 2 * bitspace(bpi, ips),
	}
	e.peaks = make([]*peak.Detector, ntrks)
	w := peak.WindowWidth(ps.PkwwBitfrac, bpi, ips, sampleDt)
	for i := range e.peaks {
		pd := peak.New(w, sampleDt)
		pd.MinPeak = ps.MinPeak
		pd.RequiredRise = func() float64 {
			g := pd.Gain
			if g <= 0 {
				g = 1
			}
			return ps.PkwwRise / g
		}
		e.peaks[i] = pd
	}
	if deskewDelays != nil {
		e.deskew = deskew.NewBuffer(deskewDelays)
	}
	return e
}

func bitspace(bpi, ips float64) float64 {
	if bpi <= 0 || ips <= 0 {
		return 0
	}
	return 1.0 / (bpi * ips)
}

// NewDensityPrepass creates an Engine that short-circuits decoding and
// feeds inter-transition deltas into a DensityEstimator (the design,
// "Density pre-pass").
func NewDensityPrepass(ntrks int, pe bool, windowWidth int, sampleDt float64) *Engine {
	e := &Engine{ntrks: ntrks, mode: modeDensity, densityEst: density.New(pe)}
	e.peaks = make([]*peak.Detector, ntrks)
	for i := range e.peaks {
		e.peaks[i] = peak.New(windowWidth, sampleDt)
	}
	e.lastPeakTime = make([]float64, ntrks)
	e.havePeak = make([]bool, ntrks)
	return e
}

// NewSkewPrepass creates an Engine that short-circuits decoding and feeds
// per-track transition positions into a skew.Estimator (the design,
// "Skew pre-pass").
func NewSkewPrepass(ntrks int, windowWidth int, sampleDt float64) *Engine {
	e := &Engine{ntrks: ntrks, mode: modeSkew, skewEst: skew.New(ntrks)}
	e.peaks = make([]*peak.Detector, ntrks)
	for i := range e.peaks {
		e.peaks[i] = peak.New(windowWidth, sampleDt)
	}
	return e
}

// DensityEstimator exposes the prepass density estimator, or nil outside
// density mode.
func (e *Engine) DensityEstimator() *density.Estimator { return e.densityEst }

// SkewEstimator exposes the prepass skew estimator, or nil outside skew
// mode.
func (e *Engine) SkewEstimator() *skew.Estimator { return e.skewEst }

// LastResult returns the Result finalized by the most recent end-of-block.
func (e *Engine) LastResult() *tape.Result { return e.lastResult }

// ProcessSample runs one sample through the pipeline, returning the
// current block kind; tape.None means "no end-of-block yet".
func (e *Engine) ProcessSample(s tape.Sample) tape.Kind {
	if s.Time < e.interblockGapUntil {
		return tape.None
	}

	voltages := s.Voltage
	if e.deskew != nil {
		adjusted := make([]float32, len(voltages))
		for i, v := range voltages {
			adjusted[i] = e.deskew.Push(i, v)
		}
		voltages = adjusted
	}

	switch e.mode {
	case modeDensity:
		e.processDensitySample(s.Time, voltages)
		return tape.None
	case modeSkew:
		e.processSkewSample(s.Time, voltages)
		return tape.None
	}

	if ms, ok := e.decoder.(midbitScheduler); ok {
		if s.Time >= ms.MidbitDeadline() {
			ms.OnMidbit(s.Time)
		}
	}

	for trk := 0; trk < e.ntrks; trk++ {
		pd := e.peaks[trk]
		pd.Gain = e.decoder.Gain(trk)
		if p, ok := pd.Push(s.Time, voltages[trk]); ok {
			if p.Top {
				e.decoder.OnTop(trk, p.Time, p.Voltage)
			} else {
				e.decoder.OnBot(trk, p.Time, p.Voltage)
			}
		}
	}

	if e.decoder.AllIdle(s.Time) {
		e.lastResult = e.decoder.EndOfBlock()
		e.interblockGapUntil = s.Time + e.interblockGapHold
		return e.lastResult.Kind
	}
	return tape.None
}

func (e *Engine) processDensitySample(t float64, voltages []float32) {
	for trk := 0; trk < e.ntrks; trk++ {
		if p, ok := e.peaks[trk].Push(t, voltages[trk]); ok {
			if e.havePeak[trk] {
				e.densityEst.Observe(p.Time - e.lastPeakTime[trk])
			}
			e.lastPeakTime[trk] = p.Time
			e.havePeak[trk] = true
		}
	}
}

func (e *Engine) processSkewSample(t float64, voltages []float32) {
	for trk := 0; trk < e.ntrks; trk++ {
		if p, ok := e.peaks[trk].Push(t, voltages[trk]); ok {
			e.skewEst.Observe(trk, p.Time)
		}
	}
}
