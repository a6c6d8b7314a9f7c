// Package peak implements sliding-window detection of local maxima and
// minima in one channel's voltage stream (component C3).
// It generalizes its binary edge detection (mfm/reader.go reads
// a pre-thresholded digital MFM bitstream) to genuine analog peak-finding
// over a circular buffer of raw voltage samples.
package peak

import "math"

// PEAK_THRESHOLD is the fixed-point-style fraction used in peak-time
// refinement: a neighbor within PEAK_THRESHOLD/gain of the
// extremum shifts the reported time by half a sample.
const PEAK_THRESHOLD = 0.10

// MaxWindow is an implementation ceiling on window width in samples.
const MaxWindow = 4096

// Detector holds one channel's sliding window and emits Top/Bottom events.
type Detector struct {
	window   []float32 // circular buffer of the last W voltages
	times    []float64 // parallel sample times
	w        int        // configured window width
	head     int        // next slot to write
	count    int        // samples currently in the window (<= w)
	sampleDt float64    // nominal seconds between samples

	minIdx, maxIdx int // index (within window, logical head-relative) of current min/max
	minVal, maxVal float32
	dirty          bool // true if a rescan of min/max is needed

	blindUntil int // samples remaining before detector accepts a new peak (left-distance blind period)

	RequiredRise func() float64 // computed by caller each call from AGC/pulse params (the rule: pkww_rise * avg_pp/NOMINAL_PP / agc_gain)
	MinPeak      float64        // optional absolute floor; 0 disables
	Gain         float64        // current AGC gain, used to scale the peak-time refinement threshold
}

// New creates a Detector with window width w samples (clamped to
// [3, MaxWindow]) and nominal sample spacing sampleDt seconds.
func New(w int, sampleDt float64) *Detector {
	if w < 3 {
		w = 3
	}
	if w > MaxWindow {
		w = MaxWindow
	}
	return &Detector{
		window:   make([]float32, w),
		times:    make([]float64, w),
		w:        w,
		sampleDt: sampleDt,
	}
}

// WindowWidth computes W = pkww_bitfrac / (BPI * IPS * sampleDt), clamped
// to MaxWindow.
func WindowWidth(pkwwBitfrac, bpi, ips, sampleDt float64) int {
	if bpi <= 0 || ips <= 0 || sampleDt <= 0 {
		return 3
	}
	w := int(pkwwBitfrac / (bpi * ips * sampleDt))
	if w < 3 {
		w = 3
	}
	if w > MaxWindow {
		w = MaxWindow
	}
	return w
}

// Push appends one sample and returns an emitted Peak if the window shows
// a qualifying local extremum. ok is false when no peak is emitted this
// call.
type Peak struct {
	Time    float64
	Voltage float32
	Top     bool
}

func (d *Detector) Push(t float64, v float32) (Peak, bool) {
	d.window[d.head] = v
	d.times[d.head] = t
	evicting := d.count == d.w
	evictIdx := d.head

	d.head = (d.head + 1) % d.w
	if d.count < d.w {
		d.count++
	}

	if evicting && (evictIdx == d.minIdx || evictIdx == d.maxIdx) {
		d.dirty = true
	}
	if d.dirty {
		d.rescan()
	} else {
		d.updateExtremaIncremental(evictIdx, v)
	}

	if d.blindUntil > 0 {
		d.blindUntil--
		return Peak{}, false
	}
	if d.count < d.w {
		return Peak{}, false
	}

	return d.checkExtremum()
}

func (d *Detector) rescan() {
	d.minVal = d.window[0]
	d.maxVal = d.window[0]
	d.minIdx = 0
	d.maxIdx = 0
	for i := 1; i < d.count; i++ {
		v := d.window[i]
		if v < d.minVal {
			d.minVal = v
			d.minIdx = i
		}
		if v > d.maxVal {
			d.maxVal = v
			d.maxIdx = i
		}
	}
	d.dirty = false
}

func (d *Detector) updateExtremaIncremental(newIdx int, v float32) {
	if d.count == 1 {
		d.minVal, d.maxVal = v, v
		d.minIdx, d.maxIdx = newIdx, newIdx
		return
	}
	if v < d.minVal {
		d.minVal = v
		d.minIdx = newIdx
	}
	if v > d.maxVal {
		d.maxVal = v
		d.maxIdx = newIdx
	}
}

// checkExtremum tests whether the window's current max/min qualifies as a
// peak against both endpoints (oldest and newest sample in the window),
// per the design
func (d *Detector) checkExtremum() (Peak, bool) {
	oldestIdx := d.head // the slot about to be overwritten next holds the oldest sample
	newestIdx := (d.head - 1 + d.w) % d.w

	required := 0.0
	if d.RequiredRise != nil {
		required = d.RequiredRise()
	}

	oldest := d.window[oldestIdx]
	newest := d.window[newestIdx]

	riseTop := math.Min(float64(d.maxVal-oldest), float64(d.maxVal-newest))
	if riseTop >= required && riseTop > 0 && (d.MinPeak == 0 || float64(d.maxVal) >= d.MinPeak) {
		p := d.emit(d.maxIdx, true)
		return p, true
	}

	riseBot := math.Min(float64(oldest-d.minVal), float64(newest-d.minVal))
	if riseBot >= required && riseBot > 0 && (d.MinPeak == 0 || float64(-d.minVal) >= d.MinPeak) {
		p := d.emit(d.minIdx, false)
		return p, true
	}

	return Peak{}, false
}

func (d *Detector) emit(idx int, top bool) Peak {
	leftDistance := (idx - d.head + d.w) % d.w
	adjustment := d.refineTime(idx)
	t := d.times[idx] + adjustment

	d.blindUntil = leftDistance
	d.dirty = true // force a rescan once the peak leaves the window

	v := d.window[idx]
	return Peak{Time: t, Voltage: v, Top: top}
}

// refineTime looks at the two immediate neighbors of the extremum and
// shifts the reported time by ±half a sample if one neighbor is much
// closer to the extremum than the other.
func (d *Detector) refineTime(idx int) float64 {
	gain := d.Gain
	if gain <= 0 {
		gain = 1.0
	}
	prevIdx := (idx - 1 + d.w) % d.w
	nextIdx := (idx + 1) % d.w
	extremum := d.window[idx]
	prevDiff := math.Abs(float64(extremum - d.window[prevIdx]))
	nextDiff := math.Abs(float64(extremum - d.window[nextIdx]))

	threshold := PEAK_THRESHOLD / gain
	prevClose := prevDiff <= threshold
	nextClose := nextDiff <= threshold

	if prevClose && !nextClose {
		return -0.5 * d.sampleDt
	}
	if nextClose && !prevClose {
		return 0.5 * d.sampleDt
	}
	return 0
}
