// Package skew derives per-track sample delays from transition-time
// statistics (component C6), for use by package deskew.
// Grounded on the same per-channel timing reconstruction shape as the
// teacher's supercardpro track/revolution buffering.
package skew

// Estimator accumulates, per track, the running average transition
// position relative to a common reference clock.
type Estimator struct {
	sum   []float64
	count []int
}

// New creates an Estimator for ntrks tracks.
func New(ntrks int) *Estimator {
	return &Estimator{
		sum:   make([]float64, ntrks),
		count: make([]int, ntrks),
	}
}

// Observe records one transition on track trk at relative position pos
// (e.g. time since the start of the current reference bit cell, seconds).
func (e *Estimator) Observe(trk int, pos float64) {
	e.sum[trk] += pos
	e.count[trk]++
}

// Delays computes, for each track, the integer sample delay needed to
// align it to the track with the largest average position:
// delay = ceil((max_avg - track_avg) / sampleDt), clamped to >= 0.
func (e *Estimator) Delays(sampleDt float64) []int {
	avgs := make([]float64, len(e.sum))
	maxAvg := 0.0
	for i := range avgs {
		if e.count[i] > 0 {
			avgs[i] = e.sum[i] / float64(e.count[i])
		}
		if avgs[i] > maxAvg {
			maxAvg = avgs[i]
		}
	}
	delays := make([]int, len(avgs))
	for i, avg := range avgs {
		d := (maxAvg - avg) / sampleDt
		delays[i] = ceilNonNegative(d)
	}
	return delays
}

func ceilNonNegative(x float64) int {
	if x <= 0 {
		return 0
	}
	i := int(x)
	if float64(i) < x {
		i++
	}
	return i
}
