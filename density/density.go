// Package density implements the BPI autodetect pre-pass (the design,
// component C5): a histogram of inter-transition deltas, binned at 0.5us,
// used to pick the smallest bin holding a large share of all transitions
// and match it to a standard density. Grounded on its design's
// mfm.GenerateFluxTransitions/CoverFullRotation (mfm/flux.go), which does
// the inverse computation (BPI -> bitcell period); this package goes the
// other way (observed deltas -> BPI).
package density

import (
	"fmt"
	"sort"
)

// BinWidth is the histogram bin width, seconds (0.5 microseconds).
const BinWidth = 0.5e-6

// CountNeeded is the number of transitions required before a density
// decision is attempted.
const CountNeeded = 10000

// MinPercent is the minimum share of all transitions a bin must hold to be
// considered the bit-cell bin.
const MinPercent = 0.05

// ClosePercent bounds how far the derived BPI may be from a standard
// density and still be accepted.
const ClosePercent = 0.20

// Estimator accumulates a histogram of transition-to-transition deltas.
type Estimator struct {
	bins  map[int]int
	total int

	// PE doubles the observed delta (the smallest delta is half a bit
	// cell in PE, a full clock-to-data gap), matching the design
	PE bool
}

// New creates an empty Estimator.
func New(pe bool) *Estimator {
	return &Estimator{bins: make(map[int]int), PE: pe}
}

// Observe records one inter-transition delta, in seconds.
func (e *Estimator) Observe(delta float64) {
	if delta <= 0 {
		return
	}
	bin := int(delta / BinWidth)
	e.bins[bin]++
	e.total++
}

// Ready reports whether enough transitions have accumulated to attempt a
// density decision.
func (e *Estimator) Ready() bool {
	return e.total >= CountNeeded
}

// Estimate picks the smallest bin holding at least MinPercent of all
// transitions, converts it to BPI given tape speed ips (inches/second),
// and accepts it only if within ClosePercent of a standard density.
// Returns an error ("non-standard density") when no standard density
// matches.
func (e *Estimator) Estimate(ips float64, standardBPI []int) (int, error) {
	if e.total == 0 {
		return 0, fmt.Errorf("no transitions observed")
	}

	keys := make([]int, 0, len(e.bins))
	for k := range e.bins {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	threshold := MinPercent * float64(e.total)
	var chosenBin = -1
	for _, k := range keys {
		if float64(e.bins[k]) >= threshold {
			chosenBin = k
			break
		}
	}
	if chosenBin < 0 {
		return 0, fmt.Errorf("non-standard density: no bin holds >= %.0f%% of %d transitions", MinPercent*100, e.total)
	}

	cellSeconds := (float64(chosenBin) + 0.5) * BinWidth
	if e.PE {
		cellSeconds *= 2 // observed delta was half a bit cell
	}

	bpi := 1.0 / (cellSeconds * ips)

	for _, std := range standardBPI {
		lo := float64(std) * (1 - ClosePercent)
		hi := float64(std) * (1 + ClosePercent)
		if bpi >= lo && bpi <= hi {
			return std, nil
		}
	}
	return 0, fmt.Errorf("non-standard density: estimated %.0f BPI matches no standard density", bpi)
}

// Reset clears the histogram (used to re-run the pre-pass with different
// inputs, and for the idempotence property in the design).
func (e *Estimator) Reset() {
	e.bins = make(map[int]int)
	e.total = 0
}
