// Package clock maintains a running estimate of bit-cell duration per
// track (or globally, for NRZI). It is the tape analogue of its design's
// pll.Decoder period tracking (pll/pll.go), generalized to three selectable
// strategies instead of one fixed PLL law.
package clock

// Averager tracks bitspace_avg: the current estimate of one bit cell's
// duration, in seconds. Selected strategy depends on which ParameterSet
// field is set:
//   - clk_window > 0: moving average of the last N deltas.
//   - clk_alpha > 0: exponential smoothing.
//   - neither: constant at the initial value (NewConstant); Update never
//     changes it.
type Averager struct {
	window []float64 // ring buffer of the last N deltas, when windowed
	sum    float64   // running sum of window, kept incremental
	pos    int       // next slot to overwrite
	filled int       // number of valid entries in window

	alpha float64 // exponential smoothing factor, 0 disables

	constant bool // true for an Averager created by NewConstant

	Avg float64 // bitspace_avg, read by decoders after every Update/Force
}

// maxWindow bounds the moving-window strategy; the design calls for "a small
// bound" to keep roundoff from moving-average accumulation negligible.
const maxWindow = 32

// NewWindowed creates an Averager using the moving-window strategy over n
// deltas (clamped to [1, maxWindow]), seeded with an initial estimate.
func NewWindowed(n int, initial float64) *Averager {
	if n < 1 {
		n = 1
	}
	if n > maxWindow {
		n = maxWindow
	}
	a := &Averager{
		window: make([]float64, n),
		Avg:    initial,
	}
	return a
}

// NewExponential creates an Averager using exponential smoothing with
// factor alpha, seeded with an initial estimate.
func NewExponential(alpha, initial float64) *Averager {
	return &Averager{alpha: alpha, Avg: initial}
}

// NewConstant creates an Averager that never updates, fixed at value.
func NewConstant(value float64) *Averager {
	return &Averager{constant: true, Avg: value}
}

// Update folds in one new inter-transition delta (seconds), adjusting Avg
// per the selected strategy. No-op for a constant Averager.
func (a *Averager) Update(delta float64) {
	switch {
	case a.constant:
		return
	case len(a.window) > 0:
		a.updateWindowed(delta)
	case a.alpha > 0:
		a.Avg = a.alpha*delta + (1-a.alpha)*a.Avg
	default:
		// No strategy configured: behave like constant.
	}
}

func (a *Averager) updateWindowed(delta float64) {
	if a.filled < len(a.window) {
		a.window[a.pos] = delta
		a.sum += delta
		a.filled++
	} else {
		old := a.window[a.pos]
		a.window[a.pos] = delta
		a.sum += delta - old
	}
	a.pos = (a.pos + 1) % len(a.window)
	a.Avg = a.sum / float64(a.filled)
}

// Force replaces all history with delta. It sets Avg for every strategy,
// a constant Averager included.
func (a *Averager) Force(delta float64) {
	a.Avg = delta
	if len(a.window) > 0 {
		for i := range a.window {
			a.window[i] = delta
		}
		a.sum = delta * float64(len(a.window))
		a.filled = len(a.window)
		a.pos = 0
	}
}
