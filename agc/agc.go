// Package agc implements per-track automatic gain control, compensating
// for amplitude dropouts so PeakDetector's prominence threshold keeps
// working as the signal fades. Grounded on its PLL gain-law
// shape (greaseweazle/greaseweazle.go's PLL_DAMPING constant family),
// generalized per the design into exponential and windowed variants.
package agc

// AGCMax bounds the gain, the design invariant: agc_gain ∈ [1, AGC_MAX].
const AGCMax = 8.0

// Controller tracks peak-to-peak amplitude and derives a compensating gain.
type Controller struct {
	alphaMode bool
	alpha     float64

	window   []float64 // last N peak-to-peak heights
	pos      int
	filled   int

	baseline   float64 // accumulated during preamble
	baselineN  int     // peaks accumulated into baseline so far
	agcStart   int     // accumulate baseline starting at this peak
	agcEnd     int     // stop accumulating at this peak
	peakCount  int     // total peaks seen
	lastPPHt   float64 // last peak-to-peak height, exponential mode

	Gain    float64 // current gain, clamped to [1, AGCMax]
	MaxGain float64 // highest gain observed this block
}

// NewExponential creates a Controller using exponential smoothing, which
// accumulates its preamble baseline between the agcStart-th and agcEnd-th
// peak.
func NewExponential(alpha float64, agcStart, agcEnd int) *Controller {
	return &Controller{
		alphaMode: true,
		alpha:     alpha,
		agcStart:  agcStart,
		agcEnd:    agcEnd,
		Gain:      1,
		MaxGain:   1,
	}
}

// NewWindowed creates a Controller that keeps the last n peak-to-peak
// heights and derives gain from their minimum.
func NewWindowed(n, agcStart, agcEnd int) *Controller {
	if n < 1 {
		n = 1
	}
	return &Controller{
		window:   make([]float64, n),
		agcStart: agcStart,
		agcEnd:   agcEnd,
		Gain:     1,
		MaxGain:  1,
	}
}

// OnPeak reports a new peak-to-peak height (top minus bottom voltage of
// the most recent pulse). Called only when a new peak is processed, never
// per sample, per the design
func (c *Controller) OnPeak(ppHeight float64) {
	c.peakCount++

	if c.peakCount >= c.agcStart && c.peakCount <= c.agcEnd {
		c.baseline += ppHeight
		c.baselineN++
	}
	if c.baselineN == 0 {
		// No baseline yet: can't compute a meaningful gain, hold at unity.
		c.lastPPHt = ppHeight
		return
	}
	baselineAvg := c.baseline / float64(c.baselineN)

	if c.alphaMode {
		if c.lastPPHt == 0 {
			c.lastPPHt = ppHeight
		}
		target := 1.0
		if ppHeight > 0 {
			target = baselineAvg / ppHeight
		}
		c.lastPPHt = c.alpha*ppHeight + (1-c.alpha)*c.lastPPHt
		if c.lastPPHt > 0 {
			target = baselineAvg / c.lastPPHt
		}
		c.Gain = clamp(target)
	} else {
		c.pushWindow(ppHeight)
		minHt := c.windowMin()
		target := 1.0
		if minHt > 0 {
			target = baselineAvg / minHt
		}
		c.Gain = clamp(target)
	}

	if c.Gain > c.MaxGain {
		c.MaxGain = c.Gain
	}
}

func clamp(g float64) float64 {
	if g < 1 {
		return 1
	}
	if g > AGCMax {
		return AGCMax
	}
	return g
}

func (c *Controller) pushWindow(v float64) {
	if c.filled < len(c.window) {
		c.window[c.pos] = v
		c.filled++
	} else {
		c.window[c.pos] = v
	}
	c.pos = (c.pos + 1) % len(c.window)
}

func (c *Controller) windowMin() float64 {
	if c.filled == 0 {
		return 0
	}
	min := c.window[0]
	for i := 1; i < c.filled; i++ {
		if c.window[i] < min {
			min = c.window[i]
		}
	}
	return min
}

// FreezeBaseline stops further accumulation into the preamble baseline
// (called at preamble exit, the design "baseline_pp is frozen").
func (c *Controller) FreezeBaseline() {
	c.agcEnd = c.peakCount
}
