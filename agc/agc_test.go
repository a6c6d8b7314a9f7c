package agc

import "testing"

func TestGainClampedToUnityMinimum(t *testing.T) {
	c := NewExponential(0.5, 1, 5)
	for i := 0; i < 5; i++ {
		c.OnPeak(1.0) // baseline == observed height, target gain 1
	}
	if c.Gain < 1 {
		t.Fatalf("Gain = %v, want >= 1", c.Gain)
	}
}

func TestGainClampedToMax(t *testing.T) {
	c := NewExponential(1.0, 1, 2)
	c.OnPeak(1.0) // baseline accumulates 1.0
	c.OnPeak(1.0) // baseline accumulates again, avg 1.0
	c.OnPeak(0.001) // tiny signal after preamble: huge target gain
	if c.Gain > AGCMax {
		t.Fatalf("Gain = %v, want <= %v", c.Gain, AGCMax)
	}
}

func TestWindowedUsesMinimumOfRecentHeights(t *testing.T) {
	c := NewWindowed(3, 1, 3)
	c.OnPeak(2.0)
	c.OnPeak(2.0)
	c.OnPeak(2.0) // baseline avg = 2.0
	c.OnPeak(1.0) // window min becomes 1.0 -> gain should rise towards 2
	if c.Gain <= 1 {
		t.Fatalf("Gain = %v, want > 1 after a dropout in the window", c.Gain)
	}
}

func TestMaxGainTracksPeakObservedGain(t *testing.T) {
	c := NewExponential(1.0, 1, 1)
	c.OnPeak(1.0)
	c.OnPeak(0.1)
	c.OnPeak(1.0) // gain should fall back down
	if c.MaxGain < c.Gain {
		t.Fatalf("MaxGain = %v should be >= current Gain = %v", c.MaxGain, c.Gain)
	}
	if c.MaxGain <= 1 {
		t.Fatalf("MaxGain = %v, want > 1 after the dropout spike", c.MaxGain)
	}
}
