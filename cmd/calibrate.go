package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/tapedecode/config"
	"github.com/sergev/tapedecode/density"
	"github.com/sergev/tapedecode/peak"
	"github.com/sergev/tapedecode/skew"
	"github.com/sergev/tapedecode/tape"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate SAMPLEFILE",
	Short: "Estimate recording density and per-track skew from a capture, without decoding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := openSampleFile(args[0])
		if err != nil {
			return err
		}
		if err := skipLeadingSamples(src, runCfg.SkipSamples); err != nil {
			return err
		}
		sampleDt, err := estimateSampleDt(src)
		if err != nil {
			return err
		}

		bpi, delays, err := runCalibrationPass(src, runCfg, sampleDt)
		if err != nil {
			return err
		}

		fmt.Printf("estimated density: %d BPI\n", bpi)
		for trk, d := range delays {
			fmt.Printf("track %d: skew delay %d samples\n", trk, d)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
}

// estimateSampleDt infers the nominal sample period from the first two
// samples of src, then rewinds src to where it started.
func estimateSampleDt(src tape.SampleSource) (float64, error) {
	tok, err := src.SavePosition()
	if err != nil {
		return 0, fmt.Errorf("cmd: save position: %w", err)
	}
	s0, err := src.ReadSample()
	if err != nil {
		return 0, fmt.Errorf("cmd: read first sample: %w", err)
	}
	s1, err := src.ReadSample()
	if err != nil {
		return 0, fmt.Errorf("cmd: read second sample: %w", err)
	}
	if err := src.RestorePosition(tok); err != nil {
		return 0, fmt.Errorf("cmd: rewind after sample-rate probe: %w", err)
	}
	dt := s1.Time - s0.Time
	if dt <= 0 {
		return 0, fmt.Errorf("cmd: non-positive sample period in capture")
	}
	return dt, nil
}

// skipLeadingSamples discards the first n samples of src (the --skip-samples
// knob, for captures with a noisy lead-in).
func skipLeadingSamples(src tape.SampleSource, n int) error {
	for i := 0; i < n; i++ {
		if _, err := src.ReadSample(); err != nil {
			if errors.Is(err, tape.ErrEndOfStream) {
				return nil
			}
			return fmt.Errorf("cmd: skip leading samples: %w", err)
		}
	}
	return nil
}

// runCalibrationPass drives one peak.Detector per track over the whole
// remaining capture, feeding every detected transition to a density
// histogram and, relative to track 0, a per-track skew estimator. It
// consumes src to the end and does not rewind it.
func runCalibrationPass(src tape.SampleSource, cfg config.Config, sampleDt float64) (int, []int, error) {
	defaults := defaultsForMode(cfg.Mode)
	if len(defaults) == 0 {
		return 0, nil, fmt.Errorf("cmd: no default parameters for mode %v", cfg.Mode)
	}
	ps := defaults[0]

	w := peak.WindowWidth(ps.PkwwBitfrac, cfg.BPI, cfg.IPS, sampleDt)
	detectors := make([]*peak.Detector, cfg.Ntrks)
	lastPeak := make([]float64, cfg.Ntrks)
	haveLastPeak := make([]bool, cfg.Ntrks)
	for i := range detectors {
		d := peak.New(w, sampleDt)
		d.RequiredRise = calibrationRequiredRise
		d.Gain = 1.0
		detectors[i] = d
	}

	dens := density.New(cfg.Mode == tape.PE)
	sk := skew.New(cfg.Ntrks)
	referenceTime := 0.0
	haveReference := false

	for {
		s, err := src.ReadSample()
		if err != nil {
			if errors.Is(err, tape.ErrEndOfStream) {
				break
			}
			return 0, nil, fmt.Errorf("cmd: read sample: %w", err)
		}
		n := cfg.Ntrks
		if len(s.Voltage) < n {
			n = len(s.Voltage)
		}
		for trk := 0; trk < n; trk++ {
			pk, ok := detectors[trk].Push(s.Time, s.Voltage[trk])
			if !ok {
				continue
			}
			if haveLastPeak[trk] {
				dens.Observe(pk.Time - lastPeak[trk])
			}
			lastPeak[trk] = pk.Time
			haveLastPeak[trk] = true

			if trk == 0 {
				referenceTime = pk.Time
				haveReference = true
			}
			if haveReference {
				sk.Observe(trk, pk.Time-referenceTime)
			}
		}
	}

	bpi, err := dens.Estimate(cfg.IPS, tape.StandardBPI)
	if err != nil {
		return 0, nil, err
	}
	return bpi, sk.Delays(sampleDt), nil
}

// calibrationRequiredRise is a fixed prominence threshold used for the
// density/skew pre-pass, which runs before any AGC gain estimate exists:
// samples are assumed normalized to roughly [-1, 1] by the source reader.
func calibrationRequiredRise() float64 { return 0.05 }
