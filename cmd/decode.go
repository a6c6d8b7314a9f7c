package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/tapedecode/dump"
	"github.com/sergev/tapedecode/orchestrate"
	"github.com/sergev/tapedecode/sinkfile"
	"github.com/sergev/tapedecode/tape"
)

var (
	outTapFlag    string
	outBinFlag    string
	dumpFlag      bool
	restoreParity bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode SAMPLEFILE",
	Short: "Decode a captured tape pass into .tap and/or .bin output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if outTapFlag == "" && outBinFlag == "" && !dumpFlag {
			return fmt.Errorf("cmd: specify at least one of --out-tap, --out-bin, or --dump")
		}

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

		var delays []int
		if runCfg.Deskew {
			tok, err := src.SavePosition()
			if err != nil {
				return fmt.Errorf("cmd: save position before skew pre-pass: %w", err)
			}
			_, d, err := runCalibrationPass(src, runCfg, sampleDt)
			if err != nil {
				return fmt.Errorf("cmd: skew pre-pass: %w", err)
			}
			if err := src.RestorePosition(tok); err != nil {
				return fmt.Errorf("cmd: rewind after skew pre-pass: %w", err)
			}
			delays = d
		}

		sink, closeSink, err := buildSink()
		if err != nil {
			return err
		}
		defer closeSink()

		ocfg := orchestrate.Config{
			Mode:           runCfg.Mode,
			Ntrks:          runCfg.Ntrks,
			BPI:            runCfg.BPI,
			IPS:            runCfg.IPS,
			SampleDt:       sampleDt,
			ExpectedParity: runCfg.ExpectedParity,
			AddParity:      runCfg.AddParity,
			Deskew:         runCfg.Deskew,
			MultiTry:       runCfg.MultiTry,
			DeskewDelays:   delays,
		}
		o := orchestrate.New(ocfg, activeSets, src, sink)

		for {
			if err := o.DecodeOneBlock(); err != nil {
				if errors.Is(err, tape.ErrEndOfStream) {
					break
				}
				return fmt.Errorf("cmd: decode: %w", err)
			}
		}
		return closeSink()
	},
}

func init() {
	decodeCmd.Flags().StringVar(&outTapFlag, "out-tap", "", "write a SIMH .tap image to this path")
	decodeCmd.Flags().StringVar(&outBinFlag, "out-bin", "", "write one .bin file per tape file, using this path prefix")
	decodeCmd.Flags().BoolVar(&dumpFlag, "dump", false, "print a hex/ASCII/EBCDIC text dump of every decoded block to stdout")
	decodeCmd.Flags().BoolVar(&restoreParity, "restore-parity", false, "fold the recorded parity bit back into each output byte's high bit")
	rootCmd.AddCommand(decodeCmd)
}

// multiSink fans decoded output out to any number of tape.BlockSinks, so
// --out-tap, --out-bin, and --dump can all be active on the same run.
type multiSink struct {
	sinks []tape.BlockSink
}

func (m *multiSink) OnTapemark() error {
	for _, s := range m.sinks {
		if err := s.OnTapemark(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSink) OnNoise() error {
	for _, s := range m.sinks {
		if err := s.OnNoise(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSink) OnBlock(data []byte, kind tape.Kind, meta tape.Metadata) error {
	for _, s := range m.sinks {
		if err := s.OnBlock(data, kind, meta); err != nil {
			return err
		}
	}
	return nil
}

var _ tape.BlockSink = (*multiSink)(nil)

// buildSink assembles the active output sinks per the decode flags, and a
// closer that flushes and closes all of them exactly once.
func buildSink() (tape.BlockSink, func() error, error) {
	var sinks []tape.BlockSink
	var closers []func() error

	if outTapFlag != "" {
		w, err := sinkfile.NewTapWriter(outTapFlag)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	if outBinFlag != "" {
		w := sinkfile.NewBinWriter(outBinFlag, restoreParity)
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	if dumpFlag {
		sinks = append(sinks, dump.NewWriter(os.Stdout))
	}

	closed := false
	closeAll := func() error {
		if closed {
			return nil
		}
		closed = true
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return &multiSink{sinks: sinks}, closeAll, nil
}
