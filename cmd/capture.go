package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/sergev/tapedecode/capture"
	"github.com/sergev/tapedecode/tape"
)

var (
	captureUSBFlag    bool
	captureVIDFlag    uint16
	capturePIDFlag    uint16
	captureSampleRate float64
)

var captureCmd = &cobra.Command{
	Use:   "capture OUTFILE",
	Short: "Record a live pass from an attached digitizer to a CSV sample file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src tape.SampleSource
		var err error
		if captureUSBFlag {
			src, err = capture.OpenScopeAdapter(gousb.ID(captureVIDFlag), gousb.ID(capturePIDFlag), runCfg.Ntrks, captureSampleRate)
		} else {
			vid := fmt.Sprintf("%04x", captureVIDFlag)
			pid := fmt.Sprintf("%04x", capturePIDFlag)
			src, err = capture.FindSerialAdapter(vid, pid, runCfg.Ntrks, captureSampleRate)
		}
		if err != nil {
			return err
		}

		return writeCaptureCSV(args[0], src, runCfg.Ntrks)
	},
}

func init() {
	captureCmd.Flags().BoolVar(&captureUSBFlag, "usb", true, "use the USB-attached digitizer instead of a serial ADC")
	captureCmd.Flags().Uint16Var(&captureVIDFlag, "vid", 0x1209, "digitizer USB vendor ID")
	captureCmd.Flags().Uint16Var(&capturePIDFlag, "pid", 0x0001, "digitizer USB product ID")
	captureCmd.Flags().Float64Var(&captureSampleRate, "sample-rate", 1_000_000, "capture sample rate in Hz")
	rootCmd.AddCommand(captureCmd)
}

// writeCaptureCSV drains src (already buffered in memory by the capture
// adapters) into the same "time,v0,v1,..." format source.NewCSVReader
// reads back, so a captured pass can be replayed through decode without a
// second on-disk format.
func writeCaptureCSV(path string, src tape.SampleSource, ntrks int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cmd: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, ntrks+1)
	header[0] = "time"
	for i := 0; i < ntrks; i++ {
		header[i+1] = fmt.Sprintf("v%d", i)
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("cmd: write CSV header: %w", err)
	}

	row := make([]string, ntrks+1)
	for {
		s, err := src.ReadSample()
		if err != nil {
			if err == tape.ErrEndOfStream {
				break
			}
			return fmt.Errorf("cmd: read captured sample: %w", err)
		}
		row[0] = strconv.FormatFloat(s.Time, 'g', -1, 64)
		for i := 0; i < ntrks && i < len(s.Voltage); i++ {
			row[i+1] = strconv.FormatFloat(float64(s.Voltage[i]), 'g', -1, 32)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("cmd: write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
