// Package cmd is the command-line front end: a cobra.Command tree wiring
// the external collaborators (source, capture, orchestrate, sinkfile,
// dump) into three subcommands. Grounded on its design's
// cmd/root.go persistent-flag/PersistentPreRun shape, generalized from
// "find a USB floppy adapter" to "resolve a run configuration and a
// parameter store".
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sergev/tapedecode/config"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/source"
	"github.com/sergev/tapedecode/tape"
	"github.com/sergev/tapedecode/tlog"
)

var (
	paramsFile     string
	modeFlag       string
	ntrksFlag      int
	bpiFlag        float64
	ipsFlag        float64
	expectedParity int
	addParityFlag  bool
	deskewFlag     bool
	multiTryFlag   bool
	skipSamples    int
	verboseCount   int

	runCfg     config.Config
	activeSets []params.Set
)

var rootCmd = &cobra.Command{
	Use:   "tapedecode",
	Short: "Reconstruct digital tape data from oscilloscope-style head voltage captures",
	Long: "tapedecode reconstructs the digital bytes recorded on half-inch multi-track\n" +
		"magnetic tape from an analog voltage capture of the read heads, in PE, NRZI,\n" +
		"or GCR encoding.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		tlog.SetVerbose(verboseCount)

		mode, err := config.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		runCfg = config.Config{
			Mode:           mode,
			Ntrks:          ntrksFlag,
			BPI:            bpiFlag,
			IPS:            ipsFlag,
			ExpectedParity: expectedParity,
			AddParity:      addParityFlag,
			Deskew:         deskewFlag,
			MultiTry:       multiTryFlag,
			SkipSamples:    skipSamples,
		}
		if err := runCfg.Validate(); err != nil {
			return err
		}

		sets, err := params.LoadOrCreate(paramsFile, defaultsForMode(mode))
		if err != nil {
			return err
		}
		activeSets = sets
		return nil
	},
}

// defaultsForMode returns the compiled-in parameter ladder for mode.
func defaultsForMode(mode tape.Format) []params.Set {
	switch mode {
	case tape.PE:
		return params.DefaultsPE()
	case tape.NRZI:
		return params.DefaultsNRZI()
	case tape.GCR:
		return params.DefaultsGCR()
	default:
		return nil
	}
}

// defaultParamsFile mirrors its per-user config location
// (~/.floppy), moved to ~/.tapedecode/params.toml for this project.
func defaultParamsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "params.toml"
	}
	return filepath.Join(home, ".tapedecode", "params.toml")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "pe", "encoding mode: pe, nrzi, or gcr")
	rootCmd.PersistentFlags().IntVar(&ntrksFlag, "ntrks", 9, "number of tracks, including parity")
	rootCmd.PersistentFlags().Float64Var(&bpiFlag, "bpi", 1600, "recording density in bits per inch")
	rootCmd.PersistentFlags().Float64Var(&ipsFlag, "ips", 50, "tape speed in inches per second")
	rootCmd.PersistentFlags().IntVar(&expectedParity, "expected-parity", 1, "expected vertical parity (0=even, 1=odd)")
	rootCmd.PersistentFlags().BoolVar(&addParityFlag, "add-parity", false, "stored in the run configuration; no decoder or output writer reads it")
	rootCmd.PersistentFlags().BoolVar(&deskewFlag, "deskew", false, "apply per-track sample delays before decoding")
	rootCmd.PersistentFlags().BoolVar(&multiTryFlag, "multi-try", true, "retry a block under every parameter set until one decodes cleanly")
	rootCmd.PersistentFlags().IntVar(&skipSamples, "skip-samples", 0, "skip this many leading samples before decoding starts")
	rootCmd.PersistentFlags().StringVar(&paramsFile, "params", defaultParamsFile(), "parameter file (created from built-in defaults if missing)")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase log verbosity")
}

// Execute runs the command tree; the program's main package calls this.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func openSampleFile(path string) (tape.SampleSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cmd: open %s: %w", path, err)
	}
	defer f.Close()

	switch ext := filepath.Ext(path); ext {
	case ".tbin":
		return source.NewTBINReader(f)
	default:
		return source.NewCSVReader(f)
	}
}
