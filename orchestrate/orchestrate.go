// Package orchestrate implements BlockOrchestrator (the design,
// component C11): the multi-try driver loop that runs SampleEngine
// against successive ParameterSets, scores each attempt, and re-runs the
// winner so the in-memory block reflects the chosen decoding before it is
// handed to the output sink. Grounded on its cmd/read.go, which
// drives the same seek/retry-across-cylinders shape for a flaky medium.
package orchestrate

import (
	"errors"
	"fmt"

	"github.com/sergev/tapedecode/engine"
	"github.com/sergev/tapedecode/gcr"
	"github.com/sergev/tapedecode/nrzi"
	"github.com/sergev/tapedecode/params"
	"github.com/sergev/tapedecode/pe"
	"github.com/sergev/tapedecode/tape"
	"github.com/sergev/tapedecode/tlog"
)

// Config bundles the run-time options that do not change across blocks
// (the design, configuration knobs).
type Config struct {
	Mode           tape.Format
	Ntrks          int
	BPI            float64
	IPS            float64
	SampleDt       float64
	ExpectedParity int
	AddParity      bool
	Deskew         bool
	MultiTry       bool
	DeskewDelays   []int
}

// Orchestrator runs the BlockOrchestrator driver loop against one
// SampleSource, one ParameterStore, and one BlockSink.
type Orchestrator struct {
	cfg     Config
	sets    []params.Set
	source  tape.SampleSource
	sink    tape.BlockSink
	nominal float64
}

// New creates an Orchestrator. sets is the ParameterStore's ordered list
// for the active format.
func New(cfg Config, sets []params.Set, source tape.SampleSource, sink tape.BlockSink) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		sets:    sets,
		source:  source,
		sink:    sink,
		nominal: bitspace(cfg.BPI, cfg.IPS, cfg.Mode),
	}
}

func bitspace(bpi, ips float64, mode tape.Format) float64 {
	if bpi <= 0 || ips <= 0 {
		return 0
	}
	cell := 1.0 / (bpi * ips)
	if mode == tape.PE {
		return cell // PE clock tracks half-cell transitions; decoders apply their own /2 where needed
	}
	return cell
}

func (o *Orchestrator) newDecoder(ps params.Set) tape.Decoder {
	switch o.cfg.Mode {
	case tape.PE:
		return pe.New(o.cfg.Ntrks, ps, o.cfg.ExpectedParity, o.nominal)
	case tape.NRZI:
		return nrzi.New(o.cfg.Ntrks, ps, o.cfg.ExpectedParity, o.nominal)
	case tape.GCR:
		return gcr.New(o.cfg.Ntrks, ps, o.cfg.ExpectedParity, o.nominal)
	default:
		panic(fmt.Sprintf("orchestrate: unknown format %v", o.cfg.Mode))
	}
}

// attempt is one (block, parameter_set) run's outcome.
type attempt struct {
	set    params.Set
	result *tape.Result
}

// DecodeOneBlock runs the full driver loop for one block (the design,
// steps 1-9): save position, try parameter sets in order until a perfect
// decode or the list is exhausted, pick the best attempt by priority, and
// replay the winner so the emitted bytes are reflect its decoding.
func (o *Orchestrator) DecodeOneBlock() error {
	startToken, err := o.source.SavePosition()
	if err != nil {
		return fmt.Errorf("orchestrate: save position: %w", err)
	}

	var attempts []attempt
	var winnerIdx = -1

	order := tryOrder(o.sets)
	for _, idx := range order {
		ps := o.sets[idx]
		if err := o.source.RestorePosition(startToken); err != nil {
			return fmt.Errorf("orchestrate: restore position: %w", err)
		}

		decoder := o.newDecoder(ps)
		eng := engine.New(o.cfg.Ntrks, decoder, ps, o.cfg.BPI, o.cfg.IPS, o.cfg.SampleDt, o.deskewDelaysFor())

		r, runErr := o.runToEndOfBlock(eng)
		if runErr != nil {
			// The source ran out before this attempt reached an end of
			// block, and no parameter set can change that, so stop trying
			// and let the caller see end-of-stream directly. A partial
			// block at the end of the stream is not emitted.
			return runErr
		}
		r.Tries = len(attempts) + 1
		attempts = append(attempts, attempt{set: ps, result: r})

		if r.Kind == tape.Tapemark || (r.Kind == tape.Block && r.ErrCount() == 0 && r.WarnCount() == 0) {
			winnerIdx = len(attempts) - 1
			break
		}

		if !o.cfg.MultiTry {
			break
		}
		if r.Kind == tape.Noise {
			break // noise never improves by trying another parameter set
		}
	}

	if len(attempts) == 0 {
		tlog.Warnf("orchestrate: no parameter sets available for format %v", o.cfg.Mode)
		return nil
	}
	if winnerIdx < 0 {
		winnerIdx = bestAttempt(attempts)
	}
	winner := attempts[winnerIdx]

	if winnerIdx != len(attempts)-1 {
		if err := o.source.RestorePosition(startToken); err != nil {
			return fmt.Errorf("orchestrate: restore position for replay: %w", err)
		}
		decoder := o.newDecoder(winner.set)
		eng := engine.New(o.cfg.Ntrks, decoder, winner.set, o.cfg.BPI, o.cfg.IPS, o.cfg.SampleDt, o.deskewDelaysFor())
		r, runErr := o.runToEndOfBlock(eng)
		if runErr != nil {
			return runErr
		}
		winner.result = r
	}

	return o.emit(winner.result)
}

func (o *Orchestrator) deskewDelaysFor() []int {
	if !o.cfg.Deskew || o.cfg.Mode == tape.PE {
		return nil
	}
	return o.cfg.DeskewDelays
}

// runToEndOfBlock feeds samples to eng until it reports a non-None kind.
// If the source is exhausted first, it returns tape.ErrEndOfStream.
func (o *Orchestrator) runToEndOfBlock(eng *engine.Engine) (*tape.Result, error) {
	for {
		s, err := o.source.ReadSample()
		if err != nil {
			if errors.Is(err, tape.ErrEndOfStream) {
				return nil, err
			}
			return nil, fmt.Errorf("orchestrate: read sample: %w", err)
		}
		if kind := eng.ProcessSample(s); kind != tape.None {
			return eng.LastResult(), nil
		}
	}
}

// tryOrder starts with the active parameter set, then visits the rest in
// their stored order (the design steps 2 and 6: "select the starting
// active parameter set" ... "find the next unused parmset").
func tryOrder(sets []params.Set) []int {
	order := make([]int, 0, len(sets))
	activeIdx := -1
	for i, ps := range sets {
		if ps.Active {
			activeIdx = i
			break
		}
	}
	if activeIdx < 0 {
		activeIdx = 0
	}
	order = append(order, activeIdx)
	for i := range sets {
		if i != activeIdx {
			order = append(order, i)
		}
	}
	return order
}

// bestAttempt implements the design step 7's priority order: (i) Block
// with errcount==0, minimum warncount; (ii) Block, minimum errcount;
// (iii) BadBlock, minimum track mismatch; (iv) first Noise.
func bestAttempt(attempts []attempt) int {
	best := -1
	for i, a := range attempts {
		if a.result.Kind == tape.Block && a.result.ErrCount() == 0 {
			if best < 0 || a.result.WarnCount() < attempts[best].result.WarnCount() {
				best = i
			}
		}
	}
	if best >= 0 {
		return best
	}
	for i, a := range attempts {
		if a.result.Kind == tape.Block {
			if best < 0 || a.result.ErrCount() < attempts[best].result.ErrCount() {
				best = i
			}
		}
	}
	if best >= 0 {
		return best
	}
	for i, a := range attempts {
		if a.result.Kind == tape.BadBlock {
			if best < 0 || a.result.Errors.TrackMismatch < attempts[best].result.Errors.TrackMismatch {
				best = i
			}
		}
	}
	if best >= 0 {
		return best
	}
	for i, a := range attempts {
		if a.result.Kind == tape.Noise {
			return i
		}
	}
	return 0
}

func (o *Orchestrator) emit(r *tape.Result) error {
	switch r.Kind {
	case tape.Tapemark:
		return o.sink.OnTapemark()
	case tape.Noise:
		return o.sink.OnNoise()
	case tape.Block, tape.BadBlock:
		return o.sink.OnBlock(r.Bytes, r.Kind, r.ToMetadata())
	default:
		return nil
	}
}
