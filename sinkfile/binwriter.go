// Package sinkfile implements tape.BlockSink writers that turn decoded
// blocks into files: one raw-byte file per tape file (BinWriter), or a
// single SIMH .tap image preserving block/tapemark framing (TapWriter).
// Grounded on its per-format file writers (greaseweazle/write.go,
// supercardpro/write.go).
package sinkfile

import (
	"fmt"
	"os"

	"github.com/sergev/tapedecode/tape"
)

// BinWriter writes one file per tape file, splitting at tapemarks
//. The parity bit can be restored into each byte's MSB
// instead of being stripped, matching how some downstream tools expect a
// 9-bit-wide byte stream.
type BinWriter struct {
	dirOrPrefix string
	restoreParity bool
	fileIndex     int
	current       *os.File
}

// NewBinWriter creates a BinWriter. Files are named "<prefix>NNN.bin",
// NNN zero-padded, one per tape file delimited by tapemarks.
func NewBinWriter(prefix string, restoreParity bool) *BinWriter {
	return &BinWriter{dirOrPrefix: prefix, restoreParity: restoreParity}
}

func (w *BinWriter) openNext() error {
	if w.current != nil {
		w.current.Close()
	}
	name := fmt.Sprintf("%s%03d.bin", w.dirOrPrefix, w.fileIndex)
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("sinkfile: create %s: %w", name, err)
	}
	w.current = f
	w.fileIndex++
	return nil
}

// OnTapemark closes the current file and starts a new one.
func (w *BinWriter) OnTapemark() error {
	if w.current != nil {
		err := w.current.Close()
		w.current = nil
		if err != nil {
			return fmt.Errorf("sinkfile: close: %w", err)
		}
	}
	return nil
}

// OnBlock appends data to the current file, opening one lazily on first
// use or after a tapemark.
func (w *BinWriter) OnBlock(data []byte, kind tape.Kind, meta tape.Metadata) error {
	if w.current == nil {
		if err := w.openNext(); err != nil {
			return err
		}
	}
	out := data
	if w.restoreParity {
		out = restoreParityBit(data, meta.ParityPerByte)
	}
	if _, err := w.current.Write(out); err != nil {
		return fmt.Errorf("sinkfile: write: %w", err)
	}
	return nil
}

// OnNoise is a no-op: noise blocks carry no bytes to write.
func (w *BinWriter) OnNoise() error { return nil }

// Close closes any file left open at end of stream.
func (w *BinWriter) Close() error {
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

// restoreParityBit folds each recorded parity bit back into its byte's
// MSB, producing a 9-bits-in-8 packing only meaningful to callers that
// expect it; bytes without a recorded parity bit pass through unchanged.
func restoreParityBit(data []byte, parity []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		if i < len(parity) && parity[i] != 0 {
			out[i] = b | 0x80
		} else {
			out[i] = b &^ 0x80
		}
	}
	return out
}
