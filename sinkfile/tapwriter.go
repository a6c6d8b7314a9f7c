package sinkfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sergev/tapedecode/tape"
)

// SIMH .tap framing markers.
const (
	tapTapemark   = uint32(0x00000000)
	tapEndOfMedium = uint32(0xFFFFFFFF)
	tapErrorFlag  = uint32(0x80000000)
)

// TapWriter writes decoded blocks into a single SIMH .tap image: each
// record is framed by two 32-bit little-endian length words (forward and
// backward), with the error flag folded into the high bit of the length;
// odd-length records are padded with one byte so every record occupies an
// even number of bytes. Grounded on its encoding/binary framing
// in greaseweazle/read.go's N28 decoding.
type TapWriter struct {
	f *os.File
}

// NewTapWriter creates (or truncates) path and returns a TapWriter over it.
func NewTapWriter(path string) (*TapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sinkfile: create %s: %w", path, err)
	}
	return &TapWriter{f: f}, nil
}

func (w *TapWriter) writeMarker(m uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], m)
	_, err := w.f.Write(buf[:])
	return err
}

// OnTapemark writes the tapemark marker (a single 32-bit zero word).
func (w *TapWriter) OnTapemark() error {
	if err := w.writeMarker(tapTapemark); err != nil {
		return fmt.Errorf("sinkfile: write tapemark: %w", err)
	}
	return nil
}

// OnBlock writes one SIMH record: length word, data (even-padded), length
// word again. BadBlock sets the error flag in both length words.
func (w *TapWriter) OnBlock(data []byte, kind tape.Kind, meta tape.Metadata) error {
	length := uint32(len(data))
	marker := length
	if kind == tape.BadBlock {
		marker |= tapErrorFlag
	}

	if err := w.writeMarker(marker); err != nil {
		return fmt.Errorf("sinkfile: write length word: %w", err)
	}

	padded := data
	if len(data)%2 != 0 {
		padded = append(append([]byte{}, data...), 0)
	}
	if _, err := w.f.Write(padded); err != nil {
		return fmt.Errorf("sinkfile: write record data: %w", err)
	}

	if err := w.writeMarker(marker); err != nil {
		return fmt.Errorf("sinkfile: write trailing length word: %w", err)
	}
	return nil
}

// OnNoise is a no-op: SIMH .tap has no framing for an undecodable gap.
func (w *TapWriter) OnNoise() error { return nil }

// Close writes the end-of-medium marker and closes the file.
func (w *TapWriter) Close() error {
	if err := w.writeMarker(tapEndOfMedium); err != nil {
		return fmt.Errorf("sinkfile: write end-of-medium: %w", err)
	}
	return w.f.Close()
}

var _ tape.BlockSink = (*TapWriter)(nil)
var _ tape.BlockSink = (*BinWriter)(nil)
