// Package dump renders decoded blocks as a human-readable text dump: hex
// and EBCDIC/ASCII side-by-side, under a header with the block kind,
// length, error/warning counts and average bit spacing. The parameter-set
// name that produced the block is not shown. Grounded on its design's
// hfe/verify.go diagnostic comparison output, adapted from "compare two
// sector streams and report a mismatch" to "render one decoded block".
package dump

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergev/tapedecode/tape"
)

// Writer implements tape.BlockSink, writing one text record per block to
// out.
type Writer struct {
	out   io.Writer
	index int
}

// NewWriter creates a Writer over out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// OnTapemark writes a one-line tapemark marker.
func (w *Writer) OnTapemark() error {
	_, err := fmt.Fprintf(w.out, "[%4d] TAPEMARK\n", w.index)
	w.index++
	return err
}

// OnNoise writes a one-line noise marker.
func (w *Writer) OnNoise() error {
	_, err := fmt.Fprintf(w.out, "[%4d] NOISE\n", w.index)
	w.index++
	return err
}

// OnBlock writes the block header and a hex+EBCDIC/ASCII dump.
func (w *Writer) OnBlock(data []byte, kind tape.Kind, meta tape.Metadata) error {
	if _, err := fmt.Fprintf(w.out, "[%4d] %s len=%d errs=%d warns=%d avg_bitspace=%.3e\n",
		w.index, kind, len(data), meta.ErrCount, meta.WarnCount, meta.AvgBitSpacing); err != nil {
		return err
	}
	w.index++
	if len(data) == 0 {
		return nil
	}
	return writeHexDump(w.out, data)
}

const bytesPerLine = 16

func writeHexDump(out io.Writer, data []byte) error {
	for off := 0; off < len(data); off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		hex := make([]string, bytesPerLine)
		for i := range hex {
			if i < len(row) {
				hex[i] = fmt.Sprintf("%02x", row[i])
			} else {
				hex[i] = "  "
			}
		}

		var ascii, ebcdic strings.Builder
		for _, b := range row {
			ascii.WriteByte(printableOrDot(b))
			ebcdic.WriteByte(printableOrDot(ebcdicToASCIIByte(b)))
		}

		if _, err := fmt.Fprintf(out, "%08x  %s  |%-16s| %s\n",
			off, strings.Join(hex, " "), ascii.String(), ebcdic.String()); err != nil {
			return err
		}
	}
	return nil
}

func printableOrDot(b byte) byte {
	if b >= 0x20 && b < 0x7f {
		return b
	}
	return '.'
}

// ebcdicToASCIIByte translates one EBCDIC byte to its ASCII equivalent for
// the subset of code page 037 that standard tape labels and text data use
// (digits, lowercase and uppercase letters, space); bytes outside that subset map to 0
// so printableOrDot renders them as '.'.
func ebcdicToASCIIByte(b byte) byte {
	if a, ok := ebcdicTable[b]; ok {
		return a
	}
	return 0
}

var ebcdicTable = buildEBCDICTable()

func buildEBCDICTable() map[byte]byte {
	t := map[byte]byte{0x40: ' '}
	digits := "0123456789"
	digitCodes := []byte{0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7, 0xF8, 0xF9}
	for i, c := range digitCodes {
		t[c] = digits[i]
	}
	lowerRuns := []struct {
		start byte
		chars string
	}{
		{0x81, "abcdefghi"},
		{0x91, "jklmnopqr"},
		{0xA2, "stuvwxyz"},
	}
	upperRuns := []struct {
		start byte
		chars string
	}{
		{0xC1, "ABCDEFGHI"},
		{0xD1, "JKLMNOPQR"},
		{0xE2, "STUVWXYZ"},
	}
	for _, run := range append(lowerRuns, upperRuns...) {
		for i := 0; i < len(run.chars); i++ {
			t[run.start+byte(i)] = run.chars[i]
		}
	}
	return t
}

var _ tape.BlockSink = (*Writer)(nil)
