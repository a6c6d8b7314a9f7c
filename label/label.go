// Package label interprets IBM standard volume/header/trailer labels that
// show up as ordinary decoded blocks on tape (VOL1, HDR1/HDR2, EOF1/EOF2,
// UHL1). It is a pure post-processing consumer of decoded bytes: no other
// package in this module calls it, pe/nrzi/gcr included. Supplemented from
// original_source (LenShustek/readtape decodes these as part of its output
// pipeline); grounded in code shape on its fixed-offset header
// parsing (hfe/hfe.go's Header struct).
package label

import "strings"

// Kind identifies which standard label a block matched.
type Kind int

const (
	None Kind = iota
	VOL1
	HDR1
	HDR2
	EOF1
	EOF2
	UHL1
)

func (k Kind) String() string {
	switch k {
	case VOL1:
		return "VOL1"
	case HDR1:
		return "HDR1"
	case HDR2:
		return "HDR2"
	case EOF1:
		return "EOF1"
	case EOF2:
		return "EOF2"
	case UHL1:
		return "UHL1"
	default:
		return "none"
	}
}

// Record is the fixed-field metadata extracted from one standard label.
type Record struct {
	Kind Kind

	// VOL1
	VolumeSerial string

	// HDR1/EOF1
	DatasetID       string
	DatasetSerial   string
	VolumeSeq       string
	DatasetSeq      string
	GenerationNum   string
	VersionNum      string
	CreationDate    string
	ExpirationDate  string

	// HDR2/EOF2
	RecordFormat string
	BlockLength  string
	RecordLength string
	DensityCode  string

	// UHL1
	UserText string
}

// labelLen is the standard fixed label record length.
const labelLen = 80

// Parse recognizes a standard label prefix in a decoded block and extracts
// its fixed fields. Labels are recorded in EBCDIC on tape; block is
// translated to ASCII before field extraction. ok is false if block is not
// a recognized label (too short, or prefix doesn't match).
func Parse(block []byte) (rec Record, ok bool) {
	if len(block) < 4 {
		return Record{}, false
	}
	text := ebcdicToASCII(block)
	prefix := text[:4]

	switch prefix {
	case "VOL1":
		return parseVOL1(text), true
	case "HDR1":
		return parseHDR1(text, HDR1), true
	case "EOF1":
		return parseHDR1(text, EOF1), true
	case "HDR2":
		return parseHDR2(text, HDR2), true
	case "EOF2":
		return parseHDR2(text, EOF2), true
	case "UHL1":
		return parseUHL1(text), true
	default:
		return Record{}, false
	}
}

func field(text string, start, length int) string {
	end := start + length
	if start >= len(text) {
		return ""
	}
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimRight(text[start:end], " ")
}

// parseVOL1 extracts the volume serial number (offsets per the standard
// 80-byte VOL1 layout: bytes 4-9 are the six-character serial).
func parseVOL1(text string) Record {
	return Record{Kind: VOL1, VolumeSerial: field(text, 4, 6)}
}

// parseHDR1 extracts the dataset identifier and sequencing fields shared by
// HDR1 and EOF1.
func parseHDR1(text string, kind Kind) Record {
	return Record{
		Kind:           kind,
		DatasetID:      field(text, 4, 17),
		DatasetSerial:  field(text, 21, 6),
		VolumeSeq:      field(text, 27, 4),
		DatasetSeq:     field(text, 31, 4),
		GenerationNum:  field(text, 35, 4),
		VersionNum:     field(text, 39, 2),
		CreationDate:   field(text, 41, 6),
		ExpirationDate: field(text, 47, 6),
	}
}

// parseHDR2 extracts the record/block format fields shared by HDR2 and
// EOF2.
func parseHDR2(text string, kind Kind) Record {
	return Record{
		Kind:         kind,
		RecordFormat: field(text, 4, 1),
		BlockLength:  field(text, 5, 5),
		RecordLength: field(text, 10, 5),
		DensityCode:  field(text, 54, 1),
	}
}

// parseUHL1 keeps the remainder of the label as free-form user text; the
// standard imposes no fixed fields past the 4-byte prefix.
func parseUHL1(text string) Record {
	return Record{Kind: UHL1, UserText: field(text, 4, labelLen-4)}
}

// ebcdicToASCII translates IBM EBCDIC (code page 037-ish, the subset used
// by standard labels: digits, uppercase letters, space) to ASCII. Bytes
// outside the mapped subset pass through as '?' so unexpected content
// doesn't corrupt surrounding fixed-field offsets.
func ebcdicToASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if a, ok := ebcdicTable[c]; ok {
			out[i] = a
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}

var ebcdicTable = buildEBCDICTable()

func buildEBCDICTable() map[byte]byte {
	t := map[byte]byte{0x40: ' '}
	digits := "0123456789"
	digitCodes := []byte{0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7, 0xF8, 0xF9}
	for i, c := range digitCodes {
		t[c] = digits[i]
	}
	upperRuns := []struct {
		start byte
		chars string
	}{
		{0xC1, "ABCDEFGHI"},
		{0xD1, "JKLMNOPQR"},
		{0xE2, "STUVWXYZ"},
	}
	for _, run := range upperRuns {
		for i := 0; i < len(run.chars); i++ {
			t[run.start+byte(i)] = run.chars[i]
		}
	}
	return t
}
