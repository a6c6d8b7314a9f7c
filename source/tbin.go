package source

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mhr3/streamvbyte"

	"github.com/sergev/tapedecode/tape"
)

// tbinMagic identifies a TBIN sample file: the four bytes 'T','B','I','N'
// read as a little-endian uint32.
const tbinMagic = uint32('T') | uint32('B')<<8 | uint32('I')<<16 | uint32('N')<<24

// tbinHeaderLen is the fixed 8-byte header: magic(4), ntrks(1), reserved(1),
// sample rate in Hz (2).
const tbinHeaderLen = 8

// TBINReader reads the packed binary sample format: an 8-byte header
// followed by a record count, the byte length of the StreamVByte-encoded
// delta block, the encoded block itself (per-sample time deltas in
// sample-rate ticks), and an interleaved int16 voltage matrix. The
// encoded-length field lets the reader hand streamvbyte.DecodeUint32 the
// exact encoded slice it expects, since that API reports no
// "bytes consumed" count of its own. Grounded on its packed
// hardware-format readers (supercardpro/read.go, hfe/read.go); the
// delta-time block uses github.com/mhr3/streamvbyte instead of a
// hand-rolled varint reader, the way those readers lean on a
// purpose-built decoder for their own packed fields.
type TBINReader struct {
	samples []tape.Sample
	cursor  int
}

// NewTBINReader parses the whole stream up front; the returned reader is
// fully rewindable.
func NewTBINReader(r io.Reader) (*TBINReader, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("source: read TBIN: %w", err)
	}
	if len(raw) < tbinHeaderLen {
		return nil, fmt.Errorf("source: TBIN file too short for header (%d bytes)", len(raw))
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != tbinMagic {
		return nil, fmt.Errorf("source: bad TBIN magic %08x", magic)
	}
	ntrks := int(raw[4])
	if ntrks <= 0 {
		return nil, fmt.Errorf("source: TBIN header declares %d tracks", ntrks)
	}
	sampleRate := float64(binary.LittleEndian.Uint16(raw[6:8]))
	if sampleRate <= 0 {
		return nil, fmt.Errorf("source: TBIN header declares zero sample rate")
	}

	body := raw[tbinHeaderLen:]
	out := &TBINReader{}
	if len(body) < 4 {
		return out, nil
	}

	count := int(binary.LittleEndian.Uint32(body[0:4]))
	body = body[4:]
	if count == 0 {
		return out, nil
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("source: TBIN delta block length truncated")
	}
	encodedLen := int(binary.LittleEndian.Uint32(body[0:4]))
	body = body[4:]
	if len(body) < encodedLen {
		return nil, fmt.Errorf("source: TBIN delta block truncated: have %d bytes, want %d", len(body), encodedLen)
	}
	encoded := body[:encodedLen]
	body = body[encodedLen:]

	deltas := make([]uint32, count)
	deltas = streamvbyte.DecodeUint32(encoded, count, deltas)

	needBytes := count * ntrks * 2
	if len(body) < needBytes {
		return nil, fmt.Errorf("source: TBIN voltage matrix truncated: have %d bytes, want %d", len(body), needBytes)
	}

	out.samples = make([]tape.Sample, count)
	var ticks uint64
	for i := 0; i < count; i++ {
		ticks += uint64(deltas[i])
		v := make([]float32, ntrks)
		for trk := 0; trk < ntrks; trk++ {
			raw16 := int16(binary.LittleEndian.Uint16(body[2*(i*ntrks+trk):]))
			v[trk] = float32(raw16) / 32768.0
		}
		out.samples[i] = tape.Sample{Time: float64(ticks) / sampleRate, Voltage: v}
	}
	return out, nil
}

// ReadSample returns the next sample, or tape.ErrEndOfStream when exhausted.
func (t *TBINReader) ReadSample() (tape.Sample, error) {
	if t.cursor >= len(t.samples) {
		return tape.Sample{}, tape.ErrEndOfStream
	}
	s := t.samples[t.cursor]
	t.cursor++
	return s, nil
}

// SavePosition returns a Token that RestorePosition can rewind to.
func (t *TBINReader) SavePosition() (tape.Token, error) {
	return t.cursor, nil
}

// RestorePosition rewinds to a Token previously returned by SavePosition.
func (t *TBINReader) RestorePosition(tok tape.Token) error {
	idx, ok := tok.(int)
	if !ok {
		return fmt.Errorf("source: TBINReader: invalid token %T", tok)
	}
	t.cursor = idx
	return nil
}
