package source

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mhr3/streamvbyte"

	"github.com/sergev/tapedecode/tape"
)

func tbinHeader(ntrks int, sampleRate uint16) []byte {
	h := make([]byte, tbinHeaderLen)
	binary.LittleEndian.PutUint32(h[0:4], tbinMagic)
	h[4] = byte(ntrks)
	h[5] = 0
	binary.LittleEndian.PutUint16(h[6:8], sampleRate)
	return h
}

func TestTBINReaderRejectsShortHeader(t *testing.T) {
	if _, err := NewTBINReader(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("expected an error for a file shorter than the header")
	}
}

func TestTBINReaderRejectsBadMagic(t *testing.T) {
	h := tbinHeader(2, 1000)
	h[0] = 'X'
	if _, err := NewTBINReader(bytes.NewReader(h)); err == nil {
		t.Fatal("expected an error for a bad magic")
	}
}

func TestTBINReaderRejectsZeroSampleRate(t *testing.T) {
	h := tbinHeader(2, 0)
	if _, err := NewTBINReader(bytes.NewReader(h)); err == nil {
		t.Fatal("expected an error for a zero sample rate")
	}
}

func TestTBINReaderHandlesEmptyBody(t *testing.T) {
	h := tbinHeader(2, 1000)
	r, err := NewTBINReader(bytes.NewReader(h))
	if err != nil {
		t.Fatalf("NewTBINReader: %v", err)
	}
	if _, err := r.ReadSample(); err != tape.ErrEndOfStream {
		t.Fatal("expected ErrEndOfStream for a header-only file")
	}
}

func TestTBINReaderDecodesDeltasAndVoltages(t *testing.T) {
	ntrks := 2
	sampleRate := uint16(1000)
	deltas := []uint32{0, 10, 20, 5}
	encoded := streamvbyte.EncodeUint32(deltas, nil)

	var buf bytes.Buffer
	buf.Write(tbinHeader(ntrks, sampleRate))

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(deltas)))
	buf.Write(countBuf[:])

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	buf.Write(lenBuf[:])
	buf.Write(encoded)

	for i := 0; i < len(deltas); i++ {
		for trk := 0; trk < ntrks; trk++ {
			var v [2]byte
			binary.LittleEndian.PutUint16(v[:], uint16(int16((i+1)*1000+trk)))
			buf.Write(v[:])
		}
	}

	r, err := NewTBINReader(&buf)
	if err != nil {
		t.Fatalf("NewTBINReader: %v", err)
	}

	var wantTicks uint64
	for i, d := range deltas {
		wantTicks += uint64(d)
		s, err := r.ReadSample()
		if err != nil {
			t.Fatalf("ReadSample %d: %v", i, err)
		}
		wantTime := float64(wantTicks) / float64(sampleRate)
		if s.Time != wantTime {
			t.Fatalf("sample %d: Time = %v, want %v", i, s.Time, wantTime)
		}
		if len(s.Voltage) != ntrks {
			t.Fatalf("sample %d: got %d tracks, want %d", i, len(s.Voltage), ntrks)
		}
	}
	if _, err := r.ReadSample(); err != tape.ErrEndOfStream {
		t.Fatal("expected ErrEndOfStream after the last sample")
	}
}

func TestTBINReaderHandlesZeroRecordCount(t *testing.T) {
	h := tbinHeader(2, 1000)
	body := make([]byte, 4) // record count = 0
	buf := append(h, body...)
	r, err := NewTBINReader(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("NewTBINReader: %v", err)
	}
	if _, err := r.ReadSample(); err != tape.ErrEndOfStream {
		t.Fatal("expected ErrEndOfStream for a zero-record file")
	}
}
