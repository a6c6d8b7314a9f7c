package capture

import (
	"encoding/binary"
	"testing"

	"github.com/sergev/tapedecode/tape"
)

func TestDecodeFixedRateSplitsChannelsAndScalesVoltage(t *testing.T) {
	buf := make([]byte, 2*2*2) // 2 records, 2 tracks, 2 bytes each
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(-16384)))
	binary.LittleEndian.PutUint16(buf[4:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(buf[6:], uint16(int16(32767)))

	samples := decodeFixedRate(buf, 2, 1000)
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0].Voltage[0] != 0.5 || samples[0].Voltage[1] != -0.5 {
		t.Fatalf("sample 0 = %+v, want [0.5 -0.5]", samples[0].Voltage)
	}
	if samples[1].Time != 0.001 {
		t.Fatalf("sample 1 time = %v, want 0.001", samples[1].Time)
	}
}

func TestDecodeFixedRateTruncatesPartialTrailingRecord(t *testing.T) {
	buf := make([]byte, 5) // one full 4-byte record (2 tracks) plus 1 stray byte
	samples := decodeFixedRate(buf, 2, 1000)
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
}

func TestBufferedSourceRewinds(t *testing.T) {
	b := &bufferedSource{samples: []tape.Sample{
		{Time: 0}, {Time: 1}, {Time: 2},
	}}
	if _, err := b.ReadSample(); err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	tok, err := b.SavePosition()
	if err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	b.ReadSample()
	b.ReadSample()
	if _, err := b.ReadSample(); err != tape.ErrEndOfStream {
		t.Fatal("expected ErrEndOfStream")
	}
	if err := b.RestorePosition(tok); err != nil {
		t.Fatalf("RestorePosition: %v", err)
	}
	s, err := b.ReadSample()
	if err != nil || s.Time != 1 {
		t.Fatalf("ReadSample after rewind = %+v, %v", s, err)
	}
}
