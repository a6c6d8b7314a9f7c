// Package capture provides live tape.SampleSource implementations that
// read directly from digitizer hardware instead of a file, grounded on the
// teacher's USB/serial adapter code (greaseweazle/greaseweazle.go,
// cmd/root.go's findAdapter). Both adapters buffer a full capture pass in
// memory before returning, so the result is rewindable (the design: "if it
// is not rewindable, only the first attempt's result is used").
package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/sergev/tapedecode/tape"
)

// decodeFixedRate turns a raw byte buffer of int16 voltage records, spaced
// at a fixed sample period, into tape.Samples. Each record is ntrks
// little-endian int16 values.
func decodeFixedRate(buf []byte, ntrks int, sampleRate float64) []tape.Sample {
	recordLen := ntrks * 2
	n := len(buf) / recordLen
	samples := make([]tape.Sample, n)
	dt := 1.0 / sampleRate
	for i := 0; i < n; i++ {
		v := make([]float32, ntrks)
		rec := buf[i*recordLen:]
		for trk := 0; trk < ntrks; trk++ {
			raw := int16(binary.LittleEndian.Uint16(rec[2*trk:]))
			v[trk] = float32(raw) / 32768.0
		}
		samples[i] = tape.Sample{Time: float64(i) * dt, Voltage: v}
	}
	return samples
}

// bufferedSource replays a fully-captured pass, shared by ScopeAdapter and
// SerialAdapter once their device-specific acquisition is done.
type bufferedSource struct {
	samples []tape.Sample
	cursor  int
}

func (b *bufferedSource) ReadSample() (tape.Sample, error) {
	if b.cursor >= len(b.samples) {
		return tape.Sample{}, tape.ErrEndOfStream
	}
	s := b.samples[b.cursor]
	b.cursor++
	return s, nil
}

func (b *bufferedSource) SavePosition() (tape.Token, error) {
	return b.cursor, nil
}

func (b *bufferedSource) RestorePosition(tok tape.Token) error {
	idx, ok := tok.(int)
	if !ok {
		return fmt.Errorf("capture: invalid token %T", tok)
	}
	b.cursor = idx
	return nil
}
