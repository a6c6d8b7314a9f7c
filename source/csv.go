// Package source provides tape.SampleSource implementations that read
// captured samples back from disk: a plain CSV format for interchange with
// other tools, and a packed binary format (TBIN) for compact storage of
// long captures. Grounded on its line-oriented and packed-binary
// format readers (hfe/read.go, supercardpro/read.go).
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/sergev/tapedecode/tape"
)

// CSVReader reads "time,v0,v1,...,v{ntrks-1}" rows into memory and replays
// them as tape.Samples, grounded on its hfe/read.go line-oriented
// parsing loop. An optional header row ("time,v0,v1,...") is detected and
// skipped.
type CSVReader struct {
	samples []tape.Sample
	cursor  int
}

// NewCSVReader parses all rows from r up front; the returned reader is
// fully rewindable.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("source: read CSV: %w", err)
	}

	out := &CSVReader{samples: make([]tape.Sample, 0, len(rows))}
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		if i == 0 && isHeaderRow(row) {
			continue
		}
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("source: CSV row %d: bad time %q: %w", i, row[0], err)
		}
		v := make([]float32, len(row)-1)
		for j := 1; j < len(row); j++ {
			f, err := strconv.ParseFloat(row[j], 32)
			if err != nil {
				return nil, fmt.Errorf("source: CSV row %d: bad voltage %q: %w", i, row[j], err)
			}
			v[j-1] = float32(f)
		}
		out.samples = append(out.samples, tape.Sample{Time: t, Voltage: v})
	}
	return out, nil
}

func isHeaderRow(row []string) bool {
	_, err := strconv.ParseFloat(row[0], 64)
	return err != nil
}

// ReadSample returns the next sample, or tape.ErrEndOfStream when exhausted.
func (c *CSVReader) ReadSample() (tape.Sample, error) {
	if c.cursor >= len(c.samples) {
		return tape.Sample{}, tape.ErrEndOfStream
	}
	s := c.samples[c.cursor]
	c.cursor++
	return s, nil
}

// SavePosition returns a Token that RestorePosition can rewind to.
func (c *CSVReader) SavePosition() (tape.Token, error) {
	return c.cursor, nil
}

// RestorePosition rewinds to a Token previously returned by SavePosition.
func (c *CSVReader) RestorePosition(tok tape.Token) error {
	idx, ok := tok.(int)
	if !ok {
		return fmt.Errorf("source: CSVReader: invalid token %T", tok)
	}
	c.cursor = idx
	return nil
}
