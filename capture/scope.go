package capture

import (
	"fmt"
	"io"

	"github.com/google/gousb"

	"github.com/sergev/tapedecode/tape"
)

// ScopeAdapter streams samples from a USB-attached multi-channel digitizer
// (the live capture front end), grounded on its design's
// greaseweazle.Client bulk-endpoint I/O (greaseweazle/greaseweazle.go).
type ScopeAdapter struct {
	bufferedSource
}

// scopeEndpoint is the bulk IN endpoint the digitizer streams samples on.
const scopeEndpoint = 0x81

// readChunkSize bounds each bulk read while draining one capture pass.
const readChunkSize = 64 * 1024

// OpenScopeAdapter opens the USB device at vid/pid, reads one full capture
// pass of ntrks interleaved int16 channels sampled at sampleRate Hz, and
// returns a rewindable tape.SampleSource over the buffered result.
func OpenScopeAdapter(vid, pid gousb.ID, ntrks int, sampleRate float64) (*ScopeAdapter, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("capture: open USB device %s:%s: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("capture: no USB device found for %s:%s", vid, pid)
	}
	defer ctx.Close()
	defer dev.Close()

	if err := dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("capture: set auto-detach: %w", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		return nil, fmt.Errorf("capture: claim default interface: %w", err)
	}
	defer done()

	epIn, err := intf.InEndpoint(scopeEndpoint)
	if err != nil {
		return nil, fmt.Errorf("capture: open bulk IN endpoint: %w", err)
	}

	var raw []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := epIn.Read(chunk)
		if n > 0 {
			raw = append(raw, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("capture: read from scope: %w", err)
		}
		if n == 0 {
			break
		}
	}

	a := &ScopeAdapter{}
	a.samples = decodeFixedRate(raw, ntrks, sampleRate)
	return a, nil
}

var _ tape.SampleSource = (*ScopeAdapter)(nil)
