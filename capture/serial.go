package capture

import (
	"fmt"
	"strconv"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/tapedecode/tape"
)

// SerialAdapter streams samples from a simpler serial-attached ADC front
// end, grounded on its cmd/root.go findAdapter
// VID/PID probing loop.
type SerialAdapter struct {
	bufferedSource
}

// FindSerialAdapter scans serial ports for one matching vid/pid (hex
// strings as reported by the OS, e.g. "1209"), mirroring cmd/root.go's
// findAdapter.
func FindSerialAdapter(vid, pid string, ntrks int, sampleRate float64) (*SerialAdapter, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("capture: list serial ports: %w", err)
	}
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		if !matchesID(port.VID, vid) || !matchesID(port.PID, pid) {
			continue
		}
		return OpenSerialAdapter(port.Name, ntrks, sampleRate)
	}
	return nil, fmt.Errorf("capture: no serial ADC found for VID=%s PID=%s", vid, pid)
}

func matchesID(portID, want string) bool {
	a, err1 := strconv.ParseUint(portID, 16, 16)
	b, err2 := strconv.ParseUint(want, 16, 16)
	return err1 == nil && err2 == nil && a == b
}

// serialBaudRate matches the fixed rate the ADC firmware wakes up at.
const serialBaudRate = 115200

// OpenSerialAdapter opens the named serial port, reads one full capture
// pass of ntrks interleaved int16 channels sampled at sampleRate Hz until
// a read times out with no data, and returns a rewindable
// tape.SampleSource. Any read error, EOF included, aborts the capture.
func OpenSerialAdapter(portName string, ntrks int, sampleRate float64) (*SerialAdapter, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: serialBaudRate})
	if err != nil {
		return nil, fmt.Errorf("capture: open serial port %s: %w", portName, err)
	}
	defer port.Close()

	// The ADC firmware stops transmitting once its capture buffer drains;
	// a read timeout turns that silence into end-of-stream instead of an
	// indefinite block.
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		return nil, fmt.Errorf("capture: set read timeout: %w", err)
	}

	var raw []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			raw = append(raw, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("capture: read from serial ADC: %w", err)
		}
		if n == 0 {
			break
		}
	}

	a := &SerialAdapter{}
	a.samples = decodeFixedRate(raw, ntrks, sampleRate)
	return a, nil
}

var _ tape.SampleSource = (*SerialAdapter)(nil)
