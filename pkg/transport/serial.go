package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when DialSerial is given a non-positive rate.
const DefaultBaudRate = 115200

// DialSerial opens the serial device at path as a Stream. The port read
// timeout equals the poll interval so reads never block indefinitely.
func DialSerial(path string, baud int, opts ...Option) (*Stream, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	o := buildOptions(opts)
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if err := port.SetReadTimeout(o.poll); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	s, err := NewStream(port, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	o.logger.Debug("serial transport opened", "path", path, "baud", baud)
	return s, nil
}
