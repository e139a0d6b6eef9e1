package amp

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the narrow view of the serial transport the client needs. A read
// that hits the configured timeout returns (0, nil). go.bug.st/serial ports
// satisfy this interface.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// OpenPort opens the amplifier serial device at 8N1 with a bounded read
// timeout.
func OpenPort(device string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}
