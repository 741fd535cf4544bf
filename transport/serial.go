// Package transport adapts go.bug.st/serial ports to the interfaces the
// rest of the flashing engine depends on, keeping the protocol and
// orchestration layers free of any direct serial-library dependency.
package transport

import (
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/readysteadygo2006/smart.js/errkind"
)

// BaudRate is the fixed rate the ROM bootloader listens at.
const BaudRate = 9600

// SerialPort wraps a go.bug.st/serial connection to satisfy romproto.Port.
type SerialPort struct {
	port serial.Port
}

// Open opens name at the ROM bootloader's baud rate with no parity, no
// flow control, and one stop bit.
func Open(name string) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errkind.New(errkind.WiringOrPort, "transport.Open", errors.Wrapf(err, "opening %s", name))
	}
	return &SerialPort{port: port}, nil
}

func (s *SerialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialPort) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

func (s *SerialPort) SetDTR(dtr bool) error { return s.port.SetDTR(dtr) }
func (s *SerialPort) SetRTS(rts bool) error { return s.port.SetRTS(rts) }

func (s *SerialPort) ResetInputBuffer() error  { return s.port.ResetInputBuffer() }
func (s *SerialPort) ResetOutputBuffer() error { return s.port.ResetOutputBuffer() }

// Close releases the underlying OS handle.
func (s *SerialPort) Close() error { return s.port.Close() }
