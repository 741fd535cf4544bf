// Package romproto speaks the ESP8266 ROM bootloader's serial protocol: SLIP
// framed request/response packets, the sync handshake, register reads and
// the flash/RAM upload commands the bootloader understands.
package romproto

import "time"

// Port is the minimal surface romproto needs from a serial connection. A
// concrete transport (see the transport package) adapts a real port to it;
// tests adapt an in-memory byte pipe instead.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}
