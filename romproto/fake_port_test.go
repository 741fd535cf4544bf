package romproto

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/readysteadygo2006/smart.js/slip"
)

// fakePort is an in-memory stand-in for a serial port: writes are recorded
// verbatim, reads are served one byte at a time from a pre-loaded queue of
// response frames, and DTR/RTS toggles are logged for assertions.
type fakePort struct {
	writes  [][]byte
	toRead  []byte
	dtrLog  []bool
	rtsLog  []bool
	timeout time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.toRead) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.toRead[:1])
	p.toRead = p.toRead[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	return len(b), nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error { p.timeout = d; return nil }
func (p *fakePort) SetDTR(dtr bool) error                { p.dtrLog = append(p.dtrLog, dtr); return nil }
func (p *fakePort) SetRTS(rts bool) error                { p.rtsLog = append(p.rtsLog, rts); return nil }
func (p *fakePort) ResetInputBuffer() error               { return nil }
func (p *fakePort) ResetOutputBuffer() error              { return nil }

// queueResponse appends one well-formed response frame to the read queue.
func (p *fakePort) queueResponse(cmd byte, value [4]byte, body []byte) {
	raw := make([]byte, 0, 8+len(body))
	raw = append(raw, dirResponse, cmd)
	size := make([]byte, 2)
	binary.LittleEndian.PutUint16(size, uint16(len(body)))
	raw = append(raw, size...)
	raw = append(raw, value[:]...)
	raw = append(raw, body...)
	p.toRead = append(p.toRead, slip.Encode(raw)...)
}

// queueOK appends a response for cmd with a zero status/lastError body.
func (p *fakePort) queueOK(cmd byte) {
	p.queueResponse(cmd, [4]byte{}, []byte{0x00, 0x00})
}

// lastWritePayload strips the 8-byte header off the most recent write and
// returns the decoded payload.
func (p *fakePort) lastWritePayload() []byte {
	frame := slip.Decode(p.writes[len(p.writes)-1])
	if len(frame) < 8 {
		return nil
	}
	return frame[8:]
}
