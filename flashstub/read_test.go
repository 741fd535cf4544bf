package flashstub

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/readysteadygo2006/smart.js/romproto"
	"github.com/readysteadygo2006/smart.js/slip"
)

type fakePort struct {
	toRead []byte
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.toRead) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.toRead[:1])
	p.toRead = p.toRead[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error)          { return len(b), nil }
func (p *fakePort) SetReadTimeout(d time.Duration) error { return nil }
func (p *fakePort) SetDTR(dtr bool) error                { return nil }
func (p *fakePort) SetRTS(rts bool) error                { return nil }
func (p *fakePort) ResetInputBuffer() error              { return nil }
func (p *fakePort) ResetOutputBuffer() error             { return nil }

func (p *fakePort) queueOKResponse(cmd byte) {
	raw := []byte{0x01, cmd, 0x02, 0x00, 0, 0, 0, 0, 0x00, 0x00}
	p.toRead = append(p.toRead, slip.Encode(raw)...)
}

func (p *fakePort) queueSyncBurst() {
	for i := 0; i < 8; i++ {
		p.queueOKResponse(romproto.CmdSync)
	}
}

func (p *fakePort) queueRawFrame(data []byte) {
	p.toRead = append(p.toRead, slip.Encode(data)...)
}

func TestReadHappyPath(t *testing.T) {
	port := &fakePort{}
	port.queueOKResponse(romproto.CmdFlashBegin) // init flash
	port.queueOKResponse(romproto.CmdMemBegin)
	port.queueOKResponse(romproto.CmdMemData)
	port.queueOKResponse(romproto.CmdMemEnd)

	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, 0xE9000205)
	port.queueRawFrame(want)
	port.queueSyncBurst()

	client := romproto.NewClient(port)
	boot := romproto.NewBootController(port, client)

	got, err := Read(client, boot, 0, 4)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
}

func TestReadFailsOnShortStubOutput(t *testing.T) {
	port := &fakePort{}
	port.queueOKResponse(romproto.CmdFlashBegin)
	port.queueOKResponse(romproto.CmdMemBegin)
	port.queueOKResponse(romproto.CmdMemData)
	port.queueOKResponse(romproto.CmdMemEnd)
	port.queueRawFrame([]byte{0x01, 0x02})

	client := romproto.NewClient(port)
	boot := romproto.NewBootController(port, client)

	if _, err := Read(client, boot, 0, 4); err == nil {
		t.Fatalf("expected Read() to fail on a short stub reply")
	}
}
