package romproto

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/readysteadygo2006/smart.js/errkind"
	"github.com/readysteadygo2006/smart.js/slip"
)

const defaultReadTimeout = 200 * time.Millisecond

// Client drives one ROM monitor session over a Port. It is not safe for
// concurrent use; callers that need exclusivity across a whole flashing run
// serialize at a higher layer.
type Client struct {
	port Port
}

// NewClient wraps an already-open Port.
func NewClient(port Port) *Client {
	return &Client{port: port}
}

func (c *Client) send(cmd byte, payload []byte, checksum byte) error {
	frame := append(header(cmd, len(payload), checksum), payload...)
	_, err := c.port.Write(slip.Encode(frame))
	if err != nil {
		return errkind.New(errkind.WiringOrPort, "romproto.send", err)
	}
	return nil
}

// readResponse reads one framed response, setting timeout as the port's
// read timeout, which bounds the wait for each byte of the frame rather
// than the frame as a whole.
func (c *Client) readResponse(timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	c.port.SetReadTimeout(timeout)
	frame := slip.ReadFrame(c.port)
	return parseResponse(frame)
}

// ReadRawFrame reads one raw, already-unstuffed SLIP frame without trying
// to interpret it as a Response. It is used to receive the flash-read
// stub's payload, which is not shaped like a normal command reply.
func (c *Client) ReadRawFrame(timeout time.Duration) []byte {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	c.port.SetReadTimeout(timeout)
	return slip.ReadFrame(c.port)
}

// Sync sends one SYNC command and requires all 8 of the bootloader's
// characteristic burst-reply frames to parse as valid responses.
func (c *Client) Sync() error {
	payload := append([]byte{0x07, 0x07, 0x12, 0x20}, repeat(0x55, 32)...)
	if err := c.send(CmdSync, payload, 0); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		resp := c.readResponse(defaultReadTimeout)
		if !resp.Valid {
			return errkind.New(errkind.WiringOrPort, "romproto.Sync", errors.New("incomplete sync burst"))
		}
	}
	return nil
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// ReadRegister issues a READ_REG command and returns the 4-byte value the
// bootloader read back.
func (c *Client) ReadRegister(addr uint32) ([]byte, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, addr)
	if err := c.send(CmdReadReg, payload, 0); err != nil {
		return nil, err
	}
	resp := c.readResponse(defaultReadTimeout)
	if !resp.Valid || resp.Command != CmdReadReg {
		return nil, errkind.New(errkind.ProtocolFraming, "romproto.ReadRegister", errors.Errorf("unexpected response to read_reg(0x%x)", addr))
	}
	if resp.Status != 0 {
		return nil, errkind.New(errkind.MonitorStatus, "romproto.ReadRegister", errors.Errorf("bad status %d", resp.Status))
	}
	return resp.Value, nil
}

// FlashBegin issues FLASH_BEGIN, telling the bootloader how many bytes to
// erase, how many WriteBlockSize blocks are coming, and where they land.
func (c *Client) FlashBegin(eraseSize, numBlocks, blockSize, offset uint32) error {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint32(payload[0:4], eraseSize)
	binary.LittleEndian.PutUint32(payload[4:8], numBlocks)
	binary.LittleEndian.PutUint32(payload[8:12], blockSize)
	binary.LittleEndian.PutUint32(payload[12:16], offset)
	if err := c.send(CmdFlashBegin, payload, 0); err != nil {
		return err
	}
	resp := c.readResponse(30 * time.Second)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.FlashBegin", errors.New(resp.Error()))
	}
	return nil
}

// FlashData writes one WriteBlockSize-sized block at sequence seq.
func (c *Client) FlashData(seq uint32, data []byte) error {
	payload := append(dataHeader(uint32(len(data)), seq), data...)
	if err := c.send(CmdFlashData, payload, Checksum(data)); err != nil {
		return err
	}
	resp := c.readResponse(10 * time.Second)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.FlashData", errors.Errorf("seq %d: %s", seq, resp.Error()))
	}
	return nil
}

// FlashEnd issues FLASH_END. When stayInLoader is true the payload word is
// 1, which keeps the device in the bootloader instead of running the
// flashed firmware.
func (c *Client) FlashEnd(stayInLoader bool) error {
	payload := make([]byte, 4)
	if stayInLoader {
		binary.LittleEndian.PutUint32(payload, 1)
	}
	if err := c.send(CmdFlashEnd, payload, 0); err != nil {
		return err
	}
	resp := c.readResponse(10 * time.Second)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.FlashEnd", errors.New(resp.Error()))
	}
	return nil
}

// MemBegin issues MEM_BEGIN, preparing the bootloader to receive size bytes
// of RAM payload split into blockCount blocks of blockSize, to be loaded at
// addr.
func (c *Client) MemBegin(size, blockCount, blockSize, addr uint32) error {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint32(payload[0:4], size)
	binary.LittleEndian.PutUint32(payload[4:8], blockCount)
	binary.LittleEndian.PutUint32(payload[8:12], blockSize)
	binary.LittleEndian.PutUint32(payload[12:16], addr)
	if err := c.send(CmdMemBegin, payload, 0); err != nil {
		return err
	}
	resp := c.readResponse(defaultReadTimeout)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.MemBegin", errors.New(resp.Error()))
	}
	return nil
}

// MemData uploads one block of a RAM payload previously announced with
// MemBegin.
func (c *Client) MemData(seq uint32, data []byte) error {
	payload := append(dataHeader(uint32(len(data)), seq), data...)
	if err := c.send(CmdMemData, payload, Checksum(data)); err != nil {
		return err
	}
	resp := c.readResponse(defaultReadTimeout)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.MemData", errors.New(resp.Error()))
	}
	return nil
}

// MemEnd issues MEM_END with an execute flag and an entry point, exactly as
// laid out by the bootloader's wire format; whether execute must be set to
// actually jump to entry is a ROM quirk callers replicate rather than
// reason about.
func (c *Client) MemEnd(execute bool, entry uint32) error {
	payload := make([]byte, 8)
	if execute {
		binary.LittleEndian.PutUint32(payload[0:4], 1)
	}
	binary.LittleEndian.PutUint32(payload[4:8], entry)
	if err := c.send(CmdMemEnd, payload, 0); err != nil {
		return err
	}
	resp := c.readResponse(defaultReadTimeout)
	if !resp.OK() {
		return errkind.New(errkind.ProtocolFraming, "romproto.MemEnd", errors.New(resp.Error()))
	}
	return nil
}
