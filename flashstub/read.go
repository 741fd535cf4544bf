package flashstub

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/readysteadygo2006/smart.js/errkind"
	"github.com/readysteadygo2006/smart.js/romproto"
)

// Read uploads Stub into IRAM, runs it to read length bytes of raw flash
// starting at offset, and waits for the device to reboot back into the
// bootloader before returning. The device must already be in the ROM
// bootloader and idle: this both starts and ends a flashing session of its
// own (via a zero-length FlashBegin) because the stub needs the flash
// subsystem initialized before it can call the ROM's SPIRead.
func Read(client *romproto.Client, boot *romproto.BootController, offset, length uint32) ([]byte, error) {
	if err := client.FlashBegin(0, 0, romproto.WriteBlockSize, 0); err != nil {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.Wrap(err, "failed to initialize flash"))
	}

	args := make([]byte, 12)
	binary.LittleEndian.PutUint32(args[0:4], offset)
	binary.LittleEndian.PutUint32(args[4:8], length)
	binary.LittleEndian.PutUint32(args[8:12], 1)
	payload := append(args, Stub...)

	if err := client.MemBegin(uint32(len(payload)), 1, uint32(len(payload)), IRAMLoadAddr); err != nil {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.Wrap(err, "failed to start writing to RAM"))
	}
	if err := client.MemData(0, payload); err != nil {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.Wrap(err, "failed to write to RAM"))
	}
	if err := client.MemEnd(false, EntryPoint); err != nil {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.Wrap(err, "failed to launch stub"))
	}

	raw := client.ReadRawFrame(0)
	if uint32(len(raw)) < length {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.Errorf("got %d bytes, wanted %d", len(raw), length))
	}

	if !boot.TrySync(5) {
		return nil, errkind.New(errkind.Aborted, "flashstub.Read", errors.New("device did not reboot after reading flash"))
	}

	return raw, nil
}
