// Package flashstub uploads a small Xtensa machine-code payload into the
// ESP8266's IRAM and runs it to read raw flash content back over the same
// serial link the ROM bootloader listens on — something the bootloader's
// own command set otherwise has no way to do.
package flashstub

// IRAMLoadAddr is where the stub is uploaded via MEM_BEGIN/MEM_DATA.
const IRAMLoadAddr = 0x40100000

// EntryPoint is where execution resumes after MEM_END: past the stub's
// four 32-bit data words, at its first instruction.
const EntryPoint = 0x4010001C

// Stub is machine code for the Xtensa core in the ESP8266's ROM
// bootloader. Its first 16 bytes are data words (send_packet, SPIRead,
// ResetVector, and a scratch buffer address), read via l32r-relative
// addressing by the code that follows: it loops blockcount times, reading
// blocklen bytes at a time from SPI flash starting at offset and writing
// each block out with the ROM's own send_packet routine, then jumps to
// ResetVector so the bootloader comes back up.
//
// The caller prefixes this with three little-endian uint32 arguments
// (offset, blocklen, blockcount) before uploading it.
var Stub = []byte{
	0x80, 0x3c, 0x00, 0x40, // data: send_packet
	0x1c, 0x4b, 0x00, 0x40, // data: SPIRead
	0x80, 0x00, 0x00, 0x40, // data: ResetVector
	0x00, 0x80, 0xfe, 0x3f, // data: buffer
	0xc1, 0xfb, 0xff, //       l32r    a12, $blockcount
	0xd1, 0xf8, 0xff, //       l32r    a13, $offset
	0x2d, 0x0d, // loop: mov.n   a2, a13
	0x31, 0xfd, 0xff, //       l32r    a3, $buffer
	0x41, 0xf7, 0xff, //       l32r    a4, $blocklen
	0x4a, 0xdd, //       add.n   a13, a13, a4
	0x51, 0xf9, 0xff, //       l32r    a5, $SPIRead
	0xc0, 0x05, 0x00, //       callx0  a5
	0x21, 0xf9, 0xff, //       l32r    a2, $buffer
	0x31, 0xf3, 0xff, //       l32r    a3, $blocklen
	0x41, 0xf5, 0xff, //       l32r    a4, $send_packet
	0xc0, 0x04, 0x00, //       callx0  a4
	0x0b, 0xcc, //       addi.n  a12, a12, -1
	0x56, 0xec, 0xfd, //       bnez    a12, loop
	0x61, 0xf4, 0xff, //       l32r    a6, $ResetVector
	0xa0, 0x06, 0x00, //       jx      a6
	0x00, 0x00, 0x00, //       padding
}
