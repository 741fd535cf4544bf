// Package imageplan turns one in-memory firmware image into a sequence of
// flash-write commands: it erases the right amount of flash (working
// around a ROM erase-length bug along the way) and streams the image down
// in fixed-size, 0xFF-padded blocks.
package imageplan

import (
	"github.com/pkg/errors"
	"github.com/readysteadygo2006/smart.js/errkind"
	"github.com/readysteadygo2006/smart.js/romproto"
)

// WriteBlockSize is the size of each FLASH_DATA block. It matches
// romproto.WriteBlockSize but is named separately because this package
// reasons about it as a flash-layout concept, not a protocol-framing one.
const WriteBlockSize = romproto.WriteBlockSize

// SectorSize and SectorsPerBlock describe the physical flash geometry the
// erase-length workaround compensates for: sectors erased individually,
// grouped into 64KB blocks that can be erased in bulk.
const (
	SectorSize      = 4096
	SectorsPerBlock = 16
)

// FlashClient is the subset of romproto.Client's behavior a write needs.
type FlashClient interface {
	FlashBegin(eraseSize, numBlocks, blockSize, offset uint32) error
	FlashData(seq uint32, data []byte) error
}

// ProgressFunc is called after each block is successfully written, with
// the 1-based sequence number and the total block count for this image.
type ProgressFunc func(written, total int)

// FixupEraseLength compensates for a ROM SPIEraseArea bug: erasing a
// range makes the ROM erase whole 64KB blocks in the middle but individual
// 4KB sectors at both ends, and it double-counts the sectors erased in the
// first partial block against the total. Passing a smaller erase length,
// computed here, results in the intended range being erased, plus one
// extra sector when an odd sector count falls in the first block's range.
func FixupEraseLength(start, length uint32) uint32 {
	startSector := start / SectorSize
	tail := uint32(SectorsPerBlock) - startSector%SectorsPerBlock

	sectors := length / SectorSize
	if length%SectorSize != 0 {
		sectors++
	}

	if sectors <= 2*tail {
		return (sectors/2 + sectors%2) * SectorSize
	}
	return length - tail*SectorSize
}

// WriteImage erases and writes one image at addr in WriteBlockSize chunks,
// padding the final short block with 0xFF. progress, if non-nil, is
// invoked after each block. It makes a single attempt; retry policy across
// a full reboot lives with the caller orchestrating a run.
func WriteImage(client FlashClient, addr uint32, data []byte, eraseBugWorkaround bool, progress ProgressFunc) error {
	blocks := len(data) / WriteBlockSize
	if len(data)%WriteBlockSize != 0 {
		blocks++
	}

	eraseSize := uint32(blocks) * WriteBlockSize
	if eraseBugWorkaround {
		eraseSize = FixupEraseLength(addr, eraseSize)
	}

	if err := client.FlashBegin(eraseSize, uint32(blocks), WriteBlockSize, addr); err != nil {
		return errkind.New(errkind.ProtocolFraming, "imageplan.WriteImage", errors.Wrapf(err, "failed to start flashing at 0x%x", addr))
	}

	for seq := 0; seq < blocks; seq++ {
		start := seq * WriteBlockSize
		end := start + WriteBlockSize
		if end > len(data) {
			end = len(data)
		}
		block := make([]byte, WriteBlockSize)
		copy(block, data[start:end])
		for i := end - start; i < WriteBlockSize; i++ {
			block[i] = 0xFF
		}

		if err := client.FlashData(uint32(seq), block); err != nil {
			return errkind.New(errkind.ProtocolFraming, "imageplan.WriteImage", errors.Wrapf(err, "failed to write block %d/%d at 0x%x", seq, blocks, addr))
		}
		if progress != nil {
			progress(seq+1, blocks)
		}
	}
	return nil
}
