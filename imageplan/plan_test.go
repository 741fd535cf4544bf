package imageplan

import (
	"bytes"
	"testing"
)

func TestFixupEraseLengthScenarios(t *testing.T) {
	tests := []struct {
		name   string
		start  uint32
		length uint32
		want   uint32
	}{
		{"short range within one block", 0x10000, 0x4000, 0x2000},
		{"range spanning many blocks", 0x10000, 0x100000, 0xF0000},
		{"block-aligned start, single sector", 0x0, 0x1000, 0x1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixupEraseLength(tt.start, tt.length)
			if got != tt.want {
				t.Errorf("FixupEraseLength(0x%x, 0x%x) = 0x%x, want 0x%x", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

type fakeFlashClient struct {
	beginCalls []struct{ eraseSize, numBlocks, blockSize, offset uint32 }
	dataCalls  []struct {
		seq  uint32
		data []byte
	}
	failDataAt uint32
}

func (f *fakeFlashClient) FlashBegin(eraseSize, numBlocks, blockSize, offset uint32) error {
	f.beginCalls = append(f.beginCalls, struct{ eraseSize, numBlocks, blockSize, offset uint32 }{eraseSize, numBlocks, blockSize, offset})
	return nil
}

func (f *fakeFlashClient) FlashData(seq uint32, data []byte) error {
	if seq == f.failDataAt {
		return errFakeFlashData
	}
	cp := append([]byte(nil), data...)
	f.dataCalls = append(f.dataCalls, struct {
		seq  uint32
		data []byte
	}{seq, cp})
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFakeFlashData = fakeErr("simulated flash data failure")

func TestWriteImagePadsFinalBlock(t *testing.T) {
	client := &fakeFlashClient{failDataAt: 99}
	data := bytes.Repeat([]byte{0xAA}, WriteBlockSize+10)

	var progressCalls [][2]int
	err := WriteImage(client, 0x1000, data, true, func(written, total int) {
		progressCalls = append(progressCalls, [2]int{written, total})
	})
	if err != nil {
		t.Fatalf("WriteImage() error = %v", err)
	}
	if len(client.dataCalls) != 2 {
		t.Fatalf("expected 2 FlashData calls, got %d", len(client.dataCalls))
	}
	last := client.dataCalls[1].data
	if len(last) != WriteBlockSize {
		t.Fatalf("last block length = %d, want %d", len(last), WriteBlockSize)
	}
	for i := 10; i < WriteBlockSize; i++ {
		if last[i] != 0xFF {
			t.Fatalf("last block byte %d = 0x%x, want 0xFF padding", i, last[i])
		}
	}
	if len(progressCalls) != 2 || progressCalls[1] != [2]int{2, 2} {
		t.Fatalf("unexpected progress calls: %v", progressCalls)
	}
}

func TestWriteImageStopsOnDataFailure(t *testing.T) {
	client := &fakeFlashClient{failDataAt: 1}
	data := bytes.Repeat([]byte{0x11}, WriteBlockSize*2)

	err := WriteImage(client, 0, data, false, nil)
	if err == nil {
		t.Fatalf("expected WriteImage() to fail")
	}
	if len(client.dataCalls) != 1 {
		t.Fatalf("expected exactly 1 successful FlashData call before the failure, got %d", len(client.dataCalls))
	}
}

func TestWriteImageEraseSizeWithoutWorkaround(t *testing.T) {
	client := &fakeFlashClient{failDataAt: 99}
	data := make([]byte, WriteBlockSize)

	if err := WriteImage(client, 0x1000, data, false, nil); err != nil {
		t.Fatalf("WriteImage() error = %v", err)
	}
	if got := client.beginCalls[0].eraseSize; got != WriteBlockSize {
		t.Fatalf("eraseSize = %d, want %d", got, WriteBlockSize)
	}
}
