// Package flashparams parses and packs the 16-bit flash configuration word
// the ESP8266 SDK boot code reads out of bytes 2-3 of the boot image: flash
// mode, size, and clock frequency.
package flashparams

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/readysteadygo2006/smart.js/errkind"
)

var modes = map[string]uint16{
	"qio":  0,
	"qout": 1,
	"dio":  2,
	"dout": 3,
}

var sizes = map[string]uint16{
	"4m":     0,
	"2m":     1,
	"8m":     2,
	"16m":    3,
	"32m":    4,
	"16m-c1": 5,
	"32m-c1": 6,
	"32m-c2": 7,
}

var freqs = map[string]uint16{
	"40m": 0,
	"26m": 1,
	"20m": 2,
	"80m": 0xf,
}

// DIOMode is the packed mode nibble that selects dual I/O flash access; the
// bootloader has a documented quirk where it leaves the chip read-only
// after flashing in this mode, unless the device is rebooted straight into
// firmware instead of asked to leave flashing mode cleanly.
const DIOMode uint16 = 2

// Parse accepts either a bare integer (any base strconv.ParseInt(0)
// understands) or a "mode,size,freq" triple and packs it into the 16-bit
// word the boot image expects: mode in bits 8-11, size in bits 4-7, freq in
// bits 0-3.
func Parse(s string) (uint16, error) {
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return 0, errkind.New(errkind.InvalidArgument, "flashparams.Parse", errors.Wrap(err, "invalid number"))
		}
		return uint16(v) & 0xffff, nil
	case 3:
		mode, ok := modes[strings.TrimSpace(parts[0])]
		if !ok {
			return 0, errkind.New(errkind.InvalidArgument, "flashparams.Parse", errors.New("invalid flash mode"))
		}
		size, ok := sizes[strings.TrimSpace(parts[1])]
		if !ok {
			return 0, errkind.New(errkind.InvalidArgument, "flashparams.Parse", errors.New("invalid flash size"))
		}
		freq, ok := freqs[strings.TrimSpace(parts[2])]
		if !ok {
			return 0, errkind.New(errkind.InvalidArgument, "flashparams.Parse", errors.New("invalid flash frequency"))
		}
		return mode<<8 | size<<4 | freq, nil
	default:
		return 0, errkind.New(errkind.InvalidArgument, "flashparams.Parse", errors.New("must be either a number or a comma-separated list of three items"))
	}
}

// Mode returns the high byte (bits 8-15) of a packed flash-params word,
// which holds the mode nibble in its low four bits.
func Mode(params uint16) uint16 {
	return (params >> 8) & 0xff
}
