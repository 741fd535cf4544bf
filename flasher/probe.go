package flasher

import (
	"net"

	"github.com/readysteadygo2006/smart.js/romproto"
)

// Probe forces the device on port into its ROM bootloader just long
// enough to read back its MAC address, without touching flash. It is used
// to identify which serial port a device is attached to before committing
// to a flashing run.
func Probe(port romproto.Port) (net.HardwareAddr, error) {
	client := romproto.NewClient(port)
	boot := romproto.NewBootController(port, client)

	if err := boot.RebootIntoBootloader(); err != nil {
		return nil, err
	}
	return romproto.ReadMAC(client)
}
