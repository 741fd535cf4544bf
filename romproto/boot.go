package romproto

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/readysteadygo2006/smart.js/errkind"
)

// resetHoldTime is how long RTS is held low to assert the ESP8266's RESET
// pin, and bootHoldTime is how long DTR is then held to keep GPIO0 low
// while RESET releases, forcing entry into the ROM bootloader.
const (
	resetHoldTime = 50 * time.Millisecond
	bootHoldTime  = 50 * time.Millisecond
)

// BootController drives the DTR/RTS modem-control lines that put an
// ESP8266 into its ROM bootloader, or send it back to running firmware,
// per the wiring esptool.py expects: RTS on CH_PD/RESET, DTR on GPIO0.
type BootController struct {
	port   Port
	client *Client
}

// NewBootController pairs a Port (for line control) with the Client
// already wrapping it (for the post-reset sync handshake).
func NewBootController(port Port, client *Client) *BootController {
	return &BootController{port: port, client: client}
}

// RebootIntoBootloader pulses RESET while holding GPIO0 low, then requires
// a successful sync handshake within 3 attempts.
func (b *BootController) RebootIntoBootloader() error {
	b.port.SetDTR(false)
	b.port.SetRTS(true)
	time.Sleep(resetHoldTime)
	b.port.SetDTR(true)
	b.port.SetRTS(false)
	time.Sleep(bootHoldTime)
	b.port.SetDTR(false)

	if !b.TrySync(3) {
		return errkind.New(errkind.WiringOrPort, "romproto.RebootIntoBootloader", errors.New("bootloader did not respond to sync"))
	}
	return nil
}

// RebootIntoFirmware pulses RESET with GPIO0 released, so the device boots
// into flashed firmware instead of the ROM bootloader.
func (b *BootController) RebootIntoFirmware() {
	b.port.SetDTR(false)
	b.port.SetRTS(true)
	time.Sleep(resetHoldTime)
	b.port.SetRTS(false)
}

// TrySync retries the sync handshake up to attempts times, succeeding as
// soon as one attempt completes cleanly.
func (b *BootController) TrySync(attempts int) bool {
	for ; attempts > 0; attempts-- {
		if b.client.Sync() == nil {
			return true
		}
	}
	return false
}

// ouiPrefixes maps byte 2 (the third byte) read back from register
// 0x3ff00054 to
// the manufacturer OUI Espressif burns into that chip generation's MAC.
var ouiPrefixes = map[byte][3]byte{
	0: {0x18, 0xFE, 0x34},
	1: {0xAC, 0xD0, 0x74},
}

// ReadMAC reconstructs the station MAC address from the two hardware
// registers the ROM bootloader exposes it through.
func ReadMAC(c *Client) (net.HardwareAddr, error) {
	mac1, err := c.ReadRegister(0x3ff00050)
	if err != nil {
		return nil, err
	}
	mac2, err := c.ReadRegister(0x3ff00054)
	if err != nil {
		return nil, err
	}
	if len(mac1) != 4 || len(mac2) != 4 {
		return nil, errkind.New(errkind.ProtocolFraming, "romproto.ReadMAC", errors.New("short register value"))
	}

	oui, ok := ouiPrefixes[mac2[2]]
	if !ok {
		return nil, errkind.New(errkind.ProtocolFraming, "romproto.ReadMAC", errors.Errorf("unknown OUI selector 0x%x", mac2[2]))
	}

	mac := net.HardwareAddr{oui[0], oui[1], oui[2], mac2[1], mac2[0], mac1[3]}
	return mac, nil
}
