package flasher

import "testing"

func TestProbeReadsMAC(t *testing.T) {
	port := &fakePort{}
	port.queueSyncBurst() // RebootIntoBootloader
	port.queueOKResponseWithValue(0x0A, [4]byte{0, 0, 0, 0x77})
	port.queueOKResponseWithValue(0x0A, [4]byte{0x88, 0x99, 0x01, 0})

	mac, err := Probe(port)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if mac.String() != "ac:d0:74:99:88:77" {
		t.Fatalf("Probe() = %s, want ac:d0:74:99:88:77", mac.String())
	}
}
