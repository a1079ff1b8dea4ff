package proxy

import "testing"

func TestTCPBufferPoolRoundTrip(t *testing.T) {
	buf := getTCPBuffer()
	if len(*buf) != 32768 {
		t.Fatalf("expected a 32KB TCP buffer, got %d bytes", len(*buf))
	}
	putTCPBuffer(buf)

	again := getTCPBuffer()
	if len(*again) != 32768 {
		t.Fatalf("expected a reused buffer to still be 32KB, got %d bytes", len(*again))
	}
	putTCPBuffer(again)
}

func TestUDPBufferPoolSizedForMaxDatagram(t *testing.T) {
	buf := getUDPBuffer()
	defer putUDPBuffer(buf)
	if len(*buf) != 65507 {
		t.Fatalf("expected a UDP buffer sized for the largest possible datagram, got %d bytes", len(*buf))
	}
}
