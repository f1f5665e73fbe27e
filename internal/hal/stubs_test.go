package hal

import "testing"

func TestStubAddressRoundTrip(t *testing.T) {
	for v := 0; v < VectorCount; v++ {
		addr := StubAddress(uint8(v))
		got, ok := StubVector(addr)
		if !ok {
			t.Fatalf("vector %d: address 0x%x not recognised", v, addr)
		}
		if int(got) != v {
			t.Fatalf("vector %d: decoded %d", v, got)
		}
	}
}

func TestStubVectorRejectsGarbage(t *testing.T) {
	for _, addr := range []uint32{0, StubBase - 1, StubBase + 3, StubAddress(255) + StubSize} {
		if _, ok := StubVector(addr); ok {
			t.Fatalf("address 0x%x unexpectedly decoded", addr)
		}
	}
}

type recordingIO struct {
	writes []uint16
}

func (r *recordingIO) InByte(uint16) byte { return 0 }
func (r *recordingIO) OutByte(port uint16, _ byte) {
	r.writes = append(r.writes, port)
}

func TestIOWaitUsesPostPort(t *testing.T) {
	io := &recordingIO{}
	IOWait(io)
	if len(io.writes) != 1 || io.writes[0] != 0x80 {
		t.Fatalf("unexpected writes %v", io.writes)
	}
}
