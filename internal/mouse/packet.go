package mouse

// Packet is a decoded three byte PS/2 report. DY is positive when the
// pointer moved up.
type Packet struct {
	Buttons uint8
	DX, DY  int8
}

const (
	packetSync    = 1 << 3
	packetButtons = 0x07
)

// Assembler rebuilds packets from bytes delivered one per interrupt. The
// first byte of a packet must have bit 3 set; bytes that fail that check
// are dropped until the stream is back in step.
type Assembler struct {
	buf [3]byte
	n   int

	framingErrors uint64
}

// Feed consumes one byte and returns a packet when it completes one.
func (a *Assembler) Feed(b byte) (Packet, bool) {
	if a.n == 0 && b&packetSync == 0 {
		a.framingErrors++
		return Packet{}, false
	}
	a.buf[a.n] = b
	a.n++
	if a.n < len(a.buf) {
		return Packet{}, false
	}
	a.n = 0
	return Packet{
		Buttons: a.buf[0] & packetButtons,
		DX:      int8(a.buf[1]),
		DY:      int8(a.buf[2]),
	}, true
}

// Pending returns how many bytes of the current packet have arrived.
func (a *Assembler) Pending() int { return a.n }

// Reset discards a partial packet.
func (a *Assembler) Reset() { a.n = 0 }

// FramingErrors returns the number of bytes discarded while out of step.
func (a *Assembler) FramingErrors() uint64 { return a.framingErrors }
