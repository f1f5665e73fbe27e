package descriptor

import (
	"encoding/binary"

	"github.com/tinyrange/irqcore/internal/hal"
)

// Gate type and attribute bits.
const (
	GateInterrupt32 byte = 0x0e
	GateTrap32      byte = 0x0f
	GateDPL3        byte = 3 << 5
	GatePresent     byte = 1 << 7

	// KernelInterruptGate is the attribute byte used for every gate the
	// kernel installs.
	KernelInterruptGate = GatePresent | GateInterrupt32
)

// IDTEntries is the number of gates in the table.
const IDTEntries = hal.VectorCount

// Gate is the decoded form of one IDT entry.
type Gate struct {
	Offset   uint32
	Selector uint16
	Flags    byte
}

func (g Gate) Present() bool { return g.Flags&GatePresent != 0 }
func (g Gate) Type() byte    { return g.Flags & 0x0f }
func (g Gate) DPL() uint8    { return (g.Flags >> 5) & 0x3 }

// EncodeGate packs a gate into its 8-byte hardware form:
// offset[15:0], selector, zero, flags, offset[31:16].
func EncodeGate(offset uint32, selector uint16, flags byte) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(offset&0xffff))
	binary.LittleEndian.PutUint16(b[2:4], selector)
	b[4] = 0
	b[5] = flags
	binary.LittleEndian.PutUint16(b[6:8], uint16(offset>>16))
	return b
}

// DecodeGate is the inverse of EncodeGate.
func DecodeGate(b [8]byte) Gate {
	return Gate{
		Offset: uint32(binary.LittleEndian.Uint16(b[0:2])) |
			uint32(binary.LittleEndian.Uint16(b[6:8]))<<16,
		Selector: binary.LittleEndian.Uint16(b[2:4]),
		Flags:    b[5],
	}
}

// IDT is the interrupt descriptor table.
type IDT struct {
	Base    uint32
	entries [IDTEntries][8]byte
}

// NewIDT returns an empty table whose image will live at base.
func NewIDT(base uint32) *IDT {
	return &IDT{Base: base}
}

// SetGate writes one slot. The present bit is always set.
func (t *IDT) SetGate(vector uint8, handler uint32, selector uint16, flags byte) {
	t.entries[vector] = EncodeGate(handler, selector, flags|GatePresent)
}

// Gate decodes one slot.
func (t *IDT) Gate(vector uint8) Gate {
	return DecodeGate(t.entries[vector])
}

// Table returns the table in the form LIDT consumes.
func (t *IDT) Table() hal.DescriptorTable {
	image := make([]byte, 0, IDTEntries*8)
	for _, e := range t.entries {
		image = append(image, e[:]...)
	}
	return hal.DescriptorTable{
		Base:  t.Base,
		Limit: uint16(len(image) - 1),
		Image: image,
	}
}

// Load installs the table.
func (t *IDT) Load(p hal.Platform) {
	p.LoadIDT(t.Table())
}

// GateAt decodes the gate for vector out of a raw table image. It reports
// false when the vector lies beyond the table limit.
func GateAt(table hal.DescriptorTable, vector uint8) (Gate, bool) {
	off := int(vector) * 8
	if off+7 > int(table.Limit) || off+8 > len(table.Image) {
		return Gate{}, false
	}
	var b [8]byte
	copy(b[:], table.Image[off:off+8])
	return DecodeGate(b), true
}

// SegmentAt decodes the descriptor a selector refers to out of a raw GDT
// image.
func SegmentAt(table hal.DescriptorTable, selector uint16) (Segment, bool) {
	off := int(selector &^ 0x7)
	if off+7 > int(table.Limit) || off+8 > len(table.Image) {
		return Segment{}, false
	}
	var b [8]byte
	copy(b[:], table.Image[off:off+8])
	return DecodeSegment(b), true
}
