// Package descriptor builds the global and interrupt descriptor tables in the
// exact layout the processor expects and hands them to the platform for
// loading.
package descriptor

import (
	"encoding/binary"

	"github.com/tinyrange/irqcore/internal/hal"
)

// Segment selectors for the flat GDT built by NewFlatGDT.
const (
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
	UserCodeSelector   uint16 = 0x18
	UserDataSelector   uint16 = 0x20
)

// Access byte bits.
const (
	AccessAccessed   byte = 1 << 0
	AccessReadWrite  byte = 1 << 1
	AccessExecutable byte = 1 << 3
	AccessCodeData   byte = 1 << 4
	AccessUser       byte = 3 << 5
	AccessPresent    byte = 1 << 7
)

// Flag nibble bits. Only the upper four bits of the flags argument are stored.
const (
	Flag32Bit          byte = 1 << 6
	FlagGranularity4KB byte = 1 << 7

	flagMask  byte   = 0xf0
	limitMask uint32 = 0x000fffff
)

// GDTEntries is the number of GDT slots: null, kernel code, kernel data, user
// code, user data and one slot reserved for a task state segment.
const GDTEntries = 6

// Segment is the decoded form of one GDT entry. Limit holds the raw 20-bit
// field; see ByteLimit for the effective limit.
type Segment struct {
	Base   uint32
	Limit  uint32
	Access byte
	Flags  byte
}

// Present reports whether the present bit is set.
func (s Segment) Present() bool { return s.Access&AccessPresent != 0 }

// DPL returns the descriptor privilege level.
func (s Segment) DPL() uint8 { return (s.Access >> 5) & 0x3 }

// ByteLimit returns the last addressable byte offset, scaling by 4KiB when
// the granularity flag is set.
func (s Segment) ByteLimit() uint32 {
	if s.Flags&FlagGranularity4KB != 0 {
		return s.Limit<<12 | 0xfff
	}
	return s.Limit
}

// EncodeSegment packs a segment descriptor into its 8-byte hardware form:
// limit[15:0], base[15:0], base[23:16], access, flags|limit[19:16], base[31:24].
func EncodeSegment(base, limit uint32, access, flags byte) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(limit&0xffff))
	binary.LittleEndian.PutUint16(b[2:4], uint16(base&0xffff))
	b[4] = byte(base >> 16)
	b[5] = access
	b[6] = byte((limit>>16)&0x0f) | flags&flagMask
	b[7] = byte(base >> 24)
	return b
}

// DecodeSegment is the inverse of EncodeSegment.
func DecodeSegment(b [8]byte) Segment {
	return Segment{
		Base: uint32(binary.LittleEndian.Uint16(b[2:4])) |
			uint32(b[4])<<16 |
			uint32(b[7])<<24,
		Limit:  uint32(binary.LittleEndian.Uint16(b[0:2])) | uint32(b[6]&0x0f)<<16,
		Access: b[5],
		Flags:  b[6] & flagMask,
	}
}

// GDT is the global descriptor table. It is built once during boot and never
// modified after Load.
type GDT struct {
	// Base is the linear address the table image lives at.
	Base    uint32
	entries [GDTEntries][8]byte
}

// NewFlatGDT returns a table with the null descriptor followed by kernel and
// user code/data segments that each span the full 4GiB address space.
func NewFlatGDT(base uint32) *GDT {
	g := &GDT{Base: base}
	const flat = 0xffffffff
	flags := Flag32Bit | FlagGranularity4KB

	g.Set(0, 0, 0, 0, 0)
	g.Set(1, 0, flat, AccessPresent|AccessCodeData|AccessExecutable|AccessReadWrite, flags)
	g.Set(2, 0, flat, AccessPresent|AccessCodeData|AccessReadWrite, flags)
	g.Set(3, 0, flat, AccessPresent|AccessCodeData|AccessExecutable|AccessReadWrite|AccessUser, flags)
	g.Set(4, 0, flat, AccessPresent|AccessCodeData|AccessReadWrite|AccessUser, flags)
	return g
}

// Set writes one slot. Index must be in [0, GDTEntries); the limit is
// truncated to its 20-bit field.
func (g *GDT) Set(index int, base, limit uint32, access, flags byte) {
	g.entries[index] = EncodeSegment(base, limit&limitMask, access, flags)
}

// Entry decodes one slot.
func (g *GDT) Entry(index int) Segment {
	return DecodeSegment(g.entries[index])
}

// Raw returns the encoded bytes of one slot.
func (g *GDT) Raw(index int) [8]byte {
	return g.entries[index]
}

// Table returns the table in the form LGDT consumes.
func (g *GDT) Table() hal.DescriptorTable {
	image := make([]byte, 0, GDTEntries*8)
	for _, e := range g.entries {
		image = append(image, e[:]...)
	}
	return hal.DescriptorTable{
		Base:  g.Base,
		Limit: uint16(len(image) - 1),
		Image: image,
	}
}

// Load installs the table and reloads every segment register so the new
// descriptors take effect.
func (g *GDT) Load(p hal.Platform) {
	p.LoadGDT(g.Table())
	p.ReloadSegments(KernelCodeSelector, KernelDataSelector)
}
