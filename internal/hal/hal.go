// Package hal is the boundary between the interrupt core and the processor.
//
// Everything that needs a privileged instruction (port I/O, descriptor table
// loads, control register reads, the interrupt flag and HLT) goes through the
// Platform interface so the rest of the core can run against a simulated
// machine as well as real hardware.
package hal

// PortIO performs byte-wide accesses to the x86 I/O port space.
type PortIO interface {
	InByte(port uint16) byte
	OutByte(port uint16, value byte)
}

// DescriptorTable describes a descriptor table as loaded by LGDT/LIDT: the
// linear base address, the limit (size in bytes minus one) and the encoded
// table contents.
type DescriptorTable struct {
	Base  uint32
	Limit uint16
	Image []byte
}

// Platform is the full set of primitives the core needs from the processor.
type Platform interface {
	PortIO

	// LoadGDT issues LGDT for the supplied table.
	LoadGDT(table DescriptorTable)
	// ReloadSegments loads data into DS/ES/FS/GS/SS and far-jumps through
	// code so CS picks up the freshly loaded descriptor.
	ReloadSegments(code, data uint16)
	// LoadIDT issues LIDT for the supplied table.
	LoadIDT(table DescriptorTable)

	// ReadCR2 returns the faulting linear address of the last page fault.
	ReadCR2() uint32

	EnableInterrupts()
	DisableInterrupts()

	// Halt waits for the next interrupt.
	Halt()
	// Stop disables interrupts and halts the processor for good. Stop never
	// returns.
	Stop()
}

// ioWaitPort is the POST diagnostic port. Writing to it takes roughly one
// microsecond on ISA-compatible chipsets and has no other effect.
const ioWaitPort = 0x80

// IOWait gives slow devices time to settle between two consecutive writes.
func IOWait(io PortIO) {
	io.OutByte(ioWaitPort, 0)
}
