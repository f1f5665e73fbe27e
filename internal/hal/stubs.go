package hal

// Every interrupt vector has its own entry trampoline. The trampolines are
// laid out back to back starting at StubBase; each one pushes a dummy error
// code when the CPU does not, pushes its vector number, saves the segment and
// general purpose registers and calls into the dispatcher.
const (
	StubBase uint32 = 0x00101000
	StubSize uint32 = 16

	// VectorCount is the number of IDT slots.
	VectorCount = 256
)

// StubAddress returns the entry point of the trampoline for vector.
func StubAddress(vector uint8) uint32 {
	return StubBase + uint32(vector)*StubSize
}

// StubVector maps a trampoline entry point back to its vector. It reports
// false for addresses that are not the start of a trampoline.
func StubVector(addr uint32) (uint8, bool) {
	if addr < StubBase {
		return 0, false
	}
	off := addr - StubBase
	if off%StubSize != 0 || off/StubSize >= VectorCount {
		return 0, false
	}
	return uint8(off / StubSize), true
}
