package interrupt

import "fmt"

// Vector is an interrupt descriptor table slot.
type Vector uint8

// Processor exception vectors.
const (
	// DivideError is raised by DIV and IDIV on a zero divisor or a quotient
	// that does not fit the destination.
	DivideError Vector = 0
	Debug       Vector = 1
	// NMI is the non-maskable interrupt, usually a memory or chipset error.
	NMI        Vector = 2
	Breakpoint Vector = 3
	Overflow   Vector = 4
	// BoundRange is raised by BOUND with an index out of range.
	BoundRange    Vector = 5
	InvalidOpcode Vector = 6
	// DeviceNotAvailable is raised by an FPU instruction with no FPU
	// available or with CR0.TS set.
	DeviceNotAvailable Vector = 7
	// DoubleFault is raised when the processor fails to deliver another
	// exception. It always pushes an error code of zero.
	DoubleFault        Vector = 8
	CoprocessorOverrun Vector = 9
	InvalidTSS         Vector = 10
	SegmentNotPresent  Vector = 11
	StackSegmentFault  Vector = 12
	GeneralProtection  Vector = 13
	// PageFault is raised on a missing or protected page. CR2 holds the
	// faulting linear address.
	PageFault           Vector = 14
	FloatingPoint       Vector = 16
	AlignmentCheck      Vector = 17
	MachineCheck        Vector = 18
	SIMDFloatingPoint   Vector = 19
	Virtualization      Vector = 20
	ControlProtection   Vector = 21
	HypervisorInjection Vector = 28
	VMMCommunication    Vector = 29
	Security            Vector = 30
)

// Vector ranges.
const (
	ExceptionCount = 32
	// IRQBase is the first vector the interrupt controllers are remapped to.
	IRQBase  Vector = 32
	IRQCount        = 16
)

var exceptionNames = [ExceptionCount]string{
	DivideError:         "divide error",
	Debug:               "debug",
	NMI:                 "non-maskable interrupt",
	Breakpoint:          "breakpoint",
	Overflow:            "overflow",
	BoundRange:          "bound range exceeded",
	InvalidOpcode:       "invalid opcode",
	DeviceNotAvailable:  "device not available",
	DoubleFault:         "double fault",
	CoprocessorOverrun:  "coprocessor segment overrun",
	InvalidTSS:          "invalid TSS",
	SegmentNotPresent:   "segment not present",
	StackSegmentFault:   "stack segment fault",
	GeneralProtection:   "general protection fault",
	PageFault:           "page fault",
	15:                  "reserved",
	FloatingPoint:       "x87 floating point exception",
	AlignmentCheck:      "alignment check",
	MachineCheck:        "machine check",
	SIMDFloatingPoint:   "SIMD floating point exception",
	Virtualization:      "virtualization exception",
	ControlProtection:   "control protection exception",
	22:                  "reserved",
	23:                  "reserved",
	24:                  "reserved",
	25:                  "reserved",
	26:                  "reserved",
	27:                  "reserved",
	HypervisorInjection: "hypervisor injection exception",
	VMMCommunication:    "VMM communication exception",
	Security:            "security exception",
	31:                  "reserved",
}

// IsException reports whether v is a processor exception.
func (v Vector) IsException() bool { return v < ExceptionCount }

// IRQ returns the interrupt line v is delivered for.
func (v Vector) IRQ() (uint8, bool) {
	if v < IRQBase || v >= IRQBase+IRQCount {
		return 0, false
	}
	return uint8(v - IRQBase), true
}

func (v Vector) String() string {
	if v.IsException() {
		return fmt.Sprintf("#%d (%s)", uint8(v), exceptionNames[v])
	}
	if irq, ok := v.IRQ(); ok {
		return fmt.Sprintf("IRQ%d", irq)
	}
	return fmt.Sprintf("vector %d", uint8(v))
}
