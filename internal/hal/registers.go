package hal

import (
	"fmt"
	"io"
	"log/slog"
)

// Registers is the processor state captured by an entry trampoline. The
// layout mirrors what the trampoline pushes: segment registers, PUSHA order
// general purpose registers, the vector and error code, then the frame the
// CPU pushed itself. A handler may only look at Registers for the duration
// of the call it was passed to.
type Registers struct {
	GS, FS, ES, DS uint32

	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32

	Vector uint32
	// ErrorCode is the hardware error code for the exceptions that push
	// one and zero for everything else.
	ErrorCode uint32

	EIP, CS, EFlags, UserESP, SS uint32
}

// TrapEntry is the function every trampoline calls once the registers have
// been saved.
type TrapEntry func(regs *Registers)

// TrapSource is implemented by platforms that deliver traps to Go code
// directly instead of through assembly trampolines.
type TrapSource interface {
	SetTrapEntry(entry TrapEntry)
}

// DumpTo writes the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "EAX = %08x EBX = %08x ECX = %08x EDX = %08x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	fmt.Fprintf(w, "ESI = %08x EDI = %08x EBP = %08x ESP = %08x\n", r.ESI, r.EDI, r.EBP, r.ESP)
	fmt.Fprintf(w, "DS  = %04x ES  = %04x FS  = %04x GS  = %04x\n", r.DS, r.ES, r.FS, r.GS)
	fmt.Fprintf(w, "EIP = %08x CS  = %04x EFL = %08x\n", r.EIP, r.CS, r.EFlags)
	fmt.Fprintf(w, "VEC = %d ERR = %08x\n", r.Vector, r.ErrorCode)
}

// LogValue implements slog.LogValuer.
func (r *Registers) LogValue() slog.Value {
	hex := func(v uint32) string { return fmt.Sprintf("0x%08x", v) }
	return slog.GroupValue(
		slog.Int("vector", int(r.Vector)),
		slog.String("error", hex(r.ErrorCode)),
		slog.String("eip", hex(r.EIP)),
		slog.String("cs", fmt.Sprintf("0x%04x", r.CS)),
		slog.String("eflags", hex(r.EFlags)),
		slog.String("esp", hex(r.ESP)),
		slog.String("eax", hex(r.EAX)),
		slog.String("ebx", hex(r.EBX)),
		slog.String("ecx", hex(r.ECX)),
		slog.String("edx", hex(r.EDX)),
	)
}

// PushesErrorCode reports whether the processor pushes a hardware error code
// for vector. Trampolines push a zero for every other vector so the frame
// layout is the same for all of them.
func PushesErrorCode(vector uint8) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	}
	return false
}
