// Package sim is a simulated single processor x86 machine for the interrupt
// core. It models the port bus, the cascaded 8259A pair, the i8042 with a
// PS/2 mouse on its auxiliary port, and trap delivery through whatever IDT
// and GDT the kernel loaded, including double and triple faults.
package sim

import (
	"errors"
	"fmt"

	"github.com/tinyrange/irqcore/internal/descriptor"
	"github.com/tinyrange/irqcore/internal/hal"
)

var (
	// ErrStopped is reported once the kernel called Stop.
	ErrStopped = errors.New("sim: processor stopped")
	// ErrTripleFault is reported when the double fault handler itself could
	// not be reached.
	ErrTripleFault = errors.New("sim: triple fault")
	// ErrHung is reported when the kernel halted with interrupts disabled.
	ErrHung = errors.New("sim: halted with interrupts disabled")
)

const (
	vectorDoubleFault              = 8
	vectorGeneralProtection        = 13
	vectorPageFault                = 14
	eflagsReserved          uint32 = 1 << 1
	eflagsIF                uint32 = 1 << 9
)

// stopSignal unwinds the Go stack from Stop to the innermost trap delivery.
type stopSignal struct{}

// Stats counts processor events.
type Stats struct {
	Traps        uint64
	Interrupts   uint64
	Halts        uint64
	DoubleFaults uint64
	PerVector    [hal.VectorCount]uint64
}

// Machine implements hal.Platform and hal.TrapSource.
type Machine struct {
	bus   *Bus
	post  *postPort
	pic   *DualPIC
	ctrl  *I8042
	mouse *PS2Mouse

	gdt hal.DescriptorTable
	idt hal.DescriptorTable
	cs  uint16
	ds  uint16
	cr2 uint32

	interrupts bool
	depth      int
	running    int
	entry      hal.TrapEntry

	// GPR is the general purpose register file copied into every trap frame.
	GPR hal.Registers
	// EIP is reported as the interrupted instruction pointer.
	EIP uint32

	dead   error
	busErr error
	stats  Stats
}

// New builds a machine with the standard PC port layout.
func New() (*Machine, error) {
	m := &Machine{
		post: &postPort{},
		pic:  NewDualPIC(),
		ctrl: NewI8042(),
		EIP:  0x00100000,
	}
	m.mouse = NewPS2Mouse(m.ctrl)
	m.ctrl.SetInterruptSink(m.pic.SetIRQ)
	m.mouse.SetDeliveryHook(m.deliverPending)

	b := NewBusBuilder()
	for _, d := range []struct {
		name string
		dev  PortDevice
	}{
		{"post", m.post},
		{"pic", m.pic},
		{"i8042", m.ctrl},
	} {
		if err := b.Register(d.name, d.dev); err != nil {
			return nil, fmt.Errorf("sim: register %s: %w", d.name, err)
		}
	}
	m.bus = b.Build()
	return m, nil
}

// SetTrapEntry installs the function every trampoline calls.
func (m *Machine) SetTrapEntry(entry hal.TrapEntry) {
	m.entry = entry
}

func (m *Machine) InByte(port uint16) byte {
	var b [1]byte
	if err := m.bus.Read(port, b[:]); err != nil {
		m.recordBusError(err)
	}
	m.deliverPending()
	return b[0]
}

func (m *Machine) OutByte(port uint16, value byte) {
	if err := m.bus.Write(port, []byte{value}); err != nil {
		m.recordBusError(err)
	}
	m.deliverPending()
}

func (m *Machine) recordBusError(err error) {
	if m.busErr == nil {
		m.busErr = err
	}
}

func (m *Machine) LoadGDT(table hal.DescriptorTable) {
	m.gdt = cloneTable(table)
}

// ReloadSegments loads the selectors. A selector that does not name a
// present descriptor of the right kind raises a general protection fault.
func (m *Machine) ReloadSegments(code, data uint16) {
	if seg, ok := descriptor.SegmentAt(m.gdt, data); !ok || !seg.Present() || seg.Access&descriptor.AccessExecutable != 0 {
		m.raise(vectorGeneralProtection, uint32(data&^0x7))
		return
	}
	if seg, ok := descriptor.SegmentAt(m.gdt, code); !ok || !seg.Present() || seg.Access&descriptor.AccessExecutable == 0 {
		m.raise(vectorGeneralProtection, uint32(code&^0x7))
		return
	}
	m.cs, m.ds = code, data
}

func (m *Machine) LoadIDT(table hal.DescriptorTable) {
	m.idt = cloneTable(table)
}

func (m *Machine) ReadCR2() uint32 { return m.cr2 }

func (m *Machine) EnableInterrupts() {
	m.interrupts = true
	m.deliverPending()
}

func (m *Machine) DisableInterrupts() {
	m.interrupts = false
}

// Halt delivers whatever is pending. With nothing pending the next timer
// tick wakes the processor.
func (m *Machine) Halt() {
	if m.dead != nil {
		return
	}
	m.stats.Halts++
	if !m.interrupts {
		m.dead = ErrHung
		return
	}
	if m.pic.Pending() {
		m.deliverPending()
		return
	}
	m.Tick()
}

// Stop disables interrupts and kills the processor. It unwinds to the
// enclosing Run, or to the outermost trap delivery when there is none.
func (m *Machine) Stop() {
	m.interrupts = false
	if m.dead == nil {
		m.dead = ErrStopped
	}
	panic(stopSignal{})
}

// Run calls fn, absorbing a Stop issued anywhere beneath it, including from
// a trap fn raised. It returns the reason the processor died, if it did.
func (m *Machine) Run(fn func()) (err error) {
	m.running++
	defer func() {
		m.running--
		if r := recover(); r != nil {
			if _, ok := r.(stopSignal); !ok {
				panic(r)
			}
		}
		err = m.dead
	}()
	if m.dead == nil {
		fn()
	}
	return nil
}

// Tick pulses IRQ0 as the interval timer would.
func (m *Machine) Tick() {
	if m.dead != nil {
		return
	}
	m.pic.SetIRQ(0, true)
	m.pic.SetIRQ(0, false)
	m.deliverPending()
}

// RaiseException makes the processor take a fault. cr2 is only latched for
// page faults. It returns the error that killed the processor, if any.
func (m *Machine) RaiseException(vector uint8, errorCode, cr2 uint32) error {
	if m.dead != nil {
		return m.dead
	}
	if vector == vectorPageFault {
		m.cr2 = cr2
	}
	m.raise(vector, errorCode)
	m.deliverPending()
	return m.dead
}

// Interrupt pulses an IRQ line directly.
func (m *Machine) Interrupt(irq uint8) {
	m.pic.SetIRQ(irq, true)
	m.pic.SetIRQ(irq, false)
	m.deliverPending()
}

func (m *Machine) deliverPending() {
	for m.dead == nil && m.interrupts && m.pic.Pending() {
		_, vector := m.pic.Acknowledge()
		m.stats.Interrupts++
		m.raise(vector, 0)
	}
}

// raise delivers vector, escalating to a double fault when its gate cannot
// be used and to a triple fault when the double fault gate cannot either.
func (m *Machine) raise(vector uint8, errorCode uint32) {
	err := m.enter(vector, errorCode)
	if err == nil {
		return
	}
	if vector == vectorDoubleFault {
		m.dead = fmt.Errorf("%w: %v", ErrTripleFault, err)
		return
	}
	m.stats.DoubleFaults++
	if err := m.enter(vectorDoubleFault, 0); err != nil {
		m.dead = fmt.Errorf("%w: %v", ErrTripleFault, err)
	}
}

func (m *Machine) enter(vector uint8, errorCode uint32) error {
	if m.dead != nil {
		return nil
	}
	gate, ok := descriptor.GateAt(m.idt, vector)
	if !ok {
		return fmt.Errorf("vector %d beyond IDT limit", vector)
	}
	if !gate.Present() {
		return fmt.Errorf("vector %d gate not present", vector)
	}
	if t := gate.Type(); t != descriptor.GateInterrupt32 && t != descriptor.GateTrap32 {
		return fmt.Errorf("vector %d gate type 0x%x", vector, t)
	}
	seg, ok := descriptor.SegmentAt(m.gdt, gate.Selector)
	if !ok || !seg.Present() || seg.Access&descriptor.AccessExecutable == 0 {
		return fmt.Errorf("vector %d gate selector 0x%04x is not a code segment", vector, gate.Selector)
	}
	stubVector, ok := hal.StubVector(gate.Offset)
	if !ok {
		return fmt.Errorf("vector %d gate offset 0x%08x is not a trampoline", vector, gate.Offset)
	}
	if m.entry == nil {
		return fmt.Errorf("vector %d: no trap entry installed", vector)
	}

	regs := m.GPR
	regs.DS, regs.ES, regs.FS, regs.GS = uint32(m.ds), uint32(m.ds), uint32(m.ds), uint32(m.ds)
	regs.Vector = uint32(stubVector)
	if hal.PushesErrorCode(vector) {
		regs.ErrorCode = errorCode
	}
	regs.EIP = m.EIP
	regs.CS = uint32(m.cs)
	regs.EFlags = eflagsReserved
	if m.interrupts {
		regs.EFlags |= eflagsIF
	}
	regs.SS = uint32(m.ds)

	m.stats.Traps++
	m.stats.PerVector[stubVector]++

	saved := m.interrupts
	if gate.Type() == descriptor.GateInterrupt32 {
		m.interrupts = false
	}
	m.call(&regs)
	if m.dead == nil {
		// IRET restores EFLAGS.
		m.interrupts = saved
	}
	return nil
}

func (m *Machine) call(regs *hal.Registers) {
	m.depth++
	defer func() {
		m.depth--
		if r := recover(); r != nil {
			if _, ok := r.(stopSignal); !ok {
				panic(r)
			}
			// Inside Run the code that raised the trap must not resume.
			if m.depth > 0 || m.running > 0 {
				panic(r)
			}
		}
	}()
	m.entry(regs)
}

func cloneTable(t hal.DescriptorTable) hal.DescriptorTable {
	t.Image = append([]byte(nil), t.Image...)
	return t
}

// Err returns the first port bus error, such as an access to an unclaimed
// port.
func (m *Machine) Err() error { return m.busErr }

// Dead returns why the processor stopped, or nil while it is running.
func (m *Machine) Dead() error { return m.dead }

// InterruptsEnabled reports the interrupt flag.
func (m *Machine) InterruptsEnabled() bool { return m.interrupts }

// Segments returns the loaded code and data selectors.
func (m *Machine) Segments() (code, data uint16) { return m.cs, m.ds }

// IDT returns the table last loaded with LIDT.
func (m *Machine) IDT() hal.DescriptorTable { return m.idt }

// GDT returns the table last loaded with LGDT.
func (m *Machine) GDT() hal.DescriptorTable { return m.gdt }

// PIC returns the interrupt controller model.
func (m *Machine) PIC() *DualPIC { return m.pic }

// Controller returns the PS/2 controller model.
func (m *Machine) Controller() *I8042 { return m.ctrl }

// Mouse returns the mouse attached to the auxiliary port.
func (m *Machine) Mouse() *PS2Mouse { return m.mouse }

// Bus returns the port bus.
func (m *Machine) Bus() *Bus { return m.bus }

// PostWrites returns the number of settle delay writes to port 0x80.
func (m *Machine) PostWrites() uint64 { return m.post.writes }

// Stats returns a copy of the processor counters.
func (m *Machine) Stats() Stats { return m.stats }

var (
	_ hal.Platform   = (*Machine)(nil)
	_ hal.TrapSource = (*Machine)(nil)
)
