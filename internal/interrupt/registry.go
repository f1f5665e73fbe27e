// Package interrupt is the dispatch registry: a fixed table of optional
// handlers indexed by vector, and the default actions taken for vectors
// nobody claimed.
package interrupt

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/tinyrange/irqcore/internal/descriptor"
	"github.com/tinyrange/irqcore/internal/diag"
	"github.com/tinyrange/irqcore/internal/hal"
)

// Frame is the register snapshot a trampoline hands to Dispatch. Handlers
// must not keep the pointer past their return.
type Frame = hal.Registers

// Handler handles one vector. Handlers run with interrupts disabled and
// must not block.
type Handler interface {
	HandleInterrupt(f *Frame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f *Frame)

func (fn HandlerFunc) HandleInterrupt(f *Frame) { fn(f) }

// Controller is the part of the interrupt controller driver the registry
// needs.
type Controller interface {
	Enable(irq uint8)
	SendEOI(irq uint8)
	IsSpurious(irq uint8) bool
	AcknowledgeSpurious(irq uint8)
}

// Policy is what happens to an exception without a handler.
type Policy int

const (
	// PolicyHalt logs the frame and stops the processor.
	PolicyHalt Policy = iota
	// PolicyIgnore returns to the faulting code.
	PolicyIgnore
)

func (p Policy) String() string {
	switch p {
	case PolicyHalt:
		return "halt"
	case PolicyIgnore:
		return "ignore"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses "halt" or "ignore".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "halt", "":
		return PolicyHalt, nil
	case "ignore":
		return PolicyIgnore, nil
	}
	return 0, fmt.Errorf("interrupt: unknown exception policy %q", s)
}

// Options configures a Registry.
type Options struct {
	Policy Policy
	// CheckSpurious reads the in-service register on IRQ7 and IRQ15 and
	// drops the interrupt when the line is not actually in service.
	CheckSpurious bool
	Log           *slog.Logger
	Diag          *diag.Log
}

// Stats counts dispatched vectors.
type Stats struct {
	Exceptions uint64
	IRQs       uint64
	// Dropped counts IRQs that arrived with no handler registered.
	Dropped   uint64
	Spurious  uint64
	Unhandled uint64
	PerVector [hal.VectorCount]uint64
}

type slot struct {
	h Handler
}

// Registry maps vectors to handlers.
type Registry struct {
	platform hal.Platform
	ctrl     Controller
	opts     Options
	log      *slog.Logger
	diag     diag.Writer

	handlers [hal.VectorCount]atomic.Pointer[slot]

	exceptions atomic.Uint64
	irqs       atomic.Uint64
	dropped    atomic.Uint64
	spurious   atomic.Uint64
	unhandled  atomic.Uint64
	perVector  [hal.VectorCount]atomic.Uint64
}

// New returns an empty registry. platform is used to stop the processor on
// fatal exceptions and ctrl to acknowledge IRQs.
func New(platform hal.Platform, ctrl Controller, opts Options) *Registry {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		platform: platform,
		ctrl:     ctrl,
		opts:     opts,
		log:      log.With("component", "interrupt"),
		diag:     opts.Diag.WithSource("interrupt"),
	}
}

// InstallGates points every IDT slot at its trampoline so that no vector
// can be taken into an empty gate.
func InstallGates(idt *descriptor.IDT) {
	for v := 0; v < hal.VectorCount; v++ {
		idt.SetGate(uint8(v), hal.StubAddress(uint8(v)), descriptor.KernelCodeSelector, descriptor.KernelInterruptGate)
	}
}

// Attach makes src deliver its traps to the registry.
func (r *Registry) Attach(src hal.TrapSource) {
	src.SetTrapEntry(r.Dispatch)
}

func (r *Registry) set(v Vector, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("interrupt: nil handler for %v", v))
	}
	r.handlers[v].Store(&slot{h: h})
}

// RegisterException installs the handler for a processor exception. A
// second registration replaces the first.
func (r *Registry) RegisterException(v Vector, h Handler) {
	if !v.IsException() {
		panic(fmt.Sprintf("interrupt: %v is not an exception vector", v))
	}
	r.set(v, h)
}

// RegisterIRQ installs the handler for an interrupt line and unmasks the
// line.
func (r *Registry) RegisterIRQ(irq uint8, h Handler) {
	if irq >= IRQCount {
		panic(fmt.Sprintf("interrupt: IRQ%d out of range", irq))
	}
	r.set(IRQBase+Vector(irq), h)
	r.ctrl.Enable(irq)
	r.log.Debug("irq registered", "irq", irq)
}

// Registered reports whether v has a handler.
func (r *Registry) Registered(v Vector) bool {
	return r.handlers[v].Load() != nil
}

func (r *Registry) handler(v Vector) Handler {
	if s := r.handlers[v].Load(); s != nil {
		return s.h
	}
	return nil
}

// Dispatch is the common entry of every trampoline.
func (r *Registry) Dispatch(f *Frame) {
	if f.Vector >= hal.VectorCount {
		r.log.Error("trap frame with impossible vector", "vector", f.Vector)
		return
	}
	v := Vector(f.Vector)
	r.perVector[v].Add(1)

	if v.IsException() {
		r.exception(v, f)
		return
	}
	if irq, ok := v.IRQ(); ok {
		r.irq(irq, v, f)
		return
	}
	// No controller is wired above IRQ15, so no acknowledgement is owed.
	r.unhandled.Add(1)
	r.log.Warn("unhandled interrupt", "vector", uint8(v))
}

func (r *Registry) exception(v Vector, f *Frame) {
	r.exceptions.Add(1)
	if h := r.handler(v); h != nil {
		h.HandleInterrupt(f)
		return
	}
	r.unhandled.Add(1)
	if r.opts.Policy == PolicyIgnore {
		r.log.Warn("unhandled exception ignored", "exception", v.String(), "eip", fmt.Sprintf("0x%08x", f.EIP))
		return
	}
	r.halt("unhandled exception", v, f)
}

func (r *Registry) irq(irq uint8, v Vector, f *Frame) {
	r.irqs.Add(1)
	if r.opts.CheckSpurious && r.ctrl.IsSpurious(irq) {
		r.spurious.Add(1)
		r.ctrl.AcknowledgeSpurious(irq)
		r.log.Debug("spurious interrupt", "irq", irq)
		return
	}
	if h := r.handler(v); h != nil {
		h.HandleInterrupt(f)
	} else {
		r.dropped.Add(1)
	}
	r.ctrl.SendEOI(irq)
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() Stats {
	s := Stats{
		Exceptions: r.exceptions.Load(),
		IRQs:       r.irqs.Load(),
		Dropped:    r.dropped.Load(),
		Spurious:   r.spurious.Load(),
		Unhandled:  r.unhandled.Load(),
	}
	for i := range r.perVector {
		s.PerVector[i] = r.perVector[i].Load()
	}
	return s
}
