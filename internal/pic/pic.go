// Package pic drives the pair of cascaded 8259A interrupt controllers.
package pic

import (
	"log/slog"

	"github.com/tinyrange/irqcore/internal/hal"
)

const (
	PrimaryCommandPort   uint16 = 0x20
	PrimaryDataPort      uint16 = 0x21
	SecondaryCommandPort uint16 = 0xa0
	SecondaryDataPort    uint16 = 0xa1
)

// Vector bases the controllers are remapped to so hardware IRQs do not
// collide with CPU exceptions.
const (
	PrimaryVectorBase   uint8 = 0x20
	SecondaryVectorBase uint8 = 0x28

	// IRQCount is the number of lines across both controllers.
	IRQCount = 16
)

const (
	icw1Init  = 0x10
	icw1ICW4  = 0x01
	icw4_8086 = 0x01

	// Primary ICW3 is a bitmask of lines with a secondary attached;
	// secondary ICW3 is the primary line number it is attached to.
	cascadeIRQ         = 2
	primaryICW3        = 1 << cascadeIRQ
	secondaryICW3      = cascadeIRQ
	eoiCommand         = 0x20
	ocw3ReadIRR        = 0x0a
	ocw3ReadISR        = 0x0b
	spuriousLine       = 7
	allMasked     byte = 0xff
)

// Stats counts controller traffic.
type Stats struct {
	EOIs     uint64
	Spurious uint64
}

// Controller owns the interrupt mask registers and the EOI protocol.
type Controller struct {
	io  hal.PortIO
	log *slog.Logger

	// cascadeExplicit records that IRQ2 was enabled by name rather than
	// implicitly on behalf of a secondary line.
	cascadeExplicit bool

	stats Stats
}

// New returns a controller driver talking through io. Call Initialize before
// enabling any line.
func New(io hal.PortIO, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		io:  io,
		log: log.With("component", "pic"),
	}
}

// VectorFor returns the CPU vector an IRQ line is delivered on after
// Initialize.
func VectorFor(irq uint8) uint8 {
	return PrimaryVectorBase + irq
}

// IRQFor maps a CPU vector back to an IRQ line.
func IRQFor(vector uint8) (uint8, bool) {
	if vector < PrimaryVectorBase || vector >= PrimaryVectorBase+IRQCount {
		return 0, false
	}
	return vector - PrimaryVectorBase, true
}

func (c *Controller) write(port uint16, value byte) {
	c.io.OutByte(port, value)
	hal.IOWait(c.io)
}

// Initialize runs the ICW1..ICW4 sequence on both controllers, remapping
// them to PrimaryVectorBase/SecondaryVectorBase, and masks every line.
func (c *Controller) Initialize() {
	c.write(PrimaryCommandPort, icw1Init|icw1ICW4)
	c.write(SecondaryCommandPort, icw1Init|icw1ICW4)

	c.write(PrimaryDataPort, PrimaryVectorBase)
	c.write(SecondaryDataPort, SecondaryVectorBase)

	c.write(PrimaryDataPort, primaryICW3)
	c.write(SecondaryDataPort, secondaryICW3)

	c.write(PrimaryDataPort, icw4_8086)
	c.write(SecondaryDataPort, icw4_8086)

	c.write(PrimaryDataPort, allMasked)
	c.write(SecondaryDataPort, allMasked)

	c.cascadeExplicit = false
	c.log.Debug("controllers remapped",
		slog.Int("primary_base", int(PrimaryVectorBase)),
		slog.Int("secondary_base", int(SecondaryVectorBase)))
}

func dataPort(irq uint8) (uint16, uint8) {
	if irq < 8 {
		return PrimaryDataPort, irq
	}
	return SecondaryDataPort, irq - 8
}

func (c *Controller) setMaskBit(irq uint8, masked bool) {
	port, line := dataPort(irq)
	value := c.io.InByte(port)
	if masked {
		value |= 1 << line
	} else {
		value &^= 1 << line
	}
	c.io.OutByte(port, value)
}

// Enable unmasks one line. Enabling a secondary line also unmasks the
// cascade line on the primary.
func (c *Controller) Enable(irq uint8) {
	if irq >= IRQCount {
		return
	}
	c.setMaskBit(irq, false)
	switch {
	case irq == cascadeIRQ:
		c.cascadeExplicit = true
	case irq >= 8:
		c.setMaskBit(cascadeIRQ, false)
	}
}

// Disable masks one line. The cascade line stays unmasked while any
// secondary line is enabled, and is re-masked when the last secondary line
// goes away unless it was enabled explicitly.
func (c *Controller) Disable(irq uint8) {
	if irq >= IRQCount {
		return
	}
	secondaryActive := func() bool {
		return c.io.InByte(SecondaryDataPort) != allMasked
	}

	switch {
	case irq == cascadeIRQ:
		c.cascadeExplicit = false
		if secondaryActive() {
			c.log.Debug("cascade line kept unmasked for secondary controller")
			return
		}
		c.setMaskBit(irq, true)
	case irq >= 8:
		c.setMaskBit(irq, true)
		if !c.cascadeExplicit && !secondaryActive() {
			c.setMaskBit(cascadeIRQ, true)
		}
	default:
		c.setMaskBit(irq, true)
	}
}

// SendEOI acknowledges an interrupt. Lines on the secondary controller need
// an acknowledgement on both controllers, secondary first.
func (c *Controller) SendEOI(irq uint8) {
	if irq >= 8 {
		c.io.OutByte(SecondaryCommandPort, eoiCommand)
	}
	c.io.OutByte(PrimaryCommandPort, eoiCommand)
	c.stats.EOIs++
}

// Masks returns the current interrupt mask registers.
func (c *Controller) Masks() (primary, secondary byte) {
	return c.io.InByte(PrimaryDataPort), c.io.InByte(SecondaryDataPort)
}

// Enabled reports whether a line is currently unmasked.
func (c *Controller) Enabled(irq uint8) bool {
	port, line := dataPort(irq)
	return c.io.InByte(port)&(1<<line) == 0
}

func (c *Controller) readRegister(ocw3 byte) uint16 {
	c.io.OutByte(PrimaryCommandPort, ocw3)
	c.io.OutByte(SecondaryCommandPort, ocw3)
	return uint16(c.io.InByte(SecondaryCommandPort))<<8 | uint16(c.io.InByte(PrimaryCommandPort))
}

// ReadIRR returns the combined interrupt request register, secondary in the
// high byte.
func (c *Controller) ReadIRR() uint16 {
	return c.readRegister(ocw3ReadIRR)
}

// ReadISR returns the combined in-service register, secondary in the high
// byte.
func (c *Controller) ReadISR() uint16 {
	return c.readRegister(ocw3ReadISR)
}

// IsSpurious reports whether an IRQ7 or IRQ15 was raised without the line
// being in service, which happens when the request disappears before the
// CPU acknowledges it.
func (c *Controller) IsSpurious(irq uint8) bool {
	if irq != spuriousLine && irq != spuriousLine+8 {
		return false
	}
	return c.ReadISR()&(1<<irq) == 0
}

// AcknowledgeSpurious finishes a spurious interrupt. A spurious IRQ15 still
// left the cascade line in service on the primary, so only the primary is
// acknowledged; a spurious IRQ7 needs nothing.
func (c *Controller) AcknowledgeSpurious(irq uint8) {
	c.stats.Spurious++
	if irq >= 8 {
		c.io.OutByte(PrimaryCommandPort, eoiCommand)
	}
}

// Stats returns a copy of the traffic counters.
func (c *Controller) Stats() Stats {
	return c.stats
}
