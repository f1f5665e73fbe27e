package sim

import (
	"fmt"
	"math/bits"
)

const (
	primaryPicCommandPort   uint16 = 0x20
	primaryPicDataPort      uint16 = 0x21
	secondaryPicCommandPort uint16 = 0xa0
	secondaryPicDataPort    uint16 = 0xa1

	picChainCommunicationIRQ = 2
	picIRQMask               = 0x7
	picSpuriousIRQ           = 7
)

// PICStats tracks traffic through the controller pair.
type PICStats struct {
	Acknowledges uint64
	Spurious     uint64
	EOIs         uint64
	// IgnoredWrites counts command words that arrived in a state where the
	// controller could not accept them.
	IgnoredWrites uint64
	PerIRQ        [16]uint64
}

// DualPIC models the classic pair of cascaded 8259A controllers in edge
// triggered mode. It is driven entirely by the simulated CPU and is not safe
// for concurrent use.
type DualPIC struct {
	pics  [2]*pic
	ready func(level bool)
	stats PICStats
}

// NewDualPIC returns a controller pair in its power-on state: uninitialized,
// with the BIOS vector bases 0x08 and 0x70 and all lines unmasked.
func NewDualPIC() *DualPIC {
	return &DualPIC{
		pics: [2]*pic{
			newPic(true),
			newPic(false),
		},
		ready: func(bool) {},
	}
}

// SetReadyLine installs the callback driven by the primary INT output.
func (p *DualPIC) SetReadyLine(fn func(level bool)) {
	if fn == nil {
		fn = func(bool) {}
	}
	p.ready = fn
	p.syncOutputs()
}

func (p *DualPIC) IOPorts() []uint16 {
	return []uint16{
		primaryPicCommandPort,
		primaryPicDataPort,
		secondaryPicCommandPort,
		secondaryPicDataPort,
	}
}

func (p *DualPIC) ReadIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic: invalid read size %d", len(data))
	}
	switch port {
	case primaryPicCommandPort:
		data[0] = p.pics[0].readCommand()
	case primaryPicDataPort:
		data[0] = p.pics[0].imr
	case secondaryPicCommandPort:
		data[0] = p.pics[1].readCommand()
	case secondaryPicDataPort:
		data[0] = p.pics[1].imr
	default:
		return fmt.Errorf("pic: invalid read port 0x%04x", port)
	}
	return nil
}

func (p *DualPIC) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic: invalid write size %d", len(data))
	}
	var ok bool
	switch port {
	case primaryPicCommandPort:
		ok = p.pics[0].writeCommand(data[0], &p.stats)
	case primaryPicDataPort:
		ok = p.pics[0].writeData(data[0])
	case secondaryPicCommandPort:
		ok = p.pics[1].writeCommand(data[0], &p.stats)
	case secondaryPicDataPort:
		ok = p.pics[1].writeData(data[0])
	default:
		return fmt.Errorf("pic: invalid write port 0x%04x", port)
	}
	if !ok {
		p.stats.IgnoredWrites++
	}
	p.syncOutputs()
	return nil
}

func (p *DualPIC) syncOutputs() {
	p.pics[0].setCascade(p.pics[1].interruptPending())
	p.ready(p.pics[0].interruptPending())
}

// SetIRQ drives one of the sixteen input lines. A rising edge latches a
// request.
func (p *DualPIC) SetIRQ(line uint8, level bool) {
	if line >= 16 {
		return
	}
	if line >= 8 {
		p.pics[1].setIRQ(line-8, level)
	} else {
		p.pics[0].setIRQ(line, level)
	}
	p.syncOutputs()
}

// Pending reports whether the INT output is asserted.
func (p *DualPIC) Pending() bool {
	return p.pics[0].interruptPending()
}

// Acknowledge performs the INTA cycle. It returns whether a real interrupt
// was pending and the vector to deliver; for spurious interrupts the vector
// is that of line 7 on the controller concerned.
func (p *DualPIC) Acknowledge() (bool, uint8) {
	requested, line := p.pics[0].acknowledge()
	vec := p.pics[0].icw2 | line
	switch {
	case !requested:
		p.stats.Spurious++
	case line == picChainCommunicationIRQ:
		secRequested, secLine := p.pics[1].acknowledge()
		vec = p.pics[1].icw2 | secLine
		if !secRequested {
			p.stats.Spurious++
			requested = false
			break
		}
		p.stats.Acknowledges++
		p.stats.PerIRQ[8+secLine]++
	default:
		p.stats.Acknowledges++
		p.stats.PerIRQ[line]++
	}
	p.syncOutputs()
	return requested, vec
}

// Masks returns the interrupt mask registers.
func (p *DualPIC) Masks() (primary, secondary byte) {
	return p.pics[0].imr, p.pics[1].imr
}

// InService returns the combined in-service register, secondary in the high
// byte.
func (p *DualPIC) InService() uint16 {
	return uint16(p.pics[1].isr)<<8 | uint16(p.pics[0].isr)
}

// Requests returns the combined interrupt request register.
func (p *DualPIC) Requests() uint16 {
	return uint16(p.pics[1].irr)<<8 | uint16(p.pics[0].irr)
}

// Initialized reports whether both controllers completed ICW1..ICW4.
func (p *DualPIC) Initialized() bool {
	return p.pics[0].initStage == initInitialized && p.pics[1].initStage == initInitialized
}

// VectorBases returns the programmed ICW2 of both controllers.
func (p *DualPIC) VectorBases() (primary, secondary byte) {
	return p.pics[0].icw2, p.pics[1].icw2
}

// Stats returns a copy of the traffic counters.
func (p *DualPIC) Stats() PICStats {
	return p.stats
}

func (p *DualPIC) String() string {
	return fmt.Sprintf("PIC(primary=%v, secondary=%v)", p.pics[0], p.pics[1])
}

// pic models a single 8259A.
type pic struct {
	primary bool

	initStage initStage
	icw2      byte
	imr       byte
	isr       byte
	irr       byte
	lines     byte
	ocw3      ocw3
}

func newPic(primary bool) *pic {
	icw2 := byte(0x08)
	if !primary {
		icw2 = 0x70
	}
	return &pic{
		primary:   primary,
		initStage: initUninitialized,
		icw2:      icw2,
	}
}

func (p *pic) String() string {
	return fmt.Sprintf("{base=0x%02x imr=0x%02x irr=0x%02x isr=0x%02x stage=%d}", p.icw2, p.imr, p.irr, p.isr, p.initStage)
}

func (p *pic) setIRQ(line uint8, high bool) {
	bit := byte(1 << line)
	if high && p.lines&bit == 0 {
		p.irr |= bit
	}
	if high {
		p.lines |= bit
	} else {
		p.lines &^= bit
	}
}

// setCascade mirrors the secondary INT output onto line 2 of the primary.
// Unlike device lines it is level sensitive: the request disappears when
// the secondary has nothing left to deliver.
func (p *pic) setCascade(level bool) {
	const bit = 1 << picChainCommunicationIRQ
	if level {
		p.irr |= bit
		p.lines |= bit
	} else {
		p.irr &^= bit
		p.lines &^= bit
	}
}

func (p *pic) readyVec() byte {
	higherThanInService := lowestSetBit(p.isr) - 1
	return p.irr &^ p.imr & higherThanInService
}

func (p *pic) interruptPending() bool {
	return p.initStage == initInitialized && p.readyVec() != 0
}

func (p *pic) acknowledge() (bool, byte) {
	vec := p.readyVec()
	if vec == 0 {
		return false, picSpuriousIRQ
	}
	line := byte(bits.TrailingZeros8(vec))
	bit := byte(1 << line)
	p.irr &^= bit
	p.isr |= bit
	return true, line
}

func (p *pic) eoi(line *byte) {
	if line != nil {
		p.isr &^= 1 << *line
		return
	}
	p.isr &^= lowestSetBit(p.isr)
}

func (p *pic) readCommand() byte {
	if p.ocw3.ris() {
		return p.isr
	}
	return p.irr
}

func (p *pic) writeCommand(value byte, stats *PICStats) bool {
	const (
		initBit    = 0x10
		commandBit = 0x08
	)

	if value&initBit != 0 {
		*p = pic{primary: p.primary, icw2: p.icw2, lines: p.lines}
		p.initStage = initExpectingICW2
		// Only edge triggered, cascaded, ICW4-needed mode is modelled.
		return value == 0x11
	}

	if p.initStage != initInitialized {
		return false
	}

	if value&commandBit == 0 {
		ocw := ocw2(value)
		switch {
		case ocw.EOI() && ocw.SL():
			line := ocw.Level()
			p.eoi(&line)
		case ocw.EOI():
			p.eoi(nil)
		default:
			return false
		}
		stats.EOIs++
		return true
	}

	p.ocw3 = ocw3(value)
	return true
}

func (p *pic) writeData(value byte) bool {
	switch p.initStage {
	case initUninitialized, initInitialized:
		p.imr = value
	case initExpectingICW2:
		if value&picIRQMask != 0 {
			return false
		}
		p.icw2 = value
		p.initStage = initExpectingICW3
	case initExpectingICW3:
		if p.primary {
			if value != (1 << picChainCommunicationIRQ) {
				return false
			}
		} else if value != picChainCommunicationIRQ {
			return false
		}
		p.initStage = initExpectingICW4
	case initExpectingICW4:
		if value != 1 && value != 3 {
			return false
		}
		p.initStage = initInitialized
	}
	return true
}

type initStage int

const (
	initUninitialized initStage = iota
	initExpectingICW2
	initExpectingICW3
	initExpectingICW4
	initInitialized
)

type ocw2 byte

type ocw3 byte

func (o ocw2) Level() byte { return byte(o) & 0x07 }
func (o ocw2) SL() bool    { return byte(o)&0x40 != 0 }
func (o ocw2) EOI() bool   { return byte(o)&0x20 != 0 }

func (o ocw3) ris() bool { return byte(o)&0x03 == 0x03 }

func lowestSetBit(b byte) byte {
	return b & byte(-int8(b))
}
