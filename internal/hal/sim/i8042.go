package sim

import (
	"fmt"
)

const (
	i8042DataPort    uint16 = 0x60
	i8042CommandPort uint16 = 0x64

	i8042CommandReadCommandByte  = 0x20
	i8042CommandWriteCommandByte = 0x60
	i8042CommandDisableAuxPort   = 0xa7
	i8042CommandEnableAuxPort    = 0xa8
	i8042CommandTestAuxPort      = 0xa9
	i8042CommandControllerTest   = 0xaa
	i8042CommandTestFirstPort    = 0xab
	i8042CommandDisableFirstPort = 0xad
	i8042CommandEnableFirstPort  = 0xae
	i8042CommandWriteAuxDevice   = 0xd4
)

const (
	i8042StatusOutputFull = 1 << 0
	i8042StatusSystemFlag = 1 << 2
	i8042StatusKeyLock    = 1 << 4
	i8042StatusAuxData    = 1 << 5
)

const (
	i8042CommandByteKeyboardIRQ     = 1 << 0
	i8042CommandByteAuxIRQ          = 1 << 1
	i8042CommandByteSystemFlag      = 1 << 2
	i8042CommandByteDisablePort1Clk = 1 << 4
	i8042CommandByteDisableAuxClk   = 1 << 5
)

const (
	i8042ResponseSelfTestOK = 0x55
	i8042ResponsePortOK     = 0x00

	// outputQueueLimit bounds the bytes the controller holds on behalf of
	// its devices; real hardware has a single byte buffer and devices stall.
	outputQueueLimit = 64

	irqKeyboard = 1
	irqAux      = 12
)

type outputByte struct {
	value byte
	aux   bool
}

// AuxDevice is a device attached to the auxiliary (mouse) port.
type AuxDevice interface {
	HandleCommand(cmd byte)
}

// I8042 models the PS/2 controller with a keyboard port and an auxiliary
// port. Bytes queued by devices are presented one at a time through the
// data port; the matching IRQ line is high while a byte from that port is
// waiting and interrupts for it are enabled in the command byte.
type I8042 struct {
	commandByte byte
	output      []outputByte

	expectingCommandByte bool
	expectingAuxByte     bool

	aux    AuxDevice
	setIRQ func(line uint8, level bool)

	dropped uint64
}

// NewI8042 returns a controller with both ports disabled, matching the state
// firmware leaves it in before an operating system claims the mouse.
func NewI8042() *I8042 {
	return &I8042{
		commandByte: i8042CommandByteSystemFlag | i8042CommandByteKeyboardIRQ | i8042CommandByteDisableAuxClk,
		setIRQ:      func(uint8, bool) {},
	}
}

// SetInterruptSink connects the controller's IRQ1 and IRQ12 outputs.
func (c *I8042) SetInterruptSink(fn func(line uint8, level bool)) {
	if fn == nil {
		fn = func(uint8, bool) {}
	}
	c.setIRQ = fn
}

// AttachAux connects a device to the auxiliary port.
func (c *I8042) AttachAux(dev AuxDevice) {
	c.aux = dev
}

func (c *I8042) IOPorts() []uint16 {
	return []uint16{i8042DataPort, i8042CommandPort}
}

func (c *I8042) ReadIOPort(port uint16, data []byte) error {
	for i := range data {
		switch port {
		case i8042CommandPort:
			data[i] = c.status()
		case i8042DataPort:
			data[i] = c.readData()
		default:
			return fmt.Errorf("i8042: invalid read port 0x%04x", port)
		}
	}
	return nil
}

func (c *I8042) WriteIOPort(port uint16, data []byte) error {
	for _, value := range data {
		switch port {
		case i8042CommandPort:
			c.handleCommand(value)
		case i8042DataPort:
			c.handleDataWrite(value)
		default:
			return fmt.Errorf("i8042: invalid write port 0x%04x", port)
		}
	}
	return nil
}

func (c *I8042) handleCommand(command byte) {
	switch command {
	case i8042CommandReadCommandByte:
		c.queueController(c.commandByte)
	case i8042CommandWriteCommandByte:
		c.expectingCommandByte = true
	case i8042CommandDisableAuxPort:
		c.commandByte |= i8042CommandByteDisableAuxClk
	case i8042CommandEnableAuxPort:
		c.commandByte &^= i8042CommandByteDisableAuxClk
	case i8042CommandTestAuxPort, i8042CommandTestFirstPort:
		c.queueController(i8042ResponsePortOK)
	case i8042CommandControllerTest:
		c.queueController(i8042ResponseSelfTestOK)
	case i8042CommandDisableFirstPort:
		c.commandByte |= i8042CommandByteDisablePort1Clk
	case i8042CommandEnableFirstPort:
		c.commandByte &^= i8042CommandByteDisablePort1Clk
	case i8042CommandWriteAuxDevice:
		c.expectingAuxByte = true
	}
}

func (c *I8042) handleDataWrite(value byte) {
	switch {
	case c.expectingCommandByte:
		c.commandByte = value
		c.expectingCommandByte = false
		c.updateIRQs()
	case c.expectingAuxByte:
		c.expectingAuxByte = false
		if c.aux != nil {
			c.aux.HandleCommand(value)
		}
	}
}

func (c *I8042) status() byte {
	status := byte(i8042StatusKeyLock)
	if len(c.output) > 0 {
		status |= i8042StatusOutputFull
		if c.output[0].aux {
			status |= i8042StatusAuxData
		}
	}
	status |= c.commandByte & i8042StatusSystemFlag
	return status
}

func (c *I8042) readData() byte {
	if len(c.output) == 0 {
		return 0x00
	}
	value := c.output[0].value
	c.output = c.output[1:]
	c.lowerIRQs()
	c.updateIRQs()
	return value
}

func (c *I8042) queueController(value byte) {
	c.enqueue(outputByte{value: value})
}

// QueueAuxData presents a byte from the auxiliary device. Bytes are dropped
// while the auxiliary clock is disabled.
func (c *I8042) QueueAuxData(value byte) {
	if c.commandByte&i8042CommandByteDisableAuxClk != 0 {
		c.dropped++
		return
	}
	c.enqueue(outputByte{value: value, aux: true})
}

// AuxEnabled reports whether the auxiliary port clock is running.
func (c *I8042) AuxEnabled() bool {
	return c.commandByte&i8042CommandByteDisableAuxClk == 0
}

// CommandByte returns the controller configuration byte.
func (c *I8042) CommandByte() byte {
	return c.commandByte
}

// Dropped returns the number of device bytes lost to a full or disabled
// port.
func (c *I8042) Dropped() uint64 {
	return c.dropped
}

func (c *I8042) enqueue(b outputByte) {
	if len(c.output) >= outputQueueLimit {
		c.dropped++
		return
	}
	c.output = append(c.output, b)
	if len(c.output) == 1 {
		c.updateIRQs()
	}
}

func (c *I8042) lowerIRQs() {
	c.setIRQ(irqKeyboard, false)
	c.setIRQ(irqAux, false)
}

func (c *I8042) updateIRQs() {
	if len(c.output) == 0 {
		return
	}
	head := c.output[0]
	switch {
	case head.aux && c.commandByte&i8042CommandByteAuxIRQ != 0:
		c.setIRQ(irqAux, true)
	case !head.aux && c.commandByte&i8042CommandByteKeyboardIRQ != 0:
		c.setIRQ(irqKeyboard, true)
	}
}
