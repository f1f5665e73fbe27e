// Package mouse is the PS/2 mouse input pipeline: controller setup, the
// IRQ12 handler that assembles packets and derives button events, the
// motion queue between interrupt and poll context, and the cursor
// compositor.
//
// State is split by owner. The interrupt handler owns the packet assembler
// and the held-duration counters and publishes buttons, events and motion
// through atomics and the queue. The poll loop owns the cursor position and
// everything drawn on screen.
package mouse

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyrange/irqcore/internal/hal"
	"github.com/tinyrange/irqcore/internal/interrupt"
)

// IRQ is the interrupt line of the auxiliary PS/2 port.
const IRQ = 12

const (
	dataPort    uint16 = 0x60
	commandPort uint16 = 0x64

	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1
	statusAuxData    = 1 << 5

	cmdReadCommandByte  = 0x20
	cmdWriteCommandByte = 0x60
	cmdEnableAux        = 0xa8
	cmdWriteAux         = 0xd4

	commandByteKeyboardIRQ = 1 << 0
	commandByteAuxIRQ      = 1 << 1

	devSetDefaults     = 0xf6
	devEnableReporting = 0xf4
	devSetSampleRate   = 0xf3
	devAck             = 0xfa
	defaultSpinLimit   = 100000
	defaultFlushLimit  = 64
)

// ErrTimeout is returned when the controller does not become ready.
var ErrTimeout = errors.New("mouse: controller timeout")

// DefaultSampleRates is the rate sequence programmed during Init.
var DefaultSampleRates = []byte{200, 100, 80}

// Config configures a Mouse.
type Config struct {
	// StartX and StartY place the pointer before any motion arrives.
	StartX, StartY int
	Hidden         bool

	// ClickThreshold and HoldCeiling are in packets.
	ClickThreshold uint32
	HoldCeiling    uint32

	SampleRates []byte

	// SpinLimit bounds every wait on the controller status register.
	SpinLimit int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		StartX:         400,
		StartY:         300,
		ClickThreshold: DefaultClickThreshold,
		HoldCeiling:    DefaultHoldCeiling,
		SampleRates:    append([]byte(nil), DefaultSampleRates...),
		SpinLimit:      defaultSpinLimit,
	}
}

func (c *Config) normalize() {
	if c.ClickThreshold == 0 {
		c.ClickThreshold = DefaultClickThreshold
	}
	if c.HoldCeiling == 0 {
		c.HoldCeiling = DefaultHoldCeiling
	}
	if c.SampleRates == nil {
		c.SampleRates = append([]byte(nil), DefaultSampleRates...)
	}
	if c.SpinLimit <= 0 {
		c.SpinLimit = defaultSpinLimit
	}
}

// Stats counts driver activity.
type Stats struct {
	Bytes         uint64
	Packets       uint64
	FramingErrors uint64
	// NotAux counts interrupts that found no mouse byte waiting.
	NotAux   uint64
	Queued   uint64
	Overflow uint64
}

// Mouse is the driver. HandleInterrupt runs in interrupt context; every
// other method belongs to the poll loop.
type Mouse struct {
	io  hal.PortIO
	cfg Config
	log *slog.Logger

	asm        Assembler
	clicks     *ClickTracker
	queue      Queue
	lastQueued uint8
	buttons    atomic.Uint32

	bytes   atomic.Uint64
	packets atomic.Uint64
	framing atomic.Uint64
	notAux  atomic.Uint64
	queued  atomic.Uint64

	cursor *Cursor
}

// New returns a driver talking to the controller through io and drawing on
// surface.
func New(io hal.PortIO, surface Surface, cfg Config, log *slog.Logger) *Mouse {
	if log == nil {
		log = slog.Default()
	}
	cfg.normalize()
	m := &Mouse{
		io:     io,
		cfg:    cfg,
		log:    log.With("component", "mouse"),
		clicks: NewClickTracker(cfg.ClickThreshold, cfg.HoldCeiling),
	}
	m.cursor = NewCursor(surface, &m.queue, cfg.StartX, cfg.StartY, !cfg.Hidden)
	return m
}

func (m *Mouse) waitWrite() error {
	for i := 0; i < m.cfg.SpinLimit; i++ {
		if m.io.InByte(commandPort)&statusInputFull == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: input buffer stayed full", ErrTimeout)
}

func (m *Mouse) waitRead() error {
	for i := 0; i < m.cfg.SpinLimit; i++ {
		if m.io.InByte(commandPort)&statusOutputFull != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no data", ErrTimeout)
}

func (m *Mouse) command(cmd byte) error {
	if err := m.waitWrite(); err != nil {
		return err
	}
	m.io.OutByte(commandPort, cmd)
	return nil
}

func (m *Mouse) writeData(value byte) error {
	if err := m.waitWrite(); err != nil {
		return err
	}
	m.io.OutByte(dataPort, value)
	return nil
}

func (m *Mouse) readData() (byte, error) {
	if err := m.waitRead(); err != nil {
		return 0, err
	}
	return m.io.InByte(dataPort), nil
}

// sendDevice forwards one byte to the mouse and waits for its
// acknowledgement.
func (m *Mouse) sendDevice(value byte) error {
	if err := m.command(cmdWriteAux); err != nil {
		return err
	}
	if err := m.writeData(value); err != nil {
		return err
	}
	resp, err := m.readData()
	if err != nil {
		return fmt.Errorf("mouse: command 0x%02x: %w", value, err)
	}
	if resp != devAck {
		return fmt.Errorf("mouse: command 0x%02x: got 0x%02x, want ack", value, resp)
	}
	return nil
}

// Init enables the auxiliary port and its interrupt, resets the mouse to
// defaults, turns on streaming, programs the sample rates and flushes the
// controller. It then draws the pointer. IRQ12 should stay masked until
// Init returns.
func (m *Mouse) Init() error {
	if err := m.command(cmdEnableAux); err != nil {
		return err
	}
	if err := m.command(cmdReadCommandByte); err != nil {
		return err
	}
	cb, err := m.readData()
	if err != nil {
		return fmt.Errorf("mouse: read command byte: %w", err)
	}
	cb |= commandByteAuxIRQ | commandByteKeyboardIRQ
	if err := m.command(cmdWriteCommandByte); err != nil {
		return err
	}
	if err := m.writeData(cb); err != nil {
		return err
	}

	if err := m.sendDevice(devSetDefaults); err != nil {
		return err
	}
	if err := m.sendDevice(devEnableReporting); err != nil {
		return err
	}
	for _, rate := range m.cfg.SampleRates {
		if err := m.sendDevice(devSetSampleRate); err != nil {
			return err
		}
		if err := m.sendDevice(rate); err != nil {
			return err
		}
	}
	m.flush()

	m.asm.Reset()
	m.log.Debug("mouse initialized", "command_byte", fmt.Sprintf("0x%02x", cb), "sample_rates", m.cfg.SampleRates)
	m.cursor.Show()
	return nil
}

func (m *Mouse) flush() {
	for i := 0; i < defaultFlushLimit; i++ {
		if m.io.InByte(commandPort)&statusOutputFull == 0 {
			return
		}
		m.io.InByte(dataPort)
	}
}

// HandleInterrupt is the IRQ12 handler. It consumes one byte if the
// controller holds one from the mouse. Acknowledging the controller is left
// to the registry.
func (m *Mouse) HandleInterrupt(*interrupt.Frame) {
	status := m.io.InByte(commandPort)
	if status&statusOutputFull == 0 || status&statusAuxData == 0 {
		m.notAux.Add(1)
		return
	}
	m.Feed(m.io.InByte(dataPort))
}

// Feed runs one device byte through the packet assembler. Interrupt
// context only.
func (m *Mouse) Feed(b byte) {
	m.bytes.Add(1)
	before := m.asm.FramingErrors()
	p, ok := m.asm.Feed(b)
	if m.asm.FramingErrors() != before {
		m.framing.Add(1)
		return
	}
	if !ok {
		return
	}
	m.packets.Add(1)
	m.clicks.Update(p.Buttons)
	m.buttons.Store(uint32(p.Buttons))

	if p.DX != 0 || p.DY != 0 || p.Buttons != m.lastQueued {
		m.queue.Push(Motion{DX: p.DX, DY: p.DY, Buttons: p.Buttons})
		m.lastQueued = p.Buttons
		m.queued.Add(1)
	}
}

// Poll drains the motion queue onto the screen.
func (m *Mouse) Poll() { m.cursor.Poll() }

// ForceRedraw draws the pointer again at its current position.
func (m *Mouse) ForceRedraw() { m.cursor.ForceRedraw() }

// SetVisible shows or hides the pointer.
func (m *Mouse) SetVisible(visible bool) { m.cursor.SetVisible(visible) }

// Visible reports whether the pointer is shown.
func (m *Mouse) Visible() bool { return m.cursor.Visible() }

// X returns the pointer column.
func (m *Mouse) X() int {
	x, _ := m.cursor.Position()
	return x
}

// Y returns the pointer row.
func (m *Mouse) Y() int {
	_, y := m.cursor.Position()
	return y
}

// Buttons returns the mask of the last complete packet.
func (m *Mouse) Buttons() uint8 { return uint8(m.buttons.Load()) }

// IsPressed reports whether any button in mask is held.
func (m *Mouse) IsPressed(mask uint8) bool { return m.Buttons()&mask != 0 }

// ConsumePress reports and clears one press of a button in mask.
func (m *Mouse) ConsumePress(mask uint8) bool { return m.clicks.ConsumePress(mask) }

// ConsumeRelease reports and clears one release of a button in mask.
func (m *Mouse) ConsumeRelease(mask uint8) bool { return m.clicks.ConsumeRelease(mask) }

// ConsumeClick reports and takes one click of a button in mask.
func (m *Mouse) ConsumeClick(mask uint8) bool { return m.clicks.ConsumeClick(mask) }

// QueueEmpty reports whether motion is waiting to be drawn.
func (m *Mouse) QueueEmpty() bool { return m.queue.Empty() }

// QueueLen returns the number of queued motion entries.
func (m *Mouse) QueueLen() int { return m.queue.Len() }

// Cursor returns the compositor.
func (m *Mouse) Cursor() *Cursor { return m.cursor }

// Clicks returns the click tracker.
func (m *Mouse) Clicks() *ClickTracker { return m.clicks }

// Stats returns the driver counters.
func (m *Mouse) Stats() Stats {
	return Stats{
		Bytes:         m.bytes.Load(),
		Packets:       m.packets.Load(),
		FramingErrors: m.framing.Load(),
		NotAux:        m.notAux.Load(),
		Queued:        m.queued.Load(),
		Overflow:      m.queue.Dropped(),
	}
}

var _ interrupt.Handler = (*Mouse)(nil)
