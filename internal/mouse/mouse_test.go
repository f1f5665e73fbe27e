package mouse

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/tinyrange/irqcore/internal/descriptor"
	"github.com/tinyrange/irqcore/internal/hal/sim"
	"github.com/tinyrange/irqcore/internal/interrupt"
	"github.com/tinyrange/irqcore/internal/pic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedPorts answers status reads with a fixed value and data reads
// from a list.
type scriptedPorts struct {
	status byte
	data   []byte
	writes []byte
}

func (p *scriptedPorts) InByte(port uint16) byte {
	if port == commandPort {
		return p.status
	}
	if len(p.data) == 0 {
		return 0
	}
	b := p.data[0]
	p.data = p.data[1:]
	return b
}

func (p *scriptedPorts) OutByte(port uint16, value byte) {
	p.writes = append(p.writes, value)
}

func newTestMouse(t *testing.T, cfg Config) (*Mouse, *testSurface) {
	t.Helper()
	s := newTestSurface(800, 600)
	return New(&scriptedPorts{}, s, cfg, discardLogger()), s
}

func feed(m *Mouse, bytes ...byte) {
	for _, b := range bytes {
		m.Feed(b)
	}
}

func TestFeedQueuesMotion(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	feed(m, 0x09, 5, 0xfd)

	if m.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1", m.QueueLen())
	}
	if !m.IsPressed(ButtonLeft) || m.Buttons() != ButtonLeft {
		t.Fatalf("buttons = %#x", m.Buttons())
	}
	y := m.Y()
	m.Poll()
	if m.X() != 405 || m.Y() != y+3 {
		t.Fatalf("position = %d,%d", m.X(), m.Y())
	}
	if !m.QueueEmpty() {
		t.Fatalf("queue not drained")
	}
}

func TestFeedWithoutButtons(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	feed(m, 0x08, 5, 0xfd)
	if m.Buttons() != 0 || m.IsPressed(ButtonLeft|ButtonRight|ButtonMiddle) {
		t.Fatalf("buttons = %#x", m.Buttons())
	}
	if m.QueueLen() != 1 {
		t.Fatalf("queue length = %d", m.QueueLen())
	}
}

func TestIdlePacketsAreNotQueued(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		feed(m, 0x08, 0, 0)
	}
	if !m.QueueEmpty() {
		t.Fatalf("idle packets queued")
	}
	feed(m, 0x09, 0, 0)
	feed(m, 0x09, 0, 0)
	if m.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1 for the button change", m.QueueLen())
	}
	if st := m.Stats(); st.Packets != 7 || st.Queued != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFeedCountsFramingErrors(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	feed(m, 0x00, 0x07, 0x09, 1, 1)
	st := m.Stats()
	if st.FramingErrors != 2 || st.Packets != 1 || st.Bytes != 5 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestShortPressThroughFeed(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		feed(m, 0x09, 0, 0)
	}
	feed(m, 0x08, 0, 0)
	if !m.ConsumePress(ButtonLeft) || !m.ConsumeRelease(ButtonLeft) {
		t.Fatalf("press/release missing")
	}
	if !m.ConsumeClick(ButtonLeft) {
		t.Fatalf("no click")
	}
	if m.ConsumeClick(ButtonLeft) {
		t.Fatalf("click reported twice")
	}
}

func TestQueueOverflowThroughFeed(t *testing.T) {
	m, _ := newTestMouse(t, DefaultConfig())
	for i := 0; i < 20; i++ {
		feed(m, 0x08, 1, 0)
	}
	if m.QueueLen() != QueueCapacity || m.Stats().Overflow != 4 {
		t.Fatalf("len=%d stats=%+v", m.QueueLen(), m.Stats())
	}
	m.Poll()
	if m.X() != 416 {
		t.Fatalf("x = %d, want 416 after the surviving entries", m.X())
	}
}

func TestHandleInterruptIgnoresKeyboardByte(t *testing.T) {
	ports := &scriptedPorts{status: statusOutputFull, data: []byte{0x1c}}
	m := New(ports, newTestSurface(100, 100), DefaultConfig(), discardLogger())
	m.HandleInterrupt(&interrupt.Frame{})
	if st := m.Stats(); st.NotAux != 1 || st.Bytes != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if len(ports.data) != 1 {
		t.Fatalf("keyboard byte consumed")
	}
}

func TestInitTimesOut(t *testing.T) {
	ports := &scriptedPorts{status: statusInputFull}
	cfg := DefaultConfig()
	cfg.SpinLimit = 10
	m := New(ports, newTestSurface(100, 100), cfg, discardLogger())
	if err := m.Init(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Init = %v, want timeout", err)
	}
}

func TestInitRejectsMissingAck(t *testing.T) {
	ports := &scriptedPorts{status: statusOutputFull, data: []byte{0x47, 0xfe}}
	cfg := DefaultConfig()
	cfg.SpinLimit = 10
	m := New(ports, newTestSurface(100, 100), cfg, discardLogger())
	err := m.Init()
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("Init = %v, want a missing ack error", err)
	}
}

// bootMouse brings up a simulated machine with the registry and the mouse
// on IRQ12.
func bootMouse(t *testing.T, cfg Config) (*sim.Machine, *Mouse, *testSurface) {
	t.Helper()
	m, err := sim.New()
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	log := discardLogger()
	descriptor.NewFlatGDT(0x1000).Load(m)
	idt := descriptor.NewIDT(0x2000)
	interrupt.InstallGates(idt)
	idt.Load(m)

	ctrl := pic.New(m, log)
	ctrl.Initialize()
	reg := interrupt.New(m, ctrl, interrupt.Options{Log: log})
	reg.Attach(m)

	s := newTestSurface(800, 600)
	ms := New(m, s, cfg, log)
	if err := ms.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	reg.RegisterIRQ(IRQ, ms)
	m.EnableInterrupts()
	if err := m.Dead(); err != nil {
		t.Fatalf("machine died: %v", err)
	}
	return m, ms, s
}

func TestInitProgramsController(t *testing.T) {
	m, ms, s := bootMouse(t, DefaultConfig())

	if !m.Controller().AuxEnabled() {
		t.Fatalf("aux port not enabled")
	}
	if cb := m.Controller().CommandByte(); cb&commandByteAuxIRQ == 0 || cb&commandByteKeyboardIRQ == 0 {
		t.Fatalf("command byte = %#x", cb)
	}
	dev := m.Mouse()
	if !dev.Reporting() {
		t.Fatalf("reporting not enabled")
	}
	if got := dev.SampleRates; len(got) != 3 || got[0] != 200 || got[1] != 100 || got[2] != 80 {
		t.Fatalf("sample rates = %v", got)
	}
	if s.pix[300*800+400] != ColorIdle {
		t.Fatalf("pointer not drawn at the start position")
	}
	if ms.Stats().FramingErrors != 0 {
		t.Fatalf("init left bytes in the stream: %+v", ms.Stats())
	}
	if err := m.Err(); err != nil {
		t.Fatalf("bus error: %v", err)
	}
}

func TestMotionOverIRQ12(t *testing.T) {
	m, ms, _ := bootMouse(t, DefaultConfig())

	m.Mouse().Move(10, 20)
	if ms.QueueLen() != 1 {
		t.Fatalf("queue length = %d", ms.QueueLen())
	}
	ms.Poll()
	if ms.X() != 410 || ms.Y() != 280 {
		t.Fatalf("position = %d,%d; want 410,280", ms.X(), ms.Y())
	}
	if isr := m.PIC().InService(); isr != 0 {
		t.Fatalf("in-service = %#x after the handler", isr)
	}
}

func TestClickOverIRQ12(t *testing.T) {
	m, ms, _ := bootMouse(t, DefaultConfig())
	dev := m.Mouse()

	dev.Press(sim.ButtonLeft)
	dev.Hold(8)
	dev.Release(sim.ButtonLeft)
	if !ms.ConsumeClick(ButtonLeft) {
		t.Fatalf("no click after a short press")
	}

	dev.Press(sim.ButtonRight)
	dev.Hold(200)
	if !ms.IsPressed(ButtonRight) {
		t.Fatalf("right button not reported held")
	}
	dev.Release(sim.ButtonRight)
	if ms.ConsumeClick(ButtonRight) {
		t.Fatalf("long press counted as a click")
	}
	if !ms.ConsumeRelease(ButtonRight) {
		t.Fatalf("release missing")
	}
	if got := m.Controller().Dropped(); got != 0 {
		t.Fatalf("controller dropped %d bytes", got)
	}
}

func TestStrayBytesResync(t *testing.T) {
	m, ms, _ := bootMouse(t, DefaultConfig())
	m.Mouse().Inject(0x00, 0x00)
	m.Mouse().Move(1, 0)
	if st := ms.Stats(); st.FramingErrors != 2 {
		t.Fatalf("stats = %+v", st)
	}
	ms.Poll()
	if ms.X() != 401 {
		t.Fatalf("x = %d", ms.X())
	}
}
