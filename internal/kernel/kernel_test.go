package kernel

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinyrange/irqcore/internal/config"
	"github.com/tinyrange/irqcore/internal/descriptor"
	"github.com/tinyrange/irqcore/internal/diag"
	"github.com/tinyrange/irqcore/internal/hal"
	"github.com/tinyrange/irqcore/internal/hal/sim"
	"github.com/tinyrange/irqcore/internal/mouse"
	"github.com/tinyrange/irqcore/internal/scenario"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallConfig() config.Config {
	c := config.Default()
	c.Screen.Width = 320
	c.Screen.Height = 200
	x, y := 100, 100
	c.Mouse.StartX = &x
	c.Mouse.StartY = &y
	return c
}

func boot(t *testing.T, cfg config.Config) (*Simulation, *diag.Buffer) {
	t.Helper()
	buf := &diag.Buffer{}
	s, err := NewSimulation(cfg, discardLogger(), diag.New(buf))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	return s, buf
}

func TestBootLoadsTables(t *testing.T) {
	s, _ := boot(t, smallConfig())
	m := s.Machine

	if cs, ds := m.Segments(); cs != descriptor.KernelCodeSelector || ds != descriptor.KernelDataSelector {
		t.Fatalf("segments = %#x/%#x", cs, ds)
	}
	if gdt := m.GDT(); gdt.Base != GDTBase || len(gdt.Image) != descriptor.GDTEntries*8 || gdt.Limit != descriptor.GDTEntries*8-1 {
		t.Fatalf("GDT base=%#x size=%d limit=%#x", gdt.Base, len(gdt.Image), gdt.Limit)
	}
	idt := m.IDT()
	if idt.Base != IDTBase || idt.Limit != hal.VectorCount*8-1 {
		t.Fatalf("IDT base=%#x limit=%#x", idt.Base, idt.Limit)
	}
	for v := 0; v < hal.VectorCount; v++ {
		g, ok := descriptor.GateAt(idt, uint8(v))
		if !ok || !g.Present() || g.Offset != hal.StubAddress(uint8(v)) {
			t.Fatalf("gate %d = %+v", v, g)
		}
	}
	if !m.InterruptsEnabled() {
		t.Fatalf("interrupts left disabled")
	}
}

func TestBootUnmasksOnlyRegisteredLines(t *testing.T) {
	s, _ := boot(t, smallConfig())
	primary, secondary := s.Machine.PIC().Masks()
	if primary != 0xfa {
		t.Fatalf("primary mask = %#x, want 0xfa (timer and cascade)", primary)
	}
	if secondary != 0xef {
		t.Fatalf("secondary mask = %#x, want 0xef (mouse)", secondary)
	}
}

func TestBootDrawsPointerOverDesktop(t *testing.T) {
	s, _ := boot(t, smallConfig())
	fb := s.Kernel.Framebuffer()
	if got := fb.Pixel(100, 100); got != mouse.ColorIdle {
		t.Fatalf("pointer pixel = %#x", got)
	}
	backing := s.Kernel.Mouse().Cursor().Backing()
	if backing[0] != ColorDesktop && backing[0] != ColorPanel {
		t.Fatalf("backing holds %#x, want the desktop", backing[0])
	}
}

func TestIdleCountsTicks(t *testing.T) {
	s, _ := boot(t, smallConfig())
	s.Idle(10)
	if got := s.Kernel.Ticks(); got != 10 {
		t.Fatalf("ticks = %d, want 10", got)
	}
	if got := s.Kernel.Iterations(); got != 10 {
		t.Fatalf("iterations = %d", got)
	}
	if isr := s.Machine.PIC().InService(); isr != 0 {
		t.Fatalf("in-service = %#x", isr)
	}
}

func TestMotionAndClick(t *testing.T) {
	s, _ := boot(t, smallConfig())
	s.Move(20, -10)
	if st := s.State(); st.X != 120 || st.Y != 110 {
		t.Fatalf("position = %d,%d", st.X, st.Y)
	}
	s.Press(mouse.ButtonLeft)
	if got := s.Kernel.Framebuffer().Pixel(120, 110); got != mouse.ColorLeft {
		t.Fatalf("pressed pointer colour = %#x", got)
	}
	s.Hold(5)
	s.Release(mouse.ButtonLeft)
	if st := s.State(); st.Clicks[0] != 1 || st.Buttons != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestPointerLeavesNoTrail(t *testing.T) {
	s, _ := boot(t, smallConfig())
	fb := s.Kernel.Framebuffer()
	for i := 0; i < 20; i++ {
		s.Move(7, 3)
	}
	s.Press(mouse.ButtonRight)
	s.Move(-140, 60)
	s.Release(mouse.ButtonRight)
	s.SetVisible(false)

	// With the pointer hidden only the desktop can be on screen.
	for y := 0; y < fb.Height(); y++ {
		for x := 0; x < fb.Width(); x++ {
			if c := fb.Pixel(x, y); c != ColorDesktop && c != ColorPanel {
				t.Fatalf("pixel %d,%d = %#x after hiding", x, y, c)
			}
		}
	}
}

func TestPeriodicRedrawRepairsPointer(t *testing.T) {
	cfg := smallConfig()
	cfg.Kernel.RedrawPeriod = 4
	s, _ := boot(t, cfg)

	s.FillRect(90, 90, 40, 40, 0x00ff00)
	if got := s.Kernel.Framebuffer().Pixel(100, 100); got != 0x00ff00 {
		t.Fatalf("fill did not land: %#x", got)
	}
	s.Idle(4)
	if got := s.Kernel.Framebuffer().Pixel(100, 100); got != mouse.ColorIdle {
		t.Fatalf("pointer not redrawn: %#x", got)
	}
}

func TestFatalPageFaultStopsKernel(t *testing.T) {
	s, buf := boot(t, smallConfig())
	err := s.Fault(14, 0x2, 0xdeadb000)
	if !errors.Is(err, sim.ErrStopped) {
		t.Fatalf("Fault = %v, want stopped", err)
	}
	ticks := s.Kernel.Ticks()
	s.Idle(5)
	if s.Kernel.Ticks() != ticks {
		t.Fatalf("dead kernel kept ticking")
	}

	records, err := diag.ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 || !strings.Contains(string(records[0].Data), "0xdeadb000") {
		t.Fatalf("records = %v", records)
	}
}

func TestIgnoredExceptionKeepsRunning(t *testing.T) {
	cfg := smallConfig()
	cfg.Kernel.ExceptionPolicy = "ignore"
	s, _ := boot(t, cfg)
	if err := s.Fault(3, 0, 0); err != nil {
		t.Fatalf("breakpoint: %v", err)
	}
	s.Idle(1)
	if s.Kernel.Ticks() != 1 {
		t.Fatalf("kernel stopped after an ignored exception")
	}
}

func TestReplayScenario(t *testing.T) {
	s, _ := boot(t, smallConfig())
	sc, err := scenario.Parse([]byte(`name: click
steps:
  - move: {dx: 10, dy: 10}
  - expect: {x: 110, y: 90}
  - bytes: [0x00, 0x00]
  - press: left
  - hold: 3
  - release: left
  - expect: {clicks: 1, buttons: none}
  - hide: true
  - move: {dx: -200, dy: 0}
  - expect: {x: 0, visible: false}
  - show: true
  - idle: 2
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := s.Replay(sc, nil); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	st := s.Kernel.Status()
	if st.Mouse.FramingErrors != 2 || st.Ticks != 2 {
		t.Fatalf("status = %+v", st)
	}
	if got := s.Kernel.Framebuffer().Pixel(0, 90); got != mouse.ColorIdle {
		t.Fatalf("pointer not shown at the left edge: %#x", got)
	}
}

func TestReplayStopsOnFatalFault(t *testing.T) {
	s, _ := boot(t, smallConfig())
	sc, err := scenario.Parse([]byte("steps:\n  - fault: {vector: 0}\n  - idle: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := s.Replay(sc, nil); !errors.Is(err, sim.ErrStopped) {
		t.Fatalf("Replay = %v, want stopped", err)
	}
}

func TestBootTwice(t *testing.T) {
	s, _ := boot(t, smallConfig())
	if err := s.Kernel.Boot(); err == nil {
		t.Fatalf("second Boot succeeded")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	m, err := sim.New()
	if err != nil {
		t.Fatal(err)
	}
	cfg := smallConfig()
	cfg.Kernel.ExceptionPolicy = "reboot"
	if _, err := New(m, Options{Config: cfg, Log: discardLogger()}); err == nil {
		t.Fatalf("New accepted an invalid policy")
	}
}
