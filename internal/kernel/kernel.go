// Package kernel wires the interrupt core together: descriptor tables,
// controller, registry, mouse and the polling main loop.
package kernel

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyrange/irqcore/internal/config"
	"github.com/tinyrange/irqcore/internal/descriptor"
	"github.com/tinyrange/irqcore/internal/diag"
	"github.com/tinyrange/irqcore/internal/framebuffer"
	"github.com/tinyrange/irqcore/internal/hal"
	"github.com/tinyrange/irqcore/internal/interrupt"
	"github.com/tinyrange/irqcore/internal/mouse"
	"github.com/tinyrange/irqcore/internal/pic"
)

// Linear addresses the descriptor tables are reported at.
const (
	GDTBase uint32 = 0x00001000
	IDTBase uint32 = 0x00002000
)

// TimerIRQ is the interval timer line.
const TimerIRQ = 0

// Desktop colours drawn before the pointer first appears.
const (
	ColorDesktop uint32 = 0x1d3557
	ColorPanel   uint32 = 0xa8dadc
)

// Options configures a Kernel.
type Options struct {
	Config config.Config
	Log    *slog.Logger
	// Diag receives fatal fault reports. Nil discards them.
	Diag *diag.Log
	// Framebuffer is drawn on. Nil allocates one from the configuration.
	Framebuffer *framebuffer.Framebuffer
}

// Kernel is the booted core.
type Kernel struct {
	platform hal.Platform
	cfg      config.Config
	log      *slog.Logger
	diag     *diag.Log

	gdt      *descriptor.GDT
	idt      *descriptor.IDT
	pic      *pic.Controller
	registry *interrupt.Registry
	fb       *framebuffer.Framebuffer
	mouse    *mouse.Mouse

	ticks      atomic.Uint64
	iterations uint64
	booted     bool
}

// New prepares a kernel for platform. Nothing touches the platform until
// Boot.
func New(platform hal.Platform, opts Options) (*Kernel, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	fb := opts.Framebuffer
	if fb == nil {
		fbCfg, err := cfg.FramebufferConfig()
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
		fb, err = framebuffer.New(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
	}

	k := &Kernel{
		platform: platform,
		cfg:      cfg,
		log:      log.With("component", "kernel"),
		diag:     opts.Diag,
		fb:       fb,
	}
	k.pic = pic.New(platform, log)
	k.registry = interrupt.New(platform, k.pic, interrupt.Options{
		Policy:        cfg.Policy(),
		CheckSpurious: cfg.Kernel.CheckSpurious,
		Log:           log,
		Diag:          opts.Diag,
	})
	k.mouse = mouse.New(platform, fb, cfg.MouseDriverConfig(), log)
	return k, nil
}

// Boot loads the descriptor tables, remaps the controllers, installs the
// handlers, brings up the mouse and enables interrupts. The order matters:
// no line is unmasked before its handler is registered and the IDT is
// live.
func (k *Kernel) Boot() error {
	if k.booted {
		return fmt.Errorf("kernel: already booted")
	}
	k.platform.DisableInterrupts()

	k.gdt = descriptor.NewFlatGDT(GDTBase)
	k.gdt.Load(k.platform)
	k.idt = descriptor.NewIDT(IDTBase)
	interrupt.InstallGates(k.idt)
	k.idt.Load(k.platform)
	k.log.Debug("descriptor tables loaded", "gdt", fmt.Sprintf("0x%08x", GDTBase), "idt", fmt.Sprintf("0x%08x", IDTBase))

	k.pic.Initialize()
	if src, ok := k.platform.(hal.TrapSource); ok {
		k.registry.Attach(src)
	}
	k.registry.InstallFatalHandlers()
	k.registry.RegisterIRQ(TimerIRQ, interrupt.HandlerFunc(func(*interrupt.Frame) {
		k.ticks.Add(1)
	}))

	k.drawDesktop()
	if err := k.mouse.Init(); err != nil {
		return fmt.Errorf("kernel: mouse: %w", err)
	}
	k.registry.RegisterIRQ(mouse.IRQ, k.mouse)

	k.booted = true
	k.platform.EnableInterrupts()
	k.log.Info("kernel booted",
		"screen", fmt.Sprintf("%dx%dx%d", k.fb.Width(), k.fb.Height(), k.fb.Config().BPP),
		"policy", k.cfg.Policy().String(),
	)
	return nil
}

func (k *Kernel) drawDesktop() {
	k.fb.Clear(ColorDesktop)
	w, h := k.fb.Width(), k.fb.Height()
	k.fb.FillRect(w/8, h/8, w/2, h/3, ColorPanel)
}

// Step runs one main loop iteration: draw queued motion, repair the
// pointer every RedrawPeriod iterations, then wait for an interrupt.
func (k *Kernel) Step() {
	k.Update()
	k.platform.Halt()
}

// Update runs the drawing half of Step without waiting.
func (k *Kernel) Update() {
	k.mouse.Poll()
	k.iterations++
	if p := k.cfg.Kernel.RedrawPeriod; p > 0 && k.iterations%uint64(p) == 0 {
		k.mouse.ForceRedraw()
	}
	k.fb.Flush()
}

// Loop runs the main loop forever.
func (k *Kernel) Loop() {
	for {
		k.Step()
	}
}

// Mouse returns the mouse driver.
func (k *Kernel) Mouse() *mouse.Mouse { return k.mouse }

// Framebuffer returns the screen.
func (k *Kernel) Framebuffer() *framebuffer.Framebuffer { return k.fb }

// Registry returns the dispatch registry.
func (k *Kernel) Registry() *interrupt.Registry { return k.registry }

// PIC returns the controller driver.
func (k *Kernel) PIC() *pic.Controller { return k.pic }

// IDT returns the interrupt descriptor table, or nil before Boot.
func (k *Kernel) IDT() *descriptor.IDT { return k.idt }

// GDT returns the global descriptor table, or nil before Boot.
func (k *Kernel) GDT() *descriptor.GDT { return k.gdt }

// Ticks returns the number of timer interrupts handled.
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

// Iterations returns the number of main loop iterations run.
func (k *Kernel) Iterations() uint64 { return k.iterations }

// Status is a snapshot for reporting.
type Status struct {
	Ticks      uint64
	Iterations uint64
	X, Y       int
	Buttons    uint8
	Visible    bool
	Mouse      mouse.Stats
	Cursor     mouse.CursorStats
	Interrupts interrupt.Stats
	PIC        pic.Stats
}

// Status returns the current counters.
func (k *Kernel) Status() Status {
	return Status{
		Ticks:      k.Ticks(),
		Iterations: k.iterations,
		X:          k.mouse.X(),
		Y:          k.mouse.Y(),
		Buttons:    k.mouse.Buttons(),
		Visible:    k.mouse.Visible(),
		Mouse:      k.mouse.Stats(),
		Cursor:     k.mouse.Cursor().Stats(),
		Interrupts: k.registry.Stats(),
		PIC:        k.pic.Stats(),
	}
}

// LogValue implements slog.LogValuer.
func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("ticks", s.Ticks),
		slog.Uint64("iterations", s.Iterations),
		slog.Int("x", s.X),
		slog.Int("y", s.Y),
		slog.String("buttons", fmt.Sprintf("0x%x", s.Buttons)),
		slog.Bool("visible", s.Visible),
		slog.Uint64("packets", s.Mouse.Packets),
		slog.Uint64("framing_errors", s.Mouse.FramingErrors),
		slog.Uint64("queue_overflow", s.Mouse.Overflow),
		slog.Uint64("irqs", s.Interrupts.IRQs),
		slog.Uint64("exceptions", s.Interrupts.Exceptions),
		slog.Uint64("spurious", s.Interrupts.Spurious),
	)
}
