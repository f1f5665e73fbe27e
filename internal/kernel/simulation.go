package kernel

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqcore/internal/config"
	"github.com/tinyrange/irqcore/internal/diag"
	"github.com/tinyrange/irqcore/internal/hal/sim"
	"github.com/tinyrange/irqcore/internal/interrupt"
	"github.com/tinyrange/irqcore/internal/scenario"
)

// Simulation is a kernel booted on the simulated machine. It implements
// scenario.Target: every input runs one main loop iteration afterwards so
// the pointer on screen catches up.
type Simulation struct {
	Machine *sim.Machine
	Kernel  *Kernel
}

// NewSimulation boots a kernel on a fresh simulated machine.
func NewSimulation(cfg config.Config, log *slog.Logger, d *diag.Log) (*Simulation, error) {
	m, err := sim.New()
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	k, err := New(m, Options{Config: cfg, Log: log, Diag: d})
	if err != nil {
		return nil, err
	}
	s := &Simulation{Machine: m, Kernel: k}

	var bootErr error
	if err := m.Run(func() { bootErr = k.Boot() }); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}
	if bootErr != nil {
		return nil, bootErr
	}
	if err := m.Err(); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}
	return s, nil
}

// Dead returns why the simulated processor stopped, or nil.
func (s *Simulation) Dead() error { return s.Machine.Dead() }

func (s *Simulation) update() {
	s.Machine.Run(s.Kernel.Update)
}

func (s *Simulation) Move(dx, dy int) {
	s.Machine.Mouse().Move(dx, dy)
	s.update()
}

func (s *Simulation) Press(buttons uint8) {
	s.Machine.Mouse().Press(buttons)
	s.update()
}

func (s *Simulation) Release(buttons uint8) {
	s.Machine.Mouse().Release(buttons)
	s.update()
}

func (s *Simulation) Hold(n int) {
	s.Machine.Mouse().Hold(n)
	s.update()
}

func (s *Simulation) Inject(raw ...byte) {
	s.Machine.Mouse().Inject(raw...)
	s.update()
}

// Fault raises an exception. It returns the error that stopped the
// processor, if the exception was fatal.
func (s *Simulation) Fault(vector uint8, errorCode, cr2 uint32) error {
	if err := s.Machine.RaiseException(vector, errorCode, cr2); err != nil {
		return fmt.Errorf("kernel: %v: %w", interrupt.Vector(vector), err)
	}
	return nil
}

// Idle runs ticks main loop iterations, each woken by the timer.
func (s *Simulation) Idle(ticks int) {
	for i := 0; i < ticks && s.Machine.Dead() == nil; i++ {
		s.Machine.Run(s.Kernel.Step)
	}
}

func (s *Simulation) SetVisible(visible bool) {
	s.Kernel.Mouse().SetVisible(visible)
}

func (s *Simulation) ForceRedraw() {
	s.Kernel.Mouse().ForceRedraw()
}

func (s *Simulation) FillRect(x, y, w, h int, color uint32) {
	s.Kernel.Framebuffer().FillRect(x, y, w, h, color)
}

func (s *Simulation) State() scenario.State {
	m := s.Kernel.Mouse()
	st := scenario.State{
		X:       m.X(),
		Y:       m.Y(),
		Buttons: m.Buttons(),
		Visible: m.Visible(),
	}
	for i := range st.Clicks {
		st.Clicks[i] = m.Clicks().Clicks(i)
	}
	return st
}

// Replay runs sc. A step that kills the processor ends the replay with an
// error wrapping the machine's reason, such as sim.ErrStopped.
func (s *Simulation) Replay(sc *scenario.Scenario, progress func(i int, step scenario.Step)) error {
	if err := sc.Run(s, progress); err != nil {
		return err
	}
	return s.Machine.Dead()
}

var _ scenario.Target = (*Simulation)(nil)
