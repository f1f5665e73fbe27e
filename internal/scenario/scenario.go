// Package scenario describes input sessions as YAML and replays them
// against a running kernel.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tinyrange/irqcore/internal/mouse"
	"gopkg.in/yaml.v3"
)

// Target is what a scenario drives. Each input method delivers the input
// and lets the kernel run until it is idle again.
type Target interface {
	Move(dx, dy int)
	Press(buttons uint8)
	Release(buttons uint8)
	// Hold reports n packets without motion.
	Hold(n int)
	// Inject places raw bytes on the mouse wire.
	Inject(raw ...byte)
	// Fault raises a processor exception.
	Fault(vector uint8, errorCode, cr2 uint32) error
	// Idle runs n timer ticks of the main loop.
	Idle(ticks int)
	SetVisible(visible bool)
	ForceRedraw()
	// FillRect draws over the screen behind the cursor's back.
	FillRect(x, y, w, h int, color uint32)
	State() State
}

// State is what an expect step checks.
type State struct {
	X, Y    int
	Buttons uint8
	Visible bool
	Clicks  [3]int
}

// Buttons is a button mask written as names: "left", "right+middle".
type Buttons uint8

func (b *Buttons) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := ParseButtons(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Buttons) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b Buttons) String() string {
	var names []string
	for _, n := range buttonNames {
		if uint8(b)&n.mask != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

var buttonNames = []struct {
	name string
	mask uint8
}{
	{"left", mouse.ButtonLeft},
	{"right", mouse.ButtonRight},
	{"middle", mouse.ButtonMiddle},
}

// ParseButtons parses a '+' separated list of button names.
func ParseButtons(s string) (Buttons, error) {
	var b Buttons
	for _, part := range strings.Split(s, "+") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "none" {
			continue
		}
		found := false
		for _, n := range buttonNames {
			if n.name == part {
				b |= Buttons(n.mask)
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("scenario: unknown button %q", part)
		}
	}
	return b, nil
}

type Move struct {
	DX int `yaml:"dx"`
	DY int `yaml:"dy"`
}

type Fault struct {
	Vector    uint8  `yaml:"vector"`
	ErrorCode uint32 `yaml:"error,omitempty"`
	CR2       uint32 `yaml:"cr2,omitempty"`
}

type Rect struct {
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	W     int    `yaml:"w"`
	H     int    `yaml:"h"`
	Color uint32 `yaml:"color"`
}

// Expect checks the pointer state. Unset fields are not checked.
type Expect struct {
	X       *int     `yaml:"x,omitempty"`
	Y       *int     `yaml:"y,omitempty"`
	Buttons *Buttons `yaml:"buttons,omitempty"`
	Visible *bool    `yaml:"visible,omitempty"`
	// Clicks is the number of pending clicks of the left button.
	Clicks *int `yaml:"clicks,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Move    *Move    `yaml:"move,omitempty"`
	Press   *Buttons `yaml:"press,omitempty"`
	Release *Buttons `yaml:"release,omitempty"`
	Hold    int      `yaml:"hold,omitempty"`
	Bytes   []byte   `yaml:"bytes,omitempty,flow"`
	Idle    int      `yaml:"idle,omitempty"`
	Fault   *Fault   `yaml:"fault,omitempty"`
	Hide    bool     `yaml:"hide,omitempty"`
	Show    bool     `yaml:"show,omitempty"`
	Redraw  bool     `yaml:"redraw,omitempty"`
	Draw    *Rect    `yaml:"draw,omitempty"`
	Expect  *Expect  `yaml:"expect,omitempty"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Move != nil, s.Press != nil, s.Release != nil, s.Hold != 0,
		s.Bytes != nil, s.Idle != 0, s.Fault != nil, s.Hide, s.Show,
		s.Redraw, s.Draw != nil, s.Expect != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (s Step) String() string {
	switch {
	case s.Move != nil:
		return fmt.Sprintf("move %d,%d", s.Move.DX, s.Move.DY)
	case s.Press != nil:
		return "press " + s.Press.String()
	case s.Release != nil:
		return "release " + s.Release.String()
	case s.Hold != 0:
		return fmt.Sprintf("hold %d", s.Hold)
	case s.Bytes != nil:
		return fmt.Sprintf("bytes % x", s.Bytes)
	case s.Idle != 0:
		return fmt.Sprintf("idle %d", s.Idle)
	case s.Fault != nil:
		return fmt.Sprintf("fault %d error=0x%x cr2=0x%08x", s.Fault.Vector, s.Fault.ErrorCode, s.Fault.CR2)
	case s.Hide:
		return "hide"
	case s.Show:
		return "show"
	case s.Redraw:
		return "redraw"
	case s.Draw != nil:
		return fmt.Sprintf("draw %dx%d at %d,%d", s.Draw.W, s.Draw.H, s.Draw.X, s.Draw.Y)
	case s.Expect != nil:
		return "expect"
	}
	return "empty"
}

// Scenario is a named list of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// ErrExpectation is wrapped by the error returned when an expect step
// fails.
var ErrExpectation = errors.New("scenario: expectation failed")

// Validate checks that every step has exactly one action.
func (s *Scenario) Validate() error {
	for i, step := range s.Steps {
		switch n := step.actions(); {
		case n == 0:
			return fmt.Errorf("scenario: step %d has no action", i+1)
		case n > 1:
			return fmt.Errorf("scenario: step %d has %d actions", i+1, n)
		}
		if step.Hold < 0 || step.Idle < 0 {
			return fmt.Errorf("scenario: step %d: negative count", i+1)
		}
	}
	return nil
}

// Parse decodes a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Run replays every step against t. progress, if not nil, is called after
// each step. Run stops at the first failing step.
func (s *Scenario) Run(t Target, progress func(i int, step Step)) error {
	for i, step := range s.Steps {
		if err := s.apply(t, step); err != nil {
			return fmt.Errorf("step %d (%v): %w", i+1, step, err)
		}
		if progress != nil {
			progress(i, step)
		}
	}
	return nil
}

func (s *Scenario) apply(t Target, step Step) error {
	switch {
	case step.Move != nil:
		t.Move(step.Move.DX, step.Move.DY)
	case step.Press != nil:
		t.Press(uint8(*step.Press))
	case step.Release != nil:
		t.Release(uint8(*step.Release))
	case step.Hold != 0:
		t.Hold(step.Hold)
	case step.Bytes != nil:
		t.Inject(step.Bytes...)
	case step.Idle != 0:
		t.Idle(step.Idle)
	case step.Fault != nil:
		return t.Fault(step.Fault.Vector, step.Fault.ErrorCode, step.Fault.CR2)
	case step.Hide:
		t.SetVisible(false)
	case step.Show:
		t.SetVisible(true)
	case step.Redraw:
		t.ForceRedraw()
	case step.Draw != nil:
		r := step.Draw
		t.FillRect(r.X, r.Y, r.W, r.H, r.Color)
	case step.Expect != nil:
		return check(*step.Expect, t.State())
	}
	return nil
}

func check(e Expect, got State) error {
	var failed []string
	if e.X != nil && *e.X != got.X {
		failed = append(failed, fmt.Sprintf("x = %d, want %d", got.X, *e.X))
	}
	if e.Y != nil && *e.Y != got.Y {
		failed = append(failed, fmt.Sprintf("y = %d, want %d", got.Y, *e.Y))
	}
	if e.Buttons != nil && uint8(*e.Buttons) != got.Buttons {
		failed = append(failed, fmt.Sprintf("buttons = %v, want %v", Buttons(got.Buttons), *e.Buttons))
	}
	if e.Visible != nil && *e.Visible != got.Visible {
		failed = append(failed, fmt.Sprintf("visible = %v, want %v", got.Visible, *e.Visible))
	}
	if e.Clicks != nil && *e.Clicks != got.Clicks[0] {
		failed = append(failed, fmt.Sprintf("clicks = %d, want %d", got.Clicks[0], *e.Clicks))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrExpectation, strings.Join(failed, ", "))
	}
	return nil
}
