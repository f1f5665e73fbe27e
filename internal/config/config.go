// Package config loads the irqcore configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tinyrange/irqcore/internal/framebuffer"
	"github.com/tinyrange/irqcore/internal/interrupt"
	"github.com/tinyrange/irqcore/internal/mouse"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFilename is the name looked for when no path is given.
	DefaultFilename = "irqcore.yaml"

	DefaultRedrawPeriod = 64
)

// Config is the whole configuration file.
type Config struct {
	Version int `yaml:"version"`

	Screen ScreenConfig `yaml:"screen"`
	Mouse  MouseConfig  `yaml:"mouse"`
	Kernel KernelConfig `yaml:"kernel"`

	// DiagPath is where the diagnostic record log is written. Empty keeps
	// records in memory.
	DiagPath string `yaml:"diagPath,omitempty"`
}

type ScreenConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Pitch  int `yaml:"pitch,omitempty"`
	BPP    int `yaml:"bpp"`
}

type MouseConfig struct {
	StartX *int `yaml:"startX,omitempty"`
	StartY *int `yaml:"startY,omitempty"`
	Hidden bool `yaml:"hidden,omitempty"`

	ClickThreshold uint32 `yaml:"clickThreshold"`
	HoldCeiling    uint32 `yaml:"holdCeiling"`
	SampleRates    []int  `yaml:"sampleRates,flow"`
	SpinLimit      int    `yaml:"spinLimit,omitempty"`
}

type KernelConfig struct {
	// RedrawPeriod is the number of main loop iterations between forced
	// cursor redraws.
	RedrawPeriod    int    `yaml:"redrawPeriod"`
	ExceptionPolicy string `yaml:"exceptionPolicy"`
	CheckSpurious   bool   `yaml:"checkSpurious,omitempty"`
}

// Default returns a configuration with every default filled in.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Screen.Width == 0 {
		c.Screen.Width = 800
	}
	if c.Screen.Height == 0 {
		c.Screen.Height = 600
	}
	if c.Screen.BPP == 0 {
		c.Screen.BPP = 32
	}

	defaults := mouse.DefaultConfig()
	if c.Mouse.StartX == nil {
		x := defaults.StartX
		c.Mouse.StartX = &x
	}
	if c.Mouse.StartY == nil {
		y := defaults.StartY
		c.Mouse.StartY = &y
	}
	if c.Mouse.ClickThreshold == 0 {
		c.Mouse.ClickThreshold = defaults.ClickThreshold
	}
	if c.Mouse.HoldCeiling == 0 {
		c.Mouse.HoldCeiling = defaults.HoldCeiling
	}
	if c.Mouse.SampleRates == nil {
		for _, r := range defaults.SampleRates {
			c.Mouse.SampleRates = append(c.Mouse.SampleRates, int(r))
		}
	}

	if c.Kernel.RedrawPeriod == 0 {
		c.Kernel.RedrawPeriod = DefaultRedrawPeriod
	}
	if c.Kernel.ExceptionPolicy == "" {
		c.Kernel.ExceptionPolicy = interrupt.PolicyHalt.String()
	}
}

// Validate reports values no component accepts.
func (c Config) Validate() error {
	if _, err := c.FramebufferConfig(); err != nil {
		return err
	}
	if _, err := interrupt.ParsePolicy(c.Kernel.ExceptionPolicy); err != nil {
		return err
	}
	for _, r := range c.Mouse.SampleRates {
		if r <= 0 || r > 255 {
			return fmt.Errorf("config: sample rate %d out of range", r)
		}
	}
	if c.Mouse.HoldCeiling < c.Mouse.ClickThreshold {
		return fmt.Errorf("config: hold ceiling %d below click threshold %d", c.Mouse.HoldCeiling, c.Mouse.ClickThreshold)
	}
	if c.Kernel.RedrawPeriod < 0 {
		return fmt.Errorf("config: negative redraw period %d", c.Kernel.RedrawPeriod)
	}
	return nil
}

// FramebufferConfig returns the screen layout.
func (c Config) FramebufferConfig() (framebuffer.Config, error) {
	fb := framebuffer.Config{
		Width:  c.Screen.Width,
		Height: c.Screen.Height,
		Pitch:  c.Screen.Pitch,
		BPP:    c.Screen.BPP,
	}
	if _, err := framebuffer.New(fb); err != nil {
		return framebuffer.Config{}, fmt.Errorf("config: screen: %w", err)
	}
	return fb, nil
}

// MouseDriverConfig returns the driver settings.
func (c Config) MouseDriverConfig() mouse.Config {
	cfg := mouse.DefaultConfig()
	if c.Mouse.StartX != nil {
		cfg.StartX = *c.Mouse.StartX
	}
	if c.Mouse.StartY != nil {
		cfg.StartY = *c.Mouse.StartY
	}
	cfg.Hidden = c.Mouse.Hidden
	cfg.ClickThreshold = c.Mouse.ClickThreshold
	cfg.HoldCeiling = c.Mouse.HoldCeiling
	if c.Mouse.SampleRates != nil {
		cfg.SampleRates = make([]byte, 0, len(c.Mouse.SampleRates))
		for _, r := range c.Mouse.SampleRates {
			cfg.SampleRates = append(cfg.SampleRates, byte(r))
		}
	}
	if c.Mouse.SpinLimit > 0 {
		cfg.SpinLimit = c.Mouse.SpinLimit
	}
	return cfg
}

// Policy returns the unhandled exception policy.
func (c Config) Policy() interrupt.Policy {
	p, err := interrupt.ParsePolicy(c.Kernel.ExceptionPolicy)
	if err != nil {
		return interrupt.PolicyHalt
	}
	return p
}

// Parse decodes and completes a configuration.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteTemplate writes c, with defaults filled in, to path.
func WriteTemplate(path string, c Config) error {
	c.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", path, err)
	}
	return nil
}
