package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/irqcore/internal/interrupt"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Screen.Width != 800 || c.Screen.Height != 600 || c.Screen.BPP != 32 {
		t.Errorf("screen = %+v", c.Screen)
	}
	m := c.MouseDriverConfig()
	if m.StartX != 400 || m.StartY != 300 {
		t.Errorf("start = %d,%d", m.StartX, m.StartY)
	}
	if m.ClickThreshold != 50 || m.HoldCeiling != 100 {
		t.Errorf("debounce = %d/%d", m.ClickThreshold, m.HoldCeiling)
	}
	if len(m.SampleRates) != 3 || m.SampleRates[0] != 200 || m.SampleRates[1] != 100 || m.SampleRates[2] != 80 {
		t.Errorf("sample rates = %v", m.SampleRates)
	}
	if c.Kernel.RedrawPeriod != 64 {
		t.Errorf("redraw period = %d", c.Kernel.RedrawPeriod)
	}
	if c.Policy() != interrupt.PolicyHalt || c.Kernel.CheckSpurious {
		t.Errorf("kernel = %+v", c.Kernel)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFilename)
	content := `screen:
  width: 320
  height: 200
  bpp: 16
mouse:
  startX: 0
  startY: 10
  hidden: true
  clickThreshold: 20
  holdCeiling: 40
  sampleRates: [100]
kernel:
  exceptionPolicy: ignore
  checkSpurious: true
diagPath: /tmp/diag.bin
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	fb, err := c.FramebufferConfig()
	if err != nil {
		t.Fatalf("FramebufferConfig: %v", err)
	}
	if fb.Width != 320 || fb.Height != 200 || fb.BPP != 16 || fb.Pitch != 0 {
		t.Errorf("framebuffer = %+v", fb)
	}
	m := c.MouseDriverConfig()
	if m.StartX != 0 || m.StartY != 10 || !m.Hidden {
		t.Errorf("mouse = %+v", m)
	}
	if m.ClickThreshold != 20 || m.HoldCeiling != 40 {
		t.Errorf("debounce = %d/%d", m.ClickThreshold, m.HoldCeiling)
	}
	if len(m.SampleRates) != 1 || m.SampleRates[0] != 100 {
		t.Errorf("sample rates = %v", m.SampleRates)
	}
	if c.Policy() != interrupt.PolicyIgnore || !c.Kernel.CheckSpurious {
		t.Errorf("kernel = %+v", c.Kernel)
	}
	if c.Kernel.RedrawPeriod != DefaultRedrawPeriod {
		t.Errorf("redraw period = %d", c.Kernel.RedrawPeriod)
	}
	if c.DiagPath != "/tmp/diag.bin" {
		t.Errorf("diag path = %q", c.DiagPath)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"policy":      "kernel:\n  exceptionPolicy: reboot\n",
		"depth":       "screen:\n  bpp: 12\n",
		"sample rate": "mouse:\n  sampleRates: [300]\n",
		"ceiling":     "mouse:\n  clickThreshold: 80\n  holdCeiling: 60\n",
		"syntax":      "screen: [\n",
		"unknown key": "mouse:\n  clickthreshold: 20\n",
	} {
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("%s: Parse succeeded", name)
		}
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Screen.Width != 800 || c.Mouse.ClickThreshold != 50 {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := WriteTemplate(path, Config{}); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Screen != Default().Screen || c.Kernel != Default().Kernel {
		t.Errorf("round trip = %+v", c)
	}
}
