package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

type checker struct{ w, h int }

func (c checker) Width() int  { return c.w }
func (c checker) Height() int { return c.h }
func (c checker) Pixel(x, y int) uint32 {
	if (x+y)%2 == 0 {
		return 0xffffff
	}
	return 0
}

func TestRenderOneCellPerTwoRows(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, checker{w: 6, h: 5}, Options{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(ansi.Strip(buf.String()), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, l := range lines {
		if ansi.StringWidth(l) != 6 || l != strings.Repeat(upperHalfBlock, 6) {
			t.Fatalf("line %d = %q", i, l)
		}
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("no escape sequences in output")
	}
}

func TestRenderFitsBounds(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, checker{w: 800, h: 600}, Options{Cols: 80, Rows: 24, Home: true}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := ansi.Strip(buf.String())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 24 {
		t.Fatalf("got %d lines, want 24", len(lines))
	}
	for _, l := range lines {
		if w := ansi.StringWidth(l); w != 80 {
			t.Fatalf("line width %d, want 80", w)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, checker{}, Options{}); err != nil || buf.Len() != 0 {
		t.Fatalf("Render = %v, wrote %d bytes", err, buf.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRenderReportsWriteError(t *testing.T) {
	if err := Render(failingWriter{}, checker{w: 2, h: 2}, Options{}); err == nil {
		t.Fatalf("expected an error")
	}
}
