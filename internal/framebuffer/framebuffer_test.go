package framebuffer

import (
	"testing"

	"github.com/tinyrange/irqcore/internal/mouse"
)

var _ mouse.Surface = (*Framebuffer)(nil)

func TestPixelRoundTripByDepth(t *testing.T) {
	for _, tc := range []struct {
		bpp  int
		in   uint32
		want uint32
	}{
		{32, 0x123456, 0x123456},
		{24, 0xabcdef, 0xabcdef},
		{16, 0xff0000, 0xff0000},
		{16, 0x0000ff, 0x0000ff},
		{16, 0xffffff, 0xffffff},
		{8, 0xff0000, 0xff0000},
		{8, 0xffffff, 0xffffff},
		{8, 0x000000, 0x000000},
	} {
		fb, err := New(Config{Width: 4, Height: 3, BPP: tc.bpp})
		if err != nil {
			t.Fatalf("New(%d bpp): %v", tc.bpp, err)
		}
		fb.SetPixel(2, 1, tc.in)
		if got := fb.Pixel(2, 1); got != tc.want {
			t.Errorf("%d bpp: Pixel = %#06x, want %#06x", tc.bpp, got, tc.want)
		}
		if got := fb.Pixel(1, 1); got != 0 {
			t.Errorf("%d bpp: neighbour changed to %#x", tc.bpp, got)
		}
	}
}

func TestXRGBMemoryLayout(t *testing.T) {
	fb, err := New(Config{Width: 2, Height: 2, BPP: 32})
	if err != nil {
		t.Fatal(err)
	}
	fb.SetPixel(1, 0, 0x112233)
	got := fb.Bytes()[4:8]
	if got[0] != 0x33 || got[1] != 0x22 || got[2] != 0x11 || got[3] != 0 {
		t.Fatalf("memory = % x, want 33 22 11 00", got)
	}
}

func TestPitchPadding(t *testing.T) {
	fb, err := New(Config{Width: 3, Height: 2, Pitch: 16, BPP: 24})
	if err != nil {
		t.Fatal(err)
	}
	fb.SetPixel(0, 1, 0xffffff)
	mem := fb.Bytes()
	if mem[16] != 0xff || mem[9] != 0 {
		t.Fatalf("row stride not honoured: % x", mem)
	}
	if len(mem) != 32 {
		t.Fatalf("size = %d, want 32", len(mem))
	}
}

func TestOutOfBoundsAccessIgnored(t *testing.T) {
	fb, err := New(Config{Width: 4, Height: 4, BPP: 32})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 4}} {
		fb.SetPixel(p[0], p[1], 0xffffff)
		if got := fb.Pixel(p[0], p[1]); got != 0 {
			t.Fatalf("Pixel(%d,%d) = %#x", p[0], p[1], got)
		}
	}
	for _, b := range fb.Bytes() {
		if b != 0 {
			t.Fatalf("out of bounds write reached memory")
		}
	}
}

func TestFillRectClips(t *testing.T) {
	fb, err := New(Config{Width: 10, Height: 10, BPP: 32})
	if err != nil {
		t.Fatal(err)
	}
	fb.FillRect(-5, 8, 8, 10, 0x00ff00)
	count := 0
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if fb.Pixel(x, y) == 0x00ff00 {
				count++
			}
		}
	}
	if count != 3*2 {
		t.Fatalf("filled %d pixels, want 6", count)
	}
}

func TestInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Width: 10, Height: 10, BPP: 12},
		{Width: 0, Height: 10, BPP: 32},
		{Width: 10, Height: 10, Pitch: 20, BPP: 32},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) succeeded", cfg)
		}
	}
	if _, err := Wrap(Config{Width: 10, Height: 10, BPP: 32}, make([]byte, 10)); err == nil {
		t.Errorf("Wrap accepted short memory")
	}
}

func TestToRGBA(t *testing.T) {
	fb, err := New(Config{Width: 2, Height: 1, BPP: 32})
	if err != nil {
		t.Fatal(err)
	}
	fb.Clear(0x0000ff)
	fb.SetPixel(1, 0, 0xff8000)
	img := fb.ToRGBA()
	if c := img.RGBAAt(0, 0); c.B != 0xff || c.R != 0 || c.A != 0xff {
		t.Fatalf("pixel 0 = %+v", c)
	}
	if c := img.RGBAAt(1, 0); c.R != 0xff || c.G != 0x80 || c.B != 0 {
		t.Fatalf("pixel 1 = %+v", c)
	}
}

func TestFlushCallback(t *testing.T) {
	fb, err := New(Config{Width: 1, Height: 1, BPP: 8})
	if err != nil {
		t.Fatal(err)
	}
	fb.Flush()
	flushed := 0
	fb.SetOnFlush(func(got *Framebuffer) {
		if got != fb {
			t.Fatalf("flushed a different framebuffer")
		}
		flushed++
	})
	fb.Flush()
	if flushed != 1 {
		t.Fatalf("flushed = %d", flushed)
	}
}
