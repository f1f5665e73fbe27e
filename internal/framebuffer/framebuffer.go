// Package framebuffer is a linear pixel buffer with the bounds-checked
// pixel accessors the cursor compositor draws through.
package framebuffer

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
)

// Config describes the memory layout of a framebuffer.
type Config struct {
	Width  int
	Height int
	// Pitch is the number of bytes between the starts of two rows. Zero
	// means tightly packed.
	Pitch int
	// BPP is the number of bits per pixel: 8, 16, 24 or 32.
	BPP int
}

// BytesPerPixel returns the size of one pixel in memory.
func (c Config) BytesPerPixel() int {
	return (c.BPP + 7) / 8
}

// Size returns the number of bytes the framebuffer occupies.
func (c Config) Size() int {
	return c.Pitch * c.Height
}

func (c *Config) validate() error {
	switch c.BPP {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("framebuffer: unsupported depth %d bpp", c.BPP)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("framebuffer: invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.Pitch == 0 {
		c.Pitch = c.Width * c.BytesPerPixel()
	}
	if c.Pitch < c.Width*c.BytesPerPixel() {
		return fmt.Errorf("framebuffer: pitch %d too small for %d pixels of %d bpp", c.Pitch, c.Width, c.BPP)
	}
	// Cap the size to prevent huge allocations.
	const maxSize = 256 * 1024 * 1024
	if c.Size() > maxSize {
		return fmt.Errorf("framebuffer: framebuffer too large: %d bytes", c.Size())
	}
	return nil
}

// Framebuffer is a pixel surface over a byte slice. Colours are 0xRRGGBB;
// depths below 24 bits store them in RGB565 or RGB332 and read back the
// nearest representable colour.
type Framebuffer struct {
	cfg Config
	mem []byte

	onFlush func(fb *Framebuffer)
}

// New allocates a framebuffer.
func New(cfg Config) (*Framebuffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Framebuffer{cfg: cfg, mem: make([]byte, cfg.Size())}, nil
}

// Wrap uses mem as the pixel memory, as when the framebuffer is mapped
// from a device.
func Wrap(cfg Config, mem []byte) (*Framebuffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(mem) < cfg.Size() {
		return nil, fmt.Errorf("framebuffer: short memory: %d/%d bytes", len(mem), cfg.Size())
	}
	return &Framebuffer{cfg: cfg, mem: mem}, nil
}

// Config returns the framebuffer layout.
func (f *Framebuffer) Config() Config { return f.cfg }

// Width returns the width in pixels.
func (f *Framebuffer) Width() int { return f.cfg.Width }

// Height returns the height in pixels.
func (f *Framebuffer) Height() int { return f.cfg.Height }

// Bytes returns the backing memory.
func (f *Framebuffer) Bytes() []byte { return f.mem }

func (f *Framebuffer) offset(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= f.cfg.Width || y >= f.cfg.Height {
		return 0, false
	}
	return y*f.cfg.Pitch + x*f.cfg.BytesPerPixel(), true
}

// Pixel returns the colour at (x, y), or 0 outside the surface.
func (f *Framebuffer) Pixel(x, y int) uint32 {
	off, ok := f.offset(x, y)
	if !ok {
		return 0
	}
	p := f.mem[off:]
	switch f.cfg.BPP {
	case 32:
		// XRGB8888, stored B G R X.
		return binary.LittleEndian.Uint32(p) & 0xffffff
	case 24:
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
	case 16:
		return from565(binary.LittleEndian.Uint16(p))
	default:
		return from332(p[0])
	}
}

// SetPixel stores c at (x, y). Writes outside the surface are ignored.
func (f *Framebuffer) SetPixel(x, y int, c uint32) {
	off, ok := f.offset(x, y)
	if !ok {
		return
	}
	p := f.mem[off:]
	switch f.cfg.BPP {
	case 32:
		binary.LittleEndian.PutUint32(p, c&0xffffff)
	case 24:
		p[0], p[1], p[2] = byte(c), byte(c>>8), byte(c>>16)
	case 16:
		binary.LittleEndian.PutUint16(p, to565(c))
	default:
		p[0] = to332(c)
	}
}

// FillRect fills the rectangle clipped to the surface.
func (f *Framebuffer) FillRect(x, y, w, h int, c uint32) {
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, f.cfg.Width), min(y+h, f.cfg.Height)
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			f.SetPixel(px, py, c)
		}
	}
}

// Clear fills the whole surface.
func (f *Framebuffer) Clear(c uint32) {
	f.FillRect(0, 0, f.cfg.Width, f.cfg.Height, c)
}

// SetOnFlush sets a callback that is called by Flush.
func (f *Framebuffer) SetOnFlush(fn func(fb *Framebuffer)) {
	f.onFlush = fn
}

// Flush announces that a frame is complete.
func (f *Framebuffer) Flush() {
	if f.onFlush != nil {
		f.onFlush(f)
	}
}

// ToRGBA converts the framebuffer to an image.
func (f *Framebuffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.cfg.Width, f.cfg.Height))
	for y := 0; y < f.cfg.Height; y++ {
		for x := 0; x < f.cfg.Width; x++ {
			img.SetRGBA(x, y, RGBA(f.Pixel(x, y)))
		}
	}
	return img
}

// RGBA converts a 0xRRGGBB colour.
func RGBA(c uint32) color.RGBA {
	return color.RGBA{R: byte(c >> 16), G: byte(c >> 8), B: byte(c), A: 255}
}

func to565(c uint32) uint16 {
	r, g, b := (c>>16)&0xff, (c>>8)&0xff, c&0xff
	return uint16(r>>3<<11 | g>>2<<5 | b>>3)
}

func from565(v uint16) uint32 {
	r := uint32(v>>11) & 0x1f
	g := uint32(v>>5) & 0x3f
	b := uint32(v) & 0x1f
	return (r<<3|r>>2)<<16 | (g<<2|g>>4)<<8 | (b<<3 | b>>2)
}

func to332(c uint32) byte {
	r, g, b := (c>>16)&0xff, (c>>8)&0xff, c&0xff
	return byte(r>>5<<5 | g>>5<<2 | b>>6)
}

func from332(v byte) uint32 {
	r := uint32(v>>5) & 0x7
	g := uint32(v>>2) & 0x7
	b := uint32(v) & 0x3
	return (r*255/7)<<16 | (g*255/7)<<8 | b*255/3
}
