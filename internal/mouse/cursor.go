package mouse

// CursorSize is the width and height of the sprite and its backing buffer.
const CursorSize = 16

// Sprite colours, 0xRRGGBB.
const (
	ColorIdle  uint32 = 0xffffff
	ColorLeft  uint32 = 0xff0000
	ColorRight uint32 = 0x0000ff
)

// arrow is the cursor shape, one row per uint16, bit 15 leftmost.
var arrow = [CursorSize]uint16{
	0x8000, 0xc000, 0xe000, 0xf000,
	0xf800, 0xfc00, 0xfe00, 0xff00,
	0xff80, 0xffc0, 0xffe0, 0xfff0,
	0xff00, 0xfe00, 0xfc00, 0xf800,
}

func spriteAt(px, py int) bool {
	return arrow[py]&(0x8000>>px) != 0
}

// Surface is the pixel store the cursor is composited onto. Accesses
// outside the surface are ignored by the implementation.
type Surface interface {
	Width() int
	Height() int
	Pixel(x, y int) uint32
	SetPixel(x, y int, color uint32)
}

// CursorStats counts compositor work.
type CursorStats struct {
	Saves    uint64
	Restores uint64
	Draws    uint64
	Moves    uint64
}

// Cursor draws the pointer over a Surface, keeping a copy of the pixels
// underneath so the pointer can be erased without a trace. It is used from
// the poll loop only.
type Cursor struct {
	surface Surface
	queue   *Queue

	x, y    int
	buttons uint8
	visible bool
	dirty   bool

	backing [CursorSize * CursorSize]uint32
	stats   CursorStats
}

// NewCursor returns a cursor at (x, y), clamped to the surface, reading
// motion from queue.
func NewCursor(surface Surface, queue *Queue, x, y int, visible bool) *Cursor {
	c := &Cursor{surface: surface, queue: queue, visible: visible}
	c.x, c.y = c.clamp(x, y)
	return c
}

func (c *Cursor) clamp(x, y int) (int, int) {
	maxX := c.surface.Width() - CursorSize
	maxY := c.surface.Height() - CursorSize
	x = max(0, min(x, maxX))
	y = max(0, min(y, maxY))
	return x, y
}

func (c *Cursor) save(x, y int) {
	for py := 0; py < CursorSize; py++ {
		for px := 0; px < CursorSize; px++ {
			c.backing[py*CursorSize+px] = c.surface.Pixel(x+px, y+py)
		}
	}
	c.stats.Saves++
}

func (c *Cursor) restore(x, y int) {
	for py := 0; py < CursorSize; py++ {
		for px := 0; px < CursorSize; px++ {
			c.surface.SetPixel(x+px, y+py, c.backing[py*CursorSize+px])
		}
	}
	c.stats.Restores++
}

func (c *Cursor) color() uint32 {
	switch {
	case c.buttons&ButtonLeft != 0:
		return ColorLeft
	case c.buttons&ButtonRight != 0:
		return ColorRight
	}
	return ColorIdle
}

func (c *Cursor) draw() {
	color := c.color()
	for py := 0; py < CursorSize; py++ {
		for px := 0; px < CursorSize; px++ {
			if spriteAt(px, py) {
				c.surface.SetPixel(c.x+px, c.y+py, color)
			}
		}
	}
	c.stats.Draws++
}

// Show captures the background at the current position and draws the
// pointer, if visible. Call it once the surface holds its first frame.
func (c *Cursor) Show() {
	if !c.visible {
		return
	}
	c.save(c.x, c.y)
	c.draw()
}

// Poll drains the motion queue and brings the pointer on screen up to
// date. While hidden the position is still tracked but nothing is drawn.
func (c *Cursor) Poll() {
	moved := false
	for {
		m, ok := c.queue.Pop()
		if !ok {
			break
		}
		moved = true
		nx, ny := c.clamp(c.x+int(m.DX), c.y-int(m.DY))
		if nx != c.x || ny != c.y {
			if c.visible {
				c.restore(c.x, c.y)
				c.save(nx, ny)
			}
			c.x, c.y = nx, ny
			c.stats.Moves++
		}
		if m.Buttons != c.buttons {
			c.buttons = m.Buttons
			c.dirty = true
		}
	}

	if !c.visible {
		c.dirty = false
		return
	}
	switch {
	case c.dirty:
		c.restore(c.x, c.y)
		c.save(c.x, c.y)
		c.draw()
		c.dirty = false
	case moved:
		c.draw()
	}
}

// ForceRedraw draws the pointer at its current position regardless of
// state, repairing it after something else drew over it.
func (c *Cursor) ForceRedraw() {
	if !c.visible {
		return
	}
	c.draw()
}

// SetVisible shows or hides the pointer. Repeating the current state does
// nothing.
func (c *Cursor) SetVisible(visible bool) {
	if visible == c.visible {
		return
	}
	c.visible = visible
	if !visible {
		c.restore(c.x, c.y)
		return
	}
	c.save(c.x, c.y)
	c.draw()
}

// Visible reports whether the pointer is shown.
func (c *Cursor) Visible() bool { return c.visible }

// Position returns the top-left corner of the pointer.
func (c *Cursor) Position() (x, y int) { return c.x, c.y }

// Buttons returns the button mask the pointer was last drawn for.
func (c *Cursor) Buttons() uint8 { return c.buttons }

// Backing returns a copy of the saved background.
func (c *Cursor) Backing() [CursorSize * CursorSize]uint32 { return c.backing }

// Stats returns the compositor counters.
func (c *Cursor) Stats() CursorStats { return c.stats }
