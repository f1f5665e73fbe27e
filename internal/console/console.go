// Package console renders a pixel surface on an ANSI terminal using half
// block characters, two pixels per cell.
package console

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/charmbracelet/x/ansi"
)

const upperHalfBlock = "▀"

// Source is anything with pixels to show.
type Source interface {
	Width() int
	Height() int
	Pixel(x, y int) uint32
}

// Options controls the output size.
type Options struct {
	// Cols and Rows bound the output in terminal cells. Zero means one
	// cell per pixel column and one per two pixel rows.
	Cols, Rows int
	// Home moves the cursor to the top-left corner and clears the screen
	// first.
	Home bool
}

func (o Options) size(src Source) (cols, rows int) {
	cols, rows = src.Width(), (src.Height()+1)/2
	if o.Cols > 0 && o.Cols < cols {
		cols = o.Cols
	}
	if o.Rows > 0 && o.Rows < rows {
		rows = o.Rows
	}
	return cols, rows
}

func rgb(c uint32) color.Color {
	return color.RGBA{R: byte(c >> 16), G: byte(c >> 8), B: byte(c), A: 0xff}
}

// Render writes src scaled to fit the options. Each cell shows the sampled
// pixel of its upper half as the foreground and of its lower half as the
// background.
func Render(w io.Writer, src Source, opts Options) error {
	cols, rows := opts.size(src)
	if cols <= 0 || rows <= 0 {
		return nil
	}
	bw := bufio.NewWriter(w)
	if opts.Home {
		bw.WriteString(ansi.EraseEntireScreen)
		bw.WriteString(ansi.CursorPosition(1, 1))
	}

	sample := func(cx, py int) uint32 {
		x := cx * src.Width() / cols
		y := py * src.Height() / (rows * 2)
		return src.Pixel(x, y)
	}

	for row := 0; row < rows; row++ {
		var lastTop, lastBottom uint32
		styled := false
		for col := 0; col < cols; col++ {
			top := sample(col, row*2)
			bottom := sample(col, row*2+1)
			if !styled || top != lastTop || bottom != lastBottom {
				bw.WriteString(ansi.Style{}.ForegroundColor(rgb(top)).BackgroundColor(rgb(bottom)).String())
				lastTop, lastBottom, styled = top, bottom, true
			}
			bw.WriteString(upperHalfBlock)
		}
		bw.WriteString(ansi.ResetStyle)
		bw.WriteString("\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("console: render: %w", err)
	}
	return nil
}
