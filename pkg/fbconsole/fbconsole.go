// Package fbconsole implements the double-buffered scrolling text console
// over a raw pixel buffer described in Section 4.N: variable-height font
// rendering, RGB565/RGB555 pixel packing, and a BMP blit. No direct
// teacher analog exists in the corpus for framebuffer graphics; built
// from the spec plus original_source/main/dev/fb_draw.c.
package fbconsole

import (
	"encoding/binary"
	"fmt"
)

// PixelFormat selects the native packed-pixel layout.
type PixelFormat int

const (
	RGB565 PixelFormat = iota
	RGB555
)

// Font describes a fixed glyph grid: each glyph is Width x (Ascent +
// Height + Descent) pixels, with Intercharacter pixels of gap following.
type Font struct {
	Width          int
	Height         int
	Ascent         int
	Descent        int
	Intercharacter int
	Glyphs         map[rune][]byte // row-major 1bpp bitmap, Width bits per row
}

func (f Font) charHeight() int { return f.Ascent + f.Height + f.Descent }
func (f Font) charWidth() int  { return f.Width + f.Intercharacter }

// Console is the scrolling text console: two equally-sized buffers (the
// "back-to-back" pair from Section 3), a cursor, and the active font.
type Console struct {
	width, height int
	format        PixelFormat
	fg, bg        uint32 // packed native-format pixel values

	buffers  [2]([]byte)
	visible  int // index of the currently-displayed buffer
	cursorX  int
	cursorY  int
	font     Font
	modulo   int // extra-pixel rows distributed across the top `modulo` char rows

	scrollCount uint64
}

// ScrollCount reports how many times the console has scrolled since
// creation, for metrics export.
func (c *Console) ScrollCount() uint64 {
	return c.scrollCount
}

// New allocates a console of width x height pixels using font, with the
// given foreground/background colors already packed to the pixel format.
func New(width, height int, format PixelFormat, font Font, fg, bg uint32) *Console {
	bufSize := width * height * bytesPerPixel(format)
	c := &Console{
		width: width, height: height, format: format,
		fg: fg, bg: bg, font: font,
	}
	c.buffers[0] = make([]byte, bufSize)
	c.buffers[1] = make([]byte, bufSize)
	ch := font.charHeight()
	if ch > 0 {
		c.modulo = height % ch
	}
	c.Clear()
	return c
}

func bytesPerPixel(f PixelFormat) int {
	switch f {
	case RGB565, RGB555:
		return 2
	}
	return 2
}

// PackRGB565 packs 8-bit RGB into a 16-bit 5-6-5 pixel.
func PackRGB565(r, g, b uint8) uint32 {
	return uint32(r>>3)<<11 | uint32(g>>2)<<5 | uint32(b>>3)
}

// PackRGB555 packs 8-bit RGB into a 15-bit 5-5-5 pixel (top bit zero).
func PackRGB555(r, g, b uint8) uint32 {
	return uint32(r>>3)<<10 | uint32(g>>3)<<5 | uint32(b>>3)
}

// Clear paints both buffers with the background color and homes the
// cursor, matching the no-splash-file startup path.
func (c *Console) Clear() {
	for i := range c.buffers {
		c.fillBuffer(c.buffers[i], c.bg)
	}
	c.cursorX, c.cursorY = 0, 0
}

func (c *Console) fillBuffer(buf []byte, pixel uint32) {
	for off := 0; off+1 < len(buf); off += 2 {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(pixel))
	}
}

// setPixel writes one pixel into the active (visible) buffer's copy at
// (x, y). Writes go to both buffers so a later scroll's memcpy finds
// consistent content, matching Section 4.N's "write to both buffers"
// scroll algorithm.
func (c *Console) setPixel(x, y int, pixel uint32) {
	if x < 0 || x >= c.width || y < 0 || y >= c.height {
		return
	}
	off := (y*c.width + x) * 2
	for i := range c.buffers {
		binary.LittleEndian.PutUint16(c.buffers[i][off:off+2], uint16(pixel))
	}
}

// Print writes s at the cursor, wrapping and scrolling as needed.
func (c *Console) Print(s string) {
	for _, r := range s {
		if r == '\n' {
			c.newline()
			continue
		}
		c.drawGlyph(r)
		c.cursorX++
		if c.cursorX*c.font.charWidth() >= c.width {
			c.newline()
		}
	}
}

func (c *Console) newline() {
	c.cursorX = 0
	c.cursorY++
	maxRows := c.height / c.font.charHeight()
	if c.cursorY >= maxRows {
		c.scroll()
		c.cursorY = maxRows - 1
	}
}

// scroll implements Section 4.N's no-hardware-base-pointer fallback:
// memcpy the visible region one character row upward, clear the last
// row. The double-buffer DMA-slide path is not applicable to a host
// build with no real base-pointer register (Open Question #4).
func (c *Console) scroll() {
	c.scrollCount++
	rowPixels := c.font.charHeight() * c.width
	rowBytes := rowPixels * 2
	for i := range c.buffers {
		buf := c.buffers[i]
		copy(buf, buf[rowBytes:])
		for off := len(buf) - rowBytes; off < len(buf); off += 2 {
			if off+1 < len(buf) {
				binary.LittleEndian.PutUint16(buf[off:off+2], uint16(c.bg))
			}
		}
	}
}

func (c *Console) drawGlyph(r rune) {
	bitmap, ok := c.font.Glyphs[r]
	if !ok {
		return
	}
	baseX := c.cursorX * c.font.charWidth()
	baseY := c.cursorY * c.font.charHeight()

	for row := 0; row < c.font.charHeight(); row++ {
		var rowBits byte
		if row >= c.font.Ascent && row < c.font.Ascent+c.font.Height {
			glyphRow := row - c.font.Ascent
			if glyphRow < len(bitmap) {
				rowBits = bitmap[glyphRow]
			}
		}
		for col := 0; col < c.font.Width; col++ {
			bit := rowBits&(0x80>>uint(col)) != 0
			pixel := c.bg
			if bit {
				pixel = c.fg
			}
			c.setPixel(baseX+col, baseY+row, pixel)
		}
		for col := c.font.Width; col < c.font.charWidth(); col++ {
			c.setPixel(baseX+col, baseY+row, c.bg)
		}
	}
}

// Buffer returns the currently visible buffer's raw pixel bytes.
func (c *Console) Buffer() []byte {
	return c.buffers[c.visible]
}

// BlitBMP decodes a minimal uncompressed BMP (24 or 16-bit) and paints it
// into both buffers starting at (0,0), matching the splash-file startup
// path. No image-decoding library exists anywhere in the retrieved
// example pack (see DESIGN.md); this is a from-scratch fixed-point
// decoder for the bare-metal target's own pixel layout, not a
// general-purpose image.Image implementation.
func (c *Console) BlitBMP(data []byte) error {
	if len(data) < 54 || data[0] != 'B' || data[1] != 'M' {
		return fmt.Errorf("fbconsole: not a BMP file")
	}
	dataOffset := int(binary.LittleEndian.Uint32(data[10:14]))
	width := int(int32(binary.LittleEndian.Uint32(data[18:22])))
	height := int(int32(binary.LittleEndian.Uint32(data[22:26])))
	bpp := int(binary.LittleEndian.Uint16(data[28:30]))

	if bpp != 24 && bpp != 16 {
		return fmt.Errorf("fbconsole: unsupported BMP bit depth %d", bpp)
	}

	flip := height > 0
	absHeight := height
	if absHeight < 0 {
		absHeight = -absHeight
	}

	rowSize := ((width*bpp + 31) / 32) * 4
	for row := 0; row < absHeight; row++ {
		srcRow := row
		if flip {
			srcRow = absHeight - 1 - row
		}
		rowStart := dataOffset + srcRow*rowSize
		if rowStart+rowSize > len(data) {
			break
		}
		for col := 0; col < width; col++ {
			var pixel uint32
			switch bpp {
			case 24:
				off := rowStart + col*3
				b, g, r := data[off], data[off+1], data[off+2]
				if c.format == RGB555 {
					pixel = PackRGB555(r, g, b)
				} else {
					pixel = PackRGB565(r, g, b)
				}
			case 16:
				off := rowStart + col*2
				pixel = uint32(binary.LittleEndian.Uint16(data[off : off+2]))
			}
			c.setPixel(col, row, pixel)
		}
	}
	return nil
}
