package fbconsole

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFont() Font {
	return Font{
		Width: 8, Height: 8, Ascent: 0, Descent: 0, Intercharacter: 1,
		Glyphs: map[rune][]byte{
			'A': {0x18, 0x24, 0x42, 0x7e, 0x42, 0x42, 0x42, 0x00},
		},
	}
}

func TestPackRGB565(t *testing.T) {
	assert.Equal(t, uint32(0xFFFF), PackRGB565(0xFF, 0xFF, 0xFF))
	assert.Equal(t, uint32(0), PackRGB565(0, 0, 0))
}

func TestPackRGB555(t *testing.T) {
	assert.Equal(t, uint32(0x7FFF), PackRGB555(0xFF, 0xFF, 0xFF))
}

func TestClearFillsBackground(t *testing.T) {
	c := New(16, 16, RGB565, testFont(), 0xFFFF, 0x0000)
	buf := c.Buffer()
	for off := 0; off+1 < len(buf); off += 2 {
		require.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[off:off+2]))
	}
}

func TestPrintDrawsGlyphPixels(t *testing.T) {
	c := New(32, 16, RGB565, testFont(), 0xFFFF, 0x0000)
	c.Print("A")
	buf := c.Buffer()
	foundFg := false
	for off := 0; off+1 < len(buf); off += 2 {
		if binary.LittleEndian.Uint16(buf[off:off+2]) == 0xFFFF {
			foundFg = true
			break
		}
	}
	assert.True(t, foundFg, "expected at least one foreground pixel after printing a glyph")
}

func TestNewlineScrollsWhenPastBottom(t *testing.T) {
	c := New(16, 8, RGB565, testFont(), 0xFFFF, 0x0000)
	// Height 8 == one char row; a second newline must trigger scroll()
	// rather than growing cursorY unbounded.
	c.Print("A\nA\n")
	assert.Equal(t, 0, c.cursorY)
}

func TestBlitBMPRejectsBadMagic(t *testing.T) {
	c := New(4, 4, RGB565, testFont(), 0xFFFF, 0)
	err := c.BlitBMP([]byte("not a bmp"))
	assert.Error(t, err)
}

func TestBlitBMP24Bit(t *testing.T) {
	// Minimal 2x2 24-bit uncompressed BMP, bottom-up row order.
	width, height := 2, 2
	rowSize := ((width*24 + 31) / 32) * 4
	pixelDataSize := rowSize * height
	dataOffset := 54

	buf := make([]byte, dataOffset+pixelDataSize)
	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[10:14], uint32(dataOffset))
	binary.LittleEndian.PutUint32(buf[14:18], 40) // DIB header size
	binary.LittleEndian.PutUint32(buf[18:22], uint32(width))
	binary.LittleEndian.PutUint32(buf[22:26], uint32(height))
	binary.LittleEndian.PutUint16(buf[28:30], 24)

	// Bottom row (row 0 in file) = red, top row (row 1 in file) = blue.
	row0 := buf[dataOffset : dataOffset+rowSize]
	row0[0], row0[1], row0[2] = 0, 0, 0xFF // B,G,R = red
	row1 := buf[dataOffset+rowSize : dataOffset+2*rowSize]
	row1[0], row1[1], row1[2] = 0xFF, 0, 0 // B,G,R = blue

	c := New(width, height, RGB565, testFont(), 0xFFFF, 0)
	require.NoError(t, c.BlitBMP(buf))

	out := c.Buffer()
	topLeft := binary.LittleEndian.Uint16(out[0:2])
	assert.Equal(t, uint16(PackRGB565(0, 0, 0xFF)), topLeft) // top screen row = last file row = blue
}
