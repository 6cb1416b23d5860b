package xymodem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumXOrSum(t *testing.T) {
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	// simple sanity: sum of 0..127 mod 256
	var want byte
	for _, b := range data {
		want += b
	}
	assert.Equal(t, want, Checksum(data))
}

func TestCRC16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC check string; CRC16/XMODEM = 0x31C3
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
}

func TestNakResendIntervalDoublesPerExtraD(t *testing.T) {
	m := DefaultMode()
	base := m.NakResendInterval(0)
	assert.Equal(t, base*2, m.NakResendInterval(1))
	assert.Equal(t, base*4, m.NakResendInterval(2))
	assert.Equal(t, base*8, m.NakResendInterval(3))
}

func TestPadToAppendsSubByte(t *testing.T) {
	out := padTo([]byte("hi"), 8)
	assert.Len(t, out, 8)
	assert.Equal(t, byte('h'), out[0])
	assert.Equal(t, byte(0x1A), out[2])
}
