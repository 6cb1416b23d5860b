package atags

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreIsFirstTagAndSizedCorrectly(t *testing.T) {
	buf := New().Core(0, 4096, 0).None()
	require.True(t, len(buf) >= 8)
	size := binary.LittleEndian.Uint32(buf[0:4])
	tag := binary.LittleEndian.Uint32(buf[4:8])
	assert.Equal(t, uint32(5), size) // 2 header words + 3 body words
	assert.Equal(t, tagCore, tag)
}

func TestCmdlineIsPaddedToWordBoundary(t *testing.T) {
	buf := New().Core(0, 4096, 0).Cmdline("console=ttyS0").None()
	assert.Equal(t, 0, len(buf)%4)
}

func TestSerialFromMACPacksAllSixBytes(t *testing.T) {
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x04}
	b, err := New().Core(0, 4096, 0).SerialFromMAC(mac)
	require.NoError(t, err)
	buf := b.None()
	assert.Greater(t, len(buf), 16)
	// Serial tag body follows the 20-byte core tag and its own 8-byte header.
	assert.Equal(t, uint32(0x00000002), binary.LittleEndian.Uint32(buf[28:32]))
	assert.Equal(t, uint32(0x00000400), binary.LittleEndian.Uint32(buf[32:36]))
}

func TestNoneTerminatesList(t *testing.T) {
	buf := New().Core(0, 4096, 0).None()
	tail := buf[len(buf)-8:]
	tag := binary.LittleEndian.Uint32(tail[4:8])
	assert.Equal(t, tagNone, tag)
}
