package netstack

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestARPCacheStoreAndLookup(t *testing.T) {
	c := NewARPCache(2)
	ip1 := net.IPv4(10, 0, 0, 1)
	mac1 := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	c.Store(ip1, mac1)

	got, ok := c.Lookup(ip1)
	require.True(t, ok)
	assert.Equal(t, mac1, got)
}

func TestARPCacheOverwritesExistingIP(t *testing.T) {
	c := NewARPCache(2)
	ip1 := net.IPv4(10, 0, 0, 1)
	mac1 := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	mac2 := net.HardwareAddr{6, 5, 4, 3, 2, 1}
	c.Store(ip1, mac1)
	c.Store(ip1, mac2)

	got, ok := c.Lookup(ip1)
	require.True(t, ok)
	assert.Equal(t, mac2, got)
	assert.Len(t, c.entries, 1)
}

func TestARPCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewARPCache(1)
	ip1 := net.IPv4(10, 0, 0, 1)
	ip2 := net.IPv4(10, 0, 0, 2)
	mac1 := net.HardwareAddr{1, 1, 1, 1, 1, 1}
	mac2 := net.HardwareAddr{2, 2, 2, 2, 2, 2}
	c.Store(ip1, mac1)
	c.Store(ip2, mac2)

	_, ok := c.Lookup(ip1)
	assert.False(t, ok)
	got, ok := c.Lookup(ip2)
	require.True(t, ok)
	assert.Equal(t, mac2, got)
}

func TestIPHeaderChecksumRoundTrips(t *testing.T) {
	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(10, 0, 0, 2)
	hdr := buildIPHeader(42, ipProtoUDP, src, dst, 8, 60)

	parsed, _, err := parseIPHeader(append(hdr, make([]byte, 8)...))
	require.NoError(t, err)
	assert.Equal(t, uint16(42), parsed.ID)
	assert.True(t, parsed.Src.Equal(src))
	assert.True(t, parsed.Dst.Equal(dst))
}

func TestParseDHCPOptionsStopsAtEndMarker(t *testing.T) {
	opts := []byte{53, 1, 2, 54, 4, 10, 0, 0, 1, 0xff, 99, 1, 1}
	parsed := parseDHCPOptions(opts)
	assert.Equal(t, []byte{2}, parsed[53])
	assert.Equal(t, []byte{10, 0, 0, 1}, parsed[54])
	_, ok := parsed[99]
	assert.False(t, ok, "options after the 0xff terminator must not be parsed")
}

func TestMulticastMACDerivation(t *testing.T) {
	group := net.IPv4(239, 1, 2, 3)
	mac := multicastMAC(group)
	assert.Equal(t, net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03}, mac)
}

func TestReadDNSNameSkipsCompressionPointer(t *testing.T) {
	msg := []byte{3, 'f', 'o', 'o', 0}
	msg = append(msg, 0xc0, 0x00) // pointer back to offset 0
	name, next, ok := readDNSName(msg, 5)
	require.True(t, ok)
	assert.Equal(t, "", name) // pointer alone yields no labels at this offset
	assert.Equal(t, 7, next)
}

func TestNextLinkLocalFirstAttemptStaysInThirdOctetOne(t *testing.T) {
	// Spec 8's scenario 2 literal MAC: the first candidate must land in
	// 169.254.1.X, since adding crc32(mac)&0xff to 169.254.1.0 only ever
	// changes the low byte.
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x04}
	state := &linkLocalState{}
	ip := state.nextLinkLocal(mac).To4()
	assert.Equal(t, byte(169), ip[0])
	assert.Equal(t, byte(254), ip[1])
	assert.Equal(t, byte(1), ip[2])
}

func TestNextLinkLocalSubsequentAttemptIncrementsByMacLowNibble(t *testing.T) {
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x04}
	state := &linkLocalState{}
	first := state.nextLinkLocal(mac)
	second := state.nextLinkLocal(mac)
	assert.NotEqual(t, first, second)
	assert.Equal(t, byte(254), second.To4()[1])
	// mac[5]&0xf == 4
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(second.To4())-binary.BigEndian.Uint32(first.To4()))
}
