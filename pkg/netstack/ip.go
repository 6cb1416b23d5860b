package netstack

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	ethTypeIPv4 uint16 = 0x0800

	ipProtoICMP uint16 = 1
	ipProtoIGMP uint16 = 2
	ipProtoTCP  uint16 = 6
	ipProtoUDP  uint16 = 17
)

// ipHeader is a parsed view over an IPv4 header. parseIPHeader accepts
// headers carrying options and skips past them; buildIPHeader always
// emits a 20-byte header without options (the IGMP sender adds its own
// router-alert option).
type ipHeader struct {
	TotalLen uint16
	ID       uint16
	TTL      byte
	Protocol uint16
	Src      net.IP
	Dst      net.IP
	Checksum uint16
	hdrLen   int
}

func parseIPHeader(b []byte) (ipHeader, []byte, error) {
	if len(b) < 20 {
		return ipHeader{}, nil, fmt.Errorf("netstack: short IP header")
	}
	version := b[0] >> 4
	if version != 4 {
		return ipHeader{}, nil, fmt.Errorf("netstack: unsupported IP version %d", version)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < 20 || len(b) < ihl {
		return ipHeader{}, nil, fmt.Errorf("netstack: malformed IP header length")
	}

	h := ipHeader{
		TotalLen: binary.BigEndian.Uint16(b[2:4]),
		ID:       binary.BigEndian.Uint16(b[4:6]),
		TTL:      b[8],
		Protocol: uint16(b[9]),
		Checksum: binary.BigEndian.Uint16(b[10:12]),
		Src:      net.IP(append([]byte{}, b[12:16]...)),
		Dst:      net.IP(append([]byte{}, b[16:20]...)),
		hdrLen:   ihl,
	}
	if onesComplementSum(b[:ihl]) != 0 {
		return ipHeader{}, nil, fmt.Errorf("netstack: IP header checksum mismatch")
	}
	return h, b[ihl:], nil
}

// buildIPHeader renders a 20-byte header (no options) with a freshly
// computed checksum.
func buildIPHeader(id uint16, proto uint16, src, dst net.IP, payloadLen int, ttl byte) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(20+payloadLen))
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], 0)
	b[8] = ttl
	b[9] = byte(proto)
	binary.BigEndian.PutUint16(b[10:12], 0)
	copy(b[12:16], src.To4())
	copy(b[16:20], dst.To4())

	sum := checksum16(b)
	binary.BigEndian.PutUint16(b[10:12], sum)
	return b
}

// onesComplementSum folds a byte slice's 16-bit words into one's
// complement and returns the residual (0 means "checksum valid").
func onesComplementSum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// checksum16 computes the one's-complement checksum of b (with its own
// checksum field assumed zeroed by the caller).
func checksum16(b []byte) uint16 {
	return ^onesComplementSum(b)
}

// udpChecksum computes the UDP checksum over the pseudo-header
// (src, dst, zero, proto, length) plus the UDP segment.
func udpChecksum(src, dst net.IP, segment []byte) uint16 {
	pseudo := make([]byte, 12+len(segment))
	copy(pseudo[0:4], src.To4())
	copy(pseudo[4:8], dst.To4())
	pseudo[8] = 0
	pseudo[9] = byte(ipProtoUDP)
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
	copy(pseudo[12:], segment)
	return checksum16(pseudo)
}

// demux implements Section 4.D's dispatch order for one received frame.
func (s *Stack) demux(f *Frame, depth int) error {
	if f.Src.String() == s.Driver.LocalMAC().String() {
		return nil // full-duplex loopback of our own transmission
	}

	switch f.EthType {
	case ethTypeARP:
		return s.processARP(f.Payload)
	case ethTypeIPv4:
		return s.processIP(f, depth)
	default:
		return nil
	}
}

func (s *Stack) processIP(f *Frame, depth int) error {
	hdr, payload, err := parseIPHeader(f.Payload)
	if err != nil {
		s.Logger.WithError(err).Debug("netstack: dropping malformed IP frame")
		return nil
	}

	if !s.acceptIPDestination(hdr.Dst) {
		return nil
	}

	switch hdr.Protocol {
	case ipProtoICMP:
		return s.processICMP(hdr, payload)
	case ipProtoIGMP:
		return s.processIGMP(hdr, payload)
	case ipProtoTCP:
		return s.sendTCPReset(hdr)
	case ipProtoUDP:
		return s.processUDP(hdr, payload, depth)
	default:
		return s.SendICMPUnreachable(hdr, payload, icmpUnreachProtocol)
	}
}

// acceptIPDestination accepts datagrams addressed to the local IP, the
// all-ones broadcast address or the mDNS group, and every datagram,
// whatever its protocol, while the local IP is still 0.0.0.0.
// Subnet-directed broadcasts are not accepted.
func (s *Stack) acceptIPDestination(dst net.IP) bool {
	local := s.LocalIP()
	if dst.Equal(local) {
		return true
	}
	if dst.Equal(net.IPv4bcast) {
		return true
	}
	if dst.Equal(mdnsGroup) {
		return true
	}
	if local.Equal(net.IPv4zero) {
		return true // RARP-assignment bootstrap window
	}
	return false
}

func (s *Stack) sendTCPReset(hdr ipHeader) error {
	// TCP is explicitly out of scope (Section 1 Non-goals): the segment
	// is logged and dropped, never accepted. No RST segment is built or
	// sent.
	s.Logger.WithField("src", hdr.Src.String()).Debug("netstack: dropping TCP segment")
	return nil
}
