package netstack

import (
	"encoding/binary"
	"fmt"
)

// buildUDP renders a UDP segment (checksum left zero; callers that need a
// checksum call udpChecksum themselves once both headers are assembled,
// as the DHCP DISCOVER sender does; the TFTP, DNS and remote-command
// senders leave it zero).
func buildUDP(srcPort, dstPort uint16, payload []byte) []byte {
	seg := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(seg[0:2], srcPort)
	binary.BigEndian.PutUint16(seg[2:4], dstPort)
	binary.BigEndian.PutUint16(seg[4:6], uint16(8+len(payload)))
	binary.BigEndian.PutUint16(seg[6:8], 0)
	copy(seg[8:], payload)
	return seg
}

// udpDatagram is a parsed view over a UDP segment.
type udpDatagram struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

func parseUDP(hdr ipHeader, segment []byte) (udpDatagram, error) {
	if len(segment) < 8 {
		return udpDatagram{}, fmt.Errorf("netstack: short UDP segment")
	}
	d := udpDatagram{
		SrcPort: binary.BigEndian.Uint16(segment[0:2]),
		DstPort: binary.BigEndian.Uint16(segment[2:4]),
		Payload: segment[8:],
	}
	checksumField := binary.BigEndian.Uint16(segment[6:8])
	if checksumField != 0 {
		check := make([]byte, len(segment))
		copy(check, segment)
		binary.BigEndian.PutUint16(check[6:8], 0)
		if udpChecksum(hdr.Src, hdr.Dst, check) != checksumField {
			return udpDatagram{}, fmt.Errorf("netstack: UDP checksum mismatch")
		}
	}
	return d, nil
}

// processUDP dispatches a UDP datagram by destination port per Section 4.D.
func (s *Stack) processUDP(hdr ipHeader, segment []byte, depth int) error {
	dg, err := parseUDP(hdr, segment)
	if err != nil {
		s.Logger.WithError(err).Debug("netstack: dropping malformed UDP datagram")
		return nil
	}

	switch {
	case dg.DstPort == uint16(s.Config.RemoteCmdPort):
		return s.RemoteCmd.handle(hdr, dg)
	case dg.DstPort == dhcpClientPort:
		return s.DHCP.handleReply(hdr, dg)
	case dg.DstPort >= uint16(s.Config.TFTPPortBase) && int(dg.DstPort) < s.Config.TFTPPortBase+s.Config.TFTPPortRange:
		if s.activeTFTP != nil {
			return s.activeTFTP.handle(hdr, dg)
		}
	case dg.DstPort == dnsPort || dg.DstPort == mdnsPort:
		return s.DNS.handle(hdr, dg)
	default:
		return s.SendICMPUnreachable(hdr, segment, icmpUnreachPort)
	}
	return nil
}
