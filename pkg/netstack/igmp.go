package netstack

import (
	"encoding/binary"
	"net"
)

const (
	igmpJoin  byte = 0x16 // v2 membership report
	igmpLeave byte = 0x17

	routerAllHosts = "224.0.0.2"
)

// multicastMAC derives the Ethernet destination for group, per
// 01:00:5e:xx:xx:xx with the low 23 bits of the group address.
func multicastMAC(group net.IP) net.HardwareAddr {
	g := group.To4()
	return net.HardwareAddr{0x01, 0x00, 0x5e, g[1] & 0x7f, g[2], g[3]}
}

// Igmp joins or leaves a multicast group ("igmp join/leave IP").
func (s *Stack) Igmp(join bool, group net.IP) error {
	var dstMAC net.HardwareAddr
	var msgType byte
	if join {
		dstMAC = multicastMAC(group)
		msgType = igmpJoin
	} else {
		dstMAC = multicastMAC(net.ParseIP(routerAllHosts))
		msgType = igmpLeave
	}

	body := make([]byte, 8)
	body[0] = msgType
	body[1] = 0
	copy(body[4:8], group.To4())
	binary.BigEndian.PutUint16(body[2:4], checksum16(body))

	// IGMP carries an IP router-alert option (4 extra header bytes).
	ipHdr := buildIPHeaderWithRouterAlert(s.nextIPID(), ipProtoIGMP, s.LocalIP(), group, len(body))
	frame := &Frame{Dst: dstMAC, Src: s.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: append(ipHdr, body...)}
	return s.send(frame)
}

// buildIPHeaderWithRouterAlert is buildIPHeader plus the 4-byte
// router-alert option (0x94040000) IGMP requires.
func buildIPHeaderWithRouterAlert(id uint16, proto uint16, src, dst net.IP, payloadLen int) []byte {
	b := make([]byte, 24)
	b[0] = 0x46 // version 4, IHL 6 (24 bytes)
	binary.BigEndian.PutUint16(b[2:4], uint16(24+payloadLen))
	binary.BigEndian.PutUint16(b[4:6], id)
	b[8] = 1 // TTL=1 for IGMP, per RFC
	b[9] = byte(proto)
	copy(b[12:16], src.To4())
	copy(b[16:20], dst.To4())
	binary.BigEndian.PutUint32(b[20:24], 0x94040000)

	sum := checksum16(b)
	binary.BigEndian.PutUint16(b[10:12], sum)
	return b
}

func (s *Stack) processIGMP(hdr ipHeader, payload []byte) error {
	if len(payload) < 8 {
		return nil
	}
	s.Logger.WithField("type", payload[0]).Debug("netstack: IGMP message received")
	return nil
}
