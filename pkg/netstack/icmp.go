package netstack

import (
	"encoding/binary"
	"net"
)

const (
	icmpEchoReply       byte = 0
	icmpEchoRequest     byte = 8
	icmpUnreachable     byte = 3
	icmpTimeRequest     byte = 13
	icmpTimeReply       byte = 14

	icmpUnreachProtocol byte = 2
	icmpUnreachPort     byte = 3

	defaultEchoDataSize = 26
)

// LastEcho records the most recently observed echo reply, for the ping
// command to read back.
type LastEcho struct {
	ID   uint16
	Seq  uint16
	Got  bool
}

func (s *Stack) processICMP(hdr ipHeader, payload []byte) error {
	if len(payload) < 8 {
		return nil
	}
	msgType := payload[0]
	code := payload[1]

	switch msgType {
	case icmpEchoRequest:
		return s.sendICMP(hdr.Src, icmpEchoReply, 0, payload[4:8], payload[8:])
	case icmpEchoReply:
		id := binary.BigEndian.Uint16(payload[4:6])
		seq := binary.BigEndian.Uint16(payload[6:8])
		s.lastEcho = LastEcho{ID: id, Seq: seq, Got: true}
	case icmpUnreachable:
		s.Logger.WithField("code", code).Debug("netstack: ICMP destination unreachable")
	case icmpTimeReply:
		s.Logger.Debug("netstack: ICMP time reply received")
	}
	return nil
}

// sendICMP builds and transmits one ICMP message to dst.
func (s *Stack) sendICMP(dst net.IP, msgType, code byte, idSeq []byte, data []byte) error {
	mac, err := s.ArpEther(dst)
	if err != nil {
		return err
	}

	body := make([]byte, 8+len(data))
	body[0] = msgType
	body[1] = code
	copy(body[4:8], idSeq)
	copy(body[8:], data)
	binary.BigEndian.PutUint16(body[2:4], 0)
	binary.BigEndian.PutUint16(body[2:4], checksum16(body))

	ipHdr := buildIPHeader(s.nextIPID(), ipProtoICMP, s.LocalIP(), dst, len(body), 60)
	frame := &Frame{Dst: mac, Src: s.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: append(ipHdr, body...)}
	return s.send(frame)
}

// SendICMPRequest issues an echo or timestamp request to ip.
func (s *Stack) SendICMPRequest(timeReq bool, ip net.IP, seq uint16, dataSize int) error {
	if dataSize <= 0 {
		dataSize = defaultEchoDataSize
	}
	idSeq := make([]byte, 4)
	binary.BigEndian.PutUint16(idSeq[0:2], 1)
	binary.BigEndian.PutUint16(idSeq[2:4], seq)

	if timeReq {
		return s.sendICMP(ip, icmpTimeRequest, 0, idSeq, make([]byte, 4))
	}
	data := make([]byte, dataSize)
	for i := range data {
		data[i] = 'a' + byte(i)
	}
	return s.sendICMP(ip, icmpEchoRequest, 0, idSeq, data)
}

// SendICMPUnreachable puts the received IP header plus 8 bytes of
// payload into the reply per RFC 792, unless DONTSEND_ICMP_UNREACHABLE
// is set. The header is rebuilt from the parsed fields as a 20-byte
// header, so the original's TOS, flags, fragment offset and options are
// not reproduced.
func (s *Stack) SendICMPUnreachable(hdr ipHeader, originalPayload []byte, code byte) error {
	if _, ok := s.Vars.Get("DONTSEND_ICMP_UNREACHABLE"); ok {
		return nil
	}

	echo := append([]byte{}, originalPayload...)
	if len(echo) > 8 {
		echo = echo[:8]
	}
	origHdr := buildIPHeader(hdr.ID, hdr.Protocol, hdr.Src, hdr.Dst, int(hdr.TotalLen)-hdr.hdrLen, hdr.TTL)
	data := append(origHdr, echo...)
	return s.sendICMP(hdr.Src, icmpUnreachable, code, make([]byte, 4), data)
}
