package netstack

import (
	"encoding/binary"
	"hash/crc32"
	"net"
	"time"

	"github.com/jrcatbagan/umon/pkg/retrans"
	"github.com/jrcatbagan/umon/pkg/timer"
)

const (
	ethTypeARP  uint16 = 0x0806
	arpHTypeEth uint16 = 1
	arpPTypeIP  uint16 = 0x0800

	arpOpRequest  uint16 = 1
	arpOpResponse uint16 = 2

	announceWait = 2 * time.Second
	announceNum  = 2
)

// arpEntry is one binding in the ARP cache.
type arpEntry struct {
	ip  [4]byte
	mac net.HardwareAddr
}

// ARPCache is the fixed-capacity ring described in Section 3: lookup is
// linear, insert overwrites the oldest slot once full, and there is no
// uniqueness enforcement beyond "a rebind of an existing IP overwrites in
// place".
type ARPCache struct {
	entries []arpEntry
	next    int
	cap     int
}

// NewARPCache returns an empty cache with room for capacity entries.
func NewARPCache(capacity int) *ARPCache {
	return &ARPCache{cap: capacity}
}

// Lookup returns the MAC bound to ip, if any.
func (c *ARPCache) Lookup(ip net.IP) (net.HardwareAddr, bool) {
	var key [4]byte
	copy(key[:], ip.To4())
	for _, e := range c.entries {
		if e.ip == key {
			return e.mac, true
		}
	}
	return nil, false
}

// Store records ip -> mac, overwriting an existing binding for ip in
// place, or the oldest slot if the cache is full and ip is new.
func (c *ARPCache) Store(ip net.IP, mac net.HardwareAddr) {
	var key [4]byte
	copy(key[:], ip.To4())

	for i := range c.entries {
		if c.entries[i].ip == key {
			c.entries[i].mac = mac
			return
		}
	}

	entry := arpEntry{ip: key, mac: mac}
	if len(c.entries) < c.cap {
		c.entries = append(c.entries, entry)
		return
	}
	c.entries[c.next] = entry
	c.next = (c.next + 1) % c.cap
}

// Flush empties the cache ("arp -f").
func (c *ARPCache) Flush() {
	c.entries = nil
	c.next = 0
}

// Len reports the number of entries currently held, for metrics export.
func (c *ARPCache) Len() int {
	return len(c.entries)
}

type linkLocalState struct {
	probeIP    net.IP
	probeAbort bool
	beenHere   int
	llad       uint32
}

// buildARPFrame constructs the 28-byte ARP payload plus Ethernet header.
func buildARPFrame(srcMAC, dstMAC net.HardwareAddr, op uint16, senderIP net.IP, senderMAC net.HardwareAddr, targetIP net.IP, targetMAC net.HardwareAddr) *Frame {
	body := make([]byte, 28)
	binary.BigEndian.PutUint16(body[0:2], arpHTypeEth)
	binary.BigEndian.PutUint16(body[2:4], arpPTypeIP)
	body[4] = 6
	body[5] = 4
	binary.BigEndian.PutUint16(body[6:8], op)
	copy(body[8:14], senderMAC)
	copy(body[14:18], senderIP.To4())
	copy(body[18:24], targetMAC)
	copy(body[24:28], targetIP.To4())

	return &Frame{Dst: dstMAC, Src: srcMAC, EthType: ethTypeARP, Payload: body}
}

// SendArpRequest broadcasts an ARP request for ip. When probe is true,
// both the sender-IP and target-MAC fields are zeroed per RFC 3927.
func (s *Stack) SendArpRequest(ip net.IP, probe bool) error {
	senderIP := s.LocalIP()
	senderMAC := s.Driver.LocalMAC()
	targetMAC := net.HardwareAddr{0, 0, 0, 0, 0, 0}
	if probe {
		senderIP = net.IPv4zero
	}
	f := buildARPFrame(senderMAC, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, arpOpRequest, senderIP, senderMAC, ip, targetMAC)
	return s.send(f)
}

// SendArpResp answers an incoming request, swapping sender/target.
func (s *Stack) SendArpResp(requesterMAC net.HardwareAddr, requesterIP net.IP) error {
	senderMAC := s.Driver.LocalMAC()
	f := buildARPFrame(senderMAC, requesterMAC, arpOpResponse, s.LocalIP(), senderMAC, requesterIP, requesterMAC)
	return s.send(f)
}

// processARP handles one received ARP frame per Section 4.C.
func (s *Stack) processARP(payload []byte) error {
	if len(payload) < 28 {
		return nil
	}
	op := binary.BigEndian.Uint16(payload[6:8])
	senderMAC := net.HardwareAddr(payload[8:14])
	senderIP := net.IP(payload[14:18])
	targetIP := net.IP(payload[24:28])

	if s.LinkLocal != nil && senderIP.Equal(net.IPv4zero) && targetIP.Equal(s.LinkLocal.probeIP) {
		s.LinkLocal.probeAbort = true
	}

	switch op {
	case arpOpRequest:
		if targetIP.Equal(s.LocalIP()) {
			s.ARP.Store(senderIP, senderMAC)
			return s.SendArpResp(senderMAC, senderIP)
		}
	case arpOpResponse:
		if targetIP.Equal(s.LocalIP()) {
			s.ARP.Store(senderIP, senderMAC)
			if senderIP.Equal(s.LocalIP()) {
				s.Logger.Warn("arp: IP may be in use")
			}
		}
	}
	return nil
}

// ArpEther resolves ip to a MAC, polling the driver and backing off via
// pkg/retrans until the address is learned or the session times out.
func (s *Stack) ArpEther(ip net.IP) (net.HardwareAddr, error) {
	if mac, ok := s.ARP.Lookup(ip); ok {
		return mac, nil
	}

	policy := retrans.New(retrans.ARPProfile, nil)
	if err := s.SendArpRequest(ip, false); err != nil {
		return nil, err
	}

	for {
		delaySec, err := policy.NextDelaySeconds()
		if err != nil {
			return nil, err
		}
		tm := timer.Start(s.Clock, time.Duration(delaySec)*time.Second)
		for !tm.Poll() {
			if err := s.Poll(1); err != nil {
				return nil, err
			}
			if mac, ok := s.ARP.Lookup(ip); ok {
				return mac, nil
			}
		}
		if err := s.SendArpRequest(ip, false); err != nil {
			return nil, err
		}
	}
}

// LinkLocalProbe runs the RFC 3927 autoconfiguration sequence ("arp -l").
func (s *Stack) LinkLocalProbe() error {
	mac := s.Driver.LocalMAC()
	time.Sleep(time.Duration(mac[5]*4) * time.Millisecond)

	state := &linkLocalState{beenHere: 0}
	s.LinkLocal = state
	defer func() { s.LinkLocal = nil }()

	for {
		state.probeIP = state.nextLinkLocal(mac)
		state.probeAbort = false

		if err := s.SendArpRequest(state.probeIP, true); err != nil {
			return err
		}

		tm := timer.Start(s.Clock, announceWait)
		conflict := false
		for !tm.Poll() {
			if err := s.Poll(1); err != nil {
				return err
			}
			if state.probeAbort {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}

		s.SetLocalIP(state.probeIP)
		s.Vars.Set("NETMASK", "255.255.0.0")
		s.Vars.Clear("GIPADD")

		for i := 0; i < announceNum; i++ {
			if err := s.SendArpRequest(state.probeIP, false); err != nil {
				return err
			}
		}
		return nil
	}
}

const (
	linkLocalBegin uint32 = 0xa9fe0100 // 169.254.1.0
	linkLocalEnd   uint32 = 0xa9fefeff // 169.254.254.255
)

// nextLinkLocal implements llas() (Section 4.C / RFC 3927 2.1): the first
// call seeds the candidate from crc32(mac)&0xff added to the base of the
// range, so the first candidate differs from the base only in its low
// byte and always lands in 169.254.1.X. Each later call increments
// by the low 4 bits of the MAC's last byte, wrapping back toward the
// base (offset by that same increment and the attempt count) if it runs
// past the end of the range.
func (s *linkLocalState) nextLinkLocal(mac net.HardwareAddr) net.IP {
	if s.beenHere == 0 {
		h := crc32.ChecksumIEEE(mac)
		s.llad = linkLocalBegin + (h & 0xff)
	} else {
		inc := uint32(mac[5] & 0xf)
		s.llad += inc
		if s.llad >= linkLocalEnd {
			s.llad = linkLocalBegin + inc + uint32(s.beenHere)
		}
	}
	s.beenHere++
	return net.IPv4(byte(s.llad>>24), byte(s.llad>>16), byte(s.llad>>8), byte(s.llad))
}
