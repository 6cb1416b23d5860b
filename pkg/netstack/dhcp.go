package netstack

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/jrcatbagan/umon/pkg/retrans"
	"github.com/jrcatbagan/umon/pkg/timer"
)

const (
	dhcpServerPort uint16 = 67
	dhcpClientPort uint16 = 68
	dhcpCookie     uint32 = 0x63825363

	dhcpOpDiscover byte = 1
	dhcpOpOffer    byte = 2
	dhcpOpRequest  byte = 3
	dhcpOpAck      byte = 5
	dhcpOpNak      byte = 6
)

// DHCPState is the client's state machine position, per Section 4.F.
type DHCPState int

const (
	DHCPNotUsed DHCPState = iota
	DHCPInitialize
	DHCPInitDelay
	DHCPSelect
	DHCPRequest
	DHCPBound
	DHCPRenew
	DHCPRebind
	DHCPRestart
)

// DHCPClient is the singleton lease-acquisition session described in
// Section 3: one transaction at a time, xid seeded from crc32(mac) and
// incrementing thereafter.
type DHCPClient struct {
	stack       *Stack
	state       DHCPState
	bootp       bool
	xid         uint32
	offeredIP   net.IP
	serverID    net.IP
	sessionID   string // log-correlation only, not on the wire
}

// NewDHCPClient builds a client bound to stack.
func NewDHCPClient(stack *Stack) *DHCPClient {
	return &DHCPClient{stack: stack}
}

// State reports the client's current position in the lease state
// machine, for metrics export and diagnostics.
func (c *DHCPClient) State() DHCPState {
	return c.state
}

// Start begins a DHCP (or, if bootp, BOOTP) acquisition and blocks,
// polling the stack, until BOUND or the retransmission policy times out.
func (c *DHCPClient) Start(bootp bool) error {
	c.bootp = bootp
	c.sessionID = xid.New().String()
	logger := c.stack.Logger.WithField("dhcp_session", c.sessionID)

	mac := c.stack.Driver.LocalMAC()
	if c.xid == 0 {
		c.xid = crc32.ChecksumIEEE(mac)
	} else {
		c.xid++
	}

	c.state = DHCPInitialize
	policy := retrans.New(retrans.DHCPProfile, nil)

	c.state = DHCPSelect
	if err := c.sendDiscover(); err != nil {
		return err
	}

	for c.state != DHCPBound {
		delaySec, err := policy.NextDelaySeconds()
		if err != nil {
			return fmt.Errorf("dhcp: %w", err)
		}
		tm := timer.Start(c.stack.Clock, time.Duration(delaySec)*time.Second)
		for !tm.Poll() && c.state != DHCPBound {
			if err := c.stack.Poll(1); err != nil {
				return err
			}
		}
		if c.state == DHCPBound {
			break
		}
		logger.Debug("dhcp: retransmitting")
		if err := c.sendDiscover(); err != nil {
			return err
		}
	}
	return nil
}

func (c *DHCPClient) sendDiscover() error {
	mac := c.stack.Driver.LocalMAC()
	opts := []byte{53, 1, dhcpOpDiscover}
	if v, ok := c.stack.Vars.Get("DHCPCLASSID"); ok {
		opts = append(opts, 60, byte(len(v)))
		opts = append(opts, []byte(v)...)
	}
	opts = append(opts, 0xff)

	pkt := buildDHCPPacket(c.xid, 1 /*BOOTREQUEST*/, mac, net.IPv4zero, net.IPv4zero, opts)
	udp := buildUDP(dhcpClientPort, dhcpServerPort, pkt)
	udpChk := udpChecksum(net.IPv4zero, net.IPv4bcast, udp)
	binary.BigEndian.PutUint16(udp[6:8], udpChk)

	ipHdr := buildIPHeader(c.stack.nextIPID(), ipProtoUDP, net.IPv4zero, net.IPv4bcast, len(udp), 60)
	frame := &Frame{
		Dst:     net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Src:     mac,
		EthType: ethTypeIPv4,
		Payload: append(ipHdr, udp...),
	}
	return c.stack.send(frame)
}

// buildDHCPPacket renders the fixed-size BOOTP/DHCP header plus options.
func buildDHCPPacket(xidVal uint32, op byte, mac net.HardwareAddr, clientIP, yourIP net.IP, opts []byte) []byte {
	b := make([]byte, 240) // fixed header + magic cookie, options appended after
	b[0] = op
	b[1] = 1 // htype=ethernet
	b[2] = 6 // hlen
	binary.BigEndian.PutUint32(b[4:8], xidVal)
	copy(b[12:16], clientIP.To4())
	copy(b[16:20], yourIP.To4())
	copy(b[28:34], mac)
	binary.BigEndian.PutUint32(b[236:240], dhcpCookie)

	b = append(b, opts...)
	for len(b) < 240+64 {
		b = append(b, 0)
	}
	return b
}

// handleReply processes an incoming DHCP server reply; mismatched xids
// are silently dropped per Section 3's invariant.
func (c *DHCPClient) handleReply(hdr ipHeader, dg udpDatagram) error {
	if len(dg.Payload) < 240 {
		return nil
	}
	gotXid := binary.BigEndian.Uint32(dg.Payload[4:8])
	if gotXid != c.xid {
		return nil
	}

	yourIP := net.IP(dg.Payload[16:20])
	opts := parseDHCPOptions(dg.Payload[240:])

	msgType, ok := opts[53]
	if !ok || len(msgType) != 1 {
		return nil
	}

	switch msgType[0] {
	case dhcpOpOffer:
		c.offeredIP = append(net.IP{}, yourIP...)
		if sid, ok := opts[54]; ok && len(sid) == 4 {
			c.serverID = net.IP(sid)
		}
		c.state = DHCPRequest
		return c.sendRequest()
	case dhcpOpAck:
		siaddr := net.IP(dg.Payload[20:24])
		c.applyAck(hdr.Src, yourIP, siaddr, opts)
		c.state = DHCPBound
		if err := c.maybeLoadBootFile(); err != nil {
			c.stack.Logger.WithField("dhcp_session", c.sessionID).WithError(err).Warn("dhcp: boot file load failed, restarting")
			c.state = DHCPRestart
		}
	case dhcpOpNak:
		c.state = DHCPRestart
	}
	return nil
}

func (c *DHCPClient) sendRequest() error {
	mac := c.stack.Driver.LocalMAC()
	opts := []byte{53, 1, dhcpOpRequest, 50, 4}
	opts = append(opts, c.offeredIP.To4()...)
	opts = append(opts, 54, 4)
	opts = append(opts, c.serverID.To4()...)
	opts = append(opts, 0xff)

	pkt := buildDHCPPacket(c.xid, 1, mac, net.IPv4zero, net.IPv4zero, opts)
	udp := buildUDP(dhcpClientPort, dhcpServerPort, pkt)
	ipHdr := buildIPHeader(c.stack.nextIPID(), ipProtoUDP, net.IPv4zero, net.IPv4bcast, len(udp), 60)
	frame := &Frame{
		Dst:     net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Src:     mac,
		EthType: ethTypeIPv4,
		Payload: append(ipHdr, udp...),
	}
	return c.stack.send(frame)
}

// applyAck publishes the Section 4.F shell variables. A smaller offered
// lease than a previously stored DHCPLEASETIME is rejected outright.
// srcIP is the IP header's source address (DHCPOFFERFROM); siaddr is the
// DHCP header's own server_ip field, not an option (BOOTSRVR).
func (c *DHCPClient) applyAck(srcIP, yourIP, siaddr net.IP, opts map[byte][]byte) {
	if lease, ok := opts[51]; ok && len(lease) == 4 {
		newLease := binary.BigEndian.Uint32(lease)
		if oldStr, had := c.stack.Vars.Get("DHCPLEASETIME"); had {
			var old uint32
			fmt.Sscanf(oldStr, "%d", &old)
			if newLease < old {
				return
			}
		}
		c.stack.Vars.Sprintf("DHCPLEASETIME", "%d", newLease)
	}

	c.stack.SetLocalIP(yourIP)
	if mask, ok := opts[1]; ok && len(mask) == 4 {
		c.stack.Vars.Set("NETMASK", net.IP(mask).String())
	}
	if routers, ok := opts[3]; ok && len(routers) >= 4 {
		c.stack.Vars.Set("GIPADD", net.IP(routers[:4]).String())
	}
	if bootfile, ok := opts[67]; ok {
		c.stack.Vars.Set("BOOTFILE", string(bootfile))
	}
	if hostname, ok := opts[12]; ok {
		c.stack.Vars.Set("HOSTNAME", string(hostname))
	}
	if rootpath, ok := opts[17]; ok {
		c.stack.Vars.Set("ROOTPATH", string(rootpath))
	}
	if !siaddr.Equal(net.IPv4zero) {
		c.stack.Vars.Set("BOOTSRVR", siaddr.String())
	}
	if srcIP != nil && !srcIP.Equal(net.IPv4zero) {
		c.stack.Vars.Set("DHCPOFFERFROM", srcIP.String())
	}
}

// maybeLoadBootFile implements loadBootFile(): once bound, if BOOTFILE and
// BOOTSRVR are both published, fetch BOOTFILE from BOOTSRVR over TFTP. If
// DHCPDONTBOOT is set the transfer still runs to completion but the result
// is withheld from TFS, leaving the caller to use APPRAMBASE and TFTPGET.
// A failed transfer is reported so the caller can force a DHCP restart.
func (c *DHCPClient) maybeLoadBootFile() error {
	bootfile, ok := c.stack.Vars.Get("BOOTFILE")
	if !ok || bootfile == "" {
		return nil
	}
	srvr, ok := c.stack.Vars.Get("BOOTSRVR")
	if !ok || srvr == "" {
		return nil
	}
	srvrIP := net.ParseIP(srvr)
	if srvrIP == nil {
		return nil
	}

	var tfs TFS
	if _, dontBoot := c.stack.Vars.Get("DHCPDONTBOOT"); !dontBoot {
		tfs = c.stack.TFS
	}

	session := NewTFTPSession(c.stack, tfs)
	if err := session.Get(srvrIP, bootfile, bootfile); err != nil {
		return fmt.Errorf("boot file %q from %s: %w", bootfile, srvr, err)
	}
	c.stack.Vars.Set("TFTPGET", bootfile)
	return nil
}

// parseDHCPOptions walks the TLV option list terminated by 0xFF.
func parseDHCPOptions(b []byte) map[byte][]byte {
	opts := make(map[byte][]byte)
	for i := 0; i < len(b); {
		tag := b[i]
		if tag == 0xff {
			break
		}
		if tag == 0 {
			i++
			continue
		}
		if i+1 >= len(b) {
			break
		}
		length := int(b[i+1])
		if i+2+length > len(b) {
			break
		}
		opts[tag] = b[i+2 : i+2+length]
		i += 2 + length
	}
	return opts
}
