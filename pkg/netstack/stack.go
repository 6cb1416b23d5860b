// Package netstack implements the core's single-threaded, polled
// Ethernet/IPv4/UDP protocol stack: ARP, ICMP, IGMP, DHCP/BOOTP, DNS/mDNS
// and the remote command channel. Everything here is driven by one
// Poll() call per main-loop iteration; there are no goroutines, channels
// or mutexes in the protocol core itself (Section 5 of the design: the
// core is strictly cooperative).
package netstack

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/jrcatbagan/umon/pkg/shellvar"
	"github.com/jrcatbagan/umon/pkg/timer"
)

// Frame is a received or about-to-be-sent Ethernet frame. The core never
// retains a Frame across a poll iteration - handlers that need the data
// later must copy it, per the "shared resources" rule in Section 5.
type Frame struct {
	Dst     net.HardwareAddr
	Src     net.HardwareAddr
	EthType uint16
	Payload []byte
}

// Driver is the NIC capability the stack polls: ReceiveFrame returns at
// most one frame per call (nil, nil if none is pending); SendFrame
// transmits one frame. A target port backs this with its Ethernet MAC
// driver; the host build backs it with UDPDriver, which tunnels Ethernet
// frames through a UDP socket.
type Driver interface {
	ReceiveFrame() (*Frame, error)
	SendFrame(f *Frame) error
	LocalMAC() net.HardwareAddr
}

// Config is the stack-wide tuning the CLI/config layer supplies.
type Config struct {
	RemoteCmdPort int
	TFTPPortBase  int
	TFTPPortRange int
	DNSServer     string
}

// Stack owns every piece of the Section 3 data model: the ARP cache, the
// DHCP/TFTP/DNS session state, and the elapsed-timer tick source they all
// share. All protocol handlers take *Stack so there is exactly one
// top-level owner of core state, per the Design Notes' "global mutable
// state -> owned struct" guidance.
type Stack struct {
	Driver Driver
	Vars   *shellvar.Store
	Logger logrus.FieldLogger
	Clock  timer.TickSource
	Config Config

	ARP          *ARPCache
	LinkLocal    *linkLocalState
	DHCP         *DHCPClient
	DNS          *Resolver
	RemoteCmd    *CommandChannel
	activeTFTP   *TFTPSession

	// TFS backs the automatic DHCP boot-file fetch (Section 4.F) and the
	// tftp command-table entry. Left nil, the boot-file fetch still
	// completes but has nowhere to write; set by the CLI/main layer once
	// a concrete TFS is available.
	TFS TFS

	localIP  net.IP
	ipID     uint16
	lastEcho LastEcho
}

// New builds a Stack bound to driver, wired up to vars for configuration
// and published state.
func New(driver Driver, vars *shellvar.Store, logger logrus.FieldLogger, clock timer.TickSource, cfg Config) *Stack {
	s := &Stack{
		Driver: driver,
		Vars:   vars,
		Logger: logger,
		Clock:  clock,
		Config: cfg,
		ARP:    NewARPCache(64),
	}
	s.DHCP = NewDHCPClient(s)
	s.DNS = NewResolver(s)
	s.RemoteCmd = NewCommandChannel(s, cfg.RemoteCmdPort)
	return s
}

// LocalIP returns the stack's current IPv4 address (may be 0.0.0.0 before
// DHCP/link-local completes).
func (s *Stack) LocalIP() net.IP {
	if s.localIP == nil {
		return net.IPv4zero
	}
	return s.localIP
}

// SetLocalIP updates the stack's address and publishes it to IPADD.
func (s *Stack) SetLocalIP(ip net.IP) {
	s.localIP = ip.To4()
	s.Vars.Set("IPADD", ip.String())
}

// nextIPID returns a fresh IP identification value. The sequence starts
// at 1 for each Stack and counts up; it is not seeded from the MAC.
func (s *Stack) nextIPID() uint16 {
	s.ipID++
	return s.ipID
}

// Poll pulls at most one frame from the driver and demultiplexes it.
// Called once per main-loop iteration and, recursively, from inside any
// protocol wait loop (ARP resolution, DHCP backoff, TFTP block wait).
// It returns without polling when depth is above 4. depth is whatever
// the caller passes (the main loop passes 0, every wait loop passes 1);
// the stack does not count nested calls itself.
func (s *Stack) Poll(depth int) error {
	if depth > 4 {
		return nil
	}
	f, err := s.Driver.ReceiveFrame()
	if err != nil {
		return fmt.Errorf("netstack: receive: %w", err)
	}
	if f == nil {
		return nil
	}
	return s.demux(f, depth)
}

// send wraps Driver.SendFrame with a consistent error message.
func (s *Stack) send(f *Frame) error {
	if err := s.Driver.SendFrame(f); err != nil {
		return fmt.Errorf("netstack: send: %w", err)
	}
	return nil
}
