package netstack

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// UDPDriver backs the Driver capability with a UDP socket that carries
// whole Ethernet-style frames as datagram payloads. No raw-Ethernet or
// pcap-style library appears anywhere in the retrieved example pack, and
// opening an AF_PACKET socket requires privileges a host simulator
// should not need; wrapping frames in UDP lets multiple host-simulated
// monitors exchange ARP/DHCP/TFTP traffic over a loopback or LAN segment
// without one. A real target's Ethernet MAC driver would implement the
// same Driver interface directly against hardware.
type UDPDriver struct {
	conn   *net.UDPConn
	peer   *net.UDPAddr
	mac    net.HardwareAddr
	logger logrus.FieldLogger
}

// NewUDPDriver binds listenAddr and aims SendFrame at peerAddr (a
// broadcast or multicast address lets more than one simulated node
// share a segment). mac is the locally-emulated Ethernet address.
func NewUDPDriver(listenAddr, peerAddr string, mac net.HardwareAddr, logger logrus.FieldLogger) (*UDPDriver, error) {
	laddr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("netstack: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("netstack: listen: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("netstack: resolve peer addr: %w", err)
	}
	return &UDPDriver{conn: conn, peer: raddr, mac: mac, logger: logger}, nil
}

// LocalMAC implements Driver.
func (d *UDPDriver) LocalMAC() net.HardwareAddr { return d.mac }

// SendFrame implements Driver: dst(6) | src(6) | ethtype(2) | payload.
func (d *UDPDriver) SendFrame(f *Frame) error {
	buf := make([]byte, 14+len(f.Payload))
	copy(buf[0:6], padMAC(f.Dst))
	copy(buf[6:12], padMAC(f.Src))
	binary.BigEndian.PutUint16(buf[12:14], f.EthType)
	copy(buf[14:], f.Payload)

	_, err := d.conn.WriteToUDP(buf, d.peer)
	if err != nil {
		return fmt.Errorf("netstack: udp driver write: %w", err)
	}
	return nil
}

// ReceiveFrame implements Driver. It waits at most one millisecond: a
// short read deadline lets a pending datagram through and makes an empty
// socket return (nil, nil), matching Poll's one-frame-per-call contract.
func (d *UDPDriver) ReceiveFrame() (*Frame, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, fmt.Errorf("netstack: set read deadline: %w", err)
	}
	buf := make([]byte, 2048)
	n, _, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("netstack: udp driver read: %w", err)
	}
	if n < 14 {
		return nil, nil
	}
	f := &Frame{
		Dst:     net.HardwareAddr(append([]byte(nil), buf[0:6]...)),
		Src:     net.HardwareAddr(append([]byte(nil), buf[6:12]...)),
		EthType: binary.BigEndian.Uint16(buf[12:14]),
		Payload: append([]byte(nil), buf[14:n]...),
	}
	return f, nil
}

// Close releases the underlying socket.
func (d *UDPDriver) Close() error {
	return d.conn.Close()
}

func padMAC(mac net.HardwareAddr) []byte {
	out := make([]byte, 6)
	copy(out, mac)
	return out
}
