package netstack

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jrcatbagan/umon/pkg/timer"
)

const (
	dnsPort  uint16 = 53
	mdnsPort uint16 = 5353
)

var mdnsGroup = net.IPv4(224, 0, 0, 251)
var mdnsMAC = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}

// dnsCacheEntry is one Section 3 DNS cache record.
type dnsCacheEntry struct {
	idx  uint64
	addr net.IP
	name string
}

// Resolver implements hostname resolution with a local cache plus a
// .local mDNS responder, per Section 4.H.
type Resolver struct {
	stack    *Stack
	cache    []dnsCacheEntry
	capacity int
	nextIdx  uint64
	queryID  uint16
}

// NewResolver builds a Resolver bound to stack.
func NewResolver(stack *Stack) *Resolver {
	return &Resolver{stack: stack, capacity: 32}
}

// GetHostAddr resolves name to an IPv4 address, consulting the cache and
// (for .local names) mDNS, or a configured DNS server otherwise.
func (r *Resolver) GetHostAddr(name string) (net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip, nil
	}
	for _, e := range r.cache {
		if e.name == name {
			return e.addr, nil
		}
	}

	var dst net.IP
	var dstPort uint16
	var dstMAC net.HardwareAddr
	if strings.HasSuffix(name, ".local") {
		dst = mdnsGroup
		dstPort = mdnsPort
		dstMAC = mdnsMAC
	} else {
		server := r.stack.Config.DNSServer
		if server == "" {
			return nil, fmt.Errorf("dns: no DNS server configured")
		}
		dst = net.ParseIP(server)
		dstPort = dnsPort
		mac, err := r.stack.ArpEther(dst)
		if err != nil {
			return nil, err
		}
		dstMAC = mac
	}

	r.queryID++
	query := buildDNSQuery(r.queryID, name)
	udp := buildUDP(dnsPort, dstPort, query)
	ipHdr := buildIPHeader(r.stack.nextIPID(), ipProtoUDP, r.stack.LocalIP(), dst, len(udp), 60)
	frame := &Frame{Dst: dstMAC, Src: r.stack.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: append(ipHdr, udp...)}
	if err := r.stack.send(frame); err != nil {
		return nil, err
	}

	tm := timer.Start(r.stack.Clock, 3*time.Second)
	for !tm.Poll() {
		if err := r.stack.Poll(1); err != nil {
			return nil, err
		}
		for _, e := range r.cache {
			if e.name == name {
				r.stack.Vars.Set("DNSIP", e.addr.String())
				return e.addr, nil
			}
		}
	}
	return nil, fmt.Errorf("dns: timed out resolving %q", name)
}

func buildDNSQuery(id uint16, name string) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint16(b[0:2], id)
	binary.BigEndian.PutUint16(b[2:4], 0x0100) // recursion desired
	binary.BigEndian.PutUint16(b[4:6], 1)      // qdcount

	for _, label := range strings.Split(name, ".") {
		b = append(b, byte(len(label)))
		b = append(b, []byte(label)...)
	}
	b = append(b, 0)
	b = append(b, 0, 1) // QTYPE A
	b = append(b, 0, 1) // QCLASS IN
	return b
}

func (r *Resolver) insertCache(name string, addr net.IP) {
	entry := dnsCacheEntry{idx: r.nextIdx, addr: addr, name: name}
	r.nextIdx++
	if len(r.cache) < r.capacity {
		r.cache = append(r.cache, entry)
		return
	}
	oldest := 0
	for i, e := range r.cache {
		if e.idx < r.cache[oldest].idx {
			oldest = i
		}
	}
	r.cache[oldest] = entry
}

// handle processes one incoming DNS/mDNS datagram: a response (answer to
// our query) or an mDNS query for our own hostname.
func (r *Resolver) handle(hdr ipHeader, dg udpDatagram) error {
	if len(dg.Payload) < 12 {
		return nil
	}
	flags := binary.BigEndian.Uint16(dg.Payload[2:4])
	isResponse := flags&0x8000 != 0
	qdcount := binary.BigEndian.Uint16(dg.Payload[4:6])
	ancount := binary.BigEndian.Uint16(dg.Payload[6:8])

	name, afterQ, ok := readDNSName(dg.Payload, 12)
	if !ok || qdcount == 0 {
		return nil
	}
	afterQ += 4 // skip QTYPE, QCLASS

	if isResponse {
		if ancount == 0 {
			return nil
		}
		_, afterName, ok := readDNSName(dg.Payload, afterQ)
		if !ok || afterName+10 > len(dg.Payload) {
			return nil
		}
		rdlength := int(binary.BigEndian.Uint16(dg.Payload[afterName+8 : afterName+10]))
		rdataStart := afterName + 10
		if rdataStart+rdlength > len(dg.Payload) || rdlength != 4 {
			return nil
		}
		addr := net.IP(dg.Payload[rdataStart : rdataStart+4])
		r.insertCache(name, addr)
		return nil
	}

	// mDNS query: answer only if it names our own hostname.
	hostname, _ := r.stack.Vars.Get("HOSTNAME")
	if hostname == "" || name != hostname {
		return nil
	}
	delay := time.Duration(20+int(r.stack.Driver.LocalMAC()[5]&0x3f)) * time.Millisecond
	time.Sleep(delay)
	return r.sendMDNSResponse(name)
}

func (r *Resolver) sendMDNSResponse(name string) error {
	b := make([]byte, 12)
	binary.BigEndian.PutUint16(b[2:4], 0x8400) // response, authoritative
	binary.BigEndian.PutUint16(b[6:8], 1)      // ancount

	for _, label := range strings.Split(name, ".") {
		b = append(b, byte(len(label)))
		b = append(b, []byte(label)...)
	}
	b = append(b, 0)
	b = append(b, 0, 1) // TYPE A
	b = append(b, 0, 1) // CLASS IN
	b = append(b, 0, 0, 0x03, 0x84) // TTL 900
	b = append(b, 0, 4)
	b = append(b, r.stack.LocalIP().To4()...)

	udp := buildUDP(mdnsPort, mdnsPort, b)
	ipHdr := buildIPHeader(r.stack.nextIPID(), ipProtoUDP, r.stack.LocalIP(), mdnsGroup, len(udp), 60)
	frame := &Frame{Dst: mdnsMAC, Src: r.stack.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: append(ipHdr, udp...)}
	return r.stack.send(frame)
}

// readDNSName decodes a name starting at off, returning the dotted name
// and the offset just past it. A compression pointer ends the name and
// is skipped (2 bytes) without being followed, so labels it points at
// are not included.
func readDNSName(b []byte, off int) (string, int, bool) {
	var labels []string
	i := off
	for i < len(b) {
		length := b[i]
		if length == 0 {
			i++
			break
		}
		if length&0xc0 == 0xc0 { // RFC 1035 compression pointer
			i += 2
			break
		}
		i++
		if i+int(length) > len(b) {
			return "", 0, false
		}
		labels = append(labels, string(b[i:i+int(length)]))
		i += int(length)
	}
	return strings.Join(labels, "."), i, true
}
