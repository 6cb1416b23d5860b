package netstack

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/jrcatbagan/umon/pkg/retrans"
	"github.com/jrcatbagan/umon/pkg/timer"
)

// bytesReceived/bytesSent accumulate across every session (client GET,
// server RRQ/WRQ) for pkg/metrics; TFTPSession itself stays a
// single-transfer-at-a-time value per Section 3.
var (
	bytesReceived uint64
	bytesSent     uint64
)

// BytesReceived reports total TFTP payload bytes received since process
// start.
func BytesReceived() uint64 { return atomic.LoadUint64(&bytesReceived) }

// BytesSent reports total TFTP payload bytes sent since process start.
func BytesSent() uint64 { return atomic.LoadUint64(&bytesSent) }

const (
	tftpOpRRQ   uint16 = 1
	tftpOpWRQ   uint16 = 2
	tftpOpDATA  uint16 = 3
	tftpOpACK   uint16 = 4
	tftpOpERROR uint16 = 5

	tftpMaxData = 512
)

// TFTPState mirrors Section 3's session state machine.
type TFTPState int

const (
	TFTPOff TFTPState = iota
	TFTPIdle
	TFTPActive
	TFTPError
	TFTPSentRRQ
	TFTPSentWRQ
	TFTPTimeout
	TFTPHostError
)

// TFS is the minimal file-storage interface the TFTP engine writes
// downloaded data into or reads uploaded data from; the real Tiny File
// System is an external collaborator (Section 1), this is its boundary.
type TFS interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	List() ([]string, error)
}

// TFTPSession is the singleton transfer session described in Section 3:
// at most one active at a time, with a retained copy of the last sent
// packet for retransmit.
type TFTPSession struct {
	stack      *Stack
	tfs        TFS
	sessionID  string

	state       TFTPState
	block       uint16
	prevBlock   uint16
	bytesMoved  int
	remotePort  uint16
	remoteIP    net.IP
	destName    string
	lastPacket  []byte
	chopCount   int
	netascii    bool
	buffered    []byte // accumulated received data (client GET, server PUT)
	serving     []byte // data being served out (server RRQ)
}

// NewTFTPSession binds a session to stack and the given TFS.
func NewTFTPSession(stack *Stack, tfs TFS) *TFTPSession {
	return &TFTPSession{stack: stack, tfs: tfs, state: TFTPIdle}
}

// Get downloads remote from host into local TFS destination localName.
func (t *TFTPSession) Get(host net.IP, remote, localName string) error {
	if t.state != TFTPIdle && t.state != TFTPOff {
		return fmt.Errorf("tftp: srvr busy")
	}
	t.sessionID = xid.New().String()
	t.remoteIP = host
	t.destName = localName
	t.block = 0
	t.prevBlock = 0
	t.bytesMoved = 0
	t.state = TFTPSentRRQ
	t.stack.activeTFTP = t
	defer func() { t.stack.activeTFTP = nil; t.state = TFTPIdle }()

	t.remotePort = t.allocatePort()
	if err := t.sendRRQ(host, remote); err != nil {
		return err
	}

	policy := retrans.New(retrans.TFTPProfile, nil)
	for t.state != TFTPIdle {
		lastMoved := t.bytesMoved
		tm := timer.Start(t.stack.Clock, 2*time.Second)
		for !tm.Poll() && t.bytesMoved == lastMoved && t.state != TFTPIdle {
			if err := t.stack.Poll(1); err != nil {
				return err
			}
		}
		if t.state == TFTPIdle {
			break
		}
		if t.bytesMoved != lastMoved {
			policy.Reset()
			continue
		}
		if _, err := policy.NextDelaySeconds(); err != nil {
			t.state = TFTPTimeout
			return fmt.Errorf("tftp: %w", err)
		}
		if err := t.resend(); err != nil {
			return err
		}
	}

	return nil
}

func (t *TFTPSession) allocatePort() uint16 {
	return uint16(t.stack.Config.TFTPPortBase)
}

func (t *TFTPSession) sendRRQ(host net.IP, remote string) error {
	body := encodeTFTPRequest(tftpOpRRQ, remote, "octet")
	return t.sendPacket(host, tftpServerWellKnownPort, body)
}

const tftpServerWellKnownPort uint16 = 69

func encodeTFTPRequest(op uint16, filename, mode string) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, op)
	b = append(b, []byte(filename)...)
	b = append(b, 0)
	b = append(b, []byte(mode)...)
	b = append(b, 0)
	return b
}

func (t *TFTPSession) sendPacket(dst net.IP, dstPort uint16, body []byte) error {
	mac, err := t.stack.ArpEther(dst)
	if err != nil {
		return err
	}
	udp := buildUDP(t.remotePort, dstPort, body)
	ipHdr := buildIPHeader(t.stack.nextIPID(), ipProtoUDP, t.stack.LocalIP(), dst, len(udp), 60)
	t.lastPacket = append(ipHdr, udp...)
	frame := &Frame{Dst: mac, Src: t.stack.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: t.lastPacket}
	return t.stack.send(frame)
}

func (t *TFTPSession) resend() error {
	if t.lastPacket == nil {
		return nil
	}
	mac, err := t.stack.ArpEther(t.remoteIP)
	if err != nil {
		return err
	}
	frame := &Frame{Dst: mac, Src: t.stack.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: t.lastPacket}
	return t.stack.send(frame)
}

// handle processes one TFTP datagram on the active session (client side)
// or, when idle, a fresh server-side RRQ/WRQ. processUDP routes
// datagrams here only while a client Get has registered the session as
// active, and nothing listens on port 69, so requests from other hosts
// do not reach the server-side branch.
func (t *TFTPSession) handle(hdr ipHeader, dg udpDatagram) error {
	if len(dg.Payload) < 2 {
		return nil
	}
	op := binary.BigEndian.Uint16(dg.Payload[0:2])

	switch t.state {
	case TFTPIdle, TFTPOff:
		return t.handleServerRequest(hdr, dg, op)
	default:
		return t.handleClientReply(hdr, dg, op)
	}
}

func (t *TFTPSession) handleClientReply(hdr ipHeader, dg udpDatagram, op uint16) error {
	switch op {
	case tftpOpACK:
		if t.serving == nil {
			return nil // not serving a download, nothing to advance
		}
		ackedBlock := binary.BigEndian.Uint16(dg.Payload[2:4])
		if ackedBlock != t.block {
			return nil
		}
		if t.state == TFTPIdle {
			return nil // final block already ACKed
		}
		t.block++ // wraps 0xFFFF -> 0 symmetrically with receive (Open Question #1)
		return t.sendNextServerBlock(hdr.Src, dg.SrcPort)
	case tftpOpDATA:
		blockNum := binary.BigEndian.Uint16(dg.Payload[2:4])
		data := dg.Payload[4:]

		expected := t.prevBlock + 1 // wraps 0xFFFF -> 0 naturally (Open Question #1)
		if blockNum == t.prevBlock {
			return t.sendACK(hdr.Src, dg.SrcPort, blockNum) // duplicate: re-ACK, don't restore
		}
		if blockNum != expected {
			return nil // out of sequence, ignored
		}

		if t.netascii {
			var filtered []byte
			for _, b := range data {
				if b == 0x0d {
					t.chopCount++
					continue
				}
				filtered = append(filtered, b)
			}
			data = filtered
		}

		if err := t.appendData(data); err != nil {
			return err
		}
		t.bytesMoved += len(data)
		atomic.AddUint64(&bytesReceived, uint64(len(data)))
		t.stack.Vars.Sprintf("TFTPRCV", "%d", t.bytesMoved)
		t.prevBlock = blockNum
		t.remotePort = dg.SrcPort

		if err := t.sendACK(hdr.Src, dg.SrcPort, blockNum); err != nil {
			return err
		}
		if len(dg.Payload[4:]) < tftpMaxData {
			t.state = TFTPIdle
			if t.tfs != nil && t.destName != "" {
				return t.tfs.Write(t.destName, t.buffered)
			}
		}
		return nil
	case tftpOpERROR:
		t.state = TFTPHostError
		return nil
	}
	return nil
}

func (t *TFTPSession) appendData(data []byte) error {
	t.buffered = append(t.buffered, data...)
	return nil
}

func (t *TFTPSession) sendACK(dst net.IP, dstPort uint16, block uint16) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], tftpOpACK)
	binary.BigEndian.PutUint16(body[2:4], block)
	return t.sendPacket(dst, dstPort, body)
}

func (t *TFTPSession) sendError(dst net.IP, dstPort uint16, code uint16, msg string) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], tftpOpERROR)
	binary.BigEndian.PutUint16(body[2:4], code)
	body = append(body, []byte(msg)...)
	body = append(body, 0)
	return t.sendPacket(dst, dstPort, body)
}

// handleServerRequest implements the server side of Section 4.G: a
// second RRQ/WRQ while busy is NAK'd without disturbing the current
// transfer.
func (t *TFTPSession) handleServerRequest(hdr ipHeader, dg udpDatagram, op uint16) error {
	if t.stack.activeTFTP != nil && t.stack.activeTFTP.state != TFTPIdle {
		return t.sendError(hdr.Src, dg.SrcPort, 0, "TFTP srvr busy")
	}

	parts := strings.SplitN(string(dg.Payload[2:]), "\x00", 3)
	if len(parts) < 2 {
		return t.sendError(hdr.Src, dg.SrcPort, 4, "Illegal TFTP operation")
	}
	filename, mode := parts[0], strings.ToLower(parts[1])
	if mode != "octet" && mode != "netascii" {
		return t.sendError(hdr.Src, dg.SrcPort, 4, "Illegal TFTP operation")
	}

	t.remoteIP = hdr.Src
	t.remotePort = dg.SrcPort
	t.netascii = mode == "netascii"
	t.destName = filename
	t.buffered = nil
	t.chopCount = 0
	t.prevBlock = 0

	switch op {
	case tftpOpRRQ:
		t.state = TFTPActive
		data, err := t.tfs.Read(filename)
		if err != nil {
			return t.sendError(hdr.Src, dg.SrcPort, 1, "File not found")
		}
		return t.sendDataBlock(hdr.Src, dg.SrcPort, 1, data)
	case tftpOpWRQ:
		t.state = TFTPActive
		return t.sendACK(hdr.Src, dg.SrcPort, 0)
	}
	return nil
}

func (t *TFTPSession) sendDataBlock(dst net.IP, dstPort uint16, block uint16, full []byte) error {
	t.block = block
	t.serving = full
	return t.sendNextServerBlock(dst, dstPort)
}

func (t *TFTPSession) sendNextServerBlock(dst net.IP, dstPort uint16) error {
	start := int(t.block-1) * tftpMaxData
	end := start + tftpMaxData
	if end > len(t.serving) {
		end = len(t.serving)
	}
	chunk := t.serving[start:end]

	body := make([]byte, 4+len(chunk))
	binary.BigEndian.PutUint16(body[0:2], tftpOpDATA)
	binary.BigEndian.PutUint16(body[2:4], t.block)
	copy(body[4:], chunk)
	if err := t.sendPacket(dst, dstPort, body); err != nil {
		return err
	}
	atomic.AddUint64(&bytesSent, uint64(len(chunk)))
	if len(chunk) < tftpMaxData {
		t.state = TFTPIdle
	}
	return nil
}
