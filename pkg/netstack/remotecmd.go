package netstack

import (
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CommandDispatcher runs one already-received monitor command line and
// returns the text it produced (if any).
type CommandDispatcher interface {
	Dispatch(line string) (reply string, err error)
}

// CommandChannel implements the UDP remote-command channel (component I):
// immediate commands (".") are dispatched synchronously inside the
// receive path and their reply text is sent back to the sender by
// sendReply. Every other command (a leading "+" or "@" is stripped) is
// queued for the main loop's Flush, which dispatches it and discards the
// reply, so queued commands get no reply datagram.
type CommandChannel struct {
	stack      *Stack
	port       uint16
	dispatcher CommandDispatcher
	pending    []pendingCmd
}

type pendingCmd struct {
	line     string
	srcIP    string
	srcPort  int
}

// NewCommandChannel builds a channel bound to stack, listening on port.
func NewCommandChannel(stack *Stack, port int) *CommandChannel {
	return &CommandChannel{stack: stack, port: uint16(port)}
}

// SetDispatcher wires the CLI command table in; done separately from
// construction so netstack has no import-time dependency on the CLI
// package (which in turn depends on netstack for its Arp/Dhcp/etc.
// commands).
func (c *CommandChannel) SetDispatcher(d CommandDispatcher) {
	c.dispatcher = d
}

func (c *CommandChannel) handle(hdr ipHeader, dg udpDatagram) error {
	requestID := uuid.New().String()
	logger := c.stack.Logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"source_ip":  hdr.Src.String(),
		"source_port": dg.SrcPort,
	})

	if len(dg.Payload) == 0 {
		return nil
	}

	c.stack.Vars.Set("MONCMD_SRCIP", hdr.Src.String())
	c.stack.Vars.Sprintf("MONCMD_SRCPORT", "%d", dg.SrcPort)

	body := string(dg.Payload)
	silent := false
	switch body[0] {
	case '@':
		silent = true
		body = body[1:]
	case '.':
		body = body[1:]
		return c.dispatchNow(hdr, dg.SrcPort, body, silent, logger)
	case '+':
		body = body[1:]
	}

	c.pending = append(c.pending, pendingCmd{line: body, srcIP: hdr.Src.String(), srcPort: int(dg.SrcPort)})
	return nil
}

// Flush dispatches every deferred command queued since the last flush.
// Called from the main loop, not from inside Poll.
func (c *CommandChannel) Flush() {
	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		logger := c.stack.Logger.WithField("source_ip", p.srcIP)
		if c.dispatcher == nil {
			continue
		}
		reply, err := c.dispatcher.Dispatch(p.line)
		if err != nil {
			logger.WithError(err).Warn("remotecmd: command failed")
		}
		_ = reply // queued commands get no reply datagram
	}
}

func (c *CommandChannel) dispatchNow(hdr ipHeader, srcPort uint16, line string, silent bool, logger logrus.FieldLogger) error {
	if c.dispatcher == nil {
		return nil
	}
	reply, err := c.dispatcher.Dispatch(line)
	if err != nil {
		logger.Warn("remotecmd: command failed: " + err.Error())
		return nil
	}
	if silent || reply == "" {
		return nil
	}
	return c.sendReply(hdr.Src, srcPort, reply)
}

// sendReply sends reply text to dst:dstPort as consecutive UDP datagrams
// of at most 128 bytes each; the text is split by length only, not at
// newlines.
func (c *CommandChannel) sendReply(dst net.IP, dstPort uint16, reply string) error {
	mac, err := c.stack.ArpEther(dst)
	if err != nil {
		return err
	}
	const maxLine = 128
	data := []byte(reply)
	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxLine {
			chunk = chunk[:maxLine]
		}
		udp := buildUDP(c.port, dstPort, chunk)
		ipHdr := buildIPHeader(c.stack.nextIPID(), ipProtoUDP, c.stack.LocalIP(), dst, len(udp), 60)
		frame := &Frame{Dst: mac, Src: c.stack.Driver.LocalMAC(), EthType: ethTypeIPv4, Payload: append(ipHdr, udp...)}
		if err := c.stack.send(frame); err != nil {
			return err
		}
		data = data[len(chunk):]
	}
	return nil
}
