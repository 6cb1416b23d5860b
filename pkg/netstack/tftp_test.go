package netstack

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleClientReplyPublishesTFTPRCV(t *testing.T) {
	stack := newTestStack(t)
	remote := net.IPv4(10, 0, 0, 9)
	stack.ARP.Store(remote, net.HardwareAddr{1, 2, 3, 4, 5, 6})

	session := NewTFTPSession(stack, nil)
	session.remotePort = 1234

	hdr := ipHeader{Src: remote}
	body := make([]byte, 4+10)
	binary.BigEndian.PutUint16(body[0:2], tftpOpDATA)
	binary.BigEndian.PutUint16(body[2:4], 1)
	dg := udpDatagram{SrcPort: 69, Payload: body}

	err := session.handleClientReply(hdr, dg, tftpOpDATA)
	require.NoError(t, err)

	got, ok := stack.Vars.Get("TFTPRCV")
	require.True(t, ok)
	assert.Equal(t, "10", got)
}
