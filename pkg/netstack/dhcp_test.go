package netstack

import (
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrcatbagan/umon/pkg/shellvar"
	"github.com/jrcatbagan/umon/pkg/timer"
)

type noopDriver struct{ mac net.HardwareAddr }

func (d *noopDriver) ReceiveFrame() (*Frame, error) { return nil, nil }
func (d *noopDriver) SendFrame(f *Frame) error      { return nil }
func (d *noopDriver) LocalMAC() net.HardwareAddr    { return d.mac }

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	vars := shellvar.New()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	driver := &noopDriver{mac: net.HardwareAddr{0x02, 0, 0, 0, 0, 1}}
	return New(driver, vars, logger, timer.NewHostClock(), Config{RemoteCmdPort: 777})
}

func TestApplyAckPublishesBootsrvrAndOfferFrom(t *testing.T) {
	stack := newTestStack(t)
	client := NewDHCPClient(stack)

	srcIP := net.IPv4(10, 0, 0, 1)
	yourIP := net.IPv4(10, 0, 0, 50)
	siaddr := net.IPv4(10, 0, 0, 1)
	client.applyAck(srcIP, yourIP, siaddr, map[byte][]byte{})

	got, ok := stack.Vars.Get("BOOTSRVR")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", got)

	got, ok = stack.Vars.Get("DHCPOFFERFROM")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", got)
}

func TestApplyAckLeavesBootsrvrUnsetWhenSiaddrZero(t *testing.T) {
	stack := newTestStack(t)
	client := NewDHCPClient(stack)

	client.applyAck(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 50), net.IPv4zero, map[byte][]byte{})

	_, ok := stack.Vars.Get("BOOTSRVR")
	assert.False(t, ok)
}

func TestMaybeLoadBootFileNoopsWithoutBootfile(t *testing.T) {
	stack := newTestStack(t)
	client := NewDHCPClient(stack)
	require.NoError(t, client.maybeLoadBootFile())
}
