package commands

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrcatbagan/umon/internal/logging"
	"github.com/jrcatbagan/umon/pkg/atags"
	"github.com/jrcatbagan/umon/pkg/fbconsole"
	"github.com/jrcatbagan/umon/pkg/netstack"
	"github.com/jrcatbagan/umon/pkg/shellvar"
	"github.com/jrcatbagan/umon/pkg/structedit"
	"github.com/jrcatbagan/umon/pkg/timer"
)

type nullDriver struct{ mac net.HardwareAddr }

func (d *nullDriver) ReceiveFrame() (*netstack.Frame, error) { return nil, nil }
func (d *nullDriver) SendFrame(f *netstack.Frame) error      { return nil }
func (d *nullDriver) LocalMAC() net.HardwareAddr             { return d.mac }

func newTestTable(t *testing.T) *Table {
	t.Helper()
	vars := shellvar.New()
	logger := logging.Discard()
	driver := &nullDriver{mac: net.HardwareAddr{0x02, 0, 0, 0, 0, 1}}
	stack := netstack.New(driver, vars, logger, timer.NewHostClock(), netstack.Config{RemoteCmdPort: 777})

	registry := structedit.NewRegistry()
	registry.Define(&structedit.Struct{
		Name: "S",
		Fields: []structedit.Field{
			{Name: "name", Type: structedit.TypeChar, ArrayLen: 8},
			{Name: "val", Type: structedit.TypeLong},
		},
	})
	mem := &structedit.Memory{Base: 0x1000, Bytes: make([]byte, 64)}

	font := fbconsole.Font{Width: 8, Height: 8, Intercharacter: 1, Glyphs: map[rune][]byte{}}
	console := fbconsole.New(64, 32, fbconsole.RGB565, font, 0xFFFF, 0)

	return New(stack, vars, logger, registry, mem, console, nil, nil)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "SUCCESS", SUCCESS.String())
	assert.Equal(t, "PARAM_ERROR", PARAMERROR.String())
	assert.Equal(t, "MONRC_DENIED", MONRCDENIED.String())
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl := newTestTable(t)
	status, _, err := tbl.Execute("set FOO=bar")
	require.NoError(t, err)
	assert.Equal(t, SUCCESS, status)

	status, reply, err := tbl.Execute("set FOO")
	require.NoError(t, err)
	assert.Equal(t, SUCCESS, status)
	assert.Equal(t, "bar", reply)
}

func TestUnknownCommandReturnsNotFound(t *testing.T) {
	tbl := newTestTable(t)
	status, _, err := tbl.Execute("frobnicate")
	require.NoError(t, err)
	assert.Equal(t, NOTFOUND, status)
}

func TestStructWriteLong(t *testing.T) {
	tbl := newTestTable(t)
	status, _, err := tbl.Execute("struct S.val=0x12345678")
	require.NoError(t, err)
	require.Equal(t, SUCCESS, status)

	offset, _, err := tbl.Structs.Offset("S", "val")
	require.NoError(t, err)
	assert.Equal(t, 8, offset)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, tbl.Mem.Bytes[offset:offset+4])
}

func TestStructPublishOnlySetsOffsetAndSizeVars(t *testing.T) {
	tbl := newTestTable(t)
	status, reply, err := tbl.Execute("struct S.val")
	require.NoError(t, err)
	require.Equal(t, SUCCESS, status)
	assert.Equal(t, "0x00001008", reply)

	off, ok := tbl.Vars.Get("STRUCTOFFSET")
	require.True(t, ok)
	assert.Equal(t, "0x00001008", off)

	size, ok := tbl.Vars.Get("STRUCTSIZE")
	require.True(t, ok)
	assert.Equal(t, "4", size)
}

func TestStructDashFLoadsSchemaFromFile(t *testing.T) {
	tbl := newTestTable(t)
	path := t.TempDir() + "/schema.txt"
	schema := "struct T {\n    long first;\n    char tail[4];\n};\n"
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o644))

	status, reply, err := tbl.Execute("struct -f " + path + " T.tail")
	require.NoError(t, err)
	require.Equal(t, SUCCESS, status)
	assert.Equal(t, "0x00001004", reply)

	size, ok := tbl.Vars.Get("STRUCTSIZE")
	require.True(t, ok)
	assert.Equal(t, "4", size)
}

func TestLdatagsBuildsTagList(t *testing.T) {
	tbl := newTestTable(t)
	_, _, err := tbl.Execute("ldatags core")
	require.NoError(t, err)
	_, _, err = tbl.Execute("ldatags mem 4096 0")
	require.NoError(t, err)
	status, reply, err := tbl.Execute("ldatags done")
	require.NoError(t, err)
	assert.Equal(t, SUCCESS, status)
	assert.NotEmpty(t, reply)
	assert.NotNil(t, atags.New())
}

func TestFbiFillAndPrint(t *testing.T) {
	tbl := newTestTable(t)
	status, _, err := tbl.Execute("fbi fill")
	require.NoError(t, err)
	assert.Equal(t, SUCCESS, status)

	status, _, err = tbl.Execute("fbi print hi")
	require.NoError(t, err)
	assert.Equal(t, SUCCESS, status)
}

func TestScriptAdapterTurnsNonSuccessIntoError(t *testing.T) {
	tbl := newTestTable(t)
	adapter := ScriptAdapter{Table: tbl}
	err := adapter.Dispatch("frobnicate")
	assert.Error(t, err)
}

func TestRemoteAdapterReturnsReplyRegardlessOfStatus(t *testing.T) {
	tbl := newTestTable(t)
	adapter := RemoteAdapter{Table: tbl}
	reply, err := adapter.Dispatch("set FOO=baz")
	require.NoError(t, err)
	assert.Equal(t, "", reply)
}
