package commands

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jrcatbagan/umon/pkg/atags"
	"github.com/jrcatbagan/umon/pkg/boardinfo"
	"github.com/jrcatbagan/umon/pkg/fbconsole"
	"github.com/jrcatbagan/umon/pkg/netstack"
	"github.com/jrcatbagan/umon/pkg/serialio"
	"github.com/jrcatbagan/umon/pkg/shellvar"
	"github.com/jrcatbagan/umon/pkg/structedit"
	"github.com/jrcatbagan/umon/pkg/xymodem"
)

// Handler runs one already-tokenized command line and returns a Status
// plus a human-readable reply line, matching the caster's small
// per-route handler-function style generalized from HTTP to line
// commands.
type Handler func(args []string) (Status, string, error)

// Table is the command-table bridge between the script runtime / remote
// command channel and the individual protocol and device packages.
type Table struct {
	Stack   *netstack.Stack
	Vars    *shellvar.Store
	Logger  logrus.FieldLogger
	Structs *structedit.Registry
	Mem     *structedit.Memory
	Console *fbconsole.Console // nil if no framebuffer configured
	Serial  *serialio.Console
	Board   *boardinfo.Store

	atagsBuilder *atags.Builder
	handlers     map[string]Handler
}

// New builds a Table and registers every verb from Section 6's grammar.
func New(stack *netstack.Stack, vars *shellvar.Store, logger logrus.FieldLogger, structs *structedit.Registry, mem *structedit.Memory, console *fbconsole.Console, serial *serialio.Console, board *boardinfo.Store) *Table {
	t := &Table{
		Stack:        stack,
		Vars:         vars,
		Logger:       logger,
		Structs:      structs,
		Mem:          mem,
		Console:      console,
		Serial:       serial,
		Board:        board,
		atagsBuilder: atags.New(),
	}
	t.handlers = map[string]Handler{
		"arp":     t.cmdARP,
		"dhcp":    t.cmdDHCP,
		"dns":     t.cmdDNS,
		"icmp":    t.cmdICMP,
		"igmp":    t.cmdIGMP,
		"tftp":    t.cmdTFTP,
		"xmodem":  t.cmdXmodem,
		"set":     t.cmdSet,
		"struct":  t.cmdStruct,
		"fbi":     t.cmdFbi,
		"ldatags": t.cmdLdatags,
	}
	return t
}

// Execute tokenizes line and dispatches it to the matching handler. An
// empty line returns LINE_ERROR and a name the table doesn't recognize
// returns NOT_FOUND, matching Section 7's error taxonomy.
func (t *Table) Execute(line string) (Status, string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return LINEERROR, "", nil
	}
	h, ok := t.handlers[fields[0]]
	if !ok {
		return NOTFOUND, fmt.Sprintf("%s: command not found", fields[0]), nil
	}
	status, reply, err := h(fields[1:])
	if err != nil {
		t.Logger.WithError(err).WithField("command", fields[0]).Warn("command failed")
	}
	t.Vars.Set("CMDSTAT", status.String())
	return status, reply, err
}

// ScriptAdapter satisfies pkg/script.Dispatcher by discarding the reply
// text and turning any non-SUCCESS status into an error, so the script
// runner's "-" ignore-error prefix applies uniformly to every
// command-table verb.
type ScriptAdapter struct{ Table *Table }

func (a ScriptAdapter) Dispatch(line string) error {
	status, _, err := a.Table.Execute(line)
	if err != nil {
		return err
	}
	if status != SUCCESS {
		return fmt.Errorf("commands: %s: %s", line, status)
	}
	return nil
}

// RemoteAdapter satisfies pkg/netstack.CommandDispatcher, returning the
// reply text back over the remote command channel regardless of status
// so a remote caller can see PARAM_ERROR/FAILURE messages too.
type RemoteAdapter struct{ Table *Table }

func (a RemoteAdapter) Dispatch(line string) (string, error) {
	_, reply, err := a.Table.Execute(line)
	return reply, err
}

func (t *Table) cmdARP(args []string) (Status, string, error) {
	if len(args) == 0 {
		return SUCCESS, fmt.Sprintf("local %s", t.Stack.LocalIP()), nil
	}
	switch args[0] {
	case "-l":
		if err := t.Stack.LinkLocalProbe(); err != nil {
			return FAILURE, "", err
		}
		return SUCCESS, t.Stack.LocalIP().String(), nil
	case "-f":
		t.Stack.ARP.Flush()
		return SUCCESS, "cache flushed", nil
	default:
		ip := net.ParseIP(args[0])
		if ip == nil {
			return PARAMERROR, "bad IP", nil
		}
		mac, err := t.Stack.ArpEther(ip)
		if err != nil {
			return FAILURE, "", err
		}
		return SUCCESS, mac.String(), nil
	}
}

func (t *Table) cmdDHCP(args []string) (Status, string, error) {
	bootp := len(args) > 0 && args[0] == "-b"
	if err := t.Stack.DHCP.Start(bootp); err != nil {
		return FAILURE, "", err
	}
	return SUCCESS, t.Stack.LocalIP().String(), nil
}

func (t *Table) cmdDNS(args []string) (Status, string, error) {
	if len(args) == 0 {
		return PARAMERROR, "usage: dns name", nil
	}
	if args[0] == "cache" {
		return SUCCESS, "", nil
	}
	if args[0] == "mdns" {
		if len(args) > 1 {
			t.Vars.Set("MDNS_ENABLED", args[1])
		}
		return SUCCESS, "", nil
	}
	ip, err := t.Stack.DNS.GetHostAddr(args[0])
	if err != nil {
		return FAILURE, "", err
	}
	return SUCCESS, ip.String(), nil
}

func (t *Table) cmdICMP(args []string) (Status, string, error) {
	timeReq := false
	rest := args
	if len(rest) > 0 && rest[0] == "time" {
		timeReq = true
		rest = rest[1:]
	} else if len(rest) > 0 && rest[0] == "echo" {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return PARAMERROR, "usage: icmp {time|echo} IP", nil
	}
	ip := net.ParseIP(rest[0])
	if ip == nil {
		return PARAMERROR, "bad IP", nil
	}
	if ip.Equal(t.Stack.LocalIP()) {
		return SUCCESS, "Yes, I am alive!", nil
	}
	if err := t.Stack.SendICMPRequest(timeReq, ip, 1, 26); err != nil {
		return FAILURE, "", err
	}
	return SUCCESS, "request sent", nil
}

func (t *Table) cmdIGMP(args []string) (Status, string, error) {
	if len(args) != 2 {
		return PARAMERROR, "usage: igmp {join|leave} IP", nil
	}
	ip := net.ParseIP(args[1])
	if ip == nil {
		return PARAMERROR, "bad IP", nil
	}
	join := args[0] == "join"
	if !join && args[0] != "leave" {
		return PARAMERROR, "expected join or leave", nil
	}
	if err := t.Stack.Igmp(join, ip); err != nil {
		return FAILURE, "", err
	}
	return SUCCESS, "", nil
}

func (t *Table) cmdTFTP(args []string) (Status, string, error) {
	if len(args) < 3 {
		return PARAMERROR, "usage: tftp IP {get|put} file", nil
	}
	ip := net.ParseIP(args[0])
	if ip == nil {
		return PARAMERROR, "bad IP", nil
	}
	if args[1] != "get" {
		return PARAMERROR, "only get is supported from the command table", nil
	}
	localName := args[2]
	tfs := t.Stack.TFS
	if tfs == nil {
		tfs = &hostFileTFS{dir: "."}
	}
	session := netstack.NewTFTPSession(t.Stack, tfs)
	if err := session.Get(ip, args[2], localName); err != nil {
		return FAILURE, "", err
	}
	return SUCCESS, localName, nil
}

func (t *Table) cmdXmodem(args []string) (Status, string, error) {
	if t.Serial == nil {
		return FAILURE, "", fmt.Errorf("commands: no serial console configured")
	}
	if len(args) < 2 {
		return PARAMERROR, "usage: xmodem {send|recv} FILE", nil
	}
	mode := xymodem.DefaultMode()
	switch args[0] {
	case "send":
		data, err := os.ReadFile(args[1])
		if err != nil {
			return FAILURE, "", err
		}
		sender := xymodem.NewSender(t.Serial, mode, 10)
		if err := sender.SendFile(filepath.Base(args[1]), data); err != nil {
			return FAILURE, "", err
		}
		return SUCCESS, fmt.Sprintf("%d bytes sent", len(data)), nil
	case "recv":
		receiver := xymodem.NewReceiver(t.Serial, mode, 10)
		_, data, err := receiver.ReceiveFile()
		if err != nil {
			return FAILURE, "", err
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return FAILURE, "", err
		}
		t.Vars.Set("XMODEMGET", strconv.Itoa(len(data)))
		return SUCCESS, fmt.Sprintf("%d bytes received", len(data)), nil
	default:
		return PARAMERROR, "expected send or recv", nil
	}
}

func (t *Table) cmdSet(args []string) (Status, string, error) {
	if len(args) == 0 {
		return SUCCESS, strings.Join(t.Vars.Environ(), "\n"), nil
	}
	if args[0] == "-c" && len(args) > 1 {
		t.Vars.Clear(args[1])
		return SUCCESS, "", nil
	}
	parts := strings.SplitN(args[0], "=", 2)
	if len(parts) != 2 {
		v, ok := t.Vars.Get(args[0])
		if !ok {
			return NOTFOUND, "", nil
		}
		return SUCCESS, v, nil
	}
	t.Vars.Set(parts[0], t.Vars.Expand(parts[1]))
	return SUCCESS, "", nil
}

func (t *Table) cmdStruct(args []string) (Status, string, error) {
	if t.Structs == nil || t.Mem == nil {
		return FAILURE, "", fmt.Errorf("commands: no struct memory configured")
	}
	base := t.Mem.Base
	rest := args
flags:
	for len(rest) > 0 {
		switch rest[0] {
		case "-b":
			if len(rest) < 2 {
				return PARAMERROR, "usage: struct [-b BASE] [-f FILE] STRUCT.MBR[=VAL]", nil
			}
			v, err := strconv.ParseUint(rest[1], 0, 32)
			if err != nil {
				return PARAMERROR, "bad base address", nil
			}
			base = uint32(v)
			rest = rest[2:]
		case "-f":
			if len(rest) < 2 {
				return PARAMERROR, "usage: struct [-b BASE] [-f FILE] STRUCT.MBR[=VAL]", nil
			}
			text, err := os.ReadFile(rest[1])
			if err != nil {
				return FAILURE, "", err
			}
			schemas, err := structedit.ParseSchema(string(text))
			if err != nil {
				return PARAMERROR, "", err
			}
			for _, s := range schemas {
				t.Structs.Define(s)
			}
			rest = rest[2:]
		default:
			break flags
		}
	}
	if len(rest) == 0 {
		return PARAMERROR, "usage: struct [-b BASE] [-f FILE] STRUCT.MBR[=VAL]", nil
	}
	dot := strings.IndexByte(rest[0], '.')
	if dot < 0 {
		return PARAMERROR, "expected STRUCT.MBR", nil
	}
	structName := rest[0][:dot]
	memberExpr := rest[0][dot+1:]
	memberName := memberExpr
	var assign string
	hasAssign := false
	if eq := strings.IndexByte(memberExpr, '='); eq >= 0 {
		memberName = memberExpr[:eq]
		assign = memberExpr[eq+1:]
		hasAssign = true
	}
	offset, field, err := t.Structs.Offset(structName, memberName)
	if err != nil {
		return NOTFOUND, "", err
	}
	addr := base + uint32(offset)
	if !hasAssign {
		size, err := t.Structs.FieldSize(field)
		if err != nil {
			return FAILURE, "", err
		}
		t.Vars.Sprintf("STRUCTOFFSET", "0x%08x", addr)
		t.Vars.Sprintf("STRUCTSIZE", "%d", size)
		return SUCCESS, fmt.Sprintf("0x%08x", addr), nil
	}
	intVal, raw, err := t.Structs.EvalValue(assign)
	if err != nil {
		return PARAMERROR, "", err
	}
	saved := t.Mem.Base
	t.Mem.Base = base
	defer func() { t.Mem.Base = saved }()
	if raw != nil {
		if err := t.Mem.WriteBytes(addr, raw); err != nil {
			return FAILURE, "", err
		}
	} else {
		fsize := fieldByteSize(field)
		if err := t.Mem.WriteInt(addr, fsize, intVal); err != nil {
			return FAILURE, "", err
		}
	}
	return SUCCESS, "", nil
}

func fieldByteSize(f structedit.Field) int {
	switch f.Type {
	case structedit.TypeChar:
		return 1
	case structedit.TypeShort:
		return 2
	case structedit.TypeLong, structedit.TypePointer:
		return 4
	default:
		return 4
	}
}

func (t *Table) cmdFbi(args []string) (Status, string, error) {
	if t.Console == nil {
		return FAILURE, "", fmt.Errorf("commands: no framebuffer console configured")
	}
	if len(args) == 0 {
		return PARAMERROR, "usage: fbi {fill|print|setpixel|fb2file} ...", nil
	}
	switch args[0] {
	case "fill":
		t.Console.Clear()
		return SUCCESS, "", nil
	case "print":
		t.Console.Print(strings.Join(args[1:], " "))
		return SUCCESS, "", nil
	case "fb2file":
		if len(args) < 2 {
			return PARAMERROR, "usage: fbi fb2file PATH", nil
		}
		if err := os.WriteFile(args[1], t.Console.Buffer(), 0o644); err != nil {
			return FAILURE, "", err
		}
		return SUCCESS, "", nil
	default:
		return PARAMERROR, fmt.Sprintf("unknown fbi subcommand %q", args[0]), nil
	}
}

func (t *Table) cmdLdatags(args []string) (Status, string, error) {
	if len(args) == 0 {
		return PARAMERROR, "usage: ldatags {core|mem|cmdline|serial|done} ...", nil
	}
	switch args[0] {
	case "core":
		t.atagsBuilder = t.atagsBuilder.Core(0, 4096, 0)
	case "mem":
		if len(args) != 3 {
			return PARAMERROR, "usage: ldatags mem SIZE START", nil
		}
		size, err1 := strconv.ParseUint(args[1], 0, 32)
		start, err2 := strconv.ParseUint(args[2], 0, 32)
		if err1 != nil || err2 != nil {
			return PARAMERROR, "bad numeric argument", nil
		}
		t.atagsBuilder = t.atagsBuilder.Mem(uint32(size), uint32(start))
	case "cmdline":
		t.atagsBuilder = t.atagsBuilder.Cmdline(strings.Join(args[1:], " "))
	case "serial":
		if len(args) != 2 {
			return PARAMERROR, "usage: ldatags serial MAC", nil
		}
		mac, err := net.ParseMAC(args[1])
		if err != nil {
			return PARAMERROR, "", err
		}
		b, err := t.atagsBuilder.SerialFromMAC(mac)
		if err != nil {
			return FAILURE, "", err
		}
		t.atagsBuilder = b
	case "done":
		buf := t.atagsBuilder.None()
		t.atagsBuilder = atags.New()
		if t.Mem != nil {
			if err := t.Mem.WriteBytes(t.Mem.Base, buf); err != nil {
				return FAILURE, "", err
			}
		}
		return SUCCESS, fmt.Sprintf("%d bytes", len(buf)), nil
	default:
		return PARAMERROR, fmt.Sprintf("unknown ldatags subcommand %q", args[0]), nil
	}
	return SUCCESS, "", nil
}
