// Command umon is the host build of the boot monitor: the same polled
// protocol core and command table the target firmware runs, driven by a
// UDP-tunnelled NIC and a real serial port/pty instead of bare-metal
// register access.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jrcatbagan/umon/internal/commands"
	"github.com/jrcatbagan/umon/internal/config"
	"github.com/jrcatbagan/umon/internal/logging"
	"github.com/jrcatbagan/umon/pkg/boardinfo"
	"github.com/jrcatbagan/umon/pkg/fbconsole"
	"github.com/jrcatbagan/umon/pkg/metrics"
	"github.com/jrcatbagan/umon/pkg/netstack"
	"github.com/jrcatbagan/umon/pkg/retrans"
	"github.com/jrcatbagan/umon/pkg/script"
	"github.com/jrcatbagan/umon/pkg/serialio"
	"github.com/jrcatbagan/umon/pkg/shellvar"
	"github.com/jrcatbagan/umon/pkg/structedit"
	"github.com/jrcatbagan/umon/pkg/timer"
)

// boardInfoSchema mirrors the persisted per-board identity fields the
// original keeps in its flash sector.
var boardInfoSchema = []boardinfo.Record{
	{VarName: "BOARDID", Size: 32, Default: "umon-host", Prompt: "Board identifier"},
	{VarName: "SERIALNO", Size: 16, Default: "000000", Prompt: "Serial number"},
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New()
	logger.Info("starting monitor core")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("monitor exited")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	mac, err := net.ParseMAC(cfg.MAC)
	if err != nil {
		return fmt.Errorf("umon: parse mac: %w", err)
	}

	driver, err := netstack.NewUDPDriver(cfg.NetListenAddr, cfg.NetPeerAddr, mac, logger)
	if err != nil {
		return fmt.Errorf("umon: net driver: %w", err)
	}
	defer driver.Close()

	vars := shellvar.New()
	clock := timer.NewHostClock()
	stack := netstack.New(driver, vars, logger, clock, netstack.Config{
		RemoteCmdPort: cfg.RemoteCmdPort,
		TFTPPortBase:  cfg.TFTPPortBase,
		TFTPPortRange: cfg.TFTPPortRange,
		DNSServer:     cfg.DNSServer,
	})
	stack.TFS = commands.NewHostFileTFS(".")

	board, err := boardinfo.Open(cfg.BoardInfoPath, boardInfoSchema)
	if err != nil {
		return fmt.Errorf("umon: board info: %w", err)
	}
	stdin := bufio.NewReader(os.Stdin)
	if err := board.EnsureProvisioned(promptFromStdin(stdin)); err != nil {
		return fmt.Errorf("umon: provisioning: %w", err)
	}

	registry := structedit.NewRegistry()
	mem := &structedit.Memory{Base: 0x80000000, Bytes: make([]byte, 1<<20)}

	font := fbconsole.Font{Width: 8, Height: 8, Intercharacter: 1, Glyphs: map[rune][]byte{}}
	console := fbconsole.New(640, 480, fbconsole.RGB565, font, 0xFFFF, 0x0000)

	serial := serialio.NewConsole(logger)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Second)
	if err := serial.ConnectWithContext(connectCtx, cfg.SerialDevice, cfg.BaudRate); err != nil {
		logger.WithError(err).Warn("serial console unavailable, XMODEM/YMODEM commands will fail")
	}
	cancelConnect()
	defer serial.Close()

	table := commands.New(stack, vars, logger, registry, mem, console, serial, board)
	stack.RemoteCmd.SetDispatcher(commands.RemoteAdapter{Table: table})

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		collector := metrics.New(prometheusLabels())
		metricsServer = metrics.NewServer(cfg.MetricsAddr, collector, logger)
		metricsServer.Start()
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics endpoint listening")
		defer func() {
			if err := metricsServer.Stop(5 * time.Second); err != nil {
				logger.WithError(err).Warn("metrics server shutdown")
			}
		}()
		go collectMetrics(collector, stack, console)
	}

	if cfg.ScriptOnBoot != "" {
		if err := runBootScript(cfg.ScriptOnBoot, table, logger); err != nil {
			logger.WithError(err).Error("boot script failed")
		}
	}

	return mainLoop(stack, table, stdin, logger)
}

// promptFromStdin adapts a buffered stdin reader into a boardinfo.Prompter
// for first-boot provisioning.
func promptFromStdin(in *bufio.Reader) boardinfo.Prompter {
	return func(prompt, def string) (string, error) {
		fmt.Fprintf(os.Stdout, "%s [%s]: ", prompt, def)
		line, err := in.ReadString('\n')
		if err != nil {
			return "", err
		}
		return trimNewline(line), nil
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func runBootScript(path string, table *commands.Table, logger logrus.FieldLogger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("umon: open boot script: %w", err)
	}
	defer f.Close()

	runner := script.NewRunner(commands.ScriptAdapter{Table: table}, logger)
	return runner.Run(path, f)
}

// mainLoop is the single-threaded heart of the monitor: a ticker drives
// Stack.Poll and the deferred remote-command flush, stdin lines are
// dispatched through the same command table a "." remote command would
// hit, and SIGINT/SIGTERM trigger a clean exit. Three goroutines run
// beside it: the stdin reader below, and, when a metrics address is
// configured, the metrics HTTP server and collectMetrics started in run.
func mainLoop(stack *netstack.Stack, table *commands.Table, stdin *bufio.Reader, logger logrus.FieldLogger) error {
	lineCh := make(chan string)
	go func() {
		defer close(lineCh)
		for {
			line, err := stdin.ReadString('\n')
			if line != "" {
				lineCh <- trimNewline(line)
			}
			if err != nil {
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info("shutdown requested")
			return nil

		case line, ok := <-lineCh:
			if !ok {
				logger.Info("stdin closed, shutting down")
				return nil
			}
			if line == "" {
				continue
			}
			status, reply, err := table.Execute(line)
			if err != nil {
				logger.WithError(err).Warn("command failed")
				continue
			}
			if reply != "" {
				fmt.Println(reply)
			}
			if status != commands.SUCCESS {
				fmt.Printf("%s\n", status)
			}

		case <-ticker.C:
			if err := stack.Poll(0); err != nil {
				logger.WithError(err).Warn("poll error")
			}
			stack.RemoteCmd.Flush()
		}
	}
}

// collectMetrics periodically folds the live protocol-stack counters
// into the Prometheus collector. It runs on its own goroutine rather
// than inside mainLoop's ticker case because Collector.Update only takes
// an uncontended lock, not a Poll-path mutation - reading it off the
// main loop would couple an ambient concern to protocol timing.
func collectMetrics(collector *metrics.Collector, stack *netstack.Stack, console *fbconsole.Console) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := metrics.Snapshot{
			ARPCacheEntries:     stack.ARP.Len(),
			DHCPBound:           stack.DHCP.State() == netstack.DHCPBound,
			TFTPBytesSent:       netstack.BytesSent(),
			TFTPBytesReceived:   netstack.BytesReceived(),
			RetransGiveups:      retrans.Giveups(),
			ConsoleScrollEvents: console.ScrollCount(),
		}
		collector.Update(snap)
	}
}

func prometheusLabels() map[string]string {
	return map[string]string{"component": "umon"}
}
