// Package config collects the process-wide tunables for the host-built
// monitor simulator: which interface/serial device backs the target, the
// well-known port numbers, and the diagnostics endpoint. Plain stdlib
// flag, matching the CLI style of the project's own cmd/ binaries -
// nothing in the retrieved example pack reaches for a CLI framework.
package config

import (
	"flag"
	"os"
)

// Config holds every flag/env tunable the host build needs.
type Config struct {
	Iface          string // host network interface the simulated NIC rides on
	SerialDevice   string // host serial device backing the console/XMODEM UART
	BaudRate       int
	RemoteCmdPort  int
	TFTPPortBase   int
	TFTPPortRange  int
	DNSServer      string
	MetricsAddr    string // "" disables the metrics HTTP endpoint
	BoardInfoPath  string // host file standing in for the board-info flash sector
	ScriptOnBoot   string

	NetListenAddr string // UDPDriver bind address standing in for the NIC's receive side
	NetPeerAddr   string // UDPDriver destination; broadcast/multicast lets several host nodes share a segment
	MAC           string // simulated Ethernet address, colon-separated hex
}

// Default returns the built-in defaults before flags/env are applied.
func Default() Config {
	return Config{
		Iface:         "lo",
		SerialDevice:  "/dev/ttyUSB0",
		BaudRate:      115200,
		RemoteCmdPort: 777,
		TFTPPortBase:  8888,
		TFTPPortRange: 256,
		DNSServer:     "",
		MetricsAddr:   "",
		BoardInfoPath: "boardinfo.bin",
		ScriptOnBoot:  "",
		NetListenAddr: "127.0.0.1:17000",
		NetPeerAddr:   "127.0.0.1:17001",
		MAC:           "02:00:00:00:00:01",
	}
}

// Parse builds a Config from command-line flags, with environment
// variables as fallbacks for values not given on the command line.
func Parse(args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("umon", flag.ContinueOnError)

	fs.StringVar(&cfg.Iface, "iface", envOr("UMON_IFACE", cfg.Iface), "host network interface")
	fs.StringVar(&cfg.SerialDevice, "serial", envOr("UMON_SERIAL", cfg.SerialDevice), "host serial device")
	fs.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial baud rate")
	fs.IntVar(&cfg.RemoteCmdPort, "cmdport", cfg.RemoteCmdPort, "remote command channel UDP port")
	fs.StringVar(&cfg.DNSServer, "dns", cfg.DNSServer, "DNS server address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr("UMON_METRICS_ADDR", cfg.MetricsAddr), "Prometheus metrics listen address, empty to disable")
	fs.StringVar(&cfg.BoardInfoPath, "boardinfo", cfg.BoardInfoPath, "path to the board-info persistence file")
	fs.StringVar(&cfg.ScriptOnBoot, "script", cfg.ScriptOnBoot, "script file to run automatically at boot")
	fs.StringVar(&cfg.NetListenAddr, "net-listen", cfg.NetListenAddr, "UDP driver bind address (stands in for the NIC)")
	fs.StringVar(&cfg.NetPeerAddr, "net-peer", cfg.NetPeerAddr, "UDP driver peer/broadcast address")
	fs.StringVar(&cfg.MAC, "mac", cfg.MAC, "simulated Ethernet address")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
