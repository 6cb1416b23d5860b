// Package commands implements the monitor's command table: the
// arp/dhcp/dns/icmp/igmp/tftp/xmodem/set/struct/fbi/ldatags verbs, each
// returning a Status the script runtime and remote command channel
// both understand. Grounded on pkg/caster's handler-table dispatch
// style, generalized from HTTP routes to line commands.
package commands

// Status is the command-table result code every handler returns.
type Status int

const (
	SUCCESS      Status = 0
	FAILURE      Status = -1
	PARAMERROR   Status = -2
	LINEERROR    Status = -3
	ULVLDENIED   Status = -4
	NOTFOUND     Status = -5
	MONRCDENIED  Status = -6
)

func (s Status) String() string {
	switch s {
	case SUCCESS:
		return "SUCCESS"
	case FAILURE:
		return "FAILURE"
	case PARAMERROR:
		return "PARAM_ERROR"
	case LINEERROR:
		return "LINE_ERROR"
	case ULVLDENIED:
		return "ULVL_DENIED"
	case NOTFOUND:
		return "NOT_FOUND"
	case MONRCDENIED:
		return "MONRC_DENIED"
	default:
		return "UNKNOWN"
	}
}
