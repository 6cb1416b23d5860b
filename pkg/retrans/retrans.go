// Package retrans implements the adaptive backoff shared by ARP, DHCP and
// TFTP: each protocol seeds its own delay/giveup/max triple, then asks
// this policy for the next delay (or TIMEOUT) every time a reply fails to
// arrive in time.
package retrans

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrTimeout is returned once the policy has exhausted its retries.
var ErrTimeout = errors.New("retrans: gave up")

// giveups counts every policy that has exhausted its retries, across every
// protocol (ARP/DHCP/TFTP share this package). Exported via Giveups for
// pkg/metrics; this is the one piece of package-level state here, kept
// deliberately to a single metrics counter rather than protocol state.
var giveups uint64

// Giveups reports the total number of retransmission sessions that have
// exhausted their retries since process start.
func Giveups() uint64 {
	return atomic.LoadUint64(&giveups)
}

// Profile is the protocol-specific tuning triple.
type Profile struct {
	InitialDelaySec int
	MaxDelaySec     int
	GiveupCount     int
}

// Built-in defaults, matching the original monitor's constants.
var (
	ARPProfile  = Profile{InitialDelaySec: 1, MaxDelaySec: 4, GiveupCount: 0}
	DHCPProfile = Profile{InitialDelaySec: 4, MaxDelaySec: 64, GiveupCount: 6}
	TFTPProfile = Profile{InitialDelaySec: 2, MaxDelaySec: 8, GiveupCount: 4}
)

// RandomSource supplies the small per-target jitter added to each delay.
// The original derives it from the low bits of the local IP; callers pass
// that in directly rather than this package reaching for global state.
type RandomSource func() int

// Policy is a single backoff session. Not safe for concurrent use - the
// core is single-threaded per Section 5, so none is needed.
type Policy struct {
	profile     Profile
	delay       int
	started     bool
	maxoutCount int
	jitter      RandomSource
}

// New starts a fresh backoff session for the given profile. jitter may be
// nil, in which case no jitter is added.
func New(p Profile, jitter RandomSource) *Policy {
	return &Policy{profile: p, delay: p.InitialDelaySec, jitter: jitter}
}

// NextDelaySeconds returns the delay to wait before the next retransmit,
// or ErrTimeout once the session has given up. The first call returns
// the profile's un-doubled InitialDelaySec, matching DELAY_INIT_* in the
// original's RetransmitDelay(); only the second and later calls double
// the delay (DELAY_INCREMENT), pegging at MaxDelaySec, after which
// repeated calls count toward GiveupCount.
func (p *Policy) NextDelaySeconds() (int, error) {
	switch {
	case !p.started:
		p.started = true
	case p.delay >= p.profile.MaxDelaySec:
		p.delay = p.profile.MaxDelaySec
		p.maxoutCount++
		if p.maxoutCount > p.profile.GiveupCount {
			atomic.AddUint64(&giveups, 1)
			return 0, fmt.Errorf("retrans: %w", ErrTimeout)
		}
	default:
		p.delay *= 2
		if p.delay > p.profile.MaxDelaySec {
			p.delay = p.profile.MaxDelaySec
		}
	}

	delay := p.delay
	if p.jitter != nil {
		delay += p.jitter()
	}
	if delay < 0 {
		delay = 0
	}
	return delay, nil
}

// Reset restarts the session at the profile's initial delay, for a
// protocol that begins a brand new exchange (e.g. DHCP RESTART).
func (p *Policy) Reset() {
	p.delay = p.profile.InitialDelaySec
	p.started = false
	p.maxoutCount = 0
}
