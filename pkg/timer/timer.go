// Package timer implements the uniform millisecond-timeout abstraction
// every protocol state machine in pkg/netstack polls against. It works the
// same whether the caller is backed by a real tick source or the
// monotonic host clock the simulator uses.
package timer

import "time"

// TickSource supplies a monotonically increasing tick count and the
// tick rate. On embedded targets this wraps a hardware counter; the host
// build's NewHostClock implementation wraps time.Now().
type TickSource interface {
	Ticks() uint32
	TicksPerMillisecond() uint32
}

// hostClock is the host-build TickSource: ticks are microseconds since an
// arbitrary epoch, truncated to 32 bits the same way a real hardware
// counter would wrap.
type hostClock struct{ start time.Time }

// NewHostClock returns the TickSource used by the host simulator.
func NewHostClock() TickSource {
	return &hostClock{start: time.Now()}
}

func (h *hostClock) Ticks() uint32 {
	return uint32(time.Since(h.start).Microseconds())
}

func (h *hostClock) TicksPerMillisecond() uint32 {
	return 1000
}

// Timer is an elapsed-millisecond countdown. Zero value is not usable;
// construct with Start. All fields are plain data so a Timer can live on
// the stack or inside a larger state struct without indirection.
type Timer struct {
	src         TickSource
	startTick   uint32
	lastTick    uint32
	elapsedHi   uint32
	elapsedLo   uint32
	timeoutHi   uint32
	timeoutLo   uint32
	timedOut    bool
}

// Start begins a new countdown of the given duration against src. The
// 64-bit timeout tick count is accumulated in chunks no larger than the
// tick source's own 32-bit range so truncation during multiplication can
// never corrupt the target, matching the elapsed-timer contract that the
// countdown must be correct across tick-counter wraparound.
func Start(src TickSource, d time.Duration) *Timer {
	ms := uint32(d.Milliseconds())
	tpms := src.TicksPerMillisecond()
	if tpms == 0 {
		tpms = 1
	}

	var hi, lo uint32
	const chunk = 1 << 16
	remaining := ms
	for remaining > 0 {
		step := remaining
		if step > chunk {
			step = chunk
		}
		add := uint64(step) * uint64(tpms)
		newLo := lo + uint32(add)
		if newLo < lo {
			hi++
		}
		hi += uint32(add >> 32)
		lo = newLo
		remaining -= step
	}

	now := src.Ticks()
	return &Timer{
		src:       src,
		startTick: now,
		lastTick:  now,
		timeoutHi: hi,
		timeoutLo: lo,
	}
}

// Poll samples the tick source, folds the delta into the elapsed counter,
// and returns whether the timer has expired. Idempotent once expired.
func (t *Timer) Poll() bool {
	if t.timedOut {
		return true
	}
	now := t.src.Ticks()
	delta := now - t.lastTick // wraps correctly: unsigned subtraction
	t.lastTick = now

	newLo := t.elapsedLo + delta
	if newLo < t.elapsedLo {
		t.elapsedHi++
	}
	t.elapsedLo = newLo

	if t.elapsedHi > t.timeoutHi || (t.elapsedHi == t.timeoutHi && t.elapsedLo >= t.timeoutLo) {
		t.timedOut = true
	}
	return t.timedOut
}

// Remaining returns the time left before expiration, zero once expired.
func (t *Timer) Remaining() time.Duration {
	if t.Poll() {
		return 0
	}
	tpms := t.src.TicksPerMillisecond()
	if tpms == 0 {
		tpms = 1
	}
	remTicks := uint64(t.timeoutHi)<<32 | uint64(t.timeoutLo)
	elapTicks := uint64(t.elapsedHi)<<32 | uint64(t.elapsedLo)
	if elapTicks >= remTicks {
		return 0
	}
	return time.Duration((remTicks-elapTicks)/uint64(tpms)) * time.Millisecond
}

// Elapsed returns the time elapsed since Start, capped at the timeout.
func (t *Timer) Elapsed() time.Duration {
	t.Poll()
	tpms := t.src.TicksPerMillisecond()
	if tpms == 0 {
		tpms = 1
	}
	elapTicks := uint64(t.elapsedHi)<<32 | uint64(t.elapsedLo)
	if timeoutTicks := uint64(t.timeoutHi)<<32 | uint64(t.timeoutLo); elapTicks > timeoutTicks {
		elapTicks = timeoutTicks
	}
	return time.Duration(elapTicks/uint64(tpms)) * time.Millisecond
}
