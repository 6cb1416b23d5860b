package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance ticks deterministically instead of racing
// the host wall clock.
type fakeClock struct {
	tick uint32
	tpms uint32
}

func (f *fakeClock) Ticks() uint32               { return f.tick }
func (f *fakeClock) TicksPerMillisecond() uint32  { return f.tpms }
func (f *fakeClock) advance(ticks uint32)         { f.tick += ticks }

func TestTimerExpiresAfterDuration(t *testing.T) {
	clk := &fakeClock{tpms: 10}
	tm := Start(clk, 100*time.Millisecond)

	assert.False(t, tm.Poll())
	clk.advance(500) // 50ms
	assert.False(t, tm.Poll())
	clk.advance(600) // total 110ms
	assert.True(t, tm.Poll())
}

func TestTimerRemainingReachesZero(t *testing.T) {
	clk := &fakeClock{tpms: 1}
	tm := Start(clk, 50*time.Millisecond)
	clk.advance(50)
	assert.True(t, tm.Poll())
	assert.Equal(t, time.Duration(0), tm.Remaining())
}

func TestTimerSurvivesTickWraparound(t *testing.T) {
	clk := &fakeClock{tick: 0xFFFFFFF0, tpms: 1}
	tm := Start(clk, 100*time.Millisecond)
	clk.tick = 0xFFFFFFF0 // reset baseline matches Start
	clk.advance(0x20)     // wraps past 0xFFFFFFFF
	assert.False(t, tm.Poll())
	clk.advance(200)
	assert.True(t, tm.Poll())
}

func TestTimerIdempotentAfterExpiry(t *testing.T) {
	clk := &fakeClock{tpms: 1}
	tm := Start(clk, 10*time.Millisecond)
	clk.advance(100)
	assert.True(t, tm.Poll())
	assert.True(t, tm.Poll())
}
