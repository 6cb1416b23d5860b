package retrans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstDelayIsUndoubledInitial(t *testing.T) {
	p := New(Profile{InitialDelaySec: 1, MaxDelaySec: 8, GiveupCount: 2}, nil)

	d1, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 1, d1) // un-doubled initial delay, per DELAY_INIT_*

	d2, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 2, d2)

	d3, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 4, d3)

	d4, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 8, d4)
}

func TestNextDelayTimesOutAfterGiveup(t *testing.T) {
	p := New(Profile{InitialDelaySec: 1, MaxDelaySec: 2, GiveupCount: 1}, nil)

	_, err := p.NextDelaySeconds() // un-doubled initial delay, 1
	assert.NoError(t, err)
	_, err = p.NextDelaySeconds() // doubles to peg at max, 2
	assert.NoError(t, err)
	_, err = p.NextDelaySeconds() // maxoutCount=1, within giveup
	assert.NoError(t, err)
	_, err = p.NextDelaySeconds() // maxoutCount=2 > giveup=1
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestJitterIsApplied(t *testing.T) {
	p := New(Profile{InitialDelaySec: 1, MaxDelaySec: 8, GiveupCount: 5}, func() int { return 2 })
	d, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 3, d) // un-doubled initial delay 1, plus jitter 2
}

func TestResetRestoresInitialDelay(t *testing.T) {
	p := New(Profile{InitialDelaySec: 1, MaxDelaySec: 4, GiveupCount: 1}, nil)
	_, _ = p.NextDelaySeconds()
	_, _ = p.NextDelaySeconds()
	p.Reset()
	d, err := p.NextDelaySeconds()
	assert.NoError(t, err)
	assert.Equal(t, 1, d) // un-doubled initial delay again after Reset
}
