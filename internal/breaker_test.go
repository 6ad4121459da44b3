package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{Window: time.Minute, Threshold: 3, CoolDown: 50 * time.Millisecond, MaxCoolDown: time.Second}
	b := NewBreaker(cfg, nil)

	require.True(t, b.Allow("primary"))
	b.Report("primary", false)
	require.True(t, b.Allow("primary"))
	b.Report("primary", false)
	require.True(t, b.Allow("primary"))
	b.Report("primary", false)

	assert.Equal(t, StateOpen, b.State("primary"))
	assert.False(t, b.Allow("primary"))
}

func TestBreakerHalfOpenProbeThenClose(t *testing.T) {
	cfg := BreakerConfig{Window: time.Minute, Threshold: 1, CoolDown: 10 * time.Millisecond, MaxCoolDown: time.Second}
	b := NewBreaker(cfg, nil)

	b.Allow("primary")
	b.Report("primary", false)
	assert.Equal(t, StateOpen, b.State("primary"))

	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.Allow("primary"))
	assert.Equal(t, StateHalfOpen, b.State("primary"))
	// a second concurrent caller must be denied while the probe is in flight.
	assert.False(t, b.Allow("primary"))

	b.Report("primary", true)
	assert.Equal(t, StateClosed, b.State("primary"))
}

func TestBreakerDoublesCoolDownOnRepeatedFailure(t *testing.T) {
	cfg := BreakerConfig{Window: time.Minute, Threshold: 1, CoolDown: 10 * time.Millisecond, MaxCoolDown: 100 * time.Millisecond}
	b := NewBreaker(cfg, nil)

	b.Allow("primary")
	b.Report("primary", false)
	time.Sleep(15 * time.Millisecond)
	b.Allow("primary") // half-open probe
	b.Report("primary", false)

	ps := b.stateFor("primary")
	assert.True(t, ps.coolDown >= 20*time.Millisecond)
	assert.True(t, ps.coolDown <= 100*time.Millisecond)
}

func TestBreakerIndependentPerProvider(t *testing.T) {
	cfg := BreakerConfig{Window: time.Minute, Threshold: 1, CoolDown: time.Second, MaxCoolDown: time.Minute}
	b := NewBreaker(cfg, nil)

	b.Allow("primary")
	b.Report("primary", false)

	assert.Equal(t, StateOpen, b.State("primary"))
	assert.Equal(t, StateClosed, b.State("secondary"))
	assert.True(t, b.Allow("secondary"))
}
