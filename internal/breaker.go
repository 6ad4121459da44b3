package internal

import (
	"sync"
	"time"
)

// BreakerState is the public state of a single provider's circuit.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// BreakerConfig controls the failure threshold, sliding window, and
// cool-down schedule. Doubling is capped at MaxCoolDown.
type BreakerConfig struct {
	Window        time.Duration
	Threshold     int
	CoolDown      time.Duration
	MaxCoolDown   time.Duration
}

// DefaultBreakerConfig matches the circuit.window / circuit.threshold /
// circuit.cool-down-ms configuration keys' documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:      time.Minute,
		Threshold:   5,
		CoolDown:    30 * time.Second,
		MaxCoolDown: 30 * time.Minute,
	}
}

// providerState is the per-provider linearised state. All transitions
// happen under mu so concurrent callers observe a consistent gate
// decision, matching the "state transitions are atomic per provider"
// ordering guarantee.
type providerState struct {
	mu sync.Mutex

	state       BreakerState
	failures    []time.Time // consecutive-failure timestamps within Window
	coolDown    time.Duration
	retryAfter  time.Time
	probeInFlight bool
}

// Breaker gates outbound provider calls and tracks failure counters
// independently per provider name. Callers MUST call Allow before
// every request and Report after, per the provider-adapter contract.
type Breaker struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	byName   map[string]*providerState
	metrics  *breakerMetrics
}

// NewBreaker constructs a Breaker using cfg for every provider it sees;
// providers are created lazily on first use.
func NewBreaker(cfg BreakerConfig, metrics *breakerMetrics) *Breaker {
	return &Breaker{cfg: cfg, byName: map[string]*providerState{}, metrics: metrics}
}

func (b *Breaker) stateFor(provider string) *providerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.byName[provider]
	if !ok {
		ps = &providerState{coolDown: b.cfg.CoolDown}
		b.byName[provider] = ps
	}
	return ps
}

// Allow reports whether a request to provider may be issued right now.
// In the half-open state exactly one caller is admitted as a probe;
// all others are denied until that probe reports its outcome.
func (b *Breaker) Allow(provider string) bool {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch ps.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().Before(ps.retryAfter) {
			if b.metrics != nil {
				b.metrics.deniedInc(provider)
			}
			return false
		}
		ps.state = StateHalfOpen
		ps.probeInFlight = true
		if b.metrics != nil {
			b.metrics.stateSet(provider, StateHalfOpen)
		}
		return true
	case StateHalfOpen:
		if ps.probeInFlight {
			if b.metrics != nil {
				b.metrics.deniedInc(provider)
			}
			return false
		}
		ps.probeInFlight = true
		return true
	default:
		return true
	}
}

// Report records the outcome of a call previously admitted by Allow.
// success=false advances the failure window and may trip the breaker
// open; success=true resets it to closed.
func (b *Breaker) Report(provider string, success bool) {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()

	if success {
		ps.failures = nil
		ps.probeInFlight = false
		ps.coolDown = b.cfg.CoolDown
		if ps.state != StateClosed && b.metrics != nil {
			b.metrics.stateSet(provider, StateClosed)
		}
		ps.state = StateClosed
		return
	}

	ps.probeInFlight = false

	if ps.state == StateHalfOpen {
		b.trip(ps, provider, now)
		return
	}

	ps.failures = append(ps.failures, now)
	ps.failures = pruneWindow(ps.failures, now, b.cfg.Window)

	if len(ps.failures) >= b.cfg.Threshold {
		b.trip(ps, provider, now)
	}
}

// trip opens the breaker, doubling the cool-down from its last value
// (capped at MaxCoolDown).
func (b *Breaker) trip(ps *providerState, provider string, now time.Time) {
	ps.state = StateOpen
	ps.retryAfter = now.Add(ps.coolDown)
	if b.metrics != nil {
		b.metrics.stateSet(provider, StateOpen)
		b.metrics.trippedInc(provider)
	}
	next := ps.coolDown * 2
	if next > b.cfg.MaxCoolDown {
		next = b.cfg.MaxCoolDown
	}
	ps.coolDown = next
	ps.failures = nil
}

// State returns the current observed state for provider, for
// diagnostics and tests.
func (b *Breaker) State(provider string) BreakerState {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
