// Package resilience isolates destination failures behind a circuit breaker.
// The breaker's job is failure isolation, not recovery: once tripped it
// rejects calls until the reset timeout elapses, then lets a single probe
// through. Recovery beyond that is operator-driven (re-run the migration).
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the breaker state.
type State int

const (
	// StateClosed is normal operation; calls flow through.
	StateClosed State = iota
	// StateOpen rejects calls immediately after too many failures.
	StateOpen
	// StateHalfOpen lets one probe call test whether the destination recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = eris.New("circuit breaker is open")

// BreakerConfig controls trip and reset behavior.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the breaker.
	MaxFailures int
	// CallTimeout bounds each call executed through the breaker.
	CallTimeout time.Duration
	// ResetTimeout is how long the breaker stays open before allowing a probe.
	ResetTimeout time.Duration
	// Fallback, if set, is invoked with the error whenever a call fails or
	// is rejected. It logs; it never retries.
	Fallback func(err error)
}

// Breaker is a single-destination circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	now func() time.Time // injectable for tests
}

// NewBreaker creates a breaker, applying defaults for unset config fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Execute runs fn under the breaker with the call timeout applied to ctx.
// A rejected call returns ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		if b.cfg.Fallback != nil {
			b.cfg.Fallback(err)
		}
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	b.record(err)
	if err != nil && b.cfg.Fallback != nil {
		b.cfg.Fallback(err)
	}
	return err
}

// State reports the effective state, accounting for reset-timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen // allow one probe
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
	}
}
