package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"sitegate/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned by Allow while the origin is considered down.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int32

const (
	// StateClosed - normal operation, requests flow through
	StateClosed State = iota
	// StateOpen - origin failing, requests fail fast
	StateOpen
	// StateHalfOpen - probing whether the origin recovered
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

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Zero disables the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive probe successes before closing
	SuccessThreshold int
	// Cooldown is how long to stay open before letting a probe through
	Cooldown time.Duration
}

// CircuitBreaker guards a single origin. Only one probe is in flight while
// half-open; everything else fails fast.
type CircuitBreaker struct {
	name   string
	config Config

	mu         sync.Mutex
	state      State
	failures   int
	successes  int
	probing    bool
	openedAt   time.Time
	lastChange time.Time

	nowFunc func() time.Time // for tests
}

// New creates a new circuit breaker for an origin
func New(name string, config Config) *CircuitBreaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{
		name:    name,
		config:  config,
		nowFunc: time.Now,
	}
	cb.lastChange = cb.nowFunc()
	metrics.OriginCircuitState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Enabled reports whether the breaker trips at all.
func (cb *CircuitBreaker) Enabled() bool {
	return cb.config.FailureThreshold > 0
}

// Allow reports whether a request may go to the origin. A nil error while
// half-open means the caller holds the probe and must record its outcome.
func (cb *CircuitBreaker) Allow() error {
	if !cb.Enabled() {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrOpen
		}
		cb.transitionTo(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrOpen
		}
		cb.probing = true
		return nil
	default:
		return ErrOpen
	}
}

// RecordSuccess records a successful origin round trip
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.Enabled() {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			log.Info().Str("origin", cb.name).Msg("origin circuit recovered")
		}
	}
}

// RecordFailure records a failed origin round trip
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.Enabled() {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if failures := cb.failures; failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
			log.Error().
				Str("origin", cb.name).
				Int("failures", failures).
				Msg("origin circuit opened")
		}
	case StateHalfOpen:
		// Any probe failure reopens immediately
		cb.probing = false
		cb.transitionTo(StateOpen)
		log.Warn().Str("origin", cb.name).Msg("origin circuit reopened after failed probe")
	case StateOpen:
		cb.openedAt = cb.nowFunc()
	}
}

// Release gives back a half-open probe whose outcome says nothing about the
// origin (e.g. the client went away).
func (cb *CircuitBreaker) Release() {
	if !cb.Enabled() {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// transitionTo changes state and resets counters (caller must hold mu)
func (cb *CircuitBreaker) transitionTo(newState State) {
	old := cb.state
	now := cb.nowFunc()
	cb.state = newState
	cb.lastChange = now
	cb.failures = 0
	cb.successes = 0
	if newState == StateOpen {
		cb.openedAt = now
	}

	metrics.OriginCircuitState.WithLabelValues(cb.name).Set(float64(newState))
	metrics.OriginCircuitTransitions.WithLabelValues(cb.name, old.String(), newState.String()).Inc()
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats holds circuit breaker statistics
type Stats struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Failures   int       `json:"failures"`
	LastChange time.Time `json:"last_change"`
}

// Stats returns current circuit breaker statistics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:       cb.name,
		State:      cb.state.String(),
		Failures:   cb.failures,
		LastChange: cb.lastChange,
	}
}
