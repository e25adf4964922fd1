package invoker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/backoffice/internal/config"
)

// BreakerState is exported as a gauge; the numeric values are part of the
// metric's contract.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

var breakerStateNames = [...]string{"closed", "half-open", "open"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "unknown"
	}
	return breakerStateNames[s]
}

// ErrCircuitOpen is returned by Allow while the breaker rejects requests.
var ErrCircuitOpen = errors.New("invoker: circuit breaker is open")

// CircuitBreaker guards the remote API. It opens after failureThreshold
// consecutive failures, rejects calls for cooldown, then admits at most
// successThreshold probes at a time until that many succeed in a row.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	onChange         func(BreakerState)
	now              func() time.Time

	mu       sync.Mutex
	state    BreakerState
	streak   int // consecutive failures when closed, successes when half-open
	inFlight int // probes admitted while half-open
	openedAt time.Time
}

// NewCircuitBreaker applies defaults of 5 failures, 2 probes and a 30s
// cooldown. onChange, when set, runs on every transition with the lock held.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, onChange func(BreakerState)) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: max(cfg.FailureThreshold, 0),
		successThreshold: max(cfg.SuccessThreshold, 0),
		cooldown:         cfg.Timeout,
		onChange:         onChange,
		now:              time.Now,
	}
	if cb.failureThreshold == 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold == 0 {
		cb.successThreshold = 2
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	return cb
}

// Allow admits a request or returns ErrCircuitOpen. Every admitted request
// must be followed by RecordSuccess, RecordFailure or RecordAbandoned.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.current() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if cb.inFlight >= cb.successThreshold {
			return ErrCircuitOpen
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.streak = 0
	case BreakerHalfOpen:
		cb.inFlight = max(cb.inFlight-1, 0)
		if cb.streak++; cb.streak >= cb.successThreshold {
			cb.moveTo(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		if cb.streak++; cb.streak >= cb.failureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
}

// RecordAbandoned settles a request the caller gave up on. It says nothing
// about the remote API, so it only frees the probe slot.
func (cb *CircuitBreaker) RecordAbandoned() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.inFlight = max(cb.inFlight-1, 0)
	}
}

// State returns the breaker state, moving an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// HealthCheck fails while the breaker is open so readiness reports the
// remote API as down without calling it.
func (cb *CircuitBreaker) HealthCheck(context.Context) error {
	if cb.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (cb *CircuitBreaker) current() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.moveTo(BreakerHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.moveTo(BreakerOpen)
}

func (cb *CircuitBreaker) moveTo(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.streak = 0
	cb.inFlight = 0
	if cb.onChange != nil {
		cb.onChange(to)
	}
}
