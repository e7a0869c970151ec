// Package resilience guards the pipeline's calls to outside systems,
// chiefly the scrape API and the message broker, with retries, circuit
// breakers and dead-letter capture. Transient faults retry with backoff;
// a failing service trips its breaker so dispatch stops hammering it
// until it recovers.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is where a breaker currently sits.
type CircuitState int

const (
	// CircuitClosed lets calls through. This is the healthy state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls outright after a failure streak.
	CircuitOpen
	// CircuitHalfOpen admits trial calls to see whether the service recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen rejects a call while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig tunes one breaker. The zero value gets the same
// defaults the worker config ships with.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure streak that opens the circuit.
	// Mirrors worker.circuit_failure_threshold; default 5.
	FailureThreshold int

	// ResetTimeout is how long an open circuit waits before admitting
	// trial calls. Mirrors worker.circuit_reset_secs; default 60s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many trial calls must succeed before the
	// circuit closes again. Default 1.
	HalfOpenMaxProbes int

	// ShouldTrip decides whether an error counts toward the streak. Nil
	// counts every non-nil error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions, for logging or metrics.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig matches the worker config defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker tracks the failure streak of a single downstream
// service and stops calls when the streak crosses the threshold.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failStreak  int
	lastFailure time.Time
	trialsOK    int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker builds a closed breaker, filling unset config fields
// from the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Execute runs fn through the breaker: ErrCircuitOpen while open,
// otherwise fn's own error, with the outcome fed back into the streak.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the breaker's effective state. An open circuit whose
// reset timeout has elapsed reads as half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.resetElapsed() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears the streak, for manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	was := cb.state
	cb.state = CircuitClosed
	cb.failStreak = 0
	cb.trialsOK = 0
	if was != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(was, CircuitClosed)
	}
}

// Counters exposes the failure streak and raw state for observability.
func (cb *CircuitBreaker) Counters() (failStreak int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failStreak, cb.state
}

// admit decides whether the next call may proceed, moving an expired
// open circuit to half-open on the way.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if !cb.resetElapsed() {
			return ErrCircuitOpen
		}
		cb.shift(CircuitHalfOpen)
	}
	return nil
}

// observe feeds a call outcome back into the streak.
func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	trips := err != nil
	if trips && cb.cfg.ShouldTrip != nil {
		trips = cb.cfg.ShouldTrip(err)
	}
	if !trips {
		cb.recordSuccess()
		return
	}

	cb.failStreak++
	cb.lastFailure = cb.nowFunc()
	switch cb.state {
	case CircuitClosed:
		if cb.failStreak >= cb.cfg.FailureThreshold {
			cb.shift(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failing trial call reopens immediately.
		cb.trialsOK = 0
		cb.shift(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failStreak = 0
	case CircuitHalfOpen:
		cb.trialsOK++
		if cb.trialsOK >= cb.cfg.HalfOpenMaxProbes {
			cb.failStreak = 0
			cb.trialsOK = 0
			cb.shift(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) resetElapsed() bool {
	return cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) shift(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers is the worker's breaker registry, one breaker per
// downstream service name ("search", "enrich", broker queues).
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers builds an empty registry; breakers spawn lazily
// with the shared config.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

// Get returns the named service's breaker, creating it on first use.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cb = NewCircuitBreaker(sb.cfg)
	sb.breakers[service] = cb
	return cb
}

// States snapshots every registered breaker, keyed by service name.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		out[name] = cb.State()
	}
	return out
}
