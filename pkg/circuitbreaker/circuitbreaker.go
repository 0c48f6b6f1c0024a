// Package circuitbreaker stops calling an upstream that keeps failing.
// The aggregator relies on it so that one dead species database does not
// slow every reload down to its timeouts while the other sources answer.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
)

// String returns the string representation of the state.
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

var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned in half-open state when every probe slot is taken.
	ErrTooManyProbes = errors.New("circuit breaker is half-open: probe already in flight")
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configures a CircuitBreaker. Zero values take the defaults noted.
type Settings struct {
	// Name identifies the breaker in state change callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successful probes that
	// closes a half-open circuit. Default: 1.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open. Default: 30s.
	OpenTimeout time.Duration

	// MaxProbes bounds concurrent requests in half-open state. Default: 1.
	MaxProbes int

	// IsFailure decides whether an error counts against the upstream.
	// nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.MaxProbes <= 0 {
		s.MaxProbes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Counts are the request outcomes seen in the current state.
type Counts struct {
	Requests             int
	Successes            int
	Failures             int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// ══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker guards calls to one upstream.
type CircuitBreaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
	probes     int
}

type transition struct {
	from, to State
}

// New creates a closed circuit breaker.
func New(settings Settings) *CircuitBreaker {
	settings.applyDefaults()
	return &CircuitBreaker{settings: settings, state: StateClosed}
}

// Execute runs fn when the circuit allows it and records the outcome.
// Rejected calls return ErrCircuitOpen or ErrTooManyProbes without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.release(generation, err)
	return err
}

// acquire admits one request and returns the generation it belongs to.
func (cb *CircuitBreaker) acquire() (uint64, error) {
	cb.mu.Lock()
	var changed []transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(changed)
	}()

	if cb.state == StateOpen {
		if cb.settings.Now().Sub(cb.openedAt) < cb.settings.OpenTimeout {
			return 0, ErrCircuitOpen
		}
		changed = append(changed, cb.setState(StateHalfOpen))
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.settings.MaxProbes {
			return 0, ErrTooManyProbes
		}
		cb.probes++
	}

	cb.counts.Requests++
	return cb.generation, nil
}

// release records the outcome of a request admitted in generation.
// Outcomes from an earlier generation are dropped: the state they describe
// is gone.
func (cb *CircuitBreaker) release(generation uint64, err error) {
	cb.mu.Lock()
	var changed []transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(changed)
	}()

	if generation != cb.generation {
		return
	}
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	if failed {
		cb.counts.Failures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0

		// A failed probe reopens immediately.
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
			changed = append(changed, cb.setState(StateOpen))
		}
		return
	}

	cb.counts.Successes++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.SuccessThreshold {
		changed = append(changed, cb.setState(StateClosed))
	}
}

// setState moves to a new state and starts a fresh generation. Caller holds mu.
func (cb *CircuitBreaker) setState(to State) transition {
	t := transition{from: cb.state, to: to}

	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.settings.Now()
	}
	return t
}

func (cb *CircuitBreaker) notify(changed []transition) {
	if cb.settings.OnStateChange == nil {
		return
	}
	for _, t := range changed {
		cb.settings.OnStateChange(cb.settings.Name, t.from, t.to)
	}
}

// State returns the current state. An open circuit whose timeout has elapsed
// still reports open until the next request probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the outcomes recorded since the last transition.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// RetryAt returns when an open circuit admits its next probe, or the zero
// time when the circuit is not open.
func (cb *CircuitBreaker) RetryAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openedAt.Add(cb.settings.OpenTimeout)
}

// Reset closes the circuit and clears the counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changed []transition
	if cb.state != StateClosed {
		changed = append(changed, cb.setState(StateClosed))
	} else {
		cb.generation++
		cb.counts = Counts{}
	}
	cb.mu.Unlock()
	cb.notify(changed)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SourceBreaker returns a breaker for one upstream biodiversity API.
// A single successful probe closes it again. isFailure nil counts every error.
func SourceBreaker(name string, threshold int, timeout time.Duration, onStateChange func(name string, from, to State), isFailure func(error) bool) *CircuitBreaker {
	return New(Settings{
		Name:             "source-" + name,
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		OpenTimeout:      timeout,
		MaxProbes:        1,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}

// DatabaseBreaker returns a breaker for the species table. Context
// cancellations by the caller do not count against the database.
func DatabaseBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "database",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Second,
		MaxProbes:        1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: onStateChange,
	})
}
