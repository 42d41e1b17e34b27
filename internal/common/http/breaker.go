package http

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Gauge maps the state onto the circuit_breaker_state metric.
func (s State) Gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Outcome is how a finished call counts toward the breaker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeNeutral is a call that reached the upstream but was rejected for
	// request reasons (4xx); it does not move the error rate.
	OutcomeNeutral
)

// ErrCircuitOpen is returned by Allow while the breaker is failing fast.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerSettings configure a CircuitBreaker.
type BreakerSettings struct {
	ErrorThreshold  float64 // percent
	VolumeThreshold int
	ResetTimeout    time.Duration
	RollingWindow   time.Duration
}

type sample struct {
	at     time.Time
	failed bool
}

// CircuitBreaker is a rolling-window error-rate breaker. It trips when at
// least VolumeThreshold samples in the window have an error percentage above
// ErrorThreshold. After ResetTimeout the next Allow moves it to half-open
// and admits a single probe.
type CircuitBreaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	state    State
	openedAt time.Time
	samples  []sample
	probing  bool

	now          func() time.Time
	onTransition func(from, to State)
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	if settings.VolumeThreshold <= 0 {
		settings.VolumeThreshold = 1
	}
	if settings.RollingWindow <= 0 {
		settings.RollingWindow = time.Minute
	}
	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// State returns the current state without advancing it.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Available reports whether a call issued now would be admitted. It does not
// consume the half-open probe.
func (b *CircuitBreaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return b.now().Sub(b.openedAt) >= b.settings.ResetTimeout
	case StateHalfOpen:
		return !b.probing
	default:
		return true
	}
}

// Allow admits or rejects a call. Every admitted call must be followed by
// exactly one Record.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.settings.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record feeds the outcome of an admitted call.
func (b *CircuitBreaker) Record(outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if outcome == OutcomeFailure {
			b.trip(now)
			return
		}
		b.samples = b.samples[:0]
		b.transition(StateClosed)
	case StateClosed:
		if outcome == OutcomeNeutral {
			return
		}
		b.samples = append(b.samples, sample{at: now, failed: outcome == OutcomeFailure})
		b.prune(now)
		if b.shouldTrip() {
			b.trip(now)
		}
	}
	// Calls admitted before the breaker opened may finish while it is open;
	// their outcome is ignored.
}

// Counts returns total and failed samples in the rolling window.
func (b *CircuitBreaker) Counts() (total, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	for _, s := range b.samples {
		if s.failed {
			failed++
		}
	}
	return len(b.samples), failed
}

func (b *CircuitBreaker) shouldTrip() bool {
	total := len(b.samples)
	if total < b.settings.VolumeThreshold {
		return false
	}
	failed := 0
	for _, s := range b.samples {
		if s.failed {
			failed++
		}
	}
	return float64(failed)*100/float64(total) > b.settings.ErrorThreshold
}

func (b *CircuitBreaker) trip(now time.Time) {
	b.openedAt = now
	b.samples = b.samples[:0]
	b.transition(StateOpen)
}

func (b *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.RollingWindow)
	i := 0
	for i < len(b.samples) && !b.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
