package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freshcart/push-engine/internal/logger"
)

// State is the lifecycle state of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configures a breaker. Zero values fall back to the defaults.
type Settings struct {
	FailureThreshold int           // consecutive failures before the circuit opens
	SuccessThreshold int           // consecutive successes in half-open before it closes
	RecoveryTimeout  time.Duration // how long the circuit stays open before probing
	CallTimeout      time.Duration // upper bound on a single guarded call
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultRecoveryTimeout  = 30 * time.Second
	defaultCallTimeout      = 10 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = defaultSuccessThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = defaultRecoveryTimeout
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = defaultCallTimeout
	}
	return s
}

// Metrics is a point-in-time snapshot of a breaker's counters.
type Metrics struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	NextRetryAt          time.Time `json:"next_retry_at,omitempty"`
	TotalCalls           int64     `json:"total_calls"`
	TotalSuccesses       int64     `json:"total_successes"`
	TotalFailures        int64     `json:"total_failures"`
	TotalRejections      int64     `json:"total_rejections"`
}

// OpenError is returned when the breaker rejects a call without invoking
// the operation, either because the circuit is open or because another
// probe is already in flight.
type OpenError struct {
	Name    string
	Metrics Metrics
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Breaker guards calls to one named external dependency. Calls through a
// breaker may run concurrently; state transitions are serialized by the
// breaker's own mutex.
type Breaker struct {
	name     string
	settings Settings
	logger   *logger.Logger
	observer observer

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	nextRetryAt          time.Time
	probing              bool
	totalCalls           int64
	totalSuccesses       int64
	totalFailures        int64
	totalRejections      int64
}

// observer receives transition and rejection events for metric emission.
type observer interface {
	transition(name string, from, to State)
	rejection(name string)
}

func newBreaker(name string, settings Settings, log *logger.Logger, obs observer) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		logger:   log,
		observer: obs,
		state:    StateClosed,
	}
}

// Execute runs op under the breaker's failure policy. The operation is
// invoked with a context bounded by the breaker's call timeout; exceeding
// it counts as a failure. When the circuit is open, Execute returns an
// *OpenError without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(callCtx)
	}()

	select {
	case err = <-done:
	case <-callCtx.Done():
		// The operation keeps running in its goroutine but the breaker
		// stops waiting; the buffered channel lets it exit.
		err = fmt.Errorf("call to %s timed out after %s: %w", b.name, b.settings.CallTimeout, callCtx.Err())
	}

	b.afterCall(err, probe)
	return err
}

// beforeCall admits or rejects the call and performs the open->half-open
// transition when the recovery timeout has elapsed. The returned probe
// flag marks the one call admitted as the half-open probe; only that call
// may touch the probing state again when it settles.
func (b *Breaker) beforeCall() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.nextRetryAt) {
			return false, b.rejectLocked()
		}
		b.transitionLocked(StateHalfOpen)
		b.probing = true
		probe = true

	case StateHalfOpen:
		// Only one concurrent probe is permitted; others fail fast
		// rather than hammering a dependency that may still be down.
		if b.probing {
			return false, b.rejectLocked()
		}
		b.probing = true
		probe = true
	}

	b.totalCalls++
	return probe, nil
}

func (b *Breaker) afterCall(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if err != nil {
		b.totalFailures++
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0

		switch b.state {
		case StateHalfOpen:
			// A single probe failure reopens the circuit. A stale call
			// admitted back when the circuit was closed carries no
			// information about recovery and must not reopen it.
			if probe {
				b.openLocked()
			}
		case StateClosed:
			if b.consecutiveFailures >= b.settings.FailureThreshold {
				b.openLocked()
			}
		}
		return
	}

	b.totalSuccesses++
	b.consecutiveSuccesses++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen && probe && b.consecutiveSuccesses >= b.settings.SuccessThreshold {
		b.transitionLocked(StateClosed)
	}
}

func (b *Breaker) openLocked() {
	b.nextRetryAt = time.Now().Add(b.settings.RecoveryTimeout)
	b.transitionLocked(StateOpen)
}

func (b *Breaker) rejectLocked() error {
	b.totalRejections++
	if b.observer != nil {
		b.observer.rejection(b.name)
	}
	if b.logger != nil {
		b.logger.Debug("circuit breaker rejected call",
			slog.String("breaker", b.name),
			slog.String("state", string(b.state)),
			slog.Time("next_retry_at", b.nextRetryAt))
	}
	return &OpenError{Name: b.name, Metrics: b.metricsLocked()}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.observer != nil {
		b.observer.transition(b.name, from, to)
	}
	if b.logger != nil {
		b.logger.Info("circuit breaker state transition",
			slog.String("breaker", b.name),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Int("consecutive_failures", b.consecutiveFailures))
	}
}

// Metrics returns a snapshot of the breaker's state and counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metricsLocked()
}

func (b *Breaker) metricsLocked() Metrics {
	return Metrics{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		NextRetryAt:          b.nextRetryAt,
		TotalCalls:           b.totalCalls,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		TotalRejections:      b.totalRejections,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceState overrides the breaker state. Intended for tests and
// operational tooling, not for the delivery path.
func (b *Breaker) ForceState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(state)
	if state == StateOpen {
		b.nextRetryAt = time.Now().Add(b.settings.RecoveryTimeout)
	}
}

// Reset returns the breaker to closed with zeroed streaks. Lifetime
// counters are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.probing = false
	b.nextRetryAt = time.Time{}
	b.transitionLocked(StateClosed)
}
