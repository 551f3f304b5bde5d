// Package resilience provides the retry and circuit-breaker primitives the
// notification service's outbound edges (trainee directory, mail gateway)
// are wrapped with.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed means the circuit is closed and requests can pass through.
	StateClosed State = iota
	// StateOpen means the circuit is open and requests are blocked.
	StateOpen
	// StateHalfOpen means the circuit is testing if requests can pass through.
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

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the name of the circuit breaker.
	Name string

	// MaxRequests is the maximum number of requests allowed to pass
	// when the circuit is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state. Default: 0 (disabled)
	// The circuit breaker clears the internal counts at the end of each interval.
	Interval time.Duration

	// Timeout is the duration of the open state before transitioning to half-open. Default: 60s
	Timeout time.Duration

	// FailureThreshold is the number of failures before the circuit opens. Default: 5
	FailureThreshold uint32

	// SuccessThreshold is the number of successes in half-open state before closing. Default: 1
	SuccessThreshold uint32

	// FailureRatio is the failure ratio threshold (failures/total) to open. Default: 0.5
	// Only used if MinRequests is met.
	FailureRatio float64

	// MinRequests is the minimum number of requests before failure ratio is considered. Default: 10
	MinRequests uint32

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from State, to State)

	// IsSuccessful determines if an error should be considered a success.
	// By default, any non-nil error is a failure.
	IsSuccessful func(err error) bool
}

// DefaultCircuitBreakerConfig returns a default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "default",
		MaxRequests:      1,
		Timeout:          60 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// Counts holds request counts for the circuit breaker.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) onRequest() {
	c.Requests++
}

func (c *Counts) clear() {
	*c = Counts{}
}

// FailureRatio returns the failure ratio.
func (c *Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState returns the current state (must be called with lock held).
func (cb *CircuitBreaker) currentState() State {
	now := time.Now()

	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 && !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration()
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen)
		}
	}

	return cb.state
}

// Execute executes a function within the circuit breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// ExecuteContext executes a function within the circuit breaker with context.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		cb.afterRequest(ctx.Err())
		return ctx.Err()
	case err := <-done:
		cb.afterRequest(err)
		return err
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		cb.counts.onRequest()
		return nil
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.config.MaxRequests {
			return ErrCircuitOpen
		}
		cb.counts.onRequest()
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.IsSuccessful(err) {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.counts.onSuccess()

	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.counts.onFailure()

	switch cb.state {
	case StateClosed:
		if cb.shouldTrip() {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
		return true
	}
	if cb.config.MinRequests > 0 && cb.counts.Requests >= cb.config.MinRequests {
		if cb.counts.FailureRatio() >= cb.config.FailureRatio {
			return true
		}
	}
	return false
}

// setState changes the circuit breaker state (must be called with lock held).
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	cb.toNewGeneration()

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, prev, state)
	}
}

// toNewGeneration resets counts for a new generation.
func (cb *CircuitBreaker) toNewGeneration() {
	cb.counts.clear()

	var expiry time.Time
	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 {
			expiry = time.Now().Add(cb.config.Interval)
		}
	case StateOpen:
		expiry = time.Now().Add(cb.config.Timeout)
	}
	cb.expiry = expiry
}

// Counts returns a copy of the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}
