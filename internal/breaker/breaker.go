// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package breaker implements the per-source circuit breaker that keeps one
// failing external system from dragging down every integration request.
//
// A Breaker starts CLOSED. Failures inside the monitoring window are counted
// and, once FailureThreshold is reached, the breaker opens and rejects calls
// with ErrCircuitOpen without touching the source. After ResetTimeout the
// next call is let through as a HALF_OPEN trial: success closes the breaker,
// failure re-opens it.
//
//	b := breaker.New("notion", breaker.DefaultConfig())
//	contacts, err := breaker.Execute(ctx, b, func(ctx context.Context) ([]models.Contact, error) {
//	    return adapter.GetContacts(ctx, filter)
//	})
//	if errors.Is(err, breaker.ErrCircuitOpen) {
//	    // the source was not called
//	}
package breaker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/metrics"
)

// State is the breaker state. The values match gobreaker.State.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState accepts closed, open and half-open (or half_open).
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "closed":
		return StateClosed, nil
	case "half-open", "halfopen":
		return StateHalfOpen, nil
	case "open":
		return StateOpen, nil
	}
	return StateClosed, fmt.Errorf("unknown circuit breaker state %q", s)
}

// ErrCircuitOpen is returned (wrapped in *OpenError) when a call is rejected
// without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError describes a rejected call.
type OpenError struct {
	Name string
	// RetryAfter is the time left until the breaker will admit a trial call.
	// Zero when the breaker is half-open and all trial slots are taken.
	RetryAfter time.Duration

	err error
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker %s is open (retry in %s)", e.Name, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker %s is open", e.Name)
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Unwrap exposes gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests.
func (e *OpenError) Unwrap() error { return e.err }

// Config tunes a Breaker.
type Config struct {
	// FailureThreshold failures inside MonitoringWindow open the breaker.
	FailureThreshold int `koanf:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before admitting a trial call.
	ResetTimeout time.Duration `koanf:"reset_timeout"`

	// MonitoringWindow bounds how far back failures are counted. The window
	// rolls in tenths.
	MonitoringWindow time.Duration `koanf:"monitoring_window"`

	// HalfOpenMaxCalls is the number of concurrent trial calls allowed while half-open.
	HalfOpenMaxCalls int `koanf:"half_open_max_calls"`

	// HealthCheckInterval is how often the Monitor probes open breakers. Zero disables probing.
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        60 * time.Second,
		MonitoringWindow:    5 * time.Minute,
		HalfOpenMaxCalls:    3,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	FailureCount      int       `json:"failureCount"`
	SuccessCount      int64     `json:"successCount"`
	TotalFailures     int64     `json:"totalFailures"`
	RejectedCalls     int64     `json:"rejectedCalls"`
	ExcludedCalls     int64     `json:"excludedCalls"`
	HalfOpenCallCount int       `json:"halfOpenCallCount"`
	LastFailureTime   time.Time `json:"lastFailureTime"`
	LastSuccessTime   time.Time `json:"lastSuccessTime"`
	StateChangedAt    time.Time `json:"stateChangedAt"`
	FailureRate       float64   `json:"failureRate"`
}

// windowBuckets is the number of rolling buckets in the monitoring window.
const windowBuckets = 10

// errTrip is fed to a fresh inner breaker to open it.
var errTrip = errors.New("forced trip")

// Option customises a Breaker.
type Option func(*Breaker)

// WithHealthCheck installs the probe used by Probe and Monitor to move an
// open breaker to half-open without waiting for traffic.
func WithHealthCheck(check func(ctx context.Context) bool) Option {
	return func(b *Breaker) { b.healthCheck = check }
}

// WithStateChangeHook is called after every transition. It may run while
// the inner breaker is locked and must not call back into the Breaker.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithExclusion marks errors that count as neither success nor failure,
// such as a local rate limiter refusing to send the request.
func WithExclusion(excluded func(error) bool) Option {
	return func(b *Breaker) { b.excluded = excluded }
}

// Breaker guards calls to one source. Safe for concurrent use.
//
// The state machine is a gobreaker.TwoStepCircuitBreaker. Breaker adds
// operator overrides, health probing, lifetime counters, and closes on the
// first half-open success. Overrides replace the inner breaker.
type Breaker struct {
	name          string
	cfg           Config
	healthCheck   func(ctx context.Context) bool
	onStateChange func(name string, from, to State)
	excluded      func(error) bool

	// mu serialises inner breaker replacement. Lock order: mu, then the
	// inner breaker, then smu.
	mu    sync.Mutex
	cb    *gobreaker.TwoStepCircuitBreaker[struct{}]
	quick bool // cb was built to enter half-open immediately

	smu            sync.Mutex
	generation     uint64
	state          State
	stateChangedAt time.Time
	successCount   int64
	totalFailures  int64
	rejected       int64
	excludedCalls  int64
	lastFailure    time.Time
	lastSuccess    time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.mu.Lock()
	b.installLocked(StateClosed)
	b.mu.Unlock()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(StateClosed))
	return b
}

// Name returns the breaker name (the source it guards).
func (b *Breaker) Name() string { return b.name }

// Execute runs op through the breaker. A rejected call returns an *OpenError
// matching ErrCircuitOpen; otherwise op's own error is returned unchanged.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cb, quick := b.inner()
	trial := cb.State() == gobreaker.StateHalfOpen

	done, err := cb.Allow()
	if err != nil {
		return zero, b.reject(err)
	}

	defer func() {
		if e := recover(); e != nil {
			done(fmt.Errorf("panic: %v", e))
			panic(e)
		}
	}()

	result, err := op(ctx)
	done(err)
	b.record(cb, quick, trial, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Do is Execute for operations without a result.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (b *Breaker) inner() (*gobreaker.TwoStepCircuitBreaker[struct{}], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb, b.quick
}

func (b *Breaker) settings(gen uint64, timeout time.Duration) gobreaker.Settings {
	threshold := uint32(b.cfg.FailureThreshold)
	return gobreaker.Settings{
		Name:         b.name,
		MaxRequests:  uint32(b.cfg.HalfOpenMaxCalls),
		Interval:     b.cfg.MonitoringWindow,
		BucketPeriod: b.cfg.MonitoringWindow / windowBuckets,
		Timeout:      timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.changed(gen, State(from), State(to))
		},
		IsExcluded: b.isExcluded,
	}
}

func (b *Breaker) isExcluded(err error) bool {
	return err != nil && b.excluded != nil && b.excluded(err)
}

// installLocked replaces the inner breaker with one starting in state.
// Transitions of the new breaker while it is being tripped are not announced.
// Must hold mu.
func (b *Breaker) installLocked(state State) {
	b.smu.Lock()
	b.generation++ // silences the old inner breaker
	gen := b.generation + 1
	b.smu.Unlock()

	timeout := b.cfg.ResetTimeout
	if state == StateHalfOpen {
		timeout = time.Nanosecond
	}
	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](b.settings(gen, timeout))
	if state != StateClosed {
		for i := 0; i < b.cfg.FailureThreshold && cb.State() == gobreaker.StateClosed; i++ {
			done, err := cb.Allow()
			if err != nil {
				break
			}
			done(errTrip)
		}
	}
	if state == StateHalfOpen {
		for cb.State() == gobreaker.StateOpen {
			runtime.Gosched()
		}
	}

	b.smu.Lock()
	b.generation = gen
	from := b.state
	b.state = state
	b.stateChangedAt = time.Now()
	b.smu.Unlock()

	b.cb = cb
	b.quick = state == StateHalfOpen
	if from != state {
		b.announce(from, state)
	}
}

// changed is the gobreaker state change callback.
func (b *Breaker) changed(gen uint64, from, to State) {
	b.smu.Lock()
	if gen != b.generation || b.state == to {
		b.smu.Unlock()
		return
	}
	from = b.state
	b.state = to
	b.stateChangedAt = time.Now()
	b.smu.Unlock()

	b.announce(from, to)
}

func (b *Breaker) reject(err error) error {
	b.smu.Lock()
	b.rejected++
	var retry time.Duration
	if errors.Is(err, gobreaker.ErrOpenState) {
		retry = max(b.cfg.ResetTimeout-time.Since(b.stateChangedAt), 0)
	}
	b.smu.Unlock()

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	return &OpenError{Name: b.name, RetryAfter: retry, err: err}
}

// record updates the lifetime counters once gobreaker has seen the outcome.
// A half-open success closes the breaker even when gobreaker still wants
// more trial successes, and a failed quick breaker is swapped for one that
// waits out ResetTimeout.
func (b *Breaker) record(cb *gobreaker.TwoStepCircuitBreaker[struct{}], quick, trial bool, err error) {
	now := time.Now()
	switch {
	case b.isExcluded(err):
		b.smu.Lock()
		b.excludedCalls++
		b.smu.Unlock()
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "excluded").Inc()
		return

	case err != nil:
		b.smu.Lock()
		b.totalFailures++
		b.lastFailure = now
		b.smu.Unlock()
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		metrics.CircuitBreakerWindowFailures.WithLabelValues(b.name).Set(float64(cb.Counts().TotalFailures))
		if quick && trial {
			b.replace(cb, StateOpen, func() bool { return true })
		}

	default:
		b.smu.Lock()
		b.successCount++
		b.lastSuccess = now
		b.smu.Unlock()
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		if trial {
			b.replace(cb, StateClosed, func() bool {
				return quick || cb.State() == gobreaker.StateHalfOpen
			})
		}
	}
}

// replace installs a new inner breaker if cb is still current and cond holds.
func (b *Breaker) replace(cb *gobreaker.TwoStepCircuitBreaker[struct{}], state State, cond func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cb != cb || !cond() {
		return
	}
	b.installLocked(state)
	if state == StateClosed {
		metrics.CircuitBreakerWindowFailures.WithLabelValues(b.name).Set(0)
	}
}

func (b *Breaker) announce(from, to State) {
	logging.Info().
		Str("breaker", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("[CIRCUIT BREAKER] State transition")

	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(stateToFloat(to))
	metrics.CircuitBreakerTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State returns the last recorded state. An open breaker whose reset
// timeout has elapsed stays open until the next call.
func (b *Breaker) State() State {
	b.smu.Lock()
	defer b.smu.Unlock()
	return b.state
}

// Stats returns a snapshot.
func (b *Breaker) Stats() Stats {
	cb, _ := b.inner()
	if b.State() == StateClosed {
		cb.State() // rolls the monitoring window forward
	}
	counts := cb.Counts()

	b.smu.Lock()
	defer b.smu.Unlock()
	stats := Stats{
		Name:            b.name,
		State:           b.state,
		FailureCount:    int(counts.TotalFailures),
		SuccessCount:    b.successCount,
		TotalFailures:   b.totalFailures,
		RejectedCalls:   b.rejected,
		ExcludedCalls:   b.excludedCalls,
		LastFailureTime: b.lastFailure,
		LastSuccessTime: b.lastSuccess,
		StateChangedAt:  b.stateChangedAt,
		FailureRate:     b.failureRateLocked(),
	}
	if b.state == StateHalfOpen {
		stats.HalfOpenCallCount = int(counts.Requests - counts.TotalExclusions)
	}
	return stats
}

// FailureRate is failures / (failures + successes) over the breaker's lifetime
// (or since the last Reset). Zero before any call completes.
func (b *Breaker) FailureRate() float64 {
	b.smu.Lock()
	defer b.smu.Unlock()
	return b.failureRateLocked()
}

func (b *Breaker) failureRateLocked() float64 {
	total := b.totalFailures + b.successCount
	if total == 0 {
		return 0
	}
	return float64(b.totalFailures) / float64(total)
}

// IsCallAllowed reports whether a call made now would be attempted.
// It does not change state or reserve a trial slot.
func (b *Breaker) IsCallAllowed() bool {
	cb, _ := b.inner()
	counts := cb.Counts()

	b.smu.Lock()
	defer b.smu.Unlock()
	switch b.state {
	case StateOpen:
		return time.Since(b.stateChangedAt) >= b.cfg.ResetTimeout
	case StateHalfOpen:
		return counts.Requests-counts.TotalExclusions < uint32(b.cfg.HalfOpenMaxCalls)
	default:
		return true
	}
}

// ForceState is an operator override. The breaker restarts in the given
// state with an empty failure window.
func (b *Breaker) ForceState(to State) {
	b.mu.Lock()
	b.installLocked(to)
	b.mu.Unlock()
	logging.Warn().Str("breaker", b.name).Str("state", to.String()).Msg("[CIRCUIT BREAKER] State forced")
}

// Reset returns the breaker to a fresh CLOSED state with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.installLocked(StateClosed)
	b.mu.Unlock()

	b.smu.Lock()
	b.successCount, b.totalFailures, b.rejected, b.excludedCalls = 0, 0, 0, 0
	b.lastFailure, b.lastSuccess = time.Time{}, time.Time{}
	b.smu.Unlock()

	metrics.CircuitBreakerWindowFailures.WithLabelValues(b.name).Set(0)
}

// Probe runs the health check when the breaker is open and moves it to
// half-open if the source reports healthy. Reports whether a transition happened.
func (b *Breaker) Probe(ctx context.Context) bool {
	if b.healthCheck == nil || b.State() != StateOpen {
		return false
	}
	if !b.healthCheck(ctx) {
		logging.Debug().Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Health check failed, staying open")
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() != StateOpen {
		return false
	}
	b.installLocked(StateHalfOpen)
	return true
}

// stateToFloat converts state to the gauge value (0=closed, 1=half-open, 2=open).
func stateToFloat(s State) float64 {
	return float64(s)
}
