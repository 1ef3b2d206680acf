// Package ratelimit protects quota-limited external services with a
// per-(owner, service) token bucket and circuit breaker.
//
// Call sites must Acquire before making the protected call and report the
// call's result via ReportOutcome. All state is process-local; deployments
// running more than one instance do not share limiter state (see the
// repository design notes).
package ratelimit

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Outcome classifies the result of a protected external call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited is an explicit rate-limit signal (HTTP 429).
	OutcomeRateLimited
	// OutcomeQuotaExceeded is a quota signal (HTTP 403).
	OutcomeQuotaExceeded
	// OutcomeServerError is a dependency fault (HTTP 5xx).
	OutcomeServerError
	// OutcomeFailure is any other failure. It trips the circuit breaker but
	// does not extend the backoff floor.
	OutcomeFailure
)

// CircuitState is the breaker state for one key.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Config holds limiter tuning for one service.
//
// Capacity and RefillPerSecond should be configured below the true external
// quota (80% is a reasonable default) to leave burst headroom for other
// processes sharing the same upstream account.
type Config struct {
	Capacity        float64
	RefillPerSecond float64

	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects before admitting a trial.
	Cooldown time.Duration

	// BackoffBase seeds the backoff floor on the first limit/quota/5xx signal.
	BackoffBase time.Duration
	// BackoffMax caps the backoff floor.
	BackoffMax time.Duration
	// JitterFraction adds up to this fraction of the floor as random jitter.
	JitterFraction float64
}

// DefaultConfig returns the default limiter tuning.
func DefaultConfig() Config {
	return Config{
		Capacity:         10,
		RefillPerSecond:  1,
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
		BackoffBase:      time.Second,
		BackoffMax:       60 * time.Second,
		JitterFraction:   0.1,
	}
}

type key struct {
	ownerID string
	service string
}

// state is the per-key bucket and breaker. Guarded by Limiter.mu.
type state struct {
	tokens     float64
	lastRefill time.Time

	nextAllowedAt time.Time
	backoff       time.Duration

	consecutiveFailures int
	circuit             CircuitState
	circuitOpenedAt     time.Time
	trialInFlight       bool

	lastSeen time.Time
}

// Snapshot is a read-only view of one key's state, for monitoring and tests.
type Snapshot struct {
	Tokens              float64
	NextAllowedAt       time.Time
	ConsecutiveFailures int
	Circuit             CircuitState
	CircuitOpenedAt     time.Time
}

// Limiter is the per-(owner, service) token bucket + circuit breaker.
// All methods are safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	defaults Config
	services map[string]Config
	states   map[key]*state

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option interface {
	ApplyLimiter(*Limiter)
}

type optionFunc func(*Limiter)

func (f optionFunc) ApplyLimiter(l *Limiter) { f(l) }

// WithServiceConfig overrides tuning for one service name.
func WithServiceConfig(service string, cfg Config) Option {
	return optionFunc(func(l *Limiter) {
		l.services[service] = cfg
	})
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	})
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	})
}

// New creates a limiter with the given default tuning.
func New(defaults Config, opts ...Option) *Limiter {
	l := &Limiter{
		defaults: defaults,
		services: make(map[string]Config),
		states:   make(map[key]*state),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.ApplyLimiter(l)
	}
	return l
}

func (l *Limiter) configFor(service string) Config {
	if cfg, ok := l.services[service]; ok {
		return cfg
	}
	return l.defaults
}

func (l *Limiter) stateFor(k key, cfg Config, now time.Time) *state {
	s, ok := l.states[k]
	if !ok {
		s = &state{
			tokens:     cfg.Capacity,
			lastRefill: now,
			circuit:    CircuitClosed,
		}
		l.states[k] = s
	}
	return s
}

// Acquire consumes cost tokens for the key, or rejects with a typed error.
// It must be called before every protected external call.
func (l *Limiter) Acquire(ownerID, service string, cost float64) error {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cfg := l.configFor(service)
	s := l.stateFor(key{ownerID, service}, cfg, now)
	s.lastSeen = now

	switch s.circuit {
	case CircuitOpen:
		reopenAt := s.circuitOpenedAt.Add(cfg.Cooldown)
		if now.Before(reopenAt) {
			return &CircuitOpenError{RetryAfter: reopenAt.Sub(now)}
		}
		// Cooldown elapsed: admit exactly one trial request.
		s.circuit = CircuitHalfOpen
		s.trialInFlight = true
		return nil
	case CircuitHalfOpen:
		if s.trialInFlight {
			return &CircuitOpenError{RetryAfter: cfg.Cooldown}
		}
		s.trialInFlight = true
		return nil
	}

	if now.Before(s.nextAllowedAt) {
		return &ThrottledError{RetryAfter: s.nextAllowedAt.Sub(now)}
	}

	// Refill based on elapsed time, capped at capacity.
	elapsed := now.Sub(s.lastRefill).Seconds()
	s.tokens += elapsed * cfg.RefillPerSecond
	if s.tokens > cfg.Capacity {
		s.tokens = cfg.Capacity
	}
	s.lastRefill = now

	if s.tokens < cost {
		wait := time.Duration((cost - s.tokens) / cfg.RefillPerSecond * float64(time.Second))
		return &ThrottledError{RetryAfter: wait}
	}

	s.tokens -= cost
	return nil
}

// ReportOutcome records the result of a protected call made after a
// successful Acquire. Limit and quota signals extend the backoff floor;
// any failure advances the circuit breaker.
func (l *Limiter) ReportOutcome(ownerID, service string, outcome Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cfg := l.configFor(service)
	s := l.stateFor(key{ownerID, service}, cfg, now)
	s.lastSeen = now

	if outcome == OutcomeSuccess {
		s.consecutiveFailures = 0
		s.backoff = 0
		s.nextAllowedAt = time.Time{}
		if s.circuit == CircuitHalfOpen {
			s.circuit = CircuitClosed
			s.trialInFlight = false
			l.logger.Info("circuit closed", "owner_id", ownerID, "service", service)
		}
		return
	}

	s.consecutiveFailures++

	if mult := backoffMultiplier(outcome); mult > 0 {
		l.extendBackoff(s, cfg, now, mult)
	}

	if s.circuit == CircuitHalfOpen {
		// Trial failed: reopen and restart the cooldown.
		s.circuit = CircuitOpen
		s.circuitOpenedAt = now
		s.trialInFlight = false
		l.logger.Warn("circuit reopened", "owner_id", ownerID, "service", service)
		return
	}

	if s.circuit == CircuitClosed && s.consecutiveFailures >= cfg.FailureThreshold {
		s.circuit = CircuitOpen
		s.circuitOpenedAt = now
		l.logger.Warn("circuit opened",
			"owner_id", ownerID, "service", service,
			"consecutive_failures", s.consecutiveFailures)
	}
}

// backoffMultiplier maps failure classes to floor growth. Plain failures
// return 0: they count toward the breaker but do not push the floor.
func backoffMultiplier(outcome Outcome) float64 {
	switch outcome {
	case OutcomeRateLimited:
		return 2
	case OutcomeQuotaExceeded:
		return 3
	case OutcomeServerError:
		return 1.5
	default:
		return 0
	}
}

func (l *Limiter) extendBackoff(s *state, cfg Config, now time.Time, mult float64) {
	if s.backoff <= 0 {
		s.backoff = cfg.BackoffBase
	}
	s.backoff = time.Duration(float64(s.backoff) * mult)
	if s.backoff > cfg.BackoffMax {
		s.backoff = cfg.BackoffMax
	}

	// Additive jitter only, so repeated signals always push the floor forward.
	jitter := time.Duration(rand.Float64() * cfg.JitterFraction * float64(s.backoff))
	s.nextAllowedAt = now.Add(s.backoff + jitter)
}

// State returns a read-only snapshot for one key, or false if the key has
// never been seen.
func (l *Limiter) State(ownerID, service string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.states[key{ownerID, service}]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Tokens:              s.tokens,
		NextAllowedAt:       s.nextAllowedAt,
		ConsecutiveFailures: s.consecutiveFailures,
		Circuit:             s.circuit,
		CircuitOpenedAt:     s.circuitOpenedAt,
	}, true
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}
