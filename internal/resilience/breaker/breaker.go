// Package breaker implements a sliding-window circuit breaker with a
// process-wide Factory keyed by string so adapters and the cache's T2
// tier each own an independent breaker instance.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
}

// Config configures a Breaker's trip conditions.
type Config struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	SlowCallDuration time.Duration `mapstructure:"slow_call_duration"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		FailureThreshold: 0.5,
		TimeWindow:       60 * time.Second,
		SlowCallDuration: 3 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Validate checks that config values make sense.
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return errors.New("max_failures must be positive")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return errors.New("failure_threshold must be between 0 and 1")
	}
	if c.TimeWindow <= 0 {
		return errors.New("time_window must be positive")
	}
	if c.SlowCallDuration <= 0 {
		return errors.New("slow_call_duration must be positive")
	}
	if c.HalfOpenMaxCalls <= 0 {
		return errors.New("half_open_max_calls must be positive")
	}
	return nil
}

// Breaker is a thread-safe sliding-window circuit breaker.
type Breaker struct {
	cfg    Config
	logger *slog.Logger
	key    string

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastStateChange time.Time
	lastFailure     time.Time
	halfOpenCalls   int
	results         []callResult
}

// New creates a Breaker for a single key.
func New(key string, cfg Config, logger *slog.Logger) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		key:             key,
		cfg:             cfg,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
		results:         make([]callResult, 0, 64),
	}, nil
}

// Call executes fn if the breaker allows it, recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	b.after(err, time.Since(start))
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastStateChange) >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	isSlow := duration >= b.cfg.SlowCallDuration
	isSuccess := err == nil && !isSlow

	now := time.Now()
	b.results = append(b.results, callResult{timestamp: now, success: isSuccess})
	b.cleanOld()

	if isSuccess {
		b.consecutiveFail = 0
	} else {
		b.consecutiveFail++
		b.lastFailure = now
	}

	switch b.state {
	case StateClosed:
		if b.shouldOpen() {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if isSuccess {
			b.transitionTo(StateClosed)
		} else {
			b.transitionTo(StateOpen)
		}
	}
}

func (b *Breaker) shouldOpen() bool {
	if len(b.results) < b.cfg.MaxFailures {
		return false
	}
	if b.consecutiveFail >= b.cfg.MaxFailures {
		return true
	}
	failures := 0
	for _, r := range b.results {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(b.results)) >= b.cfg.FailureThreshold
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.halfOpenCalls = 0
	if to == StateClosed {
		b.consecutiveFail = 0
		b.results = b.results[:0]
	}
	b.logger.Info("circuit breaker transition",
		"key", b.key, "from", from.String(), "to", to.String())
}

// cleanOld drops results outside the sliding window. Must be called with mu held.
func (b *Breaker) cleanOld() {
	cutoff := time.Now().Add(-b.cfg.TimeWindow)
	firstValid := len(b.results)
	for i, r := range b.results {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	b.results = b.results[firstValid:]
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed, for tests and manual intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.results = b.results[:0]
	b.lastStateChange = time.Now()
}
