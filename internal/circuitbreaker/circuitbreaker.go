// Package circuitbreaker wraps broker reads and writes with a
// Closed/Open/HalfOpen breaker so a flapping broker connection fails fast
// instead of blocking every stage worker on every call.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is one of Closed, Open, or HalfOpen.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is Open and fast-failing.
var ErrOpen = errors.New("circuitbreaker: open, fast-fail")

// Config holds the breaker's tunables.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultConfig returns sane defaults for broker I/O: five consecutive
// failures trips the breaker, a thirty second cool-down before probing.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// Breaker guards an operation behind Closed/Open/HalfOpen state.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

// New builds a Breaker named for logging purposes.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, state: Closed}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op, tracking failures and tripping the breaker Open once
// cfg.MaxFailures consecutive failures have been observed. While Open it
// fast-fails with ErrOpen until cfg.ResetTimeout elapses, at which point a
// single HalfOpen probe call is allowed through.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case HalfOpen:
		b.mu.Unlock()
		return ErrOpen
	case Open:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.mu.Unlock()
		b.logger.Info("breaker_probe_start", slog.String("name", b.name))
	default:
		b.mu.Unlock()
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)

	b.mu.Lock()
	isOpen := b.state == Open
	b.mu.Unlock()
	if isOpen {
		return ErrOpen
	}
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.logger.Info("breaker_closed", slog.String("name", b.name), slog.String("from", b.state.String()))
	}
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("breaker_operation_failed", slog.String("name", b.name), slog.Int("recentFails", b.recentFails), slog.Any("err", err))
	if b.recentFails >= b.cfg.MaxFailures {
		b.state = Open
		b.openedAt = time.Now()
		b.logger.Error("breaker_opened", slog.String("name", b.name), slog.Int("maxFailures", b.cfg.MaxFailures))
	}
}
