// Package circuit stops calling a provider after repeated failures and lets
// a trial request through once a cool-down has passed.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State of a breaker.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "CLOSED", Open: "OPEN", HalfOpen: "HALF_OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Config controls when a breaker trips and recovers.
type Config struct {
	FailureThreshold int           `koanf:"failure_threshold" yaml:"failure_threshold" validate:"min=1"`
	SuccessThreshold int           `koanf:"success_threshold" yaml:"success_threshold" validate:"min=1"`
	Timeout          time.Duration `koanf:"timeout" yaml:"timeout"`
}

// DefaultConfig trips after five straight failures and retries after 30s.
//
//nolint:gochecknoglobals // default value
var DefaultConfig = Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}

// ErrOpen is matched by every rejection from an open breaker.
var ErrOpen = errors.New("circuit breaker open")

// Error rejects a request without reaching the provider.
type Error struct {
	State State
}

func (e *Error) Error() string { return fmt.Sprintf("circuit breaker is %s", e.State) }

func (e *Error) Unwrap() error { return ErrOpen }

// Breaker is shared by every client of one provider.
type Breaker interface {
	Allow() bool
	Record(success bool)
	Current() State
}

type breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New returns a closed breaker.
func New(cfg Config) Breaker {
	return &breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a request may go out. An OPEN breaker whose
// cool-down has elapsed moves to HALF_OPEN and admits the request.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cfg.Timeout {
		return false
	}
	b.state, b.successes = HalfOpen, 0
	return true
}

func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.state, b.openedAt = Open, b.now()
		}
		return
	}
	b.failures = 0
	if b.state == HalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
		}
	}
}

func (b *breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
