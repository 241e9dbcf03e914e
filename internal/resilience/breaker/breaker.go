// Package breaker implements a per-operation-class circuit breaker. Each
// remote call class (order placement, data fetch, broker connection) gets its
// own instance; instances never share counters.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/types"
)

// ErrOpen is returned without attempting the call while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "CLOSED"
}

// Classifier decides whether a failure counts toward tripping the breaker.
// The default counts network-class and unclassified failures; business
// rejections prove the broker is reachable and do not count.
type Classifier func(error) bool

func defaultClassifier(err error) bool {
	switch types.KindOf(err) {
	case types.KindBusiness, types.KindAuth:
		return false
	}
	return true
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	RollingWindow    time.Duration
	MinVolume        int
	Classifier       Classifier
}

func (c *Config) withDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = time.Minute
	}
	if c.MinVolume <= 0 {
		c.MinVolume = 5
	}
	if c.Classifier == nil {
		c.Classifier = defaultClassifier
	}
}

type sample struct {
	at time.Time
	ok bool
}

type Breaker struct {
	name string
	cfg  Config
	bus  *events.Bus
	now  func() time.Time

	mu          sync.Mutex
	state       State
	failures    int // decaying counter, success decrements
	hoSuccesses int
	hoInFlight  bool
	window      []sample
	openedAt    time.Time
	nextAttempt time.Time
}

func New(name string, cfg Config, bus *events.Bus) *Breaker {
	cfg.withDefaults()
	return &Breaker{name: name, cfg: cfg, bus: bus, now: time.Now}
}

// Execute runs op through the breaker. While open it fails fast with a typed
// exhaustion error; the first call after the open timeout is let through as a
// probe and moves the breaker to half-open.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Before(b.nextAttempt) {
			return types.NewBrokerError(types.KindExhausted, b.name, ErrOpen)
		}
		b.toHalfOpenLocked()
		b.hoInFlight = true
	case HalfOpen:
		// Only one probe at a time.
		if b.hoInFlight {
			return types.NewBrokerError(types.KindExhausted, b.name, ErrOpen)
		}
		b.hoInFlight = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == HalfOpen {
		b.hoInFlight = false
	}

	if err == nil {
		b.window = append(b.window, sample{at: now, ok: true})
		b.prune(now)
		switch b.state {
		case Closed:
			if b.failures > 0 {
				b.failures--
			}
		case HalfOpen:
			b.hoSuccesses++
			if b.hoSuccesses >= b.cfg.SuccessThreshold {
				b.toClosedLocked()
			}
		}
		return
	}

	if !b.cfg.Classifier(err) {
		return
	}

	b.window = append(b.window, sample{at: now, ok: false})
	b.prune(now)
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold && b.shouldTrip() {
			b.toOpenLocked(now)
		}
	case HalfOpen:
		// One failure during probing reopens immediately.
		b.toOpenLocked(now)
	}
}

// shouldTrip requires enough recent volume and an observed failure rate of at
// least 50% so a thin trickle of failures cannot open the breaker alone.
func (b *Breaker) shouldTrip() bool {
	if len(b.window) < b.cfg.MinVolume {
		return false
	}
	var failed int
	for _, s := range b.window {
		if !s.ok {
			failed++
		}
	}
	return failed*2 >= len(b.window)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.nextAttempt = now.Add(b.cfg.OpenTimeout)
	b.hoSuccesses = 0
	b.emit(events.BreakerOpen)
	logger.Warn(context.Background(), "Circuit breaker opened",
		"breaker", b.name,
		"failures", b.failures,
		"next_attempt", b.nextAttempt,
	)
}

func (b *Breaker) toHalfOpenLocked() {
	b.state = HalfOpen
	b.hoSuccesses = 0
	b.emit(events.BreakerHalfOpen)
	logger.Info(context.Background(), "Circuit breaker half-open", "breaker", b.name)
}

func (b *Breaker) toClosedLocked() {
	b.state = Closed
	b.failures = 0
	b.hoSuccesses = 0
	b.window = b.window[:0]
	b.emit(events.BreakerClosed)
	logger.Info(context.Background(), "Circuit breaker closed", "breaker", b.name)
}

func (b *Breaker) emit(cat events.Category) {
	if b.bus == nil {
		return
	}
	ev := events.New(cat)
	ev.Fields = map[string]any{"breaker": b.name, "state": b.state.String()}
	b.bus.Publish(ev)
}

// Snapshot is a point-in-time view for the status surface.
type Snapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	WindowSize  int       `json:"window_size"`
	FailureRate float64   `json:"failure_rate"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failed int
	for _, s := range b.window {
		if !s.ok {
			failed++
		}
	}
	rate := 0.0
	if len(b.window) > 0 {
		rate = float64(failed) / float64(len(b.window))
	}
	snap := Snapshot{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		WindowSize:  len(b.window),
		FailureRate: rate,
	}
	if b.state == Open {
		snap.NextAttempt = b.nextAttempt
	}
	return snap
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
