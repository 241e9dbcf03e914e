package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	OrderStateChanged      Category = "order_state_changed"
	OrderFilled            Category = "order_filled"
	OrderRejected          Category = "order_rejected"
	OrderTimeout           Category = "order_timeout"
	ReconciliationMismatch Category = "reconciliation_mismatch"
	ReconciliationCritical Category = "reconciliation_critical"
	BreakerOpen            Category = "circuit_breaker_open"
	BreakerHalfOpen        Category = "circuit_breaker_half_open"
	BreakerClosed          Category = "circuit_breaker_closed"
	BrokerDown             Category = "broker_down"
	BrokerRecovered        Category = "broker_recovered"
	SafeModeActivated      Category = "safe_mode_activated"
	SafeModeDeactivated    Category = "safe_mode_deactivated"
)

type Event struct {
	ID       string         `json:"id"`
	Category Category       `json:"category"`
	Symbol   string         `json:"symbol,omitempty"`
	OrderID  string         `json:"order_id,omitempty"`
	At       time.Time      `json:"at"`
	Fields   map[string]any `json:"fields,omitempty"`
}

func New(cat Category) Event {
	return Event{ID: uuid.NewString(), Category: cat, At: time.Now()}
}

// Bus is an explicit publish/subscribe channel. Subscribers register for the
// categories they care about and get a Subscription whose lifecycle they own;
// publishing never blocks, a full subscriber buffer drops the event and
// counts the drop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Category][]*Subscription
	dropped atomic.Uint64
}

type Subscription struct {
	C    <-chan Event
	ch   chan Event
	cats []Category
	bus  *Bus
	once sync.Once
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Category][]*Subscription)}
}

// Subscribe registers for the given categories. buffer must be > 0 so that a
// slow consumer stalls only itself.
func (b *Bus) Subscribe(buffer int, cats ...Category) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, cats: cats, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range cats {
		b.subs[c] = append(b.subs[c], sub)
	}
	return sub
}

// Close detaches the subscription and closes its channel. Safe to call twice.
// The channel is closed under the bus lock so no in-flight Publish can still
// be sending on it.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for _, c := range s.cats {
			list := s.bus.subs[c]
			for i, candidate := range list {
				if candidate == s {
					s.bus.subs[c] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		close(s.ch)
	})
}

// Publish fans the event out to every subscriber of its category without
// blocking the publisher. The read lock is held across the sends; they are
// non-blocking, and holding it keeps Close from closing a channel mid-send.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[ev.Category] {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events discarded because a subscriber buffer
// was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
