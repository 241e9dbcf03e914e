package orders

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/types"
)

type Config struct {
	// Timeout forces PENDING/SUBMITTED orders to EXPIRED when the broker
	// never answers.
	Timeout time.Duration
	// MaxRetry bounds FAILED→PENDING resubmissions per order.
	MaxRetry int
}

func (c *Config) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
}

// Registry is the sole owner of all order state records.
type Registry struct {
	cfg Config
	bus *events.Bus

	mu      sync.Mutex
	records map[string]*Record
	timers  map[string]*time.Timer
	entropy *rand.Rand
}

func NewRegistry(cfg Config, bus *events.Bus) *Registry {
	cfg.withDefaults()
	return &Registry{
		cfg:     cfg,
		bus:     bus,
		records: make(map[string]*Record),
		timers:  make(map[string]*time.Timer),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewLocalID generates a sortable local order id, used until the broker
// assigns its own.
func (r *Registry) NewLocalID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
}

// Track begins tracking an order. The record starts in CREATED unless the
// order already carries a later status (orders adopted from the broker during
// a full reconciliation pass).
func (r *Registry) Track(ctx context.Context, order types.Order) {
	state := order.Status
	if state == "" {
		state = types.StatusCreated
		order.Status = state
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[order.ID]; exists {
		logger.Warn(ctx, "Order already tracked", "order_id", order.ID)
		return
	}
	rec := &Record{
		Order:   order,
		State:   state,
		History: []Transition{{From: state, To: state, Reason: "tracked", At: time.Now()}},
	}
	r.records[order.ID] = rec
	r.scheduleTimeoutLocked(order.ID, state)
}

// Transition moves an order to a new state. A move not present in the table
// is refused: state and history stay untouched and the refusal is logged.
func (r *Registry) Transition(ctx context.Context, id string, to types.OrderStatus, reason string) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		logger.Warn(ctx, "Transition for unknown order", "order_id", id, "to", to)
		return false
	}

	from := rec.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		logger.Warn(ctx, "Transition refused",
			"order_id", id, "from", from, "to", to, "reason", reason,
		)
		return false
	}
	if from == types.StatusFailed && to == types.StatusPending {
		if rec.RetryCount >= r.cfg.MaxRetry {
			r.mu.Unlock()
			logger.Warn(ctx, "Order retry budget exhausted",
				"order_id", id, "retries", rec.RetryCount,
			)
			return false
		}
		rec.RetryCount++
	}

	rec.State = to
	rec.Order.Status = to
	rec.History = append(rec.History, Transition{From: from, To: to, Reason: reason, At: time.Now()})

	r.cancelTimeoutLocked(id)
	r.scheduleTimeoutLocked(id, to)

	var orphaned []string
	if to == types.StatusFilled || to == types.StatusCancelled {
		orphaned = r.openChildrenLocked(rec)
	}
	symbol := rec.Order.Symbol
	r.mu.Unlock()

	logger.Info(ctx, "Order state changed",
		"order_id", id, "symbol", symbol, "from", from, "to", to, "reason", reason,
	)
	r.emit(events.OrderStateChanged, id, symbol, map[string]any{
		"from": string(from), "to": string(to), "reason": reason,
	})
	switch to {
	case types.StatusFilled:
		r.emit(events.OrderFilled, id, symbol, nil)
	case types.StatusRejected:
		r.emit(events.OrderRejected, id, symbol, map[string]any{"reason": reason})
	}

	// Parent reached a terminal fill/cancel: close out its still-open
	// bracket legs so no orphaned exits stay live.
	for _, childID := range orphaned {
		r.Transition(ctx, childID, types.StatusCancelled, "parent terminal")
	}
	return true
}

func (r *Registry) openChildrenLocked(rec *Record) []string {
	var open []string
	for _, childID := range rec.ChildIDs {
		if child, ok := r.records[childID]; ok && !child.State.Terminal() {
			open = append(open, childID)
		}
	}
	return open
}

// scheduleTimeoutLocked arms the expiry timer when an order enters
// PENDING or SUBMITTED. This is what keeps an order from being lost forever
// when the broker never responds.
func (r *Registry) scheduleTimeoutLocked(id string, state types.OrderStatus) {
	if state != types.StatusPending && state != types.StatusSubmitted {
		return
	}
	r.timers[id] = time.AfterFunc(r.cfg.Timeout, func() {
		r.fireTimeout(id)
	})
}

func (r *Registry) cancelTimeoutLocked(id string) {
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
}

func (r *Registry) fireTimeout(id string) {
	ctx := context.Background()
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	state := rec.State
	r.mu.Unlock()

	// The timer may race a real transition; the table makes the losing
	// side a no-op.
	if state != types.StatusPending && state != types.StatusSubmitted {
		return
	}
	if r.Transition(ctx, id, types.StatusExpired, "order_timeout") {
		logger.Warn(ctx, "Order timed out", "order_id", id)
		r.emit(events.OrderTimeout, id, "", nil)
	}
}

// LinkChild registers a bracket exit leg under its entry order.
func (r *Registry) LinkChild(ctx context.Context, parentID, childID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.records[parentID]
	if !ok {
		logger.Warn(ctx, "Link to unknown parent order", "parent_id", parentID, "child_id", childID)
		return false
	}
	child, ok := r.records[childID]
	if !ok {
		logger.Warn(ctx, "Link of unknown child order", "parent_id", parentID, "child_id", childID)
		return false
	}
	parent.ChildIDs = append(parent.ChildIDs, childID)
	child.ParentID = parentID
	return true
}

// UpdateFill records fill progress, clamped so 0 ≤ filled ≤ qty always holds.
func (r *Registry) UpdateFill(id string, filledQty int, avgPrice float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	if filledQty < 0 {
		filledQty = 0
	}
	if filledQty > rec.Order.Qty {
		filledQty = rec.Order.Qty
	}
	rec.Order.FilledQty = filledQty
	if avgPrice > 0 {
		rec.Order.AvgFillPrice = avgPrice
	}
}

// RecordError attaches the last failure message to an order.
func (r *Registry) RecordError(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.ErrMsg = msg
	}
}

// Rebind re-keys a record from its local id to the broker-assigned id.
func (r *Registry) Rebind(localID, brokerID string) {
	if localID == brokerID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[localID]
	if !ok {
		return
	}
	delete(r.records, localID)
	rec.Order.ID = brokerID
	r.records[brokerID] = rec
	if timer, ok := r.timers[localID]; ok {
		delete(r.timers, localID)
		r.timers[brokerID] = timer
	}
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// NonTerminal returns copies of every record still in flight.
func (r *Registry) NonTerminal() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if !rec.State.Terminal() {
			out = append(out, rec.clone())
		}
	}
	return out
}

// All returns copies of every tracked record.
func (r *Registry) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}

// MarkMissed bumps the per-order counter of reconciliation cycles where the
// broker reported no such order, returning the new count.
func (r *Registry) MarkMissed(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return 0
	}
	rec.missedCycles++
	return rec.missedCycles
}

// ClearMissed resets the missing-at-broker counter once the order reappears.
func (r *Registry) ClearMissed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.missedCycles = 0
	}
}

// Drop stops tracking an order entirely (reconciliation gave up on it).
func (r *Registry) Drop(ctx context.Context, id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return
	}
	r.cancelTimeoutLocked(id)
	delete(r.records, id)
	logger.Warn(ctx, "Order dropped from tracking", "order_id", id, "reason", reason)
}

func (r *Registry) emit(cat events.Category, orderID, symbol string, fields map[string]any) {
	if r.bus == nil {
		return
	}
	ev := events.New(cat)
	ev.OrderID = orderID
	ev.Symbol = symbol
	ev.Fields = fields
	r.bus.Publish(ev)
}
