// Package orders tracks the lifecycle of every order the bot knows about.
// The transition table is explicit and total: anything not listed is refused.
package orders

import (
	"time"

	"intraday-trading-bot/internal/types"
)

// Transition is one entry in an order's lifecycle history.
type Transition struct {
	From   types.OrderStatus `json:"from"`
	To     types.OrderStatus `json:"to"`
	Reason string            `json:"reason"`
	At     time.Time         `json:"at"`
}

// Record wraps an order with its lifecycle state. Records are owned
// exclusively by the Registry; accessors hand out copies, never the original.
type Record struct {
	Order      types.Order       `json:"order"`
	State      types.OrderStatus `json:"state"`
	History    []Transition      `json:"history"`
	RetryCount int               `json:"retry_count"`
	ParentID   string            `json:"parent_id,omitempty"`
	ChildIDs   []string          `json:"child_ids,omitempty"`
	ErrMsg     string            `json:"error,omitempty"`
	// missedCycles counts reconciliation passes where the broker had no
	// record of this order.
	missedCycles int
}

func (r *Record) clone() Record {
	cp := *r
	cp.History = append([]Transition(nil), r.History...)
	cp.ChildIDs = append([]string(nil), r.ChildIDs...)
	return cp
}

// transitions is the full table of allowed moves. Terminal states (FILLED,
// CANCELLED, REJECTED, EXPIRED) have no outgoing edges. FAILED may go back to
// PENDING for a bounded retry.
var transitions = map[types.OrderStatus][]types.OrderStatus{
	types.StatusCreated: {types.StatusPending},
	types.StatusPending: {
		types.StatusSubmitted,
		types.StatusFailed,
		types.StatusExpired,
		types.StatusCancelled,
	},
	types.StatusSubmitted: {
		types.StatusAcknowledged,
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusRejected,
		types.StatusFailed,
		types.StatusExpired,
		types.StatusCancelled,
	},
	types.StatusAcknowledged: {
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
		types.StatusRejected,
	},
	types.StatusPartiallyFilled: {
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
	},
	types.StatusFailed: {types.StatusPending},
	// Terminal states: no entries.
	types.StatusFilled:    {},
	types.StatusCancelled: {},
	types.StatusRejected:  {},
	types.StatusExpired:   {},
}

// CanTransition reports whether from→to is in the table.
func CanTransition(from, to types.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
