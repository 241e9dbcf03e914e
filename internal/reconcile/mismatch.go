// Package reconcile periodically diffs local order and position state against
// the broker's authoritative view and repairs what it can.
package reconcile

import "fmt"

type MismatchKind string

const (
	// MissingLocal: the broker holds something the bot is not tracking.
	MissingLocal MismatchKind = "MISSING_IN_LOCAL"
	// MissingRemote: the bot tracks something the broker has no record of.
	MissingRemote MismatchKind = "MISSING_IN_BROKER"
	QuantityMismatch MismatchKind = "QUANTITY_MISMATCH"
	PriceMismatch    MismatchKind = "PRICE_MISMATCH"
	StatusMismatch   MismatchKind = "STATUS_MISMATCH"
)

// Mismatch is one finding of a reconciliation pass. It is emitted on the
// event bus and kept in a short ring for the status surface.
type Mismatch struct {
	Symbol string       `json:"symbol"`
	Kind   MismatchKind `json:"kind"`
	Local  string       `json:"local"`
	Broker string       `json:"broker"`
	Detail string       `json:"detail"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s %s local=%s broker=%s: %s", m.Kind, m.Symbol, m.Local, m.Broker, m.Detail)
}
