package orders

import (
	"testing"

	"pgregory.net/rapid"

	"intraday-trading-bot/internal/types"
)

var allStatuses = []types.OrderStatus{
	types.StatusCreated, types.StatusPending, types.StatusSubmitted,
	types.StatusAcknowledged, types.StatusPartiallyFilled, types.StatusFilled,
	types.StatusCancelled, types.StatusRejected, types.StatusFailed,
	types.StatusExpired,
}

func TestTransitionTableInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStatuses).Draw(t, "from")
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")

		if !CanTransition(from, to) {
			return
		}
		if from.Terminal() {
			t.Fatalf("terminal %s has outgoing edge to %s", from, to)
		}
		if to == types.StatusCreated {
			t.Fatalf("%s re-enters CREATED", from)
		}
		if from == to && from != types.StatusPartiallyFilled {
			t.Fatalf("self-loop on %s", from)
		}
	})
}

func TestUnknownStatusHasNoEdges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bogus := types.OrderStatus(rapid.StringMatching(`[A-Z_]{1,20}`).Draw(t, "status"))
		for _, s := range allStatuses {
			if bogus == s {
				return
			}
		}
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")
		if CanTransition(bogus, to) {
			t.Fatalf("unknown status %q must have no outgoing edges", bogus)
		}
	})
}
