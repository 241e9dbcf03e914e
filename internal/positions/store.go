// Package positions holds the bot's local view of open positions. The broker
// remains the authority; reconciliation corrects this store toward it.
package positions

import (
	"sync"

	"intraday-trading-bot/internal/types"
)

type Store struct {
	mu        sync.RWMutex
	positions map[string]types.Position
}

func NewStore() *Store {
	return &Store{positions: make(map[string]types.Position)}
}

func (s *Store) Get(symbol string) (types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// Set replaces the position for a symbol outright. Used when adopting the
// broker's view during reconciliation.
func (s *Store) Set(p types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Qty == 0 {
		delete(s.positions, p.Symbol)
		return
	}
	s.positions[p.Symbol] = p
}

// ApplyFill folds an execution into the local view: buys recompute the
// average entry price, sells reduce and close the position at zero.
func (s *Store) ApplyFill(symbol string, side types.Side, qty int, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.positions[symbol]
	p.Symbol = symbol
	if side == types.SideBuy {
		total := p.AvgPrice*float64(p.Qty) + price*float64(qty)
		p.Qty += qty
		if p.Qty > 0 {
			p.AvgPrice = total / float64(p.Qty)
		}
	} else {
		p.Qty -= qty
	}
	if p.Qty <= 0 {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = p
}

func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
}

func (s *Store) All() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}
