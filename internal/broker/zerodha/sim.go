package zerodha

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"intraday-trading-bot/internal/types"
)

// sim is the DRY_RUN book: orders are acknowledged immediately and fill at
// the simulated price after a short delay, so the execution layer sees the
// same lifecycle shapes it would against the real broker.
type sim struct {
	mu        sync.Mutex
	seq       int64
	cash      float64
	fillAfter time.Duration
	orders    map[string]types.Order
	positions map[string]types.Position
	prices    map[string]float64
	rng       *rand.Rand
}

func newSim() *sim {
	return &sim{
		cash:      1_000_000,
		fillAfter: 500 * time.Millisecond,
		orders:    make(map[string]types.Order),
		positions: make(map[string]types.Position),
		prices:    make(map[string]float64),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *sim) ltp(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ltpLocked(symbol)
}

// ltpLocked random-walks the per-symbol price so repeated polls look alive.
func (s *sim) ltpLocked(symbol string) float64 {
	p, ok := s.prices[symbol]
	if !ok {
		p = 1000 + s.rng.Float64()*100
	}
	p += (s.rng.Float64() - 0.5) * 2
	if p < 1 {
		p = 1
	}
	s.prices[symbol] = p
	return p
}

func (s *sim) placeOrder(req types.OrderReq) types.OrderResp {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("SIM-%d", s.seq)
	s.orders[id] = types.Order{
		ID:        id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Qty:       req.Qty,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    types.StatusAcknowledged,
		PlacedAt:  time.Now(),
	}
	s.mu.Unlock()

	time.AfterFunc(s.fillAfter, func() { s.fill(id) })
	return types.OrderResp{OrderID: id, Status: "SIMULATED", Message: "dry-run"}
}

func (s *sim) fill(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Status.Terminal() {
		return
	}
	price := s.ltpLocked(o.Symbol)
	if o.Type == types.OrderTypeLimit && o.Price > 0 {
		price = o.Price
	}
	o.Status = types.StatusFilled
	o.FilledQty = o.Qty
	o.AvgFillPrice = price
	s.orders[id] = o

	p := s.positions[o.Symbol]
	p.Symbol = o.Symbol
	if o.Side == types.SideBuy {
		total := p.AvgPrice*float64(p.Qty) + price*float64(o.Qty)
		p.Qty += o.Qty
		p.AvgPrice = total / float64(p.Qty)
		s.cash -= price * float64(o.Qty)
	} else {
		p.Qty -= o.Qty
		s.cash += price * float64(o.Qty)
	}
	if p.Qty <= 0 {
		delete(s.positions, o.Symbol)
	} else {
		s.positions[o.Symbol] = p
	}
}

func (s *sim) cancelOrder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return types.NewBrokerError(types.KindBusiness, "cancel_order",
			fmt.Errorf("order %s not found", id))
	}
	if o.Status.Terminal() {
		return types.NewBrokerError(types.KindBusiness, "cancel_order",
			fmt.Errorf("order %s already %s", id, o.Status))
	}
	o.Status = types.StatusCancelled
	s.orders[id] = o
	return nil
}

func (s *sim) allOrders() []types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

func (s *sim) allPositions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

func (s *sim) balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}
