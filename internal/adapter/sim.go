package adapter

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/fees"
	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// TradeRecord is one fill, in the exact field shape spec §4.2.1/§6.3 names.
type TradeRecord struct {
	Time        time.Time
	Action      market.Action
	Ticker      market.Ticker
	Price       int
	Qty         int
	Fee         decimal.Decimal
	Cost        decimal.Decimal
	Source      string
	OrderID     string
	OrderTime   time.Time
	FillTime    time.Time
	FillDelayS  float64
	PlaceTime   time.Time
}

// restingOrder is a SimAdapter-internal order awaiting a fill.
type restingOrder struct {
	order   Order
	id      string
	readyAt time.Time
	placed  time.Time
	// rejected is set when a fill attempt was refused for cash.
	rejected bool
}

// overdraftLimit is the maximum the simulated cash ledger is allowed to go
// negative by before an open is rejected outright (spec §4.2.1/§8 invariant
// 2), modeling the near-real netting slack a live broker would tolerate.
var overdraftLimit = decimal.NewFromFloat(-10.0)

// SimAdapter is a deterministic fill engine used for backtests and shadow
// replays: fill-latency modeling, settlement, convex fees, and netting.
// Grounded line-for-line on
// original_source/server_mirror/unified_engine/adapters.py's SimAdapter.
type SimAdapter struct {
	mu sync.Mutex

	wallet    *market.Wallet
	positions map[market.Ticker]*market.Position
	resting   map[market.Ticker][]*restingOrder
	lastPrice map[market.Ticker]float64
	settled   map[market.Ticker]bool

	rng *rand.Rand

	fillLatency     time.Duration
	fillLatencySampler func(*rand.Rand) time.Duration
	fillProbPerSec  float64

	nextID int

	Trades []TradeRecord

	DiagLog func(event string, fields ...any)
}

// SimAdapterOption configures a SimAdapter at construction.
type SimAdapterOption func(*SimAdapter)

// WithFillLatency sets a constant latency applied to every order before it
// becomes fillable.
func WithFillLatency(d time.Duration) SimAdapterOption {
	return func(s *SimAdapter) { s.fillLatency = d }
}

// WithFillLatencySampler sets a latency sampled per order from an injected
// distribution, overriding WithFillLatency.
func WithFillLatencySampler(f func(*rand.Rand) time.Duration) SimAdapterOption {
	return func(s *SimAdapter) { s.fillLatencySampler = f }
}

// WithFillProbPerMinute sets the per-minute probability that a resting order
// fills passively when the last print crosses its price; converted
// internally to a per-second probability.
func WithFillProbPerMinute(p float64) SimAdapterOption {
	return func(s *SimAdapter) { s.fillProbPerSec = p / 60.0 }
}

// NewSimAdapter builds a simulator seeded with initial cash and positions.
// seed fixes the RNG so two runs over the same tick file, snapshot, and
// seed are byte-identical (spec invariant 9).
func NewSimAdapter(initialCash decimal.Decimal, initialPositions map[market.Ticker]market.Position, seed int64, opts ...SimAdapterOption) *SimAdapter {
	positions := make(map[market.Ticker]*market.Position, len(initialPositions))
	for k, v := range initialPositions {
		p := v
		positions[k] = &p
	}
	s := &SimAdapter{
		wallet:    market.NewWallet(initialCash),
		positions: positions,
		resting:   make(map[market.Ticker][]*restingOrder),
		lastPrice: make(map[market.Ticker]float64),
		settled:   make(map[market.Ticker]bool),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimAdapter) nextOrderID() string {
	s.nextID++
	return fmt.Sprintf("SIM_%s", uuid.NewString())
}

// ProcessTick updates the last-known price for the ticker and attempts to
// fill every resting order against it.
func (s *SimAdapter) ProcessTick(ticker market.Ticker, state market.State, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mid, ok := state.Mid(); ok {
		s.lastPrice[ticker] = mid
	}

	s.fillRestingOrdersLocked(ticker, state, t)
}

func (s *SimAdapter) fillRestingOrdersLocked(ticker market.Ticker, state market.State, t time.Time) {
	orders := s.resting[ticker]
	if len(orders) == 0 {
		return
	}
	var kept []*restingOrder
	for _, ro := range orders {
		if s.maybeFillLocked(ro, state, t) {
			continue
		}
		kept = append(kept, ro)
	}
	s.resting[ticker] = kept
}

// maybeFillLocked applies the two fill rules of spec §4.2.1, in order. Both
// rules are gated by ReadyAt: this implementation follows spec.md's
// explicit text ("a queued ready_at... must be reached before any fill")
// rather than the Python source, whose marketable-cross branch fills
// immediately regardless of latency (see DESIGN.md Open Question O1).
func (s *SimAdapter) maybeFillLocked(ro *restingOrder, state market.State, t time.Time) bool {
	if t.Before(ro.readyAt) {
		return false
	}

	order := ro.order

	// Rule 1: marketable cross.
	if order.Action == BuyYes && state.YesAsk != nil && order.Price >= *state.YesAsk {
		s.fillLocked(ro, *state.YesAsk, t)
		return true
	}
	if order.Action == BuyNo && state.NoAsk != nil && order.Price >= *state.NoAsk {
		s.fillLocked(ro, *state.NoAsk, t)
		return true
	}

	// Rule 2: passive capture through last trade.
	lastPrice, ok := s.lastPrice[order.Ticker]
	if !ok || s.fillProbPerSec <= 0 {
		return false
	}
	if s.rng.Float64() >= s.fillProbPerSec {
		return false
	}
	if order.Action == BuyYes && lastPrice <= float64(order.Price) {
		s.fillLocked(ro, int(lastPrice), t)
		return true
	}
	if order.Action == BuyNo {
		impliedYesAsk := 100 - float64(order.Price)
		if lastPrice >= impliedYesAsk {
			s.fillLocked(ro, int(100-lastPrice), t)
			return true
		}
	}
	return false
}

// fillLocked executes an accepted fill at fillPriceCents: fee, cash
// ledger, overdraft check, position update, YES/NO netting, and trade
// record emission. Caller holds s.mu.
func (s *SimAdapter) fillLocked(ro *restingOrder, fillPriceCents int, fillTime time.Time) {
	order := ro.order
	qty := order.Qty
	fee := fees.ConvexFee(fillPriceCents, qty)
	notional := decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromInt(int64(fillPriceCents))).Div(decimal.NewFromInt(100))
	cost := notional.Add(fee)

	pos, ok := s.positions[order.Ticker]
	if !ok {
		pos = &market.Position{}
		s.positions[order.Ticker] = pos
	}

	oppositeQty := pos.No
	if order.Action == BuyNo {
		oppositeQty = pos.Yes
	}

	if s.wallet.Available.Sub(cost).LessThan(overdraftLimit) && oppositeQty < qty {
		s.emitTrade(TradeRecord{
			Time: fillTime, Action: order.Action, Ticker: order.Ticker,
			Price: fillPriceCents, Qty: qty, Fee: fee, Cost: cost,
			Source: "SIM_REJECT", OrderID: ro.id, OrderTime: ro.placed,
			FillTime: fillTime, PlaceTime: ro.placed,
		})
		ro.rejected = true
		return
	}

	s.wallet.Available = s.wallet.Available.Sub(cost)
	pos.Cost = pos.Cost.Add(cost)

	if order.Action == BuyYes {
		pos.Yes += qty
	} else {
		pos.No += qty
	}

	netted := pos.Yes
	if pos.No < netted {
		netted = pos.No
	}
	if netted > 0 {
		pos.Yes -= netted
		pos.No -= netted
		s.wallet.Available = s.wallet.Available.Add(decimal.NewFromInt(int64(netted)))
	}

	delay := fillTime.Sub(ro.placed).Seconds()
	s.emitTrade(TradeRecord{
		Time: fillTime, Action: order.Action, Ticker: order.Ticker,
		Price: fillPriceCents, Qty: qty, Fee: fee, Cost: cost,
		Source: "SIM", OrderID: ro.id, OrderTime: ro.placed,
		FillTime: fillTime, FillDelayS: delay, PlaceTime: ro.placed,
	})
}

func (s *SimAdapter) emitTrade(tr TradeRecord) {
	s.Trades = append(s.Trades, tr)
	if s.DiagLog != nil {
		s.DiagLog("TRADE", "ticker", tr.Ticker, "action", tr.Action, "price", tr.Price,
			"qty", tr.Qty, "fee", tr.Fee.String(), "source", tr.Source)
	}
}

func (s *SimAdapter) GetOpenOrders(ticker market.Ticker, state market.State, t time.Time) []market.OpenOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []market.OpenOrder
	for _, ro := range s.resting[ticker] {
		var readyAt *time.Time
		ra := ro.readyAt
		readyAt = &ra
		side := market.SideYes
		if ro.order.Action == BuyNo {
			side = market.SideNo
		}
		out = append(out, market.OpenOrder{
			ID: ro.id, Ticker: ro.order.Ticker, Side: side, Action: ro.order.Action,
			PriceCents: ro.order.Price, RemainingQty: ro.order.Qty, Status: market.StatusResting,
			CreatedTime: ro.placed, ReadyAt: readyAt, Source: ro.order.Source,
		})
	}
	return out
}

func (s *SimAdapter) CancelOrder(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticker, orders := range s.resting {
		for i, ro := range orders {
			if ro.id == orderID {
				s.resting[ticker] = append(orders[:i], orders[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("order %s not found", orderID)
}

func (s *SimAdapter) latencyFor(order Order) time.Duration {
	if s.fillLatencySampler != nil {
		return s.fillLatencySampler(s.rng)
	}
	return s.fillLatency
}

// PlaceOrder queues the order with a ready_at, attempts an immediate fill,
// and otherwise leaves it resting.
func (s *SimAdapter) PlaceOrder(order Order, state market.State, t time.Time) (OrderResult, error) {
	s.mu.Lock()
	id := s.nextOrderID()
	ro := &restingOrder{order: order, id: id, placed: t, readyAt: t.Add(s.latencyFor(order))}
	filled := s.maybeFillLocked(ro, state, t)
	if !filled {
		s.resting[order.Ticker] = append(s.resting[order.Ticker], ro)
	}
	s.mu.Unlock()

	status := StatusResting
	filledQty := 0
	ok := true
	if filled && ro.rejected {
		status = StatusRejectedCash
		ok = false
	} else if filled {
		status = StatusExecuted
		filledQty = order.Qty
	}
	return OrderResult{Ok: ok, Filled: filledQty, Status: status, ID: id}, nil
}

func (s *SimAdapter) GetPositions() map[market.Ticker]market.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[market.Ticker]market.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = *v
	}
	return out
}

func (s *SimAdapter) GetCash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet.Available
}

// SettleMarket credits the ticker's YES/NO holdings at settlementPriceCents
// and removes the position. Idempotent per session: settling an
// already-settled ticker is a no-op (spec invariant 4).
func (s *SimAdapter) SettleMarket(ticker market.Ticker, settlementPriceCents int, t time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled[ticker] {
		return 0, nil
	}
	pos, ok := s.positions[ticker]
	if !ok {
		s.settled[ticker] = true
		return 0, nil
	}

	sp := decimal.NewFromInt(int64(settlementPriceCents)).Div(decimal.NewFromInt(100))
	payout := decimal.NewFromInt(int64(pos.Yes)).Mul(sp).
		Add(decimal.NewFromInt(int64(pos.No)).Mul(decimal.NewFromInt(1).Sub(sp)))

	s.wallet.Available = s.wallet.Available.Add(payout)
	delete(s.positions, ticker)
	s.settled[ticker] = true

	payoutFloat, _ := payout.Float64()
	if s.DiagLog != nil {
		s.DiagLog("SETTLE", "ticker", ticker, "price", settlementPriceCents, "payout", payoutFloat)
	}
	return payoutFloat, nil
}

var _ Adapter = (*SimAdapter)(nil)
var _ Settler = (*SimAdapter)(nil)
