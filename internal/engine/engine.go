// Package engine implements the unified reconciliation loop: the single
// place where strategy decisions are turned into adapter calls. Grounded
// line-for-line on
// original_source/server_mirror/unified_engine/engine.py's UnifiedEngine.
package engine

import (
	"log/slog"
	"math"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/adapter"
	"github.com/sdibella/kalshi-btc15m/internal/journal"
	"github.com/sdibella/kalshi-btc15m/internal/market"
	"github.com/sdibella/kalshi-btc15m/internal/strategy"
)

// Config carries the reconciliation loop's tunable knobs, matching
// original_source's UnifiedEngine.__init__ defaults.
type Config struct {
	MinRequoteInterval  time.Duration
	AmendPriceTolerance int
	AmendQtyTolerance   int
	MinQuoteLifetime    time.Duration
	RepriceMinCents     int
	ResizeMinAbs        int
	ResizeMinRel        float64
	MaxActionsPerMinute int
	// TradeLiveWindow, when > 0, rejects ticks older than this window as
	// stale (spec §7's staleness gate). Zero disables the gate.
	TradeLiveWindow time.Duration
	// AllowWarmupOldTicks, when true, still runs the strategy (with zero
	// inventory, no active orders, zero cash) on a stale tick so rolling
	// windows warm up without ever placing an order; only meaningful when
	// TradeLiveWindow > 0.
	AllowWarmupOldTicks bool
	// MaxOrderAge, when > 0, force-cancels any resting order older than
	// this, independent of reconciliation.
	MaxOrderAge         time.Duration
	OpenRejectCooldown  time.Duration
	MetricInterval      time.Duration
	DiagEvery           int
}

// DefaultConfig matches original_source's UnifiedEngine defaults.
func DefaultConfig() Config {
	return Config{
		MinRequoteInterval:  2 * time.Second,
		MinQuoteLifetime:    2 * time.Second,
		RepriceMinCents:     2,
		ResizeMinAbs:        2,
		ResizeMinRel:        0.20,
		MaxActionsPerMinute: 6,
		OpenRejectCooldown:  15 * time.Second,
		MetricInterval:      30 * time.Second,
		DiagEvery:           1,
	}
}

// MetricsSink optionally mirrors the engine's periodic diagnostic as
// Prometheus gauges/counters (internal/metrics.Collector implements this).
type MetricsSink interface {
	ObserveTick(ticker string, cash float64, posYes, posNo, pendingYes, pendingNo, netInv, openOrders, buyYesOrders, buyNoOrders, actionsLast60s int, recentOpenReject bool)
}

// Engine is the single reconciliation loop driving one MarketMaker through
// one Adapter. Not safe for concurrent OnTick calls from multiple
// goroutines (spec §5: one reconciliation loop per process, ticks
// processed in arrival order).
type Engine struct {
	strategy strategy.MarketMaker
	adapter  adapter.Adapter
	cfg      Config
	logger   *slog.Logger
	jrnl     *journal.Journal
	metrics  MetricsSink

	lastRequoteTime map[market.Ticker]time.Time
	actionTimes     map[market.Ticker][]time.Time
	lastOpenReject  map[market.Ticker]time.Time
	lastMetricTime  map[market.Ticker]time.Time
	decisionSeq     int
	orderSeq        int
	staleSeq        int
}

// New builds a reconciliation loop. jrnl and metrics may be nil.
func New(mm strategy.MarketMaker, a adapter.Adapter, cfg Config, logger *slog.Logger, jrnl *journal.Journal, metrics MetricsSink) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiagEvery < 1 {
		cfg.DiagEvery = 1
	}
	return &Engine{
		strategy:        mm,
		adapter:         a,
		cfg:             cfg,
		logger:          logger,
		jrnl:            jrnl,
		metrics:         metrics,
		lastRequoteTime: make(map[market.Ticker]time.Time),
		actionTimes:     make(map[market.Ticker][]time.Time),
		lastOpenReject:  make(map[market.Ticker]time.Time),
		lastMetricTime:  make(map[market.Ticker]time.Time),
	}
}

func feeCentsApprox(priceCents int) float64 {
	p := float64(priceCents) / 100.0
	return 7.0 * p * (1.0 - p)
}

func (e *Engine) canAffordOpen(order strategy.DesiredOrder, cash float64) bool {
	feeCents := feeCentsApprox(order.Price)
	estCost := (float64(order.Qty) * (float64(order.Price) + feeCents)) / 100.0
	const buffer = 0.50
	return cash >= estCost+buffer
}

func isCloseAction(action market.Action, netInv int) bool {
	if netInv > 0 && action == market.ActionBuyNo {
		return true
	}
	if netInv < 0 && action == market.ActionBuyYes {
		return true
	}
	return false
}

func (e *Engine) canTakeAction(ticker market.Ticker, now time.Time) bool {
	if e.cfg.MaxActionsPerMinute <= 0 {
		return true
	}
	times := e.actionTimes[ticker]
	cutoff := now.Add(-60 * time.Second)
	kept := times[:0:0]
	for _, ts := range times {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.actionTimes[ticker] = kept
	return len(kept) < e.cfg.MaxActionsPerMinute
}

func (e *Engine) recordAction(ticker market.Ticker, now time.Time) {
	if e.cfg.MaxActionsPerMinute <= 0 {
		return
	}
	e.actionTimes[ticker] = append(e.actionTimes[ticker], now)
}

func (e *Engine) recentOpenReject(ticker market.Ticker, now time.Time) bool {
	last, ok := e.lastOpenReject[ticker]
	if !ok {
		return false
	}
	return now.Sub(last) < e.cfg.OpenRejectCooldown
}

func (e *Engine) emitDecision(tickTime time.Time, ticker market.Ticker, cash float64, posYes, posNo, pendingYes, pendingNo int, decisionType string, orders []strategy.DesiredOrder, reason string) {
	if e.jrnl == nil {
		return
	}
	e.decisionSeq++
	base := journal.Decision{
		Type:         "decision",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		DecisionID:   e.decisionSeq,
		TickTime:     tickTime.Format(time.RFC3339Nano),
		Ticker:       string(ticker),
		DecisionType: decisionType,
		Cash:         cash,
		PosYes:       posYes,
		PosNo:        posNo,
		PendingYes:   pendingYes,
		PendingNo:    pendingNo,
		Reason:       reason,
	}
	if decisionType != "desired" || len(orders) == 0 {
		if decisionType == "desired" {
			base.DecisionType = "empty"
		}
		_ = e.jrnl.Log(base)
		return
	}
	for idx, o := range orders {
		row := base
		row.OrderIndex = idx
		row.Action = string(o.Action)
		row.Price = o.Price
		row.Qty = o.Qty
		row.Source = o.Source
		_ = e.jrnl.Log(row)
	}
}

func (e *Engine) emitOrderLifecycle(tickTime time.Time, ticker market.Ticker, event string, o strategy.DesiredOrder, orderID string, cash float64, posYes, posNo, pendingYes, pendingNo int) {
	if e.jrnl == nil {
		return
	}
	e.orderSeq++
	_ = e.jrnl.Log(journal.OrderLifecycle{
		Type:       "order_lifecycle",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		OrderSeq:   e.orderSeq,
		TickTime:   tickTime.Format(time.RFC3339Nano),
		Ticker:     string(ticker),
		Event:      event,
		Action:     string(o.Action),
		Price:      o.Price,
		Qty:        o.Qty,
		OrderID:    orderID,
		Cash:       cash,
		PosYes:     posYes,
		PosNo:      posNo,
		PendingYes: pendingYes,
		PendingNo:  pendingNo,
		Source:     o.Source,
	})
}

// OnTick drives one reconciliation cycle for one ticker's latest market
// state, implementing spec §4.4's 13-step flow: process-tick fills,
// staleness gate, open-order fetch/normalize, inventory build, throttle
// check, strategy call, periodic METRIC diagnostic, decision emission,
// reconciliation, close-order protection, cancellation, and placement.
func (e *Engine) OnTick(ticker market.Ticker, state market.State, t time.Time) {
	e.adapter.ProcessTick(ticker, state, t)

	if e.cfg.TradeLiveWindow > 0 {
		lag := time.Since(t)
		if lag > e.cfg.TradeLiveWindow {
			e.staleSeq++
			if e.staleSeq%e.cfg.DiagEvery == 0 {
				e.logger.Info("STALE_TICK", "ticker", string(ticker), "lag_s", lag.Seconds(), "window_s", e.cfg.TradeLiveWindow.Seconds())
			}
			if !e.cfg.AllowWarmupOldTicks {
				return
			}
			e.runStrategySafely(ticker, state, t, market.Inventory{}, nil, 0)
			return
		}
	}

	rawOpenOrders := e.adapter.GetOpenOrders(ticker, state, t)

	var activeOrders []market.OpenOrder
	pendingYes, pendingNo := 0, 0
	for _, o := range rawOpenOrders {
		if o.RemainingQty <= 0 {
			continue
		}
		switch o.Status {
		case market.StatusExecuted, market.StatusCancelled, market.StatusExpired, market.StatusRejected:
			continue
		}
		if e.cfg.MaxOrderAge > 0 && !o.CreatedTime.IsZero() {
			age := t.Sub(o.CreatedTime)
			if age > e.cfg.MaxOrderAge {
				_ = e.adapter.CancelOrder(o.ID)
				e.recordAction(ticker, t)
				e.logger.Info("STALE_ORDER_CANCEL", "ticker", string(ticker), "order_id", o.ID, "age_s", age.Seconds())
				continue
			}
		}
		if o.Side == market.SideYes {
			pendingYes += o.RemainingQty
		} else {
			pendingNo += o.RemainingQty
		}
		activeOrders = append(activeOrders, o)
	}

	positions := e.adapter.GetPositions()
	pos := positions[ticker]
	inv := market.Inventory{Yes: pos.Yes + pendingYes, No: pos.No + pendingNo}

	if e.cfg.MinRequoteInterval > 0 {
		last := e.lastRequoteTime[ticker]
		if !last.IsZero() && t.Sub(last) < e.cfg.MinRequoteInterval {
			return
		}
	}

	cashDec := e.adapter.GetCash()
	cash, _ := cashDec.Float64()

	decision := e.strategy.OnMarketUpdate(ticker, state, t, inv, activeOrders, cash)

	if t.Sub(e.lastMetricTime[ticker]) >= e.cfg.MetricInterval {
		e.emitMetric(ticker, t, cash, pos, pendingYes, pendingNo, rawOpenOrders)
		e.lastMetricTime[ticker] = t
	}

	if decision.Keep {
		e.emitDecision(t, ticker, cash, pos.Yes, pos.No, pendingYes, pendingNo, "keep", nil, decision.Reason)
		return
	}

	e.lastRequoteTime[ticker] = t
	e.emitDecision(t, ticker, cash, pos.Yes, pos.No, pendingYes, pendingNo, "desired", decision.Orders, decision.Reason)

	e.reconcile(ticker, state, t, decision.Orders, activeOrders, inv, cash)
}

func (e *Engine) emitMetric(ticker market.Ticker, t time.Time, cash float64, pos market.Position, pendingYes, pendingNo int, rawOpenOrders []market.OpenOrder) {
	times := e.actionTimes[ticker]
	cutoff := t.Add(-60 * time.Second)
	actionsLast60s := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			actionsLast60s++
		}
	}
	buyYesOrders, buyNoOrders := 0, 0
	for _, o := range rawOpenOrders {
		if o.Action == market.ActionBuyYes {
			buyYesOrders++
		} else if o.Action == market.ActionBuyNo {
			buyNoOrders++
		}
	}
	netInv := (pos.Yes + pendingYes) - (pos.No + pendingNo)
	recentReject := e.recentOpenReject(ticker, t)

	e.logger.Info("METRIC",
		"ticker", string(ticker),
		"cash", cash,
		"pos_yes", pos.Yes,
		"pos_no", pos.No,
		"pending_yes", pendingYes,
		"pending_no", pendingNo,
		"net_inv", netInv,
		"actions_last_60s", actionsLast60s,
		"open_orders", len(rawOpenOrders),
		"buy_yes_orders", buyYesOrders,
		"buy_no_orders", buyNoOrders,
		"recent_open_reject", recentReject,
	)
	if e.metrics != nil {
		e.metrics.ObserveTick(string(ticker), cash, pos.Yes, pos.No, pendingYes, pendingNo, netInv, len(rawOpenOrders), buyYesOrders, buyNoOrders, actionsLast60s, recentReject)
	}
}

// runStrategySafely calls the strategy and discards both its result and any
// panic, mirroring original_source's warmup try/except pass: a strategy
// error on a stale warmup tick must never propagate into the tick loop.
func (e *Engine) runStrategySafely(ticker market.Ticker, state market.State, t time.Time, inv market.Inventory, activeOrders []market.OpenOrder, cash float64) {
	defer func() { _ = recover() }()
	_ = e.strategy.OnMarketUpdate(ticker, state, t, inv, activeOrders, cash)
}

func (e *Engine) reconcile(ticker market.Ticker, state market.State, t time.Time, desired []strategy.DesiredOrder, activeOrders []market.OpenOrder, inv market.Inventory, cash float64) {
	kept := make(map[string]bool, len(activeOrders))
	var unsatisfied []strategy.DesiredOrder

	amender, canAmend := e.adapter.(adapter.Amender)

	for _, want := range desired {
		matched := false
		for _, existing := range activeOrders {
			if kept[existing.ID] {
				continue
			}
			if existing.Action != want.Action {
				continue
			}
			isCloseExisting := existing.Source == "close"
			priceDiff := absInt(existing.PriceCents - want.Price)
			qtyDiff := absInt(existing.RemainingQty - want.Qty)
			orderAge := t.Sub(existing.CreatedTime)

			if !isCloseExisting && e.cfg.MinQuoteLifetime > 0 && orderAge < e.cfg.MinQuoteLifetime {
				kept[existing.ID] = true
				matched = true
				break
			}

			minPriceMove := e.cfg.RepriceMinCents
			minQtyFrac := e.cfg.ResizeMinRel
			minQtyAbs := e.cfg.ResizeMinAbs
			if isCloseExisting {
				minPriceMove = 1
				minQtyFrac = 0.10
				minQtyAbs = 1
			}
			minQtyChange := int(math.Ceil(minQtyFrac * math.Max(1, float64(existing.RemainingQty))))
			if minQtyChange < minQtyAbs {
				minQtyChange = minQtyAbs
			}
			if priceDiff < minPriceMove && qtyDiff < minQtyChange {
				kept[existing.ID] = true
				matched = true
				break
			}
			if priceDiff <= e.cfg.AmendPriceTolerance && qtyDiff <= e.cfg.AmendQtyTolerance {
				kept[existing.ID] = true
				matched = true
				break
			}
			if existing.PriceCents == want.Price && existing.RemainingQty == want.Qty {
				kept[existing.ID] = true
				matched = true
				break
			}
			if canAmend {
				if !e.canTakeAction(ticker, t) {
					kept[existing.ID] = true
					matched = true
					break
				}
				ok, _ := amender.AmendOrder(existing.ID, ticker, want.Action, want.Price, want.Qty)
				e.recordAction(ticker, t)
				e.emitOrderLifecycle(t, ticker, "amend", want, existing.ID, cash, inv.Yes, inv.No, 0, 0)
				if ok {
					kept[existing.ID] = true
					matched = true
					break
				}
			}
		}
		if !matched {
			unsatisfied = append(unsatisfied, want)
		}
	}

	netInv := inv.Yes - inv.No
	var closeAction market.Action
	switch {
	case netInv > 0:
		closeAction = market.ActionBuyNo
	case netInv < 0:
		closeAction = market.ActionBuyYes
	}

	for _, existing := range activeOrders {
		if kept[existing.ID] {
			continue
		}
		if closeAction != "" && existing.Action == closeAction {
			continue
		}
		if e.cfg.MinQuoteLifetime > 0 && t.Sub(existing.CreatedTime) < e.cfg.MinQuoteLifetime {
			continue
		}
		if !e.canTakeAction(ticker, t) {
			continue
		}
		_ = e.adapter.CancelOrder(existing.ID)
		e.recordAction(ticker, t)
		e.emitOrderLifecycle(t, ticker, "cancel", strategy.DesiredOrder{
			Action: existing.Action, Price: existing.PriceCents, Qty: existing.RemainingQty, Source: existing.Source,
		}, existing.ID, cash, inv.Yes, inv.No, 0, 0)
	}

	for _, order := range unsatisfied {
		isClose := isCloseAction(order.Action, netInv)
		if !isClose && e.recentOpenReject(ticker, t) {
			e.logger.Info("ORDER_SKIP", "ticker", string(ticker), "action", string(order.Action), "price", order.Price, "qty", order.Qty, "reason", "open_reject_cooldown")
			continue
		}
		if !isClose && !e.canAffordOpen(order, cash) {
			e.logger.Info("ORDER_SKIP", "ticker", string(ticker), "action", string(order.Action), "price", order.Price, "qty", order.Qty, "reason", "insufficient_cash_preflight")
			continue
		}
		if !e.canTakeAction(ticker, t) {
			continue
		}
		e.emitOrderLifecycle(t, ticker, "place_attempt", order, "", cash, inv.Yes, inv.No, 0, 0)
		result, err := e.adapter.PlaceOrder(adapter.Order{
			Action: order.Action,
			Ticker: ticker,
			Qty:    order.Qty,
			Price:  order.Price,
			Expiry: order.Expiry,
			Source: order.Source,
		}, state, t)
		e.recordAction(ticker, t)
		if !isClose && (err != nil || !result.Ok) {
			e.lastOpenReject[ticker] = t
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
