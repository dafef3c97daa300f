package strategy

import (
	"math"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/fees"
	"github.com/sdibella/kalshi-btc15m/internal/market"
)

const midWindowSize = 20

// MMConfig carries InventoryAwareMarketMaker's tunable knobs, the same
// defaults original_source/server_mirror/backtesting/strategies/v3_variants.py
// constructs RegimeSwitcher(...) with.
type MMConfig struct {
	MarginCents          float64
	ScalingFactor        float64
	MaxNotionalPct       float64
	MaxLossPct           float64
	MaxInventory         *int // nil = uncapped
	InventoryPenaltyScale float64
	Expiry               time.Duration
	// GateOnWarmup, when true, holds (returns Decision{Keep:true}) until the
	// mid window has 20 samples, instead of using the mean of however many
	// samples exist. See DESIGN.md Open Question O4: the non-gating policy
	// is canonical and is the default (false).
	GateOnWarmup bool
}

// DefaultMMConfig matches original_source/backtesting/engine.py's
// InventoryAwareMarketMaker.__init__ defaults.
func DefaultMMConfig() MMConfig {
	return MMConfig{
		MarginCents:           4.0,
		ScalingFactor:         4.0,
		MaxNotionalPct:        0.05,
		MaxLossPct:            0.02,
		MaxInventory:          intPtr(50),
		InventoryPenaltyScale: 200.0,
		Expiry:                15 * time.Second,
	}
}

func intPtr(v int) *int { return &v }

// InventoryAwareMarketMaker is the inner market maker of spec §4.3.2,
// grounded line-for-line on
// original_source/backtesting/engine.py's InventoryAwareMarketMaker.
type InventoryAwareMarketMaker struct {
	cfg MMConfig

	mids map[market.Ticker][]float64
}

// NewInventoryAwareMarketMaker builds a market maker with the given knobs.
func NewInventoryAwareMarketMaker(cfg MMConfig) *InventoryAwareMarketMaker {
	return &InventoryAwareMarketMaker{cfg: cfg, mids: make(map[market.Ticker][]float64)}
}

// OnMarketUpdate runs the 12-step algorithm of spec §4.3.2.
func (m *InventoryAwareMarketMaker) OnMarketUpdate(ticker market.Ticker, state market.State, t time.Time, inv market.Inventory, activeOrders []market.OpenOrder, cashDollars float64) Decision {
	// Step 1: require both sides, maintain rolling mid window.
	mid, ok := state.Mid()
	if !ok {
		return holdDecision("no_market_data")
	}

	window := append(m.mids[ticker], mid)
	if len(window) > midWindowSize {
		window = window[len(window)-midWindowSize:]
	}
	m.mids[ticker] = window

	if m.cfg.GateOnWarmup && len(window) < midWindowSize {
		return holdDecision("warmup")
	}

	// Step 2: fair probability.
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	fairProb := (sum / float64(len(window))) / 100.0

	// Step 3: candidate passive prices.
	priceYes := int(math.Floor(mid))
	priceNo := 100 - priceYes

	// Step 4: edges, YES preferred on tie.
	edgeYes := fairProb - float64(priceYes)/100.0
	edgeNo := (1 - fairProb) - float64(priceNo)/100.0

	var action market.Action
	var price int
	var edge float64
	switch {
	case edgeYes > 0:
		action, price, edge = market.ActionBuyYes, priceYes, edgeYes
	case edgeNo > 0:
		action, price, edge = market.ActionBuyNo, priceNo, edgeNo
	default:
		return holdDecision("no_edge")
	}

	// Step 5: fee gate using the continuous approximation.
	feePerContract := fees.ApproxFeePerContract(price)
	feeCents := feePerContract * 100.0
	requiredEdgeCents := feeCents + m.cfg.MarginCents
	edgeCents := edge * 100.0
	if edgeCents < requiredEdgeCents {
		return holdDecision("min_edge_fee_gate")
	}

	// Step 6.
	edgeAfterFee := edgeCents - feeCents - m.cfg.MarginCents
	if edgeAfterFee <= 0 {
		return holdDecision("edge_after_fee_negative")
	}

	// Step 7: sizing.
	scale := math.Min(1.0, edgeAfterFee/m.cfg.ScalingFactor)
	maxNotional := cashDollars * m.cfg.MaxNotionalPct
	maxLoss := cashDollars * m.cfg.MaxLossPct
	costUnit := float64(price)/100.0 + feePerContract
	if costUnit <= 0 {
		return holdDecision("degenerate_cost")
	}
	qtyByNotional := int(maxNotional / costUnit)
	qtyByLoss := int(maxLoss / costUnit)
	baseQty := qtyByNotional
	if qtyByLoss < baseQty {
		baseQty = qtyByLoss
	}
	if baseQty <= 0 {
		return holdDecision("zero_base_qty")
	}

	// Step 8: inventory room.
	currentInv := inv.Yes
	if action == market.ActionBuyNo {
		currentInv = inv.No
	}
	room := math.MaxInt32
	if m.cfg.MaxInventory != nil {
		room = *m.cfg.MaxInventory - currentInv
		if room <= 0 {
			return holdDecision("inventory_cap")
		}
	}
	invPenalty := 1.0 / (1.0 + float64(currentInv)/m.cfg.InventoryPenaltyScale)

	// Step 9.
	qty := int(float64(baseQty) * scale * invPenalty)
	if qty < 1 {
		qty = 1
	}
	if m.cfg.MaxInventory != nil && qty > room {
		qty = room
	}

	// Step 10: mandatory real-fee re-check (spec §9 — not optional).
	realFee := fees.ConvexFee(price, qty)
	realFeeFloat, _ := realFee.Float64()
	feeCentsReal := (realFeeFloat / float64(qty)) * 100.0
	edgeAfterFeeReal := edgeCents - feeCentsReal - m.cfg.MarginCents
	if edgeAfterFeeReal <= 0 {
		return holdDecision("real_fee_gate")
	}

	// Step 11: mutual exclusion.
	opposite := inv.No
	if action == market.ActionBuyNo {
		opposite = inv.Yes
	}
	if opposite > 0 {
		return holdDecision("mutual_exclusion")
	}

	// Step 12: emit exactly one order, priced at the far touch (the actual
	// ask, not the price_yes/price_no used for edge gating — resting at
	// mid rarely fills in a thin book), 15s expiry. original_source's
	// BUY_NO branch appends the same order dict twice — an apparent
	// copy-paste artifact, not replicated here (DESIGN.md Open Question
	// O5): this implementation always emits exactly one order.
	execPrice := price
	if action == market.ActionBuyYes && state.YesAsk != nil {
		execPrice = *state.YesAsk
	} else if action == market.ActionBuyNo && state.NoAsk != nil {
		execPrice = *state.NoAsk
	}
	return quoteDecision(DesiredOrder{
		Action: action,
		Price:  execPrice,
		Qty:    qty,
		Expiry: t.Add(m.cfg.Expiry),
		Source: "MM",
	}, "desired")
}

var _ MarketMaker = (*InventoryAwareMarketMaker)(nil)
