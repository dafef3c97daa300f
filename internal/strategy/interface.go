package strategy

import (
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// DesiredOrder is one order a strategy wants working.
type DesiredOrder struct {
	Action market.Action
	Price  int // cents
	Qty    int
	Expiry time.Time
	Source string
}

// Decision is the three-way result of OnMarketUpdate: Keep=true means "hold
// current orders" (Orders is nil); Keep=false with an empty non-nil Orders
// slice means "cancel all"; Keep=false with a populated slice is the new
// desired set.
type Decision struct {
	Keep   bool
	Orders []DesiredOrder
	Reason string
}

func holdDecision(reason string) Decision { return Decision{Keep: true, Reason: reason} }
func cancelDecision(reason string) Decision {
	return Decision{Keep: false, Orders: []DesiredOrder{}, Reason: reason}
}
func quoteDecision(order DesiredOrder, reason string) Decision {
	return Decision{Keep: false, Orders: []DesiredOrder{order}, Reason: reason}
}

// MarketMaker produces desired orders from market state, per-ticker
// inventory, active orders, and spendable cash. RegimeSwitcher and the
// Kelly-sized scalper both implement it so the unified engine drives either
// identically.
type MarketMaker interface {
	OnMarketUpdate(ticker market.Ticker, state market.State, t time.Time, inv market.Inventory, activeOrders []market.OpenOrder, cashDollars float64) Decision
}
