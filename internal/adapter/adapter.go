// Package adapter implements the broker adapter abstraction: a uniform
// interface for open orders, place/cancel/amend, positions, and cash, with
// a deterministic simulator and a signed live-HTTP implementation.
package adapter

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// Order is an order the engine wants placed or cancelled.
type Order struct {
	Action Action
	Ticker market.Ticker
	Qty    int
	Price  int // cents
	Expiry time.Time
	Source string
}

type Action = market.Action

const (
	BuyYes = market.ActionBuyYes
	BuyNo  = market.ActionBuyNo
)

// ResultStatus is the outcome of a PlaceOrder call.
type ResultStatus string

const (
	StatusExecuted     ResultStatus = "executed"
	StatusResting      ResultStatus = "resting"
	StatusRejectedCash ResultStatus = "rejected_cash"
	StatusError        ResultStatus = "error"
	StatusException    ResultStatus = "exception"
)

// OrderResult is the outcome of PlaceOrder: whether the call itself
// succeeded (Ok), how much filled immediately, and the resulting status.
type OrderResult struct {
	Ok     bool
	Filled int
	Status ResultStatus
	ID     string
}

// Adapter is the uniform broker interface every strategy-engine
// reconciliation cycle is driven through; SimAdapter and LiveAdapter both
// satisfy it.
type Adapter interface {
	// ProcessTick gives the adapter a chance to fill resting orders (sim)
	// or refresh caches (live) before the engine reads orders/positions.
	ProcessTick(ticker market.Ticker, state market.State, t time.Time)

	// GetOpenOrders returns only open/resting orders with remaining
	// quantity and non-terminal status.
	GetOpenOrders(ticker market.Ticker, state market.State, t time.Time) []market.OpenOrder

	CancelOrder(orderID string) error

	PlaceOrder(order Order, state market.State, t time.Time) (OrderResult, error)

	GetPositions() map[market.Ticker]market.Position

	// GetCash returns currently spendable cash, in dollars.
	GetCash() decimal.Decimal
}

// Amender is an optional capability: adapters that support in-place order
// repricing implement it.
type Amender interface {
	AmendOrder(orderID string, ticker market.Ticker, action Action, priceCents, qty int) (bool, error)
}

// Settler is an optional capability: adapters that can finalize a market's
// settlement implement it.
type Settler interface {
	SettleMarket(ticker market.Ticker, settlementPriceCents int, t time.Time) (float64, error)
}
