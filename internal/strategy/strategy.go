package strategy

import (
	"math"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// Signal represents an entry signal for a market, carried over from the
// teacher's own BTC15M strategy.
type Signal struct {
	Side       market.Side
	LimitPrice int // price in cents to place limit order at
	RefAsk     int // the ask price that triggered the signal
}

// Evaluate determines whether to trade based on orderbook prices.
// Threshold 80c filters for high-confidence markets. Limit at the ask
// price for immediate taker fill. Grounded verbatim on the teacher's
// internal/strategy/strategy.go Evaluate function.
func Evaluate(yesBid, yesAsk int) Signal {
	const threshold = 80
	if yesAsk >= threshold {
		return Signal{Side: market.SideYes, LimitPrice: yesAsk, RefAsk: yesAsk}
	}
	noAsk := 100 - yesBid
	if noAsk >= threshold {
		return Signal{Side: market.SideNo, LimitPrice: noAsk, RefAsk: noAsk}
	}
	return Signal{}
}

// InEntryWindow returns true in the last 4 minutes before close, the
// teacher's single-shot entry window.
func InEntryWindow(secsUntilClose float64) bool {
	return secsUntilClose > 0 && secsUntilClose <= 240
}

// AssumedWinRate is the backtest win rate used for Kelly sizing, carried
// over from the teacher's constant. KellyScalper prefers a live
// BayesianPosterior.Mean() when one is wired in, falling back to this
// constant otherwise.
const AssumedWinRate = 0.935

// KellySize computes the quarter-Kelly contract count at the teacher's
// fixed AssumedWinRate, grounded verbatim on the teacher's
// internal/strategy/strategy.go KellySize.
func KellySize(limitPrice, balanceCents int) int {
	return KellySizeWithWinRate(limitPrice, balanceCents, AssumedWinRate)
}

// KellySizeWithWinRate is KellySize generalized to an arbitrary assumed win
// rate, so a BayesianPosterior's posterior mean can replace the teacher's
// hardcoded constant without duplicating the formula.
func KellySizeWithWinRate(limitPrice, balanceCents int, winRate float64) int {
	if limitPrice <= 0 || limitPrice >= 100 || balanceCents <= 0 {
		return 0
	}

	entry := float64(limitPrice)
	fee := 0.07 * math.Min(entry, 100-entry)
	winProfit := 100 - entry - fee
	lossAmount := entry + fee

	if winProfit <= 0 || lossAmount <= 0 {
		return 0
	}

	p := winRate
	q := 1 - p
	b := winProfit / lossAmount
	kelly := p - (q / b)

	if kelly <= 0 {
		return 0
	}

	quarterKelly := 0.25 * kelly
	costPerContract := entry + fee
	contracts := int(math.Floor(quarterKelly * float64(balanceCents) / costPerContract))

	if contracts < 1 {
		return 0
	}
	return contracts
}

// TakerFee computes the Kalshi taker fee in cents for contracts at
// priceCents, the integer-cents sibling of fees.ConvexFee.
func TakerFee(contracts, priceCents int) int {
	p := float64(priceCents) / 100.0
	fee := 0.07 * float64(contracts) * p * (1 - p) * 100.0
	return int(math.Ceil(fee))
}

// ComputePnL computes the P&L in cents for a settled position.
func ComputePnL(won bool, entryPrice, contracts, feeCents int) int {
	if won {
		return (100-entryPrice)*contracts - feeCents
	}
	return -(entryPrice*contracts + feeCents)
}

// KellyScalper is an enrichment strategy distinct from the canonical
// RegimeSwitcher/InventoryAwareMarketMaker pair: a single-shot, high-
// confidence directional bet placed once inside a market's last four
// minutes, sized by quarter-Kelly against AssumedWinRate, or against the
// posterior mean when a BayesianPosterior is wired in.
// It is selectable via --strategy kelly but is never the default.
// Adapted from the teacher's internal/strategy/strategy.go Engine, whose
// own market-discovery/websocket/journal loop is dropped in favor of the
// unified engine driving this struct the same way it drives the canonical
// market maker (see DESIGN.md "Dropped / not wired").
type KellyScalper struct {
	evaluated map[market.Ticker]bool
	traded    map[market.Ticker]bool

	// posterior, when non-nil, supplies the Kelly win-rate estimate in
	// place of AssumedWinRate. It changes only through UpdateWithTrades,
	// which nothing in this module calls.
	posterior *BayesianPosterior
}

// NewKellyScalper builds a scalper using the teacher's fixed AssumedWinRate
// and no volatility gate.
func NewKellyScalper() *KellyScalper {
	return &KellyScalper{
		evaluated: make(map[market.Ticker]bool),
		traded:    make(map[market.Ticker]bool),
	}
}

// NewKellyScalperWithPosterior builds a scalper sized off a live Bayesian
// win-rate posterior. A nil posterior falls back to the fixed constant.
func NewKellyScalperWithPosterior(posterior *BayesianPosterior) *KellyScalper {
	return &KellyScalper{
		evaluated: make(map[market.Ticker]bool),
		traded:    make(map[market.Ticker]bool),
		posterior: posterior,
	}
}

// OnMarketUpdate evaluates once per ticker, inside the entry window, and
// never re-evaluates or re-trades a ticker in the same session.
func (k *KellyScalper) OnMarketUpdate(ticker market.Ticker, state market.State, t time.Time, inv market.Inventory, activeOrders []market.OpenOrder, cashDollars float64) Decision {
	if k.evaluated[ticker] || k.traded[ticker] {
		return holdDecision("already_evaluated")
	}

	end, ok := ticker.MarketEnd()
	if !ok {
		return holdDecision("unparseable_ticker")
	}
	secsUntilClose := end.Sub(t).Seconds()
	if !InEntryWindow(secsUntilClose) {
		return holdDecision("outside_entry_window")
	}

	if state.YesBid == nil || state.YesAsk == nil {
		return holdDecision("no_market_data")
	}
	yesBid, yesAsk := *state.YesBid, *state.YesAsk
	if yesBid == 0 || yesAsk == 100 {
		return holdDecision("empty_book")
	}

	k.evaluated[ticker] = true

	sig := Evaluate(yesBid, yesAsk)
	if sig.Side == "" {
		return holdDecision("below_threshold")
	}

	winRate := AssumedWinRate
	if k.posterior != nil {
		winRate = k.posterior.Mean()
	}

	balanceCents := int(cashDollars * 100.0)
	contracts := KellySizeWithWinRate(sig.LimitPrice, balanceCents, winRate)
	if contracts == 0 {
		return holdDecision("kelly_no_bet")
	}

	action := market.ActionBuyYes
	if sig.Side == market.SideNo {
		action = market.ActionBuyNo
	}

	k.traded[ticker] = true

	return quoteDecision(DesiredOrder{
		Action: action,
		Price:  sig.LimitPrice,
		Qty:    contracts,
		Expiry: t.Add(30 * time.Second),
		Source: "KELLY",
	}, "signal")
}

var _ MarketMaker = (*KellyScalper)(nil)
