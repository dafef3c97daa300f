// Package market holds the data model shared by the strategy, adapter, and
// engine packages: tickers, per-tick market state, positions, open orders,
// the cash wallet, and the JSON snapshot format used to resume a session.
package market

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is an opaque market identifier that encodes an expiry date as a
// 7-character YYMONDD token somewhere in its dash-separated segments, e.g.
// "KXBTC15M-26JAN09-T70375".
type Ticker string

var dateTokenRe = regexp.MustCompile(`^\d{2}[A-Za-z]{3}\d{2}$`)

type expiryCacheEntry struct {
	date  time.Time
	found bool
}

var (
	expiryCacheMu sync.Mutex
	expiryCache   = map[Ticker]expiryCacheEntry{}
)

// ParseExpiry splits the ticker on '-' and finds the first 7-character token
// whose first two characters are digits, parsing it as YYMONDD. Results are
// memoized per ticker.
func (t Ticker) ParseExpiry() (time.Time, bool) {
	expiryCacheMu.Lock()
	if entry, ok := expiryCache[t]; ok {
		expiryCacheMu.Unlock()
		return entry.date, entry.found
	}
	expiryCacheMu.Unlock()

	var date time.Time
	found := false
	for _, part := range strings.Split(string(t), "-") {
		if len(part) != 7 {
			continue
		}
		if !dateTokenRe.MatchString(part) {
			continue
		}
		parsed, err := time.Parse("06Jan02", capitalizeMonth(part))
		if err != nil {
			continue
		}
		date = parsed
		found = true
		break
	}

	expiryCacheMu.Lock()
	expiryCache[t] = expiryCacheEntry{date: date, found: found}
	expiryCacheMu.Unlock()
	return date, found
}

// capitalizeMonth normalizes "26JAN09" into "26Jan09" for time.Parse, whose
// reference layout expects a title-cased month abbreviation.
func capitalizeMonth(tok string) string {
	if len(tok) != 7 {
		return tok
	}
	return tok[:2] + strings.ToUpper(tok[2:3]) + strings.ToLower(tok[3:5]) + tok[5:]
}

// MarketEnd returns 00:00 the day after the ticker's encoded date.
func (t Ticker) MarketEnd() (time.Time, bool) {
	date, ok := t.ParseExpiry()
	if !ok {
		return time.Time{}, false
	}
	end := time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, date.Location())
	return end, true
}

// PayoutTime returns 01:00 the day after the ticker's encoded date — when
// settlement cash becomes spendable.
func (t Ticker) PayoutTime() (time.Time, bool) {
	date, ok := t.ParseExpiry()
	if !ok {
		return time.Time{}, false
	}
	payout := time.Date(date.Year(), date.Month(), date.Day()+1, 1, 0, 0, 0, date.Location())
	return payout, true
}

// State is a single tick's order-book snapshot for one ticker, prices in
// cents. Nil means unknown.
type State struct {
	YesBid *int
	YesAsk *int
	NoBid  *int
	NoAsk  *int
}

// effectiveYesBid returns YesBid, falling back to 100-NoAsk when YesBid is
// unknown but NoAsk is known.
func (s State) effectiveYesBid() (int, bool) {
	if s.YesBid != nil {
		return *s.YesBid, true
	}
	if s.NoAsk != nil {
		return 100 - *s.NoAsk, true
	}
	return 0, false
}

// Mid returns (yes_bid + yes_ask) / 2, or false if either side is unknown.
func (s State) Mid() (float64, bool) {
	bid, ok := s.effectiveYesBid()
	if !ok || s.YesAsk == nil {
		return 0, false
	}
	return float64(bid+*s.YesAsk) / 2.0, true
}

// Spread returns yes_ask - yes_bid, or false if either side is unknown.
func (s State) Spread() (float64, bool) {
	bid, ok := s.effectiveYesBid()
	if !ok || s.YesAsk == nil {
		return 0, false
	}
	return float64(*s.YesAsk - bid), true
}

// Side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Action an order takes.
type Action string

const (
	ActionBuyYes Action = "BUY_YES"
	ActionBuyNo  Action = "BUY_NO"
)

// Status of an order through its lifecycle.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResting   Status = "resting"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRejected  Status = "rejected"
)

// Inventory is a ticker's held-plus-pending YES/NO contract count.
type Inventory struct {
	Yes int
	No  int
}

// OpenOrder is a single resting or working order against the broker (or the
// simulator standing in for one).
type OpenOrder struct {
	ID           string
	Ticker       Ticker
	Side         Side
	Action       Action
	PriceCents   int
	RemainingQty int
	Status       Status
	CreatedTime  time.Time
	ReadyAt      *time.Time
	Source       string // copied from the placing order's Source (e.g. "MM"); "close" marks a close-only order
}

// Position is a ticker's held (filled) YES/NO quantity and dollar cost
// basis. The mutual-exclusion and 1:1-netting invariants are enforced by
// the adapter that owns the position, never by callers.
type Position struct {
	Yes  int
	No   int
	Cost decimal.Decimal
}

// pendingPayout is an unsettled credit waiting for its settle time.
type pendingPayout struct {
	Amount    decimal.Decimal
	SettleAt  time.Time
}

// Wallet tracks available cash plus a queue of payouts not yet spendable.
type Wallet struct {
	mu        sync.Mutex
	Available decimal.Decimal
	unsettled []pendingPayout
}

// NewWallet creates a wallet seeded with the given starting cash.
func NewWallet(initial decimal.Decimal) *Wallet {
	return &Wallet{Available: initial}
}

// Spend deducts amount from available cash. Returns an error if amount
// exceeds available cash by more than a sub-cent tolerance; callers that
// want to allow overdraft (the simulator's $10 allowance) must check
// affordability themselves before calling Spend.
func (w *Wallet) Spend(amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	tolerance := decimal.NewFromFloat(0.0001)
	if amount.GreaterThan(w.Available.Add(tolerance)) {
		return fmt.Errorf("insufficient cash: have %s, need %s", w.Available.String(), amount.String())
	}
	w.Available = w.Available.Sub(amount)
	return nil
}

// AddCash credits available cash immediately (e.g. netting proceeds).
func (w *Wallet) AddCash(amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Available = w.Available.Add(amount)
}

// AddUnsettled queues a payout that becomes spendable at settleAt.
func (w *Wallet) AddUnsettled(amount decimal.Decimal, settleAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsettled = append(w.unsettled, pendingPayout{Amount: amount, SettleAt: settleAt})
}

// CheckSettlements releases every queued payout whose settle time has
// passed into available cash, returning the total released.
func (w *Wallet) CheckSettlements(t time.Time) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	released := decimal.Zero
	remaining := w.unsettled[:0]
	for _, p := range w.unsettled {
		if !p.SettleAt.After(t) {
			released = released.Add(p.Amount)
			continue
		}
		remaining = append(remaining, p)
	}
	w.unsettled = remaining
	w.Available = w.Available.Add(released)
	return released
}

// GetTotalEquity returns available cash plus all unsettled payouts,
// regardless of settle time.
func (w *Wallet) GetTotalEquity() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.Available
	for _, p := range w.unsettled {
		total = total.Add(p.Amount)
	}
	return total
}

// PositionSnapshot is the JSON shape of one ticker's position in a
// PortfolioSnapshot.
type PositionSnapshot struct {
	Yes  int     `json:"yes"`
	No   int     `json:"no"`
	Cost float64 `json:"cost"`
}

// StrategyConfigOverride carries optional per-session knob overrides from a
// snapshot file.
type StrategyConfigOverride struct {
	RiskPct              *float64 `json:"risk_pct,omitempty"`
	TightnessPercentile  *int     `json:"tightness_percentile,omitempty"`
}

// PortfolioSnapshot is the resumable session state format (spec §6.2).
type PortfolioSnapshot struct {
	Timestamp        string                      `json:"timestamp"`
	Balance          float64                     `json:"balance"`
	DailyStartEquity float64                     `json:"daily_start_equity"`
	Positions        map[string]PositionSnapshot  `json:"positions"`
	StrategyConfig   *StrategyConfigOverride      `json:"strategy_config,omitempty"`
}
