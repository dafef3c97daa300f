package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// Variant bundles a RegimeConfig and MMConfig under a name, mirroring the
// factory functions of
// original_source/server_mirror/backtesting/strategies/v3_variants.py,
// re-expressed as named, composable config values rather than Python
// factory functions.
type Variant struct {
	Name   string
	Regime RegimeConfig
	MM     MMConfig
}

// Variants are the named knob combinations carried over from the source's
// sweep variants, selectable by name via the --strategy flag.
var Variants = map[string]Variant{
	"baseline": {
		Name:   "baseline",
		Regime: DefaultRegimeConfig(),
		MM:     DefaultMMConfig(),
	},
	"looser_gates_more_trades": {
		Name:   "looser_gates_more_trades",
		Regime: RegimeConfig{TightnessPercentile: 30},
		MM:     withMargin(DefaultMMConfig(), 2.0),
	},
	"tighter_gates_fewer_trades": {
		Name:   "tighter_gates_fewer_trades",
		Regime: RegimeConfig{TightnessPercentile: 10},
		MM:     withMargin(DefaultMMConfig(), 6.0),
	},
	"higher_budget_same_edges": {
		Name:   "higher_budget_same_edges",
		Regime: DefaultRegimeConfig(),
		MM:     withBudget(DefaultMMConfig(), 0.10, 0.04),
	},
	"conservative_sizing": {
		Name:   "conservative_sizing",
		Regime: DefaultRegimeConfig(),
		MM:     withBudget(DefaultMMConfig(), 0.03, 0.02),
	},
	"closer": {
		Name:   "closer",
		Regime: RegimeConfig{TightnessPercentile: 20, ActiveHours: []int{21, 22, 23}},
		MM:     DefaultMMConfig(),
	},
}

func withMargin(cfg MMConfig, margin float64) MMConfig {
	cfg.MarginCents = margin
	return cfg
}

func withBudget(cfg MMConfig, notionalPct, lossPct float64) MMConfig {
	cfg.MaxNotionalPct = notionalPct
	cfg.MaxLossPct = lossPct
	return cfg
}

// RegimeSwitcherOption is a function type for adapting a DynamicMM to the
// live spread width. The hybrid and smooth variants below do not use it;
// they adjust margin/tightness through DynamicMM's own adjust function.
type RegimeSwitcherOption func(*DynamicMM, float64)

// DynamicMM wraps an InventoryAwareMarketMaker whose MarginCents and
// TightnessPercentile mutate per tick based on the observed spread,
// grounded on the source's HybridRegimeSwitcher/SmoothRegimeSwitcher.
type DynamicMM struct {
	inner  *InventoryAwareMarketMaker
	regime *RegimeSwitcher
	adjust func(spreadCents float64, mm *MMConfig, regime *RegimeConfig)
}

// NewHybridVariant swaps margin/tightness between two presets based on
// whether the live spread exceeds a threshold, grounded on the source's
// HybridRegimeSwitcher.
func NewHybridVariant(wideThresholdCents float64) *DynamicMM {
	narrow := DefaultMMConfig()
	wide := withMargin(DefaultMMConfig(), 8.0)
	inner := NewInventoryAwareMarketMaker(narrow)
	regime := NewRegimeSwitcher(DefaultRegimeConfig(), inner)
	return &DynamicMM{
		inner:  inner,
		regime: regime,
		adjust: func(spreadCents float64, mm *MMConfig, rc *RegimeConfig) {
			if spreadCents > wideThresholdCents {
				*mm = wide
				rc.TightnessPercentile = 45
			} else {
				*mm = narrow
				rc.TightnessPercentile = 20
			}
		},
	}
}

// NewSmoothVariant scales margin linearly with the observed spread,
// grounded on the source's SmoothRegimeSwitcher.
func NewSmoothVariant(baseMargin, spreadFactor float64) *DynamicMM {
	cfg := withMargin(DefaultMMConfig(), baseMargin)
	inner := NewInventoryAwareMarketMaker(cfg)
	regime := NewRegimeSwitcher(DefaultRegimeConfig(), inner)
	return &DynamicMM{
		inner:  inner,
		regime: regime,
		adjust: func(spreadCents float64, mm *MMConfig, rc *RegimeConfig) {
			mm.MarginCents = baseMargin + spreadCents*spreadFactor
		},
	}
}

func (d *DynamicMM) OnMarketUpdate(ticker market.Ticker, state market.State, t time.Time, inv market.Inventory, activeOrders []market.OpenOrder, cashDollars float64) Decision {
	if spread, ok := state.Spread(); ok {
		d.adjust(spread, &d.inner.cfg, &d.regime.cfg)
	}
	return d.regime.OnMarketUpdate(ticker, state, t, inv, activeOrders, cashDollars)
}

var _ MarketMaker = (*DynamicMM)(nil)

// ResolveVariant builds a ready-to-use RegimeSwitcher (or DynamicMM) from a
// variant name, as used by the --strategy CLI flag.
func ResolveVariant(name string) (MarketMaker, error) {
	switch name {
	case "hybrid":
		return NewHybridVariant(6.0), nil
	case "smooth":
		return NewSmoothVariant(2.0, 0.5), nil
	}
	v, ok := Variants[name]
	if !ok {
		names := make([]string, 0, len(Variants)+2)
		for n := range Variants {
			names = append(names, n)
		}
		names = append(names, "hybrid", "smooth")
		sort.Strings(names)
		return nil, fmt.Errorf("unknown strategy variant %q (known: %v)", name, names)
	}
	inner := NewInventoryAwareMarketMaker(v.MM)
	return NewRegimeSwitcher(v.Regime, inner), nil
}
