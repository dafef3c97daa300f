package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/strategy"
)

// Policy is a versioned, JSON-file-loaded strategy-knob bundle, modeled on
// Funky1981-jax-trading-assistant's libs/risk/policy.go pattern
// (LoadPolicy/DefaultPolicy/version hash), so the source's v3_variants.py
// factory functions become data instead of code.
type Policy struct {
	MarginCents          float64 `json:"margin_cents"`
	ScalingFactor        float64 `json:"scaling_factor"`
	MaxNotionalPct       float64 `json:"max_notional_pct"`
	MaxLossPct           float64 `json:"max_loss_pct"`
	MaxInventory         int     `json:"max_inventory"`
	InventoryPenaltyScale float64 `json:"inventory_penalty_scale"`
	TightnessPercentile  int     `json:"tightness_percentile"`
	ActiveHours          []int   `json:"active_hours,omitempty"`

	LoadedFrom string    `json:"-"`
	LoadedAt   time.Time `json:"-"`
	Version    string    `json:"-"`
}

// DefaultPolicy mirrors strategy.DefaultMMConfig/DefaultRegimeConfig,
// expressed as data rather than Go constructors, used when no policy file
// is given or the named file is absent.
func DefaultPolicy() *Policy {
	mm := strategy.DefaultMMConfig()
	rc := strategy.DefaultRegimeConfig()
	maxInv := 0
	if mm.MaxInventory != nil {
		maxInv = *mm.MaxInventory
	}
	p := &Policy{
		MarginCents:           mm.MarginCents,
		ScalingFactor:         mm.ScalingFactor,
		MaxNotionalPct:        mm.MaxNotionalPct,
		MaxLossPct:            mm.MaxLossPct,
		MaxInventory:          maxInv,
		InventoryPenaltyScale: mm.InventoryPenaltyScale,
		TightnessPercentile:   rc.TightnessPercentile,
		LoadedAt:              time.Now().UTC(),
	}
	b, _ := json.Marshal(p)
	p.Version = policyVersion(b)
	return p
}

// LoadPolicy reads path as a JSON policy file, falling back to
// DefaultPolicy when path is empty or the file does not exist.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("config: read policy file %q: %w", path, err)
	}
	p := *DefaultPolicy()
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse policy file %q: %w", path, err)
	}
	p.LoadedFrom = path
	p.LoadedAt = time.Now().UTC()
	p.Version = policyVersion(data)
	return &p, nil
}

// MMConfig converts the policy into an strategy.MMConfig.
func (p *Policy) MMConfig() strategy.MMConfig {
	cfg := strategy.DefaultMMConfig()
	cfg.MarginCents = p.MarginCents
	cfg.ScalingFactor = p.ScalingFactor
	cfg.MaxNotionalPct = p.MaxNotionalPct
	cfg.MaxLossPct = p.MaxLossPct
	cfg.InventoryPenaltyScale = p.InventoryPenaltyScale
	if p.MaxInventory > 0 {
		v := p.MaxInventory
		cfg.MaxInventory = &v
	} else {
		cfg.MaxInventory = nil
	}
	return cfg
}

// RegimeConfig converts the policy into a strategy.RegimeConfig.
func (p *Policy) RegimeConfig() strategy.RegimeConfig {
	return strategy.RegimeConfig{
		TightnessPercentile: p.TightnessPercentile,
		ActiveHours:         p.ActiveHours,
	}
}

// policyVersion returns a short deterministic identifier for the policy
// JSON, for audit labelling only (not a security hash).
func policyVersion(data []byte) string {
	h := uint64(14695981039346656037)
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return fmt.Sprintf("v%x", h&0xffffffffffff)
}
