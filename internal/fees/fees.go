// Package fees implements the convex per-contract fee and the
// settlement-price snap shared by the strategy, adapter, and engine
// packages. Ticker-to-expiry parsing lives on market.Ticker.
package fees

import (
	"math"

	"github.com/shopspring/decimal"
)

// ConvexFee returns the exchange fee in dollars for a fill of qty contracts
// at priceCents: ceil(0.07 * qty * p * (1-p) * 100) / 100 where p =
// priceCents/100. This is the real, ceiled fee used for cash accounting —
// see ApproxFeePerContract for the continuous approximation used in gating.
func ConvexFee(priceCents, qty int) decimal.Decimal {
	p := float64(priceCents) / 100.0
	raw := 0.07 * float64(qty) * p * (1 - p) * 100.0
	cents := math.Ceil(raw)
	return decimal.NewFromFloat(cents / 100.0)
}

// ApproxFeePerContract returns the continuous per-contract fee
// approximation in dollars, 0.07*p*(1-p), used only for gating and sizing.
// Cash accounting always uses ConvexFee on the real quantity; spec §9
// requires re-checking sizing with the real fee before accepting a fill.
func ApproxFeePerContract(priceCents int) float64 {
	p := float64(priceCents) / 100.0
	return 0.07 * p * (1 - p)
}

// SnapSettlement returns the settlement price in cents given a last-known
// mid: 100 if mid >= 99, 0 if mid <= 1, else the mid rounded to the nearest
// cent.
func SnapSettlement(midCents float64) int {
	if midCents >= 99 {
		return 100
	}
	if midCents <= 1 {
		return 0
	}
	return int(math.Round(midCents))
}
