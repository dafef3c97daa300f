package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		ticker    Ticker
		wantFound bool
		wantY     int
		wantM     time.Month
		wantD     int
	}{
		{"KXBTC15M-26JAN09-T70375", true, 2026, time.January, 9},
		{"KXBTC15M-25DEC31-B50000", true, 2025, time.December, 31},
		{"no-date-here", false, 0, 0, 0},
	}
	for _, tt := range tests {
		date, found := tt.ticker.ParseExpiry()
		if found != tt.wantFound {
			t.Fatalf("ParseExpiry(%q) found = %v, want %v", tt.ticker, found, tt.wantFound)
		}
		if !found {
			continue
		}
		if date.Year() != tt.wantY || date.Month() != tt.wantM || date.Day() != tt.wantD {
			t.Errorf("ParseExpiry(%q) = %v, want %d-%s-%d", tt.ticker, date, tt.wantY, tt.wantM, tt.wantD)
		}
	}
}

func TestMarketEndAndPayoutTime(t *testing.T) {
	ticker := Ticker("KXBTC15M-26JAN09-T70375")
	end, ok := ticker.MarketEnd()
	if !ok {
		t.Fatal("MarketEnd() not found")
	}
	wantEnd := time.Date(2026, time.January, 10, 0, 0, 0, 0, end.Location())
	if !end.Equal(wantEnd) {
		t.Errorf("MarketEnd() = %v, want %v", end, wantEnd)
	}

	payout, ok := ticker.PayoutTime()
	if !ok {
		t.Fatal("PayoutTime() not found")
	}
	wantPayout := time.Date(2026, time.January, 10, 1, 0, 0, 0, payout.Location())
	if !payout.Equal(wantPayout) {
		t.Errorf("PayoutTime() = %v, want %v", payout, wantPayout)
	}
}

func TestStateMidAndSpreadWithNoAskFallback(t *testing.T) {
	yesAsk := 50
	noAsk := 52
	s := State{YesAsk: &yesAsk, NoAsk: &noAsk}

	mid, ok := s.Mid()
	if !ok {
		t.Fatal("Mid() not ok")
	}
	// yes_bid falls back to 100-no_ask = 48; mid = (48+50)/2 = 49
	if mid != 49 {
		t.Errorf("Mid() = %v, want 49", mid)
	}

	spread, ok := s.Spread()
	if !ok {
		t.Fatal("Spread() not ok")
	}
	if spread != 2 {
		t.Errorf("Spread() = %v, want 2", spread)
	}
}

func TestStateMidUnknown(t *testing.T) {
	s := State{}
	if _, ok := s.Mid(); ok {
		t.Error("Mid() should be not-ok with no prices known")
	}
}

func TestWalletSettlement(t *testing.T) {
	w := NewWallet(decimal.NewFromFloat(100))
	settleAt := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	w.AddUnsettled(decimal.NewFromFloat(10), settleAt)

	before := settleAt.Add(-time.Second)
	if released := w.CheckSettlements(before); !released.IsZero() {
		t.Errorf("CheckSettlements before settle time released %v, want 0", released)
	}
	if avail, _ := w.Available.Float64(); avail != 100 {
		t.Errorf("Available before settlement = %v, want 100", avail)
	}

	released := w.CheckSettlements(settleAt)
	releasedFloat, _ := released.Float64()
	if releasedFloat != 10 {
		t.Errorf("CheckSettlements at settle time released %v, want 10", releasedFloat)
	}
	avail, _ := w.Available.Float64()
	if avail != 110 {
		t.Errorf("Available after settlement = %v, want 110", avail)
	}
}

func TestWalletSpendOverdraft(t *testing.T) {
	w := NewWallet(decimal.NewFromFloat(5))
	if err := w.Spend(decimal.NewFromFloat(10)); err == nil {
		t.Error("Spend beyond available cash should error")
	}
	if err := w.Spend(decimal.NewFromFloat(5)); err != nil {
		t.Errorf("Spend exactly available cash should not error, got %v", err)
	}
}
