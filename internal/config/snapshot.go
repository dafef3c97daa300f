package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// LoadSnapshot reads a resumable session snapshot (spec §6.2):
// {timestamp, balance, daily_start_equity, positions: {ticker:{yes,no,cost}},
// strategy_config?}. YES/NO on the same ticker are loaded as-is, never
// auto-netted (Open Question O8: netting on load would silently destroy
// information a hand-authored snapshot might carry; the adapter nets only
// when a later fill adds to a ticker).
func LoadSnapshot(path string) (*market.PortfolioSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %q: %w", path, err)
	}
	var snap market.PortfolioSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %q: %w", path, err)
	}
	return &snap, nil
}

// snapshotTimeLayouts are tried in order; spec §6.2 documents
// "YYYY-MM-DD HH:MM:SS" as the snapshot's timestamp format, but RFC3339
// variants are accepted too, like cmd/engine's --start-ts/--end-ts parsing.
var snapshotTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
	time.RFC3339,
}

// SnapshotTime parses the snapshot's timestamp field, defaulting to now if
// it is empty or malformed.
func SnapshotTime(snap *market.PortfolioSnapshot) time.Time {
	if snap == nil || snap.Timestamp == "" {
		return time.Now()
	}
	for _, layout := range snapshotTimeLayouts {
		if t, err := time.Parse(layout, snap.Timestamp); err == nil {
			return t
		}
	}
	return time.Now()
}

// SnapshotPositions converts a snapshot's JSON position map into
// market.Position values keyed by market.Ticker, for seeding an adapter.
func SnapshotPositions(snap *market.PortfolioSnapshot) map[market.Ticker]market.Position {
	out := make(map[market.Ticker]market.Position, len(snap.Positions))
	for ticker, p := range snap.Positions {
		out[market.Ticker(ticker)] = market.Position{
			Yes:  p.Yes,
			No:   p.No,
			Cost: decimal.NewFromFloat(p.Cost),
		}
	}
	return out
}
