// Package ticksource iterates market ticks for the unified engine, either
// replaying CSV market-data logs in batch or tailing a live log file.
// Grounded on
// original_source/server_mirror/unified_engine/tick_sources.py, using
// encoding/csv the way the teacher's CSV readers (e.g.
// chidi150c-coinbase's backtest.go loadCSV) do rather than a dataframe
// library.
package ticksource

import (
	"strconv"
	"strings"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// Tick is one normalized market observation ready for engine.OnTick.
type Tick struct {
	Ticker market.Ticker
	State  market.State
	Time   time.Time
	Seq    int
	Source string
	Row    int
}

func parsePtr(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v := int(f)
	return &v
}

func first(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// TickerFromRow extracts the ticker column, trying both the teacher's raw
// market-data naming and the backtest-log renamed column.
func TickerFromRow(row map[string]string) market.Ticker {
	return market.Ticker(first(row, "ticker", "market_ticker"))
}

func buildState(row map[string]string) market.State {
	return market.State{
		YesAsk: parsePtr(first(row, "yes_ask", "implied_yes_ask")),
		NoAsk:  parsePtr(first(row, "no_ask", "implied_no_ask")),
		YesBid: parsePtr(first(row, "yes_bid", "best_yes_bid")),
		NoBid:  parsePtr(first(row, "no_bid", "best_no_bid")),
	}
}
