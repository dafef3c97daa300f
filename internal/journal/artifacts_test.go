package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

func TestJournalRoundTripToTradesCSV(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "session.jsonl")

	j, err := New(journalPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := j.Log(map[string]any{
		"type": "trade", "time": "2026-01-09T12:00:00Z", "ticker": "KXBTC15M-26JAN09-T70375",
		"side": "yes", "action": "BUY_YES", "price": 50, "quantity": 5, "fee_cents": 9,
		"order_id": "SIM_1", "filled": true, "dry_run": false, "limit_price": 50,
	}); err != nil {
		t.Fatalf("Log(trade): %v", err)
	}
	if err := j.Log(map[string]any{"type": "decision", "decision_id": 1, "ticker": "KXBTC15M-26JAN09-T70375", "decision_type": "keep"}); err != nil {
		t.Fatalf("Log(decision): %v", err)
	}

	events, err := ReadEvents(journalPath)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	tradesCSV := filepath.Join(dir, "unified_trades.csv")
	if err := WriteTradesCSV(tradesCSV, events); err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}

	f, err := os.Open(tradesCSV)
	if err != nil {
		t.Fatalf("opening written CSV: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading written CSV: %v", err)
	}
	if len(rows) != 2 { // header + one trade row (the decision event is excluded)
		t.Fatalf("len(rows) = %d, want 2 (header + 1 trade)", len(rows))
	}
	if rows[0][0] != "time" || rows[0][1] != "ticker" {
		t.Errorf("header row = %v, want columns starting with time, ticker", rows[0])
	}
	tickerCol := -1
	for i, c := range rows[0] {
		if c == "ticker" {
			tickerCol = i
		}
	}
	if rows[1][tickerCol] != "KXBTC15M-26JAN09-T70375" {
		t.Errorf("trade row ticker = %q, want KXBTC15M-26JAN09-T70375", rows[1][tickerCol])
	}
}

func TestWritePositionsJSONOmitsFlatPositions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unified_positions.json")

	positions := map[market.Ticker]market.Position{
		"KXBTC15M-26JAN09-T70375": {Yes: 3, No: 0, Cost: decimal.NewFromFloat(1.50)},
		"KXBTC15M-26JAN10-T70500": {Yes: 0, No: 0, Cost: decimal.Zero}, // fully netted, omitted
	}
	if err := WritePositionsJSON(path, decimal.NewFromFloat(98.50), positions); err != nil {
		t.Fatalf("WritePositionsJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written positions file: %v", err)
	}
	content := string(data)
	if !contains(content, "KXBTC15M-26JAN09-T70375") {
		t.Errorf("positions file missing the held ticker: %s", content)
	}
	if contains(content, "KXBTC15M-26JAN10-T70500") {
		t.Errorf("positions file should omit the fully-netted ticker: %s", content)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
